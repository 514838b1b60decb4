// Package mqttbridge mirrors the hub's climate table onto MQTT topics.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"climatesync/internal/climate"
	"climatesync/internal/hub"

	"go.uber.org/zap"
)

// Availability payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultQueueSize is how many publishes may wait for the broker before new
// ones are dropped.
const DefaultQueueSize = 256

// StatusTopic is where the bridge's availability is published.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// StateTopic is where one entity's state is published.
func StateTopic(prefix, entityID string) string {
	return fmt.Sprintf("%s/%s/state", prefix, entityID)
}

// Source is the part of the hub the bridge mirrors.
type Source interface {
	Subscribe(handler hub.Handler) hub.Subscription
	Entities() []*climate.State
}

type outbound struct {
	topic   string
	payload []byte
}

// Bridge publishes retained entity state as hub notifications arrive.
// Notifications are queued and published from a worker goroutine, so a slow
// broker never holds up the hub.
type Bridge struct {
	pub    Publisher
	prefix string
	qos    byte
	logger *zap.Logger
	sub    hub.Subscription

	queue   chan outbound
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// New creates a bridge writing under prefix.
func New(pub Publisher, prefix string, qos byte, logger *zap.Logger) *Bridge {
	return NewWithQueue(pub, prefix, qos, DefaultQueueSize, logger)
}

// NewWithQueue creates a bridge whose pending-publish queue holds size
// messages.
func NewWithQueue(pub Publisher, prefix string, qos byte, size int, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		qos:    qos,
		logger: logger,
		queue:  make(chan outbound, size),
		quit:   make(chan struct{}),
	}
}

// Start publishes every known entity and then follows src.
func (b *Bridge) Start(src Source) {
	b.wg.Add(1)
	go b.worker()

	b.sub = src.Subscribe(b.Handle)
	for _, s := range src.Entities() {
		b.enqueueState(s)
	}
}

// Stop unsubscribes, publishes whatever is still queued and closes the
// publisher.
func (b *Bridge) Stop() error {
	b.sub.Unsubscribe()
	b.once.Do(func() { close(b.quit) })
	b.wg.Wait()
	return b.pub.Close()
}

// Dropped returns how many publishes were discarded because the queue was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Handle queues the effect of one notification. It never blocks.
func (b *Bridge) Handle(n hub.Notification) {
	switch n.Kind {
	case hub.KindEntityAdded, hub.KindEntityChanged:
		if n.State != nil {
			b.enqueueState(n.State)
		}
	case hub.KindEntityRemoved:
		// An empty retained message clears the topic on the broker.
		b.enqueue(outbound{topic: StateTopic(b.prefix, n.EntityID)})
	}
}

func (b *Bridge) enqueueState(s *climate.State) {
	payload, err := json.Marshal(s)
	if err != nil {
		b.logger.Error("Failed to encode climate state", zap.String("entity_id", s.EntityID), zap.Error(err))
		return
	}
	b.enqueue(outbound{topic: StateTopic(b.prefix, s.EntityID), payload: payload})
}

func (b *Bridge) enqueue(m outbound) {
	select {
	case <-b.quit:
		return
	default:
	}

	select {
	case b.queue <- m:
	default:
		b.dropped.Add(1)
		b.logger.Warn("MQTT queue full, dropping publish", zap.String("topic", m.topic))
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case m := <-b.queue:
			b.publish(m)
		case <-b.quit:
			for {
				select {
				case m := <-b.queue:
					b.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(m outbound) {
	if err := b.pub.Publish(m.topic, b.qos, true, m.payload); err != nil {
		b.logger.Warn("MQTT publish failed", zap.String("topic", m.topic), zap.Error(err))
	}
}
