// Package hub composes the Home Assistant session, the climate table and the
// command builders into the surface consumed by the console, the HTTP API,
// metrics and the MQTT bridge.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"climatesync/internal/climate"
	"climatesync/internal/clock"
	"climatesync/internal/ha"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// ErrAlreadyStarted is returned by Start on a running hub.
var ErrAlreadyStarted = errors.New("hub already started")

// Config configures a Hub.
type Config struct {
	URL                string
	Token              string
	RequestTimeout     time.Duration
	ReconnectDelay     time.Duration
	PingInterval       time.Duration
	RetryOnAuthFailure bool
	InsecureSkipVerify bool
	Include            []string
	Clock              clock.Clock
}

// Hub keeps a live mirror of every climate entity in Home Assistant and
// forwards control commands to it.
type Hub struct {
	cfg        Config
	logger     *zap.Logger
	clock      clock.Clock
	session    *ha.Session
	reconciler *climate.Reconciler

	subMu   sync.RWMutex
	subs    map[uint64]Handler
	nextSub uint64

	connected atomic.Bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped hub.
func New(cfg Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		clock:      cfg.Clock,
		reconciler: climate.NewReconciler(climate.NewFilter(cfg.Include, logger), logger.Named("reconciler")),
		subs:       make(map[uint64]Handler),
	}

	events := sessionEvents{h}
	h.session = ha.NewSession(ha.SessionConfig{
		URL:                cfg.URL,
		Token:              cfg.Token,
		RequestTimeout:     cfg.RequestTimeout,
		PingInterval:       cfg.PingInterval,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Clock:              cfg.Clock,
	}, events, events, logger.Named("session"))

	return h
}

// Subscribe registers handler for every future notification.
func (h *Hub) Subscribe(handler Handler) Subscription {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.nextSub++
	h.subs[h.nextSub] = handler
	return Subscription{hub: h, id: h.nextSub}
}

// Start connects in the background and keeps reconnecting, with a fixed
// delay between attempts, until ctx is cancelled or Stop is called. A
// rejected token ends the loop unless RetryOnAuthFailure is set. After a
// Stop, Start first waits for the previous loop to release its connection.
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.cancel != nil {
		return ErrAlreadyStarted
	}
	if h.done != nil {
		<-h.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	h.logger.Info("Starting climate hub",
		zap.String("url", h.cfg.URL),
		zap.Duration("reconnect_delay", h.cfg.ReconnectDelay),
		zap.Strings("include", h.cfg.Include))

	go h.run(runCtx, h.done)
	return nil
}

// Stop disconnects immediately. Requests in flight fail with
// ha.ErrConnectionClosed. Use Done to wait for the background loop.
func (h *Hub) Stop() {
	h.runMu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	h.session.Disconnect()
	h.logger.Info("Stopping climate hub")
}

// Done is closed once the background loop has exited. Before Start it
// returns nil.
func (h *Hub) Done() <-chan struct{} {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.done
}

func (h *Hub) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := h.session.Connect(ctx); err == nil {
			closed := h.session.Done()
			select {
			case <-closed:
			case <-ctx.Done():
				h.session.Disconnect()
				<-closed
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := h.session.Err(); errors.Is(err, ha.ErrAuthInvalid) && !h.cfg.RetryOnAuthFailure {
			h.logger.Error("Not reconnecting after authentication failure", zap.Error(err))
			return
		}

		h.logger.Info("Reconnecting", zap.Duration("delay", h.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-h.clock.After(h.cfg.ReconnectDelay):
		}
	}
}

// Connected reports whether the hub is authenticated with Home Assistant.
func (h *Hub) Connected() bool {
	return h.connected.Load()
}

// SessionState returns the handshake state of the current connection.
func (h *Hub) SessionState() ha.SessionState {
	return h.session.State()
}

// Entities returns a copy of every known climate entity ordered by id.
func (h *Hub) Entities() []*climate.State {
	states := h.reconciler.Entities()
	for i, s := range states {
		states[i] = climate.Outward(s)
	}
	return states
}

// Entity returns a copy of one entity. Lookups are case-insensitive.
func (h *Hub) Entity(entityID string) (*climate.State, bool) {
	s, ok := h.reconciler.Get(entityID)
	if !ok {
		return nil, false
	}
	return climate.Outward(s), true
}

// Len returns the number of known entities.
func (h *Hub) Len() int {
	return h.reconciler.Len()
}

// SetMode sets the HVAC mode. "auto" is sent as "heat_cool".
func (h *Hub) SetMode(entityID, mode string) error {
	return h.command(entityID, func(*climate.State) climate.Command {
		return climate.SetHvacMode(mode)
	})
}

// SetFanMode sets the fan mode.
func (h *Hub) SetFanMode(entityID, mode string) error {
	return h.command(entityID, func(*climate.State) climate.Command {
		return climate.SetFanMode(mode)
	})
}

// SetPresetMode sets the preset mode.
func (h *Hub) SetPresetMode(entityID, preset string) error {
	return h.command(entityID, func(*climate.State) climate.Command {
		return climate.SetPresetMode(preset)
	})
}

// SetSingleSetpoint sets the target temperature, clamped to the entity's
// bounds and rounded to its step.
func (h *Hub) SetSingleSetpoint(entityID string, value float64) error {
	return h.command(entityID, func(s *climate.State) climate.Command {
		return climate.SetTemperature(s, value)
	})
}

// SetHeatCoolRange sets the heat and cool setpoints in one call.
func (h *Hub) SetHeatCoolRange(entityID string, heat, cool float64) error {
	return h.command(entityID, func(s *climate.State) climate.Command {
		return climate.SetTemperatureRange(s, heat, cool)
	})
}

// TurnOn turns the entity on.
func (h *Hub) TurnOn(entityID string) error {
	return h.command(entityID, func(*climate.State) climate.Command {
		return climate.TurnOn()
	})
}

// TurnOff turns the entity off.
func (h *Hub) TurnOff(entityID string) error {
	return h.command(entityID, func(*climate.State) climate.Command {
		return climate.TurnOff()
	})
}

// command sends a service call without waiting for its result. Commands for
// entities that are not in the table are dropped without error.
func (h *Hub) command(entityID string, build func(*climate.State) climate.Command) error {
	s, ok := h.reconciler.Get(entityID)
	if !ok {
		h.logger.Debug("Dropping command for unknown entity", zap.String("entity_id", entityID))
		return nil
	}

	cmd := build(s)
	req := ha.NewCallService(h.session.NextID(), climate.Domain, cmd.Service, s.EntityID, cmd.Data)
	if err := h.session.Send(req); err != nil {
		return fmt.Errorf("failed to call %s.%s for %s: %w", climate.Domain, cmd.Service, s.EntityID, err)
	}

	h.logger.Debug("Sent climate command",
		zap.String("entity_id", s.EntityID),
		zap.String("service", cmd.Service),
		zap.Int64("msg_id", req.ID),
		zap.Any("data", cmd.Data))
	return nil
}

func (h *Hub) publish(n Notification) {
	h.subMu.RLock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, handler := range h.subs {
		handlers = append(handlers, handler)
	}
	h.subMu.RUnlock()

	for _, handler := range handlers {
		handler(n)
	}
}

func (h *Hub) publishChanges(changes []climate.Change) {
	for _, c := range changes {
		n := Notification{EntityID: c.EntityID, State: climate.Outward(c.State)}
		switch c.Kind {
		case climate.Added:
			n.Kind = KindEntityAdded
		case climate.Changed:
			n.Kind = KindEntityChanged
		case climate.Removed:
			n.Kind = KindEntityRemoved
		}
		h.publish(n)
	}
}

// sessionEvents adapts the hub to the session's Observer and Dispatcher.
type sessionEvents struct {
	h *Hub
}

func (e sessionEvents) Connected() {
	e.h.connected.Store(true)
	e.h.publish(Notification{Kind: KindConnected})
}

func (e sessionEvents) Disconnected() {
	e.h.connected.Store(false)
	e.h.publish(Notification{Kind: KindDisconnected})
}

func (e sessionEvents) Error(msg string) {
	e.h.publish(Notification{Kind: KindError, Message: msg})
}

func (e sessionEvents) HandleSnapshot(states []*ha.State) {
	changes := e.h.reconciler.ApplySnapshot(states)
	e.h.logger.Info("Synchronised climate entities",
		zap.Int("entities", e.h.reconciler.Len()),
		zap.Int("changes", len(changes)))
	e.h.publishChanges(changes)
}

func (e sessionEvents) HandleStateChanged(entityID string, newState *ha.State) {
	e.h.publishChanges(e.h.reconciler.ApplyEvent(entityID, newState))
}
