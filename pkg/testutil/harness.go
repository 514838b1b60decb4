package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"climatesync/internal/ha"
	"climatesync/internal/hub"

	"go.uber.org/zap"
)

// TestToken is the access token accepted by environments from NewTestEnv.
const TestToken = "test_token"

// NotificationLog records hub notifications for later assertions.
type NotificationLog struct {
	mu    sync.Mutex
	items []hub.Notification
}

// Record appends n. It has the hub.Handler signature.
func (l *NotificationLog) Record(n hub.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
}

// All returns every recorded notification in delivery order.
func (l *NotificationLog) All() []hub.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hub.Notification(nil), l.items...)
}

// Count returns how many notifications of kind were recorded, optionally
// restricted to one entity.
func (l *NotificationLog) Count(kind hub.Kind, entityID string) int {
	n := 0
	for _, item := range l.All() {
		if item.Kind == kind && (entityID == "" || item.EntityID == entityID) {
			n++
		}
	}
	return n
}

// Last returns the most recent notification of kind for entityID.
func (l *NotificationLog) Last(kind hub.Kind, entityID string) (hub.Notification, bool) {
	items := l.All()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == kind && (entityID == "" || items[i].EntityID == entityID) {
			return items[i], true
		}
	}
	return hub.Notification{}, false
}

// Reset forgets everything recorded so far.
func (l *NotificationLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}

// TestEnv is a mock Home Assistant with a running hub connected to it.
type TestEnv struct {
	Server        *MockHAServer
	Hub           *hub.Hub
	Notifications *NotificationLog
	Logger        *zap.Logger
}

// NewTestEnv starts a mock server seeded by InitializeStates, starts a hub
// against it and waits until the initial sync has completed. configure may
// adjust the hub configuration before the hub is created.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(nil)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(configure func(*hub.Config)) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer(TestToken)
	server.InitializeStates()

	cfg := hub.Config{
		URL:            server.URL(),
		Token:          TestToken,
		RequestTimeout: 5 * time.Second,
		ReconnectDelay: 50 * time.Millisecond,
	}
	if configure != nil {
		configure(&cfg)
	}

	h := hub.New(cfg, logger)
	log := &NotificationLog{}
	h.Subscribe(log.Record)

	if err := h.Start(context.Background()); err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to start hub: %w", err)
	}

	env := &TestEnv{Server: server, Hub: h, Notifications: log, Logger: logger}
	if err := env.WaitReady(5 * time.Second); err != nil {
		env.Cleanup()
		return nil, err
	}
	return env, nil
}

// WaitReady blocks until the hub's session has finished its initial sync.
func (e *TestEnv) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.Hub.SessionState() == ha.StateReady {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("hub not ready after %s (state %s)", timeout, e.Hub.SessionState())
}

// Cleanup stops the hub and the server.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Hub != nil {
		e.Hub.Stop()
		if done := e.Hub.Done(); done != nil {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
		}
	}
	if e.Server != nil {
		e.Server.Close()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}
