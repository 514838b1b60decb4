package ha

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"climatesync/internal/clock"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	// Snapshots of large installations easily exceed the default limit.
	maxMessageSize = 64 << 20
)

// SessionState is the handshake state of the current connection.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateAwaitingAuth
	StateAuthenticated
	StateSubscribing
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer receives connection lifecycle notifications. Callbacks run on
// session goroutines and must not block.
type Observer interface {
	Connected()
	Disconnected()
	Error(msg string)
}

// Dispatcher receives entity payloads. HandleSnapshot is called once per
// connection with the get_states result, before the state_changed
// subscription is requested; HandleStateChanged is called from the receive
// loop in arrival order.
type Dispatcher interface {
	HandleSnapshot(states []*State)
	HandleStateChanged(entityID string, newState *State)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL                string
	Token              string
	RequestTimeout     time.Duration
	PingInterval       time.Duration
	InsecureSkipVerify bool
	Clock              clock.Clock
}

// connection is one physical websocket and the goroutines serving it.
type connection struct {
	ws      *websocket.Conn
	id      string
	state   atomic.Int32
	done    chan struct{}
	cancel  context.CancelFunc
	closing atomic.Bool

	errMu sync.Mutex
	err   error
}

func (c *connection) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *connection) cause() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Session owns the single websocket connection to Home Assistant: it dials,
// authenticates, keeps the state_changed subscription alive for the life of
// the connection and routes every inbound frame to the Correlator or the
// Dispatcher. All transport faults are reported to the Observer.
type Session struct {
	cfg        SessionConfig
	logger     *zap.Logger
	dialer     *websocket.Dialer
	correlator *Correlator
	dispatcher Dispatcher
	observer   Observer

	mu         sync.Mutex
	current    *connection
	connecting bool
	lastErr    error

	writeMu sync.Mutex
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, dispatcher Dispatcher, observer Observer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
		correlator: NewCorrelator(cfg.RequestTimeout, cfg.Clock, logger),
		dispatcher: dispatcher,
		observer:   observer,
	}
}

// Connect dials the hub and starts the receive loop. Authentication and the
// initial sync continue asynchronously; the Observer is told about the
// outcome. A dial failure is reported as Error followed by Disconnected and
// is also returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil || s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connecting = true
	s.mu.Unlock()

	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("Failed to connect to Home Assistant", zap.String("url", s.cfg.URL), zap.Error(err))
		s.observer.Error(fmt.Sprintf("connect failed: %v", err))
		s.observer.Disconnected()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &connection{
		ws:     ws,
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	c.state.Store(int32(StateAwaitingAuth))

	s.mu.Lock()
	s.connecting = false
	s.current = c
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("Connected to Home Assistant, awaiting auth",
		zap.String("url", s.cfg.URL),
		zap.String("session_id", c.id))

	go s.receive(loopCtx, c)
	if s.cfg.PingInterval > 0 {
		go s.keepalive(loopCtx, c)
	}
	return nil
}

// Disconnect closes the connection if one is open. Requests in flight fail
// with ErrConnectionClosed immediately; Disconnected is raised by the
// receive loop once it has exited. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil || c.closing.Swap(true) {
		return
	}

	c.cancel()
	s.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	c.ws.Close()

	// Once teardown has released c, pending requests may already belong to
	// the next connection.
	s.mu.Lock()
	if s.current == c {
		s.correlator.FailAll(ErrConnectionClosed)
	}
	s.mu.Unlock()
	s.logger.Info("Disconnecting from Home Assistant", zap.String("session_id", c.id))
}

// Done returns a channel that is closed when the current connection has
// been torn down. With no connection the returned channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.current.done
}

// Err returns why the last connection ended, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// State returns the handshake state of the current connection.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return StateDisconnected
	}
	return SessionState(s.current.state.Load())
}

// NextID returns the next correlation id.
func (s *Session) NextID() int64 {
	return s.correlator.NextID()
}

// Pending returns the number of requests awaiting a result.
func (s *Session) Pending() int {
	return s.correlator.Pending()
}

// Send writes msg without waiting for its result. Sending is only possible
// once the connection is authenticated; otherwise "send while closed" is
// reported and no I/O happens.
func (s *Session) Send(msg interface{}) error {
	c, err := s.authenticated()
	if err != nil {
		return err
	}
	return s.write(c, msg)
}

// Request writes req and waits for the matching result frame, the request
// timeout, ctx, or the connection closing, whichever comes first.
func (s *Session) Request(ctx context.Context, req Request) (json.RawMessage, error) {
	c, err := s.authenticated()
	if err != nil {
		return nil, err
	}
	return s.request(ctx, c, req)
}

func (s *Session) authenticated() (*connection, error) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil || c.closing.Load() || SessionState(c.state.Load()) < StateAuthenticated {
		s.observer.Error(ErrNotConnected.Error())
		return nil, ErrNotConnected
	}
	return c, nil
}

func (s *Session) request(ctx context.Context, c *connection, req Request) (json.RawMessage, error) {
	id := req.MessageID()
	ch := s.correlator.Register(id)

	if err := s.write(c, req); err != nil {
		s.correlator.Fail(id, err)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.Payload, res.Err
	case <-ctx.Done():
		s.correlator.Fail(id, ctx.Err())
		return nil, ctx.Err()
	}
}

// write serialises msg onto the connection. A write failure is a transport
// fault: the connection is closed and the receive loop tears it down.
func (s *Session) write(c *connection, msg interface{}) error {
	s.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(msg)
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Warn("Failed to write message", zap.String("session_id", c.id), zap.Error(err))
		c.setErr(err)
		c.ws.Close()
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// receive is the only reader of the connection. Frames are handled strictly
// in arrival order.
func (s *Session) receive(ctx context.Context, c *connection) {
	var readErr error
	defer func() { s.teardown(c, readErr) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Dropping malformed frame", zap.String("session_id", c.id), zap.Error(err))
			s.observer.Error("bad json")
			continue
		}

		s.handle(ctx, c, &msg)
	}
}

func (s *Session) handle(ctx context.Context, c *connection, msg *Message) {
	state := SessionState(c.state.Load())

	switch msg.Type {
	case TypeAuthRequired:
		if state != StateAwaitingAuth {
			s.protocolError(c, msg.Type, state)
			return
		}
		_ = s.write(c, AuthMessage{Type: TypeAuth, AccessToken: s.cfg.Token})

	case TypeAuthOK:
		if state != StateAwaitingAuth {
			s.protocolError(c, msg.Type, state)
			return
		}
		c.state.Store(int32(StateAuthenticated))
		s.logger.Info("Authenticated with Home Assistant",
			zap.String("session_id", c.id),
			zap.String("ha_version", msg.HAVersion))
		s.observer.Connected()
		go s.bootstrap(ctx, c)

	case TypeAuthInvalid:
		if state != StateAwaitingAuth {
			s.protocolError(c, msg.Type, state)
			return
		}
		reason := msg.Message
		if reason == "" {
			reason = "invalid token"
		}
		s.logger.Error("Home Assistant rejected the access token", zap.String("reason", reason))
		s.observer.Error(fmt.Sprintf("authentication failed: %s", reason))
		c.setErr(fmt.Errorf("%w: %s", ErrAuthInvalid, reason))
		c.closing.Store(true)
		c.ws.Close()

	case TypeResult:
		if state < StateAuthenticated {
			s.protocolError(c, msg.Type, state)
			return
		}
		if !s.correlator.Resolve(msg) {
			if msg.Success != nil && !*msg.Success && msg.Error != nil {
				s.logger.Warn("Home Assistant rejected request",
					zap.Int64("msg_id", msg.ID),
					zap.String("code", msg.Error.Code),
					zap.String("message", msg.Error.Message))
			} else {
				s.logger.Debug("Dropping unmatched result", zap.Int64("msg_id", msg.ID))
			}
		}

	case TypeEvent:
		if state < StateAuthenticated {
			s.protocolError(c, msg.Type, state)
			return
		}
		s.handleEvent(c, msg)

	case TypePong:

	default:
		s.logger.Debug("Unhandled message type", zap.String("type", msg.Type))
	}
}

func (s *Session) handleEvent(c *connection, msg *Message) {
	if msg.Event == nil || msg.Event.EventType != EventStateChanged {
		return
	}

	var data StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
		s.logger.Warn("Failed to unmarshal state_changed event", zap.String("session_id", c.id), zap.Error(err))
		s.observer.Error("bad json")
		return
	}
	if data.EntityID == "" && data.NewState != nil {
		data.EntityID = data.NewState.EntityID
	}
	if data.EntityID == "" {
		return
	}

	s.dispatcher.HandleStateChanged(data.EntityID, data.NewState)
}

// protocolError reports an out-of-sequence message. The connection stays up.
func (s *Session) protocolError(c *connection, msgType string, state SessionState) {
	s.logger.Warn("Unexpected message for handshake state",
		zap.String("session_id", c.id),
		zap.String("type", msgType),
		zap.Stringer("state", state))
	s.observer.Error(fmt.Sprintf("unexpected %s while %s", msgType, state))
}

// bootstrap fetches the bulk snapshot and then subscribes to state changes.
// Subscribing only after the snapshot has been applied keeps events from
// being reconciled against a table the snapshot is about to replace.
func (s *Session) bootstrap(ctx context.Context, c *connection) {
	raw, err := s.request(ctx, c, NewGetStates(s.correlator.NextID()))
	if err != nil {
		s.bootstrapFailed(ctx, c, "get_states", err)
		return
	}

	var states []*State
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, &states); err != nil {
		s.logger.Warn("Failed to unmarshal states", zap.String("session_id", c.id), zap.Error(err))
		s.observer.Error("bad json")
		return
	}
	s.logger.Info("Received state snapshot", zap.String("session_id", c.id), zap.Int("entities", len(states)))
	s.dispatcher.HandleSnapshot(states)

	c.state.Store(int32(StateSubscribing))
	if _, err := s.request(ctx, c, NewSubscribeStateChanged(s.correlator.NextID())); err != nil {
		s.bootstrapFailed(ctx, c, "subscribe_events", err)
		return
	}

	c.state.Store(int32(StateReady))
	s.logger.Info("Subscribed to state changes", zap.String("session_id", c.id))
}

func (s *Session) bootstrapFailed(ctx context.Context, c *connection, step string, err error) {
	if ctx.Err() != nil || errors.Is(err, ErrConnectionClosed) {
		return
	}
	s.logger.Warn("Initial sync failed", zap.String("session_id", c.id), zap.String("step", step), zap.Error(err))
	s.observer.Error(fmt.Sprintf("%s failed: %v", step, err))
}

func (s *Session) keepalive(ctx context.Context, c *connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("Keepalive ping failed", zap.String("session_id", c.id), zap.Error(err))
				c.setErr(err)
				c.ws.Close()
				return
			}
		}
	}
}

// teardown runs exactly once per connection, when the receive loop exits.
func (s *Session) teardown(c *connection, readErr error) {
	c.cancel()
	c.ws.Close()

	if readErr != nil {
		c.setErr(readErr)
	}
	cause := c.cause()

	c.state.Store(int32(StateDisconnected))

	failed := 0
	s.mu.Lock()
	if s.current == c {
		failed = s.correlator.FailAll(ErrConnectionClosed)
		s.current = nil
	}
	s.lastErr = cause
	s.mu.Unlock()

	if !c.closing.Load() {
		s.logger.Warn("Connection lost", zap.String("session_id", c.id), zap.Error(cause))
		s.observer.Error(fmt.Sprintf("connection lost: %v", cause))
	}
	s.logger.Info("Disconnected from Home Assistant",
		zap.String("session_id", c.id),
		zap.Int("failed_requests", failed))

	s.observer.Disconnected()
	close(c.done)
}

type nopObserver struct{}

func (nopObserver) Connected()    {}
func (nopObserver) Disconnected() {}
func (nopObserver) Error(string)  {}
