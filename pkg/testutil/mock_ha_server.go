// Package testutil provides a mock Home Assistant WebSocket server and a
// ready-made hub environment for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"climatesync/internal/ha"

	"github.com/gorilla/websocket"
)

const websocketPath = "/api/websocket"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	subscribed bool
}

func (w *connWrapper) writeJSON(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(v)
}

// rejection makes a service fail with a Home Assistant error.
type rejection struct {
	code    string
	message string
}

// MockHAServer simulates the parts of Home Assistant's WebSocket API a
// climate client uses: auth, get_states, subscribe_events, call_service for
// the climate domain and state_changed pushes.
type MockHAServer struct {
	server *httptest.Server
	token  string

	statesMu sync.RWMutex
	states   map[string]*ha.State

	connsMu     sync.Mutex
	connections []*connWrapper
	accepted    int

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
	rejections   map[string]rejection
	ignoreCalls  bool
}

// NewMockHAServer starts a mock server accepting token.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:      token,
		states:     make(map[string]*ha.State),
		rejections: make(map[string]rejection),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(websocketPath, s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the websocket endpoint.
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + websocketPath
}

// Addr returns host:port of the server.
func (s *MockHAServer) Addr() string {
	return s.server.Listener.Addr().String()
}

// Close drops every connection and stops the server.
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// DropConnections closes every open client connection without a close frame.
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	conns := s.connections
	s.connections = nil
	s.connsMu.Unlock()

	for _, w := range conns {
		w.conn.Close()
	}
}

// Connections returns the number of open client connections.
func (s *MockHAServer) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.connections)
}

// Accepted returns how many connections have been upgraded so far.
func (s *MockHAServer) Accepted() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.accepted
}

// SetState stores an entity and pushes state_changed to subscribers.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	oldState, newState := s.store(entityID, state, attributes)
	s.broadcastStateChange(entityID, oldState, newState)
}

// SetStateSilently stores an entity without notifying anyone, as if it
// changed while the client was away.
func (s *MockHAServer) SetStateSilently(entityID, state string, attributes map[string]interface{}) {
	s.store(entityID, state, attributes)
}

// RemoveState deletes an entity and pushes a state_changed with a null new_state.
func (s *MockHAServer) RemoveState(entityID string) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	delete(s.states, entityID)
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, nil)
}

// RemoveStateSilently deletes an entity without notifying anyone.
func (s *MockHAServer) RemoveStateSilently(entityID string) {
	s.statesMu.Lock()
	delete(s.states, entityID)
	s.statesMu.Unlock()
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// InitializeStates sets up a heat-only thermostat, a heat/cool thermostat
// and an unrelated light.
func (s *MockHAServer) InitializeStates() {
	s.SetStateSilently("climate.living_room", "heat", map[string]interface{}{
		"friendly_name":       "Living Room",
		"hvac_action":         "heating",
		"current_temperature": 20.5,
		"temperature":         21.0,
		"min_temp":            10.0,
		"max_temp":            30.0,
		"target_temp_step":    0.5,
		"hvac_modes":          []interface{}{"off", "heat"},
		"fan_modes":           []interface{}{"auto", "low", "high"},
		"fan_mode":            "auto",
	})
	s.SetStateSilently("climate.bedroom", "heat_cool", map[string]interface{}{
		"friendly_name":       "Bedroom",
		"hvac_action":         "idle",
		"current_temperature": 19.0,
		"target_temp_low":     18.0,
		"target_temp_high":    24.0,
		"min_temp":            7.0,
		"max_temp":            35.0,
		"hvac_modes":          []interface{}{"off", "heat", "cool", "heat_cool"},
		"preset_modes":        []interface{}{"none", "eco", "away"},
		"preset_mode":         "none",
	})
	s.SetStateSilently("light.kitchen", "on", map[string]interface{}{
		"friendly_name": "Kitchen",
	})
}

// RejectService makes every call to service fail with code and message.
func (s *MockHAServer) RejectService(service, code, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.rejections[service] = rejection{code: code, message: message}
}

// IgnoreServiceCalls makes the server record service calls without
// answering them or changing any state.
func (s *MockHAServer) IgnoreServiceCalls(ignore bool) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.ignoreCalls = ignore
}

// SendRaw writes data as a text frame to every open connection.
func (s *MockHAServer) SendRaw(data []byte) {
	for _, w := range s.snapshotConns() {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(websocket.TextMessage, data)
		w.writeMu.Unlock()
	}
}

func (s *MockHAServer) store(entityID, state string, attributes map[string]interface{}) (*ha.State, *ha.State) {
	attrs := make(map[string]interface{}, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	now := time.Now().UTC()
	newState := &ha.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attrs,
		LastChanged: now,
		LastUpdated: now,
	}

	s.statesMu.Lock()
	oldState := s.states[entityID]
	s.states[entityID] = newState
	s.statesMu.Unlock()

	return oldState, newState
}

func (s *MockHAServer) snapshotConns() []*connWrapper {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	return wrappers
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.accepted++
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	if err := wrapper.writeJSON(ha.Message{Type: ha.TypeAuthRequired, HAVersion: "2024.6.0"}); err != nil {
		return
	}

	var authMsg ha.AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		return
	}

	if authMsg.Type != ha.TypeAuth || authMsg.AccessToken != s.token {
		_ = wrapper.writeJSON(ha.Message{Type: ha.TypeAuthInvalid, Message: "Invalid access token or password"})
		return
	}

	if err := wrapper.writeJSON(ha.Message{Type: ha.TypeAuthOK, HAVersion: "2024.6.0"}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var baseMsg struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case ha.TypeSubscribeEvents:
			s.handleSubscribeEvents(wrapper, baseMsg.ID)
		case ha.TypeGetStates:
			s.handleGetStates(wrapper, baseMsg.ID)
		case ha.TypeCallService:
			s.handleCallService(wrapper, data)
		default:
			s.reply(wrapper, baseMsg.ID, nil, &ha.Error{Code: "unknown_command", Message: "Unknown command."})
		}
	}
}

func (s *MockHAServer) reply(wrapper *connWrapper, id int64, result interface{}, failure *ha.Error) {
	success := failure == nil
	msg := ha.Message{ID: id, Type: ha.TypeResult, Success: &success, Error: failure}
	if result != nil {
		raw, _ := json.Marshal(result)
		msg.Result = raw
	}
	_ = wrapper.writeJSON(msg)
}

// handleSubscribeEvents handles event subscriptions
func (s *MockHAServer) handleSubscribeEvents(wrapper *connWrapper, id int64) {
	s.connsMu.Lock()
	wrapper.subscribed = true
	s.connsMu.Unlock()

	s.reply(wrapper, id, nil, nil)
}

// handleGetStates handles get_states requests
func (s *MockHAServer) handleGetStates(wrapper *connWrapper, id int64) {
	s.statesMu.RLock()
	states := make([]*ha.State, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	s.reply(wrapper, id, states, nil)
}

// handleCallService records the call and applies climate services to the
// stored entity, pushing the resulting state_changed.
func (s *MockHAServer) handleCallService(wrapper *connWrapper, msg []byte) {
	var req ha.CallServiceRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	entityID := ""
	if req.Target != nil {
		entityID = req.Target.EntityID
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		ID:          req.ID,
		Domain:      req.Domain,
		Service:     req.Service,
		EntityID:    entityID,
		ServiceData: req.ServiceData,
	})
	rej, rejected := s.rejections[req.Service]
	ignore := s.ignoreCalls
	s.callsMu.Unlock()

	if ignore {
		return
	}
	if rejected {
		s.reply(wrapper, req.ID, nil, &ha.Error{Code: rej.code, Message: rej.message})
		return
	}

	s.reply(wrapper, req.ID, map[string]interface{}{"context": map[string]interface{}{"id": req.ID}}, nil)

	if req.Domain == "climate" {
		s.applyClimateService(entityID, req.Service, req.ServiceData)
	}
}

func (s *MockHAServer) applyClimateService(entityID, service string, data map[string]interface{}) {
	s.statesMu.RLock()
	current := s.states[entityID]
	s.statesMu.RUnlock()
	if current == nil {
		return
	}

	state := current.State
	attrs := make(map[string]interface{}, len(current.Attributes))
	for k, v := range current.Attributes {
		attrs[k] = v
	}

	switch service {
	case "set_hvac_mode":
		if mode, ok := data["hvac_mode"].(string); ok {
			state = mode
		}
	case "set_fan_mode":
		attrs["fan_mode"] = data["fan_mode"]
	case "set_preset_mode":
		attrs["preset_mode"] = data["preset_mode"]
	case "set_temperature":
		for _, key := range []string{"temperature", "target_temp_low", "target_temp_high"} {
			if v, ok := data[key]; ok {
				attrs[key] = v
			}
		}
	case "turn_on":
		state = "heat"
		if modes, ok := attrs["hvac_modes"].([]interface{}); ok {
			for _, m := range modes {
				if mode, ok := m.(string); ok && mode != "off" {
					state = mode
					break
				}
			}
		}
	case "turn_off":
		state = "off"
	default:
		return
	}

	s.SetState(entityID, state, attrs)
}

// broadcastStateChange pushes a state_changed event to every subscribed connection
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *ha.State) {
	data, _ := json.Marshal(ha.StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := ha.Message{
		ID:   1,
		Type: ha.TypeEvent,
		Event: &ha.Event{
			EventType: ha.EventStateChanged,
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now().UTC(),
		},
	}

	s.connsMu.Lock()
	var targets []*connWrapper
	for _, w := range s.connections {
		if w.subscribed {
			targets = append(targets, w)
		}
	}
	s.connsMu.Unlock()

	for _, w := range targets {
		_ = w.writeJSON(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// FindServiceCall finds the most recent service call matching criteria.
// An empty entityID matches any target. Returns nil if none matched.
func (s *MockHAServer) FindServiceCall(domain, service, entityID string) *ServiceCall {
	return FindServiceCallWithEntityID(s.GetServiceCalls(), domain, service, entityID)
}

// CountServiceCalls counts service calls matching criteria
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
