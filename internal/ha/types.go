package ha

import (
	"encoding/json"
	"time"
)

// Message types exchanged with Home Assistant.
const (
	TypeAuthRequired    = "auth_required"
	TypeAuth            = "auth"
	TypeAuthOK          = "auth_ok"
	TypeAuthInvalid     = "auth_invalid"
	TypeEvent           = "event"
	TypeResult          = "result"
	TypePong            = "pong"
	TypeSubscribeEvents = "subscribe_events"
	TypeGetStates       = "get_states"
	TypeCallService     = "call_service"

	EventStateChanged = "state_changed"
)

// Message represents any inbound WebSocket message from Home Assistant
type Message struct {
	ID        int64           `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Event     *Event          `json:"event,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
	// Message is only set on auth_invalid.
	Message string `json:"message,omitempty"`
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State represents an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Request is an outbound message that carries a correlation id.
type Request interface {
	MessageID() int64
}

// GetStatesRequest represents a get_states request
type GetStatesRequest struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// MessageID implements Request
func (r *GetStatesRequest) MessageID() int64 { return r.ID }

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// MessageID implements Request
func (r *SubscribeEventsRequest) MessageID() int64 { return r.ID }

// CallServiceRequest represents a call_service request
type CallServiceRequest struct {
	ID          int64                  `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	Target      *ServiceTarget         `json:"target,omitempty"`
	ServiceData map[string]interface{} `json:"service_data"`
}

// MessageID implements Request
func (r *CallServiceRequest) MessageID() int64 { return r.ID }

// ServiceTarget represents service call target
type ServiceTarget struct {
	EntityID string `json:"entity_id"`
}

// NewGetStates builds a get_states request.
func NewGetStates(id int64) *GetStatesRequest {
	return &GetStatesRequest{ID: id, Type: TypeGetStates}
}

// NewSubscribeStateChanged builds a subscribe_events request for state_changed.
func NewSubscribeStateChanged(id int64) *SubscribeEventsRequest {
	return &SubscribeEventsRequest{ID: id, Type: TypeSubscribeEvents, EventType: EventStateChanged}
}

// NewCallService builds a call_service request targeting a single entity.
// A nil data map is sent as an empty object.
func NewCallService(id int64, domain, service, entityID string, data map[string]interface{}) *CallServiceRequest {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &CallServiceRequest{
		ID:          id,
		Type:        TypeCallService,
		Domain:      domain,
		Service:     service,
		Target:      &ServiceTarget{EntityID: entityID},
		ServiceData: data,
	}
}
