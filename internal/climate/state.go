// Package climate turns Home Assistant entity payloads into typed climate
// records, keeps the table of known thermostats and builds the service calls
// that control them.
package climate

import (
	"fmt"
	"strings"
	"time"
)

const (
	// EntityPrefix is the namespace of every entity this package tracks.
	EntityPrefix = "climate."

	DefaultMinTemp  = 5.0
	DefaultMaxTemp  = 35.0
	DefaultStep     = 0.5
	DefaultUnit     = "°C"
	DefaultHvacMode = "off"
)

// State is the last observed state of one climate entity. Optional numerics
// are nil when Home Assistant did not report them.
type State struct {
	EntityID           string   `json:"entity_id"`
	Name               string   `json:"name"`
	HvacMode           string   `json:"hvac_mode"`
	Action             string   `json:"hvac_action,omitempty"`
	FanMode            string   `json:"fan_mode,omitempty"`
	PresetMode         string   `json:"preset_mode,omitempty"`
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	CurrentHumidity    *float64 `json:"current_humidity,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	HeatSetpoint       *float64 `json:"heat_setpoint,omitempty"`
	CoolSetpoint       *float64 `json:"cool_setpoint,omitempty"`
	MinTemp            *float64 `json:"min_temp,omitempty"`
	MaxTemp            *float64 `json:"max_temp,omitempty"`
	Step               float64  `json:"step"`
	TemperatureUnit    string   `json:"temperature_unit"`

	SupportedHvacModes   []string `json:"hvac_modes,omitempty"`
	SupportedFanModes    []string `json:"fan_modes,omitempty"`
	SupportedPresetModes []string `json:"preset_modes,omitempty"`

	LastUpdated time.Time `json:"last_updated"`
}

// Key returns the case-insensitive table key of an entity id.
func Key(entityID string) string {
	return strings.ToLower(strings.TrimSpace(entityID))
}

// IsClimateEntity reports whether entityID lives in the climate namespace.
func IsClimateEntity(entityID string) bool {
	return strings.HasPrefix(Key(entityID), EntityPrefix)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentTemperature = cloneFloat(s.CurrentTemperature)
	c.CurrentHumidity = cloneFloat(s.CurrentHumidity)
	c.TargetTemperature = cloneFloat(s.TargetTemperature)
	c.HeatSetpoint = cloneFloat(s.HeatSetpoint)
	c.CoolSetpoint = cloneFloat(s.CoolSetpoint)
	c.MinTemp = cloneFloat(s.MinTemp)
	c.MaxTemp = cloneFloat(s.MaxTemp)
	c.SupportedHvacModes = cloneStrings(s.SupportedHvacModes)
	c.SupportedFanModes = cloneStrings(s.SupportedFanModes)
	c.SupportedPresetModes = cloneStrings(s.SupportedPresetModes)
	return &c
}

// Limits returns the setpoint bounds, substituting 5 and 35 for bounds the
// entity does not report.
func (s *State) Limits() (lo, hi float64) {
	lo, hi = DefaultMinTemp, DefaultMaxTemp
	if s.MinTemp != nil {
		lo = *s.MinTemp
	}
	if s.MaxTemp != nil {
		hi = *s.MaxTemp
	}
	return lo, hi
}

// IsRange reports whether the entity is driven by a heat/cool pair rather
// than a single target. A single target wins when both are reported.
func (s *State) IsRange() bool {
	return s.TargetTemperature == nil && (s.HeatSetpoint != nil || s.CoolSetpoint != nil)
}

// TargetSummary renders the active target, e.g. "21.5" or "19.0–24.0".
func (s *State) TargetSummary() string {
	if s.IsRange() {
		return formatTemp(s.HeatSetpoint) + "–" + formatTemp(s.CoolSetpoint)
	}
	return formatTemp(s.TargetTemperature)
}

func (s *State) String() string {
	return fmt.Sprintf("%s (%s) mode=%s current=%s%s target=%s",
		s.EntityID, s.Name, s.HvacMode, formatTemp(s.CurrentTemperature), s.TemperatureUnit, s.TargetSummary())
}

func formatTemp(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
