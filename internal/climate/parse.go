package climate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"climatesync/internal/ha"
)

// Attribute names, in precedence order where Home Assistant has aliases.
var (
	attrName        = []string{"friendly_name"}
	attrAction      = []string{"hvac_action"}
	attrFanMode     = []string{"fan_mode"}
	attrPresetMode  = []string{"preset_mode"}
	attrCurrent     = []string{"current_temperature"}
	attrHumidity    = []string{"current_humidity"}
	attrTarget      = []string{"temperature", "target_temperature"}
	attrTargetLow   = []string{"target_temp_low", "target_temperature_low"}
	attrTargetHigh  = []string{"target_temp_high", "target_temperature_high"}
	attrMinTemp     = []string{"min_temp"}
	attrMaxTemp     = []string{"max_temp"}
	attrStep        = []string{"target_temp_step", "precision"}
	attrUnit        = []string{"temperature_unit", "unit_of_measurement"}
	attrHvacModes   = "hvac_modes"
	attrFanModes    = "fan_modes"
	attrPresetModes = "preset_modes"
)

// Parse converts a raw entity payload into a State. It returns nil for a nil
// payload. Attributes that are null or not numeric are treated as absent.
func Parse(raw *ha.State) *State {
	if raw == nil {
		return nil
	}
	attrs := raw.Attributes

	s := &State{
		EntityID:           strings.TrimSpace(raw.EntityID),
		HvacMode:           strings.TrimSpace(raw.State),
		Action:             attrString(attrs, attrAction...),
		FanMode:            attrString(attrs, attrFanMode...),
		PresetMode:         attrString(attrs, attrPresetMode...),
		CurrentTemperature: attrFloat(attrs, attrCurrent...),
		CurrentHumidity:    attrFloat(attrs, attrHumidity...),
		TargetTemperature:  attrFloat(attrs, attrTarget...),
		HeatSetpoint:       attrFloat(attrs, attrTargetLow...),
		CoolSetpoint:       attrFloat(attrs, attrTargetHigh...),
		MinTemp:            attrFloat(attrs, attrMinTemp...),
		MaxTemp:            attrFloat(attrs, attrMaxTemp...),
		Step:               DefaultStep,
		TemperatureUnit:    DefaultUnit,

		SupportedHvacModes:   attrStrings(attrs, attrHvacModes),
		SupportedFanModes:    attrStrings(attrs, attrFanModes),
		SupportedPresetModes: attrStrings(attrs, attrPresetModes),

		LastUpdated: raw.LastUpdated,
	}

	s.Name = attrString(attrs, attrName...)
	if s.Name == "" {
		s.Name = s.EntityID
	}
	if s.HvacMode == "" {
		s.HvacMode = DefaultHvacMode
	}
	if step := attrFloat(attrs, attrStep...); step != nil && *step > 0 {
		s.Step = *step
	}
	if unit := attrString(attrs, attrUnit...); unit != "" {
		s.TemperatureUnit = unit
	}

	return s
}

// attrString returns the first non-empty string among keys.
func attrString(attrs map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := attrs[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64, bool, json.Number:
			s = toString(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// attrFloat returns the first attribute among keys that parses as a finite number.
func attrFloat(attrs map[string]interface{}, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := attrs[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func attrStrings(attrs map[string]interface{}, key string) []string {
	list, ok := attrs[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return ""
}
