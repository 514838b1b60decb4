package climate

import (
	"math"
	"strings"
)

// Domain is the Home Assistant service domain for every command.
const Domain = "climate"

// Climate services.
const (
	ServiceSetHvacMode   = "set_hvac_mode"
	ServiceSetFanMode    = "set_fan_mode"
	ServiceSetPresetMode = "set_preset_mode"
	ServiceSetTemp       = "set_temperature"
	ServiceTurnOn        = "turn_on"
	ServiceTurnOff       = "turn_off"
)

// Command is one climate service call, ready to be addressed to an entity.
type Command struct {
	Service string
	Data    map[string]interface{}
}

// SetHvacMode builds set_hvac_mode. mode is in caller vocabulary.
func SetHvacMode(mode string) Command {
	return Command{
		Service: ServiceSetHvacMode,
		Data:    map[string]interface{}{"hvac_mode": ModeToHub(mode)},
	}
}

// SetFanMode builds set_fan_mode. The value is not checked against the
// entity's fan modes; Home Assistant rejects what it does not support.
func SetFanMode(mode string) Command {
	return Command{
		Service: ServiceSetFanMode,
		Data:    map[string]interface{}{"fan_mode": strings.TrimSpace(mode)},
	}
}

// SetPresetMode builds set_preset_mode.
func SetPresetMode(preset string) Command {
	return Command{
		Service: ServiceSetPresetMode,
		Data:    map[string]interface{}{"preset_mode": strings.TrimSpace(preset)},
	}
}

// SetTemperature builds set_temperature for a single setpoint, clamped and
// rounded against the entity's limits.
func SetTemperature(s *State, value float64) Command {
	return Command{
		Service: ServiceSetTemp,
		Data:    map[string]interface{}{"temperature": Adjust(s, value)},
	}
}

// SetTemperatureRange builds set_temperature for a heat/cool pair. Each
// value is clamped and rounded on its own.
func SetTemperatureRange(s *State, heat, cool float64) Command {
	return Command{
		Service: ServiceSetTemp,
		Data: map[string]interface{}{
			"target_temp_low":  Adjust(s, heat),
			"target_temp_high": Adjust(s, cool),
		},
	}
}

// TurnOn builds turn_on.
func TurnOn() Command {
	return Command{Service: ServiceTurnOn}
}

// TurnOff builds turn_off.
func TurnOff() Command {
	return Command{Service: ServiceTurnOff}
}

// Adjust applies the entity's setpoint policy to value.
func Adjust(s *State, value float64) float64 {
	return ClampAndRound(value, s.MinTemp, s.MaxTemp, s.Step)
}

// ClampAndRound clamps value to whichever bounds are present and rounds it
// half away from zero to a multiple of step. A non-positive step means 0.5.
func ClampAndRound(value float64, lo, hi *float64, step float64) float64 {
	if lo != nil && value < *lo {
		value = *lo
	}
	if hi != nil && value > *hi {
		value = *hi
	}
	if step <= 0 {
		step = DefaultStep
	}
	rounded := math.Round(value/step) * step
	// Strip binary noise such as 21.700000000000003.
	return math.Round(rounded*1e6) / 1e6
}
