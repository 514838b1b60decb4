package climate

import (
	"encoding/json"
	"testing"
	"time"

	"climatesync/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawState decodes a get_states element the way the session does.
func rawState(t *testing.T, payload string) *ha.State {
	t.Helper()
	var s ha.State
	require.NoError(t, json.Unmarshal([]byte(payload), &s))
	return &s
}

func TestParse(t *testing.T) {
	t.Run("full thermostat", func(t *testing.T) {
		s := Parse(rawState(t, `{
			"entity_id": "climate.living_room",
			"state": "heat_cool",
			"last_updated": "2024-01-15T10:00:00Z",
			"attributes": {
				"friendly_name": "Living Room",
				"hvac_action": "heating",
				"fan_mode": "auto",
				"preset_mode": "eco",
				"current_temperature": 20.5,
				"current_humidity": 41,
				"target_temp_low": 19,
				"target_temp_high": 24,
				"min_temp": 7,
				"max_temp": 30,
				"target_temp_step": 0.5,
				"temperature_unit": "°F",
				"hvac_modes": ["off", "heat", "cool", "heat_cool"],
				"fan_modes": ["auto", "low", "high"],
				"preset_modes": ["eco", "away"]
			}
		}`))

		require.NotNil(t, s)
		assert.Equal(t, "climate.living_room", s.EntityID)
		assert.Equal(t, "Living Room", s.Name)
		assert.Equal(t, "heat_cool", s.HvacMode)
		assert.Equal(t, "heating", s.Action)
		assert.Equal(t, "auto", s.FanMode)
		assert.Equal(t, "eco", s.PresetMode)
		assert.Equal(t, 20.5, *s.CurrentTemperature)
		assert.Equal(t, 41.0, *s.CurrentHumidity)
		assert.Nil(t, s.TargetTemperature)
		assert.Equal(t, 19.0, *s.HeatSetpoint)
		assert.Equal(t, 24.0, *s.CoolSetpoint)
		assert.Equal(t, 7.0, *s.MinTemp)
		assert.Equal(t, 30.0, *s.MaxTemp)
		assert.Equal(t, 0.5, s.Step)
		assert.Equal(t, "°F", s.TemperatureUnit)
		assert.Equal(t, []string{"off", "heat", "cool", "heat_cool"}, s.SupportedHvacModes)
		assert.Equal(t, []string{"auto", "low", "high"}, s.SupportedFanModes)
		assert.Equal(t, []string{"eco", "away"}, s.SupportedPresetModes)
		assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), s.LastUpdated.UTC())
		assert.True(t, s.IsRange())
	})

	t.Run("defaults for a bare entity", func(t *testing.T) {
		s := Parse(rawState(t, `{"entity_id": "climate.bare", "state": "", "attributes": {}}`))

		assert.Equal(t, "climate.bare", s.Name)
		assert.Equal(t, "off", s.HvacMode)
		assert.Empty(t, s.Action)
		assert.Empty(t, s.FanMode)
		assert.Nil(t, s.CurrentTemperature)
		assert.Nil(t, s.TargetTemperature)
		assert.Nil(t, s.MinTemp)
		assert.Nil(t, s.MaxTemp)
		assert.Equal(t, DefaultStep, s.Step)
		assert.Equal(t, DefaultUnit, s.TemperatureUnit)
		assert.Empty(t, s.SupportedHvacModes)
	})

	t.Run("aliases are used when the primary attribute is missing", func(t *testing.T) {
		s := Parse(rawState(t, `{
			"entity_id": "climate.office",
			"state": "cool",
			"attributes": {
				"target_temperature": 22,
				"target_temperature_low": 18,
				"target_temperature_high": 26,
				"precision": 0.1,
				"unit_of_measurement": "K"
			}
		}`))

		assert.Equal(t, 22.0, *s.TargetTemperature)
		assert.Equal(t, 18.0, *s.HeatSetpoint)
		assert.Equal(t, 26.0, *s.CoolSetpoint)
		assert.Equal(t, 0.1, s.Step)
		assert.Equal(t, "K", s.TemperatureUnit)
	})

	t.Run("primary attribute wins over alias", func(t *testing.T) {
		s := Parse(rawState(t, `{
			"entity_id": "climate.office",
			"state": "heat",
			"attributes": {"temperature": 21, "target_temperature": 25, "target_temp_step": 1, "precision": 0.1}
		}`))

		assert.Equal(t, 21.0, *s.TargetTemperature)
		assert.Equal(t, 1.0, s.Step)
	})

	t.Run("null and unparsable numbers are absent", func(t *testing.T) {
		s := Parse(rawState(t, `{
			"entity_id": "climate.office",
			"state": "heat",
			"attributes": {
				"current_temperature": null,
				"temperature": "warm",
				"target_temp_low": "18.5",
				"min_temp": true
			}
		}`))

		assert.Nil(t, s.CurrentTemperature)
		assert.Nil(t, s.TargetTemperature)
		assert.Equal(t, 18.5, *s.HeatSetpoint)
		assert.Nil(t, s.MinTemp)
	})

	t.Run("non-positive step falls back", func(t *testing.T) {
		s := Parse(rawState(t, `{"entity_id": "climate.x", "state": "heat", "attributes": {"target_temp_step": 0}}`))
		assert.Equal(t, DefaultStep, s.Step)
	})

	t.Run("nil payload", func(t *testing.T) {
		assert.Nil(t, Parse(nil))
	})
}

func TestState_DisplayHelpers(t *testing.T) {
	s := &State{EntityID: "climate.x", TargetTemperature: Float(21.5)}
	lo, hi := s.Limits()
	assert.Equal(t, DefaultMinTemp, lo)
	assert.Equal(t, DefaultMaxTemp, hi)
	assert.False(t, s.IsRange())
	assert.Equal(t, "21.5", s.TargetSummary())

	r := &State{EntityID: "climate.y", HeatSetpoint: Float(19), MinTemp: Float(10), MaxTemp: Float(30)}
	lo, hi = r.Limits()
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 30.0, hi)
	assert.True(t, r.IsRange())
	assert.Equal(t, "19.0–-", r.TargetSummary())

	assert.Equal(t, "-", (&State{}).TargetSummary())
}

func TestState_Clone(t *testing.T) {
	s := &State{
		EntityID:           "climate.x",
		CurrentTemperature: Float(20),
		SupportedHvacModes: []string{"heat"},
	}
	c := s.Clone()
	*c.CurrentTemperature = 25
	c.SupportedHvacModes[0] = "cool"

	assert.Equal(t, 20.0, *s.CurrentTemperature)
	assert.Equal(t, "heat", s.SupportedHvacModes[0])
	assert.Nil(t, (*State)(nil).Clone())
}
