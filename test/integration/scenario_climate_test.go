package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"climatesync/internal/api"
	"climatesync/internal/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_InitialSyncVisibleEverywhere validates that the initial table
// reaches the HTTP API and the MQTT mirror
func TestScenario_InitialSyncVisibleEverywhere(t *testing.T) {
	s, cleanup := setupTest(t)
	defer cleanup()

	t.Log("GIVEN: A hub synced with two climate entities and one light")

	t.Log("THEN: The API lists only the climate entities")
	w := s.do(t, http.MethodGet, "/api/climates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.ClimatesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.True(t, list.Connected)
	require.Len(t, list.Climates, 2)
	assert.Equal(t, "climate.bedroom", list.Climates[0].EntityID)
	assert.Equal(t, "climate.living_room", list.Climates[1].EntityID)

	t.Log("THEN: Heat/cool is reported as auto")
	assert.Equal(t, "auto", list.Climates[0].HvacMode)

	t.Log("THEN: The MQTT mirror holds both entities")
	require.Eventually(t, func() bool {
		_, living := s.broker.State("climate.living_room")
		_, bed := s.broker.State("climate.bedroom")
		return living && bed
	}, waitFor, tick)
	bedroom, ok := s.broker.State("climate.bedroom")
	require.True(t, ok)
	assert.Equal(t, 18.0, *bedroom.HeatSetpoint)
	_, ok = s.broker.State("light.kitchen")
	assert.False(t, ok)

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestScenario_SetpointCommandRoundTrip drives a setpoint through the API and
// follows the confirmed state back out through every surface
func TestScenario_SetpointCommandRoundTrip(t *testing.T) {
	s, cleanup := setupTest(t)
	defer cleanup()
	s.env.ClearServiceCalls()

	t.Log("WHEN: 21.37 is requested for the living room")
	w := s.do(t, http.MethodPost, "/api/climates/climate.living_room/command",
		map[string]interface{}{"action": "temperature", "temperature": 21.37})
	require.Equal(t, http.StatusAccepted, w.Code)

	t.Log("THEN: Home Assistant receives the value rounded to the 0.5 step")
	require.Eventually(t, func() bool {
		return s.env.Server.FindServiceCall("climate", "set_temperature", "climate.living_room") != nil
	}, waitFor, tick)
	call := s.env.Server.FindServiceCall("climate", "set_temperature", "climate.living_room")
	assert.Equal(t, 21.5, call.ServiceData["temperature"])

	t.Log("THEN: The confirmed change reaches the table, the mirror and the metrics")
	require.Eventually(t, func() bool {
		st, ok := s.env.Hub.Entity("climate.living_room")
		return ok && st.TargetTemperature != nil && *st.TargetTemperature == 21.5
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		st, ok := s.broker.State("climate.living_room")
		return ok && st.TargetTemperature != nil && *st.TargetTemperature == 21.5
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return s.env.Notifications.Count(hub.KindEntityChanged, "climate.living_room") == 1
	}, waitFor, tick)
	assert.True(t, s.scrapeContains(t, `climatesync_target_temperature{entity_id="climate.living_room"} 21.5`))
}

// TestScenario_ModeCommandTranslatesAuto validates the auto to heat_cool
// translation in both directions
func TestScenario_ModeCommandTranslatesAuto(t *testing.T) {
	s, cleanup := setupTest(t)
	defer cleanup()
	s.env.ClearServiceCalls()

	w := s.do(t, http.MethodPost, "/api/climates/climate.living_room/command",
		map[string]interface{}{"action": "mode", "mode": "auto"})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		return s.env.Server.CountServiceCalls("climate", "set_hvac_mode") == 1
	}, waitFor, tick)
	call := s.env.Server.FindServiceCall("climate", "set_hvac_mode", "climate.living_room")
	require.NotNil(t, call)
	assert.Equal(t, "heat_cool", call.ServiceData["hvac_mode"])

	require.Eventually(t, func() bool {
		st, ok := s.broker.State("climate.living_room")
		return ok && st.HvacMode == "auto"
	}, waitFor, tick)
}

// TestScenario_RemovedEntityDisappears validates removal from every surface
func TestScenario_RemovedEntityDisappears(t *testing.T) {
	s, cleanup := setupTest(t)
	defer cleanup()

	t.Log("GIVEN: The living room has a published measurement")
	s.env.Server.SetState("climate.living_room", "heat", map[string]interface{}{
		"current_temperature": 20.0,
		"temperature":         21.0,
	})
	require.Eventually(t, func() bool {
		return s.scrapeContains(t, `climatesync_current_temperature{entity_id="climate.living_room"} 20`)
	}, waitFor, tick)

	t.Log("WHEN: Home Assistant removes the entity")
	s.env.Server.RemoveState("climate.living_room")

	t.Log("THEN: It is gone from the API, the mirror and the metrics")
	require.Eventually(t, func() bool {
		return s.env.Notifications.Count(hub.KindEntityRemoved, "climate.living_room") == 1
	}, waitFor, tick)
	w := s.do(t, http.MethodGet, "/api/climates/climate.living_room", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Eventually(t, func() bool {
		_, ok := s.broker.State("climate.living_room")
		return !ok
	}, waitFor, tick)
	assert.False(t, s.scrapeContains(t, `entity_id="climate.living_room"`))
	assert.True(t, s.scrapeContains(t, "climatesync_entities 1"))

	t.Log("THEN: Commands for it are accepted and dropped")
	s.env.ClearServiceCalls()
	assert.NoError(t, s.env.Hub.TurnOff("climate.living_room"))
	assert.Empty(t, s.env.GetServiceCalls())
}

// TestScenario_ReconnectRestoresService validates recovery after Home
// Assistant drops every connection
func TestScenario_ReconnectRestoresService(t *testing.T) {
	s, cleanup := setupTest(t)
	defer cleanup()

	t.Log("WHEN: Home Assistant drops the connection")
	s.env.Server.DropConnections()

	t.Log("THEN: The hub reconnects and resyncs")
	require.Eventually(t, func() bool {
		return s.env.Notifications.Count(hub.KindConnected, "") == 2
	}, waitFor, tick)
	require.NoError(t, s.env.WaitReady(waitFor))

	assert.Equal(t, 1, s.env.Notifications.Count(hub.KindDisconnected, ""))
	assert.True(t, s.scrapeContains(t, "climatesync_connected 1"))
	assert.True(t, s.scrapeContains(t, `climatesync_notifications_total{kind="disconnected"} 1`))

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, s.env.Hub.Len())
}
