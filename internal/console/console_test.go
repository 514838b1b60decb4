package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"climatesync/internal/climate"
	"climatesync/internal/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHub struct {
	mu      sync.Mutex
	calls   []string
	handler hub.Handler
	err     error
}

func (f *fakeHub) record(format string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeHub) Subscribe(handler hub.Handler) hub.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return hub.Subscription{}
}

func (f *fakeHub) Entities() []*climate.State {
	return []*climate.State{{
		EntityID:           "climate.living_room",
		Name:               "Living Room",
		HvacMode:           "heat",
		Action:             "heating",
		CurrentTemperature: climate.Float(20.46),
		TargetTemperature:  climate.Float(21),
		Step:               0.5,
		TemperatureUnit:    "°C",
	}}
}

func (f *fakeHub) SetMode(id, mode string) error { return f.record("mode %s %s", id, mode) }
func (f *fakeHub) SetFanMode(id, mode string) error {
	return f.record("fan %s %s", id, mode)
}
func (f *fakeHub) SetPresetMode(id, preset string) error {
	return f.record("preset %s %s", id, preset)
}
func (f *fakeHub) SetSingleSetpoint(id string, v float64) error {
	return f.record("temp %s %g", id, v)
}
func (f *fakeHub) SetHeatCoolRange(id string, heat, cool float64) error {
	return f.record("range %s %g %g", id, heat, cool)
}
func (f *fakeHub) TurnOn(id string) error  { return f.record("on %s", id) }
func (f *fakeHub) TurnOff(id string) error { return f.record("off %s", id) }

func TestConsole_Run(t *testing.T) {
	fake := &fakeHub{}
	input := strings.Join([]string{
		"list",
		"mode climate.living_room auto",
		"TEMP climate.living_room 21.5",
		"range climate.bedroom 19 24",
		"fan climate.living_room low",
		"preset climate.bedroom eco",
		"on climate.bedroom",
		"off climate.bedroom",
		"",
		"temp climate.living_room warm",
		"bogus",
		"exit",
		"on climate.never",
	}, "\n")
	var out bytes.Buffer

	c := New(fake, strings.NewReader(input), &out, zap.NewNop())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{
		"mode climate.living_room auto",
		"temp climate.living_room 21.5",
		"range climate.bedroom 19 24",
		"fan climate.living_room low",
		"preset climate.bedroom eco",
		"on climate.bedroom",
		"off climate.bedroom",
	}, fake.calls)

	text := out.String()
	assert.Contains(t, text, "climate.living_room 'Living Room'  mode=heat act=heating cur=20.5  tgt=21.0  step=0.5 °C")
	assert.Contains(t, text, `Error: invalid temperature "warm"`)
	assert.Contains(t, text, usage)
}

func TestConsole_EndOfInput(t *testing.T) {
	fake := &fakeHub{}
	var out bytes.Buffer

	c := New(fake, strings.NewReader("on climate.a"), &out, zap.NewNop())
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"on climate.a"}, fake.calls)
}

func TestConsole_CommandError(t *testing.T) {
	fake := &fakeHub{err: errors.New("send while closed")}
	var out bytes.Buffer

	c := New(fake, strings.NewReader(""), &out, zap.NewNop())
	assert.True(t, c.Execute("off climate.a"))
	assert.Contains(t, out.String(), "Error: send while closed")
	assert.False(t, c.Execute("exit"))
}

func TestConsole_Notifications(t *testing.T) {
	fake := &fakeHub{}
	var out bytes.Buffer
	c := New(fake, strings.NewReader(""), &out, zap.NewNop())

	state := &climate.State{
		EntityID:           "climate.bedroom",
		Name:               "Bedroom",
		HvacMode:           "auto",
		Action:             "idle",
		CurrentTemperature: climate.Float(19),
		HeatSetpoint:       climate.Float(18),
		CoolSetpoint:       climate.Float(24),
	}

	c.notify(hub.Notification{Kind: hub.KindConnected})
	c.notify(hub.Notification{Kind: hub.KindEntityAdded, EntityID: "climate.bedroom", State: state})
	c.notify(hub.Notification{Kind: hub.KindEntityChanged, EntityID: "climate.bedroom", State: state})
	c.notify(hub.Notification{Kind: hub.KindEntityRemoved, EntityID: "climate.bedroom"})
	c.notify(hub.Notification{Kind: hub.KindError, Message: "bad json"})
	c.notify(hub.Notification{Kind: hub.KindDisconnected})

	assert.Equal(t, strings.Join([]string{
		"[OK] Authenticated with Home Assistant.",
		"[ADD] climate.bedroom  name='Bedroom'  mode=auto act=idle cur=19.0 tgt=18.0–24.0",
		"[CHG] climate.bedroom  mode=auto act=idle cur=19.0 tgt=18.0–24.0",
		"[DEL] climate.bedroom",
		"[ERR] bad json",
		"[INF] Disconnected.",
	}, "\n")+"\n", out.String())
}

func TestConsole_ContextCancel(t *testing.T) {
	fake := &fakeHub{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader, writer := io.Pipe()
	defer writer.Close()

	var out bytes.Buffer
	c := New(fake, reader, &out, zap.NewNop())
	assert.NoError(t, c.Run(ctx))
}
