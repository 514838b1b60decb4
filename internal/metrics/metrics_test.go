package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"climatesync/internal/climate"
	"climatesync/internal/hub"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	handler hub.Handler
	n       int
}

func (f *fakeSource) Subscribe(handler hub.Handler) hub.Subscription {
	f.handler = handler
	return hub.Subscription{}
}

func (f *fakeSource) Len() int { return f.n }

func newStartedCollector(t *testing.T) (*Collector, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	c := NewCollector(src, zap.NewNop())
	c.Start()
	require.NotNil(t, src.handler)
	return c, src
}

func TestCollectorConnection(t *testing.T) {
	c, src := newStartedCollector(t)

	src.handler(hub.Notification{Kind: hub.KindConnected})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))

	src.handler(hub.Notification{Kind: hub.KindError, Message: "bad json"})
	src.handler(hub.Notification{Kind: hub.KindDisconnected})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("error")))
}

func TestCollectorEntities(t *testing.T) {
	c, src := newStartedCollector(t)

	src.n = 1
	src.handler(hub.Notification{
		Kind:     hub.KindEntityAdded,
		EntityID: "climate.living_room",
		State: &climate.State{
			EntityID:           "climate.living_room",
			CurrentTemperature: climate.Float(20.5),
			TargetTemperature:  climate.Float(21),
		},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.entities))
	assert.Equal(t, 20.5, testutil.ToFloat64(c.current.WithLabelValues("climate.living_room")))
	assert.Equal(t, 21.0, testutil.ToFloat64(c.target.WithLabelValues("climate.living_room")))

	// Switching to a range drops the single target series.
	src.handler(hub.Notification{
		Kind:     hub.KindEntityChanged,
		EntityID: "climate.living_room",
		State: &climate.State{
			EntityID:           "climate.living_room",
			CurrentTemperature: climate.Float(20.5),
			HeatSetpoint:       climate.Float(19),
			CoolSetpoint:       climate.Float(24),
		},
	})
	assert.Equal(t, 0, testutil.CollectAndCount(c.target))
	assert.Equal(t, 1, testutil.CollectAndCount(c.current))

	src.n = 0
	src.handler(hub.Notification{Kind: hub.KindEntityRemoved, EntityID: "climate.living_room"})
	assert.Equal(t, 0, testutil.CollectAndCount(c.current))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.entities))
}

func TestCollectorHandler(t *testing.T) {
	c, src := newStartedCollector(t)
	src.handler(hub.Notification{Kind: hub.KindConnected})

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "climatesync_connected 1"), body)
	assert.Contains(t, body, `climatesync_notifications_total{kind="connected"} 1`)
}
