package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"climatesync/internal/api"
	"climatesync/internal/climate"
	"climatesync/internal/metrics"
	"climatesync/internal/mqttbridge"
	"climatesync/pkg/testutil"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// retainedBroker keeps the last retained payload per topic, like a broker.
type retainedBroker struct {
	mu     sync.Mutex
	topics map[string][]byte
}

func (b *retainedBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !retained {
		return nil
	}
	if len(payload) == 0 {
		delete(b.topics, topic)
		return nil
	}
	b.topics[topic] = append([]byte(nil), payload...)
	return nil
}

func (b *retainedBroker) Close() error { return nil }

func (b *retainedBroker) State(entityID string) (*climate.State, bool) {
	b.mu.Lock()
	payload, ok := b.topics[mqttbridge.StateTopic("climatesync", entityID)]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	var s climate.State
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// stack is a hub synced with a mock Home Assistant plus every surface built
// on top of it.
type stack struct {
	env     *testutil.TestEnv
	api     http.Handler
	metrics *metrics.Collector
	broker  *retainedBroker
}

func setupTest(t *testing.T) (*stack, func()) {
	t.Helper()

	env, err := testutil.NewTestEnv(nil)
	require.NoError(t, err)

	collector := metrics.NewCollector(env.Hub, env.Logger)
	collector.Start()

	broker := &retainedBroker{topics: make(map[string][]byte)}
	bridge := mqttbridge.New(broker, "climatesync", 0, env.Logger)
	bridge.Start(env.Hub)

	server := api.NewServer(env.Hub, collector.Handler(), env.Logger, 0)

	cleanup := func() {
		_ = bridge.Stop()
		collector.Stop()
		env.Cleanup()
	}
	return &stack{env: env, api: server.Handler(), metrics: collector, broker: broker}, cleanup
}

func (s *stack) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	w := httptest.NewRecorder()
	s.api.ServeHTTP(w, httptest.NewRequest(method, path, r))
	return w
}

func (s *stack) scrape(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func (s *stack) scrapeContains(t *testing.T, line string) bool {
	return strings.Contains(s.scrape(t), line)
}
