package observability

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
)

// TestNewMetricsConcurrency verifies that independent registries can be
// created concurrently without duplicate registration errors.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Registry())
			assert.NotNil(t, m.Migration)
			assert.NotNil(t, m.Datastore)
		})
	}
	wg.Wait()
}

func TestMetricsHandler_ExposesMigrationMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Migration.RecordChunk("blob-values", metrics.StatusCommitted, 0.1)
	m.Datastore.RecordTransaction("blob-values", metrics.StatusCommitted, 0.05)

	endpoint, err := NewEndpoint("127.0.0.1:0", m, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	endpoint.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `qcmigrate_chunks_total{kind="blob-values",status="committed"} 1`)
	assert.Contains(t, body, "datastore_db_transactions_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestEndpoint_ServesUntilQuit(t *testing.T) {
	t.Parallel()

	// Reserve a free port, then release it for the endpoint.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	m, err := NewMetrics()
	require.NoError(t, err)
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	endpoint, err := NewEndpoint(addr, m, log)
	require.NoError(t, err)

	var wg sync.WaitGroup
	quit := make(chan struct{})
	require.NoError(t, endpoint.Start(&wg, quit))

	resp, err := http.Get("http://" + addr + "/metrics") //nolint:noctx // test request
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/healthz") //nolint:noctx // test request
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok", health["status"])

	close(quit)
	wg.Wait()

	_, err = http.Get("http://" + addr + "/metrics") //nolint:noctx // test request
	assert.Error(t, err)
}

func TestNewEndpoint_Validation(t *testing.T) {
	t.Parallel()

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint("", m, log)
	require.Error(t, err)
	_, err = NewEndpoint("127.0.0.1:0", nil, log)
	require.Error(t, err)
}
