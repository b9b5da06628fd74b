package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

func TestOpsRoutes(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1700000000000))
	reg := limiter.NewRegistry(fake)
	reg.Bybit().Check("order:place", limiter.KindOrder, 1)

	s := NewServer(":0", reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limits", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var limits map[string][]models.Usage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
	require.Contains(t, limits, "bybit")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestObserveCountsOutcomes(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tp := models.NewTimeProfile(now)
	tp.Attempts = 2
	tp.Seal(now.Add(120 * time.Millisecond))

	Observe("bybit", "OpenOrder", models.Ok(struct{}{}, []models.Usage{
		{Kind: models.UsageWeight, Fraction: 0.25},
	}, tp))
	Observe("bybit", "OpenOrder", models.Fail[struct{}]("Insufficient balance", nil, tp))
	// Collectors are process-global; reaching here without a panic is the
	// assertion, label cardinality is checked by the prometheus client.
}
