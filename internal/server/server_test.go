package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/repository/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: "0", Env: "test"},
		Store:     config.StoreConfig{Driver: config.StoreDriverMemory},
		JWT:       config.JWTConfig{Secret: "server-test-secret"},
		Kafka:     config.KafkaConfig{Topic: "storefront.orders"},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerWindow: 2, Window: time.Minute},
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		health func() map[string]string
		want   int
		store  string
	}{
		{name: "memory store", want: http.StatusOK, store: config.StoreDriverMemory},
		{name: "database up", health: func() map[string]string { return map[string]string{"status": "up"} }, want: http.StatusOK, store: config.StoreDriverPostgres},
		{name: "database down", health: func() map[string]string { return map[string]string{"status": "down"} }, want: http.StatusServiceUnavailable, store: config.StoreDriverPostgres},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(testConfig(), zap.NewNop(), Deps{Store: memstore.New(), Health: tt.health, Registry: prometheus.NewRegistry()})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.want, rr.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.store, body["store"])
		})
	}
}

func TestMetricsExposeRouteLabels(t *testing.T) {
	h := NewRouter(testConfig(), zap.NewNop(), Deps{Store: memstore.New(), Registry: prometheus.NewRegistry()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/products/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `storefront_http_requests_total{method="GET",route="/api/products/{productID}",status="404"} 1`)
	assert.Contains(t, string(body), "storefront_orders_placed_total 0")
}

func TestCheckoutIsRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testConfig()
	h := NewRouter(cfg, zap.NewNop(), Deps{Store: memstore.New(), Redis: rdb, Registry: prometheus.NewRegistry()})

	tok, err := middleware.SignToken(cfg.JWT.Secret, uuid.New(), middleware.RoleUser, time.Hour)
	require.NoError(t, err)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"items":[]}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	// invalid bodies still count against the limit
	assert.Equal(t, http.StatusBadRequest, post())
	assert.Equal(t, http.StatusBadRequest, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	// reads are not limited
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflightAllowsIdempotencyKey(t *testing.T) {
	h := NewRouter(testConfig(), zap.NewNop(), Deps{Store: memstore.New(), Registry: prometheus.NewRegistry()})

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Idempotency-Key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(strings.ToLower(rr.Header().Get("Access-Control-Allow-Headers")), "idempotency-key"))
}
