package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dispatch-queue/internal/observability"
	"github.com/redis/go-redis/v9"
)

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		pingErr      error
		withRedis    bool
		redisErr     string
		wantStatus   int
		wantRedis    string
		wantPostgres string
	}{
		{name: "livez", path: "/livez", wantStatus: fiber.StatusOK},
		{name: "ready with redis", path: "/readyz", withRedis: true, wantStatus: fiber.StatusOK, wantRedis: "ok", wantPostgres: "ok"},
		{name: "ready without redis", path: "/readyz", wantStatus: fiber.StatusOK, wantRedis: "disabled", wantPostgres: "ok"},
		{name: "postgres down", path: "/readyz", pingErr: errors.New("postgres down"), wantStatus: fiber.StatusServiceUnavailable, wantRedis: "disabled", wantPostgres: "down"},
		{name: "redis down", path: "/readyz", withRedis: true, redisErr: "LOADING redis is loading", wantStatus: fiber.StatusServiceUnavailable, wantRedis: "down", wantPostgres: "ok"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("sqlmock.New() error = %v", err)
			}
			t.Cleanup(func() { _ = sqlDB.Close() })
			if tt.path == "/readyz" {
				mock.ExpectPing().WillReturnError(tt.pingErr)
			}

			var rdb *redis.Client
			if tt.withRedis {
				mr := miniredis.RunT(t)
				if tt.redisErr != "" {
					mr.SetError(tt.redisErr)
				}
				rdb = redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
				t.Cleanup(func() { _ = rdb.Close() })
			}

			app := newTestApp()
			RegisterHealthRoutes(app, sqlDB, rdb)

			resp, body := performRequest(t, app, http.MethodGet, tt.path, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			if tt.path != "/readyz" {
				return
			}

			var parsed struct {
				Checks map[string]string `json:"checks"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if parsed.Checks["redis"] != tt.wantRedis || parsed.Checks["postgres"] != tt.wantPostgres {
				t.Fatalf("checks = %v", parsed.Checks)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet sql expectations: %v", err)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.IncItemDelivered()

	app := newTestApp()
	RegisterMetricsRoute(app, metrics)

	resp, body := performRequest(t, app, http.MethodGet, "/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "dispatch_queue_items_delivered_total 1") {
		t.Fatalf("metrics output missing delivered counter:\n%s", string(body))
	}
}
