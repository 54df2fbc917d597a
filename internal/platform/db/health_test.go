package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func okCheck(context.Context) error { return nil }

func TestRunChecks(t *testing.T) {
	checks := map[string]Check{
		"redis":    func(context.Context) error { return errors.New("connection refused") },
		"database": okCheck,
	}

	results, ok := RunChecks(context.Background(), checks, time.Second)
	if ok {
		t.Error("expected overall failure")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "database" || !results[0].Healthy {
		t.Errorf("results[0] = %+v, want healthy database", results[0])
	}
	if results[1].Name != "redis" || results[1].Healthy || results[1].Error != "connection refused" {
		t.Errorf("results[1] = %+v, want failing redis", results[1])
	}
}

func TestRunChecks_Timeout(t *testing.T) {
	checks := map[string]Check{
		"slow": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	results, ok := RunChecks(context.Background(), checks, 10*time.Millisecond)
	if ok || results[0].Healthy {
		t.Error("expected the slow check to fail on timeout")
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Check
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "healthy"},
		{"all pass", map[string]Check{"database": okCheck}, http.StatusOK, "healthy"},
		{"one fails", map[string]Check{
			"database": okCheck,
			"redis":    func(context.Context) error { return errors.New("down") },
		}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := HealthHandler(nil, tt.checks)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %v, want %q", body["status"], tt.wantBody)
			}
			if _, ok := body["pool"]; ok {
				t.Error("did not expect pool stats without a pool")
			}
		})
	}
}
