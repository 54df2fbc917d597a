package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cabinet/booking/internal/config"
	"github.com/cabinet/booking/internal/domain/scheduling"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		RequestTimeout: 5 * time.Second,
		AuthIssuer:     "cabinet",
		Timezone:       "Europe/Paris",
		PracticeEmail:  "cabinet@example.fr",
		ReminderCron:   "0 * * * *",
		CompletionCron: "*/15 * * * *",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// nextBookableMonday returns a Monday at least a week ahead that is not a
// public holiday.
func nextBookableMonday() string {
	loc, _ := time.LoadLocation("Europe/Paris")
	d := time.Now().In(loc).AddDate(0, 0, 7)
	for d.Weekday() != time.Monday || scheduling.IsHoliday(d.Format("2006-01-02")) {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format("2006-01-02")
}

func serve(a *app, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/health", "/health/db"} {
		rec := serve(a, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("GET %s: expected a request id header", path)
		}
	}
}

func TestBookingFlow(t *testing.T) {
	a := newTestApp(t)
	monday := nextBookableMonday()

	rec := serve(a, http.MethodGet, "/api/v1/booking/slots?startDate="+monday+"&endDate="+monday+"&duration=60", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET slots = %d: %s", rec.Code, rec.Body.String())
	}
	var days []scheduling.DaySchedule
	if err := json.Unmarshal(rec.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(days) != 1 || !days[0].IsWorkingDay {
		t.Fatalf("expected one working day, got %+v", days)
	}

	body := `{"firstName":"Camille","lastName":"Durand","email":"camille@example.fr",
		"phone":"06 12 34 56 78","consultationType":"cabinet","preferredDate":"` + monday + `",
		"preferredTime":"10:00","duration":"60","isFirstConsultation":true,
		"reason":"Difficultés de sommeil depuis plusieurs mois","consent":true}`

	rec = serve(a, http.MethodPost, "/api/v1/booking/appointments", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST appointment = %d: %s", rec.Code, rec.Body.String())
	}
	var res scheduling.BookingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.AppointmentID == "" || res.Status != scheduling.StatusConfirmed {
		t.Errorf("result = %+v, want a confirmed appointment", res)
	}

	rec = serve(a, http.MethodPost, "/api/v1/booking/appointments", body)
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusConflict {
		t.Errorf("second booking of the same slot = %d, want 400 or 409", rec.Code)
	}

	rec = serve(a, http.MethodGet, "/api/v1/booking/appointments/"+res.AppointmentID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET appointment = %d, want 200", rec.Code)
	}

	rec = serve(a, http.MethodGet, "/api/v1/admin/notifications", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET notifications = %d", rec.Code)
	}
	var sent []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &sent)
	if len(sent) != 2 {
		t.Errorf("expected practice and patient emails, got %d", len(sent))
	}

	rec = serve(a, http.MethodGet, "/api/v1/admin/jobs", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET jobs = %d, want 200", rec.Code)
	}
}

func TestAdminRoutesRequireTokenOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "staging"
	cfg.AuthSigningKey = strings.Repeat("k", 32)
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()

	if rec := serve(a, http.MethodGet, "/api/v1/booking/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("GET stats without token = %d, want 401", rec.Code)
	}
	monday := nextBookableMonday()
	if rec := serve(a, http.MethodGet, "/api/v1/booking/slots?startDate="+monday+"&endDate="+monday, ""); rec.Code != http.StatusOK {
		t.Errorf("public slots = %d, want 200", rec.Code)
	}
}
