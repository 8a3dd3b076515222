package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.Stakes.WithLabelValues("YES").Inc()
	m.PaidOut.Add(150)
	m.ObserveHTTP("GET", "/api/markets", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`test_stakes_total{side="YES"} 1`,
		`test_paid_out_base_units_total 150`,
		`test_http_requests_total{method="GET",route="/api/markets",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	_ = New("a")
	_ = New("a")
}
