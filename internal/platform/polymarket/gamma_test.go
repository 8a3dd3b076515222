package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

const eventsBody = `[
  {
    "id": "903",
    "title": "Will Bitcoin hit $150k in 2026?",
    "slug": "btc-150k",
    "active": "true",
    "volume": "1250000.5",
    "endDate": "2026-12-31T00:00:00Z",
    "markets": [{"id": "m1", "question": "BTC 150k?", "outcomes": "[\"Yes\",\"No\"]", "outcomePrices": "[\"0.35\",\"0.65\"]"}]
  },
  {
    "id": "904",
    "title": "Fed decision",
    "active": true,
    "volume24hr": 42,
    "markets": [{"id": "m2", "question": "Fed cut?", "outcomePrices": "garbage"}]
  }
]`

func TestListActiveEvents(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("path = %q, want /events", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(eventsBody))
	}))
	defer srv.Close()

	events, err := NewGammaClient(srv.URL, time.Second).ListActiveEvents(context.Background(), 25)
	if err != nil {
		t.Fatalf("ListActiveEvents: %v", err)
	}
	if want := "active=true&closed=false&limit=25&order=volume"; gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}

	first := events[0].ToDiscoveredEvent()
	if first.ID != "903" || first.YesPrice != 0.35 || first.NoPrice != 0.65 || first.Volume != 1250000.5 {
		t.Errorf("first = %+v", first)
	}
	second := events[1].ToDiscoveredEvent()
	if second.YesPrice != 0.5 || second.NoPrice != 0.5 || second.Volume != 42 {
		t.Errorf("second = %+v", second)
	}
}

func TestGetEvent_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		_, err := NewGammaClient(srv.URL, time.Second).GetEvent(context.Background(), "x")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestToOddsSnapshot_MultiMarket(t *testing.T) {
	ev := APIEvent{
		ID:    "big12",
		Title: "Big 12 Championship",
		Markets: []APIMarket{
			{Question: "Will Kansas State win the 2025 Big 12 Championship Game?", OutcomePrices: `["0.2","0.8"]`},
			{Question: "Will the Texas Tech Red Raiders win the 2025 Big 12 Championship Game?", OutcomePrices: `["0.55","0.45"]`},
			{Question: "Will Bitcoin reach $120,000 by December 31?", OutcomePrices: `["0.1","0.9"]`},
			{Question: "Will BYU win?", OutcomePrices: `["0","1"]`},
		},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := ev.ToOddsSnapshot("big12", now)
	if snap.YesPrice != 0.2 || snap.Question != "Big 12 Championship" || !snap.UpdatedAt.Equal(now) {
		t.Errorf("snap = %+v", snap)
	}
	want := []domain.Outcome{
		{Name: "Texas Tech Red Raiders", Price: 0.55},
		{Name: "Kansas State", Price: 0.2},
		{Name: "$120,000+", Price: 0.1},
	}
	if len(snap.Outcomes) != len(want) {
		t.Fatalf("outcomes = %+v, want %+v", snap.Outcomes, want)
	}
	for i := range want {
		if snap.Outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %+v, want %+v", i, snap.Outcomes[i], want[i])
		}
	}
}
