package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/service"
)

func TestAmounts_Parse(t *testing.T) {
	a := NewAmounts(6)
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"12.5", 12_500_000, false},
		{"1", 1_000_000, false},
		{"0.000001", 1, false},
		{"1e2", 100_000_000, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"0.0000001", 0, true},
		{"abc", 0, true},
		{"9223372036854.775807", 9_223_372_036_854_775_807, false},
		{"9223372036854.775808", 0, true},
	}
	for _, tt := range tests {
		got, err := a.Parse(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidAmount) {
				t.Errorf("Parse(%q) err = %v, want ErrInvalidAmount", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Parse(%q) = %d, %v, want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestAmounts_Format(t *testing.T) {
	a := NewAmounts(6)
	for base, want := range map[uint64]string{
		0:          "0",
		1:          "0.000001",
		12_500_000: "12.5",
		50_000_000: "50",
	} {
		if got := a.Format(base); got != want {
			t.Errorf("Format(%d) = %q, want %q", base, got, want)
		}
	}
	if got := NewAmounts(0).Format(42); got != "42" {
		t.Errorf("zero-decimal Format = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.ErrDuplicateMarket), http.StatusConflict},
		{domain.ErrMarketAlreadyResolved, http.StatusConflict},
		{domain.ErrMarketNotResolved, http.StatusConflict},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrLosingBet, http.StatusBadRequest},
		{domain.ErrTransferFailed, http.StatusPaymentRequired},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrInsufficientVaultBalance, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(domain.KindOf(tt.err)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteLedgerError_HidesInternalMessages(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeLedgerError(rec, req, logger, errors.New("pq: connection refused to 10.0.0.5"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

type fakeEvents struct{ events []domain.DiscoveredEvent }

func (f fakeEvents) List(context.Context) ([]domain.DiscoveredEvent, bool) { return f.events, true }

type fakeOdds struct {
	snap domain.OddsSnapshot
	err  error
}

func (f fakeOdds) Get(context.Context, string) (domain.OddsSnapshot, bool, error) {
	return f.snap, false, f.err
}

type fakeMatch struct{ gotSource, gotText string }

func (f *fakeMatch) Match(_ context.Context, sourceID, text string) (service.MatchResult, error) {
	f.gotSource, f.gotText = sourceID, text
	if text == "" {
		return service.MatchResult{}, domain.Errorf(domain.KindInvalidRequest, "text is required")
	}
	return service.MatchResult{Found: true, EventID: "btc-100k-2025"}, nil
}

func TestEventsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := &fakeMatch{}
	newMux := func(odds OddsReader) *http.ServeMux {
		h := NewEventsHandler(fakeEvents{events: []domain.DiscoveredEvent{{ID: "e1"}}}, odds, m, logger)
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/events", h.ListEvents)
		mux.HandleFunc("GET /api/odds/{eventID}", h.GetOdds)
		mux.HandleFunc("POST /api/match", h.Match)
		return mux
	}
	mux := newMux(fakeOdds{snap: domain.OddsSnapshot{EventID: "e1", YesPrice: 0.65, NoPrice: 0.35, Volume24h: 1_200_000}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/odds/e1", nil))
	var odds map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &odds); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || odds["yesOdds"] != "65%" || odds["volume"] != "$1.2M" {
		t.Errorf("odds = %d %v", rec.Code, odds)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/match",
		strings.NewReader(`{"sourceId":" post-1 ","text":"bitcoin to 100k"}`)))
	if rec.Code != http.StatusOK || m.gotSource != "post-1" {
		t.Errorf("match = %d, source %q", rec.Code, m.gotSource)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/match", strings.NewReader(`{"text":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty match status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"live":true`) {
		t.Errorf("events = %d %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown event", domain.ErrNotFound, http.StatusNotFound},
		{"provider down", errors.New("dial tcp: timeout"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newMux(fakeOdds{err: tt.err}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/odds/x", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
