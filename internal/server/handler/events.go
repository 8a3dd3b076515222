package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/service"
)

// EventLister lists candidate events.
type EventLister interface {
	List(ctx context.Context) ([]domain.DiscoveredEvent, bool)
}

// OddsReader returns an event's current odds.
type OddsReader interface {
	Get(ctx context.Context, eventID string) (domain.OddsSnapshot, bool, error)
}

// TextMatcher maps free text to an event.
type TextMatcher interface {
	Match(ctx context.Context, sourceID, text string) (service.MatchResult, error)
}

// EventsHandler serves discovery, odds and text matching. None of it feeds
// settlement.
type EventsHandler struct {
	events  EventLister
	odds    OddsReader
	matcher TextMatcher
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events EventLister, odds OddsReader, matcher TextMatcher, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events:  events,
		odds:    odds,
		matcher: matcher,
		logger:  logger.With(slog.String("handler", "events")),
	}
}

// ListEvents returns candidate events and whether they came from the live
// provider.
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, live := h.events.List(r.Context())
	if events == nil {
		events = []domain.DiscoveredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"live":   live,
	})
}

// GetOdds returns the odds snapshot of one event.
// GET /api/odds/{eventID}
func (h *EventsHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	snap, cached, err := h.odds.Get(r.Context(), pathParam(r, "eventID"))
	if err != nil && domain.KindOf(err) == "" {
		h.logger.WarnContext(r.Context(), "odds lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "event provider unavailable")
		return
	}
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"odds":    snap,
		"yesOdds": service.FormatOdds(snap.YesPrice),
		"noOdds":  service.FormatOdds(snap.NoPrice),
		"volume":  service.FormatVolume(snap.Volume24h),
		"cached":  cached,
	})
}

type matchRequest struct {
	SourceID string `json:"sourceId"`
	Text     string `json:"text"`
}

// Match maps a piece of text to an event.
// POST /api/match
func (h *EventsHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	res, err := h.matcher.Match(r.Context(), strings.TrimSpace(req.SourceID), req.Text)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
