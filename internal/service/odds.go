package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// OddsService serves indicative odds for discovered events, cache first.
type OddsService struct {
	api    EventAPI
	cache  domain.OddsCache
	logger *slog.Logger
	now    func() time.Time
}

// NewOddsService creates an OddsService.
func NewOddsService(api EventAPI, cache domain.OddsCache, logger *slog.Logger) *OddsService {
	return &OddsService{api: api, cache: cache, logger: logger, now: time.Now}
}

// Get returns odds for eventID and whether they came from the cache.
// Unknown events that are in the built-in catalogue get even odds.
func (s *OddsService) Get(ctx context.Context, eventID string) (domain.OddsSnapshot, bool, error) {
	if odds, err := s.cache.GetOdds(ctx, eventID); err == nil {
		return odds, true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "odds_service: cache get failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	var odds domain.OddsSnapshot
	ev, err := s.api.GetEvent(ctx, eventID)
	switch {
	case err == nil && len(ev.Markets) > 0:
		odds = ev.ToOddsSnapshot(eventID, s.now().UTC())
	case err == nil || errors.Is(err, domain.ErrNotFound):
		mock, ok := MockEvent(eventID)
		if !ok {
			return domain.OddsSnapshot{}, false, fmt.Errorf("odds_service: event %s: %w", eventID, domain.ErrNotFound)
		}
		odds = domain.OddsSnapshot{
			EventID:   eventID,
			Question:  mock.Title,
			YesPrice:  mock.YesPrice,
			NoPrice:   mock.NoPrice,
			Volume24h: mock.Volume,
			EndDate:   mock.EndDate,
			UpdatedAt: s.now().UTC(),
		}
	default:
		return domain.OddsSnapshot{}, false, fmt.Errorf("odds_service: get event %s: %w", eventID, err)
	}

	if err := s.cache.SetOdds(ctx, odds); err != nil {
		s.logger.WarnContext(ctx, "odds_service: cache set failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
	return odds, false, nil
}

// FormatOdds renders a 0..1 price as a whole percentage, e.g. "65%".
func FormatOdds(price float64) string {
	return fmt.Sprintf("%d%%", int64(math.Round(price*100)))
}

// FormatVolume abbreviates a dollar volume: "$1.2M", "$3.4K", "$950".
func FormatVolume(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
