package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/platform/polymarket"
)

// EventAPI is the subset of the Gamma client the services use.
type EventAPI interface {
	ListActiveEvents(ctx context.Context, limit int) ([]polymarket.APIEvent, error)
	GetEvent(ctx context.Context, id string) (polymarket.APIEvent, error)
}

// mockCatalogue is served when the provider is unreachable or empty, so
// matching keeps working in development.
var mockCatalogue = []domain.DiscoveredEvent{
	{ID: "btc-100k-2025", Title: "Will Bitcoin hit $100k by 2025?", Volume: 15_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2025-12-31"},
	{ID: "eth-10k", Title: "Will Ethereum reach $10,000?", Volume: 8_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2025-06-30"},
	{ID: "solana-500", Title: "Will Solana hit $500?", Volume: 5_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2025-06-30"},
	{ID: "trump-2024", Title: "Will Trump win the 2024 presidential election?", Volume: 50_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2024-11-05"},
	{ID: "fed-rate-cut", Title: "Will the Fed cut rates in December 2024?", Volume: 12_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2024-12-31"},
	{ID: "spacex-starship", Title: "Will SpaceX Starship reach orbit by end of 2024?", Volume: 3_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2024-12-31"},
	{ID: "ai-agi-2025", Title: "Will AGI be achieved by 2025?", Volume: 2_000_000, YesPrice: 0.5, NoPrice: 0.5, EndDate: "2025-12-31"},
}

// MockEvent returns the built-in catalogue entry for id.
func MockEvent(id string) (domain.DiscoveredEvent, bool) {
	for _, ev := range mockCatalogue {
		if ev.ID == id {
			return ev, true
		}
	}
	return domain.DiscoveredEvent{}, false
}

// DiscoveryService lists candidate events. Results are descriptive only
// and never feed settlement.
type DiscoveryService struct {
	api    EventAPI
	limit  int
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	events  []domain.DiscoveredEvent
	live    bool
	fetched time.Time
}

// NewDiscoveryService creates a DiscoveryService. Successful live listings
// are reused for ttl; zero disables reuse.
func NewDiscoveryService(api EventAPI, limit int, ttl time.Duration, logger *slog.Logger) *DiscoveryService {
	if limit <= 0 {
		limit = 50
	}
	return &DiscoveryService{
		api:    api,
		limit:  limit,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// List returns active events ordered by volume. live is false when the
// built-in catalogue was served instead.
func (s *DiscoveryService) List(ctx context.Context) (events []domain.DiscoveredEvent, live bool) {
	s.mu.Lock()
	if s.live && s.ttl > 0 && s.now().Sub(s.fetched) < s.ttl {
		events = s.events
		s.mu.Unlock()
		return events, true
	}
	s.mu.Unlock()

	apiEvents, err := s.api.ListActiveEvents(ctx, s.limit)
	if err != nil {
		s.logger.WarnContext(ctx, "discovery_service: list events failed, using catalogue",
			slog.String("error", err.Error()),
		)
		return mockCatalogue, false
	}
	if len(apiEvents) == 0 {
		s.logger.WarnContext(ctx, "discovery_service: provider returned no events, using catalogue")
		return mockCatalogue, false
	}

	events = make([]domain.DiscoveredEvent, 0, len(apiEvents))
	for i := range apiEvents {
		ev := apiEvents[i].ToDiscoveredEvent()
		if ev.ID == "" {
			continue
		}
		events = append(events, ev)
	}

	s.mu.Lock()
	s.events, s.live, s.fetched = events, true, s.now()
	s.mu.Unlock()
	return events, true
}
