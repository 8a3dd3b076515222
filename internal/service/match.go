package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/matcher"
)

// mappingConfidence is recorded for every stored text mapping.
const mappingConfidence = 0.8

// MarketLookup reports whether the ledger has a market for an event id.
type MarketLookup interface {
	Lookup(ctx context.Context, externalID string) (domain.Market, error)
}

// MatchResult is the answer to a match request.
type MatchResult struct {
	Found        bool    `json:"found"`
	EventID      string  `json:"eventId,omitempty"`
	Question     string  `json:"question,omitempty"`
	YesPrice     float64 `json:"yesPrice,omitempty"`
	NoPrice      float64 `json:"noPrice,omitempty"`
	YesOdds      string  `json:"yesOdds,omitempty"`
	NoOdds       string  `json:"noOdds,omitempty"`
	Volume       string  `json:"volume,omitempty"`
	Cached       bool    `json:"cached"`
	LedgerMarket bool    `json:"ledgerMarket"`
}

// MatchService maps free text to a discovered event and its odds,
// remembering the mapping per text source.
type MatchService struct {
	mappings  domain.MappingCache
	discovery *DiscoveryService
	matcher   matcher.Matcher
	odds      *OddsService
	markets   MarketLookup
	logger    *slog.Logger
	now       func() time.Time
}

// NewMatchService creates a MatchService.
func NewMatchService(
	mappings domain.MappingCache,
	discovery *DiscoveryService,
	m matcher.Matcher,
	odds *OddsService,
	markets MarketLookup,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		mappings:  mappings,
		discovery: discovery,
		matcher:   m,
		odds:      odds,
		markets:   markets,
		logger:    logger,
		now:       time.Now,
	}
}

// Match resolves text to an event. sourceID identifies the text (a post
// id); when empty, no mapping is read or stored.
func (s *MatchService) Match(ctx context.Context, sourceID, text string) (MatchResult, error) {
	sourceID = strings.TrimSpace(sourceID)
	if strings.TrimSpace(text) == "" && sourceID == "" {
		return MatchResult{}, domain.Errorf(domain.KindInvalidRequest, "text or source id is required")
	}

	if sourceID != "" {
		m, err := s.mappings.GetMapping(ctx, sourceID)
		switch {
		case err == nil:
			res := MatchResult{Found: true, EventID: m.EventID, Question: m.Question, Cached: true}
			s.complete(ctx, &res, domain.DiscoveredEvent{})
			return res, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "match_service: mapping lookup failed",
				slog.String("source_id", sourceID),
				slog.String("error", err.Error()),
			)
		}
	}
	if strings.TrimSpace(text) == "" {
		return MatchResult{}, nil
	}

	events, live := s.discovery.List(ctx)
	id, ok, err := s.matcher.Match(ctx, text, events)
	if err != nil {
		return MatchResult{}, fmt.Errorf("match_service: match: %w", err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "match_service: no match", slog.Bool("live", live))
		return MatchResult{}, nil
	}

	var ev domain.DiscoveredEvent
	for _, e := range events {
		if e.ID == id {
			ev = e
			break
		}
	}
	res := MatchResult{Found: true, EventID: id, Question: ev.Title}

	if sourceID != "" {
		if err := s.mappings.SetMapping(ctx, domain.TextMapping{
			SourceID:   sourceID,
			SourceText: text,
			EventID:    id,
			Question:   ev.Title,
			Confidence: mappingConfidence,
			CreatedAt:  s.now().UTC(),
		}); err != nil {
			s.logger.WarnContext(ctx, "match_service: mapping store failed",
				slog.String("source_id", sourceID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.complete(ctx, &res, ev)
	return res, nil
}

// complete fills odds and ledger presence. Odds failures fall back to the
// prices carried by the discovered event.
func (s *MatchService) complete(ctx context.Context, res *MatchResult, ev domain.DiscoveredEvent) {
	yes, no, volume := ev.YesPrice, ev.NoPrice, ev.Volume
	if odds, _, err := s.odds.Get(ctx, res.EventID); err == nil {
		yes, no, volume = odds.YesPrice, odds.NoPrice, odds.Volume24h
		if res.Question == "" {
			res.Question = odds.Question
		}
	} else {
		s.logger.WarnContext(ctx, "match_service: odds unavailable",
			slog.String("event_id", res.EventID),
			slog.String("error", err.Error()),
		)
	}
	if yes == 0 && no == 0 {
		yes, no = 0.5, 0.5
	}
	res.YesPrice, res.NoPrice = yes, no
	res.YesOdds, res.NoOdds = FormatOdds(yes), FormatOdds(no)
	res.Volume = FormatVolume(volume)

	if s.markets != nil {
		if _, err := s.markets.Lookup(ctx, res.EventID); err == nil {
			res.LedgerMarket = true
		}
	}
}
