// Package matcher pairs free text (a post, a headline) with one of the
// discovered prediction-market events.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/platform/gemini"
)

// Matcher picks the event a text is about. ok is false when nothing
// matches with confidence.
type Matcher interface {
	Match(ctx context.Context, text string, events []domain.DiscoveredEvent) (eventID string, ok bool, err error)
}

// Provider names.
const (
	ProviderKeyword = "keyword"
	ProviderAI      = "ai"
)

// Config selects and configures a matcher.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Models   []string
	Timeout  time.Duration
}

// New returns the configured matcher. The AI provider without an API key
// degrades to keyword matching.
func New(cfg Config, logger *slog.Logger) (Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kw := NewKeywordMatcher(logger)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderKeyword:
		return kw, nil
	case ProviderAI:
		if strings.TrimSpace(cfg.APIKey) == "" {
			logger.Warn("matcher: ai provider without api key, using keyword matching")
			return kw, nil
		}
		client, err := gemini.New(gemini.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Models:  cfg.Models,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("matcher: %w", err)
		}
		return NewAIMatcher(client, kw, logger), nil
	default:
		return nil, fmt.Errorf("matcher: unknown provider %q", cfg.Provider)
	}
}
