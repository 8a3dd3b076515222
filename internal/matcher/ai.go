package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AIMatcher asks a language model for the matching event id. Any model
// error falls back to the wrapped matcher.
type AIMatcher struct {
	gen      Generator
	fallback Matcher
	logger   *slog.Logger
}

// NewAIMatcher creates an AIMatcher.
func NewAIMatcher(gen Generator, fallback Matcher, logger *slog.Logger) *AIMatcher {
	return &AIMatcher{
		gen:      gen,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "matcher.ai")),
	}
}

const promptHeader = `You are a prediction market matchmaker for a betting platform.

I will give you a piece of text and a list of active prediction markets.
Your goal is to identify if the text is discussing the SPECIFIC event in one of the markets.

Rules:
1. Return ONLY the ID of the matching market (nothing else).
2. If no market matches with high confidence, return exactly "null".
3. Be strict. Vague or tangential matches should be rejected.
4. The text must be making a claim or discussing the specific event/outcome.
`

func buildPrompt(text string, events []domain.DiscoveredEvent) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	fmt.Fprintf(&sb, "\nText: %q\n\nActive Markets:\n", text)
	for _, ev := range events {
		fmt.Fprintf(&sb, "- ID: %s | Question: %s\n", ev.ID, ev.Title)
	}
	sb.WriteString("\nYour response (just the market ID or \"null\"):")
	return sb.String()
}

// Match implements Matcher. An id the model invents is rejected.
func (m *AIMatcher) Match(ctx context.Context, text string, events []domain.DiscoveredEvent) (string, bool, error) {
	if len(events) == 0 {
		return "", false, nil
	}
	answer, err := m.gen.Generate(ctx, buildPrompt(text, events))
	if err != nil {
		m.logger.WarnContext(ctx, "model call failed, using fallback",
			slog.String("error", err.Error()),
		)
		return m.fallback.Match(ctx, text, events)
	}

	id := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "", "`", "").Replace(answer))
	if id == "" || strings.EqualFold(id, "null") {
		return "", false, nil
	}
	for _, ev := range events {
		if ev.ID == id {
			m.logger.DebugContext(ctx, "matched", slog.String("event", id))
			return id, true, nil
		}
	}
	m.logger.DebugContext(ctx, "model returned unknown id", slog.String("id", id))
	return "", false, nil
}

var _ Matcher = (*AIMatcher)(nil)
