package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

var testEvents = []domain.DiscoveredEvent{
	{ID: "btc-100k-2025", Title: "Will Bitcoin hit $100k by 2025?"},
	{ID: "eth-10k", Title: "Will Ethereum reach $10,000?"},
	{ID: "trump-2024", Title: "Will Trump win the 2024 presidential election?"},
	{ID: "fed-rate-cut", Title: "Will the Fed cut rates in December 2024?"},
	{ID: "ai-agi-2025", Title: "Will AGI be achieved by 2025?"},
	{ID: "kc-phi", Title: "Chiefs vs. Eagles"},
	{ID: "big12", Title: "Big 12 Championship Winner"},
	{ID: "epl", Title: "Premier League Winner 2025-26"},
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestKeywordMatcher(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Bitcoin is going to the moon, 100k soon!", "btc-100k-2025"},
		{"$ETH price target this cycle", "eth-10k"},
		{"Trump holding another event tonight", "trump-2024"},
		{"Powell hints at a rate cut next month", "fed-rate-cut"},
		{"New GPT model dropped, AGI is close", "ai-agi-2025"},
		{"Chiefs host the Eagles on Sunday night", "kc-phi"},
		{"Texas Tech is headed to the big12 title game", "big12"},
		{"Arsenal finally winning the league?", "epl"},
		{"I just like bitcoin", ""},
		{"He said the lunch was fine", ""},
		{"", ""},
	}
	m := NewKeywordMatcher(discard())
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok, err := m.Match(context.Background(), tt.text, testEvents)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if ok != (tt.want != "") || got != tt.want {
				t.Errorf("Match(%q) = %q, %v, want %q", tt.text, got, ok, tt.want)
			}
		})
	}
}

func TestHasWord(t *testing.T) {
	tests := []struct {
		text, word string
		want       bool
	}{
		{"buy $btc now", "btc", true},
		{"buy $btc now", "$btc", true},
		{"solana", "sol", false},
		{"the fed.", "fed", true},
		{"fedex", "fed", false},
	}
	for _, tt := range tests {
		if got := hasWord(tt.text, tt.word); got != tt.want {
			t.Errorf("hasWord(%q, %q) = %v, want %v", tt.text, tt.word, got, tt.want)
		}
	}
}

type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestAIMatcher(t *testing.T) {
	tests := []struct {
		name   string
		gen    *fakeGenerator
		text   string
		want   string
		wantOK bool
	}{
		{"known id", &fakeGenerator{answer: "\"eth-10k\"\n"}, "anything", "eth-10k", true},
		{"null", &fakeGenerator{answer: "null"}, "anything", "", false},
		{"invented id", &fakeGenerator{answer: "eth-20k"}, "anything", "", false},
		{"error falls back", &fakeGenerator{err: errors.New("quota")}, "Trump again", "trump-2024", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAIMatcher(tt.gen, NewKeywordMatcher(discard()), discard())
			got, ok, err := m.Match(context.Background(), tt.text, testEvents)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Match = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestAIMatcher_NoEvents(t *testing.T) {
	gen := &fakeGenerator{answer: "x"}
	m := NewAIMatcher(gen, NewKeywordMatcher(discard()), discard())
	if _, ok, _ := m.Match(context.Background(), "text", nil); ok {
		t.Error("matched with no events")
	}
	if gen.prompt != "" {
		t.Error("model called with no events")
	}
}

func TestNew(t *testing.T) {
	m, err := New(Config{Provider: "ai"}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.(*KeywordMatcher); !ok {
		t.Errorf("ai without key = %T, want *KeywordMatcher", m)
	}
	m, err = New(Config{Provider: "AI", APIKey: "k"}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.(*AIMatcher); !ok {
		t.Errorf("ai with key = %T, want *AIMatcher", m)
	}
	if _, err := New(Config{Provider: "oracle"}, discard()); err == nil {
		t.Error("unknown provider accepted")
	}
}
