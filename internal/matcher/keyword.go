package matcher

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// KeywordMatcher is a deterministic, deliberately strict rule matcher. It
// only answers when the text names both the topic and some context that
// points at a specific kind of market.
type KeywordMatcher struct {
	logger *slog.Logger
	rules  []rule
}

type rule struct {
	name  string
	match func(text string, events []domain.DiscoveredEvent) (int, bool)
}

// NewKeywordMatcher creates a KeywordMatcher.
func NewKeywordMatcher(logger *slog.Logger) *KeywordMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordMatcher{
		logger: logger.With(slog.String("component", "matcher.keyword")),
		rules: []rule{
			{"crypto", matchCrypto},
			{"trump", matchTrump},
			{"politics", matchPolitics},
			{"fed", matchFed},
			{"ai", matchAI},
			{"ceo", matchCEO},
			{"versus", matchVersus},
			{"super_bowl", matchSuperBowl},
			{"college_football", matchCollegeFootball},
			{"nfl_conference", matchNFLConference},
			{"premier_league", matchPremierLeague},
		},
	}
}

// Match implements Matcher. It never returns an error.
func (m *KeywordMatcher) Match(ctx context.Context, text string, events []domain.DiscoveredEvent) (string, bool, error) {
	lower := strings.ToLower(text)
	for _, r := range m.rules {
		if i, ok := r.match(lower, events); ok {
			m.logger.DebugContext(ctx, "matched",
				slog.String("rule", r.name),
				slog.String("event", events[i].ID),
			)
			return events[i].ID, true, nil
		}
	}
	return "", false, nil
}

var _ Matcher = (*KeywordMatcher)(nil)

type cryptoAsset struct {
	name    string
	aliases []string
}

var cryptoAssets = []cryptoAsset{
	{"bitcoin", []string{"bitcoin", "btc", "$btc"}},
	{"ethereum", []string{"ethereum", "eth", "$eth", "ether"}},
	{"solana", []string{"solana", "sol", "$sol"}},
	{"xrp", []string{"xrp", "$xrp", "ripple"}},
	{"dogecoin", []string{"doge", "dogecoin", "$doge"}},
}

var priceKeywords = []string{
	"pump", "dump", "moon", "crash", "bullish", "bearish",
	"surge", "plunge", "rally", "ath", "all time high",
	"price", "hit", "100k", "150k", "200k", "$", "target",
	"2025", "2026", "prediction", "year", "end of", "eoy",
}

func matchCrypto(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, priceKeywords) {
		return 0, false
	}
	for _, asset := range cryptoAssets {
		if !hasAnyWord(text, asset.aliases) {
			continue
		}
		if i, ok := find(events, func(q string) bool {
			return strings.Contains(q, asset.name) && (strings.Contains(q, "price") || mentions(q, "hit"))
		}); ok {
			return i, true
		}
		if i, ok := find(events, func(q string) bool { return strings.Contains(q, asset.name) }); ok {
			return i, true
		}
	}
	return 0, false
}

func matchTrump(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{"trump", "donald", "maga", "47", "potus"}) {
		return 0, false
	}
	if mentionsAny(text, []string{"deport", "immigration", "border"}) {
		if i, ok := find(events, func(q string) bool {
			return strings.Contains(q, "trump") && strings.Contains(q, "deport")
		}); ok {
			return i, true
		}
	}
	if mentionsAny(text, []string{"cabinet", "secretary", "appointment"}) {
		if i, ok := find(events, func(q string) bool {
			return strings.Contains(q, "trump") && (strings.Contains(q, "cabinet") || strings.Contains(q, "secretary"))
		}); ok {
			return i, true
		}
	}
	return find(events, func(q string) bool { return strings.Contains(q, "trump") })
}

func matchPolitics(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{
		"election", "president", "vote", "democrat", "republican", "nominee",
		"candidate", "2028", "2024", "congress", "senate",
	}) {
		return 0, false
	}
	return find(events, func(q string) bool {
		return mentionsAny(q, []string{"election", "president", "nominee", "congress", "senate"})
	})
}

func matchFed(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{
		"fed", "federal reserve", "interest rate", "rate cut", "rate hike",
		"fomc", "powell", "recession", "inflation",
	}) {
		return 0, false
	}
	if mentionsAny(text, []string{"cut", "hike"}) {
		if i, ok := find(events, func(q string) bool {
			return (mentions(q, "fed") && strings.Contains(q, "rate")) ||
				strings.Contains(q, "rate cut") || strings.Contains(q, "rate hike")
		}); ok {
			return i, true
		}
	}
	return find(events, func(q string) bool {
		return mentionsAny(q, []string{"fed", "recession", "inflation"})
	})
}

func matchAI(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{
		"ai", "agi", "artificial intelligence", "openai", "chatgpt", "gpt",
		"claude", "gemini", "llm",
	}) {
		return 0, false
	}
	return find(events, func(q string) bool {
		return mentionsAny(q, []string{"ai", "agi", "artificial intelligence", "openai"})
	})
}

func matchCEO(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{"ceo", "fired", "resign", "step down", "leadership"}) {
		return 0, false
	}
	return find(events, func(q string) bool { return mentions(q, "ceo") })
}

var versusSplit = regexp.MustCompile(`\s+vs\.?\s+`)

// matchVersus requires the text to name a word of both sides of a
// "A vs B" market.
func matchVersus(text string, events []domain.DiscoveredEvent) (int, bool) {
	for i, ev := range events {
		q := strings.ToLower(ev.Title)
		parts := versusSplit.Split(q, -1)
		if len(parts) != 2 {
			continue
		}
		if sideMentioned(text, parts[0]) && sideMentioned(text, parts[1]) {
			return i, true
		}
	}
	return 0, false
}

func sideMentioned(text, side string) bool {
	for _, w := range strings.Fields(side) {
		w = strings.Trim(w, "?!.,:;()\"'")
		if len(w) > 4 && hasWord(text, w) {
			return true
		}
	}
	return false
}

func matchSuperBowl(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{"super bowl", "superbowl"}) {
		return 0, false
	}
	return find(events, func(q string) bool { return strings.Contains(q, "super bowl") })
}

type conference struct {
	name  string
	teams []string
}

var cfbConferences = []conference{
	{"big 12", []string{"big 12", "byu", "tcu", "texas tech", "ttu", "oklahoma state", "kansas state", "iowa state", "cincinnati", "ucf", "houston"}},
	{"sec", []string{"sec", "alabama", "georgia", "lsu", "tennessee", "texas", "oklahoma", "florida", "auburn", "ole miss"}},
	{"big 10", []string{"big 10", "ohio state", "michigan", "penn state", "wisconsin", "iowa", "oregon", "usc"}},
	{"acc", []string{"acc", "clemson", "florida state", "miami", "nc state", "duke", "louisville", "virginia tech"}},
}

var cfbKeywords = []string{"championship", "title", "playoff", "cfp", "ranked", "top 10", "top 12"}

func matchCollegeFootball(text string, events []domain.DiscoveredEvent) (int, bool) {
	text = strings.NewReplacer("big12", "big 12", "big10", "big 10").Replace(text)
	if !mentionsAny(text, cfbKeywords) {
		return 0, false
	}
	playoff := mentionsAny(text, []string{"playoff", "cfp"})
	for _, conf := range cfbConferences {
		if !mentionsAny(text, conf.teams) {
			continue
		}
		if i, ok := find(events, func(q string) bool {
			return mentions(q, conf.name) && (strings.Contains(q, "championship") || strings.Contains(q, "winner"))
		}); ok {
			return i, true
		}
		if playoff {
			if i, ok := find(events, func(q string) bool { return strings.Contains(q, "college football champion") }); ok {
				return i, true
			}
		}
	}
	return 0, false
}

var (
	nfcTeams = []string{"nfc", "eagles", "cowboys", "commanders", "49ers", "seahawks", "rams", "cardinals", "packers", "bears", "lions", "vikings", "saints", "falcons", "panthers", "buccaneers"}
	afcTeams = []string{"afc", "chiefs", "bills", "dolphins", "jets", "patriots", "ravens", "bengals", "steelers", "browns", "texans", "colts", "jaguars", "titans", "broncos", "raiders", "chargers"}
)

func matchNFLConference(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, []string{"champion", "super bowl", "playoff"}) {
		return 0, false
	}
	if mentionsAny(text, nfcTeams) {
		if i, ok := find(events, func(q string) bool { return strings.Contains(q, "nfc champion") }); ok {
			return i, true
		}
	}
	if mentionsAny(text, afcTeams) {
		if i, ok := find(events, func(q string) bool { return strings.Contains(q, "afc champion") }); ok {
			return i, true
		}
	}
	return 0, false
}

var plTeams = []string{"arsenal", "manchester city", "man city", "liverpool", "chelsea", "tottenham", "spurs", "manchester united", "man united"}

func matchPremierLeague(text string, events []domain.DiscoveredEvent) (int, bool) {
	if !mentionsAny(text, plTeams) || !mentionsAny(text, []string{"title", "champion", "league"}) {
		return 0, false
	}
	return find(events, func(q string) bool { return strings.Contains(q, "premier league") })
}

// find returns the index of the first event whose lowercased title
// satisfies pred.
func find(events []domain.DiscoveredEvent, pred func(q string) bool) (int, bool) {
	for i, ev := range events {
		if pred(strings.ToLower(ev.Title)) {
			return i, true
		}
	}
	return 0, false
}

func mentionsAny(text string, kws []string) bool {
	for _, kw := range kws {
		if mentions(text, kw) {
			return true
		}
	}
	return false
}

// mentions reports whether text contains kw. Short alphanumeric keywords
// ("ai", "fed", "47") must stand alone as a word; longer ones match as
// substrings so "deport" also finds "deportation".
func mentions(text, kw string) bool {
	if len(kw) <= 3 && isWord(kw) {
		return hasWord(text, kw)
	}
	return strings.Contains(text, kw)
}

func hasAnyWord(text string, words []string) bool {
	for _, w := range words {
		if hasWord(text, w) {
			return true
		}
	}
	return false
}

// hasWord reports whether w occurs in text with no letter or digit
// directly before or after it.
func hasWord(text, w string) bool {
	if w == "" {
		return false
	}
	for from := 0; from < len(text); {
		j := strings.Index(text[from:], w)
		if j < 0 {
			return false
		}
		start, end := from+j, from+j+len(w)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWord(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
