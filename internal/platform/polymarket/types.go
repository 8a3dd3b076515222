package polymarket

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Gamma sends volumes
// both ways depending on the endpoint; anything unparseable reads as 0.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = 0
		return nil
	}
	n, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
	*f = flexFloat(n)
	return nil
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Active      flexBool    `json:"active"`
	Closed      bool        `json:"closed"`
	Volume      flexFloat   `json:"volume"`
	Volume24hr  flexFloat   `json:"volume24hr"`
	EndDate     string      `json:"endDate"`
	Markets     []APIMarket `json:"markets"`
}

// APIMarket represents a market nested in a Gamma event.
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        bool      `json:"closed"`
	Outcomes      string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Volume        flexFloat `json:"volume"`
	VolumeNum     flexFloat `json:"volumeNum"`
	EndDate       string    `json:"endDate"`
	EndDateISO    string    `json:"endDateIso"`
}

// Prices decodes OutcomePrices into the YES and NO price. A missing or
// malformed field yields 0.5/0.5 and ok=false; a single price is used for
// both sides.
func (m *APIMarket) Prices() (yes, no float64, ok bool) {
	var raw []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &raw); err != nil || len(raw) == 0 {
		return 0.5, 0.5, false
	}
	yes, err := strconv.ParseFloat(raw[0], 64)
	if err != nil {
		return 0.5, 0.5, false
	}
	no = yes
	if len(raw) > 1 {
		if v, err := strconv.ParseFloat(raw[1], 64); err == nil {
			no = v
		}
	}
	return yes, no, true
}

// OutcomeNames decodes Outcomes, defaulting to Yes/No.
func (m *APIMarket) OutcomeNames() []string {
	var names []string
	if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil || len(names) == 0 {
		return []string{"Yes", "No"}
	}
	return names
}

// volume picks the first non-zero of the event and first-market volumes.
func (e *APIEvent) volume() float64 {
	for _, v := range []flexFloat{e.Volume24hr, e.Volume} {
		if v > 0 {
			return float64(v)
		}
	}
	if len(e.Markets) > 0 {
		m := e.Markets[0]
		if m.VolumeNum > 0 {
			return float64(m.VolumeNum)
		}
		return float64(m.Volume)
	}
	return 0
}

func (e *APIEvent) endDate() string {
	if e.EndDate != "" {
		return e.EndDate
	}
	if len(e.Markets) > 0 {
		if e.Markets[0].EndDate != "" {
			return e.Markets[0].EndDate
		}
		return e.Markets[0].EndDateISO
	}
	return ""
}

func (e *APIEvent) title() string {
	if e.Title != "" {
		return e.Title
	}
	if len(e.Markets) > 0 {
		return e.Markets[0].Question
	}
	return ""
}

// ToDiscoveredEvent converts an APIEvent to a domain.DiscoveredEvent priced
// from its first market.
func (e *APIEvent) ToDiscoveredEvent() domain.DiscoveredEvent {
	ev := domain.DiscoveredEvent{
		ID:       e.ID,
		Title:    e.title(),
		Slug:     e.Slug,
		Volume:   e.volume(),
		YesPrice: 0.5,
		NoPrice:  0.5,
		EndDate:  e.endDate(),
	}
	if ev.ID == "" && len(e.Markets) > 0 {
		ev.ID = e.Markets[0].ID
	}
	if len(e.Markets) > 0 {
		ev.YesPrice, ev.NoPrice, _ = e.Markets[0].Prices()
	}
	return ev
}

// ToOddsSnapshot converts an APIEvent into an odds snapshot. Events with more
// than two markets also carry one named outcome per market.
func (e *APIEvent) ToOddsSnapshot(eventID string, now time.Time) domain.OddsSnapshot {
	ev := e.ToDiscoveredEvent()
	snap := domain.OddsSnapshot{
		EventID:   eventID,
		Question:  ev.Title,
		YesPrice:  ev.YesPrice,
		NoPrice:   ev.NoPrice,
		Volume24h: ev.Volume,
		EndDate:   ev.EndDate,
		UpdatedAt: now,
	}
	if len(e.Markets) > 2 {
		snap.Outcomes = multiOutcomes(e.Markets)
	}
	return snap
}

var (
	willWinRe  = regexp.MustCompile(`(?i)will (.+?) win`)
	reachRe    = regexp.MustCompile(`(?i)reach \$?([\d,]+)`)
	dipRe      = regexp.MustCompile(`(?i)dip to \$?([\d,]+)`)
	ceoRe      = regexp.MustCompile(`(?i)(.+?) out as (.+?) CEO`)
	thePrefix  = regexp.MustCompile(`(?i)^the\s+`)
	minOutcome = 0.001
)

// outcomeName derives a short label from a per-outcome market question,
// e.g. "Will Kansas State win the Big 12?" -> "Kansas State".
func outcomeName(m *APIMarket) string {
	q := m.Question
	switch {
	case willWinRe.MatchString(q):
		return thePrefix.ReplaceAllString(willWinRe.FindStringSubmatch(q)[1], "")
	case reachRe.MatchString(q):
		return "$" + reachRe.FindStringSubmatch(q)[1] + "+"
	case dipRe.MatchString(q):
		return "<=$" + dipRe.FindStringSubmatch(q)[1]
	case ceoRe.MatchString(q):
		sub := ceoRe.FindStringSubmatch(q)
		return sub[1] + " (" + sub[2] + ")"
	}
	if names := m.OutcomeNames(); names[0] != "Yes" {
		return names[0]
	}
	if len(q) > 30 {
		return q[:30] + "..."
	}
	return q
}

func multiOutcomes(markets []APIMarket) []domain.Outcome {
	var out []domain.Outcome
	for i := range markets {
		yes, _, ok := markets[i].Prices()
		if !ok || yes <= minOutcome {
			continue
		}
		out = append(out, domain.Outcome{Name: strings.TrimSpace(outcomeName(&markets[i])), Price: yes})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}
