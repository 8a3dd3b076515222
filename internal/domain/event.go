package domain

import "time"

// DiscoveredEvent is a candidate proposition from the market data provider.
// It is descriptive only and never consulted for settlement.
type DiscoveredEvent struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Slug     string  `json:"slug,omitempty"`
	Volume   float64 `json:"volume"`
	YesPrice float64 `json:"yesPrice"`
	NoPrice  float64 `json:"noPrice"`
	EndDate  string  `json:"endDate,omitempty"`
}

// OddsSnapshot is a point-in-time price view of an event.
type OddsSnapshot struct {
	EventID   string    `json:"eventId"`
	Question  string    `json:"question"`
	YesPrice  float64   `json:"yesPrice"`
	NoPrice   float64   `json:"noPrice"`
	Volume24h float64   `json:"volume24h"`
	EndDate   string    `json:"endDate,omitempty"`
	// Outcomes is filled for events that group several markets, one
	// named outcome per market, highest price first.
	Outcomes  []Outcome `json:"outcomes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Outcome is one named outcome of a multi-market event.
type Outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// TextMapping records the event a text source was matched to.
type TextMapping struct {
	SourceID   string    `json:"sourceId"`
	SourceText string    `json:"sourceText"`
	EventID    string    `json:"eventId"`
	Question   string    `json:"question"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LedgerEventType names a ledger lifecycle notification.
type LedgerEventType string

const (
	EventMarketCreated      LedgerEventType = "market_created"
	EventStakePlaced        LedgerEventType = "stake_placed"
	EventMarketResolved     LedgerEventType = "market_resolved"
	EventClaimPaid          LedgerEventType = "claim_paid"
	EventInvariantViolation LedgerEventType = "invariant_violation"
)

// LedgerEvent is published after a ledger transaction commits.
type LedgerEvent struct {
	Type        LedgerEventType `json:"type"`
	MarketID    string          `json:"marketId"`
	Participant string          `json:"participant,omitempty"`
	Side        Side            `json:"side,omitempty"`
	Amount      uint64          `json:"amount,omitempty"`
	TotalYes    uint64          `json:"totalYes"`
	TotalNo     uint64          `json:"totalNo"`
	Outcome     Side            `json:"outcome,omitempty"`
	ReceiptID   string          `json:"receiptId,omitempty"`
	Error       string          `json:"error,omitempty"`
	TsUnixMs    int64           `json:"tsUnixMs"`
}
