package domain

import (
	"math"
	"time"
)

// MaxAmount bounds every amount, total and balance so they fit the signed
// 64-bit columns of the relational store.
const MaxAmount uint64 = math.MaxInt64

// Side is one of the two outcomes of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// SideOf maps the boolean outcome flag to a Side.
func SideOf(isYes bool) Side {
	if isYes {
		return SideYes
	}
	return SideNo
}

// ParseSide accepts YES/NO in any case.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "YES", "yes", "Yes", "y", "Y":
		return SideYes, true
	case "NO", "no", "No", "n", "N":
		return SideNo, true
	}
	return "", false
}

// Market tracks the aggregate stakes and resolution state of one binary
// proposition. Markets are never deleted.
type Market struct {
	ExternalID string     `json:"externalId"`
	Authority  string     `json:"authority"`
	Asset      string     `json:"asset"`
	VaultID    string     `json:"vaultId"`
	TotalYes   uint64     `json:"totalYes"`
	TotalNo    uint64     `json:"totalNo"`
	Resolved   bool       `json:"resolved"`
	Outcome    bool       `json:"outcome"` // meaningful only when Resolved
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// TotalPool is the combined stake on both sides.
func (m Market) TotalPool() uint64 { return m.TotalYes + m.TotalNo }

// WinningPool is the total staked on the resolved outcome.
func (m Market) WinningPool() uint64 {
	if m.Outcome {
		return m.TotalYes
	}
	return m.TotalNo
}

// WinningSide returns the resolved side, or "" while the market is open.
func (m Market) WinningSide() Side {
	if !m.Resolved {
		return ""
	}
	return SideOf(m.Outcome)
}

// Vault custodies every unit staked on one market.
type Vault struct {
	ID       string `json:"id"`
	MarketID string `json:"marketId"`
	Asset    string `json:"asset"`
	Balance  uint64 `json:"balance"`
	Released uint64 `json:"released"` // sum of payouts
	Version  int64  `json:"version"`
}

// StakeRecord is one participant's cumulative exposure in one market.
type StakeRecord struct {
	MarketID    string    `json:"marketId"`
	Participant string    `json:"participant"`
	AmountYes   uint64    `json:"amountYes"`
	AmountNo    uint64    `json:"amountNo"`
	Claimed     bool      `json:"claimed"`
	// Nonce counts the signed stake intents accepted for this record.
	Nonce       uint64    `json:"nonce"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AmountOn returns the cumulative stake on the given side.
func (s StakeRecord) AmountOn(side Side) uint64 {
	if side == SideYes {
		return s.AmountYes
	}
	return s.AmountNo
}

// ReceiptKind distinguishes vault movements.
type ReceiptKind string

const (
	ReceiptDeposit ReceiptKind = "deposit"
	ReceiptRelease ReceiptKind = "release"
)

// Receipt acknowledges a single vault movement.
type Receipt struct {
	ID           string      `json:"id"`
	VaultID      string      `json:"vaultId"`
	MarketID     string      `json:"marketId"`
	Kind         ReceiptKind `json:"kind"`
	Counterparty string      `json:"counterparty"`
	Amount       uint64      `json:"amount"`
	BalanceAfter uint64      `json:"balanceAfter"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// JournalEntry builds the append-only journal row for this receipt.
func (r Receipt) JournalEntry() JournalEntry {
	return JournalEntry{
		ReceiptID:    r.ID,
		VaultID:      r.VaultID,
		MarketID:     r.MarketID,
		Kind:         r.Kind,
		Counterparty: r.Counterparty,
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		CreatedAt:    r.CreatedAt,
	}
}

// JournalEntry is an append-only vault movement row.
type JournalEntry struct {
	ReceiptID    string      `json:"receiptId"`
	VaultID      string      `json:"vaultId"`
	MarketID     string      `json:"marketId"`
	Kind         ReceiptKind `json:"kind"`
	Counterparty string      `json:"counterparty"`
	Amount       uint64      `json:"amount"`
	BalanceAfter uint64      `json:"balanceAfter"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Payout is the result of a successful claim.
type Payout struct {
	MarketID    string  `json:"marketId"`
	Participant string  `json:"participant"`
	Amount      uint64  `json:"amount"`
	Receipt     Receipt `json:"receipt"`
	// Final is set on the claim that leaves no winning stake unclaimed.
	Final       bool    `json:"final"`
}

// Account is a participant's transfer-capable balance in one asset.
type Account struct {
	Owner     string    `json:"owner"`
	Asset     string    `json:"asset"`
	Balance   uint64    `json:"balance"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settlement is a consistent snapshot of one market's ledger state.
type Settlement struct {
	Market  Market        `json:"market"`
	Vault   Vault         `json:"vault"`
	Stakes  []StakeRecord `json:"stakes"`
	TakenAt time.Time     `json:"takenAt"`
}
