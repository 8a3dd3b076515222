package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists markets, vaults, stake records and the vault journal.
type LedgerStore interface {
	// CreateMarket inserts a market together with its empty vault. It returns
	// ErrDuplicateMarket when the external id is taken.
	CreateMarket(ctx context.Context, m Market, v Vault) error
	GetMarket(ctx context.Context, externalID string) (Market, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]Market, error)
	GetVault(ctx context.Context, marketID string) (Vault, error)
	GetStake(ctx context.Context, marketID, participant string) (StakeRecord, error)
	ListStakes(ctx context.Context, marketID string) ([]StakeRecord, error)
	ListJournal(ctx context.Context, marketID string) ([]JournalEntry, error)

	// InMarket runs fn with exclusive access to one market, its vault and its
	// stake records. Writes made through tx become visible atomically when fn
	// returns nil and are discarded otherwise. Calls for different markets
	// do not block each other. Returns ErrNotFound for an unknown market.
	InMarket(ctx context.Context, marketID string, fn func(tx MarketTx) error) error
}

// MarketTx is the unit of work handed to LedgerStore.InMarket.
//
// Put methods take the value with the version it was read at and return the
// stored copy with the version bumped by one. A stale version is rejected.
type MarketTx interface {
	Market() Market
	Vault() Vault
	PutMarket(ctx context.Context, m Market) (Market, error)
	PutVault(ctx context.Context, v Vault) (Vault, error)

	Stake(ctx context.Context, participant string) (StakeRecord, bool, error)
	Stakes(ctx context.Context) ([]StakeRecord, error)
	PutStake(ctx context.Context, s StakeRecord) (StakeRecord, error)

	// Debit moves amount out of a participant account. It returns
	// ErrTransferFailed when the account cannot supply it.
	Debit(ctx context.Context, owner, asset string, amount uint64) error
	// Credit moves amount into a participant account, creating it if needed.
	Credit(ctx context.Context, owner, asset string, amount uint64) error

	AppendJournal(ctx context.Context, e JournalEntry) error
}

// AccountStore manages participant asset accounts outside of market
// transactions.
type AccountStore interface {
	Fund(ctx context.Context, owner, asset string, amount uint64) (Account, error)
	GetAccount(ctx context.Context, owner, asset string) (Account, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
