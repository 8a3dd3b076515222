// Package ledger implements the escrow and settlement core: market
// registration, vault custody, per-participant stake bookkeeping and
// pari-mutuel settlement.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// DefaultMaxExternalIDLen bounds market identifiers.
const DefaultMaxExternalIDLen = 50

// Config is the process-wide ledger configuration. It is injected at
// construction; nothing in this package reads globals.
type Config struct {
	// Authority is the only principal allowed to create and resolve markets.
	Authority string
	// Asset is the custody asset used when a market is created without one.
	Asset string
	// MaxExternalIDLen bounds market identifiers; 0 means the default.
	MaxExternalIDLen int
}

func (c Config) maxIDLen() int {
	if c.MaxExternalIDLen <= 0 {
		return DefaultMaxExternalIDLen
	}
	return c.MaxExternalIDLen
}

// MarketRegistry creates and looks up markets keyed by external id.
type MarketRegistry struct {
	store domain.LedgerStore
	cfg   Config
	now   func() time.Time
}

// NewMarketRegistry returns a registry over the given store.
func NewMarketRegistry(store domain.LedgerStore, cfg Config) *MarketRegistry {
	return &MarketRegistry{store: store, cfg: cfg, now: time.Now}
}

// Create provisions a market and its empty vault. Only the configured
// authority may call it.
func (r *MarketRegistry) Create(ctx context.Context, caller, externalID, asset string) (domain.Market, error) {
	if !SamePrincipal(caller, r.cfg.Authority) {
		return domain.Market{}, fmt.Errorf("ledger: create market %s by %s: %w", externalID, caller, domain.ErrUnauthorized)
	}

	if strings.TrimSpace(externalID) == "" {
		return domain.Market{}, domain.Errorf(domain.KindInvalidRequest, "market id must not be empty")
	}
	// Every other operation addresses the market by the exact id.
	if strings.TrimSpace(externalID) != externalID {
		return domain.Market{}, domain.Errorf(domain.KindInvalidRequest, "market id must not start or end with whitespace")
	}
	if len(externalID) > r.cfg.maxIDLen() {
		return domain.Market{}, domain.Errorf(domain.KindInvalidRequest,
			fmt.Sprintf("market id is longer than %d bytes", r.cfg.maxIDLen()))
	}

	asset = strings.TrimSpace(asset)
	if asset == "" {
		asset = r.cfg.Asset
	}
	if asset == "" {
		return domain.Market{}, domain.Errorf(domain.KindInvalidRequest, "custody asset must be set")
	}

	vaultID := VaultIDFor(externalID)
	m := domain.Market{
		ExternalID: externalID,
		Authority:  r.cfg.Authority,
		Asset:      asset,
		VaultID:    vaultID,
		CreatedAt:  r.now().UTC(),
	}
	v := domain.Vault{
		ID:       vaultID,
		MarketID: externalID,
		Asset:    asset,
	}

	if err := r.store.CreateMarket(ctx, m, v); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market %s: %w", externalID, err)
	}
	m.Version = 1
	return m, nil
}

// Lookup returns the market with the given external id or ErrNotFound.
func (r *MarketRegistry) Lookup(ctx context.Context, externalID string) (domain.Market, error) {
	m, err := r.store.GetMarket(ctx, externalID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: lookup %s: %w", externalID, err)
	}
	return m, nil
}

// List returns markets newest first.
func (r *MarketRegistry) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := r.store.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list markets: %w", err)
	}
	return markets, nil
}

// VaultIDFor derives the vault identity from the market identity.
func VaultIDFor(externalID string) string {
	return ethcrypto.Keccak256Hash([]byte("vault"), []byte(externalID)).Hex()
}

// SamePrincipal compares principals, ignoring hex-address letter case.
func SamePrincipal(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
