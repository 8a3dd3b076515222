// Package memory implements the ledger store in process memory. It backs
// tests and the "memory" store backend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// ErrStaleVersion is returned when a Put carries an outdated version.
var ErrStaleVersion = errors.New("memory: stale version")

type accountKey struct {
	owner string
	asset string
}

func keyOf(owner, asset string) accountKey {
	return accountKey{owner: strings.ToLower(owner), asset: asset}
}

// marketState holds one market's committed rows. txMu serialises market
// transactions; dataMu guards the committed rows against concurrent readers.
type marketState struct {
	txMu sync.Mutex

	dataMu  sync.RWMutex
	market  domain.Market
	vault   domain.Vault
	stakes  map[string]domain.StakeRecord
	journal []domain.JournalEntry
}

// Store is an in-memory LedgerStore and AccountStore.
type Store struct {
	mu      sync.RWMutex
	markets map[string]*marketState

	accMu    sync.Mutex
	accounts map[accountKey]domain.Account

	now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		markets:  make(map[string]*marketState),
		accounts: make(map[accountKey]domain.Account),
		now:      time.Now,
	}
}

func (s *Store) state(marketID string) (*marketState, error) {
	s.mu.RLock()
	st, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: market %s: %w", marketID, domain.ErrNotFound)
	}
	return st, nil
}

// CreateMarket inserts a market and its vault.
func (s *Store) CreateMarket(_ context.Context, m domain.Market, v domain.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ExternalID]; ok {
		return domain.ErrDuplicateMarket
	}
	m.Version = 1
	v.Version = 1
	s.markets[m.ExternalID] = &marketState{
		market: m,
		vault:  v,
		stakes: make(map[string]domain.StakeRecord),
	}
	return nil
}

// GetMarket returns the committed market.
func (s *Store) GetMarket(_ context.Context, externalID string) (domain.Market, error) {
	st, err := s.state(externalID)
	if err != nil {
		return domain.Market{}, err
	}
	st.dataMu.RLock()
	defer st.dataMu.RUnlock()
	return st.market, nil
}

// ListMarkets returns markets newest first, honouring opts.
func (s *Store) ListMarkets(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	states := make([]*marketState, 0, len(s.markets))
	for _, st := range s.markets {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var out []domain.Market
	for _, st := range states {
		st.dataMu.RLock()
		m := st.market
		st.dataMu.RUnlock()
		if opts.Since != nil && m.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !m.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// GetVault returns the committed vault of a market.
func (s *Store) GetVault(_ context.Context, marketID string) (domain.Vault, error) {
	st, err := s.state(marketID)
	if err != nil {
		return domain.Vault{}, err
	}
	st.dataMu.RLock()
	defer st.dataMu.RUnlock()
	return st.vault, nil
}

// GetStake returns a committed stake record.
func (s *Store) GetStake(_ context.Context, marketID, participant string) (domain.StakeRecord, error) {
	st, err := s.state(marketID)
	if err != nil {
		return domain.StakeRecord{}, err
	}
	st.dataMu.RLock()
	defer st.dataMu.RUnlock()
	rec, ok := st.stakes[strings.ToLower(participant)]
	if !ok {
		return domain.StakeRecord{}, fmt.Errorf("memory: stake %s/%s: %w", marketID, participant, domain.ErrNotFound)
	}
	return rec, nil
}

// ListStakes returns every stake record of a market ordered by participant.
func (s *Store) ListStakes(_ context.Context, marketID string) ([]domain.StakeRecord, error) {
	st, err := s.state(marketID)
	if err != nil {
		return nil, err
	}
	st.dataMu.RLock()
	defer st.dataMu.RUnlock()
	return sortedStakes(st.stakes), nil
}

func sortedStakes(m map[string]domain.StakeRecord) []domain.StakeRecord {
	out := make([]domain.StakeRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Participant < out[j].Participant })
	return out
}

// ListJournal returns the vault journal of a market in append order.
func (s *Store) ListJournal(_ context.Context, marketID string) ([]domain.JournalEntry, error) {
	st, err := s.state(marketID)
	if err != nil {
		return nil, err
	}
	st.dataMu.RLock()
	defer st.dataMu.RUnlock()
	out := make([]domain.JournalEntry, len(st.journal))
	copy(out, st.journal)
	return out, nil
}

// InMarket runs fn under the market's transaction lock. Staged writes are
// published on success; eager account debits are undone on failure.
func (s *Store) InMarket(ctx context.Context, marketID string, fn func(tx domain.MarketTx) error) error {
	st, err := s.state(marketID)
	if err != nil {
		return err
	}
	st.txMu.Lock()
	defer st.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	st.dataMu.RLock()
	tx := &marketTx{
		store:  s,
		market: st.market,
		vault:  st.vault,
		base:   st.stakes,
		staged: make(map[string]domain.StakeRecord),
	}
	st.dataMu.RUnlock()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit(st)
	return nil
}

type transfer struct {
	key    accountKey
	amount uint64
}

type marketTx struct {
	store *Store

	market  domain.Market
	vault   domain.Vault
	base    map[string]domain.StakeRecord
	staged  map[string]domain.StakeRecord
	journal []domain.JournalEntry

	debits  []transfer
	credits []transfer
}

var _ domain.MarketTx = (*marketTx)(nil)

func (t *marketTx) Market() domain.Market { return t.market }
func (t *marketTx) Vault() domain.Vault   { return t.vault }

func (t *marketTx) PutMarket(_ context.Context, m domain.Market) (domain.Market, error) {
	if m.ExternalID != t.market.ExternalID || m.Version != t.market.Version {
		return domain.Market{}, fmt.Errorf("market %s v%d: %w", m.ExternalID, m.Version, ErrStaleVersion)
	}
	m.Version++
	t.market = m
	return m, nil
}

func (t *marketTx) PutVault(_ context.Context, v domain.Vault) (domain.Vault, error) {
	if v.ID != t.vault.ID || v.Version != t.vault.Version {
		return domain.Vault{}, fmt.Errorf("vault %s v%d: %w", v.ID, v.Version, ErrStaleVersion)
	}
	v.Version++
	t.vault = v
	return v, nil
}

func (t *marketTx) Stake(_ context.Context, participant string) (domain.StakeRecord, bool, error) {
	k := strings.ToLower(participant)
	if rec, ok := t.staged[k]; ok {
		return rec, true, nil
	}
	rec, ok := t.base[k]
	return rec, ok, nil
}

func (t *marketTx) Stakes(_ context.Context) ([]domain.StakeRecord, error) {
	merged := make(map[string]domain.StakeRecord, len(t.base)+len(t.staged))
	for k, rec := range t.base {
		merged[k] = rec
	}
	for k, rec := range t.staged {
		merged[k] = rec
	}
	return sortedStakes(merged), nil
}

func (t *marketTx) PutStake(ctx context.Context, rec domain.StakeRecord) (domain.StakeRecord, error) {
	current, exists, _ := t.Stake(ctx, rec.Participant)
	switch {
	case !exists && rec.Version != 0:
		return domain.StakeRecord{}, fmt.Errorf("stake %s v%d: %w", rec.Participant, rec.Version, ErrStaleVersion)
	case exists && rec.Version != current.Version:
		return domain.StakeRecord{}, fmt.Errorf("stake %s v%d: %w", rec.Participant, rec.Version, ErrStaleVersion)
	}
	rec.MarketID = t.market.ExternalID
	rec.Version++
	t.staged[strings.ToLower(rec.Participant)] = rec
	return rec, nil
}

// Debit applies immediately so that concurrent transactions on other markets
// cannot spend the same balance; rollback restores it.
func (t *marketTx) Debit(_ context.Context, owner, asset string, amount uint64) error {
	s := t.store
	k := keyOf(owner, asset)
	s.accMu.Lock()
	defer s.accMu.Unlock()

	acct, ok := s.accounts[k]
	if !ok || acct.Balance < amount {
		return domain.ErrTransferFailed
	}
	acct.Balance -= amount
	acct.Version++
	acct.UpdatedAt = s.now().UTC()
	s.accounts[k] = acct
	t.debits = append(t.debits, transfer{key: k, amount: amount})
	return nil
}

func (t *marketTx) Credit(_ context.Context, owner, asset string, amount uint64) error {
	if owner == "" {
		return domain.ErrTransferFailed
	}
	t.credits = append(t.credits, transfer{key: keyOf(owner, asset), amount: amount})
	return nil
}

func (t *marketTx) AppendJournal(_ context.Context, e domain.JournalEntry) error {
	t.journal = append(t.journal, e)
	return nil
}

func (t *marketTx) rollback() {
	if len(t.debits) == 0 {
		return
	}
	s := t.store
	s.accMu.Lock()
	defer s.accMu.Unlock()
	for _, d := range t.debits {
		acct := s.accounts[d.key]
		acct.Balance += d.amount
		acct.Version++
		s.accounts[d.key] = acct
	}
}

func (t *marketTx) commit(st *marketState) {
	st.dataMu.Lock()
	st.market = t.market
	st.vault = t.vault
	if len(t.staged) > 0 {
		next := make(map[string]domain.StakeRecord, len(st.stakes)+len(t.staged))
		for k, rec := range st.stakes {
			next[k] = rec
		}
		for k, rec := range t.staged {
			next[k] = rec
		}
		st.stakes = next
	}
	st.journal = append(st.journal, t.journal...)
	st.dataMu.Unlock()

	if len(t.credits) == 0 {
		return
	}
	s := t.store
	now := s.now().UTC()
	s.accMu.Lock()
	defer s.accMu.Unlock()
	for _, c := range t.credits {
		acct, ok := s.accounts[c.key]
		if !ok {
			acct = domain.Account{Owner: c.key.owner, Asset: c.key.asset}
		}
		acct.Balance += c.amount
		acct.Version++
		acct.UpdatedAt = now
		s.accounts[c.key] = acct
	}
}

var _ domain.LedgerStore = (*Store)(nil)
