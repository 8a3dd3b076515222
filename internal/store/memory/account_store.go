package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// Fund credits amount to the owner's account, creating it on first use.
func (s *Store) Fund(_ context.Context, owner, asset string, amount uint64) (domain.Account, error) {
	if amount == 0 || amount > domain.MaxAmount {
		return domain.Account{}, domain.ErrInvalidAmount
	}
	k := keyOf(owner, asset)
	s.accMu.Lock()
	defer s.accMu.Unlock()

	acct, ok := s.accounts[k]
	if !ok {
		acct = domain.Account{Owner: k.owner, Asset: asset}
	}
	if acct.Balance > domain.MaxAmount-amount {
		return domain.Account{}, fmt.Errorf("memory: fund %s: %w", owner, domain.ErrInvalidAmount)
	}
	acct.Balance += amount
	acct.Version++
	acct.UpdatedAt = s.now().UTC()
	s.accounts[k] = acct
	return acct, nil
}

// GetAccount returns the owner's account in asset.
func (s *Store) GetAccount(_ context.Context, owner, asset string) (domain.Account, error) {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	acct, ok := s.accounts[keyOf(owner, asset)]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", owner, domain.ErrNotFound)
	}
	return acct, nil
}

var _ domain.AccountStore = (*Store)(nil)

// AuditLog is an in-memory append-only audit log.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditLog returns an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Log appends an entry.
func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	out := make([]domain.AuditEntry, 0, len(a.entries))
	for _, e := range a.entries {
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, opts), nil
}

var _ domain.AuditStore = (*AuditLog)(nil)
