package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Fund credits amount to the owner's account, creating it on first use.
func (s *AccountStore) Fund(ctx context.Context, owner, asset string, amount uint64) (domain.Account, error) {
	if amount == 0 {
		return domain.Account{}, domain.ErrInvalidAmount
	}
	amt, err := toBigint(amount)
	if err != nil {
		return domain.Account{}, err
	}
	a, err := scanAccount(s.pool.QueryRow(ctx, creditSQL, strings.ToLower(owner), asset, amt))
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: fund %s: %w", owner, err)
	}
	return a, nil
}

// GetAccount returns the owner's account in asset.
func (s *AccountStore) GetAccount(ctx context.Context, owner, asset string) (domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT owner, asset, balance, version, updated_at FROM accounts WHERE owner = $1 AND asset = $2`,
		strings.ToLower(owner), asset))
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", owner, err)
	}
	return a, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a   domain.Account
		bal int64
	)
	if err := row.Scan(&a.Owner, &a.Asset, &bal, &a.Version, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, err
	}
	a.Balance = uint64(bal)
	return a, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
