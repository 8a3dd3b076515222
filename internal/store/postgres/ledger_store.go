package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// ErrStaleVersion is returned when a versioned UPDATE matched no row.
var ErrStaleVersion = errors.New("postgres: stale version")

const uniqueViolation = "23505"

const marketColumns = `external_id, authority, asset, vault_id, total_yes, total_no,
	resolved, outcome, version, created_at, resolved_at`

const vaultColumns = `id, market_id, asset, balance, released, version`

const stakeColumns = `market_id, participant, amount_yes, amount_no, claimed, nonce, version,
	created_at, updated_at`

// LedgerStore implements domain.LedgerStore on PostgreSQL. Market-scoped
// transactions take row locks on the market and its vault.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// CreateMarket inserts the market and its vault in one transaction.
func (s *LedgerStore) CreateMarket(ctx context.Context, m domain.Market, v domain.Vault) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO markets (external_id, authority, asset, vault_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING`,
		m.ExternalID, m.Authority, m.Asset, m.VaultID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateMarket
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO vaults (id, market_id, asset) VALUES ($1, $2, $3)`,
		v.ID, v.MarketID, v.Asset,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateMarket
		}
		return fmt.Errorf("postgres: insert vault %s: %w", v.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ExternalID, err)
	}
	return nil
}

// GetMarket returns the market with the given external id.
func (s *LedgerStore) GetMarket(ctx context.Context, externalID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE external_id = $1`, externalID)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", externalID, err)
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *LedgerStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	var args []any
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC, external_id"
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// GetVault returns the vault of a market.
func (s *LedgerStore) GetVault(ctx context.Context, marketID string) (domain.Vault, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE market_id = $1`, marketID)
	v, err := scanVault(row)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", marketID, err)
	}
	return v, nil
}

// GetStake returns a participant's stake record.
func (s *LedgerStore) GetStake(ctx context.Context, marketID, participant string) (domain.StakeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stakeColumns+` FROM stake_records WHERE market_id = $1 AND participant_key = $2`,
		marketID, strings.ToLower(participant))
	rec, err := scanStake(row)
	if err != nil {
		return domain.StakeRecord{}, fmt.Errorf("postgres: get stake %s/%s: %w", marketID, participant, err)
	}
	return rec, nil
}

// ListStakes returns every stake record of a market.
func (s *LedgerStore) ListStakes(ctx context.Context, marketID string) ([]domain.StakeRecord, error) {
	return listStakes(ctx, s.pool, marketID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listStakes(ctx context.Context, q querier, marketID string) ([]domain.StakeRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT `+stakeColumns+` FROM stake_records WHERE market_id = $1 ORDER BY participant_key`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes %s: %w", marketID, err)
	}
	defer rows.Close()

	out := []domain.StakeRecord{}
	for rows.Next() {
		rec, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list stakes rows: %w", err)
	}
	return out, nil
}

// ListJournal returns a market's vault journal in append order.
func (s *LedgerStore) ListJournal(ctx context.Context, marketID string) ([]domain.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT receipt_id::text, vault_id, market_id, kind, counterparty, amount, balance_after, created_at
		FROM vault_journal WHERE market_id = $1 ORDER BY id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e             domain.JournalEntry
			kind          string
			amount, after int64
		)
		if err := rows.Scan(&e.ReceiptID, &e.VaultID, &e.MarketID, &kind, &e.Counterparty, &amount, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal: %w", err)
		}
		e.Kind = domain.ReceiptKind(kind)
		e.Amount, e.BalanceAfter = uint64(amount), uint64(after)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list journal rows: %w", err)
	}
	return out, nil
}

// InMarket opens a transaction, locks the market and vault rows with
// SELECT ... FOR UPDATE and hands them to fn. Transactions on different
// markets only contend on shared participant accounts.
func (s *LedgerStore) InMarket(ctx context.Context, marketID string, fn func(tx domain.MarketTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin market tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMarket(tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE external_id = $1 FOR UPDATE`, marketID))
	if err != nil {
		return fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}
	v, err := scanVault(tx.QueryRow(ctx,
		`SELECT `+vaultColumns+` FROM vaults WHERE market_id = $1 FOR UPDATE`, marketID))
	if err != nil {
		return fmt.Errorf("postgres: lock vault %s: %w", marketID, err)
	}

	if err := fn(&marketTx{tx: tx, market: m, vault: v}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market tx %s: %w", marketID, err)
	}
	return nil
}

type marketTx struct {
	tx     pgx.Tx
	market domain.Market
	vault  domain.Vault
}

func (t *marketTx) Market() domain.Market { return t.market }
func (t *marketTx) Vault() domain.Vault   { return t.vault }

func (t *marketTx) PutMarket(ctx context.Context, m domain.Market) (domain.Market, error) {
	yes, err := toBigint(m.TotalYes)
	if err != nil {
		return domain.Market{}, err
	}
	no, err := toBigint(m.TotalNo)
	if err != nil {
		return domain.Market{}, err
	}
	err = t.tx.QueryRow(ctx, `
		UPDATE markets SET
			total_yes   = $2,
			total_no    = $3,
			resolved    = $4,
			outcome     = $5,
			resolved_at = $6,
			version     = version + 1
		WHERE external_id = $1 AND version = $7
		RETURNING version`,
		m.ExternalID, yes, no, m.Resolved, m.Outcome, m.ResolvedAt, m.Version,
	).Scan(&m.Version)
	if err != nil {
		return domain.Market{}, versioned("market "+m.ExternalID, err)
	}
	t.market = m
	return m, nil
}

func (t *marketTx) PutVault(ctx context.Context, v domain.Vault) (domain.Vault, error) {
	bal, err := toBigint(v.Balance)
	if err != nil {
		return domain.Vault{}, err
	}
	rel, err := toBigint(v.Released)
	if err != nil {
		return domain.Vault{}, err
	}
	err = t.tx.QueryRow(ctx, `
		UPDATE vaults SET balance = $2, released = $3, version = version + 1
		WHERE id = $1 AND version = $4
		RETURNING version`,
		v.ID, bal, rel, v.Version,
	).Scan(&v.Version)
	if err != nil {
		return domain.Vault{}, versioned("vault "+v.ID, err)
	}
	t.vault = v
	return v, nil
}

func (t *marketTx) Stake(ctx context.Context, participant string) (domain.StakeRecord, bool, error) {
	rec, err := scanStake(t.tx.QueryRow(ctx,
		`SELECT `+stakeColumns+` FROM stake_records WHERE market_id = $1 AND participant_key = $2`,
		t.market.ExternalID, strings.ToLower(participant)))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.StakeRecord{}, false, nil
	}
	if err != nil {
		return domain.StakeRecord{}, false, fmt.Errorf("postgres: read stake %s: %w", participant, err)
	}
	return rec, true, nil
}

func (t *marketTx) Stakes(ctx context.Context) ([]domain.StakeRecord, error) {
	return listStakes(ctx, t.tx, t.market.ExternalID)
}

func (t *marketTx) PutStake(ctx context.Context, rec domain.StakeRecord) (domain.StakeRecord, error) {
	yes, err := toBigint(rec.AmountYes)
	if err != nil {
		return domain.StakeRecord{}, err
	}
	no, err := toBigint(rec.AmountNo)
	if err != nil {
		return domain.StakeRecord{}, err
	}
	nonce, err := toBigint(rec.Nonce)
	if err != nil {
		return domain.StakeRecord{}, err
	}
	rec.MarketID = t.market.ExternalID

	if rec.Version == 0 {
		err = t.tx.QueryRow(ctx, `
			INSERT INTO stake_records (market_id, participant, participant_key, amount_yes, amount_no,
				claimed, nonce, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (market_id, participant_key) DO NOTHING
			RETURNING version`,
			rec.MarketID, rec.Participant, strings.ToLower(rec.Participant), yes, no,
			rec.Claimed, nonce, rec.CreatedAt, rec.UpdatedAt,
		).Scan(&rec.Version)
	} else {
		err = t.tx.QueryRow(ctx, `
			UPDATE stake_records SET
				amount_yes = $3,
				amount_no  = $4,
				claimed    = $5,
				nonce      = $6,
				updated_at = $7,
				version    = version + 1
			WHERE market_id = $1 AND participant_key = $2 AND version = $8
			RETURNING version`,
			rec.MarketID, strings.ToLower(rec.Participant), yes, no, rec.Claimed, nonce, rec.UpdatedAt, rec.Version,
		).Scan(&rec.Version)
	}
	if err != nil {
		return domain.StakeRecord{}, versioned("stake "+rec.Participant, err)
	}
	return rec, nil
}

func (t *marketTx) Debit(ctx context.Context, owner, asset string, amount uint64) error {
	amt, err := toBigint(amount)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance = balance - $3, version = version + 1, updated_at = NOW()
		WHERE owner = $1 AND asset = $2 AND balance >= $3`,
		strings.ToLower(owner), asset, amt)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", owner, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransferFailed
	}
	return nil
}

func (t *marketTx) Credit(ctx context.Context, owner, asset string, amount uint64) error {
	amt, err := toBigint(amount)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, creditSQL, strings.ToLower(owner), asset, amt); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", owner, err)
	}
	return nil
}

const creditSQL = `
	INSERT INTO accounts (owner, asset, balance) VALUES ($1, $2, $3)
	ON CONFLICT (owner, asset) DO UPDATE SET
		balance    = accounts.balance + EXCLUDED.balance,
		version    = accounts.version + 1,
		updated_at = NOW()
	RETURNING owner, asset, balance, version, updated_at`

func (t *marketTx) AppendJournal(ctx context.Context, e domain.JournalEntry) error {
	amt, err := toBigint(e.Amount)
	if err != nil {
		return err
	}
	after, err := toBigint(e.BalanceAfter)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO vault_journal (receipt_id, vault_id, market_id, kind, counterparty, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ReceiptID, e.VaultID, e.MarketID, string(e.Kind), e.Counterparty, amt, after, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: append journal %s: %w", e.ReceiptID, err)
	}
	return nil
}

func versioned(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", what, ErrStaleVersion)
	}
	return fmt.Errorf("postgres: write %s: %w", what, err)
}

func toBigint(v uint64) (int64, error) {
	if v > domain.MaxAmount {
		return 0, fmt.Errorf("postgres: %d exceeds bigint: %w", v, domain.ErrInvalidAmount)
	}
	return int64(v), nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		yes, no   int64
		createdAt time.Time
	)
	err := row.Scan(&m.ExternalID, &m.Authority, &m.Asset, &m.VaultID, &yes, &no,
		&m.Resolved, &m.Outcome, &m.Version, &createdAt, &m.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, err
	}
	m.TotalYes, m.TotalNo = uint64(yes), uint64(no)
	m.CreatedAt = createdAt.UTC()
	return m, nil
}

func scanVault(row pgx.Row) (domain.Vault, error) {
	var (
		v             domain.Vault
		bal, released int64
	)
	if err := row.Scan(&v.ID, &v.MarketID, &v.Asset, &bal, &released, &v.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, domain.ErrNotFound
		}
		return domain.Vault{}, err
	}
	v.Balance, v.Released = uint64(bal), uint64(released)
	return v, nil
}

func scanStake(row pgx.Row) (domain.StakeRecord, error) {
	var (
		rec     domain.StakeRecord
		yes, no int64
		nonce   int64
	)
	err := row.Scan(&rec.MarketID, &rec.Participant, &yes, &no, &rec.Claimed, &nonce, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StakeRecord{}, domain.ErrNotFound
		}
		return domain.StakeRecord{}, err
	}
	rec.AmountYes, rec.AmountNo, rec.Nonce = uint64(yes), uint64(no), uint64(nonce)
	return rec, nil
}

var (
	_ domain.LedgerStore = (*LedgerStore)(nil)
	_ domain.MarketTx    = (*marketTx)(nil)
)
