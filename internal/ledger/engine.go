package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// Verifier recovers the principal that produced an authority proof over msg.
type Verifier interface {
	Verify(msg []byte, proof domain.AuthorityProof) (string, error)
}

// Observer is told about committed ledger transitions. Calls happen after
// the market transaction has finished and must not block for long.
type Observer interface {
	MarketCreated(ctx context.Context, m domain.Market)
	StakePlaced(ctx context.Context, res StakeResult)
	MarketResolved(ctx context.Context, m domain.Market)
	ClaimPaid(ctx context.Context, p domain.Payout)
	InvariantViolated(ctx context.Context, marketID string, err error)
}

type nopObserver struct{}

func (nopObserver) MarketCreated(context.Context, domain.Market) {}
func (nopObserver) StakePlaced(context.Context, StakeResult) {}
func (nopObserver) MarketResolved(context.Context, domain.Market) {}
func (nopObserver) ClaimPaid(context.Context, domain.Payout) {}
func (nopObserver) InvariantViolated(context.Context, string, error) {}

// StakeResult is the committed outcome of PlaceStake.
type StakeResult struct {
	Market  domain.Market      `json:"market"`
	Stake   domain.StakeRecord `json:"stake"`
	Side    domain.Side        `json:"side"`
	Amount  uint64             `json:"amount"`
	Receipt domain.Receipt     `json:"receipt"`
}

// ReconcileReport is the outcome of a conservation check.
type ReconcileReport struct {
	MarketID      string   `json:"marketId"`
	TotalYes      uint64   `json:"totalYes"`
	TotalNo       uint64   `json:"totalNo"`
	SumYes        uint64   `json:"sumYes"`
	SumNo         uint64   `json:"sumNo"`
	VaultBalance  uint64   `json:"vaultBalance"`
	Released      uint64   `json:"released"`
	Participants  int      `json:"participants"`
	Claimed       int      `json:"claimed"`
	OK            bool     `json:"ok"`
	Discrepancies []string `json:"discrepancies,omitempty"`
}

// Engine orchestrates the market lifecycle: staking, resolution and
// exactly-once claims. Each operation runs in one market-scoped transaction.
type Engine struct {
	cfg      Config
	store    domain.LedgerStore
	registry *MarketRegistry
	vault    *EscrowVault
	stakes   *StakeLedger
	verifier Verifier
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires the ledger components over store.
func NewEngine(cfg Config, store domain.LedgerStore, verifier Verifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: NewMarketRegistry(store, cfg),
		vault:    NewEscrowVault(),
		stakes:   NewStakeLedger(store),
		verifier: verifier,
		observer: nopObserver{},
		logger:   logger.With(slog.String("component", "ledger")),
		now:      time.Now,
	}
}

// WithObserver sets the observer notified after commits.
func (e *Engine) WithObserver(o Observer) *Engine {
	if o != nil {
		e.observer = o
	}
	return e
}

// Authority returns the configured authority principal.
func (e *Engine) Authority() string { return e.cfg.Authority }

// CreateMarket registers a new market on behalf of caller.
func (e *Engine) CreateMarket(ctx context.Context, caller, externalID, asset string) (domain.Market, error) {
	m, err := e.registry.Create(ctx, caller, externalID, asset)
	if err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "market created",
		slog.String("market", m.ExternalID),
		slog.String("vault", m.VaultID),
		slog.String("asset", m.Asset),
	)
	e.observer.MarketCreated(ctx, m)
	return m, nil
}

// Lookup returns a market by external id.
func (e *Engine) Lookup(ctx context.Context, externalID string) (domain.Market, error) {
	return e.registry.Lookup(ctx, externalID)
}

// ListMarkets returns registered markets.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return e.registry.List(ctx, opts)
}

// GetStake returns the participant's committed stake record.
func (e *Engine) GetStake(ctx context.Context, marketID, participant string) (domain.StakeRecord, error) {
	rec, err := e.stakes.Get(ctx, marketID, participant)
	if err != nil {
		return domain.StakeRecord{}, fmt.Errorf("ledger: stake %s/%s: %w", marketID, participant, err)
	}
	return rec, nil
}

// NextStakeNonce returns the nonce the participant's next signed stake on
// marketID must carry.
func (e *Engine) NextStakeNonce(ctx context.Context, marketID, participant string) (uint64, error) {
	if _, err := e.registry.Lookup(ctx, marketID); err != nil {
		return 0, err
	}
	rec, err := e.stakes.Get(ctx, marketID, participant)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return 1, nil
	case err != nil:
		return 0, fmt.Errorf("ledger: stake nonce %s/%s: %w", marketID, participant, err)
	}
	return rec.Nonce + 1, nil
}

// PlaceStake escrows amount from participant and records it on the chosen
// side. The deposit, the stake record and the market totals commit together.
// The caller vouches for the participant; requests from outside the process
// go through PlaceSignedStake.
func (e *Engine) PlaceStake(ctx context.Context, marketID, participant string, amount uint64, sideIsYes bool) (StakeResult, error) {
	return e.placeStake(ctx, marketID, participant, amount, sideIsYes, 0)
}

// PlaceSignedStake places the stake described by in. The proof must verify
// to in.Participant over StakeMessage, and in.Nonce must be the record's
// next nonce, so a signed intent moves funds at most once.
func (e *Engine) PlaceSignedStake(ctx context.Context, marketID string, in domain.StakeIntent, proof domain.AuthorityProof) (StakeResult, error) {
	if in.Participant == "" {
		return StakeResult{}, domain.Errorf(domain.KindInvalidRequest, "participant must be set")
	}
	if in.Side != domain.SideYes && in.Side != domain.SideNo {
		return StakeResult{}, domain.Errorf(domain.KindInvalidRequest, fmt.Sprintf("unknown side %q", in.Side))
	}
	if in.Nonce == 0 {
		return StakeResult{}, domain.Errorf(domain.KindInvalidRequest, "nonce must be at least 1")
	}
	signer, err := e.verifier.Verify(domain.StakeMessage(marketID, in), proof)
	if err != nil {
		return StakeResult{}, fmt.Errorf("ledger: stake on %s: %v: %w", marketID, err, domain.ErrUnauthorized)
	}
	if !SamePrincipal(signer, in.Participant) {
		return StakeResult{}, fmt.Errorf("ledger: stake on %s: signed by %s, not %s: %w",
			marketID, signer, in.Participant, domain.ErrUnauthorized)
	}
	return e.placeStake(ctx, marketID, in.Participant, in.Amount, in.Side == domain.SideYes, in.Nonce)
}

// placeStake runs one stake transaction. A non-zero nonce must equal the
// participant's next nonce and is consumed on commit.
func (e *Engine) placeStake(ctx context.Context, marketID, participant string, amount uint64, sideIsYes bool, nonce uint64) (StakeResult, error) {
	if participant == "" {
		return StakeResult{}, domain.Errorf(domain.KindInvalidRequest, "participant must be set")
	}
	side := domain.SideOf(sideIsYes)

	var res StakeResult
	err := e.store.InMarket(ctx, marketID, func(tx domain.MarketTx) error {
		m := tx.Market()
		if m.Resolved {
			return domain.ErrMarketAlreadyResolved
		}
		if amount == 0 || amount > domain.MaxAmount {
			return domain.ErrInvalidAmount
		}
		if m.TotalPool() > domain.MaxAmount-amount {
			return fmt.Errorf("pool would exceed %d: %w", domain.MaxAmount, domain.ErrInvalidAmount)
		}

		if nonce != 0 {
			want, err := e.stakes.NextNonce(ctx, tx, participant)
			if err != nil {
				return err
			}
			if nonce != want {
				return domain.Errorf(domain.KindUnauthorized, fmt.Sprintf("stake nonce %d is not the next nonce %d", nonce, want))
			}
		}

		receipt, err := e.vault.Deposit(ctx, tx, participant, amount)
		if err != nil {
			return err
		}
		var rec domain.StakeRecord
		if nonce != 0 {
			rec, err = e.stakes.RecordSignedStake(ctx, tx, participant, side, amount, nonce)
		} else {
			rec, err = e.stakes.RecordStake(ctx, tx, participant, side, amount)
		}
		if err != nil {
			return err
		}

		if sideIsYes {
			m.TotalYes += amount
		} else {
			m.TotalNo += amount
		}
		stored, err := tx.PutMarket(ctx, m)
		if err != nil {
			return err
		}

		res = StakeResult{Market: stored, Stake: rec, Side: side, Amount: amount, Receipt: receipt}
		return nil
	})
	if err != nil {
		return StakeResult{}, fmt.Errorf("ledger: stake on %s: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "stake placed",
		slog.String("market", marketID),
		slog.String("participant", participant),
		slog.String("side", string(side)),
		slog.Uint64("amount", amount),
		slog.Uint64("total_yes", res.Market.TotalYes),
		slog.Uint64("total_no", res.Market.TotalNo),
	)
	e.observer.StakePlaced(ctx, res)
	return res, nil
}

// Resolve records the outcome. The proof must verify to the market's
// authority; a market resolves at most once.
func (e *Engine) Resolve(ctx context.Context, marketID string, proof domain.AuthorityProof, outcomeIsYes bool) (domain.Market, error) {
	signer, err := e.verifier.Verify(domain.ResolutionMessage(marketID, outcomeIsYes), proof)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: resolve %s: %v: %w", marketID, err, domain.ErrUnauthorized)
	}

	var resolved domain.Market
	err = e.store.InMarket(ctx, marketID, func(tx domain.MarketTx) error {
		m := tx.Market()
		if !SamePrincipal(signer, m.Authority) {
			return domain.ErrUnauthorized
		}
		if m.Resolved {
			return domain.ErrMarketAlreadyResolved
		}
		at := e.now().UTC()
		m.Resolved = true
		m.Outcome = outcomeIsYes
		m.ResolvedAt = &at
		stored, err := tx.PutMarket(ctx, m)
		if err != nil {
			return err
		}
		resolved = stored
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: resolve %s: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market", marketID),
		slog.String("outcome", string(resolved.WinningSide())),
		slog.Uint64("total_yes", resolved.TotalYes),
		slog.Uint64("total_no", resolved.TotalNo),
	)
	e.observer.MarketResolved(ctx, resolved)
	return resolved, nil
}

// Claim pays a winning participant their pro-rata share of the pool. The
// claimed flag and the vault release commit together, so a failed release
// leaves the participant unclaimed.
func (e *Engine) Claim(ctx context.Context, marketID, participant string) (domain.Payout, error) {
	var payout domain.Payout
	err := e.store.InMarket(ctx, marketID, func(tx domain.MarketTx) error {
		m := tx.Market()
		if !m.Resolved {
			return domain.ErrMarketNotResolved
		}
		rec, ok, err := tx.Stake(ctx, participant)
		if err != nil {
			return err
		}
		if ok && rec.Claimed {
			return domain.ErrAlreadyClaimed
		}
		winning := rec.AmountOn(m.WinningSide())
		if !ok || winning == 0 {
			return domain.ErrLosingBet
		}

		amount, err := ComputePayout(winning, m.TotalPool(), m.WinningPool())
		if err != nil {
			return err
		}
		if _, err := e.stakes.MarkClaimed(ctx, tx, participant); err != nil {
			return err
		}
		receipt, err := e.vault.Release(ctx, tx, amount, participant)
		if err != nil {
			return err
		}
		final, err := allClaimed(ctx, tx, m.WinningSide())
		if err != nil {
			return err
		}
		payout = domain.Payout{MarketID: marketID, Participant: participant, Amount: amount, Receipt: receipt, Final: final}
		return nil
	})
	if err != nil {
		if domain.IsFatal(err) {
			e.logger.ErrorContext(ctx, "claim broke vault invariant",
				slog.String("market", marketID),
				slog.String("participant", participant),
				slog.String("error", err.Error()),
			)
			e.observer.InvariantViolated(ctx, marketID, err)
		}
		return domain.Payout{}, fmt.Errorf("ledger: claim %s: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "claim paid",
		slog.String("market", marketID),
		slog.String("participant", participant),
		slog.Uint64("amount", payout.Amount),
		slog.String("receipt", payout.Receipt.ID),
	)
	e.observer.ClaimPaid(ctx, payout)
	return payout, nil
}

// allClaimed reports whether every stake on the winning side is claimed.
func allClaimed(ctx context.Context, tx domain.MarketTx, winning domain.Side) (bool, error) {
	stakes, err := tx.Stakes(ctx)
	if err != nil {
		return false, err
	}
	for _, rec := range stakes {
		if rec.AmountOn(winning) > 0 && !rec.Claimed {
			return false, nil
		}
	}
	return true, nil
}

// Snapshot reads market, vault and stake records in one transaction.
func (e *Engine) Snapshot(ctx context.Context, marketID string) (domain.Settlement, error) {
	var s domain.Settlement
	err := e.store.InMarket(ctx, marketID, func(tx domain.MarketTx) error {
		stakes, err := tx.Stakes(ctx)
		if err != nil {
			return err
		}
		s = domain.Settlement{
			Market:  tx.Market(),
			Vault:   tx.Vault(),
			Stakes:  stakes,
			TakenAt: e.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("ledger: snapshot %s: %w", marketID, err)
	}
	return s, nil
}

// errReconcile marks a conservation mismatch found by Reconcile.
var errReconcile = errors.New("ledger state does not reconcile")

// Reconcile checks that market totals equal the stake record sums and that
// the vault holds exactly the pool minus what it has released.
func (e *Engine) Reconcile(ctx context.Context, marketID string) (ReconcileReport, error) {
	s, err := e.Snapshot(ctx, marketID)
	if err != nil {
		return ReconcileReport{}, err
	}
	r := CheckSettlement(s)
	if !r.OK {
		err := fmt.Errorf("ledger: reconcile %s: %v: %w", marketID, r.Discrepancies, errReconcile)
		e.logger.ErrorContext(ctx, "ledger does not reconcile",
			slog.String("market", marketID),
			slog.Any("discrepancies", r.Discrepancies),
		)
		e.observer.InvariantViolated(ctx, marketID, err)
	}
	return r, nil
}

// CheckSettlement evaluates the conservation invariants over a snapshot.
func CheckSettlement(s domain.Settlement) ReconcileReport {
	r := ReconcileReport{
		MarketID:     s.Market.ExternalID,
		TotalYes:     s.Market.TotalYes,
		TotalNo:      s.Market.TotalNo,
		VaultBalance: s.Vault.Balance,
		Released:     s.Vault.Released,
		Participants: len(s.Stakes),
	}
	for _, rec := range s.Stakes {
		r.SumYes += rec.AmountYes
		r.SumNo += rec.AmountNo
		if rec.Claimed {
			r.Claimed++
		}
	}

	if r.SumYes != r.TotalYes {
		r.Discrepancies = append(r.Discrepancies, fmt.Sprintf("totalYes %d != sum of stakes %d", r.TotalYes, r.SumYes))
	}
	if r.SumNo != r.TotalNo {
		r.Discrepancies = append(r.Discrepancies, fmt.Sprintf("totalNo %d != sum of stakes %d", r.TotalNo, r.SumNo))
	}
	pool := s.Market.TotalPool()
	if r.Released > pool || r.VaultBalance != pool-r.Released {
		r.Discrepancies = append(r.Discrepancies,
			fmt.Sprintf("vault balance %d != pool %d - released %d", r.VaultBalance, pool, r.Released))
	}
	r.OK = len(r.Discrepancies) == 0
	return r
}
