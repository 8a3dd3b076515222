package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// StakeLedger keeps one record per (market, participant). Records are
// created lazily on the first stake and never deleted.
type StakeLedger struct {
	store domain.LedgerStore
	now   func() time.Time
}

// NewStakeLedger returns a stake ledger reading through store.
func NewStakeLedger(store domain.LedgerStore) *StakeLedger {
	return &StakeLedger{store: store, now: time.Now}
}

// RecordStake adds amount to the participant's cumulative stake on side.
func (l *StakeLedger) RecordStake(ctx context.Context, tx domain.MarketTx, participant string, side domain.Side, amount uint64) (domain.StakeRecord, error) {
	return l.record(ctx, tx, participant, side, amount, 0)
}

// NextNonce returns the nonce the participant's next signed stake in this
// market must carry.
func (l *StakeLedger) NextNonce(ctx context.Context, tx domain.MarketTx, participant string) (uint64, error) {
	rec, _, err := tx.Stake(ctx, participant)
	if err != nil {
		return 0, fmt.Errorf("ledger: read stake %s: %w", participant, err)
	}
	return rec.Nonce + 1, nil
}

// RecordSignedStake records a stake and consumes nonce. The caller has
// checked nonce against NextNonce in the same transaction.
func (l *StakeLedger) RecordSignedStake(ctx context.Context, tx domain.MarketTx, participant string, side domain.Side, amount, nonce uint64) (domain.StakeRecord, error) {
	return l.record(ctx, tx, participant, side, amount, nonce)
}

// record adds amount on side; a non-zero nonce replaces the record's nonce.
func (l *StakeLedger) record(ctx context.Context, tx domain.MarketTx, participant string, side domain.Side, amount, nonce uint64) (domain.StakeRecord, error) {
	rec, ok, err := tx.Stake(ctx, participant)
	if err != nil {
		return domain.StakeRecord{}, fmt.Errorf("ledger: read stake %s: %w", participant, err)
	}
	now := l.now().UTC()
	if !ok {
		rec = domain.StakeRecord{
			MarketID:    tx.Market().ExternalID,
			Participant: participant,
			CreatedAt:   now,
		}
	}

	switch side {
	case domain.SideYes:
		if rec.AmountYes > domain.MaxAmount-amount {
			return domain.StakeRecord{}, fmt.Errorf("ledger: stake of %s overflows: %w", participant, domain.ErrInvalidAmount)
		}
		rec.AmountYes += amount
	case domain.SideNo:
		if rec.AmountNo > domain.MaxAmount-amount {
			return domain.StakeRecord{}, fmt.Errorf("ledger: stake of %s overflows: %w", participant, domain.ErrInvalidAmount)
		}
		rec.AmountNo += amount
	default:
		return domain.StakeRecord{}, domain.Errorf(domain.KindInvalidRequest, fmt.Sprintf("unknown side %q", side))
	}
	if nonce != 0 {
		rec.Nonce = nonce
	}
	rec.UpdatedAt = now

	stored, err := tx.PutStake(ctx, rec)
	if err != nil {
		return domain.StakeRecord{}, fmt.Errorf("ledger: write stake %s: %w", participant, err)
	}
	return stored, nil
}

// MarkClaimed flips the claimed flag. It fails with ErrNotFound when the
// participant never staked and ErrAlreadyClaimed on a second call.
func (l *StakeLedger) MarkClaimed(ctx context.Context, tx domain.MarketTx, participant string) (domain.StakeRecord, error) {
	rec, ok, err := tx.Stake(ctx, participant)
	if err != nil {
		return domain.StakeRecord{}, fmt.Errorf("ledger: read stake %s: %w", participant, err)
	}
	if !ok {
		return domain.StakeRecord{}, fmt.Errorf("ledger: stake %s: %w", participant, domain.ErrNotFound)
	}
	if rec.Claimed {
		return domain.StakeRecord{}, domain.ErrAlreadyClaimed
	}
	rec.Claimed = true
	rec.UpdatedAt = l.now().UTC()
	return tx.PutStake(ctx, rec)
}

// Get returns a committed stake record.
func (l *StakeLedger) Get(ctx context.Context, marketID, participant string) (domain.StakeRecord, error) {
	return l.store.GetStake(ctx, marketID, participant)
}

// List returns every committed stake record of a market.
func (l *StakeLedger) List(ctx context.Context, marketID string) ([]domain.StakeRecord, error) {
	return l.store.ListStakes(ctx, marketID)
}
