package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/store/memory"
)

func newVaultFixture(t *testing.T) (*memory.Store, *EscrowVault, *StakeLedger) {
	t.Helper()
	store := memory.NewStore()
	reg := NewMarketRegistry(store, Config{Authority: testAuthority, Asset: testAsset})
	if _, err := reg.Create(context.Background(), testAuthority, "m1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fund(t, store, "alice", 100)
	return store, NewEscrowVault(), NewStakeLedger(store)
}

func TestEscrowVault_ReleaseMoreThanBalance(t *testing.T) {
	store, vault, _ := newVaultFixture(t)
	ctx := context.Background()

	err := store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		if _, err := vault.Deposit(ctx, tx, "alice", 40); err != nil {
			return err
		}
		_, err := vault.Release(ctx, tx, 41, "alice")
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientVaultBalance) {
		t.Fatalf("err = %v, want ErrInsufficientVaultBalance", err)
	}
	if !domain.IsFatal(err) {
		t.Error("IsFatal = false, want true")
	}

	// The whole transaction rolled back, including the deposit.
	v, _ := store.GetVault(ctx, "m1")
	if v.Balance != 0 {
		t.Errorf("vault balance = %d, want 0", v.Balance)
	}
	if got := balance(t, store, "alice"); got != 100 {
		t.Errorf("alice balance = %d, want 100", got)
	}
}

func TestEscrowVault_DepositRelease(t *testing.T) {
	store, vault, _ := newVaultFixture(t)
	ctx := context.Background()

	err := store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		if _, err := vault.Deposit(ctx, tx, "alice", 40); err != nil {
			return err
		}
		r, err := vault.Release(ctx, tx, 15, "bob")
		if err != nil {
			return err
		}
		if r.BalanceAfter != 25 {
			t.Errorf("BalanceAfter = %d, want 25", r.BalanceAfter)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InMarket: %v", err)
	}

	v, _ := store.GetVault(ctx, "m1")
	if v.Balance != 25 || v.Released != 15 {
		t.Errorf("vault = %d/%d, want 25/15", v.Balance, v.Released)
	}
	if got := balance(t, store, "bob"); got != 15 {
		t.Errorf("bob balance = %d, want 15", got)
	}
	journal, _ := store.ListJournal(ctx, "m1")
	if len(journal) != 2 || journal[1].Kind != domain.ReceiptRelease {
		t.Errorf("journal = %+v, want deposit then release", journal)
	}
}

func TestEscrowVault_DepositZero(t *testing.T) {
	store, vault, _ := newVaultFixture(t)
	ctx := context.Background()
	err := store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		_, err := vault.Deposit(ctx, tx, "alice", 0)
		return err
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestStakeLedger_MarkClaimed(t *testing.T) {
	store, _, stakes := newVaultFixture(t)
	ctx := context.Background()

	err := store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		_, err := stakes.MarkClaimed(ctx, tx, "alice")
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown participant err = %v, want ErrNotFound", err)
	}

	err = store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		if _, err := stakes.RecordStake(ctx, tx, "alice", domain.SideYes, 5); err != nil {
			return err
		}
		_, err := stakes.MarkClaimed(ctx, tx, "alice")
		return err
	})
	if err != nil {
		t.Fatalf("InMarket: %v", err)
	}

	err = store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		_, err := stakes.MarkClaimed(ctx, tx, "alice")
		return err
	})
	if !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("second mark err = %v, want ErrAlreadyClaimed", err)
	}

	rec, err := stakes.Get(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Claimed || rec.AmountYes != 5 {
		t.Errorf("record = %+v, want claimed with 5 YES", rec)
	}
}

func TestStakeLedger_Overflow(t *testing.T) {
	store, _, stakes := newVaultFixture(t)
	ctx := context.Background()
	err := store.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		if _, err := stakes.RecordStake(ctx, tx, "alice", domain.SideNo, domain.MaxAmount); err != nil {
			return err
		}
		_, err := stakes.RecordStake(ctx, tx, "alice", domain.SideNo, 1)
		return err
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}
