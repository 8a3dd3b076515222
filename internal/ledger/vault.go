package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// EscrowVault moves the custody asset between participant accounts and a
// market's vault. Every movement happens inside a market transaction and
// writes one journal entry.
type EscrowVault struct {
	now func() time.Time
}

// NewEscrowVault returns a vault operator.
func NewEscrowVault() *EscrowVault {
	return &EscrowVault{now: time.Now}
}

// Deposit transfers amount from the participant into the vault.
func (v *EscrowVault) Deposit(ctx context.Context, tx domain.MarketTx, from string, amount uint64) (domain.Receipt, error) {
	if amount == 0 || amount > domain.MaxAmount {
		return domain.Receipt{}, domain.ErrInvalidAmount
	}
	vault := tx.Vault()
	if vault.Balance > domain.MaxAmount-amount {
		return domain.Receipt{}, fmt.Errorf("ledger: vault %s would exceed %d: %w", vault.ID, domain.MaxAmount, domain.ErrInvalidAmount)
	}

	if err := tx.Debit(ctx, from, vault.Asset, amount); err != nil {
		return domain.Receipt{}, err
	}

	vault.Balance += amount
	stored, err := tx.PutVault(ctx, vault)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: deposit into vault %s: %w", vault.ID, err)
	}
	return v.journal(ctx, tx, stored, domain.ReceiptDeposit, from, amount)
}

// Release transfers amount from the vault to the recipient. Asking for more
// than the vault holds is an invariant violation and never a user error.
func (v *EscrowVault) Release(ctx context.Context, tx domain.MarketTx, amount uint64, to string) (domain.Receipt, error) {
	if amount == 0 {
		return domain.Receipt{}, domain.ErrInvalidAmount
	}
	vault := tx.Vault()
	if amount > vault.Balance {
		return domain.Receipt{}, fmt.Errorf("ledger: release %d from vault %s holding %d: %w",
			amount, vault.ID, vault.Balance, domain.ErrInsufficientVaultBalance)
	}

	vault.Balance -= amount
	vault.Released += amount
	stored, err := tx.PutVault(ctx, vault)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: release from vault %s: %w", vault.ID, err)
	}
	if err := tx.Credit(ctx, to, vault.Asset, amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: credit %s: %w", to, err)
	}
	return v.journal(ctx, tx, stored, domain.ReceiptRelease, to, amount)
}

func (v *EscrowVault) journal(ctx context.Context, tx domain.MarketTx, vault domain.Vault, kind domain.ReceiptKind, counterparty string, amount uint64) (domain.Receipt, error) {
	r := domain.Receipt{
		ID:           uuid.NewString(),
		VaultID:      vault.ID,
		MarketID:     vault.MarketID,
		Kind:         kind,
		Counterparty: counterparty,
		Amount:       amount,
		BalanceAfter: vault.Balance,
		CreatedAt:    v.now().UTC(),
	}
	if err := tx.AppendJournal(ctx, r.JournalEntry()); err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: journal %s: %w", kind, err)
	}
	return r, nil
}
