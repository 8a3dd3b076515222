package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// ComputePayout returns floor(winningAmount * totalPool / winningPool).
//
// The product is taken in 256 bits so it cannot overflow for any pair of
// 64-bit operands. Truncation dust stays in the vault.
func ComputePayout(winningAmount, totalPool, winningPool uint64) (uint64, error) {
	if winningAmount == 0 || winningPool == 0 {
		return 0, domain.ErrLosingBet
	}
	if winningAmount > winningPool || winningPool > totalPool {
		return 0, fmt.Errorf("ledger: payout inputs out of order (stake %d, winning pool %d, pool %d): %w",
			winningAmount, winningPool, totalPool, domain.ErrInsufficientVaultBalance)
	}

	p := new(uint256.Int).Mul(uint256.NewInt(winningAmount), uint256.NewInt(totalPool))
	p.Div(p, uint256.NewInt(winningPool))
	if !p.IsUint64() {
		return 0, fmt.Errorf("ledger: payout %s exceeds 64 bits: %w", p.Dec(), domain.ErrInsufficientVaultBalance)
	}
	return p.Uint64(), nil
}
