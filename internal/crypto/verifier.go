package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

var (
	ErrMalformedSignature = errors.New("crypto: malformed signature")
	ErrSignerMismatch     = errors.New("crypto: signature does not match claimed signer")
)

// Verifier recovers the address behind an EIP-191 signature.
type Verifier struct{}

// NewVerifier returns a Verifier.
func NewVerifier() Verifier { return Verifier{} }

// Verify recovers the signer of proof.Signature over msg and returns its
// checksummed address. When proof.Signer is set it must name the same
// address.
func (Verifier) Verify(msg []byte, proof domain.AuthorityProof) (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(proof.Signature), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil || len(sig) != 65 {
		return "", ErrMalformedSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return "", fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}

	pub, err := ethcrypto.SigToPub(TextHash(msg), sig)
	if err != nil {
		return "", fmt.Errorf("crypto: recover signer: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(*pub).Hex()

	if claimed := strings.TrimSpace(proof.Signer); claimed != "" {
		if !common.IsHexAddress(claimed) || !strings.EqualFold(common.HexToAddress(claimed).Hex(), addr) {
			return "", ErrSignerMismatch
		}
	}
	return addr, nil
}
