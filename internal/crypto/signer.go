package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

// personalPrefix is the EIP-191 version 0x45 prefix.
const personalPrefix = "\x19Ethereum Signed Message:\n"

// TextHash returns the EIP-191 personal-sign digest of msg:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func TextHash(msg []byte) []byte {
	return ethcrypto.Keccak256([]byte(fmt.Sprintf("%s%d", personalPrefix, len(msg))), msg)
}

// AuthoritySigner signs resolution messages with the resolution
// authority's secp256k1 key.
type AuthoritySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAuthoritySigner creates a signer from a hex-encoded private key, with
// or without 0x prefix.
func NewAuthoritySigner(privateKeyHex string) (*AuthoritySigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewAuthoritySignerFromKey(pk), nil
}

// NewAuthoritySignerFromKey wraps an already parsed key.
func NewAuthoritySignerFromKey(pk *ecdsa.PrivateKey) *AuthoritySigner {
	return &AuthoritySigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the checksummed address that identifies the authority.
func (s *AuthoritySigner) Address() string {
	return s.address.Hex()
}

// Sign returns a personal-sign signature over msg as 0x-prefixed hex
// (r || s || v, v in {27,28}).
func (s *AuthoritySigner) Sign(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignResolution produces the proof that resolves marketID to the given
// outcome.
func (s *AuthoritySigner) SignResolution(marketID string, outcomeIsYes bool) (domain.AuthorityProof, error) {
	sig, err := s.Sign(domain.ResolutionMessage(marketID, outcomeIsYes))
	if err != nil {
		return domain.AuthorityProof{}, err
	}
	return domain.AuthorityProof{Signer: s.Address(), Signature: sig}, nil
}
