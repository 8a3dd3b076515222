package domain

import "fmt"

// AuthorityProof is a signature by a principal over one of the ledger
// messages below. Signature is a hex encoded 65-byte secp256k1 signature.
// Resolutions are signed by the market authority, stakes by the
// participant.
type AuthorityProof struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// ResolutionMessage is the exact byte string an authority signs to resolve
// a market.
func ResolutionMessage(marketID string, outcomeIsYes bool) []byte {
	return []byte(fmt.Sprintf("truthledger:resolve:%s:%s", marketID, SideOf(outcomeIsYes)))
}

// StakeIntent is a participant's request to escrow Amount base units on
// Side. Nonce must be one more than the nonce of the participant's stake
// record in that market (1 for the first stake), so each signed intent is
// accepted at most once.
type StakeIntent struct {
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
	Side        Side   `json:"side"`
	Nonce       uint64 `json:"nonce"`
}

// StakeMessage is the exact byte string a participant signs to place a
// stake.
func StakeMessage(marketID string, in StakeIntent) []byte {
	return []byte(fmt.Sprintf("truthledger:stake:%s:%s:%s:%d:%d",
		marketID, in.Participant, in.Side, in.Amount, in.Nonce))
}
