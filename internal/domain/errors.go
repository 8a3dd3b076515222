package domain

import "errors"

// Kind is the stable, machine-checkable category of a ledger failure.
type Kind string

const (
	KindDuplicateMarket          Kind = "duplicate_market"
	KindNotFound                 Kind = "not_found"
	KindInvalidAmount            Kind = "invalid_amount"
	KindTransferFailed           Kind = "transfer_failed"
	KindMarketAlreadyResolved    Kind = "market_already_resolved"
	KindMarketNotResolved        Kind = "market_not_resolved"
	KindUnauthorized             Kind = "unauthorized"
	KindAlreadyClaimed           Kind = "already_claimed"
	KindLosingBet                Kind = "losing_bet"
	KindInsufficientVaultBalance Kind = "insufficient_vault_balance"
	KindInvalidRequest           Kind = "invalid_request"
	KindRateLimited              Kind = "rate_limited"
	KindLockHeld                 Kind = "lock_held"
)

// Error is a ledger failure with a kind and a human-readable message.
// Two errors match under errors.Is when their kinds are equal, so a wrapped
// or re-messaged error still matches its sentinel.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is reports kind equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf returns a new error of the given kind with a specific message.
func Errorf(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrDuplicateMarket          = &Error{Kind: KindDuplicateMarket, Message: "The market already exists."}
	ErrNotFound                 = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidAmount            = &Error{Kind: KindInvalidAmount, Message: "Amount must be greater than zero."}
	ErrTransferFailed           = &Error{Kind: KindTransferFailed, Message: "Insufficient funds to place bet."}
	ErrMarketAlreadyResolved    = &Error{Kind: KindMarketAlreadyResolved, Message: "The market is already resolved."}
	ErrMarketNotResolved        = &Error{Kind: KindMarketNotResolved, Message: "The market is not resolved yet."}
	ErrUnauthorized             = &Error{Kind: KindUnauthorized, Message: "Unauthorized access."}
	ErrAlreadyClaimed           = &Error{Kind: KindAlreadyClaimed, Message: "User has already claimed winnings."}
	ErrLosingBet                = &Error{Kind: KindLosingBet, Message: "You lost the bet"}
	ErrInsufficientVaultBalance = &Error{Kind: KindInsufficientVaultBalance, Message: "vault balance is lower than the requested release"}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrRateLimited              = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrLockHeld                 = &Error{Kind: KindLockHeld, Message: "lock already held"}
)

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the user-facing message of the first *Error in err's
// chain, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsFatal reports whether err signals a broken ledger invariant. Fatal
// errors must alert and must never be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInsufficientVaultBalance)
}
