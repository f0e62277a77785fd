package domain

import "fmt"

// Kind is the engine's error taxonomy. It
// classifies how a tick or trade should react to an error, not the Go
// type of the error itself.
type Kind string

const (
	KindConfigMissing      Kind = "config_missing"
	KindPriceUnavailable   Kind = "price_unavailable"
	KindBrokerError        Kind = "broker_error"
	KindLockConflict       Kind = "lock_conflict"
	KindAssetMissing       Kind = "asset_missing"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindTradeTimeout       Kind = "trade_timeout"
	KindInvariant          Kind = "invariant"
)

// Error is the engine's uniform error envelope. Components construct one
// via the New* helpers below; callers branch on Kind, not on message
// text or Go type assertions.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NewConfigMissing(msg string) *Error                  { return newErr(KindConfigMissing, msg, nil) }
func NewPriceUnavailable(coin string, primary, fallback error) *Error {
	return newErr(KindPriceUnavailable, fmt.Sprintf("no price for %s (primary: %v, fallback: %v)", coin, primary, fallback), nil)
}
func NewBrokerError(code int, msg string, cause error) *Error {
	return newErr(KindBrokerError, fmt.Sprintf("broker error %d: %s", code, msg), cause)
}
func NewLockConflict(coin, heldBy string) *Error {
	return newErr(KindLockConflict, fmt.Sprintf("coin %s locked by another bot (%s)", coin, heldBy), nil)
}
func NewAssetMissing(botID, coin string) *Error {
	return newErr(KindAssetMissing, fmt.Sprintf("no asset %s for bot %s", coin, botID), nil)
}
func NewInsufficientFunds(msg string) *Error { return newErr(KindInsufficientFunds, msg, nil) }
func NewTradeTimeout(msg string) *Error      { return newErr(KindTradeTimeout, msg, nil) }
func NewInvariant(msg string) *Error         { return newErr(KindInvariant, msg, nil) }

// KindOf extracts the Kind from an error produced by this package, the
// zero value ("") if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
