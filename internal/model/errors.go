package model

import "errors"

// Error classes. Every error returned by the services unwraps to exactly one
// of these; the API layer maps classes to status codes.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrAlreadyExists      = errors.New("already exists")
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrInternal           = errors.New("internal error")
)

var (
	ErrInsufficientFunds    = classed(ErrFailedPrecondition, "insufficient funds")
	ErrInsufficientHoldings = classed(ErrFailedPrecondition, "insufficient holdings")
	ErrBelowMinimumOrder    = classed(ErrInvalidArgument, "below minimum order size")
	ErrAlreadyTerminal      = classed(ErrFailedPrecondition, "order already filled or cancelled")
	ErrAccountInactive      = classed(ErrFailedPrecondition, "account is not active")
	ErrEmailNotVerified     = classed(ErrFailedPrecondition, "email is not verified")
	ErrInvalidSeason        = classed(ErrFailedPrecondition, "invalid season")
	ErrSeasonBusy           = classed(ErrFailedPrecondition, "a season operation is in progress")
	ErrDebateClosed         = classed(ErrFailedPrecondition, "debate is closed")
	ErrAlreadyVoted         = classed(ErrAlreadyExists, "already voted")
	ErrQuizLimitReached     = classed(ErrFailedPrecondition, "quiz reward limit reached for this season")
	ErrInvalidSymbol        = classed(ErrInvalidArgument, "invalid symbol")
	ErrInvalidSide          = classed(ErrInvalidArgument, "side must be buy or sell")
)

var classes = []error{
	ErrUnauthenticated,
	ErrPermissionDenied,
	ErrInvalidArgument,
	ErrNotFound,
	ErrFailedPrecondition,
	ErrAlreadyExists,
	ErrQuoteUnavailable,
	ErrInternal,
}

type classedError struct {
	class error
	msg   string
}

func (e *classedError) Error() string { return e.msg }
func (e *classedError) Unwrap() error { return e.class }

func classed(class error, msg string) error {
	return &classedError{class: class, msg: msg}
}

// Kind returns the error class of err, or ErrInternal when err carries none.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, c := range classes {
		if errors.Is(err, c) {
			return c
		}
	}
	return ErrInternal
}
