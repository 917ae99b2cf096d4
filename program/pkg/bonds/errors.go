package bonds

import (
	"errors"
	"fmt"
)

// ProgramError is a rejected instruction. Each kind has a stable numeric code
// that is part of the external interface.
type ProgramError struct {
	Code uint32
	Kind string
	Msg  string
}

func (e *ProgramError) Error() string { return e.Msg }

// Retryable reports false for every program error: re-running the same
// instruction against the same state fails the same way. Storage conflicts
// are not program errors and classify themselves.
func (e *ProgramError) Retryable() bool { return false }

// TryLater reports whether the same instruction may succeed once time passes
// or the protocol or wallet state changes.
func (e *ProgramError) TryLater() bool {
	switch e {
	case ErrBondNotMatured, ErrOperationsPaused, ErrInsufficientFunds:
		return true
	}
	return false
}

func newError(code uint32, kind, msg string) *ProgramError {
	return &ProgramError{Code: code, Kind: kind, Msg: msg}
}

var (
	ErrAlreadyInitialized        = newError(0, "AlreadyInitialized", "global admin already initialized")
	ErrAlreadyExists             = newError(1, "AlreadyExists", "account already exists")
	ErrUnauthorized              = newError(2, "Unauthorized", "unauthorized")
	ErrOperationsPaused          = newError(3, "OperationsPaused", "bond operations paused")
	ErrBondCapExceeded           = newError(4, "BondCapExceeded", "max bonds per wallet reached")
	ErrInvalidDistributionTarget = newError(5, "InvalidDistributionTarget", "distribution target does not match global admin")
	ErrInsufficientFunds         = newError(6, "InsufficientFunds", "insufficient funds")
	ErrBondNotMatured            = newError(7, "BondNotMatured", "bond not matured")
	ErrBondNotActive             = newError(8, "BondNotActive", "bond not active")
	ErrBondAlreadyClaimed        = newError(9, "BondAlreadyClaimed", "bond already claimed")
	ErrInvalidClock              = newError(10, "InvalidClock", "clock is before the last claim")
	ErrArithmeticOverflow        = newError(11, "ArithmeticOverflow", "arithmetic overflow")
	ErrNotInitialized            = newError(12, "NotInitialized", "global admin not initialized")
	ErrUserNotFound              = newError(13, "UserNotFound", "user registry not found")
	ErrBondNotFound              = newError(14, "BondNotFound", "bond not found")
	ErrInvalidAmount             = newError(15, "InvalidAmount", "invalid amount")
	ErrInvalidConfig             = newError(16, "InvalidConfig", "invalid admin config")
	ErrImmutableFieldChanged     = newError(17, "ImmutableFieldChanged", "immutable admin field changed")
	ErrInvalidTokenAccount       = newError(18, "InvalidTokenAccount", "invalid token account")
	ErrInvalidInstruction        = newError(19, "InvalidInstruction", "invalid instruction")
	ErrInvalidAccountData        = newError(20, "InvalidAccountData", "invalid account data")
)

var allErrors = []*ProgramError{
	ErrAlreadyInitialized,
	ErrAlreadyExists,
	ErrUnauthorized,
	ErrOperationsPaused,
	ErrBondCapExceeded,
	ErrInvalidDistributionTarget,
	ErrInsufficientFunds,
	ErrBondNotMatured,
	ErrBondNotActive,
	ErrBondAlreadyClaimed,
	ErrInvalidClock,
	ErrArithmeticOverflow,
	ErrNotInitialized,
	ErrUserNotFound,
	ErrBondNotFound,
	ErrInvalidAmount,
	ErrInvalidConfig,
	ErrImmutableFieldChanged,
	ErrInvalidTokenAccount,
	ErrInvalidInstruction,
	ErrInvalidAccountData,
}

// Errors returns every program error in code order.
func Errors() []*ProgramError {
	return append([]*ProgramError(nil), allErrors...)
}

// ErrorByCode returns the program error with the given code.
func ErrorByCode(code uint32) (*ProgramError, bool) {
	if int(code) >= len(allErrors) {
		return nil, false
	}
	return allErrors[code], true
}

// AsProgramError extracts the program error from err's chain.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the program error kind of err, or the empty string if err is
// not a program error.
func KindOf(err error) string {
	if pe, ok := AsProgramError(err); ok {
		return pe.Kind
	}
	return ""
}

// reject wraps a program error with context.
func reject(pe *ProgramError, format string, args ...any) error {
	return fmt.Errorf("%w: %s", pe, fmt.Sprintf(format, args...))
}
