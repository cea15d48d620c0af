// Package txnerr defines the errors the transaction layer reports to callers. Errors carry the numeric
// codes of the production database client so that retry loops written against the real client
// classify them identically.
package txnerr

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Error is a coded database error.
type Error struct {
	Code int
}

const (
	CodeTransactionTooOld      = 1007
	CodeFutureVersion          = 1009
	CodeNotCommitted           = 1020
	CodeCommitUnknownResult    = 1021
	CodeTransactionCancelled   = 1025
	CodeAccessedUnreadable     = 1036
	CodeClientInvalidOperation = 2000
	CodeKeyOutsideLegalRange   = 2004
	CodeInvertedRange          = 2005
	CodeUsedDuringCommit       = 2017
	CodeTransactionTooLarge    = 2101
	CodeKeyTooLarge            = 2102
	CodeValueTooLarge          = 2103
	CodeUnknownError           = 4000
	CodeInternalError          = 4100
)

var descriptions = map[int]string{
	CodeTransactionTooOld:      "Transaction is too old to perform reads or be committed",
	CodeFutureVersion:          "Request for future version",
	CodeNotCommitted:           "Transaction not committed due to conflict with another transaction",
	CodeCommitUnknownResult:    "Transaction may or may not have committed",
	CodeTransactionCancelled:   "Operation aborted because the transaction was cancelled",
	CodeAccessedUnreadable:     "Read or wrote an unreadable key",
	CodeClientInvalidOperation: "Invalid API call",
	CodeKeyOutsideLegalRange:   "Key outside legal range",
	CodeInvertedRange:          "Range begin key larger than end key",
	CodeUsedDuringCommit:       "Operation issued while a commit was outstanding",
	CodeTransactionTooLarge:    "Transaction exceeds byte limit",
	CodeKeyTooLarge:            "Key length exceeds limit",
	CodeValueTooLarge:          "Value length exceeds limit",
	CodeUnknownError:           "An unknown error occurred",
	CodeInternalError:          "An internal error occurred",
}

// Sentinel values for the common codes. Compare with CodeOf rather than ==, errors may be wrapped.
var (
	ErrTransactionTooOld    = Error{CodeTransactionTooOld}
	ErrFutureVersion        = Error{CodeFutureVersion}
	ErrNotCommitted         = Error{CodeNotCommitted}
	ErrTransactionCancelled = Error{CodeTransactionCancelled}
	ErrAccessedUnreadable   = Error{CodeAccessedUnreadable}
	ErrInvalidOperation     = Error{CodeClientInvalidOperation}
	ErrKeyOutsideLegalRange = Error{CodeKeyOutsideLegalRange}
	ErrInvertedRange        = Error{CodeInvertedRange}
	ErrUsedDuringCommit     = Error{CodeUsedDuringCommit}
	ErrTransactionTooLarge  = Error{CodeTransactionTooLarge}
	ErrKeyTooLarge          = Error{CodeKeyTooLarge}
	ErrValueTooLarge        = Error{CodeValueTooLarge}
	ErrInternal             = Error{CodeInternalError}
)

func (e Error) Error() string {
	return fmt.Sprintf("FoundationDB error code %d (%s)", e.Code, e.Description())
}

// Description is the short human readable text for the code.
func (e Error) Description() string {
	if d, ok := descriptions[e.Code]; ok {
		return d
	}
	return "Unknown error"
}

// Retryable reports whether re-executing the whole transaction may succeed.
func (e Error) Retryable() bool {
	switch e.Code {
	case CodeTransactionTooOld, CodeFutureVersion, CodeNotCommitted, CodeCommitUnknownResult:
		return true
	}
	return false
}

// CodeOf returns the code of err, or 0 if err is not a coded error. Wrapped errors are unwrapped.
func CodeOf(err error) int {
	if e, ok := errors.Cause(err).(Error); ok {
		return e.Code
	}
	return 0
}

// IsRetryable reports whether err is a coded error a retry loop should handle by retrying.
func IsRetryable(err error) bool {
	if e, ok := errors.Cause(err).(Error); ok {
		return e.Retryable()
	}
	return false
}

// IsConflict reports whether err is a commit conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeNotCommitted
}
