package ledger

import (
	"errors"
	"fmt"
)

// Closed set of error kinds produced at the ledger and wallet boundary. Control flow keys off
// these kinds; message text is rendered for display only and is never parsed.
const ErrorKindMethodUnavailable = "method_unavailable"
const ErrorKindNetworkMismatch = "network_mismatch"
const ErrorKindUserRejected = "user_rejected"
const ErrorKindInsufficientFunds = "insufficient_funds"
const ErrorKindEstimationFailed = "estimation_failed"
const ErrorKindTimeout = "timeout"
const ErrorKindRateLimited = "rate_limited"
const ErrorKindMalformedResponse = "malformed_response"
const ErrorKindInvalidArguments = "invalid_arguments"
const ErrorKindInternal = "internal"

// Error is a classified ledger failure
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf constructs a classified error with a display message
func Errorf(kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Kind resolves the classification of the given error; unclassified errors are internal
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return ErrorKindInternal
}

// IsTransient returns true for kinds which may succeed on an immediate retry
func IsTransient(kind string) bool {
	return kind == ErrorKindTimeout || kind == ErrorKindRateLimited
}
