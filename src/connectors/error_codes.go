package connectors

import (
	"errors"
	"fmt"
)

// ErrFeedEnded is the sentinel the price generator returns when the replayed
// data set is exhausted. The polling loop treats it as a shutdown signal.
var ErrFeedEnded = errors.New("price feed ended")

// RecoverableFetchError wraps a network or timeout failure on a read path
// (quote, depth, LTP). Nothing was mutated; the caller retries on the next
// cycle.
type RecoverableFetchError struct {
	Op  string
	Err error
}

func (e *RecoverableFetchError) Error() string {
	return fmt.Sprintf("recoverable fetch failure in %s: %v", e.Op, e.Err)
}

func (e *RecoverableFetchError) Unwrap() error { return e.Err }

// OrderRejectedError reports a declined or malformed broker response to an
// order placement. No cash moves and no position state changes on rejection.
type OrderRejectedError struct {
	Symbol string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Reason)
}

// brokerErrorTypes maps the error_type field of a failed broker response to
// a human-readable message.
var brokerErrorTypes = map[string]string{
	"TokenException":      "session expired or invalidated",
	"UserException":       "user account level error",
	"OrderException":      "order could not be placed or modified",
	"InputException":      "missing or invalid request parameter",
	"MarginException":     "insufficient funds for the order",
	"HoldingException":    "insufficient holdings to sell",
	"NetworkException":    "gateway could not reach the exchange",
	"DataException":       "internal system error at the broker",
	"GeneralException":    "unclassified broker error",
	"PermissionException": "missing permission for the operation",
}

// DescribeErrorType returns a readable message for a broker error_type,
// falling back to the raw value when unknown.
func DescribeErrorType(errorType string) string {
	if msg, ok := brokerErrorTypes[errorType]; ok {
		return msg
	}
	return fmt.Sprintf("unknown broker error type %q", errorType)
}
