package mq

import (
	"errors"

	"github.com/remora-io/catalog-relay/pkg/serrors"
)

var (
	// ErrTimeout is returned when no reply arrived within the call deadline.
	// It is distinct from transport failures so callers can retry timeouts
	// without retrying hard broker errors.
	ErrTimeout = serrors.NewError("MQ_RPC_TIMEOUT", "rpc call timed out")
	// ErrClientClosed is returned for calls issued after Close.
	ErrClientClosed = serrors.NewError("MQ_CLIENT_CLOSED", "rpc client is closed")
)

// AppError is an application-level failure reported by a remote method
// handler. It is not a transport or timeout condition: the call round-trip
// itself succeeded.
type AppError struct {
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// AsAppError unwraps err into an *AppError if it carries one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
