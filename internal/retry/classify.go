package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// verdict pins the retry decision for the error it wraps.
type verdict struct {
	err       error
	transient bool
}

func (v *verdict) Error() string { return v.err.Error() }
func (v *verdict) Unwrap() error { return v.err }

// Transient marks err as retryable whatever else it wraps.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &verdict{err: err, transient: true}
}

// Terminal marks err as final whatever else it wraps.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &verdict{err: err}
}

// Retryable is implemented by errors that carry the remote's own back-off
// hint, such as ledger RPC errors.
type Retryable interface {
	Retryable() bool
}

// IsTransient reports whether another attempt could succeed. The outermost
// Transient or Terminal mark wins. Unrecognised errors are final so a bad
// request is never hammered.
func IsTransient(err error) bool {
	var (
		v      *verdict
		self   Retryable
		netErr net.Error
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &v):
		return v.transient
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &self):
		return self.Retryable()
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	default:
		return false
	}
}
