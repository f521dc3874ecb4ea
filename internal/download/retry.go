package download

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// retryable is implemented by gateway errors that know whether another
// attempt can succeed, e.g. an HTTP 5xx from the authority
type retryable interface {
	Retryable() bool
}

// IsRetryableError reports whether err is a transient transport failure
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return isRetryableGatewayError(err) || isRetryableNetworkError(err) || isRetryableSystemError(err)
}

func isRetryableGatewayError(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func isRetryableSystemError(err error) bool {
	// Connection refused / reset
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
