package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// HTTPStatusError is implemented by the provider error types (jina,
// firecrawl, apollo) that carry the upstream response status. IsTransient
// classifies such errors by status code alone.
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// transientMessages are substrings of errors that net/http surfaces as plain
// strings rather than typed errors.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether an error is worth retrying: a provider error
// with a retryable status, a network timeout, or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var se HTTPStatusError
	if errors.As(err, &se) {
		return IsTransientHTTPStatus(se.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a status code indicates a condition
// that tends to clear on its own.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
