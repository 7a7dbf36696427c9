package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func TestIsTransientProviderStatus(t *testing.T) {
	assert.True(t, IsTransient(&statusErr{code: 503}))
	assert.True(t, IsTransient(&statusErr{code: 429}))
	assert.False(t, IsTransient(&statusErr{code: 404}))
	assert.False(t, IsTransient(&statusErr{code: 401}))
}

func TestIsTransientWrappedProviderStatus(t *testing.T) {
	err := fmt.Errorf("search failed: %w", &statusErr{code: 502})
	assert.True(t, IsTransient(err))

	err = fmt.Errorf("search failed: %w", &statusErr{code: 422})
	assert.False(t, IsTransient(err))
}

func TestIsTransientNilAndRegularErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("invalid input: missing field")))
}

func TestIsTransientDroppedConnections(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
}

func TestIsTransientNetworkTimeout(t *testing.T) {
	assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
}

func TestIsTransientMessagePatterns(t *testing.T) {
	for _, msg := range []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 405, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}
