package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProxyErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProxyError(ErrCodeDialFailed, GetErrorDescription(ErrCodeDialFailed), cause)

	assert.Equal(t, "[E2009] Failed to dial target address: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewProxyError(ErrCodeBlocklistMatch, "blocked", nil)
	assert.Equal(t, "[E7002] blocked", bare.Error())
}

func TestGetErrorDescription(t *testing.T) {
	assert.Equal(t, "Failed to create SOCKS5 dialer", GetErrorDescription(ErrCodeSOCKS5DialerFailed))
	assert.Equal(t, "Unknown error code", GetErrorDescription("E0000"))
}

func TestErrorCategories(t *testing.T) {
	wrapped := fmt.Errorf("handling: %w", newCodedError(ErrCodeHostResolutionFailed, nil))

	assert.Equal(t, ErrCodeHostResolutionFailed, ErrorCode(wrapped))
	assert.True(t, IsConnectionError(wrapped))
	assert.False(t, IsHTTPError(wrapped))

	assert.True(t, IsHTTPError(newCodedError(ErrCodeHTTPResponseReadFailed, nil)))
	assert.True(t, IsProxyChainError(newCodedError(ErrCodeSOCKS5ConnectFailed, nil)))
	assert.True(t, IsAccessControlError(newCodedError(ErrCodeBlocklistMatch, nil)))

	plain := errors.New("plain")
	assert.Equal(t, "", ErrorCode(plain))
	assert.False(t, IsConnectionError(plain))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, ErrCodeHostResolutionFailed},
		{"deadline", context.DeadlineExceeded, ErrCodeConnectionTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutError{}}, ErrCodeConnectionTimeout},
		{"refused", errors.New("connection refused"), ErrCodeDialFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDialError("example.com:80", tt.err)
			assert.Equal(t, tt.code, err.Code)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "example.com:80")
		})
	}
}

func TestRelayErrorIgnoresPeerShutdown(t *testing.T) {
	assert.NoError(t, relayError(nil, nil))
	assert.NoError(t, relayError(net.ErrClosed, &net.OpError{Op: "read", Err: timeoutError{}}))

	boom := errors.New("boom")
	assert.ErrorIs(t, relayError(nil, boom), boom)
}
