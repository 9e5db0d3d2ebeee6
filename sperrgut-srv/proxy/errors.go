package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// newCodedError creates an Error whose description comes from ErrorDescriptions.
func newCodedError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// Proxy Error Codes
const (
	// Configuration and Initialization Errors (E1000-E1999)
	ErrCodeListenerCreateFailed = "E1008"
	ErrCodeInvalidServerConfig  = "E1010"

	// Connection and Network Errors (E2000-E2999)
	ErrCodeConnectionTimeout     = "E2002"
	ErrCodeInvalidAddress        = "E2006"
	ErrCodeDialFailed            = "E2009"
	ErrCodeHostResolutionFailed  = "E2011"

	// HTTP Processing Errors (E4000-E4999)
	ErrCodeHTTPRequestReadFailed   = "E4001"
	ErrCodeHTTPResponseReadFailed  = "E4002"
	ErrCodeHTTPRequestWriteFailed  = "E4003"
	ErrCodeHTTPResponseWriteFailed = "E4004"

	// Proxy Chain and Tunnel Errors (E6000-E6999)
	ErrCodeSOCKS5DialerFailed    = "E6001"
	ErrCodeSOCKS5ConnectFailed   = "E6002"
	ErrCodeCONNECTResponseFailed = "E6006"
	ErrCodeTunnelRelayFailed     = "E6010"

	// Access Control Errors (E7000-E7999)
	ErrCodeBlocklistMatch = "E7002"

	// Internal and System Errors (E9900-E9999)
	ErrCodePanicRecovered = "E9903"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeListenerCreateFailed: "Failed to create network listener",
	ErrCodeInvalidServerConfig:  "Invalid server configuration",

	ErrCodeConnectionTimeout:     "Connection attempt timed out",
	ErrCodeInvalidAddress:        "Request names no target host",
	ErrCodeDialFailed:            "Failed to dial target address",
	ErrCodeHostResolutionFailed:  "Failed to resolve target host",

	ErrCodeHTTPRequestReadFailed:   "Failed to read HTTP request",
	ErrCodeHTTPResponseReadFailed:  "Failed to read HTTP response",
	ErrCodeHTTPRequestWriteFailed:  "Failed to write HTTP request",
	ErrCodeHTTPResponseWriteFailed: "Failed to write HTTP response",

	ErrCodeSOCKS5DialerFailed:    "Failed to create SOCKS5 dialer",
	ErrCodeSOCKS5ConnectFailed:   "SOCKS5 connection failed",
	ErrCodeCONNECTResponseFailed: "Failed to acknowledge CONNECT request",
	ErrCodeTunnelRelayFailed:     "Tunnel relay ended with an error",

	ErrCodeBlocklistMatch: "Host matches blocklist entry",

	ErrCodePanicRecovered: "Recovered from panic condition",
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code
	}
	return ""
}

func hasCodeInRange(err error, low, high string) bool {
	code := ErrorCode(err)
	return code != "" && code >= low && code < high
}

// IsConnectionError checks if the error is connection-related
func IsConnectionError(err error) bool {
	return hasCodeInRange(err, "E2000", "E3000")
}

// IsHTTPError checks if the error is HTTP-related
func IsHTTPError(err error) bool {
	return hasCodeInRange(err, "E4000", "E5000")
}

// IsProxyChainError checks if the error is proxy chain or tunnel related
func IsProxyChainError(err error) bool {
	return hasCodeInRange(err, "E6000", "E7000")
}

// IsAccessControlError checks if the error is access control-related
func IsAccessControlError(err error) bool {
	return hasCodeInRange(err, "E7000", "E8000")
}

// classifyDialError maps a failed outbound dial onto an error code.
func classifyDialError(addr string, err error) *Error {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return newCodedError(ErrCodeHostResolutionFailed, fmt.Errorf("%s: %w", addr, err))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err):
		return newCodedError(ErrCodeConnectionTimeout, fmt.Errorf("%s: %w", addr, err))
	default:
		return newCodedError(ErrCodeDialFailed, fmt.Errorf("%s: %w", addr, err))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosedConnError reports whether err comes from using a closed connection
// or listener.
func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
