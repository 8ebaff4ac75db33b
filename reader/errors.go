package reader

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of reader error for programmatic handling.
type ErrorCode int

const (
	// Driver errors (100-199)
	ErrCodeNoReader ErrorCode = iota + 100
	ErrCodeConnect
	ErrCodeCardRemoved
	ErrCodeTransmit
	ErrCodeTunnel
	ErrCodeFraming
	ErrCodeClosed
)

// ReaderError provides structured error information for programmatic handling.
type ReaderError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Transmit", "Connect")
	Device  string // Optional: reader name or port the error relates to
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *ReaderError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Device != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Device)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *ReaderError) Unwrap() error {
	return e.Cause
}

func (e *ReaderError) Is(target error) bool {
	if t, ok := target.(*ReaderError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNoReaderError creates an error for when no reader can be found at startup.
func NewNoReaderError(driver string) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeNoReader,
		Op:      "Open",
		Message: fmt.Sprintf("no %s readers found", driver),
	}
}

// NewConnectError creates an error for connection failures at startup.
func NewConnectError(device string, cause error) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeConnect,
		Op:      "Open",
		Device:  device,
		Message: "failed to connect to reader",
		Cause:   cause,
	}
}

// NewCardRemovedError creates an error for when a card disappears mid-operation.
func NewCardRemovedError(op string, cause error) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeCardRemoved,
		Op:      op,
		Message: "card was removed",
		Cause:   cause,
	}
}

// NewTransmitError creates an error for frame transmission failures.
func NewTransmitError(op string, cause error) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeTransmit,
		Op:      op,
		Message: "transmit failed",
		Cause:   cause,
	}
}

// NewTunnelError creates an error for a rejected tunnel envelope reply.
func NewTunnelError(op, message string) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeTunnel,
		Op:      op,
		Message: message,
	}
}

// NewFramingError creates an error for malformed PN532 serial frames.
func NewFramingError(op, message string, cause error) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeFraming,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// NewClosedError creates an error for operations on a closed transport.
func NewClosedError(op string) *ReaderError {
	return &ReaderError{
		Code:    ErrCodeClosed,
		Op:      op,
		Message: "transport is closed",
	}
}

// IsConnectError checks if an error indicates the reader could not be opened.
// Both "no reader found" and "connect failed" are fatal startup conditions.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var rdErr *ReaderError
	if errors.As(err, &rdErr) {
		return rdErr.Code == ErrCodeNoReader || rdErr.Code == ErrCodeConnect
	}
	// Fallback to string matching for wrapped driver errors
	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "no readers") ||
		strings.Contains(errLower, "failed to connect")
}

// IsCardRemovedError checks if an error indicates the card left the field
// mid-operation. The driver drops its card handle when this happens.
func IsCardRemovedError(err error) bool {
	if err == nil {
		return false
	}
	var rdErr *ReaderError
	if errors.As(err, &rdErr) {
		return rdErr.Code == ErrCodeCardRemoved
	}
	// Fallback to string matching
	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "card was removed") ||
		strings.Contains(errLower, "target was removed")
}

// IsTransmitError checks if an error came from a failed frame exchange.
// Tunnel rejections and serial framing faults count: to the caller they all
// mean the frame did not complete.
func IsTransmitError(err error) bool {
	if err == nil {
		return false
	}
	var rdErr *ReaderError
	if errors.As(err, &rdErr) {
		switch rdErr.Code {
		case ErrCodeTransmit, ErrCodeTunnel, ErrCodeFraming, ErrCodeCardRemoved:
			return true
		}
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "transmit")
}

// GetErrorCode extracts the ErrorCode from an error if it's a ReaderError.
// Returns 0 if the error is not a ReaderError.
func GetErrorCode(err error) ErrorCode {
	var rdErr *ReaderError
	if errors.As(err, &rdErr) {
		return rdErr.Code
	}
	return 0
}

// Errorf creates a ReaderError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...interface{}) *ReaderError {
	return &ReaderError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
