package reader

import (
	"errors"
	"fmt"
	"testing"
)

func TestReaderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ReaderError
		expected string
	}{
		{
			name: "with op and message",
			err: &ReaderError{
				Code:    ErrCodeTransmit,
				Op:      "Transmit",
				Message: "transmit failed",
			},
			expected: "Transmit: transmit failed",
		},
		{
			name: "with op, message, and cause",
			err: &ReaderError{
				Code:    ErrCodeTransmit,
				Op:      "Transmit",
				Message: "transmit failed",
				Cause:   errors.New("connection lost"),
			},
			expected: "Transmit: transmit failed: connection lost",
		},
		{
			name: "with device",
			err: &ReaderError{
				Code:    ErrCodeConnect,
				Op:      "Open",
				Device:  "ACS ACR122U 00 00",
				Message: "failed to connect to reader",
				Cause:   errors.New("sharing violation"),
			},
			expected: "Open: failed to connect to reader (ACS ACR122U 00 00): sharing violation",
		},
		{
			name: "message only",
			err: &ReaderError{
				Code:    ErrCodeNoReader,
				Message: "no pcsc readers found",
			},
			expected: "no pcsc readers found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ReaderError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReaderError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ReaderError{
		Code:    ErrCodeTransmit,
		Op:      "Transmit",
		Message: "transmit failed",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("ReaderError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Test without cause
	errNoCause := &ReaderError{
		Code:    ErrCodeClosed,
		Message: "transport is closed",
	}
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("ReaderError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestReaderError_Is(t *testing.T) {
	err1 := &ReaderError{Code: ErrCodeCardRemoved, Message: "test"}
	err2 := &ReaderError{Code: ErrCodeCardRemoved, Message: "different message"}
	err3 := &ReaderError{Code: ErrCodeTransmit, Message: "test"}

	if !err1.Is(err2) {
		t.Error("ReaderError.Is() should return true for same code")
	}

	if err1.Is(err3) {
		t.Error("ReaderError.Is() should return false for different code")
	}

	if err1.Is(errors.New("not a ReaderError")) {
		t.Error("ReaderError.Is() should return false for non-ReaderError")
	}
}

func TestNewNoReaderError(t *testing.T) {
	err := NewNoReaderError(DriverPCSC)

	if err.Code != ErrCodeNoReader {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNoReader)
	}
	if err.Op != "Open" {
		t.Errorf("Op = %q, want %q", err.Op, "Open")
	}
	if err.Message != "no pcsc readers found" {
		t.Errorf("Message = %q, want %q", err.Message, "no pcsc readers found")
	}
}

func TestNewConnectError(t *testing.T) {
	cause := errors.New("device busy")
	err := NewConnectError("/dev/ttyUSB0", cause)

	if err.Code != ErrCodeConnect {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeConnect)
	}
	if err.Device != "/dev/ttyUSB0" {
		t.Errorf("Device = %q, want %q", err.Device, "/dev/ttyUSB0")
	}
	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestNewCardRemovedError(t *testing.T) {
	cause := errors.New("SCARD_W_REMOVED_CARD")
	err := NewCardRemovedError("Transmit", cause)

	if err.Code != ErrCodeCardRemoved {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeCardRemoved)
	}
	if err.Op != "Transmit" {
		t.Errorf("Op = %q, want %q", err.Op, "Transmit")
	}
	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestIsConnectError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ReaderError with ErrCodeNoReader",
			err:      NewNoReaderError(DriverPCSC),
			expected: true,
		},
		{
			name:     "ReaderError with ErrCodeConnect",
			err:      NewConnectError("reader0", errors.New("busy")),
			expected: true,
		},
		{
			name:     "ReaderError with different code",
			err:      NewTransmitError("Transmit", errors.New("timeout")),
			expected: false,
		},
		{
			name:     "wrapped ReaderError",
			err:      fmt.Errorf("starting shell: %w", NewConnectError("reader0", nil)),
			expected: true,
		},
		{
			name:     "legacy string error - no readers",
			err:      fmt.Errorf("no readers available on this host"),
			expected: true,
		},
		{
			name:     "legacy string error - failed to connect",
			err:      fmt.Errorf("failed to connect to reader at index 0"),
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("card was removed"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectError(tt.err); got != tt.expected {
				t.Errorf("IsConnectError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsCardRemovedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "ReaderError with ErrCodeCardRemoved",
			err:      NewCardRemovedError("Transmit", nil),
			expected: true,
		},
		{
			name:     "ReaderError with different code",
			err:      NewTransmitError("Transmit", errors.New("timeout")),
			expected: false,
		},
		{
			name:     "legacy string error - card was removed",
			err:      fmt.Errorf("exchange aborted: card was removed"),
			expected: true,
		},
		{
			name:     "legacy string error - target was removed",
			err:      fmt.Errorf("target was removed from the field"),
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("connection lost"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCardRemovedError(tt.err); got != tt.expected {
				t.Errorf("IsCardRemovedError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsTransmitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "transmit code",
			err:      NewTransmitError("Transmit", errors.New("io error")),
			expected: true,
		},
		{
			name:     "tunnel code",
			err:      NewTunnelError("Transmit", "InCommunicateThru status 01"),
			expected: true,
		},
		{
			name:     "framing code",
			err:      NewFramingError("Transmit", "bad data checksum in PN532 frame", nil),
			expected: true,
		},
		{
			name:     "card removed counts as failed exchange",
			err:      NewCardRemovedError("Transmit", nil),
			expected: true,
		},
		{
			name:     "connect code",
			err:      NewConnectError("reader0", nil),
			expected: false,
		},
		{
			name:     "legacy string error",
			err:      fmt.Errorf("transmit timed out"),
			expected: true,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransmitError(tt.err); got != tt.expected {
				t.Errorf("IsTransmitError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(NewTunnelError("Transmit", "status 01")); got != ErrCodeTunnel {
		t.Errorf("GetErrorCode() = %v, want %v", got, ErrCodeTunnel)
	}

	wrapped := fmt.Errorf("run failed: %w", NewFramingError("Transmit", "short frame", nil))
	if got := GetErrorCode(wrapped); got != ErrCodeFraming {
		t.Errorf("GetErrorCode(wrapped) = %v, want %v", got, ErrCodeFraming)
	}

	if got := GetErrorCode(errors.New("plain error")); got != 0 {
		t.Errorf("GetErrorCode(plain) = %v, want 0", got)
	}
}
