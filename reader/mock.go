package reader

import (
	"fmt"
	"sync"
)

// MockTransport is a test implementation of Transport that simulates a
// reader with a card in front of it.
//
// MockTransport allows testing command execution and card polling without
// physical hardware by scripting presence and transmit behavior.
//
// Example:
//
//	mock := NewMockTransport()
//	mock.Present = true
//	mock.TransmitResponse = []byte{0x04, 0x00}
//	resp, err := mock.Transmit([]byte{0x30, 0x00})
type MockTransport struct {
	// DeviceName is the simulated device name returned by String()
	DeviceName string

	// Present is the default result of IsCardPresent()
	Present bool

	// PresentFunc allows custom presence behavior for testing
	// If nil, IsCardPresent returns Present
	PresentFunc func() bool

	// TransmitFunc allows custom transmit behavior for testing
	// If nil, Transmit returns TransmitResponse or TransmitError
	TransmitFunc func([]byte) ([]byte, error)

	// TransmitResponse is the default response for Transmit calls
	TransmitResponse []byte

	// TransmitError, if set, will be returned by Transmit()
	TransmitError error

	// CloseError, if set, will be returned by Close()
	CloseError error

	// Closed tracks whether Close() has been called
	Closed bool

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockTransport creates a new MockTransport with default values.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		DeviceName: "Mock Reader",
		CallLog:    make([]string, 0),
	}
}

// String returns the simulated device name.
func (m *MockTransport) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.DeviceName
}

// IsCardPresent simulates polling for a card.
func (m *MockTransport) IsCardPresent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "IsCardPresent")

	if m.Closed {
		return false
	}

	if m.PresentFunc != nil {
		return m.PresentFunc()
	}

	return m.Present
}

// Transmit simulates sending a frame to the card.
func (m *MockTransport) Transmit(frame []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("Transmit(%s)", BytesToHex(frame)))

	if m.Closed {
		return nil, NewClosedError("Transmit")
	}

	if m.TransmitFunc != nil {
		return m.TransmitFunc(frame)
	}

	if m.TransmitError != nil {
		return nil, m.TransmitError
	}

	return m.TransmitResponse, nil
}

// Close simulates releasing the reader.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")

	m.Closed = true
	return m.CloseError
}

// SetPresent changes the presence state. Safe to call from another
// goroutine while a poll loop is running.
func (m *MockTransport) SetPresent(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Present = present
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockTransport) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// ClearCallLog clears the call log.
func (m *MockTransport) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = make([]string, 0)
}
