// Package reader provides the driver layer between the shell and NFC reader
// hardware. Three drivers implement the same Transport interface: pcsc talks
// PC/SC through ebfe/scard (the default, covering ACR122-class USB readers),
// libnfc uses clausecker/nfc for readers libnfc supports natively, and uart
// speaks the PN532 host frame protocol over a serial port. A MockTransport is
// provided for tests.
package reader

import (
	"time"

	"github.com/rs/zerolog"
)

// Transport is the driver-level link to one NFC reader.
//
// A Transport is obtained once from Open and held for the process lifetime.
//
// Example:
//
//	t, err := reader.Open(reader.Config{Driver: reader.DriverPCSC})
//	defer t.Close()
type Transport interface {
	// String returns a human-readable description of the reader.
	String() string

	// IsCardPresent reports whether a card is currently in the field.
	IsCardPresent() bool

	// Transmit sends one frame to the card and returns the response payload.
	Transmit(frame []byte) ([]byte, error)

	// Close releases the reader. Safe to call once, on any exit path.
	Close() error
}

// Driver names accepted by Open and the --driver flag.
const (
	DriverPCSC   = "pcsc"
	DriverLibNFC = "libnfc"
	DriverUART   = "uart"
)

// Device enumeration behavior
const (
	deviceEnumRetries = 3
	enumRetryDelay    = 100 * time.Millisecond
)

// DefaultBaudRate is the PN532 HSU default (8 data bits, no parity, 1 stop bit).
const DefaultBaudRate = 115200

// Config carries the driver selection and per-driver options.
type Config struct {
	// Driver selects the backend: DriverPCSC, DriverLibNFC or DriverUART.
	// Empty means DriverPCSC.
	Driver string

	// Device names an explicit reader, libnfc connection string or serial
	// port. Empty picks the first available device.
	Device string

	// Baud is the uart driver's baud rate. Zero means DefaultBaudRate.
	Baud int

	// Plain makes the pcsc driver send frames as unwrapped APDUs instead of
	// tunneling them through the reader's PN532.
	Plain bool

	// Log receives driver diagnostics.
	Log zerolog.Logger
}

// Open connects to the reader for the configured driver. The returned
// Transport is held for the whole session; callers treat a failure here as
// fatal.
func Open(cfg Config) (Transport, error) {
	switch cfg.Driver {
	case DriverPCSC, "":
		return openPCSC(cfg)
	case DriverLibNFC:
		return openLibNFC(cfg)
	case DriverUART:
		return openUART(cfg)
	default:
		return nil, Errorf(ErrCodeConnect, "Open", "unknown driver %q", cfg.Driver)
	}
}

// ListDevices enumerates the devices the configured driver can see without
// connecting to any of them.
func ListDevices(cfg Config) ([]string, error) {
	switch cfg.Driver {
	case DriverPCSC, "":
		return listPCSC()
	case DriverLibNFC:
		return listLibNFC()
	case DriverUART:
		return listUART()
	default:
		return nil, Errorf(ErrCodeConnect, "ListDevices", "unknown driver %q", cfg.Driver)
	}
}
