package reader

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// PN532 HSU framing constants. Every frame on the wire is
//
//	00 00 FF LEN LCS TFI PD0..PDn DCS 00
//
// where LEN counts TFI plus the data bytes, LEN+LCS = 0 (mod 256) and
// TFI+PD0+..+PDn+DCS = 0 (mod 256).
const (
	pn532Preamble   byte = 0x00
	pn532StartCode1 byte = 0x00
	pn532StartCode2 byte = 0xFF
	pn532Postamble  byte = 0x00
)

var (
	// pn532ACKFrame is sent by the chip to confirm it received a command
	// before the response frame follows.
	pn532ACKFrame = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}

	// pn532WakeUp takes the chip out of low power mode. The long preamble
	// gives the UART time to settle before the first real frame.
	pn532WakeUp = []byte{0x55, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
)

const (
	// uartReadTimeout bounds a single blocking read on the port. Frame
	// reads loop on this until uartResponseTimeout elapses.
	uartReadTimeout = 50 * time.Millisecond

	// uartResponseTimeout bounds the wait for a complete response frame.
	// Card exchanges through InCommunicateThru can take a while on slow
	// tags, so this is generous.
	uartResponseTimeout = 2 * time.Second

	// maxPN532Payload is the largest command payload that fits a normal
	// information frame. LEN is a single byte and counts TFI plus the
	// command code, leaving this much room for parameters.
	maxPN532Payload = 253
)

// serialPort is the subset of serial.Port the transport needs. Tests
// substitute an in-memory implementation.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// uartTransport drives a PN532 connected over a serial line (HSU mode).
// Unlike the PC/SC path there is no reader firmware in between, so the
// transport speaks the PN532 host frame protocol directly and uses
// InCommunicateThru to move raw frames to the card.
type uartTransport struct {
	port serialPort
	path string
	log  zerolog.Logger

	// mu serializes command exchanges on the port.
	mu sync.Mutex
}

// openUART opens the serial port, wakes the PN532 and configures it for
// polling. A device that does not answer GetFirmwareVersion is treated as
// a connection failure.
func openUART(cfg Config) (*uartTransport, error) {
	path := cfg.Device
	if path == "" {
		ports, err := listUART()
		if err != nil {
			return nil, NewConnectError("uart", err)
		}
		if len(ports) == 0 {
			return nil, NewNoReaderError(DriverUART)
		}
		path = ports[0]
	}

	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, NewConnectError(path, err)
	}
	if err := port.SetReadTimeout(uartReadTimeout); err != nil {
		port.Close()
		return nil, NewConnectError(path, err)
	}

	t := &uartTransport{
		port: port,
		path: path,
		log:  cfg.Log,
	}

	if err := t.init(); err != nil {
		port.Close()
		return nil, NewConnectError(path, err)
	}

	t.log.Debug().
		Str("device", path).
		Int("baud", baud).
		Msg("Connected to PN532 over serial")

	return t, nil
}

// init wakes the chip and runs the standard bring-up sequence.
func (t *uartTransport) init() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.port.Write(pn532WakeUp); err != nil {
		return err
	}

	// Normal mode, 1 second virtual card timeout, use the IRQ pin.
	if _, err := t.commandLocked("Open", PN532CmdSAMConfiguration, []byte{PN532SAMNormalMode, 0x14, 0x01}); err != nil {
		return err
	}

	// One activation attempt per InListPassiveTarget so presence polls
	// return promptly instead of blocking until a card shows up.
	if _, err := t.commandLocked("Open", PN532CmdRFConfiguration, []byte{0x05, 0xFF, 0x01, 0x01}); err != nil {
		return err
	}

	fw, err := t.commandLocked("Open", PN532CmdGetFirmwareVersion, nil)
	if err != nil {
		return err
	}
	if len(fw) >= 3 {
		t.log.Debug().
			Str("ic", fmt.Sprintf("PN5%02X", fw[0])).
			Str("firmware", fmt.Sprintf("%d.%d", fw[1], fw[2])).
			Msg("PN532 responded")
	}

	return nil
}

// String returns the serial device path.
func (t *uartTransport) String() string {
	return t.path
}

// IsCardPresent runs one InListPassiveTarget round for ISO14443A at
// 106 kbps. A found target stays selected, which is exactly what the
// following InCommunicateThru exchanges need.
func (t *uartTransport) IsCardPresent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return false
	}

	// 0x01 = at most one target, 0x00 = 106 kbps type A.
	out, err := t.commandLocked("IsCardPresent", PN532CmdInListPassiveTarget, []byte{0x01, 0x00})
	if err != nil {
		t.log.Debug().Err(err).Msg("Passive target poll failed")
		return false
	}
	if len(out) == 0 || out[0] == 0 {
		return false
	}

	// Target data: Tg, SENS_RES (2), SEL_RES, NFCID length, NFCID bytes.
	if len(out) >= 6 {
		uidLen := int(out[5])
		if len(out) >= 6+uidLen {
			t.log.Debug().
				Str("uid", BytesToHex(out[6:6+uidLen])).
				Str("sak", fmt.Sprintf("%02X", out[4])).
				Msg("Card detected")
		}
	}

	return true
}

// Transmit sends a raw frame to the selected card through
// InCommunicateThru and returns the card's answer.
func (t *uartTransport) Transmit(frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, NewClosedError("Transmit")
	}

	t.log.Debug().
		Str("tx", BytesToHex(frame)).
		Msg("Sending frame")

	out, err := t.commandLocked("Transmit", PN532CmdInCommunicateThru, frame)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, NewFramingError("Transmit", "empty InCommunicateThru reply", nil)
	}
	if out[0] != 0x00 {
		return nil, NewTunnelError("Transmit", fmt.Sprintf("InCommunicateThru status %02X", out[0]))
	}

	resp := out[1:]
	t.log.Debug().
		Str("rx", BytesToHex(resp)).
		Msg("Received response")

	return resp, nil
}

// Close releases the serial port.
func (t *uartTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// commandLocked writes one command frame, waits for the ACK and returns
// the response parameters after the response code. The caller must hold
// t.mu.
func (t *uartTransport) commandLocked(op string, cmd byte, params []byte) ([]byte, error) {
	frame, err := buildPN532Frame(op, cmd, params)
	if err != nil {
		return nil, err
	}
	if _, err := t.port.Write(frame); err != nil {
		return nil, NewTransmitError(op, err)
	}

	deadline := time.Now().Add(uartResponseTimeout)

	data, isACK, err := t.readFrame(op, deadline)
	if err != nil {
		return nil, err
	}
	if !isACK {
		return nil, NewFramingError(op, "expected ACK from PN532", nil)
	}

	data, isACK, err = t.readFrame(op, deadline)
	if err != nil {
		return nil, err
	}
	if isACK {
		return nil, NewFramingError(op, "unexpected second ACK from PN532", nil)
	}
	if len(data) == 0 || data[0] != cmd+1 {
		return nil, NewFramingError(op, fmt.Sprintf("unexpected response code for command %02X", cmd), nil)
	}

	return data[1:], nil
}

// buildPN532Frame assembles a host-to-chip information frame around the
// command code and parameters.
func buildPN532Frame(op string, cmd byte, params []byte) ([]byte, error) {
	if len(params) > maxPN532Payload {
		return nil, NewFramingError(op, fmt.Sprintf("payload of %d bytes exceeds PN532 frame limit", len(params)), nil)
	}

	dataLen := byte(len(params) + 2)
	frame := make([]byte, 0, int(dataLen)+7)
	frame = append(frame, pn532Preamble, pn532StartCode1, pn532StartCode2)
	frame = append(frame, dataLen, -dataLen)

	sum := HostToPN532 + cmd
	frame = append(frame, HostToPN532, cmd)
	for _, p := range params {
		frame = append(frame, p)
		sum += p
	}
	frame = append(frame, -sum, pn532Postamble)

	return frame, nil
}

// readFrame scans the port for the next frame and returns its data bytes
// with the TFI stripped. ACK frames are reported through the second
// return value.
func (t *uartTransport) readFrame(op string, deadline time.Time) ([]byte, bool, error) {
	// Scan for the 00 FF start code, skipping preamble and line noise.
	var prev byte = 0xFF
	for {
		b, err := t.readByte(op, deadline)
		if err != nil {
			return nil, false, err
		}
		if prev == 0x00 && b == pn532StartCode2 {
			break
		}
		prev = b
	}

	lenB, err := t.readByte(op, deadline)
	if err != nil {
		return nil, false, err
	}
	lcs, err := t.readByte(op, deadline)
	if err != nil {
		return nil, false, err
	}

	// An ACK frame carries 00 FF in place of LEN and LCS.
	if lenB == 0x00 && lcs == 0xFF {
		return nil, true, nil
	}
	if lenB == 0xFF && lcs == 0xFF {
		return nil, false, NewFramingError(op, "extended PN532 frames are not supported", nil)
	}
	if lenB+lcs != 0 {
		return nil, false, NewFramingError(op, fmt.Sprintf("bad length checksum: LEN=%02X LCS=%02X", lenB, lcs), nil)
	}

	data := make([]byte, int(lenB))
	if err := t.readFull(op, data, deadline); err != nil {
		return nil, false, err
	}
	dcs, err := t.readByte(op, deadline)
	if err != nil {
		return nil, false, err
	}

	// The trailing postamble is deliberately left unread. The start code
	// scan above skips it before the next frame, and some boards omit it.

	sum := dcs
	for _, b := range data {
		sum += b
	}
	if sum != 0 {
		return nil, false, NewFramingError(op, "bad data checksum in PN532 frame", nil)
	}
	if len(data) == 0 || data[0] != PN532ToHost {
		return nil, false, NewFramingError(op, "response frame does not originate from the PN532", nil)
	}

	return data[1:], false, nil
}

// readFull fills buf from the port, looping over short reads until the
// deadline expires.
func (t *uartTransport) readFull(op string, buf []byte, deadline time.Time) error {
	off := 0
	for off < len(buf) {
		n, err := t.port.Read(buf[off:])
		if err != nil {
			return NewFramingError(op, "serial read failed", err)
		}
		off += n
		if n == 0 && time.Now().After(deadline) {
			return NewFramingError(op, "timed out waiting for PN532 response", nil)
		}
	}
	return nil
}

func (t *uartTransport) readByte(op string, deadline time.Time) (byte, error) {
	var buf [1]byte
	if err := t.readFull(op, buf[:], deadline); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// listUART lists the serial ports visible to the host. There is no way to
// tell a PN532 apart from any other serial device without opening it, so
// every port is reported.
func listUART() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, NewConnectError("uart", err)
	}
	return ports, nil
}
