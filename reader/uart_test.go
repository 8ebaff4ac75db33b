package reader

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSerialPort is an in-memory serialPort. Reads drain the scripted
// rx buffer and return io.EOF once it is empty, so tests never wait out
// a real timeout.
type fakeSerialPort struct {
	rx     bytes.Buffer
	tx     bytes.Buffer
	closed bool
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	if f.rx.Len() == 0 {
		return 0, io.EOF
	}
	return f.rx.Read(p)
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	return f.tx.Write(p)
}

func (f *fakeSerialPort) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSerialPort) SetReadTimeout(t time.Duration) error {
	return nil
}

// chipFrame builds a chip-to-host information frame the way the PN532
// emits them, for scripting fake port reads.
func chipFrame(code byte, params ...byte) []byte {
	data := append([]byte{0xD5, code}, params...)
	frame := []byte{0x00, 0x00, 0xFF, byte(len(data)), byte(-len(data))}
	sum := byte(0)
	for _, b := range data {
		sum += b
	}
	frame = append(frame, data...)
	return append(frame, -sum, 0x00)
}

func newTestUART(script ...[]byte) (*uartTransport, *fakeSerialPort) {
	port := &fakeSerialPort{}
	for _, chunk := range script {
		port.rx.Write(chunk)
	}
	return &uartTransport{
		port: port,
		path: "/dev/ttyUSB0",
		log:  zerolog.Nop(),
	}, port
}

func TestBuildPN532Frame(t *testing.T) {
	tests := []struct {
		name     string
		cmd      byte
		params   []byte
		expected []byte
	}{
		{
			name:     "get firmware version",
			cmd:      PN532CmdGetFirmwareVersion,
			expected: []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00},
		},
		{
			name:     "sam configuration",
			cmd:      PN532CmdSAMConfiguration,
			params:   []byte{0x01, 0x14, 0x01},
			expected: []byte{0x00, 0x00, 0xFF, 0x05, 0xFB, 0xD4, 0x14, 0x01, 0x14, 0x01, 0x02, 0x00},
		},
		{
			name:     "communicate thru",
			cmd:      PN532CmdInCommunicateThru,
			params:   []byte{0x30, 0x00},
			expected: []byte{0x00, 0x00, 0xFF, 0x04, 0xFC, 0xD4, 0x42, 0x30, 0x00, 0xBA, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPN532Frame("Test", tt.cmd, tt.params)
			if err != nil {
				t.Fatalf("buildPN532Frame() unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("buildPN532Frame() = % X, want % X", got, tt.expected)
			}
		})
	}
}

func TestBuildPN532Frame_PayloadTooLong(t *testing.T) {
	_, err := buildPN532Frame("Test", PN532CmdInCommunicateThru, make([]byte, maxPN532Payload+1))
	if err == nil {
		t.Fatal("buildPN532Frame() expected error for oversized payload")
	}
	if code := GetErrorCode(err); code != ErrCodeFraming {
		t.Errorf("error code = %v, want %v", code, ErrCodeFraming)
	}
}

func TestUARTCommand(t *testing.T) {
	tr, port := newTestUART(
		pn532ACKFrame,
		chipFrame(0x03, 0x32, 0x01, 0x06, 0x07),
	)

	out, err := tr.commandLocked("Test", PN532CmdGetFirmwareVersion, nil)
	if err != nil {
		t.Fatalf("commandLocked() unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte{0x32, 0x01, 0x06, 0x07}) {
		t.Errorf("commandLocked() = % X, want 32 01 06 07", out)
	}

	want := []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00}
	if !bytes.Equal(port.tx.Bytes(), want) {
		t.Errorf("written frame = % X, want % X", port.tx.Bytes(), want)
	}
}

func TestUARTCommand_FrameFaults(t *testing.T) {
	goodResp := chipFrame(0x03, 0x32, 0x01, 0x06, 0x07)

	// A host-direction frame with valid checksums, as if the line echoed
	// our own command back.
	hostEcho, err := buildPN532Frame("Test", PN532CmdGetFirmwareVersion, nil)
	if err != nil {
		t.Fatalf("buildPN532Frame() unexpected error: %v", err)
	}

	corrupt := func(offset int, b byte) []byte {
		frame := make([]byte, len(goodResp))
		copy(frame, goodResp)
		frame[offset] = b
		return frame
	}

	tests := []struct {
		name   string
		script [][]byte
	}{
		{
			name:   "response without ACK",
			script: [][]byte{goodResp},
		},
		{
			name:   "double ACK",
			script: [][]byte{pn532ACKFrame, pn532ACKFrame},
		},
		{
			name:   "bad length checksum",
			script: [][]byte{pn532ACKFrame, corrupt(4, 0x00)},
		},
		{
			name:   "bad data checksum",
			script: [][]byte{pn532ACKFrame, corrupt(7, 0x99)},
		},
		{
			name:   "frame not from chip",
			script: [][]byte{pn532ACKFrame, hostEcho},
		},
		{
			name:   "wrong response code",
			script: [][]byte{pn532ACKFrame, chipFrame(0x15)},
		},
		{
			name:   "no data at all",
			script: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestUART(tt.script...)
			_, err := tr.commandLocked("Test", PN532CmdGetFirmwareVersion, nil)
			if err == nil {
				t.Fatal("commandLocked() expected error")
			}
			if code := GetErrorCode(err); code != ErrCodeFraming {
				t.Errorf("error code = %v, want %v", code, ErrCodeFraming)
			}
		})
	}
}

func TestUARTCommand_SkipsLineNoise(t *testing.T) {
	tr, _ := newTestUART(
		[]byte{0xAA, 0x55},
		pn532ACKFrame,
		chipFrame(0x03, 0x32, 0x01, 0x06, 0x07),
	)

	out, err := tr.commandLocked("Test", PN532CmdGetFirmwareVersion, nil)
	if err != nil {
		t.Fatalf("commandLocked() unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte{0x32, 0x01, 0x06, 0x07}) {
		t.Errorf("commandLocked() = % X, want 32 01 06 07", out)
	}
}

func TestUARTInit(t *testing.T) {
	tr, port := newTestUART(
		pn532ACKFrame, chipFrame(0x15),
		pn532ACKFrame, chipFrame(0x33),
		pn532ACKFrame, chipFrame(0x03, 0x32, 0x01, 0x06, 0x07),
	)

	if err := tr.init(); err != nil {
		t.Fatalf("init() unexpected error: %v", err)
	}

	if !bytes.HasPrefix(port.tx.Bytes(), pn532WakeUp) {
		t.Error("init() should write the wakeup sequence first")
	}
}

func TestUARTIsCardPresent(t *testing.T) {
	tests := []struct {
		name     string
		script   [][]byte
		expected bool
	}{
		{
			name: "one target found",
			script: [][]byte{
				pn532ACKFrame,
				chipFrame(0x4B, 0x01, 0x01, 0x00, 0x04, 0x08, 0x04, 0xDE, 0xAD, 0xBE, 0xEF),
			},
			expected: true,
		},
		{
			name: "no targets",
			script: [][]byte{
				pn532ACKFrame,
				chipFrame(0x4B, 0x00),
			},
			expected: false,
		},
		{
			name:     "port dead",
			script:   nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestUART(tt.script...)
			if got := tr.IsCardPresent(); got != tt.expected {
				t.Errorf("IsCardPresent() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestUARTTransmit(t *testing.T) {
	tr, port := newTestUART(
		pn532ACKFrame,
		chipFrame(0x43, 0x00, 0x04, 0x8F),
	)

	resp, err := tr.Transmit([]byte{0x30, 0x00})
	if err != nil {
		t.Fatalf("Transmit() unexpected error: %v", err)
	}
	if !bytes.Equal(resp, []byte{0x04, 0x8F}) {
		t.Errorf("Transmit() = % X, want 04 8F", resp)
	}

	want := []byte{0x00, 0x00, 0xFF, 0x04, 0xFC, 0xD4, 0x42, 0x30, 0x00, 0xBA, 0x00}
	if !bytes.Equal(port.tx.Bytes(), want) {
		t.Errorf("written frame = % X, want % X", port.tx.Bytes(), want)
	}
}

func TestUARTTransmit_RFError(t *testing.T) {
	tr, _ := newTestUART(
		pn532ACKFrame,
		chipFrame(0x43, 0x01),
	)

	_, err := tr.Transmit([]byte{0x30, 0x00})
	if err == nil {
		t.Fatal("Transmit() expected error for nonzero status")
	}
	if code := GetErrorCode(err); code != ErrCodeTunnel {
		t.Errorf("error code = %v, want %v", code, ErrCodeTunnel)
	}
}

func TestUARTTransmit_Closed(t *testing.T) {
	tr, _ := newTestUART()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	_, err := tr.Transmit([]byte{0x30, 0x00})
	if err == nil {
		t.Fatal("Transmit() expected error on closed transport")
	}
	if code := GetErrorCode(err); code != ErrCodeClosed {
		t.Errorf("error code = %v, want %v", code, ErrCodeClosed)
	}

	// Close is idempotent.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}
