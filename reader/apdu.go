package reader

import (
	"errors"
	"fmt"
)

// APDU status words
const (
	SW1Success = 0x90
	SW2Success = 0x00
)

// Common APDU command classes
const (
	CLAStandard = 0x00 // Standard ISO7816-4
	CLAPCSC     = 0xFF // PC/SC pseudo-APDU (reader commands)
)

// PC/SC pseudo-APDU instructions
const (
	INSGetUID    = 0xCA // Get UID
	INSDirectCmd = 0x00 // Direct transmit (for wrapped commands)
)

// PN532 frame direction bytes
const (
	HostToPN532 byte = 0xD4 // Commands from host to PN532
	PN532ToHost byte = 0xD5 // Responses from PN532 to host
)

// PN532 command codes (the subset this program uses)
const (
	PN532CmdGetFirmwareVersion  byte = 0x02
	PN532CmdSAMConfiguration    byte = 0x14
	PN532CmdRFConfiguration     byte = 0x32
	PN532CmdInCommunicateThru   byte = 0x42
	PN532CmdInListPassiveTarget byte = 0x4A
)

// PN532SAMNormalMode configures the PN532 without a SAM, the default mode.
const PN532SAMNormalMode byte = 0x01

// APDUResponse represents a parsed APDU response
type APDUResponse struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// IsSuccess returns true if the response indicates success (SW1=90, SW2=00)
func (r APDUResponse) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

// Error returns an error if the response is not successful
func (r APDUResponse) Error() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("APDU error: SW1=%02X SW2=%02X", r.SW1, r.SW2)
}

// StatusWord returns the 2-byte status word as uint16
func (r APDUResponse) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// ParseAPDUResponse parses a raw response into APDUResponse
func ParseAPDUResponse(raw []byte) (APDUResponse, error) {
	if len(raw) < 2 {
		return APDUResponse{}, errors.New("response too short")
	}
	return APDUResponse{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildAPDU constructs an APDU command
func BuildAPDU(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}

	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}

	if le != nil {
		cmd = append(cmd, *le)
	}

	return cmd
}

// GetUIDAPDU returns the APDU for getting the card UID
func GetUIDAPDU() []byte {
	le := byte(0x00)
	return BuildAPDU(CLAPCSC, INSGetUID, 0x00, 0x00, nil, &le)
}

// WrapCommunicateThru prepends the PN532 InCommunicateThru header so the chip
// forwards the payload to the selected target as a raw RF frame.
func WrapCommunicateThru(frame []byte) []byte {
	wrapped := make([]byte, 0, len(frame)+2)
	wrapped = append(wrapped, HostToPN532, PN532CmdInCommunicateThru)
	return append(wrapped, frame...)
}

// WrapDirectTransmit prepends the ACR122 direct-transmit pseudo-APDU header.
// The reader hands everything after the length byte to its PN532 untouched.
func WrapDirectTransmit(payload []byte) []byte {
	wrapped := make([]byte, 0, len(payload)+5)
	wrapped = append(wrapped, CLAPCSC, INSDirectCmd, 0x00, 0x00, byte(len(payload)))
	return append(wrapped, payload...)
}

// WrapTunnel applies both tunnel layers to a raw frame:
// FF 00 00 00 <len+2> D4 42 <frame>
func WrapTunnel(frame []byte) []byte {
	return WrapDirectTransmit(WrapCommunicateThru(frame))
}

// UnwrapTunnelResponse validates a tunneled reply and strips the envelope.
// A good reply carries SW1=90 and starts with D5 43 00; the payload is
// everything after those three bytes. The status word check is on SW1 only,
// matching what the ACR122 actually reports for direct transmit.
func UnwrapTunnelResponse(resp []byte) ([]byte, error) {
	parsed, err := ParseAPDUResponse(resp)
	if err != nil {
		return nil, NewTunnelError("Transmit", "tunnel reply too short")
	}
	if parsed.SW1 != SW1Success {
		return nil, NewTunnelError("Transmit",
			fmt.Sprintf("reader rejected command: SW=%04X", parsed.StatusWord()))
	}
	body := parsed.Data
	if len(body) < 3 || body[0] != PN532ToHost || body[1] != PN532CmdInCommunicateThru+1 {
		return nil, NewTunnelError("Transmit",
			fmt.Sprintf("unexpected tunnel reply header: % X", body))
	}
	if body[2] != 0x00 {
		return nil, NewTunnelError("Transmit",
			fmt.Sprintf("InCommunicateThru status %02X", body[2]))
	}
	return body[3:], nil
}

// BytesToHex converts bytes to uppercase hex string
func BytesToHex(data []byte) string {
	const hexChars = "0123456789ABCDEF"
	result := make([]byte, len(data)*2)
	for i, b := range data {
		result[i*2] = hexChars[b>>4]
		result[i*2+1] = hexChars[b&0x0F]
	}
	return string(result)
}
