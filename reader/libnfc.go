package reader

import (
	"fmt"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
	"github.com/rs/zerolog"
)

// libnfcTransport implements Transport using libnfc via clausecker/nfc.
//
// Presence detection lists passive ISO14443A targets; on PN53x hardware the
// last listed target stays selected, which is what lets a following raw
// transceive reach it. Freefare tag polling runs first purely to identify
// what was presented for the logs.
type libnfcTransport struct {
	device nfc.Device
	log    zerolog.Logger
}

// openLibNFC opens the first libnfc device (or cfg.Device) and puts it in
// initiator mode.
func openLibNFC(cfg Config) (Transport, error) {
	conn := cfg.Device
	if conn == "" {
		devices, err := listLibNFC()
		if err != nil {
			return nil, NewConnectError("", err)
		}
		if len(devices) == 0 {
			return nil, NewNoReaderError(DriverLibNFC)
		}
		conn = devices[0]
	}

	dev, err := nfc.Open(conn)
	if err != nil {
		return nil, NewConnectError(conn, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, NewConnectError(conn, fmt.Errorf("failed to initialize device: %w", err))
	}

	t := &libnfcTransport{device: dev, log: cfg.Log}
	t.log.Debug().Str("device", dev.String()).Str("connection", dev.Connection()).Msg("libnfc device opened")
	return t, nil
}

func (t *libnfcTransport) String() string {
	return t.device.String()
}

// IsCardPresent polls for targets in the field. Freefare first for the tag
// types it knows (MIFARE Classic, DESFire, Ultralight), then ISO14443A
// passive listing, which also covers Type 4 and leaves the found target
// selected for transceive.
func (t *libnfcTransport) IsCardPresent() bool {
	found := false

	ffTags, err := freefare.GetTags(t.device)
	if err != nil {
		t.log.Debug().Err(err).Msg("freefare poll failed")
	} else {
		for _, tag := range ffTags {
			t.log.Debug().Str("uid", tag.UID()).Str("type", fmt.Sprintf("%T", tag)).Msg("tag detected")
		}
		found = len(ffTags) > 0
	}

	modulation := nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}
	targets, err := t.device.InitiatorListPassiveTargets(modulation)
	if err != nil {
		t.log.Debug().Err(err).Msg("passive target listing failed")
		return found
	}
	for _, target := range targets {
		isoATarget, isISOA := target.(*nfc.ISO14443aTarget)
		if !isISOA {
			continue
		}
		if isoATarget.UIDLen > 0 && int(isoATarget.UIDLen) <= len(isoATarget.UID) {
			t.log.Debug().
				Str("uid", BytesToHex(isoATarget.UID[:isoATarget.UIDLen])).
				Str("sak", fmt.Sprintf("%02X", isoATarget.Sak)).
				Msg("ISO14443A target")
		}
	}

	return found || len(targets) > 0
}

// Transmit exchanges one raw frame with the selected target. No envelope is
// involved: libnfc already speaks to the chip directly.
func (t *libnfcTransport) Transmit(frame []byte) ([]byte, error) {
	var rxData [262]byte // Max buffer size for NFC
	t.log.Debug().Str("tx", BytesToHex(frame)).Msg("libnfc transmit")

	count, err := t.device.InitiatorTransceiveBytes(frame, rxData[:], 0)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "removed") {
			return nil, NewCardRemovedError("Transmit", err)
		}
		return nil, NewTransmitError("Transmit", err)
	}

	resp := rxData[:count]
	t.log.Debug().Str("rx", BytesToHex(resp)).Msg("libnfc response")
	return resp, nil
}

func (t *libnfcTransport) Close() error {
	return t.device.Close()
}

// listLibNFC lists libnfc connection strings, retrying a few times because
// enumeration right after plugging a device in is flaky.
func listLibNFC() ([]string, error) {
	var devices []string
	var err error
	for i := 0; i < deviceEnumRetries; i++ {
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(enumRetryDelay)
	}
	return nil, fmt.Errorf("failed to list NFC devices after %d retries: %w", deviceEnumRetries, err)
}
