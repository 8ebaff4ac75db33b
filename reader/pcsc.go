package reader

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog"
)

// pcscTransport implements Transport using PC/SC via ebfe/scard.
//
// The scard context and reader name are fixed at open time. The card handle
// is established lazily on the first transmit and dropped whenever the card
// leaves the field, so a long session picks up each newly presented card with
// a fresh connection.
type pcscTransport struct {
	ctx        *scard.Context
	readerName string
	card       *scard.Card
	plain      bool
	log        zerolog.Logger
	mu         sync.Mutex
}

// openPCSC establishes a PC/SC context and binds one reader. No card has to
// be present yet; presence is the waiter's business.
func openPCSC(cfg Config) (Transport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, NewConnectError("", fmt.Errorf("failed to establish PC/SC context: %w", err))
	}

	readers, err := listReadersWithRetry(ctx)
	if err != nil {
		ctx.Release()
		return nil, NewConnectError("", err)
	}

	readerName := cfg.Device
	if readerName == "" {
		readers = filterContactlessReaders(readers)
		if len(readers) == 0 {
			ctx.Release()
			return nil, NewNoReaderError(DriverPCSC)
		}
		readerName = pickContactlessReader(readers)
	} else if !containsReader(readers, readerName) {
		ctx.Release()
		return nil, NewConnectError(readerName, fmt.Errorf("reader not found"))
	}

	t := &pcscTransport{
		ctx:        ctx,
		readerName: readerName,
		plain:      cfg.Plain,
		log:        cfg.Log,
	}
	t.log.Debug().Str("reader", readerName).Bool("plain", cfg.Plain).Msg("pcsc reader bound")
	return t, nil
}

func (t *pcscTransport) String() string {
	return t.readerName
}

// IsCardPresent checks the reader state without connecting to the card.
// Timeout 0 makes GetStatusChange return immediately with the current state.
func (t *pcscTransport) IsCardPresent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil {
		return false
	}

	readerStates := []scard.ReaderState{
		{Reader: t.readerName, CurrentState: scard.StateUnaware},
	}
	if err := t.ctx.GetStatusChange(readerStates, 0); err != nil {
		// Timeout just means no state change; anything else is reported once
		// per poll at debug level and treated as absent.
		errLower := strings.ToLower(err.Error())
		if !strings.Contains(errLower, "timeout") {
			t.log.Debug().Err(err).Msg("pcsc status query failed")
			return false
		}
	}

	present := (readerStates[0].EventState & scard.StatePresent) != 0
	if !present {
		// A stale handle would error on the next transmit even after a new
		// card arrives. Drop it now so the next transmit reconnects.
		t.dropCardLocked()
	}
	return present
}

// Transmit sends one frame to the card, connecting first if needed. In tunnel
// mode the frame is wrapped for the reader's PN532 and the reply envelope is
// validated and stripped; in plain mode bytes pass through untouched.
func (t *pcscTransport) Transmit(frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx == nil {
		return nil, NewClosedError("Transmit")
	}
	if err := t.ensureCardLocked(); err != nil {
		return nil, err
	}

	tx := frame
	if !t.plain {
		tx = WrapTunnel(frame)
	}
	t.log.Debug().Str("tx", BytesToHex(tx)).Msg("pcsc transmit")

	resp, err := t.card.Transmit(tx)
	if err != nil {
		if isCardRemovedPCSCError(err) {
			t.dropCardLocked()
			return nil, NewCardRemovedError("Transmit", err)
		}
		return nil, NewTransmitError("Transmit", err)
	}
	t.log.Debug().Str("rx", BytesToHex(resp)).Msg("pcsc response")

	if t.plain {
		return resp, nil
	}
	return UnwrapTunnelResponse(resp)
}

func (t *pcscTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropCardLocked()
	if t.ctx != nil {
		err := t.ctx.Release()
		t.ctx = nil
		return err
	}
	return nil
}

// ensureCardLocked connects to the card in the reader if there is no usable
// handle yet. Caller must hold the lock.
func (t *pcscTransport) ensureCardLocked() error {
	if t.card != nil {
		// The scard library panics when transmitting over a protocol other
		// than T=0/T=1, so a handle that lost its protocol is unusable.
		proto := t.card.ActiveProtocol()
		if proto == scard.ProtocolT0 || proto == scard.ProtocolT1 {
			return nil
		}
		t.dropCardLocked()
	}

	// ShareShared keeps the reader usable by other applications and
	// ProtocolAny lets the reader pick T=0 or T=1.
	card, err := t.ctx.Connect(t.readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		errLower := strings.ToLower(err.Error())
		if errors.Is(err, scard.ErrNoSmartcard) ||
			strings.Contains(errLower, "no card") ||
			strings.Contains(errLower, "card is not present") ||
			strings.Contains(errLower, "card not present") {
			return NewCardRemovedError("Connect", err)
		}
		return NewTransmitError("Connect", err)
	}

	proto := card.ActiveProtocol()
	if proto != scard.ProtocolT0 && proto != scard.ProtocolT1 {
		card.Disconnect(scard.LeaveCard)
		return NewTransmitError("Connect", fmt.Errorf("unsupported card protocol: %d", proto))
	}
	t.card = card

	if status, err := card.Status(); err == nil {
		t.log.Debug().Str("atr", BytesToHex(status.Atr)).Msg("card connected")
	}
	if uid, err := t.getUIDLocked(); err == nil {
		t.log.Debug().Str("uid", uid).Msg("card uid")
	}
	return nil
}

// dropCardLocked disconnects the current card handle, if any. Caller must
// hold the lock.
func (t *pcscTransport) dropCardLocked() {
	if t.card != nil {
		t.card.Disconnect(scard.LeaveCard)
		t.card = nil
	}
}

// getUIDLocked retrieves the card UID using the GET UID pseudo-APDU. The
// reader answers this itself; the card session is not disturbed.
func (t *pcscTransport) getUIDLocked() (string, error) {
	resp, err := t.card.Transmit(GetUIDAPDU())
	if err != nil {
		return "", fmt.Errorf("GET UID failed: %w", err)
	}

	parsed, err := ParseAPDUResponse(resp)
	if err != nil {
		return "", err
	}
	if !parsed.IsSuccess() {
		return "", parsed.Error()
	}
	return BytesToHex(parsed.Data), nil
}

// listPCSC enumerates PC/SC readers for the list subcommand.
func listPCSC() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, NewConnectError("", fmt.Errorf("failed to establish PC/SC context: %w", err))
	}
	defer ctx.Release()

	readers, err := listReadersWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	return filterContactlessReaders(readers), nil
}

// listReadersWithRetry lists readers, retrying a few times because PC/SC
// service enumeration is flaky right after readers are plugged in.
func listReadersWithRetry(ctx *scard.Context) ([]string, error) {
	var lastErr error
	for i := 0; i < deviceEnumRetries; i++ {
		readers, err := ctx.ListReaders()
		if err == nil {
			return readers, nil
		}
		lastErr = err
		time.Sleep(enumRetryDelay)
	}
	return nil, fmt.Errorf("failed to list PC/SC readers after %d retries: %w", deviceEnumRetries, lastErr)
}

// isCardRemovedPCSCError checks if a PC/SC error indicates the card was
// removed. Typed errors first, string matching as fallback for non-standard
// messages from different PC/SC stacks.
func isCardRemovedPCSCError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, scard.ErrRemovedCard) {
		return true
	}
	if errors.Is(err, scard.ErrResetCard) {
		return true // Often means removed on macOS
	}
	if errors.Is(err, scard.ErrNoSmartcard) {
		return true
	}
	if errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}

	errLower := strings.ToLower(err.Error())
	return strings.Contains(errLower, "removed") ||
		strings.Contains(errLower, "reset") ||
		strings.Contains(errLower, "unpowered") ||
		strings.Contains(errLower, "no smart card") ||
		strings.Contains(errLower, "not transacted")
}

// containsReader reports whether the reader list includes the given name.
func containsReader(readers []string, name string) bool {
	for _, r := range readers {
		if r == name {
			return true
		}
	}
	return false
}

// pickContactlessReader returns the first reader whose name looks like a
// contactless NFC reader, falling back to the first reader in the list.
func pickContactlessReader(readers []string) string {
	for _, r := range readers {
		if readerContainsPattern(r) {
			return r
		}
	}
	return readers[0]
}

// readerContainsPattern checks if a reader name looks like a contactless NFC
// reader.
func readerContainsPattern(name string) bool {
	patterns := []string{
		"ACR", "ACS", "NFC", "PICC", "Contactless",
		"SCL", "HID", "Identiv", "CCID", "Dual",
	}
	upperName := strings.ToUpper(name)
	for _, p := range patterns {
		if strings.Contains(upperName, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

// filterContactlessReaders drops SAM slots from the reader list. Contactless
// readers often expose a second SAM slot that cannot talk to cards in the
// field. Preference between the remaining readers is pickContactlessReader's
// business.
func filterContactlessReaders(readers []string) []string {
	var filtered []string
	for _, r := range readers {
		if strings.Contains(strings.ToUpper(r), "SAM") {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}
