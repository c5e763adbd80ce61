package ntag424

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// Tap verification errors. All of them fail closed: nothing decrypted is
// trusted once any check fails.
var (
	ErrMACMismatch = errors.New("ntag424: tap MAC mismatch")
	ErrUIDMismatch = errors.New("ntag424: tap UID does not match card")
	ErrReplay      = errors.New("ntag424: tap counter not increasing")
)

// TapParams carries one tap's raw material plus the card state to verify
// against. ExpectedUID is optional (empty skips the check); LastCounter is
// the highest counter previously accepted.
type TapParams struct {
	PICCData    []byte
	MAC         []byte
	K1          []byte
	K2          []byte
	ExpectedUID []byte // nil to skip
	LastCounter uint32
}

// TapResult is the authenticated outcome of a tap.
type TapResult struct {
	UID     [UIDSize]byte
	Counter uint32
}

// VerifyTap authenticates a card tap. PICCData is decrypted first to obtain
// the UID and counter, and only then is the SunMAC recomputed over those
// values and compared in constant time. The reverse order would verify a MAC
// against unauthenticated guesses and is deliberately not implemented.
func VerifyTap(p TapParams) (*TapResult, error) {
	picc, err := DecryptPICCData(p.K1, p.PICCData)
	if err != nil {
		return nil, err
	}

	if len(p.MAC) != MACSize {
		return nil, fmt.Errorf("ntag424: mac must be %d bytes, got %d", MACSize, len(p.MAC))
	}
	expected, err := SunMAC(p.K2, picc.UID, picc.Counter)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(expected, p.MAC) != 1 {
		return nil, ErrMACMismatch
	}

	if len(p.ExpectedUID) > 0 {
		// A pinned UID of the wrong length can never match a real chip UID,
		// so it fails the same way a mismatching one does.
		if len(p.ExpectedUID) != UIDSize || subtle.ConstantTimeCompare(picc.UID[:], p.ExpectedUID) != 1 {
			return nil, ErrUIDMismatch
		}
	}
	if picc.Counter <= p.LastCounter {
		return nil, ErrReplay
	}

	return &TapResult{UID: picc.UID, Counter: picc.Counter}, nil
}
