package ntag424

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// UIDSize is the NTAG424 7-byte UID length.
const UIDSize = 7

// KeySize is the AES-128 key length used throughout.
const KeySize = 16

// Domain-separation tags for the deterministic derivation scheme. Each
// derivation is CMAC(baseKey, tag ‖ extra).
var (
	tagCardKey = []byte{0x2d, 0x00, 0x3f, 0x76} // + UID + version (LE32), from issuer key
	tagK1      = []byte{0x2d, 0x00, 0x3f, 0x77} // from issuer key: shared across the issuer's cards
	tagK0      = []byte{0x2d, 0x00, 0x3f, 0x78} // from card key
	tagK2      = []byte{0x2d, 0x00, 0x3f, 0x79} // from card key
	tagK3      = []byte{0x2d, 0x00, 0x3f, 0x7a} // from card key
	tagK4      = []byte{0x2d, 0x00, 0x3f, 0x7b} // from card key
	tagCardID  = []byte{0x2d, 0x00, 0x3f, 0x7e} // + UID, from issuer key
)

// CardKeys holds a card's full derived key set.
type CardKeys struct {
	CardKey []byte
	K0      []byte
	K1      []byte // issuer-wide; enables card lookup before any UID is known
	K2      []byte
	K3      []byte
	K4      []byte
}

// DeriveCardKeys derives the per-card key set from the issuer root key, the
// 7-byte UID and the programming version.
func DeriveCardKeys(issuerKey, uid []byte, version uint32) (*CardKeys, error) {
	if len(issuerKey) != KeySize {
		return nil, fmt.Errorf("ntag424: issuer key must be %d bytes, got %d", KeySize, len(issuerKey))
	}
	if len(uid) != UIDSize {
		return nil, fmt.Errorf("ntag424: uid must be %d bytes, got %d", UIDSize, len(uid))
	}

	msg := make([]byte, 0, len(tagCardKey)+UIDSize+4)
	msg = append(msg, tagCardKey...)
	msg = append(msg, uid...)
	msg = binary.LittleEndian.AppendUint32(msg, version)

	cardKey, err := Cmac(issuerKey, msg)
	if err != nil {
		return nil, err
	}

	keys := &CardKeys{CardKey: cardKey}
	if keys.K0, err = Cmac(cardKey, tagK0); err != nil {
		return nil, err
	}
	if keys.K1, err = DeriveK1(issuerKey); err != nil {
		return nil, err
	}
	if keys.K2, err = Cmac(cardKey, tagK2); err != nil {
		return nil, err
	}
	if keys.K3, err = Cmac(cardKey, tagK3); err != nil {
		return nil, err
	}
	if keys.K4, err = Cmac(cardKey, tagK4); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeriveK1 derives the issuer-wide PICC data key. It deliberately excludes
// the UID so one trial decryption identifies any of the issuer's cards.
func DeriveK1(issuerKey []byte) ([]byte, error) {
	if len(issuerKey) != KeySize {
		return nil, fmt.Errorf("ntag424: issuer key must be %d bytes, got %d", KeySize, len(issuerKey))
	}
	return Cmac(issuerKey, tagK1)
}

// DeriveCardIDHash derives the privacy-preserving card identifier stored and
// exposed instead of the raw UID. Returned as lower-case hex.
func DeriveCardIDHash(issuerKey, uid []byte) (string, error) {
	if len(issuerKey) != KeySize {
		return "", fmt.Errorf("ntag424: issuer key must be %d bytes, got %d", KeySize, len(issuerKey))
	}
	if len(uid) != UIDSize {
		return "", fmt.Errorf("ntag424: uid must be %d bytes, got %d", UIDSize, len(uid))
	}
	msg := make([]byte, 0, len(tagCardID)+UIDSize)
	msg = append(msg, tagCardID...)
	msg = append(msg, uid...)
	mac, err := Cmac(issuerKey, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// ParseUID parses a 7-byte UID from hex, case-insensitive.
func ParseUID(s string) ([]byte, error) {
	uid, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("ntag424: malformed uid hex: %w", err)
	}
	if len(uid) != UIDSize {
		return nil, fmt.Errorf("ntag424: uid must be %d bytes, got %d", UIDSize, len(uid))
	}
	return uid, nil
}
