package ntag424

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
)

// piccTag marks PICCData carrying a 7-byte UID and a tap counter.
const piccTag = 0xC7

// ErrBadPICCTag is returned when decryption yields an unexpected tag byte,
// meaning the wrong key or tampered ciphertext.
var ErrBadPICCTag = errors.New("ntag424: invalid PICC data tag")

// PICCData is the decrypted per-tap payload.
type PICCData struct {
	UID     [UIDSize]byte
	Counter uint32 // 24-bit monotonic tap counter
}

// UIDHex returns the UID as lower-case hex.
func (p *PICCData) UIDHex() string {
	return hex.EncodeToString(p.UID[:])
}

// DecryptPICCData decrypts a 16-byte PICCData block with K1 (AES-128-CBC,
// zero IV, no padding) and validates the tag byte before trusting anything.
func DecryptPICCData(k1, picc []byte) (*PICCData, error) {
	if len(k1) != KeySize {
		return nil, fmt.Errorf("ntag424: k1 must be %d bytes, got %d", KeySize, len(k1))
	}
	if len(picc) != blockSize {
		return nil, fmt.Errorf("ntag424: picc data must be %d bytes, got %d", blockSize, len(picc))
	}

	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, fmt.Errorf("ntag424: creating cipher: %w", err)
	}

	plain := make([]byte, blockSize)
	iv := make([]byte, blockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, picc)

	if plain[0] != piccTag {
		return nil, ErrBadPICCTag
	}

	out := &PICCData{}
	copy(out.UID[:], plain[1:1+UIDSize])
	out.Counter = uint32(plain[8]) | uint32(plain[9])<<8 | uint32(plain[10])<<16
	return out, nil
}

// EncryptPICCData builds and encrypts a PICCData block. The card does this in
// silicon; this side exists for round-trip tests and tooling.
func EncryptPICCData(k1 []byte, uid [UIDSize]byte, counter uint32) ([]byte, error) {
	if len(k1) != KeySize {
		return nil, fmt.Errorf("ntag424: k1 must be %d bytes, got %d", KeySize, len(k1))
	}

	plain := make([]byte, blockSize)
	plain[0] = piccTag
	copy(plain[1:], uid[:])
	plain[8] = byte(counter)
	plain[9] = byte(counter >> 8)
	plain[10] = byte(counter >> 16)

	block, err := aes.NewCipher(k1)
	if err != nil {
		return nil, fmt.Errorf("ntag424: creating cipher: %w", err)
	}
	out := make([]byte, blockSize)
	iv := make([]byte, blockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	return out, nil
}
