// Package ntag424 implements the NTAG424DNA card primitives: AES-CMAC,
// deterministic key derivation, PICCData decryption and SunMAC verification.
// Everything here is pure computation; no I/O.
package ntag424

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const blockSize = 16

// rb is the GF(2^128) reduction constant from RFC 4493.
const rb = 0x87

// Cmac computes AES-CMAC (RFC 4493) of msg under a 16-byte key.
func Cmac(key, msg []byte) ([]byte, error) {
	if len(key) != blockSize {
		return nil, fmt.Errorf("ntag424: cmac key must be %d bytes, got %d", blockSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ntag424: creating cipher: %w", err)
	}

	k1, k2 := subkeys(block)

	n := (len(msg) + blockSize - 1) / blockSize
	complete := n > 0 && len(msg)%blockSize == 0
	if n == 0 {
		n = 1
	}

	last := make([]byte, blockSize)
	if complete {
		copy(last, msg[(n-1)*blockSize:])
		xorInto(last, k1)
	} else {
		rem := msg[(n-1)*blockSize:]
		copy(last, rem)
		last[len(rem)] = 0x80
		xorInto(last, k2)
	}

	x := make([]byte, blockSize)
	for i := 0; i < n-1; i++ {
		xorInto(x, msg[i*blockSize:(i+1)*blockSize])
		block.Encrypt(x, x)
	}
	xorInto(x, last)
	block.Encrypt(x, x)
	return x, nil
}

// subkeys derives K1/K2 per RFC 4493 §2.3: encrypt the zero block, then
// left-shift with a conditional XOR of rb when the shifted-out bit is set.
func subkeys(block cipher.Block) (k1, k2 []byte) {
	l := make([]byte, blockSize)
	block.Encrypt(l, l)
	k1 = dbl(l)
	k2 = dbl(k1)
	return k1, k2
}

func dbl(in []byte) []byte {
	out := make([]byte, blockSize)
	var carry byte
	for i := blockSize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if carry != 0 {
		out[blockSize-1] ^= rb
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
