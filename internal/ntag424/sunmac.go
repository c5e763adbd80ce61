package ntag424

import "fmt"

// MACSize is the truncated SunMAC length the card emits.
const MACSize = 8

// sv2Prefix is the session-vector header from NXP AN12196.
var sv2Prefix = []byte{0x3c, 0xc3, 0x00, 0x01, 0x00, 0x80}

// SunMAC computes the truncated tap authenticator for a UID/counter pair
// under K2: a session key is derived from SV2, the empty message is CMAC'd
// with it, and the result is truncated to the bytes at odd indices.
func SunMAC(k2 []byte, uid [UIDSize]byte, counter uint32) ([]byte, error) {
	if len(k2) != KeySize {
		return nil, fmt.Errorf("ntag424: k2 must be %d bytes, got %d", KeySize, len(k2))
	}

	sv2 := make([]byte, 0, len(sv2Prefix)+UIDSize+3)
	sv2 = append(sv2, sv2Prefix...)
	sv2 = append(sv2, uid[:]...)
	sv2 = append(sv2, byte(counter), byte(counter>>8), byte(counter>>16))

	sesKey, err := Cmac(k2, sv2)
	if err != nil {
		return nil, err
	}
	full, err := Cmac(sesKey, nil)
	if err != nil {
		return nil, err
	}

	mac := make([]byte, MACSize)
	for i := 0; i < MACSize; i++ {
		mac[i] = full[i*2+1]
	}
	return mac, nil
}
