package ntag424

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 4493 test vectors, AES-128 key and the four message lengths.
func TestCmac_RFC4493Vectors(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	msg := mustHex(t,
		"6bc1bee22e409f96e93d7e117393172a"+
			"ae2d8a571e03ac9c9eb76fac45af8e51"+
			"30c81c46a35ce411e5fbc1191a0a52ef"+
			"f69f2445df4f9b17ad2b417be66c3710")

	tests := []struct {
		name string
		mlen int
		want string
	}{
		{"empty", 0, "bb1d6929e95937287fa37d129b756746"},
		{"one block", 16, "070a16b46b4d4144f79bdd9dd04a287c"},
		{"partial block", 40, "dfa66747de9ae63030ca32611497c827"},
		{"four blocks", 64, "51f0bebf7e3b9d92fc49741779363cfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mac, err := Cmac(key, msg[:tt.mlen])
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(mac))
		})
	}
}

// RFC 4493 §2.3 subkey generation example.
func TestCmac_SubkeyGeneration(t *testing.T) {
	// AES-128(key, 0^128) = L from the RFC example; K1/K2 follow by doubling.
	l := mustHex(t, "7df76b0c1ab899b33e42f047b91b546f")
	assert.Equal(t, "fbeed618357133667c85e08f7236a8de", hex.EncodeToString(dbl(l)))
	assert.Equal(t, "f7ddac306ae266ccf90bc11ee46d513b", hex.EncodeToString(dbl(dbl(l))))
}

func TestCmac_RejectsBadKeyLength(t *testing.T) {
	_, err := Cmac([]byte{1, 2, 3}, nil)
	assert.Error(t, err)

	_, err = Cmac(make([]byte, 24), nil)
	assert.Error(t, err)
}

func TestCmac_Deterministic(t *testing.T) {
	key := make([]byte, 16)
	key[15] = 1
	a, err := Cmac(key, []byte("hello"))
	require.NoError(t, err)
	b, err := Cmac(key, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Cmac(key, []byte("hellp"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
