package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDHMatchesBothSides(t *testing.T) {
	serverPub, serverSecret, err := NewX25519Keypair()
	require.NoError(t, err)
	clientPub, clientSecret, err := NewX25519Keypair()
	require.NoError(t, err)

	serverShared, err := ECDH(serverSecret, clientPub)
	require.NoError(t, err)
	clientShared, err := ECDH(clientSecret, serverPub)
	require.NoError(t, err)

	assert.Equal(t, serverShared, clientShared)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("short"),
		[]byte("exactly 16 bytes"),
		make([]byte, 1000),
	} {
		ct, err := Encrypt(key, plaintext)
		require.NoError(t, err)

		pt, err := Decrypt(key, ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	var key [32]byte
	a, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two encryptions of the same plaintext must use different IVs")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	ct, err := Encrypt(key, []byte("hello world"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF

	_, err = Decrypt(key, ct)
	assert.Error(t, err)
}

func TestDecryptRejectsShortInput(t *testing.T) {
	var key [32]byte
	_, err := Decrypt(key, []byte("short"))
	assert.ErrorIs(t, err, ErrCrypto)
}
