package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNIP04EncryptDecryptRoundTrip(t *testing.T) {
	alice, err := GenerateKeypair()
	require.NoError(t, err)
	bob, err := GenerateKeypair()
	require.NoError(t, err)

	ciphertext, err := encryptNIP04(alice.SecretKey, bob.PublicKey, "hello bob")
	require.NoError(t, err)
	assert.Contains(t, ciphertext, "?iv=")

	plaintext, err := decryptNIP04(bob.SecretKey, alice.PublicKey, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", plaintext)
}

func TestNIP04DecryptRejectsMalformedPayload(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	_, err = decryptNIP04(kp.SecretKey, kp.PublicKey, "not-a-valid-payload")
	assert.Error(t, err)
}

func TestPKCS7PadUnpadRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pkcs7Pad(data, 16)
		assert.Equal(t, 0, len(padded)%16)
		unpadded, err := pkcs7Unpad(padded)
		require.NoError(t, err)
		assert.Equal(t, data, unpadded)
	}
}
