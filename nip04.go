package nostr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// sharedSecretNIP04 computes the ECDH shared secret between our
// secret key and their public key, hashed per NIP-04 (the X
// coordinate of the shared point, sha256'd). secp256k1 math is
// provided by btcec, the teacher's own dependency for key handling;
// AES is stdlib because no third-party AES implementation appears
// anywhere in the retrieved corpus (see DESIGN.md).
func sharedSecretNIP04(ourSKHex, theirPKHex string) ([]byte, error) {
	skBytes, err := hex.DecodeString(ourSKHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(skBytes)

	pkBytes, err := hex.DecodeString(theirPKHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	// nostr pubkeys are x-only (32 bytes); reconstruct a full compressed
	// point by trying the even-y candidate, as NIP-04/44 convention does.
	compressed := append([]byte{0x02}, pkBytes...)
	pub, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("invalid public key point: %w", err)
	}

	var point btcec.JacobianPoint
	pub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := sha256.Sum256(result.X.Bytes()[:])
	return shared[:], nil
}

// encryptNIP04 encrypts plaintext to theirPKHex using our secret key,
// returning the "<base64 ciphertext>?iv=<base64 iv>" wire form.
func encryptNIP04(ourSKHex, theirPKHex, plaintext string) (string, error) {
	key, err := sharedSecretNIP04(ourSKHex, theirPKHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return fmt.Sprintf("%s?iv=%s",
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv),
	), nil
}

// decryptNIP04 is the inverse of encryptNIP04.
func decryptNIP04(ourSKHex, theirPKHex, payload string) (string, error) {
	parts := strings.SplitN(payload, "?iv=", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed nip04 payload")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid iv encoding: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid nip04 payload lengths")
	}

	key, err := sharedSecretNIP04(ourSKHex, theirPKHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plain := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	return data[:len(data)-padLen], nil
}
