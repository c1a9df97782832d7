package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	ev := &Event{
		Kind:      1,
		CreatedAt: 1700000000,
		Content:   "hello world",
		Tags:      Tags{{"e", "abc"}},
	}
	require.NoError(t, ev.Sign(kp.SecretKey))

	assert.Equal(t, kp.PublicKey, ev.PubKey)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Sig)

	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventCheckSignatureRejectsTamperedContent(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	ev := &Event{Kind: 1, CreatedAt: 1700000000, Content: "original"}
	require.NoError(t, ev.Sign(kp.SecretKey))

	ev.Content = "tampered"
	ok, err := ev.CheckSignature()
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestKeypairFromMnemonicIsDeterministic(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	kp1, err := KeypairFromMnemonic(mnemonic, "")
	require.NoError(t, err)
	kp2, err := KeypairFromMnemonic(mnemonic, "")
	require.NoError(t, err)
	assert.Equal(t, kp1, kp2)
}
