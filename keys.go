package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Keypair is a plain hex-encoded secp256k1 secret/public keypair.
type Keypair struct {
	SecretKey string
	PublicKey string
}

// GenerateKeypair produces a fresh random keypair, used whenever a
// Signer Session isn't given a local signing identity: its only job
// is to encrypt/decrypt to the remote counterpart, not to author
// events itself.
func GenerateKeypair() (Keypair, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return Keypair{}, err
	}
	pub := schnorr.SerializePubKey(sk.PubKey())
	return Keypair{
		SecretKey: hex.EncodeToString(sk.Serialize()),
		PublicKey: hex.EncodeToString(pub),
	}, nil
}

// nip06Path is NIP-06's m/44'/1237'/0'/0/0 path, expressed
// as the sequence of (index, hardened) pairs bip32 needs.
var nip06Path = []struct {
	index    uint32
	hardened bool
}{
	{44, true},
	{1237, true},
	{0, true},
	{0, false},
	{0, false},
}

// KeypairFromMnemonic derives a deterministic keypair from a BIP-39
// mnemonic using NIP-06's BIP-32 account convention, via the
// teacher's own go-bip39/go-bip32 dependencies — an alternative to
// GenerateKeypair for callers who want reproducible Signer Session
// identities across process restarts.
func KeypairFromMnemonic(mnemonic, passphrase string) (Keypair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return Keypair{}, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return Keypair{}, fmt.Errorf("derive master key: %w", err)
	}

	key := master
	for _, step := range nip06Path {
		idx := step.index
		if step.hardened {
			idx += bip32.FirstHardenedChild
		}
		key, err = key.NewChildKey(idx)
		if err != nil {
			return Keypair{}, fmt.Errorf("derive child key: %w", err)
		}
	}

	priv, _ := btcec.PrivKeyFromBytes(key.Key)
	pub := schnorr.SerializePubKey(priv.PubKey())
	return Keypair{
		SecretKey: hex.EncodeToString(priv.Serialize()),
		PublicKey: hex.EncodeToString(pub),
	}, nil
}

// randomHexID returns a fresh random lowercase-hex id of n bytes,
// used to mint correlation ids for NIP-46 requests.
func randomHexID(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
