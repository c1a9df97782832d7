package nostr

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const npubHRP = "npub"

// decodeBech32PublicKey turns an "npub1..." identifier into its
// 32-byte hex form, per NIP-19. Bech32 itself is out of this module's
// scope per §1 ("bech32 identity encoding"); this is the minimal
// concrete adapter Signer Session token parsing needs, grounded on
// the teacher's own btcutil dependency rather than a hand-rolled
// bech32 implementation.
func decodeBech32PublicKey(npub string) (string, error) {
	hrp, data, err := bech32.Decode(npub)
	if err != nil {
		return "", fmt.Errorf("invalid bech32 identifier: %w", err)
	}
	if hrp != npubHRP {
		return "", fmt.Errorf("expected hrp %q, got %q", npubHRP, hrp)
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("invalid bech32 payload: %w", err)
	}
	if len(converted) != 32 {
		return "", fmt.Errorf("expected 32-byte pubkey, got %d bytes", len(converted))
	}
	return hex.EncodeToString(converted), nil
}

// encodeBech32PublicKey is the inverse of decodeBech32PublicKey.
func encodeBech32PublicKey(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return "", fmt.Errorf("invalid hex pubkey: %w", err)
	}
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(npubHRP, converted)
}
