package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Tags is the list-of-lists form used on the wire: each tag is
// itself a list of strings, first element the tag name.
type Tags [][]string

// GetFirst returns the first tag whose name matches, or nil.
func (t Tags) GetFirst(name string) []string {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			return tag
		}
	}
	return nil
}

// Event is the canonical signed Nostr event, built and validated by
// the caller; Sign/CheckSignature are provided here because the
// Connection FSM and Auth Coordinator both need to produce and verify
// them without pulling in a whole event-construction layer.
type Event struct {
	ID        string    `json:"id"`
	PubKey    string    `json:"pubkey"`
	CreatedAt int64     `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

// Kinds used by this module's own protocol machinery.
const (
	KindClientAuthentication = 22242
	KindNostrConnect         = 24133
)

// Serialize produces the canonical 6-element array whose sha256 is the
// event id, per NIP-01.
func (e *Event) Serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
	b, _ := json.Marshal(arr)
	return b
}

// GetID computes and returns the canonical id for the event's current
// contents without mutating it.
func (e *Event) GetID() string {
	h := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(h[:])
}

// Sign fills in PubKey, ID and Sig using sk (32-byte hex secret key).
func (e *Event) Sign(sk string) error {
	skBytes, err := hex.DecodeString(sk)
	if err != nil {
		return fmt.Errorf("invalid secret key: %w", err)
	}
	priv, pub := btcec.PrivKeyFromBytes(skBytes)
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pub))

	e.ID = e.GetID()
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// CheckSignature verifies Sig against ID and PubKey, recomputing ID
// from the event's own contents first (an event whose id doesn't
// match its contents is invalid regardless of the signature).
func (e *Event) CheckSignature() (bool, error) {
	if e.GetID() != e.ID {
		return false, fmt.Errorf("event id does not match its contents")
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false, err
	}
	return sig.Verify(idBytes, pub), nil
}
