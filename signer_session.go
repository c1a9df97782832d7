package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// handshakeSubscriptionDelay is the ordering guard described in §4.7
// step 3: without it, a fast remote signer's first response can race
// ahead of our own readiness to receive it.
const handshakeSubscriptionDelay = 100 * time.Millisecond

// IdentifierResolver resolves a human-readable signer identifier
// (e.g. "alice@example.com") to the remote signer's hex pubkey. This
// is the external collaborator named in §4.7 step 2; it is never
// implemented by this package (NIP-05 resolution is out of scope per
// §1), only consumed through this interface.
type IdentifierResolver interface {
	Resolve(ctx context.Context, identifier string) (pubkeyHex string, err error)
}

// rpcRequest is the decrypted transport payload for an outbound
// NIP-46 request.
type rpcRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// rpcResponse is the decrypted transport payload for an inbound
// NIP-46 response.
type rpcResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

type pendingSignerRequest struct {
	resolve func(result string)
	reject  func(err error)
}

// SignerSessionConfig configures a SignerSession's construction.
type SignerSessionConfig struct {
	Token    string
	Local    *Keypair // ephemeral keypair generated if nil
	Resolver IdentifierResolver
}

// SignerSession is the client side of a NIP-46 remote signing dialog,
// §4.7/§3. It holds a reference to the Connection it rides on; the
// Connection's own teardown closes the session's subscription, which
// rejects all of the session's pending requests with
// ErrConnectionClosed (§9's "shared ownership" design note).
type SignerSession struct {
	conn  *Connection
	local Keypair

	identifier string // human-readable identifier, resolved lazily
	otp        string

	resolver IdentifierResolver

	mu           sync.Mutex
	remotePubkey string
	sub          *Subscription
	pending      map[string]*pendingSignerRequest
	ready        bool

	OnAuthURL func(url string)
}

// ParseSignerToken implements §4.7's token-construction rules.
func ParseSignerToken(token string) (remotePubkey, otp, identifier string, err error) {
	switch {
	case strings.Contains(token, "#"):
		parts := strings.SplitN(token, "#", 2)
		remotePubkey, err = decodeBech32PublicKey(parts[0])
		if err != nil {
			return "", "", "", err
		}
		return remotePubkey, parts[1], "", nil

	case strings.HasPrefix(token, "npub"):
		remotePubkey, err = decodeBech32PublicKey(token)
		if err != nil {
			return "", "", "", err
		}
		return remotePubkey, "", "", nil

	case strings.Contains(token, "."):
		return "", "", token, nil

	default:
		if len(token) != 64 {
			return "", "", "", fmt.Errorf("expected a 32-byte hex pubkey, got %d chars", len(token))
		}
		return token, "", "", nil
	}
}

// NewSignerSession constructs a session bound to conn, which the
// caller must already have connected (or which will connect before
// BlockUntilReady is called).
func NewSignerSession(conn *Connection, cfg SignerSessionConfig) (*SignerSession, error) {
	remotePubkey, otp, identifier, err := ParseSignerToken(cfg.Token)
	if err != nil {
		return nil, err
	}

	local := cfg.Local
	if local == nil {
		kp, err := GenerateKeypair()
		if err != nil {
			return nil, err
		}
		local = &kp
	}

	s := &SignerSession{
		conn:         conn,
		local:        *local,
		identifier:   identifier,
		otp:          otp,
		remotePubkey: remotePubkey,
		resolver:     cfg.Resolver,
		pending:      make(map[string]*pendingSignerRequest),
	}
	return s, nil
}

// LocalPublicKey returns this session's local (possibly ephemeral)
// public key, in hex.
func (s *SignerSession) LocalPublicKey() string { return s.local.PublicKey }

// RemotePublicKey returns the remote signer's public key once known
// (empty before a human-readable identifier has been resolved).
func (s *SignerSession) RemotePublicKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePubkey
}

// BlockUntilReady implements §4.7's handshake. It resolves a
// human-readable identifier if one was given, opens the long-lived
// subscription, waits the ordering guard, sends "connect", and
// returns once the response's result is "ack".
func (s *SignerSession) BlockUntilReady(ctx context.Context) error {
	s.mu.Lock()
	remotePubkey := s.remotePubkey
	identifier := s.identifier
	s.mu.Unlock()

	if remotePubkey == "" {
		if identifier == "" {
			return fmt.Errorf("%w: no remote pubkey or identifier given", ErrRemoteUnknown)
		}
		if s.resolver == nil {
			return fmt.Errorf("%w: %q (no identifier resolver configured)", ErrRemoteUnknown, identifier)
		}
		resolved, err := s.resolver.Resolve(ctx, identifier)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnknown, err)
		}
		s.mu.Lock()
		s.remotePubkey = resolved
		remotePubkey = resolved
		s.mu.Unlock()
	}

	filters := Filters{{
		Kinds: []int{KindNostrConnect},
		Tags:  map[string][]string{"p": {s.local.PublicKey}},
	}}

	// when the transport subscription closes (relay CLOSED or connection
	// teardown), no response can arrive, so reject everything pending.
	onClose := func(string) {
		s.mu.Lock()
		pending := s.pending
		s.pending = make(map[string]*pendingSignerRequest)
		s.mu.Unlock()
		for _, p := range pending {
			p.reject(ErrConnectionClosed)
		}
	}
	sub, err := s.conn.Subscribe(filters, s.onTransportEvent, nil, onClose)
	if err != nil {
		return fmt.Errorf("failed to open signer session subscription: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	select {
	case <-time.After(handshakeSubscriptionDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	params := []string{s.local.PublicKey}
	if s.otp != "" {
		params = append(params, s.otp)
	}

	result, err := s.sendRequest(ctx, "connect", params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if result != "ack" {
		return fmt.Errorf("%w: expected \"ack\", got %q", ErrHandshakeFailed, result)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Close unsubscribes the session's transport subscription.
func (s *SignerSession) Close() {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Unsub()
	}
}

// Encrypt asks the remote signer to NIP-04-encrypt plaintext to
// recipientPubkey on our behalf.
func (s *SignerSession) Encrypt(ctx context.Context, recipientPubkey, plaintext string) (string, error) {
	return s.sendRequest(ctx, "nip04_encrypt", []string{recipientPubkey, plaintext})
}

// Decrypt asks the remote signer to NIP-04-decrypt ciphertext
// received from sender. Per §9's wire-compatibility note, the remote's
// result keeps its wire shape, a JSON-encoded array whose first element
// is the plaintext; Decrypt parses it and returns that first element.
func (s *SignerSession) Decrypt(ctx context.Context, sender, ciphertext string) (string, error) {
	result, err := s.sendRequest(ctx, "nip04_decrypt", []string{sender, ciphertext})
	if err != nil {
		return "", err
	}
	var arr []string
	if err := json.Unmarshal([]byte(result), &arr); err != nil {
		return "", fmt.Errorf("malformed nip04_decrypt result: %w", err)
	}
	if len(arr) == 0 {
		return "", fmt.Errorf("empty nip04_decrypt result")
	}
	return arr[0], nil
}

// Sign delegates signing of event to the remote signer and fills in
// event.Sig (and ID/PubKey, which the remote signer computes).
func (s *SignerSession) Sign(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	result, err := s.sendRequest(ctx, "sign_event", []string{string(payload)})
	if err != nil {
		return err
	}
	var signed Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return fmt.Errorf("malformed sign_event result: %w", err)
	}
	event.ID = signed.ID
	event.PubKey = signed.PubKey
	event.Sig = signed.Sig
	return nil
}

// sendRequest builds, encrypts, signs, and sends one NIP-46 request
// event, then blocks until its correlated response arrives or ctx is
// done. An "auth_url:" sentinel response (§4.7's auth-URL side
// channel) is surfaced via OnAuthURL without resolving the request.
func (s *SignerSession) sendRequest(ctx context.Context, method string, params []string) (string, error) {
	s.mu.Lock()
	remotePubkey := s.remotePubkey
	s.mu.Unlock()
	if remotePubkey == "" {
		return "", ErrRemoteUnknown
	}

	id := randomHexID(8)
	req := rpcRequest{ID: id, Method: method, Params: params}
	plaintext, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	ciphertext, err := encryptNIP04(s.local.SecretKey, remotePubkey, string(plaintext))
	if err != nil {
		return "", err
	}

	ev := &Event{
		Kind:      KindNostrConnect,
		CreatedAt: time.Now().Unix(),
		Content:   ciphertext,
		Tags:      Tags{{"p", remotePubkey}},
	}
	if err := ev.Sign(s.local.SecretKey); err != nil {
		return "", err
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	p := &pendingSignerRequest{
		resolve: func(result string) { resultCh <- result },
		reject:  func(err error) { errCh <- err },
	}

	s.mu.Lock()
	s.pending[id] = p
	s.mu.Unlock()

	raw, err := encodeEVENT(ev)
	if err != nil {
		s.deletePending(id)
		return "", err
	}
	if err := s.conn.send(raw); err != nil {
		s.deletePending(id)
		return "", err
	}

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		s.deletePending(id)
		return "", ctx.Err()
	}
}

func (s *SignerSession) deletePending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// onTransportEvent is the session's single long-lived subscription's
// event callback: decrypt, correlate by id, resolve or reject.
func (s *SignerSession) onTransportEvent(ev *Event) {
	s.mu.Lock()
	remotePubkey := s.remotePubkey
	s.mu.Unlock()
	if ev.PubKey != remotePubkey {
		return
	}

	plaintext, err := decryptNIP04(s.local.SecretKey, remotePubkey, ev.Content)
	if err != nil {
		return
	}

	var resp rpcResponse
	if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
		return
	}

	s.mu.Lock()
	pending, ok := s.pending[resp.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if strings.HasPrefix(resp.Result, "auth_url:") {
		url := strings.TrimPrefix(resp.Result, "auth_url:")
		if s.OnAuthURL != nil {
			s.OnAuthURL(url)
		}
		return // pending request keeps waiting for the real response
	}

	s.deletePending(resp.ID)
	if resp.Error != "" {
		pending.reject(&RemoteError{Message: resp.Error})
		return
	}
	pending.resolve(resp.Result)
}
