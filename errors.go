package nostr

import "errors"

// Error kinds from the error taxonomy. These are sentinel values
// callers can compare against with errors.Is; RemoteError wraps a
// message from the remote side and is never a sentinel.
var (
	ErrMalformedFrame  = errors.New("nostr: malformed frame")
	ErrNotConnected    = errors.New("nostr: not connected")
	ErrConnectionClosed = errors.New("nostr: connection closed")
	ErrHandshakeFailed = errors.New("nostr: signer handshake failed")
	ErrRemoteUnknown   = errors.New("nostr: remote identifier did not resolve")
	ErrNoSigner        = errors.New("nostr: no signer configured")
)

// RemoteError carries an error message returned verbatim by the remote
// side: a remote signer's NIP-46 error field, or the reason a relay
// gave in an OK frame that rejected a publish.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "nostr: remote signer error: " + e.Message
}
