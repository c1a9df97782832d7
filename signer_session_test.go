package nostr

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerSessionHandshakeAck(t *testing.T) {
	fd := &fakeDialer{}
	conn := NewConnection(ConnectionConfig{
		URL:         "wss://relay.example.com",
		Dialer:      fd.dial,
		AssumeValid: true,
	})
	require.NoError(t, conn.Connect(context.Background()))
	waitFor(t, time.Second, func() bool { return conn.Status() == StatusConnected })
	sock := fd.last()

	remote, err := GenerateKeypair()
	require.NoError(t, err)

	npub, err := encodeBech32PublicKey(remote.PublicKey)
	require.NoError(t, err)

	sess, err := NewSignerSession(conn, SignerSessionConfig{Token: npub + "#otp42"})
	require.NoError(t, err)

	// drive the simulated remote signer from a background goroutine:
	// once the client's REQ frame for the long-lived subscription goes
	// out, wait for the encrypted "connect" EVENT and answer it.
	done := make(chan struct{})
	go func() {
		defer close(done)

		var reqID string
		for i := 0; i < 200; i++ {
			raw := sock.lastWritten()
			if raw == nil {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var parts []json.RawMessage
			if json.Unmarshal(raw, &parts) != nil || len(parts) == 0 {
				continue
			}
			var verb string
			json.Unmarshal(parts[0], &verb)
			if verb != "EVENT" {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			var ev Event
			require.NoError(t, json.Unmarshal(parts[1], &ev))

			plaintext, err := decryptNIP04(remote.SecretKey, ev.PubKey, ev.Content)
			require.NoError(t, err)
			var req rpcRequest
			require.NoError(t, json.Unmarshal([]byte(plaintext), &req))
			reqID = req.ID
			assert.Equal(t, "connect", req.Method)
			assert.Equal(t, []string{sess.LocalPublicKey(), "otp42"}, req.Params)

			respPlain, err := json.Marshal(rpcResponse{ID: reqID, Result: "ack"})
			require.NoError(t, err)
			ciphertext, err := encryptNIP04(remote.SecretKey, ev.PubKey, string(respPlain))
			require.NoError(t, err)

			respEvent := &Event{
				Kind:      KindNostrConnect,
				CreatedAt: time.Now().Unix(),
				Content:   ciphertext,
				Tags:      Tags{{"p", ev.PubKey}},
			}
			require.NoError(t, respEvent.Sign(remote.SecretKey))

			sess.mu.Lock()
			subID := sess.sub.ID()
			sess.mu.Unlock()
			raw, err := json.Marshal([]interface{}{"EVENT", subID, respEvent})
			require.NoError(t, err)
			sock.push(raw)
			return
		}
		t.Error("never observed a connect request from the signer session")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.BlockUntilReady(ctx))

	<-done
	assert.Equal(t, remote.PublicKey, sess.RemotePublicKey())
}
