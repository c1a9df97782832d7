package nostr

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// fakeSocket is an in-memory Socket used to drive the Connection FSM
// deterministically in tests, standing in for a real relay.
type fakeSocket struct {
	mu       sync.Mutex
	inbox    chan []byte
	closed   bool
	closeErr error
	writes   [][]byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbox: make(chan []byte, 64)}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.inbox
	if !ok {
		return 0, nil, fmt.Errorf("fake socket closed")
	}
	return wsTextMessage, msg, nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("write on closed fake socket")
	}
	if messageType == wsTextMessage {
		f.writes = append(f.writes, data)
	}
	return nil
}

// lastWritten returns the most recent text frame written by the
// Connection under test, or nil if none has been written yet.
func (f *fakeSocket) lastWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

// push delivers a raw server->client frame to the read loop.
func (f *fakeSocket) push(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.inbox <- raw
}

// alwaysFailDialer never succeeds, for exercising reconnect backoff.
func alwaysFailDialer(ctx context.Context, url string, header http.Header) (Socket, error) {
	return nil, fmt.Errorf("dial always fails")
}

// fakeDialer hands out a fresh fakeSocket on every dial and keeps them
// all, so tests can reach the latest one and count the dials.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (d *fakeDialer) dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}
