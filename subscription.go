package nostr

import "sync"

// Subscription is the per-subscription handle described in §3/§4.6: it
// is the sole recipient of events, end-of-stored-events, and close
// notifications for the filters it was opened with.
type Subscription struct {
	conn    *Connection
	id      string
	filters Filters

	onEvent func(*Event)
	onEOSE  func()
	onClose func(reason string)

	mu        sync.Mutex
	closed    bool
	eoseFired bool
}

// ID returns the correlation id this subscription was minted with.
func (s *Subscription) ID() string { return s.id }

// Closed reports whether the subscription has been closed, either by
// the caller or by the relay's CLOSED frame.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Fire transmits the REQ frame for this subscription. It does not
// insert into the registry — PrepareSubscription already did that,
// before Fire is ever called, so that a reply racing the outbound
// frame can never find the registry empty.
func (s *Subscription) Fire() error {
	raw, err := encodeREQ(s.id, s.filters)
	if err != nil {
		return err
	}
	return s.conn.send(raw)
}

// Unsub sends CLOSE and removes the subscription from the registry.
// Safe to call more than once.
func (s *Subscription) Unsub() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.conn.registry.subs.Delete(s.id)
	if s.conn.Status() == StatusConnected || s.conn.Status() == StatusAuthenticated {
		raw, err := encodeCLOSE(s.id)
		if err == nil {
			_ = s.conn.send(raw)
		}
	}
}

// dispatchEvent is called by the Connection FSM for an inbound EVENT
// frame already known to belong to this subscription; it applies the
// filter match and invokes the event callback at most once per event.
func (s *Subscription) dispatchEvent(event *Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.filters.Match(event) {
		return
	}
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

// dispatchEOSE is called by the Connection FSM for an inbound EOSE. A
// second EOSE for the same subscription (a misbehaving relay) is a
// no-op, mirroring the teacher's sync.Once-guarded emitEose.
func (s *Subscription) dispatchEOSE() {
	s.mu.Lock()
	if s.closed || s.eoseFired {
		s.mu.Unlock()
		return
	}
	s.eoseFired = true
	s.mu.Unlock()

	if s.onEOSE != nil {
		s.onEOSE()
	}
}

// handleClosed marks the subscription closed and invokes the close
// callback with reason; called for an inbound CLOSED frame or on
// connection teardown.
func (s *Subscription) handleClosed(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(reason)
	}
}
