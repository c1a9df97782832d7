package nostr

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is the Connection FSM's state, per §3/§4.3.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReconnecting
	StatusConnected
	StatusAuthenticating
	StatusAuthenticated
	StatusDisconnecting
	StatusFlapping
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReconnecting:
		return "reconnecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusFlapping:
		return "flapping"
	}
	return "unknown"
}

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultBaseEoseTimeout = 4400 * time.Millisecond
	maxReconnectStreak     = 5
	coolOffWindow          = 60 * time.Second
	noticeReconnectDelay   = 2 * time.Second
)

// AuthPolicyOutcome is the tagged-variant return of an AuthPolicy, the
// Go expression of §9's "polymorphic return (boolean, event, falsy)"
// design note.
type AuthPolicyOutcome struct {
	kind       authOutcomeKind
	signedEvent *Event
}

type authOutcomeKind int

const (
	authAbort authOutcomeKind = iota
	authUseDefault
	authSignedEvent
)

// UseDefaultAuth tells the Auth Coordinator to build and sign a
// default kind-22242 auth event using the connection's configured
// Signer.
func UseDefaultAuth() AuthPolicyOutcome { return AuthPolicyOutcome{kind: authUseDefault} }

// WithSignedAuthEvent supplies a ready-made, already-signed auth
// event for the coordinator to dispatch as-is.
func WithSignedAuthEvent(e *Event) AuthPolicyOutcome {
	return AuthPolicyOutcome{kind: authSignedEvent, signedEvent: e}
}

// AbortAuth tells the Auth Coordinator not to respond to the
// challenge at all.
func AbortAuth() AuthPolicyOutcome { return AuthPolicyOutcome{kind: authAbort} }

// AuthPolicy decides how (or whether) to respond to a relay's AUTH
// challenge, per §4.5.
type AuthPolicy func(conn *Connection, challenge string) AuthPolicyOutcome

// Signer signs events with a locally-held key, used by the Auth
// Coordinator's "use default" path. The Signer Session (§4.7) is a
// distinct, heavier remote-signing client and does not implement this
// interface.
type Signer interface {
	Sign(event *Event) error
}

// PrivateKeySigner is the trivial local Signer backed by a hex secret
// key.
type PrivateKeySigner struct{ SecretKey string }

func (s PrivateKeySigner) Sign(event *Event) error { return event.Sign(s.SecretKey) }

// ConnectionConfig are the construction-time options from §6.
type ConnectionConfig struct {
	URL               string
	RequestHeader     http.Header
	ConnectTimeout    time.Duration
	BaseEoseTimeout   time.Duration
	AuthPolicy        AuthPolicy
	Signer            Signer
	Dialer            Dialer
	AssumeValid       bool // skip signature verification (testing/trusted relays)
}

// DefaultAuthPolicy, if set, is used by connections with no per-relay
// AuthPolicy configured, matching §4.5 step 1's process-wide default.
var DefaultAuthPolicy AuthPolicy

// Connection owns one relay WebSocket and all of its in-flight
// request state. FSM state is changed by the read loop started by
// connect, by the connect-timeout and reconnect timer callbacks, and
// by callers of Connect/Disconnect; mu serializes all of those.
type Connection struct {
	URL    string
	header http.Header
	dialer Dialer

	connectTimeout  time.Duration
	baseEoseTimeout time.Duration
	authPolicy      AuthPolicy
	signer          Signer
	assumeValid     bool

	OnConnect        func()
	OnReady          func()
	OnDisconnect     func()
	OnNotice         func(text string)
	OnAuthChallenge  func(challenge string)
	OnAuthed         func()
	OnFlapping       func(stats ConnectionStats)
	OnDelayedConnect func(delayMs int64)

	mu             sync.Mutex
	status         Status
	socket         Socket
	socketGen      uint64
	serial         uint64
	registry       registry
	stats          ConnectionStats
	lastConnectedAt *time.Time
	reconnectStreak int
	shouldReconnect bool
	connectTimer    *time.Timer
	reconnectTimer  *time.Timer
	writeMu         sync.Mutex
	lastChallenge   string
}

// NewConnection constructs an idle Connection in Disconnected state.
// It does not dial — call Connect to do that.
func NewConnection(cfg ConnectionConfig) *Connection {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	eose := cfg.BaseEoseTimeout
	if eose <= 0 {
		eose = defaultBaseEoseTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = DefaultDialer
	}
	return &Connection{
		URL:             NormalizeURL(cfg.URL),
		header:          cfg.RequestHeader,
		dialer:          dialer,
		connectTimeout:  timeout,
		baseEoseTimeout: eose,
		authPolicy:      cfg.AuthPolicy,
		signer:          cfg.Signer,
		assumeValid:     cfg.AssumeValid,
		status:          StatusDisconnected,
		shouldReconnect: true,
	}
}

// NormalizeURL lower-cases the scheme and strips a trailing slash, the
// minimal normalization relay pools rely on for dedup (full pool
// dedup itself is out of scope, per §1).
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.Index(u, "://"); i >= 0 {
		u = strings.ToLower(u[:i]) + u[i:]
	}
	u = strings.TrimSuffix(u, "/")
	return u
}

// Status returns the current FSM state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns a copy of the connection's observable stats.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.stats
	cp.Durations = append([]int64(nil), c.stats.Durations...)
	return cp
}

// nextSerial mints a fresh, monotonically increasing serial used to
// build correlation ids; must hold c.mu.
func (c *Connection) nextSerial() uint64 {
	c.serial++
	return c.serial
}

// Connect implements the connect() event of §4.3. Disconnected/
// Flapping -> Connecting; Connected -> Reconnecting (same dial path).
// Any other starting state is left alone (a Connecting/Reconnecting/
// Authenticating connection already has a dial in flight).
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusDisconnected, StatusFlapping:
		c.status = StatusConnecting
	case StatusConnected, StatusAuthenticated:
		c.status = StatusReconnecting
	default:
		c.mu.Unlock()
		return nil
	}
	c.shouldReconnect = true
	c.stats.recordAttempt()
	gen := c.socketGen + 1
	c.socketGen = gen

	connectTimeout := c.connectTimeout
	c.mu.Unlock()

	c.armConnectTimeout(gen, connectTimeout)

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	sock, err := c.dialer(dialCtx, c.URL, c.header)
	if err != nil {
		c.onSocketError(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.socketGen {
		// a newer Connect()/reconnect already superseded this attempt
		c.mu.Unlock()
		_ = sock.Close()
		return nil
	}
	c.socket = sock
	c.mu.Unlock()

	c.onSocketOpen(gen)
	go c.readLoop(gen, sock)
	go c.pingLoop(gen, sock)

	return nil
}

func (c *Connection) armConnectTimeout(gen uint64, timeout time.Duration) {
	c.mu.Lock()
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.connectTimer = time.AfterFunc(timeout, func() {
		c.onConnectTimeout(gen)
	})
	c.mu.Unlock()
}

func (c *Connection) clearConnectTimeout() {
	c.mu.Lock()
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.mu.Unlock()
}

// onConnectTimeout implements the timeout-expired event.
func (c *Connection) onConnectTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.socketGen || (c.status != StatusConnecting && c.status != StatusReconnecting) {
		c.mu.Unlock()
		return
	}
	c.status = StatusDisconnected
	shouldReconnect := c.shouldReconnect
	c.mu.Unlock()

	if shouldReconnect {
		c.scheduleReconnect()
	}
}

// onSocketOpen implements the socket-open event.
func (c *Connection) onSocketOpen(gen uint64) {
	c.clearConnectTimeout()

	c.mu.Lock()
	if gen != c.socketGen {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.status = StatusConnected
	c.stats.recordSuccess(now)
	c.lastConnectedAt = &now
	c.reconnectStreak = 0
	c.mu.Unlock()

	if c.OnConnect != nil {
		c.OnConnect()
	}
	if c.OnReady != nil {
		c.OnReady()
	}
}

// onSocketError implements the socket-error event for a failed dial.
func (c *Connection) onSocketError(gen uint64, err error) {
	c.clearConnectTimeout()

	c.mu.Lock()
	if gen != c.socketGen {
		c.mu.Unlock()
		return
	}
	wasDisconnecting := c.status == StatusDisconnecting
	c.status = StatusDisconnected
	shouldReconnect := c.shouldReconnect && !wasDisconnecting
	c.mu.Unlock()

	log.Printf("nostr: {%s} connect error: %v", c.URL, err)

	if shouldReconnect {
		c.scheduleReconnect()
	}
}

// onSocketClose implements the socket-close event, for a connection
// that had been open and was then lost (or deliberately closed).
func (c *Connection) onSocketClose(gen uint64) {
	c.mu.Lock()
	if gen != c.socketGen {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.stats.recordDisconnect(now)

	wasDisconnecting := c.status == StatusDisconnecting
	c.status = StatusDisconnected
	c.socket = nil
	shouldReconnect := c.shouldReconnect && !wasDisconnecting
	c.mu.Unlock()

	c.registry.rejectAll(ErrConnectionClosed)

	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}

	if shouldReconnect {
		c.scheduleReconnect()
	}
}

// Disconnect implements the disconnect() event: Disconnecting, then
// the socket is closed and onSocketClose runs with reconnection
// suppressed.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.status = StatusDisconnecting
	c.shouldReconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	sock := c.socket
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	} else {
		// never had a live socket in the first place (e.g. still
		// Connecting): drive the FSM to Disconnected directly.
		c.mu.Lock()
		c.status = StatusDisconnected
		gen := c.socketGen
		c.mu.Unlock()
		c.onSocketClose(gen)
	}
}

// scheduleReconnect implements the reconnect scheduler of §4.3.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.mu.Unlock()
		return // step 1: already scheduled
	}

	if isFlapping(c.stats.Durations) {
		c.status = StatusFlapping
		statsCopy := c.stats
		statsCopy.Durations = append([]int64(nil), c.stats.Durations...)
		c.mu.Unlock()
		if c.OnFlapping != nil {
			c.OnFlapping(statsCopy)
		}
		return // step 2
	}

	if c.reconnectStreak >= maxReconnectStreak {
		c.mu.Unlock()
		return // step 4: give up after 5 failed attempts
	}

	delay := computeReconnectDelay(c.reconnectStreak, c.lastConnectedAt, time.Now())
	c.reconnectStreak++

	gen := c.socketGen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		_ = c.Connect(context.Background())
		_ = gen
	})
	now := time.Now()
	nextAt := now.Add(delay)
	c.stats.NextReconnectAt = &nextAt
	c.mu.Unlock()

	if c.OnDelayedConnect != nil {
		c.OnDelayedConnect(delay.Milliseconds())
	}
}

// recycleAfterNotice implements §6's notice-driven self-defense: a
// rate-limit NOTICE tears down the socket and reconnects after a
// fixed 2s delay, independent of the normal backoff streak.
func (c *Connection) recycleAfterNotice() {
	c.mu.Lock()
	sock := c.socket
	c.reconnectStreak = 0 // this isn't a failure, don't burn the streak
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(noticeReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		_ = c.Connect(context.Background())
	})
	c.mu.Unlock()
}

// send implements §4.3's send contract: requires Connected (or the
// momentary Authenticating/Authenticated states, which are still
// socket-open) and fails fast otherwise. It never queues.
func (c *Connection) send(raw []byte) error {
	c.mu.Lock()
	st := c.status
	sock := c.socket
	c.mu.Unlock()

	if sock == nil || (st != StatusConnected && st != StatusAuthenticated && st != StatusAuthenticating) {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteMessage(wsTextMessage, raw)
}

func (c *Connection) pingLoop(gen uint64, sock Socket) {
	ticker := time.NewTicker(29 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := gen != c.socketGen
		c.mu.Unlock()
		if stale {
			return
		}
		c.writeMu.Lock()
		err := sock.WriteMessage(wsPingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			log.Printf("nostr: {%s} ping failed: %v; closing", c.URL, err)
			_ = sock.Close()
			return
		}
	}
}

// readLoop is the single task that owns this connection's socket for
// its whole lifetime; it is the "one owning connection task" named in
// §3's invariants.
func (c *Connection) readLoop(gen uint64, sock Socket) {
	for {
		typ, message, err := sock.ReadMessage()
		if err != nil {
			c.onSocketClose(gen)
			return
		}
		if typ == wsPingMessage {
			c.writeMu.Lock()
			_ = sock.WriteMessage(wsPongMessage, nil)
			c.writeMu.Unlock()
			continue
		}
		if typ != wsTextMessage || len(message) == 0 {
			continue
		}

		frame, err := decodeInbound(message)
		if err != nil {
			log.Printf("nostr: {%s} %v", c.URL, err)
			continue
		}

		c.dispatch(gen, frame)
	}
}

func (c *Connection) dispatch(gen uint64, frame *inboundFrame) {
	switch frame.Verb {
	case envEVENT:
		if sub, ok := c.registry.subs.Load(frame.SubID); ok {
			if !c.assumeValid {
				if ok, err := frame.Event.CheckSignature(); !ok {
					log.Printf("nostr: {%s} bad signature on %s: %v", c.URL, frame.Event.ID, err)
					return
				}
			}
			sub.dispatchEvent(frame.Event)
		}

	case envEOSE:
		if sub, ok := c.registry.subs.Load(frame.EOSESubID); ok {
			sub.dispatchEOSE()
		}

	case envCLOSED:
		if sub, ok := c.registry.subs.Load(frame.ClosedSubID); ok {
			sub.handleClosed(frame.ClosedMsg)
			c.registry.subs.Delete(frame.ClosedSubID)
		}

	case envOK:
		if p, ok := c.registry.publishes.Load(frame.OKEventID); ok {
			c.registry.publishes.Delete(frame.OKEventID)
			if frame.OKAccepted {
				p.resolve(frame.OKMessage)
			} else {
				p.reject(&RemoteError{Message: frame.OKMessage})
			}
		} else {
			log.Printf("nostr: {%s} unexpected OK for %s", c.URL, frame.OKEventID)
		}

	case envCOUNT:
		if cnt, ok := c.registry.counts.Load(frame.CountSubID); ok {
			c.registry.counts.Delete(frame.CountSubID)
			cnt.resolve(frame.CountValue)
		} else {
			log.Printf("nostr: {%s} unexpected COUNT for %s", c.URL, frame.CountSubID)
		}

	case envNOTICE:
		if c.OnNotice != nil {
			c.OnNotice(frame.NoticeText)
		}
		if strings.Contains(frame.NoticeText, "oo many") || strings.Contains(frame.NoticeText, "aximum") {
			c.recycleAfterNotice()
		}

	case envAUTH:
		var challenge string
		_ = decodeAuthChallenge(frame.AuthPayload, &challenge)
		c.handleAuthChallenge(gen, challenge)
	}
}

// PrepareSubscription mints a fresh correlation id (or uses id if
// non-empty), installs the handle, and returns it without sending —
// per §4.6, insertion happens before the frame that elicits a reply.
func (c *Connection) PrepareSubscription(id string, filters Filters, onEvent func(*Event), onEOSE func(), onClose func(string)) *Subscription {
	c.mu.Lock()
	if id == "" {
		id = "sub:" + strconv.FormatUint(c.nextSerial(), 10)
	}
	c.mu.Unlock()

	sub := &Subscription{
		conn:    c,
		id:      id,
		filters: filters,
		onEvent: onEvent,
		onEOSE:  onEOSE,
		onClose: onClose,
	}
	c.registry.subs.Store(id, sub)
	return sub
}

// Subscribe prepares and immediately fires a subscription.
func (c *Connection) Subscribe(filters Filters, onEvent func(*Event), onEOSE func(), onClose func(string)) (*Subscription, error) {
	sub := c.PrepareSubscription("", filters, onEvent, onEOSE, onClose)
	if err := sub.Fire(); err != nil {
		return nil, err
	}
	return sub, nil
}

// Publish sends an EVENT for event and resolves with the reason from
// the first matching OK, per invariant 6.
func (c *Connection) Publish(ctx context.Context, event *Event) (string, error) {
	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	c.registry.publishes.Store(event.ID, &publishResolver{
		resolve: func(reason string) { resultCh <- reason },
		reject:  func(err error) { errCh <- err },
	})

	raw, err := encodeEVENT(event)
	if err != nil {
		c.registry.publishes.Delete(event.ID)
		return "", err
	}
	if err := c.send(raw); err != nil {
		c.registry.publishes.Delete(event.ID)
		return "", err
	}

	select {
	case reason := <-resultCh:
		return reason, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Count sends a COUNT request and resolves with the relay's count.
func (c *Connection) Count(ctx context.Context, filters Filters) (int64, error) {
	c.mu.Lock()
	reqID := "count:" + strconv.FormatUint(c.nextSerial(), 10)
	c.mu.Unlock()

	resultCh := make(chan int64, 1)
	errCh := make(chan error, 1)
	c.registry.counts.Store(reqID, &countResolver{
		resolve: func(n int64) { resultCh <- n },
		reject:  func(err error) { errCh <- err },
	})

	raw, err := encodeCOUNT(reqID, filters)
	if err != nil {
		c.registry.counts.Delete(reqID)
		return 0, err
	}
	if err := c.send(raw); err != nil {
		c.registry.counts.Delete(reqID)
		return 0, err
	}

	select {
	case n := <-resultCh:
		return n, nil
	case err := <-errCh:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func decodeAuthChallenge(raw []byte, out *string) error {
	// the AUTH payload is either a bare challenge string (relay ->
	// client) or a signed event (client -> relay, never seen here).
	s := strings.Trim(string(raw), `"`)
	*out = s
	return nil
}

// handleAuthChallenge implements §4.5.
func (c *Connection) handleAuthChallenge(gen uint64, challenge string) {
	c.mu.Lock()
	policy := c.authPolicy
	if policy == nil {
		policy = DefaultAuthPolicy
	}
	if policy == nil {
		c.mu.Unlock()
		if c.OnAuthChallenge != nil {
			c.OnAuthChallenge(challenge)
		}
		return
	}
	if c.status == StatusAuthenticating {
		c.mu.Unlock()
		return // duplicate challenge mid-flight, ignore
	}
	c.status = StatusAuthenticating
	c.lastChallenge = challenge
	signer := c.signer
	c.mu.Unlock()

	outcome := policy(c, challenge)

	var authEvent *Event
	switch outcome.kind {
	case authAbort:
		return
	case authUseDefault:
		if signer == nil {
			log.Printf("nostr: {%s} auth challenge not answered: %v", c.URL, ErrNoSigner)
			return
		}
		authEvent = &Event{
			Kind: KindClientAuthentication,
			Tags: Tags{
				{"relay", c.URL},
				{"challenge", challenge},
			},
			CreatedAt: time.Now().Unix(),
		}
		if err := signer.Sign(authEvent); err != nil {
			log.Printf("nostr: {%s} failed to sign auth event: %v", c.URL, err)
			return
		}
	case authSignedEvent:
		authEvent = outcome.signedEvent
	default:
		return
	}

	resolve := func(reason string) {
		c.mu.Lock()
		c.status = StatusConnected
		c.mu.Unlock()
		if c.OnAuthed != nil {
			c.OnAuthed()
		}
	}
	reject := func(err error) {
		log.Printf("nostr: {%s} auth rejected: %v", c.URL, err)
	}
	c.registry.publishes.Store(authEvent.ID, &publishResolver{resolve: resolve, reject: reject})

	raw, err := encodeAUTH(authEvent)
	if err != nil {
		c.registry.publishes.Delete(authEvent.ID)
		return
	}
	if err := c.send(raw); err != nil {
		c.registry.publishes.Delete(authEvent.ID)
		log.Printf("nostr: {%s} failed to send auth event: %v", c.URL, err)
	}
}
