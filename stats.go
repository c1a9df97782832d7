package nostr

import (
	"math"
	"time"

	"golang.org/x/exp/slices"
)

const maxDurationsHistory = 100

// ConnectionStats tracks the observable history of a single
// connection's attempts and session lengths, used both to drive the
// reconnect backoff and to feed the Flap Detector.
type ConnectionStats struct {
	Attempts        int
	Successes       int
	ConnectedAt     *time.Time
	Durations       []int64 // ms, bounded to the most recent maxDurationsHistory
	NextReconnectAt *time.Time
}

// recordAttempt bumps the attempt counter; called whenever connect()
// begins a new dial.
func (cs *ConnectionStats) recordAttempt() {
	cs.Attempts++
}

// recordSuccess bumps the success counter and stamps ConnectedAt.
func (cs *ConnectionStats) recordSuccess(now time.Time) {
	cs.Successes++
	cs.ConnectedAt = &now
}

// recordDisconnect pushes (now - ConnectedAt) into Durations, trims to
// the latest maxDurationsHistory entries, and clears ConnectedAt. A
// no-op if ConnectedAt was never set (e.g. we never reached Connected).
func (cs *ConnectionStats) recordDisconnect(now time.Time) {
	if cs.ConnectedAt == nil {
		return
	}
	d := now.Sub(*cs.ConnectedAt).Milliseconds()
	cs.Durations = append(cs.Durations, d)
	if len(cs.Durations) > maxDurationsHistory {
		cs.Durations = slices.Clone(cs.Durations[len(cs.Durations)-maxDurationsHistory:])
	}
	cs.ConnectedAt = nil
}

// computeReconnectDelay implements §4.3 step 3: if a previous
// successful connection exists, give the relay a 60s cool-off window
// measured from when that connection was established; otherwise use a
// linear delay keyed to the current failure streak. Scenario A pins
// this down concretely: five consecutive cold failures (no prior
// connectedAt) produce delays of 5000, 10000, 15000, 20000, 25000ms —
// this resolves the formula ambiguity flagged in §9 as an open
// question, in the direction the concrete scenario demands.
func computeReconnectDelay(streak int, lastConnectedAt *time.Time, now time.Time) time.Duration {
	if lastConnectedAt != nil {
		elapsed := now.Sub(*lastConnectedAt)
		remaining := coolOffWindow - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return remaining
	}
	return time.Duration(reconnectBaseDelayMs*int64(streak+1)) * time.Millisecond
}

// reconnectBaseDelayMs is the 5000ms unit from §4.3 step 3's cold-path
// formula, kept as a var (rather than an inlined literal) purely so
// tests can scale real-timer scenarios down without changing the
// formula's shape.
var reconnectBaseDelayMs int64 = 5000

// isFlapping implements §4.4: insufficient evidence unless the
// durations length is a positive multiple of 3, in which case it
// classifies as flapping iff the population standard deviation of all
// recorded durations is under 1000ms — the signature of a relay that
// accepts and immediately drops connections.
func isFlapping(durations []int64) bool {
	n := len(durations)
	if n == 0 || n%3 != 0 {
		return false
	}

	var sum float64
	for _, d := range durations {
		sum += float64(d)
	}
	mean := sum / float64(n)

	var sqDiffSum float64
	for _, d := range durations {
		diff := float64(d) - mean
		sqDiffSum += diff * diff
	}
	stddev := math.Sqrt(sqDiffSum / float64(n))

	return stddev < 1000
}
