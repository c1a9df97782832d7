package nostr

import (
	s "github.com/SaveTheRbtz/generic-sync-map-go"
)

// countResolver is the pending-request pair for an in-flight COUNT.
type countResolver struct {
	resolve func(count int64)
	reject  func(err error)
}

// publishResolver is the pending-request pair for an in-flight
// publish (EVENT or AUTH), keyed by event id.
type publishResolver struct {
	resolve func(reason string)
	reject  func(err error)
}

// registry holds the three correlation maps described in §4.2, kept
// as distinct typed maps (rather than one map of a tagged variant) so
// that callers never have to type-switch a looked-up resolver — the
// equivalent design named in §9 as the single-map alternative.
type registry struct {
	subs     s.MapOf[string, *Subscription]
	counts   s.MapOf[string, *countResolver]
	publishes s.MapOf[string, *publishResolver]
}

// owner reports which of the three correlation maps, if any, already
// holds id — used to enforce the "at most one of the three registries"
// invariant defensively in tests.
func (r *registry) owner(id string) string {
	if _, ok := r.subs.Load(id); ok {
		return "subscription"
	}
	if _, ok := r.counts.Load(id); ok {
		return "count"
	}
	if _, ok := r.publishes.Load(id); ok {
		return "publish"
	}
	return ""
}

// rejectAll rejects every pending resolver with err and removes every
// subscription from the registry, as required on connection teardown.
func (r *registry) rejectAll(err error) {
	r.counts.Range(func(id string, c *countResolver) bool {
		c.reject(err)
		r.counts.Delete(id)
		return true
	})
	r.publishes.Range(func(id string, p *publishResolver) bool {
		p.reject(err)
		r.publishes.Delete(id)
		return true
	})
	r.subs.Range(func(id string, sub *Subscription) bool {
		sub.handleClosed(err.Error())
		r.subs.Delete(id)
		return true
	})
}
