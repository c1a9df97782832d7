package nostr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOwnerIsExclusive(t *testing.T) {
	var r registry
	r.counts.Store("id1", &countResolver{})
	assert.Equal(t, "count", r.owner("id1"))
	assert.Equal(t, "", r.owner("id2"))

	r.publishes.Store("id2", &publishResolver{})
	assert.Equal(t, "publish", r.owner("id2"))

	r.subs.Store("id3", &Subscription{})
	assert.Equal(t, "subscription", r.owner("id3"))
}

func TestRegistryRejectAllRejectsEveryPending(t *testing.T) {
	var r registry

	var countErr, pubErr error
	r.counts.Store("c1", &countResolver{
		resolve: func(int64) {},
		reject:  func(err error) { countErr = err },
	})
	r.publishes.Store("p1", &publishResolver{
		resolve: func(string) {},
		reject:  func(err error) { pubErr = err },
	})

	closedReason := ""
	sub := &Subscription{
		id:      "s1",
		onClose: func(reason string) { closedReason = reason },
	}
	r.subs.Store("s1", sub)

	sentinel := errors.New("teardown")
	r.rejectAll(sentinel)

	assert.Equal(t, sentinel, countErr)
	assert.Equal(t, sentinel, pubErr)
	assert.Equal(t, sentinel.Error(), closedReason)

	_, ok := r.counts.Load("c1")
	assert.False(t, ok)
	_, ok = r.publishes.Load("p1")
	assert.False(t, ok)
	_, ok = r.subs.Load("s1")
	assert.False(t, ok)
}

func TestRegistryRejectAllOnEmptyRegistryIsNoop(t *testing.T) {
	var r registry
	require.NotPanics(t, func() { r.rejectAll(errors.New("x")) })
}
