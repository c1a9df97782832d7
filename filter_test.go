package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatchKindsAndAuthors(t *testing.T) {
	f := Filter{Kinds: []int{1}, Authors: []string{"abc"}}
	assert.True(t, f.Match(&Event{Kind: 1, PubKey: "abc"}))
	assert.False(t, f.Match(&Event{Kind: 2, PubKey: "abc"}))
	assert.False(t, f.Match(&Event{Kind: 1, PubKey: "def"}))
}

func TestFilterMatchTags(t *testing.T) {
	f := Filter{Tags: map[string][]string{"e": {"x", "y"}}}
	ev := &Event{Tags: Tags{{"e", "y"}}}
	assert.True(t, f.Match(ev))

	ev2 := &Event{Tags: Tags{{"e", "z"}}}
	assert.False(t, f.Match(ev2))
}

func TestFiltersMatchIsDisjunctive(t *testing.T) {
	fs := Filters{
		{Kinds: []int{1}},
		{Kinds: []int{2}},
	}
	assert.True(t, fs.Match(&Event{Kind: 2}))
	assert.False(t, fs.Match(&Event{Kind: 3}))
}

func TestFilterMarshalRendersHashTags(t *testing.T) {
	f := Filter{Kinds: []int{1}, Tags: map[string][]string{"p": {"abc"}}}
	raw, err := json.Marshal(f)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "#p")
	assert.Contains(t, m, "kinds")
}
