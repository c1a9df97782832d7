package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeREQRoundTrip(t *testing.T) {
	filters := Filters{
		{Kinds: []int{1}},
		{Kinds: []int{2}, Authors: []string{"abc"}},
	}
	raw, err := encodeREQ("s1", filters)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &parts))
	require.Len(t, parts, 4) // "REQ", sub-id, filter, filter

	var verb, subID string
	require.NoError(t, json.Unmarshal(parts[0], &verb))
	require.NoError(t, json.Unmarshal(parts[1], &subID))
	assert.Equal(t, "REQ", verb)
	assert.Equal(t, "s1", subID)
}

func TestDecodeInboundEvent(t *testing.T) {
	raw := []byte(`["EVENT","s1",{"id":"a","pubkey":"b","created_at":1,"kind":1,"tags":[],"content":"hi","sig":""}]`)
	f, err := decodeInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, envEVENT, f.Verb)
	assert.Equal(t, "s1", f.SubID)
	require.NotNil(t, f.Event)
	assert.Equal(t, "a", f.Event.ID)
}

func TestDecodeInboundOK(t *testing.T) {
	raw := []byte(`["OK","E",true,"stored"]`)
	f, err := decodeInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, envOK, f.Verb)
	assert.Equal(t, "E", f.OKEventID)
	assert.True(t, f.OKAccepted)
	assert.Equal(t, "stored", f.OKMessage)
}

func TestDecodeInboundCountReply(t *testing.T) {
	raw := []byte(`["COUNT","r1",{"count":42}]`)
	f, err := decodeInbound(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), f.CountValue)
	assert.Equal(t, "r1", f.CountSubID)
}

func TestDecodeInboundRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not-json`),
		[]byte(`{}`),
		[]byte(`[]`),
		[]byte(`["UNKNOWN","x"]`),
		[]byte(`["EVENT","s1"]`), // missing event payload
	}
	for _, c := range cases {
		_, err := decodeInbound(c)
		assert.ErrorIs(t, err, ErrMalformedFrame, "case: %s", c)
	}
}

func TestDecodeInboundNoticeAndClosed(t *testing.T) {
	f, err := decodeInbound([]byte(`["NOTICE","hello"]`))
	require.NoError(t, err)
	assert.Equal(t, "hello", f.NoticeText)

	f2, err := decodeInbound([]byte(`["CLOSED","s1","rate-limited"]`))
	require.NoError(t, err)
	assert.Equal(t, "s1", f2.ClosedSubID)
	assert.Equal(t, "rate-limited", f2.ClosedMsg)
}
