package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Join(t *testing.T) {
	data := []byte(`{"type":"join","room":"r1","user":{"name":"alice","publicKey":"ab12"},"signature":"sig"}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	join, ok := frame.(*JoinFrame)
	require.True(t, ok)
	assert.Equal(t, "r1", join.Room)
	assert.Equal(t, "alice", join.User.Name)
	assert.Equal(t, "ab12", join.User.PublicKey)
	assert.Equal(t, "sig", join.Signature)
}

func TestDecodeFrame_Offer(t *testing.T) {
	data := []byte(`{"type":"offer","id":"call-1","offer":{"sdp":"v=0"},"target":{"name":"bob","publicKey":"cd34"},"room":"r1","publicKey":"ab12","signature":"sig"}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	offer, ok := frame.(*OfferFrame)
	require.True(t, ok)
	assert.Equal(t, "call-1", offer.ID)
	assert.Equal(t, "cd34", offer.Target.PublicKey)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(offer.Offer))
	assert.Nil(t, offer.Sender)
}

func TestDecodeFrame_Broadcast(t *testing.T) {
	data := []byte(`{"type":"broadcast","room":"r1","message":{"id":"m1","timestamp":1000,"sender":"alice","content":"hi","publicKey":"ab12","signature":"sig"}}`)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	bc, ok := frame.(*BroadcastFrame)
	require.True(t, ok)
	assert.Equal(t, "r1", bc.Room)
	assert.Equal(t, "m1", bc.Message.ID)
	assert.Equal(t, int64(1000), bc.Message.Timestamp)
	assert.Equal(t, "hi", bc.Message.Content)
}

func TestDecodeFrame_AllTypes(t *testing.T) {
	cases := []struct {
		json string
		want string
	}{
		{`{"type":"join","room":"r","user":{"name":"n","publicKey":"k"},"signature":"s"}`, FrameJoin},
		{`{"type":"room-info","room":"r","participants":[]}`, FrameRoomInfo},
		{`{"type":"user-left","room":"r","user":{"name":"n","publicKey":"k"}}`, FrameUserLeft},
		{`{"type":"offer","id":"1","offer":{},"target":{},"room":"r","publicKey":"k","signature":"s"}`, FrameOffer},
		{`{"type":"answer","id":"1","answer":{},"target":{},"room":"r"}`, FrameAnswer},
		{`{"type":"ice-candidate","id":"1","candidate":{},"target":{},"room":"r"}`, FrameICECandidate},
		{`{"type":"broadcast","room":"r","message":{"id":"m"}}`, FrameBroadcast},
		{`{"type":"ack","id":"m"}`, FrameAck},
		{`{"type":"delete-msg","room":"r","messageId":"m"}`, FrameDeleteMsg},
	}

	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tc.json))
			require.NoError(t, err)
			assert.Equal(t, tc.want, frame.FrameType())
		})
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"no-such-frame"}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"not json", "not json at all"},
		{"empty", ""},
		{"wrong envelope shape", `{"type":42}`},
		{"bad variant body", `{"type":"join","room":42}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tc.input))
			assert.Error(t, err)
		})
	}
}
