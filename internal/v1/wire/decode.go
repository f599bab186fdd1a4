package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFrame reports a frame whose type discriminator is not part of the
// contract.
var ErrUnknownFrame = errors.New("unknown frame type")

// Frame is any typed control-plane frame.
type Frame interface {
	FrameType() string
}

// DecodeFrame is the single decode entry point for inbound socket data. It
// reads the envelope once, switches on the type discriminator, and returns
// the concrete variant. Malformed or unknown input returns an error, never a
// panic.
func DecodeFrame(data []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	var frame Frame
	switch envelope.Type {
	case FrameJoin:
		frame = &JoinFrame{}
	case FrameRoomInfo:
		frame = &RoomInfoFrame{}
	case FrameUserLeft:
		frame = &UserLeftFrame{}
	case FrameOffer:
		frame = &OfferFrame{}
	case FrameAnswer:
		frame = &AnswerFrame{}
	case FrameICECandidate:
		frame = &ICECandidateFrame{}
	case FrameBroadcast:
		frame = &BroadcastFrame{}
	case FrameAck:
		frame = &AckFrame{}
	case FrameDeleteMsg:
		frame = &DeleteMsgFrame{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, envelope.Type)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", envelope.Type, err)
	}
	return frame, nil
}
