// Package wire defines the control-plane frame contract shared by the hub,
// the HTTP API, and clients: typed JSON frames discriminated by "type", the
// ChatMessage payload, and the canonical byte forms that signatures cover.
package wire

import "encoding/json"

// Frame type discriminators. Every frame on the socket carries one.
const (
	FrameJoin         = "join"
	FrameRoomInfo     = "room-info"
	FrameUserLeft     = "user-left"
	FrameOffer        = "offer"
	FrameAnswer       = "answer"
	FrameICECandidate = "ice-candidate"
	FrameBroadcast    = "broadcast"
	FrameAck          = "ack"
	FrameDeleteMsg    = "delete-msg"
)

// Message states as observed by clients. A persisted row is always SAVED.
const (
	StateSent   = "SENT"
	StateSaved  = "SAVED"
	StateFailed = "FAILED"
)

// Participant identifies a live room member: a display name plus the hex
// x-only public key that is its real identity. Names are not unique.
type Participant struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}

// Attachment travels on the wire with Data as a base64 data URL. The store
// keeps the decoded bytes; Size is the decoded byte count.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data,omitempty"`
}

// ChatMessage is the unit of relay-mode delivery and persistence. ID is
// client-generated and globally unique; duplicate inserts are dropped.
// Timestamp is client-clock milliseconds.
type ChatMessage struct {
	ID          string       `json:"id"`
	Timestamp   int64        `json:"timestamp"`
	Sender      string       `json:"sender"`
	Content     string       `json:"content"`
	PublicKey   string       `json:"publicKey,omitempty"`
	Signature   string       `json:"signature,omitempty"`
	State       string       `json:"state,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// JoinFrame registers the sender in a room. Signature covers CanonicalJoin.
type JoinFrame struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	User      Participant `json:"user"`
	Signature string      `json:"signature"`
}

// RoomInfoFrame answers a join with the other current participants.
type RoomInfoFrame struct {
	Type         string        `json:"type"`
	Room         string        `json:"room"`
	Participants []Participant `json:"participants"`
}

// UserLeftFrame notifies remaining members that a participant disconnected.
type UserLeftFrame struct {
	Type string      `json:"type"`
	Room string      `json:"room"`
	User Participant `json:"user"`
}

// OfferFrame starts WebRTC setup toward Target. The SDP payload is opaque
// and forwarded byte-for-byte. Signature covers CanonicalOffer.
type OfferFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Offer     json.RawMessage `json:"offer"`
	Target    Participant     `json:"target"`
	Room      string          `json:"room"`
	Sender    *Participant    `json:"sender,omitempty"`
	PublicKey string          `json:"publicKey"`
	Signature string          `json:"signature"`
}

// AnswerFrame is forwarded unverified; the DTLS handshake that follows
// authenticates the peers.
type AnswerFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Answer json.RawMessage `json:"answer"`
	Target Participant     `json:"target"`
	Room   string          `json:"room"`
	Sender *Participant    `json:"sender,omitempty"`
}

// ICECandidateFrame is forwarded unverified, same trust model as answers.
type ICECandidateFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Candidate json.RawMessage `json:"candidate"`
	Target    Participant     `json:"target"`
	Room      string          `json:"room"`
	Sender    *Participant    `json:"sender,omitempty"`
}

// BroadcastFrame carries a signed ChatMessage to a whole room. Sender is
// server-annotated before fan-out; inbound values are overwritten.
type BroadcastFrame struct {
	Type    string       `json:"type"`
	Room    string       `json:"room"`
	Message ChatMessage  `json:"message"`
	Sender  *Participant `json:"sender,omitempty"`
}

// AckFrame confirms to the originator that a broadcast was persisted.
type AckFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DeleteMsgFrame tells room members to drop a message from their caches.
type DeleteMsgFrame struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	MessageID string `json:"messageId"`
}

func (f *JoinFrame) FrameType() string         { return FrameJoin }
func (f *RoomInfoFrame) FrameType() string     { return FrameRoomInfo }
func (f *UserLeftFrame) FrameType() string     { return FrameUserLeft }
func (f *OfferFrame) FrameType() string        { return FrameOffer }
func (f *AnswerFrame) FrameType() string       { return FrameAnswer }
func (f *ICECandidateFrame) FrameType() string { return FrameICECandidate }
func (f *BroadcastFrame) FrameType() string    { return FrameBroadcast }
func (f *AckFrame) FrameType() string          { return FrameAck }
func (f *DeleteMsgFrame) FrameType() string    { return FrameDeleteMsg }

// NewRoomInfo builds the server reply to a join.
func NewRoomInfo(room string, participants []Participant) *RoomInfoFrame {
	if participants == nil {
		participants = []Participant{}
	}
	return &RoomInfoFrame{Type: FrameRoomInfo, Room: room, Participants: participants}
}

// NewUserLeft builds the departure notice for a room.
func NewUserLeft(room string, user Participant) *UserLeftFrame {
	return &UserLeftFrame{Type: FrameUserLeft, Room: room, User: user}
}

// NewAck builds the persistence acknowledgement for a message id.
func NewAck(messageID string) *AckFrame {
	return &AckFrame{Type: FrameAck, ID: messageID}
}

// NewDeleteMsg builds the cache-eviction notice for a deleted message.
func NewDeleteMsg(room, messageID string) *DeleteMsgFrame {
	return &DeleteMsgFrame{Type: FrameDeleteMsg, Room: room, MessageID: messageID}
}
