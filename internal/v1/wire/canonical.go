package wire

import (
	"bytes"
	"encoding/json"
)

// Canonical byte forms are JSON arrays of each variant's signable fields in
// fixed order, encoded without HTML escaping and without a trailing newline so
// they match JSON.stringify of the same array on the browser side. The
// signature field and routing annotations (sender, target) are never part of
// the array. Changing any field list here silently breaks every signature in
// flight, so the lists are frozen.

// CanonicalChatMessage returns the signable bytes of a chat message.
// Attachment bytes are excluded; name/type/size pin each attachment.
func CanonicalChatMessage(m ChatMessage) ([]byte, error) {
	atts := make([][]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, []any{a.Name, a.Type, a.Size})
	}
	return canonicalize([]any{"chat", m.ID, m.Timestamp, m.Sender, m.Content, m.PublicKey, atts})
}

// CanonicalJoin returns the signable bytes of a join frame.
func CanonicalJoin(f JoinFrame) ([]byte, error) {
	return canonicalize([]any{"join", f.Room, f.User.Name, f.User.PublicKey})
}

// CanonicalOffer returns the signable bytes of an offer frame. The raw SDP
// payload is carried as a string element, exactly the bytes on the wire.
func CanonicalOffer(f OfferFrame) ([]byte, error) {
	return canonicalize([]any{"offer", f.ID, f.Room, f.PublicKey, string(f.Offer)})
}

func canonicalize(fields []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
