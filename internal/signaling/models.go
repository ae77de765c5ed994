package signaling

import (
	"time"

	"peersupport-platform/internal/docstore"
)

// SignalMessage is one WebRTC handshake message relayed between the two ends
// of a call session. Payload is opaque to the platform: it is stored and
// delivered verbatim, never parsed.
type SignalMessage struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	SenderID  string     `json:"sender_id"`
	Kind      SignalKind `json:"kind"`
	Payload   string     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
}

// SignalKind is the handshake message type.
type SignalKind string

const (
	KindOffer        SignalKind = "offer"
	KindAnswer       SignalKind = "answer"
	KindICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// signalCollection names the per-session signal channel. Each session gets
// its own collection so watches and ordering stay scoped to one call.
func signalCollection(sessionID string) string {
	return "signals:" + sessionID
}

// Field names inside a signal document.
const (
	fieldSenderID = "senderId"
	fieldKind     = "kind"
	fieldPayload  = "payload"
)

func signalFromDoc(sessionID string, d docstore.Document) SignalMessage {
	return SignalMessage{
		ID:        d.ID,
		SessionID: sessionID,
		SenderID:  d.StringField(fieldSenderID),
		Kind:      SignalKind(d.StringField(fieldKind)),
		Payload:   d.StringField(fieldPayload),
		CreatedAt: d.CreatedAt,
	}
}
