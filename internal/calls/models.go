package calls

import (
	"time"

	"peersupport-platform/internal/docstore"
)

// CallSession is one invitation-to-teardown call attempt between two users.
//
// Identity fields, display names and kind are written once at creation; the
// display names are labels captured when the call is placed, not live profile
// lookups. Status is the only field that changes afterwards.
type CallSession struct {
	ID                  string        `json:"id"`
	CallerID            string        `json:"caller_id"`
	ReceiverID          string        `json:"receiver_id"`
	CallerDisplayName   string        `json:"caller_display_name"`
	ReceiverDisplayName string        `json:"receiver_display_name"`
	Kind                SessionKind   `json:"kind"`
	Status              SessionStatus `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
}

// SessionKind distinguishes audio-only calls from video calls.
type SessionKind string

const (
	KindAudio SessionKind = "audio"
	KindVideo SessionKind = "video"
)

func (k SessionKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusInviting SessionStatus = "inviting"
	StatusActive   SessionStatus = "active"
	StatusEnded    SessionStatus = "ended"
	StatusMissed   SessionStatus = "missed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusInviting, StatusActive, StatusEnded, StatusMissed:
		return true
	}
	return false
}

// Terminal reports whether the session admits no further status writes.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusMissed
}

// Participant reports whether userID is one of the two parties.
func (cs CallSession) Participant(userID string) bool {
	return userID != "" && (userID == cs.CallerID || userID == cs.ReceiverID)
}

// OtherParty returns the id and display name of the participant opposite
// userID. The caller is assumed to be a participant.
func (cs CallSession) OtherParty(userID string) (id, name string) {
	if userID == cs.CallerID {
		return cs.ReceiverID, cs.ReceiverDisplayName
	}
	return cs.CallerID, cs.CallerDisplayName
}

// Handoff is the payload handed to the media layer once a call is accepted.
// Both sides derive it locally from the session record, so it carries
// everything the call screen needs without another lookup.
type Handoff struct {
	SessionID      string      `json:"session_id"`
	Kind           SessionKind `json:"kind"`
	OtherPartyID   string      `json:"other_party_id"`
	OtherPartyName string      `json:"other_party_name"`
	IsInitiator    bool        `json:"is_initiator"`
}

// HandoffFor builds the hand-off payload relative to one participant.
func HandoffFor(cs CallSession, userID string) Handoff {
	otherID, otherName := cs.OtherParty(userID)
	return Handoff{
		SessionID:      cs.ID,
		Kind:           cs.Kind,
		OtherPartyID:   otherID,
		OtherPartyName: otherName,
		IsInitiator:    userID == cs.CallerID,
	}
}

// sessionCollection is the document collection holding call sessions.
const sessionCollection = "sessions"

// Field names inside a session document.
const (
	fieldCallerID     = "callerId"
	fieldReceiverID   = "receiverId"
	fieldCallerName   = "callerDisplayName"
	fieldReceiverName = "receiverDisplayName"
	fieldKind         = "kind"
	fieldStatus       = "status"
)

func sessionFromDoc(d docstore.Document) CallSession {
	return CallSession{
		ID:                  d.ID,
		CallerID:            d.StringField(fieldCallerID),
		ReceiverID:          d.StringField(fieldReceiverID),
		CallerDisplayName:   d.StringField(fieldCallerName),
		ReceiverDisplayName: d.StringField(fieldReceiverName),
		Kind:                SessionKind(d.StringField(fieldKind)),
		Status:              SessionStatus(d.StringField(fieldStatus)),
		CreatedAt:           d.CreatedAt,
	}
}
