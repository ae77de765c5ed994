package messaging

import "time"

// Thread is one conversation between two users. The pair is stored normalized
// (UserA sorts before UserB) so any two users map to exactly one thread no
// matter who reached out first.
type Thread struct {
	ID            string    `json:"id" db:"id"`
	UserA         string    `json:"user_a" db:"user_a"`
	UserB         string    `json:"user_b" db:"user_b"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
}

// NormalizePair orders two user ids into canonical thread order.
func NormalizePair(x, y string) (a, b string) {
	if x <= y {
		return x, y
	}
	return y, x
}

// Message is one line in a thread.
type Message struct {
	ID        string      `json:"id" db:"id"`
	ThreadID  string      `json:"thread_id" db:"thread_id"`
	SenderID  string      `json:"sender_id" db:"sender_id"`
	Kind      MessageKind `json:"kind" db:"kind"`
	Body      string      `json:"body" db:"body"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// MessageKind separates user-authored lines from platform inserts.
//
// System lines (missed-call records and similar) carry the user they are
// attributed to in SenderID, which decides the side they render on.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	return k == KindText || k == KindSystem
}
