package push

import (
	"context"
	"errors"
	"time"
)

// ScreenIncomingCall routes the receiving app straight into the
// incoming-call UI.
const ScreenIncomingCall = "incoming_call"

// WakeupPayload is the data block delivered over the device push channel
// when a call comes in. It carries everything the callee's app needs to
// present the invitation without a round trip.
type WakeupPayload struct {
	Screen         string `json:"screen"`
	SessionID      string `json:"session_id"`
	Kind           string `json:"kind"`
	OtherPartyID   string `json:"other_party_id"`
	OtherPartyName string `json:"other_party_name"`
}

// Device is one registered push endpoint. A user may hold several (phone,
// tablet, browser).
type Device struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	Platform  string    `json:"platform" db:"platform"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Platforms accepted at registration.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

func ValidPlatform(p string) bool {
	return p == PlatformIOS || p == PlatformAndroid || p == PlatformWeb
}

var (
	ErrInvalidDevice = errors.New("push: invalid device")
	ErrNotRegistered = errors.New("push: device not registered")
)

// DeviceRepository is the persistence contract for the device registry.
//
// Register takes a fully-populated candidate row and is idempotent per
// (user, token): re-registering an existing token returns the stored row.
type DeviceRepository interface {
	Register(ctx context.Context, cand Device) (Device, error)
	Remove(ctx context.Context, userID, token string) error
	ListByUser(ctx context.Context, userID string) ([]Device, error)
}

// Transport delivers one wake-up to one registered device. Implementations
// must not retry; a failed delivery is the caller's to log and drop.
type Transport interface {
	Name() string
	Send(ctx context.Context, device Device, title, body string, p WakeupPayload) error
}

// Waker is the slice of the push layer that call placement needs: wake every
// device of one user. Title and body are the human-visible notification text;
// the payload is what the receiving app acts on.
type Waker interface {
	Wake(ctx context.Context, userID, title, body string, p WakeupPayload) error
}
