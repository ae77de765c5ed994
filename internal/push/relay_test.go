package push

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeTransport struct {
	sent    []Device
	failFor map[string]error // device token -> error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, d Device, _, _ string, _ WakeupPayload) error {
	f.sent = append(f.sent, d)
	if err, ok := f.failFor[d.Token]; ok {
		return err
	}
	return nil
}

func newTestRelay() (*Relay, *fakeTransport) {
	tr := &fakeTransport{}
	return NewRelay(NewMemoryRepo(), tr, slog.Default()), tr
}

func TestRegisterValidation(t *testing.T) {
	relay, _ := newTestRelay()

	cases := []struct {
		name                  string
		user, token, platform string
	}{
		{"missing user", "", "tok-1", PlatformIOS},
		{"missing token", "u-a", "", PlatformIOS},
		{"bad platform", "u-a", "tok-1", "smartwatch"},
	}
	for _, tc := range cases {
		if _, err := relay.Register(context.Background(), tc.user, tc.token, tc.platform); !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("%s: error = %v, want ErrInvalidDevice", tc.name, err)
		}
	}
}

func TestRegisterIsIdempotentPerToken(t *testing.T) {
	relay, _ := newTestRelay()
	ctx := context.Background()

	first, err := relay.Register(ctx, "u-a", "tok-1", PlatformAndroid)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	again, err := relay.Register(ctx, "u-a", "tok-1", PlatformAndroid)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-registration created a second device")
	}
}

func TestWakeFansOutToAllDevices(t *testing.T) {
	relay, tr := newTestRelay()
	ctx := context.Background()

	if _, err := relay.Register(ctx, "u-a", "tok-phone", PlatformIOS); err != nil {
		t.Fatalf("register phone: %v", err)
	}
	if _, err := relay.Register(ctx, "u-a", "tok-web", PlatformWeb); err != nil {
		t.Fatalf("register web: %v", err)
	}
	if _, err := relay.Register(ctx, "u-b", "tok-other", PlatformIOS); err != nil {
		t.Fatalf("register other user: %v", err)
	}

	p := WakeupPayload{Screen: ScreenIncomingCall, SessionID: "sess-1", Kind: "video", OtherPartyID: "u-b", OtherPartyName: "Blair"}
	if err := relay.Wake(ctx, "u-a", "Incoming video call", "Blair is calling", p); err != nil {
		t.Fatalf("wake: %v", err)
	}

	if len(tr.sent) != 2 {
		t.Fatalf("delivered to %d devices, want 2", len(tr.sent))
	}
	for _, d := range tr.sent {
		if d.UserID != "u-a" {
			t.Fatalf("delivered to device of %s", d.UserID)
		}
	}
}

func TestWakeWithNoDevicesIsNoOp(t *testing.T) {
	relay, tr := newTestRelay()

	if err := relay.Wake(context.Background(), "u-ghost", "Incoming call", "", WakeupPayload{}); err != nil {
		t.Fatalf("wake without devices: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("no-op wake still sent %d deliveries", len(tr.sent))
	}
}

func TestWakeJoinsPartialFailures(t *testing.T) {
	relay, tr := newTestRelay()
	ctx := context.Background()
	tr.failFor = map[string]error{"tok-dead": errors.New("endpoint gone")}

	if _, err := relay.Register(ctx, "u-a", "tok-dead", PlatformIOS); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := relay.Register(ctx, "u-a", "tok-live", PlatformIOS); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := relay.Wake(ctx, "u-a", "Incoming call", "", WakeupPayload{})
	if err == nil {
		t.Fatalf("expected joined failure")
	}
	// The healthy device was still attempted.
	if len(tr.sent) != 2 {
		t.Fatalf("attempted %d deliveries, want 2", len(tr.sent))
	}
}

func TestRemoveDevice(t *testing.T) {
	relay, tr := newTestRelay()
	ctx := context.Background()

	if _, err := relay.Register(ctx, "u-a", "tok-1", PlatformIOS); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := relay.Remove(ctx, "u-a", "tok-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := relay.Remove(ctx, "u-a", "tok-1"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("second remove: error = %v, want ErrNotRegistered", err)
	}

	if err := relay.Wake(ctx, "u-a", "Incoming call", "", WakeupPayload{}); err != nil {
		t.Fatalf("wake after remove: %v", err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("removed device still woken")
	}
}
