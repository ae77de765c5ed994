package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"peersupport-platform/pkg/logger"

	"github.com/google/uuid"
)

// Relay fans one wake-up out to every device a user has registered.
//
// Delivery is one shot per device. Failures for individual devices are
// joined into the returned error; a user with no devices is a silent no-op,
// not a failure.
type Relay struct {
	devices   DeviceRepository
	transport Transport
	clock     func() time.Time
	log       *slog.Logger
}

func NewRelay(devices DeviceRepository, transport Transport, log *slog.Logger) *Relay {
	return &Relay{
		devices:   devices,
		transport: transport,
		clock:     time.Now,
		log:       logger.Component(log, "push"),
	}
}

// Register stores a device endpoint for the user. Re-registering the same
// token is idempotent.
func (r *Relay) Register(ctx context.Context, userID, token, platform string) (Device, error) {
	if userID == "" || token == "" {
		return Device{}, fmt.Errorf("%w: user and token are required", ErrInvalidDevice)
	}
	if !ValidPlatform(platform) {
		return Device{}, fmt.Errorf("%w: unknown platform %q", ErrInvalidDevice, platform)
	}
	return r.devices.Register(ctx, Device{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		Platform:  platform,
		CreatedAt: r.clock().UTC(),
	})
}

// Remove drops a device endpoint.
func (r *Relay) Remove(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("%w: user and token are required", ErrInvalidDevice)
	}
	return r.devices.Remove(ctx, userID, token)
}

// Wake sends the notification to every device of the user through the
// transport.
func (r *Relay) Wake(ctx context.Context, userID, title, body string, p WakeupPayload) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidDevice)
	}
	devices, err := r.devices.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		r.log.Debug("no devices registered", "user_id", userID)
		return nil
	}

	var errs []error
	for _, d := range devices {
		if err := r.transport.Send(ctx, d, title, body, p); err != nil {
			r.log.Warn("wake-up delivery failed",
				"transport", r.transport.Name(),
				"user_id", userID,
				"device_id", d.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

var _ Waker = (*Relay)(nil)
