package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"peersupport-platform/internal/config"
	"peersupport-platform/pkg/logger"
)

// GatewayTransport posts wake-ups to the push gateway that fronts the
// platform notification providers (APNs, FCM, web push). The gateway owns
// provider credentials; this service only ever sees one HTTP surface.
type GatewayTransport struct {
	url    string
	token  string
	client *http.Client
}

func NewGatewayTransport(cfg config.PushConfig) (*GatewayTransport, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("push: gateway url is required")
	}
	return &GatewayTransport{
		url:    cfg.GatewayURL,
		token:  cfg.GatewayToken,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (t *GatewayTransport) Name() string { return "gateway" }

type gatewayRequest struct {
	Token    string        `json:"token"`
	Platform string        `json:"platform"`
	Title    string        `json:"title"`
	Body     string        `json:"body"`
	Data     WakeupPayload `json:"data"`
}

func (t *GatewayTransport) Send(ctx context.Context, device Device, title, body string, p WakeupPayload) error {
	payload, err := json.Marshal(gatewayRequest{
		Token:    device.Token,
		Platform: device.Platform,
		Title:    title,
		Body:     body,
		Data:     p,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/v1/wakeups", bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("push gateway: unexpected status code %d", resp.StatusCode)
	}
	return nil
}

// LogTransport writes wake-ups to the log instead of delivering them. It
// backs local development, where no gateway is running.
type LogTransport struct {
	log *slog.Logger
}

func NewLogTransport(log *slog.Logger) *LogTransport {
	return &LogTransport{log: logger.Component(log, "push-log")}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(_ context.Context, device Device, title, _ string, p WakeupPayload) error {
	t.log.Info("wake-up",
		"device_id", device.ID,
		"platform", device.Platform,
		"title", title,
		"screen", p.Screen,
		"session_id", p.SessionID,
		"other_party_id", p.OtherPartyID,
	)
	return nil
}

var (
	_ Transport = (*GatewayTransport)(nil)
	_ Transport = (*LogTransport)(nil)
)
