// Package push alerts agent devices about inbound calls via Firebase Cloud
// Messaging.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/relayline/relayline/internal/database"
)

// messageSender is the slice of the FCM client used, injectable for tests.
type messageSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMNotifier delivers inbound-call alerts to every registered device of an
// agent.
type FCMNotifier struct {
	sender  messageSender
	devices database.AgentDeviceRepository
	logger  *slog.Logger
}

// NewFCMNotifier initialises a Firebase app from the service-account JSON
// file at credentialsFile. If credentialsFile is empty, the SDK falls back
// to GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMNotifier(ctx context.Context, credentialsFile string, devices database.AgentDeviceRepository) (*FCMNotifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	slog.Info("fcm notifier initialised")
	return &FCMNotifier{
		sender:  client,
		devices: devices,
		logger:  slog.Default().With("component", "push"),
	}, nil
}

// NotifyInbound pushes a call alert to each of the agent's devices. Tokens
// the provider reports as unregistered are removed. Partial failure is not
// an error; the browser client still rings through the voice SDK.
func (n *FCMNotifier) NotifyInbound(ctx context.Context, agentID, fromNumber, callID string) error {
	devices, err := n.devices.ListByAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("listing devices for %s: %w", agentID, err)
	}
	if len(devices) == 0 {
		n.logger.Debug("agent has no registered devices", "agent_id", agentID)
		return nil
	}

	ttl := 30 * time.Second
	for i := range devices {
		dev := &devices[i]
		msg := &messaging.Message{
			Token: dev.Token,
			Data: map[string]string{
				"type":      "inbound_call",
				"call_id":   callID,
				"caller_id": fromNumber,
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
				TTL:      &ttl,
			},
		}

		id, err := n.sender.Send(ctx, msg)
		if err != nil {
			if messaging.IsUnregistered(err) {
				n.logger.Info("removing unregistered device token", "agent_id", agentID)
				if derr := n.devices.DeleteToken(ctx, dev.Token); derr != nil {
					n.logger.Warn("deleting stale token", "error", derr)
				}
				continue
			}
			n.logger.Warn("fcm send failed", "agent_id", agentID, "error", err)
			continue
		}
		n.logger.Debug("fcm message sent", "message_id", id, "call_id", callID)
	}
	return nil
}
