// ABOUTME: Outbound dispatcher routes an agent reply to the correct platform binding
// ABOUTME: Resolves the sender from the registry before touching credentials or the network

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/teranga/inbox-gateway/internal/platform"
)

// Dispatcher routes outbound messages through the platform registry.
type Dispatcher struct {
	registry *platform.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *platform.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch sends one outbound message through the platform's binding and
// returns the provider's message id. An unrecognized platform tag returns
// platform.ErrUnsupportedPlatform without any network call. Provider
// errors surface as-is; this layer never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, tag string, creds json.RawMessage, out platform.Outbound) (string, error) {
	sender, err := d.registry.Sender(tag)
	if err != nil {
		return "", err
	}

	externalID, err := sender.Send(ctx, creds, out)
	if err != nil {
		d.logger.Error("outbound send failed",
			"platform", tag,
			"recipient", out.Recipient,
			"error", err)
		return "", err
	}

	d.logger.Info("outbound message sent",
		"platform", tag,
		"external_id", externalID)
	return externalID, nil
}
