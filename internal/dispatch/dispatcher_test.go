// ABOUTME: Tests for outbound dispatch routing through the platform registry
// ABOUTME: Unknown platform tags must fail before any sender is invoked

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranga/inbox-gateway/internal/platform"
)

type fakeSender struct {
	calls int
	id    string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, creds json.RawMessage, out platform.Outbound) (string, error) {
	f.calls++
	return f.id, f.err
}

func TestDispatch_RoutesToSender(t *testing.T) {
	registry := platform.NewRegistry()
	sender := &fakeSender{id: "provider-id-1"}
	registry.RegisterSender("whatsapp", sender)

	d := NewDispatcher(registry, nil)
	id, err := d.Dispatch(context.Background(), "whatsapp", json.RawMessage(`{}`), platform.Outbound{
		Recipient: "15551234567",
		Content:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "provider-id-1", id)
	assert.Equal(t, 1, sender.calls)
}

func TestDispatch_UnsupportedTagNeverSends(t *testing.T) {
	registry := platform.NewRegistry()
	sender := &fakeSender{}
	registry.RegisterSender("whatsapp", sender)

	d := NewDispatcher(registry, nil)
	_, err := d.Dispatch(context.Background(), "sms", nil, platform.Outbound{})

	assert.ErrorIs(t, err, platform.ErrUnsupportedPlatform)
	assert.Equal(t, 0, sender.calls, "no sender may run for an unknown tag")
}

func TestDispatch_SenderErrorSurfaces(t *testing.T) {
	registry := platform.NewRegistry()
	wantErr := errors.New("provider rejected message")
	registry.RegisterSender("whatsapp", &fakeSender{err: wantErr})

	d := NewDispatcher(registry, nil)
	_, err := d.Dispatch(context.Background(), "whatsapp", nil, platform.Outbound{})
	assert.ErrorIs(t, err, wantErr)
}
