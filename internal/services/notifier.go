package services

import (
	"context"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes best-effort realtime notices. Failures are logged, never
// returned.
type Notifier interface {
	Notify(ctx context.Context, channel string, message map[string]any)
}

type PubNubNotifier struct {
	pubnub *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pubnub: pn}
}

func (n *PubNubNotifier) Notify(ctx context.Context, channel string, message map[string]any) {
	if ctx.Err() != nil {
		return
	}
	if _, _, err := n.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute(); err != nil {
		slog.Warn("Failed to publish notice", "channel", channel, "error", err)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, map[string]any) {}

func userChannel(account string) string  { return "user-" + account }
func eventChannel(eventID string) string { return "event-" + eventID }
