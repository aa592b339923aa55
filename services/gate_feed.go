package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-verifier/config"
	"ticket-verifier/internal/verification"
	"ticket-verifier/utils"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher sends a message to a realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

// NewPubNubPublisher returns nil when no publish key is configured.
func NewPubNubPublisher(cfg *config.Config) Publisher {
	if cfg.PubNubPublishKey == "" {
		return nil
	}

	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return &pubnubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

func (p *pubnubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, st, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		ShouldStore(true).
		Execute()
	if err != nil {
		return fmt.Errorf("pubnub: publish %s: status %d: %w", channel, st.StatusCode, err)
	}
	return nil
}

// GateMessage is what doors and seller dashboards receive on gate-<event id>.
type GateMessage struct {
	Type        string     `json:"type"`
	Outcome     string     `json:"outcome"`
	Fingerprint string     `json:"fingerprint"`
	EventID     string     `json:"event_id"`
	TierName    string     `json:"tier_name,omitempty"`
	Operator    string     `json:"operator"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	At          time.Time  `json:"at"`
}

func GateChannel(eventID string) string {
	return "gate-" + eventID
}

// GateFeed broadcasts outcomes for tickets of a known event. Publishing runs
// on its own goroutine so a slow network never holds up a door.
type GateFeed struct {
	publisher Publisher
	queue     chan GateMessage
}

func NewGateFeed(publisher Publisher, buffer int) *GateFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &GateFeed{
		publisher: publisher,
		queue:     make(chan GateMessage, buffer),
	}
}

// Observe queues r for publishing. Lookup failures and results without an
// event are not broadcast.
func (f *GateFeed) Observe(ctx context.Context, r verification.Result) {
	if r.Record == nil || r.Record.Event.ID == "" || r.Outcome == verification.OutcomeError {
		return
	}

	msg := GateMessage{
		Type:        "gate_scan",
		Outcome:     string(r.Outcome),
		Fingerprint: utils.Fingerprint(r.TicketID),
		EventID:     r.Record.Event.ID,
		TierName:    r.Record.Tier.Name,
		Operator:    r.Operator,
		UsedAt:      r.Record.UsedAt,
		At:          r.At,
	}

	select {
	case f.queue <- msg:
	default:
		slog.Warn("gate feed: queue full, dropping message", "event_id", msg.EventID, "ticket", msg.Fingerprint)
	}
}

// Run publishes queued messages until ctx is done.
func (f *GateFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.queue:
			channel := GateChannel(msg.EventID)
			if err := f.publisher.Publish(ctx, channel, msg); err != nil {
				slog.Error("gate feed: publish", "error", err, "channel", channel, "ticket", msg.Fingerprint)
			}
		}
	}
}
