package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-verifier/config"
	"ticket-verifier/internal/status"
	"ticket-verifier/internal/verification"
	"ticket-verifier/models"
	"ticket-verifier/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, message any) error {
	args := m.Called(channel, message)
	return args.Error(0)
}

func scanResult(outcome verification.Outcome) verification.Result {
	usedAt := time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC)
	return verification.Result{
		SessionID: "sess-1",
		Operator:  "op-1",
		TicketID:  "TKT-100",
		Outcome:   outcome,
		Record: &models.TicketRecord{
			TicketID: "TKT-100",
			Event:    models.EventInfo{ID: "evt-1", Title: "Summer Fest"},
			Tier:     models.Tier{Name: "VIP"},
			Used:     outcome == verification.OutcomeVerified,
			UsedAt:   &usedAt,
		},
		At: usedAt,
	}
}

func runFeed(t *testing.T, feed *GateFeed) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestGateFeed_PublishesToEventChannel(t *testing.T) {
	pub := &MockPublisher{}
	published := make(chan GateMessage, 1)
	pub.On("Publish", "gate-evt-1", mock.AnythingOfType("services.GateMessage")).
		Run(func(args mock.Arguments) { published <- args.Get(1).(GateMessage) }).
		Return(nil).Once()

	feed := NewGateFeed(pub, 4)
	runFeed(t, feed)

	feed.Observe(context.Background(), scanResult(verification.OutcomeVerified))

	select {
	case msg := <-published:
		assert.Equal(t, "gate_scan", msg.Type)
		assert.Equal(t, "verified", msg.Outcome)
		assert.Equal(t, utils.Fingerprint("TKT-100"), msg.Fingerprint)
		assert.NotContains(t, msg.Fingerprint, "TKT")
		assert.Equal(t, "VIP", msg.TierName)
		assert.Equal(t, "op-1", msg.Operator)
		require.NotNil(t, msg.UsedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
	pub.AssertExpectations(t)
}

func TestGateFeed_SkipsFailuresAndUnknownEvents(t *testing.T) {
	pub := &MockPublisher{}
	feed := NewGateFeed(pub, 4)

	failed := scanResult(verification.OutcomeError)
	failed.ErrorKind = status.KindNotFound
	feed.Observe(context.Background(), failed)

	noRecord := scanResult(verification.OutcomeValid)
	noRecord.Record = nil
	feed.Observe(context.Background(), noRecord)

	noEvent := scanResult(verification.OutcomeValid)
	noEvent.Record.Event.ID = ""
	feed.Observe(context.Background(), noEvent)

	assert.Len(t, feed.queue, 0)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestGateFeed_DropsWhenQueueFull(t *testing.T) {
	feed := NewGateFeed(&MockPublisher{}, 1)

	feed.Observe(context.Background(), scanResult(verification.OutcomeValid))
	feed.Observe(context.Background(), scanResult(verification.OutcomeVerified))

	assert.Len(t, feed.queue, 1)
}

func TestGateFeed_PublishErrorDoesNotStopFeed(t *testing.T) {
	pub := &MockPublisher{}
	calls := make(chan struct{}, 2)
	pub.On("Publish", "gate-evt-1", mock.Anything).
		Run(func(mock.Arguments) { calls <- struct{}{} }).
		Return(errors.New("pubnub: 403")).Twice()

	feed := NewGateFeed(pub, 4)
	runFeed(t, feed)

	feed.Observe(context.Background(), scanResult(verification.OutcomeValid))
	feed.Observe(context.Background(), scanResult(verification.OutcomeVerified))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("feed stopped after publish error")
		}
	}
	pub.AssertExpectations(t)
}

func TestNewPubNubPublisher_DisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewPubNubPublisher(&config.Config{}))
	assert.NotNil(t, NewPubNubPublisher(&config.Config{
		PubNubPublishKey:   "pub-c-test",
		PubNubSubscribeKey: "sub-c-test",
		PubNubUserID:       "gate-verifier",
	}))
}

func TestGateChannel(t *testing.T) {
	assert.Equal(t, "gate-evt-42", GateChannel("evt-42"))
}
