package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/domain/messenger"
	"gym_billing_bot/internal/infra/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingConfig() DispatchConfig {
	cfg := DefaultDispatchConfig()
	cfg.NonBlocking = false
	cfg.SendTimeout = 2 * time.Second
	cfg.MinInterval = 0
	cfg.MaxPerHour = 1000
	cfg.MaxPerDay = 1000
	return cfg
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	ledger     *fakeLedger
	pending    *memstore.TTLStore
}

func newDispatcherFixture(t *testing.T, cfg DispatchConfig, primary, fallback messenger.Client) *dispatcherFixture {
	t.Helper()
	ledger := newFakeLedger()
	pending := memstore.NewTTLStore(time.Hour)
	t.Cleanup(pending.Close)
	provider := fixedConfigProvider(cfg)
	limiter := NewRateLimiter(ledger, provider)
	d := NewDispatcher(primary, fallback, limiter, ledger, provider, pending, testLogger())
	t.Cleanup(d.Close)
	return &dispatcherFixture{dispatcher: d, ledger: ledger, pending: pending}
}

func reminderRequest(recipient string) DispatchRequest {
	return DispatchRequest{
		Recipient: recipient,
		Category:  message.CategoryOverdueReminder,
		Template:  messenger.TemplateOverdueReminder,
		Params:    []string{"Ana López", "01/03/2024", "1"},
	}
}

func TestDispatcher_BlockingSendSucceeds(t *testing.T) {
	transport := newFakeMessenger()
	fx := newDispatcherFixture(t, blockingConfig(), transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeSent, outcome)

	require.Len(t, transport.sent(), 1)
	attempts := fx.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, message.StatusSent, attempts[0].Status)
	assert.Equal(t, "msg-1", attempts[0].ExternalID.String)
	assert.NotEmpty(t, attempts[0].Body)
}

func TestDispatcher_BlockingSendFailureIsLedgered(t *testing.T) {
	transport := newFakeMessenger()
	transport.err = errors.New("chat not found")
	fx := newDispatcherFixture(t, blockingConfig(), transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeFailed, outcome)

	attempts := fx.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, message.StatusFailed, attempts[0].Status)
	assert.Equal(t, "chat not found", attempts[0].FailReason.String)
}

func TestDispatcher_BlockingTimeoutReportsAccepted(t *testing.T) {
	transport := newFakeMessenger()
	transport.delay = 300 * time.Millisecond
	cfg := blockingConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	fx := newDispatcherFixture(t, cfg, transport, nil)

	req := reminderRequest("111")
	req.IdempotencyKey = "audit:7"

	outcome, err := fx.dispatcher.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)

	// The key is parked while the worker is still out.
	_, parked := fx.pending.Get("audit:7")
	assert.True(t, parked)

	// The worker finishes on its own and records exactly one attempt.
	require.Eventually(t, func() bool {
		return len(fx.ledger.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	attempts := fx.ledger.all()
	assert.Equal(t, message.StatusSent, attempts[0].Status)
	assert.Equal(t, "audit:7", attempts[0].ExternalID.String)

	// Once recorded, the key is released.
	require.Eventually(t, func() bool {
		_, parked := fx.pending.Get("audit:7")
		return !parked
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_LateSendIsNotCancelled(t *testing.T) {
	transport := newFakeMessenger()
	transport.delay = 300 * time.Millisecond
	cfg := blockingConfig()
	cfg.SendTimeout = 50 * time.Millisecond
	fx := newDispatcherFixture(t, cfg, transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)

	// The worker outlives the caller's budget and still records its real
	// result, not a synthetic cancellation failure.
	require.Eventually(t, func() bool {
		return len(fx.ledger.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	attempts := fx.ledger.all()
	assert.Equal(t, message.StatusSent, attempts[0].Status)

	sent := transport.sent()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].HadDeadline, "the worker context must not carry the caller's budget as a deadline")
}

func TestDispatcher_KeyParkedWhileInFlight(t *testing.T) {
	transport := newFakeMessenger()
	transport.delay = 200 * time.Millisecond
	cfg := blockingConfig()
	cfg.NonBlocking = true
	fx := newDispatcherFixture(t, cfg, transport, nil)

	req := reminderRequest("111")
	req.IdempotencyKey = "audit:3"

	outcome, err := fx.dispatcher.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)

	// The key is parked the moment the send is admitted, before the
	// worker runs, and released once the attempt is ledgered.
	_, parked := fx.pending.Get("audit:3")
	assert.True(t, parked)

	require.Eventually(t, func() bool {
		_, parked := fx.pending.Get("audit:3")
		return !parked && len(fx.ledger.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_ParkedKeyIsNotRetried(t *testing.T) {
	transport := newFakeMessenger()
	fx := newDispatcherFixture(t, blockingConfig(), transport, nil)

	req := reminderRequest("111")
	req.IdempotencyKey = "audit:9"
	fx.pending.Put("audit:9", struct{}{}, time.Hour)

	outcome, err := fx.dispatcher.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)
	assert.Empty(t, transport.sent(), "an unresolved key must not trigger another transport call")
	assert.Empty(t, fx.ledger.all())
}

func TestDispatcher_NonBlockingReturnsImmediately(t *testing.T) {
	transport := newFakeMessenger()
	transport.delay = 100 * time.Millisecond
	cfg := blockingConfig()
	cfg.NonBlocking = true
	fx := newDispatcherFixture(t, cfg, transport, nil)

	start := time.Now()
	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(fx.ledger.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_NoTransportConfigured(t *testing.T) {
	fx := newDispatcherFixture(t, blockingConfig(), nil, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeUnavailable, outcome)
	assert.Empty(t, fx.ledger.all(), "nothing attempted means nothing ledgered")
}

func TestDispatcher_FallbackWhenPrimaryMissing(t *testing.T) {
	fallback := newFakeMessenger()
	fx := newDispatcherFixture(t, blockingConfig(), nil, fallback)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeSent, outcome)
	assert.Len(t, fallback.sent(), 1)
}

func TestDispatcher_FallbackAfterPrimaryError(t *testing.T) {
	primary := newFakeMessenger()
	primary.err = errors.New("long poller down")
	fallback := newFakeMessenger()
	fx := newDispatcherFixture(t, blockingConfig(), primary, fallback)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeSent, outcome)
	assert.Len(t, primary.sent(), 1)
	assert.Len(t, fallback.sent(), 1)

	attempts := fx.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, message.StatusSent, attempts[0].Status)
}

func TestDispatcher_AllowlistBlocksAndLedgers(t *testing.T) {
	transport := newFakeMessenger()
	cfg := blockingConfig()
	cfg.AllowlistEnabled = true
	cfg.Allowlist = map[string]struct{}{"222": {}}
	fx := newDispatcherFixture(t, cfg, transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	assert.ErrorIs(t, err, ErrNotAllowlisted)
	assert.Equal(t, message.OutcomeFailed, outcome)
	assert.Empty(t, transport.sent())

	attempts := fx.ledger.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, message.StatusFailed, attempts[0].Status)
	assert.Equal(t, "not_allowlisted", attempts[0].FailReason.String)
}

func TestDispatcher_ForceDoesNotBypassAllowlist(t *testing.T) {
	transport := newFakeMessenger()
	cfg := blockingConfig()
	cfg.AllowlistEnabled = true
	cfg.Allowlist = map[string]struct{}{}
	fx := newDispatcherFixture(t, cfg, transport, nil)

	req := reminderRequest("111")
	req.Force = true

	_, err := fx.dispatcher.Send(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotAllowlisted)
	assert.Empty(t, transport.sent())
}

func TestDispatcher_RateLimitedSendIsRefused(t *testing.T) {
	transport := newFakeMessenger()
	cfg := blockingConfig()
	cfg.MaxPerHour = 0
	fx := newDispatcherFixture(t, cfg, transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, message.OutcomeFailed, outcome)
	assert.Empty(t, transport.sent())
	assert.Empty(t, fx.ledger.all(), "a refused send never reaches the transport or the ledger")
}

func TestDispatcher_ForceBypassesRateLimit(t *testing.T) {
	transport := newFakeMessenger()
	cfg := blockingConfig()
	cfg.MaxPerHour = 0
	fx := newDispatcherFixture(t, cfg, transport, nil)

	req := reminderRequest("111")
	req.Force = true

	outcome, err := fx.dispatcher.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeSent, outcome)
	assert.Len(t, transport.sent(), 1)
}

func TestDispatcher_InflightSendBlocksSecondAttempt(t *testing.T) {
	transport := newFakeMessenger()
	transport.delay = 200 * time.Millisecond
	cfg := blockingConfig()
	cfg.NonBlocking = true
	fx := newDispatcherFixture(t, cfg, transport, nil)

	outcome, err := fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	require.NoError(t, err)
	assert.Equal(t, message.OutcomeAccepted, outcome)

	// While the first send is still in flight, a second one to the same
	// recipient must not be admitted even though the ledger is empty.
	_, err = fx.dispatcher.Send(context.Background(), reminderRequest("111"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different recipient is unaffected.
	_, err = fx.dispatcher.Send(context.Background(), reminderRequest("222"))
	assert.NoError(t, err)
}
