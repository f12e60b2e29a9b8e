package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/circuitbreaker"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/events"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/notify"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/notify/mocks"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type healthCall struct {
	service string
	err     error
}

type fakeHealth struct {
	mu    sync.Mutex
	calls []healthCall
}

func (f *fakeHealth) Record(_ context.Context, service string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, healthCall{service: service, err: err})
}

func (f *fakeHealth) last() healthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testConfig() Config {
	return Config{
		Channels: map[model.AlertTier]string{
			model.TierWhaleMovements:   "@whales",
			model.TierExchangeDeposits: "@exchanges",
			model.TierCriticalWhales:   "-100999",
		},
		ExplorerURL: DefaultExplorerURL,
		Retry:       retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Breaker:     circuitbreaker.Config{FailureThreshold: 5, OpenTimeout: time.Hour},
	}
}

type fixture struct {
	repos     store.Repos
	health    *fakeHealth
	publisher *events.MemoryPublisher
}

func newFixture() *fixture {
	mem := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	mem.SetClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) })
	return &fixture{
		repos:     mem.Repos(),
		health:    &fakeHealth{},
		publisher: events.NewMemoryPublisher(),
	}
}

func (f *fixture) dispatcher(sender notify.Sender, cfg Config) *Dispatcher {
	return NewDispatcher(f.repos, sender, f.health, f.publisher, cfg, testLogger())
}

func (f *fixture) seedAlert(t *testing.T, hash string, tier model.AlertTier) model.WhaleAlert {
	t.Helper()
	a := &model.WhaleAlert{
		WalletAddress:   "rWhale",
		OwnerName:       "Whale",
		TransactionHash: hash,
		Amount:          decimal.NewFromInt(15_000),
		TransactionType: model.KindDirectTransfer,
		Direction:       model.DirectionSent,
		AlertType:       tier,
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	created, err := f.repos.Alerts.InsertIfAbsent(context.Background(), a)
	require.NoError(t, err)
	require.True(t, created)
	return *a
}

func (f *fixture) stored(t *testing.T, hash string) *model.WhaleAlert {
	t.Helper()
	a, err := f.repos.Alerts.GetByTxHash(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestDispatch_SendsAndConfirms(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)

	sender.EXPECT().Send(gomock.Any(), "@whales", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, text string) error {
			assert.Contains(t, text, "Tx: TX1")
			assert.Contains(t, text, "15,000 XRP")
			return nil
		})

	res, err := f.dispatcher(sender, testConfig()).Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)

	stored := f.stored(t, "TX1")
	assert.True(t, stored.IsSent)
	assert.NotNil(t, stored.SentAt)

	sent := f.publisher.OfType(events.TypeAlertSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "TX1", sent[0].Alert.TransactionHash)
	assert.True(t, sent[0].Alert.IsSent)

	assert.Equal(t, "alert_dispatch:whale_movements", f.health.last().service)
	assert.NoError(t, f.health.last().err)
}

func TestDispatch_AlreadySentIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)
	a.IsSent = true

	res, err := f.dispatcher(sender, testConfig()).Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySent, res.Outcome)
}

func TestDispatch_ConcurrentDoubleDispatchConfirmsOnce(t *testing.T) {
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierCriticalWhales)
	d := f.dispatcher(notify.NewLogSender(testLogger()), testConfig())

	const workers = 8
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := d.Dispatch(context.Background(), a)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	s := Summarize(results)
	assert.Equal(t, 1, s.Sent, "exactly one dispatcher confirms")
	assert.Equal(t, workers-1, s.AlreadySent)
	assert.Len(t, f.publisher.OfType(events.TypeAlertSent), 1)
	assert.True(t, f.stored(t, "TX1").IsSent)
}

func TestDispatch_MissingChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)

	cfg := testConfig()
	delete(cfg.Channels, model.TierWhaleMovements)

	res, err := f.dispatcher(sender, cfg).Dispatch(context.Background(), a)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfigurationMissing)
	assert.Equal(t, OutcomeNotConfigured, res.Outcome)
	assert.False(t, f.stored(t, "TX1").IsSent)
	assert.ErrorIs(t, f.health.last().err, apperr.ErrConfigurationMissing)
}

func TestDispatch_UnconfiguredSenderLeavesPending(t *testing.T) {
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	d := f.dispatcher(notify.UnconfiguredSender{Reason: "no bot token"}, cfg)

	for i := 0; i < 3; i++ {
		res, err := d.Dispatch(context.Background(), a)
		require.ErrorIs(t, err, apperr.ErrConfigurationMissing)
		assert.NotErrorIs(t, err, apperr.ErrTransportFailure)
		assert.Equal(t, OutcomeNotConfigured, res.Outcome)
	}
	assert.False(t, f.stored(t, "TX1").IsSent)
	assert.Equal(t, "closed", d.CircuitStates()["whale_movements"], "missing credentials never trip the breaker")
}

func TestDispatch_TransientFailureRetriedThenSurfaced(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierExchangeDeposits)

	sender.EXPECT().Send(gomock.Any(), "@exchanges", gomock.Any()).
		Return(retry.Transient(errors.New("telegram 502"))).Times(3)

	res, err := f.dispatcher(sender, testConfig()).Dispatch(context.Background(), a)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransportFailure)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Error)
	assert.False(t, f.stored(t, "TX1").IsSent)
	assert.Empty(t, f.publisher.OfType(events.TypeAlertSent))
	assert.ErrorIs(t, f.health.last().err, apperr.ErrTransportFailure)
}

func TestDispatch_TransientFailureThenSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)

	gomock.InOrder(
		sender.EXPECT().Send(gomock.Any(), "@whales", gomock.Any()).Return(retry.Transient(errors.New("timeout"))),
		sender.EXPECT().Send(gomock.Any(), "@whales", gomock.Any()).Return(nil),
	)

	res, err := f.dispatcher(sender, testConfig()).Dispatch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
}

func TestDispatch_TerminalFailureNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	a := f.seedAlert(t, "TX1", model.TierWhaleMovements)

	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(retry.Terminal(errors.New("chat not found"))).Times(1)

	_, err := f.dispatcher(sender, testConfig()).Dispatch(context.Background(), a)
	assert.ErrorIs(t, err, apperr.ErrTransportFailure)
}

func TestDispatch_OpenCircuitFailsFast(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	first := f.seedAlert(t, "TX1", model.TierWhaleMovements)
	second := f.seedAlert(t, "TX2", model.TierWhaleMovements)

	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1

	sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(retry.Terminal(errors.New("forbidden"))).Times(1)

	d := f.dispatcher(sender, cfg)
	_, err := d.Dispatch(context.Background(), first)
	require.ErrorIs(t, err, apperr.ErrTransportFailure)
	assert.Equal(t, "open", d.CircuitStates()["whale_movements"])

	_, err = d.Dispatch(context.Background(), second)
	require.ErrorIs(t, err, apperr.ErrTransportFailure)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestDispatch_SubscriberFanOut(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	ctx := context.Background()
	a := f.seedAlert(t, "TX1", model.TierCriticalWhales)

	for _, s := range []model.TelegramSubscription{
		{UserID: "u1", ChatID: 111, SubscriptionType: model.TierCriticalWhales},
		{UserID: "u2", ChatID: 222, SubscriptionType: model.TierCriticalWhales},
		{UserID: "u3", ChatID: 111, SubscriptionType: model.TierCriticalWhales},
		{UserID: "u4", ChatID: -100999, SubscriptionType: model.TierCriticalWhales},
		{UserID: "u5", ChatID: 555, SubscriptionType: model.TierWhaleMovements},
	} {
		s := s
		require.NoError(t, f.repos.Subscriptions.Upsert(ctx, &s))
	}

	sender.EXPECT().Send(gomock.Any(), "-100999", gomock.Any()).Return(nil).Times(1)
	sender.EXPECT().Send(gomock.Any(), "111", gomock.Any()).Return(errors.New("blocked by user")).Times(1)
	sender.EXPECT().Send(gomock.Any(), "222", gomock.Any()).Return(nil).Times(1)

	res, err := f.dispatcher(sender, testConfig()).Dispatch(ctx, a)
	require.NoError(t, err, "subscriber failures never fail the dispatch")
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, 1, res.Subscribers)
	assert.True(t, f.stored(t, "TX1").IsSent)
}

func TestDispatchPending(t *testing.T) {
	f := newFixture()
	f.seedAlert(t, "TX1", model.TierWhaleMovements)
	f.seedAlert(t, "TX2", model.TierCriticalWhales)
	f.seedAlert(t, "TX3", model.TierSystemAlerts)

	d := f.dispatcher(notify.NewLogSender(testLogger()), testConfig())
	summary, err := d.DispatchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, summary.Results, 2, "tiers without a channel are not listed")
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 0, summary.Failed)

	pending, err := f.repos.Alerts.ListPending(context.Background(), store.PendingQuery{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "TX3", pending[0].TransactionHash)

	again, err := d.DispatchPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, again.Results)
}

func TestDispatchPending_UnconfiguredTierDoesNotStarveOthers(t *testing.T) {
	f := newFixture()
	for _, hash := range []string{"DEP1", "DEP2", "DEP3"} {
		f.seedAlert(t, hash, model.TierExchangeDeposits)
	}
	f.seedAlert(t, "WHALE", model.TierWhaleMovements)

	cfg := testConfig()
	delete(cfg.Channels, model.TierExchangeDeposits)
	sender := notify.NewLogSender(testLogger())
	d := f.dispatcher(sender, cfg)

	for i := 0; i < 3; i++ {
		_, err := d.DispatchPending(context.Background(), 3)
		require.NoError(t, err)
	}

	assert.True(t, f.stored(t, "WHALE").IsSent)
	assert.Equal(t, 1, sender.Sent())
	for _, hash := range []string{"DEP1", "DEP2", "DEP3"} {
		assert.False(t, f.stored(t, hash).IsSent)
	}
}

func TestDispatchPending_TerminalFailuresDoNotStarveNewerAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	for _, hash := range []string{"DEP1", "DEP2", "DEP3"} {
		f.seedAlert(t, hash, model.TierExchangeDeposits)
	}
	f.seedAlert(t, "WHALE", model.TierWhaleMovements)

	sender.EXPECT().Send(gomock.Any(), "@exchanges", gomock.Any()).
		Return(retry.Terminal(errors.New("chat not found"))).AnyTimes()
	sender.EXPECT().Send(gomock.Any(), "@whales", gomock.Any()).Return(nil).Times(1)

	d := f.dispatcher(sender, testConfig())
	first, err := d.DispatchPending(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Failed)
	assert.False(t, f.stored(t, "WHALE").IsSent)

	second, err := d.DispatchPending(context.Background(), 3)
	require.NoError(t, err)
	require.NotEmpty(t, second.Results)
	assert.Equal(t, "WHALE", second.Results[0].TxHash)
	assert.Equal(t, 1, second.Sent)
	assert.True(t, f.stored(t, "WHALE").IsSent)
}

func TestDispatchPending_SkipsTierWithOpenCircuit(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	f := newFixture()
	f.seedAlert(t, "WHALE1", model.TierWhaleMovements)
	f.seedAlert(t, "WHALE2", model.TierWhaleMovements)
	f.seedAlert(t, "CRIT", model.TierCriticalWhales)

	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1

	sender.EXPECT().Send(gomock.Any(), "@whales", gomock.Any()).
		Return(retry.Terminal(errors.New("forbidden"))).Times(1)
	sender.EXPECT().Send(gomock.Any(), "-100999", gomock.Any()).Return(nil).Times(1)

	d := f.dispatcher(sender, cfg)
	first, err := d.DispatchPending(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, "open", d.CircuitStates()["whale_movements"])

	second, err := d.DispatchPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "CRIT", second.Results[0].TxHash)
	assert.Equal(t, OutcomeSent, second.Results[0].Outcome)
}

func TestDispatchPending_CancelledContext(t *testing.T) {
	f := newFixture()
	f.seedAlert(t, "TX1", model.TierWhaleMovements)
	f.seedAlert(t, "TX2", model.TierWhaleMovements)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := notify.NewLogSender(testLogger())
	summary, err := f.dispatcher(sender, testConfig()).DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, sender.Sent())
}
