package notification

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coastal-alert-service/internal/db"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
)

// fakeGateway answers per phone number; unknown numbers succeed.
type fakeGateway struct {
	mu       sync.Mutex
	behavior map[string]func(ctx context.Context) error
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *fakeGateway) Send(ctx context.Context, phoneNumber string, _ models.Alert) error {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, phoneNumber)
	fn := g.behavior[phoneNumber]
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// flakyLedger fails CreateNotification for one subscriber.
type flakyLedger struct {
	*db.MemoryStore
	failFor int64
}

func (l *flakyLedger) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.SubscriberID == l.failFor {
		return models.Notification{}, errors.New("connection reset")
	}
	return l.MemoryStore.CreateNotification(ctx, n)
}

type brokenLedger struct {
	*db.MemoryStore
}

func (brokenLedger) GetActiveSubscribers(context.Context) ([]models.Subscriber, error) {
	return nil, errors.New("database unavailable")
}

func setup(t *testing.T, phones ...string) (*db.MemoryStore, models.Alert, []models.Subscriber) {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	var subs []models.Subscriber
	for _, p := range phones {
		s, _, err := store.CreateSubscriber(ctx, p)
		require.NoError(t, err)
		subs = append(subs, s)
	}
	alert, err := store.CreateAlert(ctx, models.Alert{
		Title:       "Flood Warning",
		Description: "Water levels rising along the coast",
		Severity:    models.SeverityHigh,
		IsActive:    true,
	})
	require.NoError(t, err)
	return store, alert, subs
}

func testLogger() *logging.Logger {
	return logging.NewWithOutput(&bytes.Buffer{})
}

func statuses(t *testing.T, store *db.MemoryStore, alertID int64) map[models.NotificationStatus]int {
	t.Helper()
	list, err := store.GetNotifications(context.Background(), models.NotificationFilter{AlertID: alertID})
	require.NoError(t, err)
	out := map[models.NotificationStatus]int{}
	for _, n := range list {
		out[n.Status]++
	}
	return out
}

func TestDispatch_FloodWarningPartialFailure(t *testing.T) {
	ctx := context.Background()
	store, alert, _ := setup(t, "1111111111", "2222222222", "3333333333")
	gw := &fakeGateway{behavior: map[string]func(context.Context) error{
		"2222222222": func(context.Context) error { return errors.New("carrier rejected number") },
	}}

	d := New(store, gw, testLogger(), 10, time.Second)
	summary, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)

	assert.Equal(t, models.DispatchSummary{AlertID: alert.ID, Total: 3, Sent: 2, Failed: 1}, summary)
	assert.Equal(t, map[models.NotificationStatus]int{models.StatusSent: 2, models.StatusFailed: 1}, statuses(t, store, alert.ID))

	for _, phone := range []string{"1111111111", "3333333333"} {
		s, err := store.GetSubscriberByPhone(ctx, phone)
		require.NoError(t, err)
		assert.NotNil(t, s.LastNotificationSent, phone)
	}
	s, err := store.GetSubscriberByPhone(ctx, "2222222222")
	require.NoError(t, err)
	assert.Nil(t, s.LastNotificationSent)

	failed, err := store.GetNotifications(ctx, models.NotificationFilter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "carrier rejected number", failed[0].LastError)
}

func TestDispatch_NoSubscribers(t *testing.T) {
	store, alert, _ := setup(t)
	gw := &fakeGateway{}

	summary, err := New(store, gw, testLogger(), 4, time.Second).Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, gw.calls)
}

func TestDispatch_InactiveSubscribersExcluded(t *testing.T) {
	ctx := context.Background()
	store, alert, _ := setup(t, "1111111111", "2222222222")
	_, err := store.SetSubscriberActive(ctx, "2222222222", false)
	require.NoError(t, err)
	gw := &fakeGateway{}

	summary, err := New(store, gw, testLogger(), 4, time.Second).Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, []string{"1111111111"}, gw.calls)
}

func TestDispatch_TimeoutMarksFailed(t *testing.T) {
	store, alert, _ := setup(t, "1111111111", "2222222222")
	gw := &fakeGateway{behavior: map[string]func(context.Context) error{
		"1111111111": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}}

	summary, err := New(store, gw, testLogger(), 2, 30*time.Millisecond).Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, statuses(t, store, alert.ID)[models.StatusPending])
}

func TestDispatch_GatewayPanicIsContained(t *testing.T) {
	store, alert, _ := setup(t, "1111111111", "2222222222", "3333333333")
	gw := &fakeGateway{behavior: map[string]func(context.Context) error{
		"3333333333": func(context.Context) error { panic("nil carrier response") },
	}}

	summary, err := New(store, gw, testLogger(), 3, time.Second).Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)

	failed, err := store.GetNotifications(context.Background(), models.NotificationFilter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "gateway panic")
}

func TestDispatch_BookkeepingFailureIsSkipped(t *testing.T) {
	store, alert, subs := setup(t, "1111111111", "2222222222", "3333333333")
	ledger := &flakyLedger{MemoryStore: store, failFor: subs[1].ID}
	gw := &fakeGateway{}

	summary, err := New(ledger, gw, testLogger(), 3, time.Second).Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Skipped)
	assert.NotContains(t, gw.calls, "2222222222")
}

func TestDispatch_SnapshotFailure(t *testing.T) {
	store, alert, _ := setup(t, "1111111111")

	_, err := New(brokenLedger{store}, &fakeGateway{}, testLogger(), 1, time.Second).Dispatch(context.Background(), alert)
	assert.ErrorContains(t, err, "database unavailable")
}

func TestDispatch_RespectsWorkerLimit(t *testing.T) {
	phones := []string{"1000000001", "1000000002", "1000000003", "1000000004", "1000000005", "1000000006"}
	store, alert, _ := setup(t, phones...)
	slow := func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	gw := &fakeGateway{behavior: map[string]func(context.Context) error{}}
	for _, p := range phones {
		gw.behavior[p] = slow
	}

	summary, err := New(store, gw, testLogger(), 2, time.Second).Dispatch(context.Background(), alert)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Sent)
	assert.LessOrEqual(t, gw.peak.Load(), int32(2))
}

func TestDispatch_SubscriberAddedLaterOnlySeesLaterRuns(t *testing.T) {
	ctx := context.Background()
	store, alert, _ := setup(t, "1111111111")
	d := New(store, &fakeGateway{}, testLogger(), 2, time.Second)

	first, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	_, _, err = store.CreateSubscriber(ctx, "2222222222")
	require.NoError(t, err)

	// a second run on the same alert re-notifies everyone active now
	second, err := d.Dispatch(ctx, alert)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sent)
	assert.Equal(t, 3, statuses(t, store, alert.ID)[models.StatusSent])
}

func TestDispatch_ConcurrentRunsKeepRecordsSeparate(t *testing.T) {
	ctx := context.Background()
	store, first, _ := setup(t, "1111111111", "2222222222")
	second, err := store.CreateAlert(ctx, models.Alert{Title: "Storm Surge", Description: "d", Severity: models.SeverityCritical, IsActive: true})
	require.NoError(t, err)
	d := New(store, &fakeGateway{}, testLogger(), 4, time.Second)

	var wg sync.WaitGroup
	for _, a := range []models.Alert{first, second} {
		wg.Add(1)
		go func(a models.Alert) {
			defer wg.Done()
			s, err := d.Dispatch(ctx, a)
			assert.NoError(t, err)
			assert.Equal(t, 2, s.Sent)
		}(a)
	}
	wg.Wait()

	assert.Equal(t, 2, statuses(t, store, first.ID)[models.StatusSent])
	assert.Equal(t, 2, statuses(t, store, second.ID)[models.StatusSent])
}
