package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coastal-alert-service/internal/config"
	"coastal-alert-service/internal/db"
	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
)

type recordingGateway struct {
	mu    sync.Mutex
	sent  []string
	failN map[string]bool
}

func (g *recordingGateway) Send(_ context.Context, phone string, _ models.Alert) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failN[phone] {
		return errors.New("carrier error")
	}
	g.sent = append(g.sent, phone)
	return nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type recordingReporter struct {
	mu        sync.Mutex
	summaries []models.DispatchSummary
}

func (r *recordingReporter) ReportDispatch(_ context.Context, _ models.Alert, s models.DispatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Notification.QueueSize = 10
	cfg.Notification.MaxWorkers = 2
	cfg.SMS.Timeout = time.Second
	cfg.WebSocket.MaxConnections = 2
	return cfg
}

func newTestService(t *testing.T) (*Service, *db.MemoryStore, *recordingGateway) {
	t.Helper()
	store := db.NewMemoryStore()
	gw := &recordingGateway{failN: map[string]bool{}}
	svc := New(store, gw, logging.NewWithOutput(&bytes.Buffer{}), testConfig())
	return svc, store, gw
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, outcome, err := svc.Subscribe(ctx, " +919876543210 ")
	require.NoError(t, err)
	assert.Equal(t, models.SubscribeCreated, outcome)

	_, outcome, err = svc.Subscribe(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, models.SubscribeAlreadyActive, outcome)
	assert.Equal(t, "Already subscribed to SMS alerts", outcome.Message())

	require.NoError(t, svc.Unsubscribe(ctx, "+919876543210"))
	sub, outcome, err := svc.Subscribe(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, models.SubscribeReactivated, outcome)
	assert.True(t, sub.IsActive)

	all, err := store.GetSubscribers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSubscribe_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		phone string
		msg   string
	}{
		{"", "Phone number is required"},
		{"   ", "Phone number is required"},
		{"12345", "Invalid phone number"},
		{"+9198765432101234", "Invalid phone number"},
	}
	for _, tt := range tests {
		_, _, err := svc.Subscribe(context.Background(), tt.phone)
		require.Error(t, err, tt.phone)
		assert.True(t, IsValidation(err))
		assert.Equal(t, tt.msg, err.Error())
	}
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	assert.ErrorIs(t, svc.Unsubscribe(ctx, "0000000000"), models.ErrSubscriberNotFound)
	assert.True(t, IsValidation(svc.Unsubscribe(ctx, "")))

	_, _, err := svc.Subscribe(ctx, "1234567890")
	require.NoError(t, err)
	require.NoError(t, svc.Unsubscribe(ctx, "1234567890"))
	require.NoError(t, svc.Unsubscribe(ctx, "1234567890"))
}

func TestCreateAlert_DispatchesAndReports(t *testing.T) {
	ctx := context.Background()
	svc, _, gw := newTestService(t)
	reporter := &recordingReporter{}
	svc.SetReporter(reporter)

	for _, p := range []string{"1111111111", "2222222222", "3333333333"} {
		_, _, err := svc.Subscribe(ctx, p)
		require.NoError(t, err)
	}
	gw.failN["2222222222"] = true

	alert, summary, err := svc.CreateAlert(ctx, models.AlertCreate{
		Title:       "Flood Warning",
		Description: "Water levels rising",
		Severity:    "HIGH",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.True(t, alert.IsActive)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)

	svc.Stop()
	require.Len(t, reporter.summaries, 1)
	assert.Equal(t, summary, reporter.summaries[0])
}

func TestCreateAlert_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name string
		in   models.AlertCreate
		msg  string
	}{
		{"missing title", models.AlertCreate{Description: "d"}, "Title and description are required"},
		{"blank description", models.AlertCreate{Title: "t", Description: "  "}, "Title and description are required"},
		{"bad severity", models.AlertCreate{Title: "t", Description: "d", Severity: "extreme"}, "Invalid severity level"},
		{"long title", models.AlertCreate{Title: strings.Repeat("x", 201), Description: "d"}, "Title must be at most 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateAlert(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

func TestCreateAlert_DefaultSeverity(t *testing.T) {
	svc, _, _ := newTestService(t)

	alert, summary, err := svc.CreateAlert(context.Background(), models.AlertCreate{Title: "t", Description: "d"})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, alert.Severity)
	assert.Equal(t, 0, summary.Sent)
}

func TestRedispatchAndDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, store, gw := newTestService(t)

	_, _, err := svc.Subscribe(ctx, "1111111111")
	require.NoError(t, err)
	alert, _, err := svc.CreateAlert(ctx, models.AlertCreate{Title: "Storm", Description: "d", Severity: "critical"})
	require.NoError(t, err)

	_, summary, err := svc.RedispatchAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, gw.count())

	list, err := store.GetNotifications(ctx, models.NotificationFilter{AlertID: alert.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.DeactivateAlert(ctx, alert.ID))
	_, _, err = svc.RedispatchAlert(ctx, alert.ID)
	assert.ErrorIs(t, err, models.ErrAlertInactive)

	recent, err := svc.RecentAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, recent)

	// past records survive deactivation
	list, err = store.GetNotifications(ctx, models.NotificationFilter{AlertID: alert.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, _, err = svc.RedispatchAlert(ctx, 999)
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
	assert.ErrorIs(t, svc.DeactivateAlert(ctx, 999), models.ErrAlertNotFound)
}

func TestSendTestSMS(t *testing.T) {
	ctx := context.Background()
	svc, store, gw := newTestService(t)

	alert, err := svc.SendTestSMS(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "SMS Test", alert.Title)
	assert.Equal(t, models.SeverityLow, alert.Severity)
	assert.Equal(t, []string{"9876543210"}, gw.sent)

	list, err := store.GetNotifications(ctx, models.NotificationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	gw.failN["1111111111"] = true
	_, err = svc.SendTestSMS(ctx, "1111111111")
	assert.Error(t, err)
	assert.False(t, IsValidation(err))

	_, err = svc.SendTestSMS(ctx, "")
	assert.True(t, IsValidation(err))
}

func TestListNotifications(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.ListNotifications(ctx, models.NotificationFilter{Status: "bogus"})
	assert.True(t, IsValidation(err))

	_, _, err = svc.Subscribe(ctx, "1111111111")
	require.NoError(t, err)
	_, _, err = svc.CreateAlert(ctx, models.AlertCreate{Title: "t", Description: "d"})
	require.NoError(t, err)

	list, err := svc.ListNotifications(ctx, models.NotificationFilter{Status: models.StatusSent, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestQueueAlert_WorkersCreateAlerts(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	svc.Start()

	svc.QueueAlert(models.AlertCreate{Title: "Cyclone", Description: "Landfall expected", Severity: "critical"})
	svc.QueueAlert(models.AlertCreate{Title: "", Description: "rejected"})

	assert.Eventually(t, func() bool {
		alerts, err := store.GetRecentActiveAlerts(ctx, 10)
		return err == nil && len(alerts) == 1
	}, time.Second, 10*time.Millisecond)

	svc.Stop()
}

type slowGateway struct {
	entered chan struct{}
	once    sync.Once
	delay   time.Duration
}

func (g *slowGateway) Send(context.Context, string, models.Alert) error {
	g.once.Do(func() { close(g.entered) })
	time.Sleep(g.delay)
	return nil
}

type slowReporter struct {
	recordingReporter
	delay time.Duration
}

func (r *slowReporter) ReportDispatch(ctx context.Context, a models.Alert, s models.DispatchSummary) error {
	time.Sleep(r.delay)
	return r.recordingReporter.ReportDispatch(ctx, a, s)
}

func TestStop_WaitsForInFlightDispatchReport(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	gw := &slowGateway{entered: make(chan struct{}), delay: 200 * time.Millisecond}
	svc := New(store, gw, logging.NewWithOutput(&bytes.Buffer{}), testConfig())
	reporter := &slowReporter{delay: 100 * time.Millisecond}
	svc.SetReporter(reporter)

	_, _, err := svc.Subscribe(ctx, "1111111111")
	require.NoError(t, err)

	svc.Start()
	svc.QueueAlert(models.AlertCreate{Title: "Storm Surge", Description: "Move inland"})

	select {
	case <-gw.entered:
	case <-time.After(time.Second):
		t.Fatal("worker never reached the gateway")
	}
	svc.Stop()

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.summaries, 1)
	assert.Equal(t, 1, reporter.summaries[0].Sent)
}

// liveContextStore refuses writes on a cancelled context, like a database driver.
type liveContextStore struct {
	*db.MemoryStore
}

func (s liveContextStore) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return models.Alert{}, err
	}
	return s.MemoryStore.CreateAlert(ctx, a)
}

func TestWorker_DequeuedAlertSurvivesShutdown(t *testing.T) {
	ctx := context.Background()
	store := liveContextStore{db.NewMemoryStore()}
	var buf bytes.Buffer
	svc := New(store, &recordingGateway{}, logging.NewWithOutput(&buf), testConfig())

	svc.cancel()
	svc.QueueAlert(models.AlertCreate{Title: "Rip Current", Description: "Stay out of the water"})

	// select picks randomly between the stop signal and the queued task
	for i := 0; i < 100 && len(svc.tasks) > 0; i++ {
		svc.workers.Add(1)
		svc.worker(0)
	}
	require.Empty(t, svc.tasks)

	alerts, err := store.GetRecentActiveAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Rip Current", alerts[0].Title)
	assert.NotContains(t, buf.String(), "rejected")
}

func TestQueueAlert_FullQueueDrops(t *testing.T) {
	store := db.NewMemoryStore()
	cfg := testConfig()
	cfg.Notification.QueueSize = 1
	var buf bytes.Buffer
	svc := New(store, &recordingGateway{}, logging.NewWithOutput(&buf), cfg)

	// no workers started, so the second alert cannot be queued
	svc.QueueAlert(models.AlertCreate{Title: "a", Description: "d"})
	svc.QueueAlert(models.AlertCreate{Title: "b", Description: "d"})

	assert.Contains(t, buf.String(), "Queue full")
}

func TestWebSocketFeed(t *testing.T) {
	svc, _, _ := newTestService(t)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if !svc.Feed().AddConnection(conn) {
			conn.Close()
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return svc.Feed().Count() == 1 }, time.Second, 10*time.Millisecond)

	_, _, err = svc.CreateAlert(context.Background(), models.AlertCreate{Title: "High Tide", Description: "d", Severity: "low"})
	require.NoError(t, err)

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	var event struct {
		Kind  string       `json:"kind"`
		Alert models.Alert `json:"alert"`
	}
	require.NoError(t, client.ReadJSON(&event))
	assert.Equal(t, "alert.created", event.Kind)
	assert.Equal(t, "High Tide", event.Alert.Title)
}

func TestWebSocketManager_Limit(t *testing.T) {
	m := NewWebSocketManager(1, logging.NewWithOutput(&bytes.Buffer{}))
	assert.True(t, m.AddConnection(&websocket.Conn{}))
	assert.False(t, m.AddConnection(&websocket.Conn{}))
	assert.Equal(t, 1, m.Count())
}
