package notification

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/models"
	"coastal-alert-service/internal/providers"
)

// Ledger is the storage the dispatcher needs: the active subscriber snapshot
// and the per-attempt notification records.
type Ledger interface {
	GetActiveSubscribers(ctx context.Context) ([]models.Subscriber, error)
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	MarkNotificationSent(ctx context.Context, id, subscriberID int64, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id int64, reason string) error
}

// Delivery is the outcome of one attempt. Status is empty when the attempt
// was skipped because its record could not be written.
type Delivery struct {
	SubscriberID   int64
	PhoneNumber    string
	NotificationID int64
	Status         models.NotificationStatus
	Err            error
}

// Dispatcher fans an alert out to every active subscriber over a bounded pool.
type Dispatcher struct {
	ledger     Ledger
	gateway    providers.Gateway
	logger     *logging.Logger
	maxWorkers int
	timeout    time.Duration
	now        func() time.Time
}

func New(ledger Ledger, gateway providers.Gateway, logger *logging.Logger, maxWorkers int, timeout time.Duration) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Dispatcher{
		ledger:     ledger,
		gateway:    gateway,
		logger:     logger,
		maxWorkers: maxWorkers,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Dispatch notifies the subscribers that are active right now. Per-subscriber
// failures are recorded and counted, never returned; the only error is a
// failure to read the snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.Alert) (models.DispatchSummary, error) {
	summary := models.DispatchSummary{AlertID: alert.ID}

	subscribers, err := d.ledger.GetActiveSubscribers(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load active subscribers: %w", err)
	}
	summary.Total = len(subscribers)

	var sent, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.maxWorkers)
	for _, sub := range subscribers {
		sub := sub
		g.Go(func() error {
			switch d.deliver(ctx, alert, sub).Status {
			case models.StatusSent:
				sent.Add(1)
			case models.StatusFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Sent = int(sent.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())

	d.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"total":    summary.Total,
		"sent":     summary.Sent,
		"failed":   summary.Failed,
		"skipped":  summary.Skipped,
	}).Info("Alert dispatch finished")
	return summary, nil
}

func (d *Dispatcher) deliver(ctx context.Context, alert models.Alert, sub models.Subscriber) Delivery {
	res := Delivery{SubscriberID: sub.ID, PhoneNumber: sub.PhoneNumber}
	entry := d.logger.WithFields(logrus.Fields{"alert_id": alert.ID, "subscriber_id": sub.ID})

	// Records are finalized even if the caller gives up mid-run.
	bookCtx := context.WithoutCancel(ctx)

	n, err := d.ledger.CreateNotification(bookCtx, models.Notification{
		SubscriberID: sub.ID,
		AlertID:      alert.ID,
		SentAt:       d.now(),
		Status:       models.StatusPending,
	})
	if err != nil {
		entry.Errorf("CreateNotification failed: %v", err)
		res.Err = err
		return res
	}
	res.NotificationID = n.ID

	if sendErr := d.send(ctx, sub.PhoneNumber, alert); sendErr != nil {
		res.Err = sendErr
		entry.Warnf("SMS to %s failed: %v", sub.PhoneNumber, sendErr)
		if err := d.ledger.MarkNotificationFailed(bookCtx, n.ID, sendErr.Error()); err != nil {
			entry.Errorf("Failed to mark notification %d failed: %v", n.ID, err)
			res.Err = err
			return res
		}
		res.Status = models.StatusFailed
		return res
	}

	if err := d.ledger.MarkNotificationSent(bookCtx, n.ID, sub.ID, d.now()); err != nil {
		entry.Errorf("Failed to mark notification %d sent: %v", n.ID, err)
		res.Err = err
		return res
	}
	res.Status = models.StatusSent
	return res
}

// send bounds one gateway call by the per-attempt timeout and turns a panic into an error.
func (d *Dispatcher) send(ctx context.Context, phoneNumber string, alert models.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.gateway.Send(ctx, phoneNumber, alert)
}
