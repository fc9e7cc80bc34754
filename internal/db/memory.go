package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coastal-alert-service/internal/models"
)

// MemoryStore keeps alerts, subscribers and the notification ledger in process.
// It mirrors the Postgres store method for method and is safe for concurrent use.
type MemoryStore struct {
	mu            sync.RWMutex
	alerts        map[int64]models.Alert
	subscribers   map[int64]models.Subscriber
	byPhone       map[string]int64
	notifications map[int64]models.Notification

	lastAlertID        int64
	lastSubscriberID   int64
	lastNotificationID int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:        make(map[int64]models.Alert),
		subscribers:   make(map[int64]models.Subscriber),
		byPhone:       make(map[string]int64),
		notifications: make(map[int64]models.Notification),
		now:           time.Now,
	}
}

func (m *MemoryStore) CreateAlert(_ context.Context, a models.Alert) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastAlertID++
	a.ID = m.lastAlertID
	a.CreatedAt = m.now()
	m.alerts[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id int64) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, models.ErrAlertNotFound
	}
	return a, nil
}

func (m *MemoryStore) GetRecentActiveAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []models.Alert
	for _, a := range m.alerts {
		if a.IsActive {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	if limit >= 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryStore) SetAlertActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.ErrAlertNotFound
	}
	a.IsActive = active
	m.alerts[id] = a
	return nil
}

func (m *MemoryStore) CreateSubscriber(_ context.Context, phone string) (models.Subscriber, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPhone[phone]; ok {
		return m.subscribers[id], false, nil
	}
	m.lastSubscriberID++
	s := models.Subscriber{
		ID:           m.lastSubscriberID,
		PhoneNumber:  phone,
		IsActive:     true,
		SubscribedAt: m.now(),
	}
	m.subscribers[s.ID] = s
	m.byPhone[phone] = s.ID
	return s, true, nil
}

func (m *MemoryStore) GetSubscriberByPhone(_ context.Context, phone string) (models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPhone[phone]
	if !ok {
		return models.Subscriber{}, models.ErrSubscriberNotFound
	}
	return m.subscribers[id], nil
}

func (m *MemoryStore) SetSubscriberActive(_ context.Context, phone string, active bool) (models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byPhone[phone]
	if !ok {
		return models.Subscriber{}, models.ErrSubscriberNotFound
	}
	s := m.subscribers[id]
	s.IsActive = active
	m.subscribers[id] = s
	return s, nil
}

func (m *MemoryStore) GetSubscribers(_ context.Context) ([]models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]models.Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SubscribedAt.Equal(list[j].SubscribedAt) {
			return list[i].SubscribedAt.After(list[j].SubscribedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (m *MemoryStore) GetActiveSubscribers(_ context.Context) ([]models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []models.Subscriber
	for _, s := range m.subscribers {
		if s.IsActive {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscribers[n.SubscriberID]; !ok {
		return models.Notification{}, fmt.Errorf("failed to create notification: %w", models.ErrSubscriberNotFound)
	}
	if _, ok := m.alerts[n.AlertID]; !ok {
		return models.Notification{}, fmt.Errorf("failed to create notification: %w", models.ErrAlertNotFound)
	}
	m.lastNotificationID++
	n.ID = m.lastNotificationID
	n.PhoneNumber = ""
	n.AlertTitle = ""
	m.notifications[n.ID] = n
	return n, nil
}

// MarkNotificationSent updates the record and the subscriber under one lock,
// so readers never observe one write without the other.
func (m *MemoryStore) MarkNotificationSent(_ context.Context, id, subscriberID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.Status != models.StatusPending {
		return fmt.Errorf("notification %d: %w", id, models.ErrNotificationNotPending)
	}
	s, ok := m.subscribers[subscriberID]
	if !ok {
		return models.ErrSubscriberNotFound
	}

	n.Status = models.StatusSent
	n.SentAt = at
	n.LastError = ""
	m.notifications[id] = n

	stamp := at
	s.LastNotificationSent = &stamp
	m.subscribers[subscriberID] = s
	return nil
}

func (m *MemoryStore) MarkNotificationFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.Status != models.StatusPending {
		return fmt.Errorf("notification %d: %w", id, models.ErrNotificationNotPending)
	}
	n.Status = models.StatusFailed
	n.LastError = reason
	m.notifications[id] = n
	return nil
}

func (m *MemoryStore) GetNotifications(_ context.Context, f models.NotificationFilter) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []models.Notification
	for _, n := range m.notifications {
		if f.AlertID != 0 && n.AlertID != f.AlertID {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		n.PhoneNumber = m.subscribers[n.SubscriberID].PhoneNumber
		n.AlertTitle = m.alerts[n.AlertID].Title
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SentAt.Equal(list[j].SentAt) {
			return list[i].SentAt.After(list[j].SentAt)
		}
		return list[i].ID > list[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(list) {
			return nil, nil
		}
		list = list[f.Offset:]
	}
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}
