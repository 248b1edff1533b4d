package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
)

// Inbox keeps the most recent in-app notifications per user.
// Each Inbox is independent; construct one per process or test.
type Inbox struct {
	mu       sync.RWMutex
	byUser   map[string][]model.Notification
	capacity int
	now      func() time.Time
}

// NewInbox creates an Inbox holding at most capacity notifications per user
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 100
	}
	return &Inbox{
		byUser:   make(map[string][]model.Notification),
		capacity: capacity,
		now:      time.Now,
	}
}

// Send stores a notification for the alert. It always delivers.
func (i *Inbox) Send(ctx context.Context, userID string, alert *model.Alert) (bool, error) {
	n := model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		AlertID:   alert.ID,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Message:   alert.Message,
		CreatedAt: i.now(),
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	list := append(i.byUser[userID], n)
	if len(list) > i.capacity {
		list = list[len(list)-i.capacity:]
	}
	i.byUser[userID] = list
	return true, nil
}

// List returns the user's notifications, newest first
func (i *Inbox) List(userID string, unreadOnly bool) []model.Notification {
	i.mu.RLock()
	defer i.mu.RUnlock()

	list := i.byUser[userID]
	out := make([]model.Notification, 0, len(list))
	for idx := len(list) - 1; idx >= 0; idx-- {
		if unreadOnly && list[idx].Read {
			continue
		}
		out = append(out, list[idx])
	}
	return out
}

// MarkRead marks one of the user's notifications read
func (i *Inbox) MarkRead(userID, notificationID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	list := i.byUser[userID]
	for idx := range list {
		if list[idx].ID == notificationID {
			list[idx].Read = true
			return nil
		}
	}
	return model.NotFound("notification", notificationID)
}

// UnreadCount returns how many of the user's notifications are unread
func (i *Inbox) UnreadCount(userID string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	count := 0
	for _, n := range i.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}
