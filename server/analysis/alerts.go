package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/damage-watch/server/models"
)

const (
	MaxAlerts = 5

	// matches the browser's en-US toLocaleTimeString output
	alertTimeLayout = "3:04:05 PM"
)

// AlertFeed keeps the most recent alerts, newest first.
type AlertFeed struct {
	mu       sync.RWMutex
	items    []models.Alert
	capacity int
	now      func() time.Time
}

func NewAlertFeed(capacity int) *AlertFeed {
	if capacity <= 0 {
		capacity = MaxAlerts
	}
	return &AlertFeed{
		items:    make([]models.Alert, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

func (f *AlertFeed) Push(message string, severity models.Severity, level float64) models.Alert {
	now := f.now()
	alert := models.Alert{
		ID:        newAlertID(),
		Message:   message,
		Severity:  severity,
		Timestamp: now.Local().Format(alertTimeLayout),
		Level:     level,
		CreatedAt: now,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	items := make([]models.Alert, 0, f.capacity)
	items = append(items, alert)
	items = append(items, f.items...)
	if len(items) > f.capacity {
		items = items[:f.capacity]
	}
	f.items = items

	return alert
}

func (f *AlertFeed) Items() []models.Alert {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]models.Alert, len(f.items))
	copy(out, f.items)
	return out
}

func (f *AlertFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func newAlertID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
