package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertType identifies which rule fired.
type AlertType string

const (
	AlertErrorRate         AlertType = "error_rate"
	AlertConsecutiveErrors AlertType = "consecutive_errors"
	AlertHandlingTime      AlertType = "handling_time"
	AlertHealthCheck       AlertType = "health_check"
	AlertAnomaly           AlertType = "anomaly_detection"
)

// Alert is one fired alert.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider,omitempty"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// alertLog keeps the recent alert history with simple per-type/provider
// deduplication so a sustained breach fires once per cooldown, not once
// per evaluation.
type alertLog struct {
	mu       sync.Mutex
	alerts   []Alert
	lastFire map[string]time.Time
	cooldown time.Duration
	limit    int
}

func newAlertLog() *alertLog {
	return &alertLog{
		lastFire: make(map[string]time.Time),
		cooldown: 5 * time.Minute,
		limit:    1000,
	}
}

// fire records the alert unless the same rule fired within the cooldown.
// Returns whether the alert was recorded.
func (l *alertLog) fire(a Alert) bool {
	key := fmt.Sprintf("%s|%s", a.Type, a.Provider)

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastFire[key]; ok && a.Timestamp.Sub(last) < l.cooldown {
		return false
	}
	l.lastFire[key] = a.Timestamp

	a.ID = uuid.New().String()
	l.alerts = append(l.alerts, a)
	if len(l.alerts) > l.limit {
		l.alerts = l.alerts[len(l.alerts)-l.limit:]
	}
	return true
}

// recent returns the alert history, newest last.
func (l *alertLog) recent(limit int) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.alerts) {
		limit = len(l.alerts)
	}
	out := make([]Alert, limit)
	copy(out, l.alerts[len(l.alerts)-limit:])
	return out
}
