package sequencer

import (
	"time"
)

type (
	// Alerts is a Model view to the alerts shown to the user: errors from
	// the player and the routing layer, progress of background work, and
	// informational messages. Alerts expire after their Duration has passed.
	Alerts Model

	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int

	AlertYieldFunc func(index int, alert Alert) bool
)

const (
	None AlertPriority = iota
	Info
	Warning
	Error
)

const defaultAlertDuration = 3 * time.Second

func (m *Model) Alerts() *Alerts { return (*Alerts)(m) }

// Add adds a new alert with the default duration.
func (m *Alerts) Add(message string, priority AlertPriority) {
	m.AddAlert(Alert{
		Priority: priority,
		Message:  message,
		Duration: defaultAlertDuration,
	})
}

// AddNamed adds an alert with a name, replacing any previous alert with the
// same name. Named alerts are good for progress reporting, as the same alert
// can be updated repeatedly without stacking up.
func (m *Alerts) AddNamed(name, message string, priority AlertPriority) {
	m.AddAlert(Alert{
		Name:     name,
		Priority: priority,
		Message:  message,
		Duration: defaultAlertDuration,
	})
}

func (m *Alerts) AddAlert(a Alert) {
	if a.Name != "" {
		for i := range m.alerts {
			if m.alerts[i].Name == a.Name {
				m.alerts[i] = a
				return
			}
		}
	}
	m.alerts = append(m.alerts, a)
}

// ClearNamed removes the alert with the given name, if it exists.
func (m *Alerts) ClearNamed(name string) {
	for i, a := range m.alerts {
		if a.Name == name {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			return
		}
	}
}

func (m *Alerts) Iterate(yield AlertYieldFunc) {
	for i, a := range m.alerts {
		if !yield(i, a) {
			break
		}
	}
}

func (m *Alerts) Count() int { return len(m.alerts) }

// Update advances the alert timers by d, removing the alerts whose time is
// up. The editing surface calls this on every frame.
func (m *Alerts) Update(d time.Duration) {
	for i := len(m.alerts) - 1; i >= 0; i-- {
		m.alerts[i].Duration -= d
		if m.alerts[i].Duration <= 0 {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
		}
	}
}
