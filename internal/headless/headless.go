// Package headless implements the host capabilities for the policywatch
// daemon, where tab events and notification clicks arrive over the HTTP
// bridge instead of from a browser.
package headless

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/host"
)

// Note is a notification waiting in the inbox.
type Note struct {
	ID string `json:"id"`
	host.Notification
	CreatedAt time.Time `json:"created_at"`
}

// Host keeps tabs, badges and notifications in memory and runs alarms on
// tickers.
type Host struct {
	log logrus.FieldLogger
	now func() time.Time

	mu      sync.Mutex
	tabs    map[int]string
	nextTab int
	badges  map[int]host.Badge
	notes   map[string]Note
	opened  []string
	alarms  map[string]*alarm
	onAlarm func(ctx context.Context, name string)
}

type alarm struct {
	period time.Duration
	stop   chan struct{}
}

func New(log logrus.FieldLogger, now func() time.Time) *Host {
	if now == nil {
		now = time.Now
	}
	return &Host{
		log:     utils.OrDiscard(log),
		now:     now,
		tabs:    make(map[int]string),
		nextTab: 1000,
		badges:  make(map[int]host.Badge),
		notes:   make(map[string]Note),
		alarms:  make(map[string]*alarm),
	}
}

// Capabilities bundles h with the given storage areas.
func (h *Host) Capabilities(session, sync, local host.Area) host.Host {
	return host.Host{
		Badges:        h,
		Tabs:          h,
		Notifications: h,
		Alarms:        h,
		Session:       session,
		Sync:          sync,
		Local:         local,
	}
}

// SetTabURL records the current URL of a tab.
func (h *Host) SetTabURL(tabID int, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs[tabID] = url
}

// RemoveTab forgets a closed tab and its badge.
func (h *Host) RemoveTab(tabID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, tabID)
	delete(h.badges, tabID)
}

func (h *Host) URL(_ context.Context, tabID int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	url, ok := h.tabs[tabID]
	if !ok {
		return "", host.ErrNoTab
	}
	return url, nil
}

// Open registers a new tab showing url.
func (h *Host) Open(_ context.Context, url string) error {
	h.mu.Lock()
	h.nextTab++
	h.tabs[h.nextTab] = url
	h.opened = append(h.opened, url)
	h.mu.Unlock()

	h.log.WithField("url", url).Info("Opened tab")
	return nil
}

// Opened returns the URLs opened so far.
func (h *Host) Opened() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

func (h *Host) SetBadge(_ context.Context, tabID int, b host.Badge) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.badges[tabID] = b
	return nil
}

// Badges returns a copy of the badge of every tab.
func (h *Host) Badges() map[int]host.Badge {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]host.Badge, len(h.badges))
	for id, b := range h.badges {
		out[id] = b
	}
	return out
}

// Notify puts n in the inbox. Reusing an id replaces the notification.
func (h *Host) Notify(_ context.Context, id string, n host.Notification) error {
	h.mu.Lock()
	h.notes[id] = Note{ID: id, Notification: n, CreatedAt: h.now()}
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"notification": id, "priority": n.Priority}).Info(n.Title)
	return nil
}

// Notifications lists the inbox, oldest first.
func (h *Host) Notifications() []Note {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Note, 0, len(h.notes))
	for _, n := range h.notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes id from the inbox and reports whether it was there.
func (h *Host) Dismiss(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.notes[id]
	delete(h.notes, id)
	return ok
}

// HandleAlarms sets the callback run on every alarm tick.
func (h *Host) HandleAlarms(fn func(ctx context.Context, name string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAlarm = fn
}

func (h *Host) All(context.Context) ([]host.Alarm, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Alarm, 0, len(h.alarms))
	for name, a := range h.alarms {
		out = append(out, host.Alarm{Name: name, Period: a.period})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Create starts a ticker for a. An alarm with the same name is replaced.
func (h *Host) Create(_ context.Context, a host.Alarm) error {
	al := &alarm{period: a.Period, stop: make(chan struct{})}

	h.mu.Lock()
	if old, ok := h.alarms[a.Name]; ok {
		close(old.stop)
	}
	h.alarms[a.Name] = al
	h.mu.Unlock()

	go h.tick(a.Name, al)
	return nil
}

func (h *Host) Clear(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.alarms[name]; ok {
		close(a.stop)
		delete(h.alarms, name)
	}
	return nil
}

// Stop clears every alarm.
func (h *Host) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, a := range h.alarms {
		close(a.stop)
		delete(h.alarms, name)
	}
}

func (h *Host) tick(name string, a *alarm) {
	if a.period <= 0 {
		return
	}
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			fn := h.onAlarm
			h.mu.Unlock()
			if fn == nil {
				continue
			}
			h.log.WithField("alarm", name).Debug("Alarm fired")
			fn(context.Background(), name)
		}
	}
}
