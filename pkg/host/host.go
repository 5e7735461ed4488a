// Package host defines the narrow capability surface the engine needs from
// the browser (or whatever process embeds it). Each target runtime provides
// one implementation and injects it into the engine.
package host

import (
	"context"
	"errors"
	"time"
)

// ErrNoTab is returned by Tabs.URL when the tab does not exist (anymore).
var ErrNoTab = errors.New("tab not found")

// Area is one persisted key/value storage tier. Values are JSON-serializable.
type Area interface {
	// Get decodes the value stored at key into dest. ok is false when the
	// key is absent, in which case dest is left untouched.
	Get(ctx context.Context, key string, dest any) (ok bool, err error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

// Badge is the compact per-tab indicator.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Badger paints the indicator of a single tab.
type Badger interface {
	SetBadge(ctx context.Context, tabID int, b Badge) error
}

// Tabs resolves tab URLs and opens new tabs.
type Tabs interface {
	// URL returns the current URL of tabID, or ErrNoTab.
	URL(ctx context.Context, tabID int) (string, error)
	Open(ctx context.Context, url string) error
}

// Priority of a user-visible notification.
type Priority int

const (
	PriorityDefault Priority = 0
	PriorityHigh    Priority = 2
)

// Notification is a user-visible message with a title and a short body.
type Notification struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority Priority `json:"priority"`
}

// Notifier shows notifications. The id is chosen by the caller and is
// echoed back through the click and close events.
type Notifier interface {
	Notify(ctx context.Context, id string, n Notification) error
}

// Alarm is a named recurring timer.
type Alarm struct {
	Name   string        `json:"name"`
	Period time.Duration `json:"period"`
}

// Alarms manages recurring host timers. Firing is delivered by the host
// calling back into the engine with the alarm name.
type Alarms interface {
	All(ctx context.Context) ([]Alarm, error)
	Create(ctx context.Context, a Alarm) error
	Clear(ctx context.Context, name string) error
}

// Host bundles every capability. Session is cleared by the host when the
// browsing session ends, Sync follows the user across devices and Local
// stays on this machine.
type Host struct {
	Badges        Badger
	Tabs          Tabs
	Notifications Notifier
	Alarms        Alarms

	Session Area
	Sync    Area
	Local   Area
}
