// Package debounce coalesces bursts of per-tab events into a single action.
package debounce

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
)

// DefaultDelay is the quiescence window used by the tab event handlers.
const DefaultDelay = 800 * time.Millisecond

// Debouncer keeps at most one pending timer per tab.
type Debouncer struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	pending map[int]*entry
}

type entry struct {
	timer *time.Timer
}

func New(log logrus.FieldLogger) *Debouncer {
	return &Debouncer{log: utils.OrDiscard(log), pending: make(map[int]*entry)}
}

// Schedule cancels any pending action for tabID and runs action once delay
// has passed without another Schedule for the same tab.
func (d *Debouncer) Schedule(tabID int, action func(), delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[tabID]; ok {
		prev.timer.Stop()
	}

	e := &entry{}
	e.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		cur, ok := d.pending[tabID]
		// A timer that lost the race with Stop must not fire.
		if !ok || cur != e {
			d.mu.Unlock()
			return
		}
		delete(d.pending, tabID)
		d.mu.Unlock()

		d.run(tabID, action)
	})
	d.pending[tabID] = e
}

// Cancel drops the pending action for tabID, if any.
func (d *Debouncer) Cancel(tabID int) {
	d.mu.Lock()
	if e, ok := d.pending[tabID]; ok {
		e.timer.Stop()
		delete(d.pending, tabID)
	}
	d.mu.Unlock()
}

// Pending reports how many tabs have a scheduled action.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending action.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	for id, e := range d.pending {
		e.timer.Stop()
		delete(d.pending, id)
	}
	d.mu.Unlock()
}

func (d *Debouncer) run(tabID int, action func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("tab", tabID).Errorf("debounced action panicked: %v", r)
		}
	}()
	action()
}
