// Package throttle gates backend calls per domain with a fixed cooldown.
package throttle

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum gap between two unforced checks of a domain.
const DefaultCooldown = 20 * time.Second

// Throttle remembers when each domain was last fetched. The state is a
// best-effort cache: losing it only makes the next check more eager.
type Throttle struct {
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// New returns a Throttle. A zero cooldown means DefaultCooldown and a nil
// now means time.Now.
func New(cooldown time.Duration, now func() time.Time) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Throttle{cooldown: cooldown, now: now, last: make(map[string]time.Time)}
}

// CooldownOK reports whether domain may be fetched again.
func (t *Throttle) CooldownOK(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.okLocked(domain)
}

// MarkFetched records now as the last fetch of domain. Callers must mark
// before issuing the request they are gating.
func (t *Throttle) MarkFetched(domain string) {
	t.mu.Lock()
	t.last[domain] = t.now()
	t.mu.Unlock()
}

// Reserve checks the cooldown and marks the domain in one step. It returns
// false when the domain is still cooling down, in which case nothing is
// recorded. Two goroutines racing on the same domain cannot both win.
func (t *Throttle) Reserve(domain string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.okLocked(domain) {
		return false
	}
	t.last[domain] = t.now()
	return true
}

// Forget drops the record for domain.
func (t *Throttle) Forget(domain string) {
	t.mu.Lock()
	delete(t.last, domain)
	t.mu.Unlock()
}

func (t *Throttle) okLocked(domain string) bool {
	last, ok := t.last[domain]
	if !ok {
		return true
	}
	return t.now().Sub(last) >= t.cooldown
}
