// Package tabstatus resolves and remembers, per tab, whether the policy of
// the site shown in that tab changed.
package tabstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/badge"
	"github.com/consentcompanion/policywatch/pkg/host"
	"github.com/consentcompanion/policywatch/pkg/throttle"
)

// MisconfiguredMessage is stored when the backend answers 404.
const MisconfiguredMessage = "Backend endpoint /extension/check was not found (HTTP 404). The API base URL is probably misconfigured."

// TabResult is the stored outcome of the last check of a tab. It is
// overwritten by every check, never merged.
type TabResult struct {
	OK        bool            `json:"ok"`
	Domain    string          `json:"domain"`
	Site      string          `json:"site,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Status    string          `json:"status,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Actions   json.RawMessage `json:"actions,omitempty"`
	ServiceID string          `json:"service_id,omitempty"`
	DocType   string          `json:"doc_type,omitempty"`
	DetailURL string          `json:"detail_url,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Badge derives the indicator for r.
func (r *TabResult) Badge() host.Badge {
	if r == nil || !r.OK {
		return badge.For(string(badge.StatusUnknown))
	}
	return badge.For(r.Status)
}

// State is the per-tab lifecycle.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateOK
	StateError
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateOK:
		return "ok"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Checker is the backend call the tracker depends on.
type Checker interface {
	Check(ctx context.Context, domain string) (*backend.CheckResult, error)
}

// CheckOptions tunes a single check.
type CheckOptions struct {
	// Force bypasses the domain cooldown.
	Force bool
}

type Config struct {
	Checker  Checker
	Throttle *throttle.Throttle
	Session  host.Area
	Badges   host.Badger
	Tabs     host.Tabs
	Now      func() time.Time
	Log      logrus.FieldLogger
}

type Tracker struct {
	checker  Checker
	throttle *throttle.Throttle
	session  host.Area
	badges   host.Badger
	tabs     host.Tabs
	now      func() time.Time
	log      logrus.FieldLogger

	mu     sync.Mutex
	states map[int]State
	gens   map[int]uint64
}

func New(cfg Config) *Tracker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Throttle == nil {
		cfg.Throttle = throttle.New(0, cfg.Now)
	}
	return &Tracker{
		checker:  cfg.Checker,
		throttle: cfg.Throttle,
		session:  cfg.Session,
		badges:   cfg.Badges,
		tabs:     cfg.Tabs,
		now:      cfg.Now,
		log:      utils.OrDiscard(cfg.Log),
		states:   make(map[int]State),
		gens:     make(map[int]uint64),
	}
}

// ResultKey is the session storage key of a tab's result.
func ResultKey(tabID int) string { return "tab_result:" + strconv.Itoa(tabID) }

// CheckDomainForTab checks domain on behalf of tabID, stores the result and
// paints the badge. It returns the result now associated with the tab, or
// nil when the domain was skipped or nothing is stored yet.
func (t *Tracker) CheckDomainForTab(ctx context.Context, domain string, tabID int, opts CheckOptions) *TabResult {
	domain = NormalizeHost(domain)
	if IsExcluded(domain) {
		return nil
	}
	log := t.log.WithFields(logrus.Fields{"tab": tabID, "domain": domain})

	if opts.Force {
		t.throttle.MarkFetched(domain)
	} else if !t.throttle.Reserve(domain) {
		// Cooling down: keep the badge the tab already has.
		log.Debug("Domain on cooldown, reusing stored result")
		prev, ok, err := t.Result(ctx, tabID)
		if err != nil {
			log.WithError(err).Warn("Could not load stored result")
			return nil
		}
		if !ok {
			return nil
		}
		t.paint(ctx, tabID, prev.Badge())
		return prev
	}

	gen := t.begin(tabID)
	res := t.fetch(ctx, domain)

	if !res.OK && ctx.Err() != nil {
		// Nothing was learned about the domain: let the next check through.
		t.throttle.Forget(domain)
		t.abandon(tabID, gen)
		log.Debug("Check cancelled")
		return nil
	}
	if !t.finish(tabID, gen, res.OK) {
		log.Debug("Dropping result superseded by a newer check")
		return res
	}
	if err := t.session.Set(ctx, ResultKey(tabID), res); err != nil {
		log.WithError(err).Warn("Could not store tab result")
	}
	t.paint(ctx, tabID, res.Badge())

	if res.OK {
		log.WithField("status", res.Status).Debug("Checked domain")
	} else {
		log.WithField("error", res.Error).Info("Domain check failed")
	}
	return res
}

// CheckTabByID resolves the URL of tabID and checks its domain. Missing
// tabs and non-web URLs are skipped silently.
func (t *Tracker) CheckTabByID(ctx context.Context, tabID int, opts CheckOptions) *TabResult {
	raw, err := t.tabs.URL(ctx, tabID)
	if err != nil {
		if !errors.Is(err, host.ErrNoTab) {
			t.log.WithField("tab", tabID).WithError(err).Debug("Could not resolve tab URL")
		}
		return nil
	}
	domain, ok := DomainFromURL(raw)
	if !ok {
		return nil
	}
	return t.CheckDomainForTab(ctx, domain, tabID, opts)
}

// Lookup fetches the status of domain without touching any tab: no
// cooldown, no stored result, no badge. ok is false for excluded domains.
func (t *Tracker) Lookup(ctx context.Context, domain string) (res *TabResult, ok bool) {
	domain = NormalizeHost(domain)
	if IsExcluded(domain) {
		return nil, false
	}
	return t.fetch(ctx, domain), true
}

// Result returns the stored result of tabID.
func (t *Tracker) Result(ctx context.Context, tabID int) (*TabResult, bool, error) {
	var r TabResult
	ok, err := t.session.Get(ctx, ResultKey(tabID), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

// State returns the lifecycle state of tabID.
func (t *Tracker) State(tabID int) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[tabID]
}

// Forget drops everything known about a closed tab.
func (t *Tracker) Forget(ctx context.Context, tabID int) {
	t.mu.Lock()
	delete(t.states, tabID)
	// Bumping the generation makes any in-flight check for the tab stale.
	t.gens[tabID]++
	t.mu.Unlock()

	if err := t.session.Remove(ctx, ResultKey(tabID)); err != nil {
		t.log.WithField("tab", tabID).WithError(err).Debug("Could not remove tab result")
	}
}

func (t *Tracker) fetch(ctx context.Context, domain string) *TabResult {
	res := &TabResult{Domain: domain, Site: Site(domain)}

	payload, err := t.checker.Check(ctx, domain)
	res.FetchedAt = t.now().UTC()
	if err != nil {
		res.Error = describe(err)
		return res
	}

	res.OK = true
	res.Status = payload.Status
	if res.Status == "" {
		res.Status = string(badge.StatusUnknown)
	}
	res.Summary = payload.Summary
	res.Changes = payload.Changes
	res.Actions = payload.Actions
	res.ServiceID = payload.ServiceID
	res.DocType = payload.DocType
	res.DetailURL = payload.DetailURL
	return res
}

func (t *Tracker) begin(tabID int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gens[tabID]++
	t.states[tabID] = StateChecking
	return t.gens[tabID]
}

// abandon resets a check that ended without an outcome, unless a newer
// check of the tab has started.
func (t *Tracker) abandon(tabID int, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[tabID] == gen {
		delete(t.states, tabID)
	}
}

// finish records the outcome of check gen and reports whether it is still
// the latest check of the tab.
func (t *Tracker) finish(tabID int, gen uint64, ok bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[tabID] != gen {
		return false
	}
	if ok {
		t.states[tabID] = StateOK
	} else {
		t.states[tabID] = StateError
	}
	return true
}

func (t *Tracker) paint(ctx context.Context, tabID int, b host.Badge) {
	if t.badges == nil {
		return
	}
	if err := t.badges.SetBadge(ctx, tabID, b); err != nil {
		t.log.WithField("tab", tabID).WithError(err).Debug("Could not set badge")
	}
}

func describe(err error) string {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrMisconfigured):
		return MisconfiguredMessage
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, backend.ErrMalformed):
		return "Backend returned a malformed response."
	}
	return fmt.Sprintf("Network error: %v", err)
}
