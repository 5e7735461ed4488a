// Package polling runs the periodic watchlist check and keeps exactly one
// host alarm alive to drive it.
package polling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/host"
	"github.com/consentcompanion/policywatch/pkg/watchlist"
)

const (
	DefaultAlarmName = "policywatch-poll"
	DefaultPeriod    = 30 * time.Minute
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Updater asks the backend which targets changed since their baseline.
type Updater interface {
	Updates(ctx context.Context, req backend.UpdatesRequest) ([]backend.Hit, error)
}

// Notifier shows one hit to the user.
type Notifier interface {
	NotifyUpdate(ctx context.Context, hit backend.Hit) (string, error)
}

// Store is the part of the watchlist store a poll reads and advances.
type Store interface {
	List(ctx context.Context) ([]watchlist.Entry, error)
	Seen(ctx context.Context) (map[string]string, error)
	AdvanceSeen(ctx context.Context, updates map[string]string) (map[string]string, error)
}

// Config holds everything the scheduler needs.
type Config struct {
	Updater  Updater
	Store    Store
	Notifier Notifier
	Alarms   host.Alarms

	AlarmName   string        // defaults to DefaultAlarmName
	Period      time.Duration // defaults to DefaultPeriod
	Concurrency int           // notification workers, defaults to 4 if <= 0
	Now         func() time.Time
	Log         Logger // optional; nil = no logging

	// OnHitDone is called per hit after its notification was attempted
	// (from worker goroutines). Nil = no callback.
	OnHitDone func(hit backend.Hit, notificationID string, err error)
}

// Result holds the outcome of one poll.
type Result struct {
	Targets  int
	Hits     []backend.Hit
	Notified int
	// Seen is the stored seen-baseline map after the poll.
	Seen   map[string]string
	Errors []error // per-hit notification failures
}

type Scheduler struct {
	cfg Config
	log Logger

	// running serializes polls; a timer firing mid-poll is skipped.
	running sync.Mutex
}

func New(cfg Config) *Scheduler {
	if cfg.AlarmName == "" {
		cfg.AlarmName = DefaultAlarmName
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Scheduler{cfg: cfg, log: log}
}

// AlarmName returns the name of the alarm that drives polling.
func (s *Scheduler) AlarmName() string { return s.cfg.AlarmName }

// EnsureAlarm makes sure exactly one alarm with the configured name and
// period exists. An alarm left over with another period is recreated.
func (s *Scheduler) EnsureAlarm(ctx context.Context) error {
	alarms, err := s.cfg.Alarms.All(ctx)
	if err != nil {
		return fmt.Errorf("list alarms: %w", err)
	}
	for _, a := range alarms {
		if a.Name != s.cfg.AlarmName {
			continue
		}
		if a.Period == s.cfg.Period {
			return nil
		}
		s.log.Infof("Alarm %s has period %s, recreating with %s", a.Name, a.Period, s.cfg.Period)
		if err := s.cfg.Alarms.Clear(ctx, a.Name); err != nil {
			return fmt.Errorf("clear alarm %s: %w", a.Name, err)
		}
		break
	}
	if err := s.cfg.Alarms.Create(ctx, host.Alarm{Name: s.cfg.AlarmName, Period: s.cfg.Period}); err != nil {
		return fmt.Errorf("create alarm %s: %w", s.cfg.AlarmName, err)
	}
	s.log.Debugf("Created alarm %s every %s", s.cfg.AlarmName, s.cfg.Period)
	return nil
}

// OnFire runs one poll unless another is still in flight. It reports
// whether a poll ran. Failures are logged and never returned.
func (s *Scheduler) OnFire(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.log.Debugf("Poll still running, skipping this tick")
		return false
	}
	defer s.running.Unlock()

	res, err := s.poll(ctx)
	if err != nil {
		s.log.Debugf("Watchlist poll aborted: %v", err)
		return true
	}
	if len(res.Hits) > 0 {
		s.log.Infof("Watchlist poll: %d hit(s), %d notified", len(res.Hits), res.Notified)
	}
	return true
}

// PollWatchlistOnce checks every watched target once, notifies each hit and
// advances the baselines of the hits that were notified. An empty watchlist
// makes no network call. A backend failure is returned without any side
// effect.
func (s *Scheduler) PollWatchlistOnce(ctx context.Context) (*Result, error) {
	s.running.Lock()
	defer s.running.Unlock()
	return s.poll(ctx)
}

func (s *Scheduler) poll(ctx context.Context) (*Result, error) {
	result := &Result{}

	entries, err := s.cfg.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	result.Targets = len(entries)
	if len(entries) == 0 {
		return result, nil
	}

	seen, err := s.cfg.Store.Seen(ctx)
	if err != nil {
		return nil, err
	}

	targets := make([]backend.Target, 0, len(entries))
	watched := make(map[string]bool, len(entries))
	for _, e := range entries {
		targets = append(targets, e.Target())
		watched[e.Key()] = true
	}

	hits, err := s.cfg.Updater.Updates(ctx, backend.UpdatesRequest{Targets: targets, SeenMap: seen})
	if err != nil {
		return nil, fmt.Errorf("fetch updates: %w", err)
	}

	// The backend may still know targets that were unwatched meanwhile.
	relevant := hits[:0:0]
	for _, h := range hits {
		if !watched[h.Key()] {
			s.log.Debugf("Ignoring hit for unwatched target %s", h.Key())
			continue
		}
		relevant = append(relevant, h)
	}
	result.Hits = relevant

	updates, errs := s.notifyConcurrently(ctx, relevant)
	result.Notified = len(updates)
	result.Errors = errs

	stored, err := s.cfg.Store.AdvanceSeen(ctx, updates)
	if err != nil {
		return result, fmt.Errorf("save seen map: %w", err)
	}
	result.Seen = stored
	return result, nil
}

// notifyConcurrently dispatches hits using a worker pool and returns the
// baseline of every hit whose notification was shown.
func (s *Scheduler) notifyConcurrently(ctx context.Context, hits []backend.Hit) (map[string]string, []error) {
	updates := make(map[string]string, len(hits))
	if len(hits) == 0 {
		return updates, nil
	}

	hitChan := make(chan backend.Hit, len(hits))

	var mu sync.Mutex
	var allErrors []error

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range hitChan {
				id, err := s.cfg.Notifier.NotifyUpdate(ctx, h)
				if err != nil {
					s.log.Warnf("Could not notify %s: %v", h.Key(), err)
					mu.Lock()
					allErrors = append(allErrors, err)
					mu.Unlock()
				} else {
					baseline := s.baseline(h)
					mu.Lock()
					updates[h.Key()] = later(updates[h.Key()], baseline)
					mu.Unlock()
				}
				if s.cfg.OnHitDone != nil {
					s.cfg.OnHitDone(h, id, err)
				}
			}
		}()
	}

	for _, h := range hits {
		hitChan <- h
	}
	close(hitChan)
	wg.Wait()

	return updates, allErrors
}

// baseline prefers the diff timestamp, then the change timestamp, then now.
func (s *Scheduler) baseline(h backend.Hit) string {
	switch {
	case h.LastDiffAt != "":
		return h.LastDiffAt
	case h.LastChanged != "":
		return h.LastChanged
	}
	return watchlist.Timestamp(s.cfg.Now())
}

// later keeps the later of two baselines for the same key.
func later(a, b string) string {
	if a == "" {
		return b
	}
	ta, oka := watchlist.ParseTimestamp(a)
	tb, okb := watchlist.ParseTimestamp(b)
	if oka && okb && tb.Before(ta) {
		return a
	}
	return b
}
