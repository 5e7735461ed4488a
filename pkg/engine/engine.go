// Package engine wires the monitoring components to a host and exposes the
// entry points the host calls on tab, alarm, notification and message
// events. None of them returns an unhandled failure to the host.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/debounce"
	"github.com/consentcompanion/policywatch/pkg/host"
	"github.com/consentcompanion/policywatch/pkg/notify"
	"github.com/consentcompanion/policywatch/pkg/polling"
	"github.com/consentcompanion/policywatch/pkg/router"
	"github.com/consentcompanion/policywatch/pkg/tabstatus"
	"github.com/consentcompanion/policywatch/pkg/throttle"
	"github.com/consentcompanion/policywatch/pkg/watchlist"
)

// Engine owns every piece of ephemeral state: domain cooldowns, pending
// tab timers and notification links. Losing it only makes the next check
// more eager.
type Engine struct {
	cfg  Config
	host host.Host
	log  logrus.FieldLogger

	// Debounced actions outlive the event that scheduled them.
	ctx    context.Context
	cancel context.CancelFunc

	client     *backend.Client
	throttle   *throttle.Throttle
	debouncer  *debounce.Debouncer
	tracker    *tabstatus.Tracker
	store      *watchlist.Store
	dispatcher *notify.Dispatcher
	scheduler  *polling.Scheduler
	router     *router.Router
}

// New builds an engine on top of h. Every capability of h must be set.
func New(h host.Host, cfg Config) (*Engine, error) {
	if err := validateHost(h); err != nil {
		return nil, err
	}
	cfg.defaults()
	log := utils.OrDiscard(cfg.Log)

	e := &Engine{cfg: cfg, host: h, log: log}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.client = backend.New(e.baseURL, backend.Options{
		Timeout:  cfg.APITimeout,
		RetryMax: cfg.APIRetries,
		Log:      log.WithField("component", "backend"),
	})
	e.throttle = throttle.New(cfg.Cooldown, cfg.Now)
	e.debouncer = debounce.New(log.WithField("component", "debounce"))
	e.tracker = tabstatus.New(tabstatus.Config{
		Checker:  e.client,
		Throttle: e.throttle,
		Session:  h.Session,
		Badges:   h.Badges,
		Tabs:     h.Tabs,
		Now:      cfg.Now,
		Log:      log.WithField("component", "tabstatus"),
	})
	e.store = watchlist.New(h.Sync, h.Local, cfg.Now, log.WithField("component", "watchlist"))
	e.dispatcher = notify.New(notify.Config{
		Notifier: h.Notifications,
		Tabs:     h.Tabs,
		Base:     e.client.Base,
		Now:      cfg.Now,
		Log:      log.WithField("component", "notify"),
	})
	e.scheduler = polling.New(polling.Config{
		Updater:   e.client,
		Store:     e.store,
		Notifier:  e.dispatcher,
		Alarms:    h.Alarms,
		AlarmName: cfg.AlarmName,
		Period:    cfg.PollPeriod,
		Now:       cfg.Now,
		Log:       log.WithField("component", "polling"),
	})

	r, err := router.New(router.Handlers(e.tracker, e.store, e), log.WithField("component", "router"))
	if err != nil {
		return nil, err
	}
	e.router = r
	return e, nil
}

func validateHost(h host.Host) error {
	var missing []string
	if h.Badges == nil {
		missing = append(missing, "badges")
	}
	if h.Tabs == nil {
		missing = append(missing, "tabs")
	}
	if h.Notifications == nil {
		missing = append(missing, "notifications")
	}
	if h.Alarms == nil {
		missing = append(missing, "alarms")
	}
	if h.Session == nil || h.Sync == nil || h.Local == nil {
		missing = append(missing, "storage")
	}
	if len(missing) > 0 {
		return fmt.Errorf("host is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Close cancels pending tab timers and in-flight debounced checks.
func (e *Engine) Close() {
	e.debouncer.Stop()
	e.cancel()
}

func (e *Engine) Client() *backend.Client           { return e.client }
func (e *Engine) Tracker() *tabstatus.Tracker       { return e.tracker }
func (e *Engine) Watchlist() *watchlist.Store       { return e.store }
func (e *Engine) Notifications() *notify.Dispatcher { return e.dispatcher }
func (e *Engine) Scheduler() *polling.Scheduler     { return e.scheduler }

// APIBase returns the stored override, or the configured base.
func (e *Engine) APIBase(ctx context.Context) (string, error) {
	var base string
	ok, err := e.host.Sync.Get(ctx, KeyAPIBase, &base)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", KeyAPIBase, err)
	}
	if !ok || strings.TrimSpace(base) == "" {
		return e.cfg.APIBase, nil
	}
	return base, nil
}

// SetAPIBase stores the override; an empty base removes it.
func (e *Engine) SetAPIBase(ctx context.Context, base string) error {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return e.host.Sync.Remove(ctx, KeyAPIBase)
	}
	return e.host.Sync.Set(ctx, KeyAPIBase, base)
}

func (e *Engine) baseURL(ctx context.Context) string {
	base, err := e.APIBase(ctx)
	if err != nil {
		e.log.WithError(err).Debug("Falling back to configured API base")
		return e.cfg.APIBase
	}
	return base
}

// OnTabActivated checks the newly focused tab once it settles.
func (e *Engine) OnTabActivated(ctx context.Context, tabID int) {
	e.scheduleCheck(tabID)
}

// OnTabUpdated checks a tab whose navigation completed. Intermediate
// loading events are ignored.
func (e *Engine) OnTabUpdated(ctx context.Context, tabID int, complete bool) {
	if !complete {
		return
	}
	e.scheduleCheck(tabID)
}

func (e *Engine) scheduleCheck(tabID int) {
	e.debouncer.Schedule(tabID, func() {
		e.tracker.CheckTabByID(e.ctx, tabID, tabstatus.CheckOptions{})
	}, e.cfg.DebounceDelay)
}

// OnTabRemoved drops everything known about a closed tab.
func (e *Engine) OnTabRemoved(ctx context.Context, tabID int) {
	e.debouncer.Cancel(tabID)
	e.tracker.Forget(ctx, tabID)
}

// OnStartup runs when the host process (re)starts.
func (e *Engine) OnStartup(ctx context.Context) {
	e.start(ctx, "startup")
}

// OnInstalled runs when the engine is installed or upgraded.
func (e *Engine) OnInstalled(ctx context.Context) {
	e.start(ctx, "install")
}

func (e *Engine) start(ctx context.Context, reason string) {
	log := e.log.WithField("reason", reason)
	if err := e.scheduler.EnsureAlarm(ctx); err != nil {
		log.WithError(err).Warn("Could not schedule watchlist polling")
	}
	if err := e.client.Ping(ctx); err != nil {
		log.WithError(err).Warn("Backend is not reachable")
		return
	}
	log.Debug("Backend is reachable")
}

// OnAlarm runs the watchlist poll when the polling alarm fires. It reports
// whether a poll ran.
func (e *Engine) OnAlarm(ctx context.Context, name string) bool {
	if name != e.scheduler.AlarmName() {
		e.log.WithField("alarm", name).Debug("Ignoring unknown alarm")
		return false
	}
	return e.scheduler.OnFire(ctx)
}

// PollNow runs one watchlist poll and returns its outcome.
func (e *Engine) PollNow(ctx context.Context) (*polling.Result, error) {
	return e.scheduler.PollWatchlistOnce(ctx)
}

// OnNotificationClicked follows the link of a notification.
func (e *Engine) OnNotificationClicked(ctx context.Context, id string) bool {
	return e.dispatcher.OnClick(ctx, id)
}

// OnNotificationClosed forgets the link of a notification.
func (e *Engine) OnNotificationClosed(ctx context.Context, id string) {
	e.dispatcher.OnClose(id)
}

// HandleMessage serves a JSON message synchronously.
func (e *Engine) HandleMessage(ctx context.Context, data []byte, sender router.Sender) router.Response {
	return e.router.HandleJSON(ctx, data, sender)
}

// Handle serves a decoded message synchronously.
func (e *Engine) Handle(ctx context.Context, req router.Request, sender router.Sender) router.Response {
	return e.router.Handle(ctx, req, sender)
}

// Dispatch serves req in the background; see router.Router.Dispatch.
func (e *Engine) Dispatch(ctx context.Context, req router.Request, sender router.Sender, reply func(router.Response)) bool {
	return e.router.Dispatch(ctx, req, sender, reply)
}

// ErrNoResult is returned by CheckDomain when the domain cannot be checked.
var ErrNoResult = errors.New("domain is excluded from checks")

// CheckDomain asks the backend about domain outside of any tab. No tab
// state, badge or cooldown is touched.
func (e *Engine) CheckDomain(ctx context.Context, domain string) (*tabstatus.TabResult, error) {
	res, ok := e.tracker.Lookup(ctx, domain)
	if !ok {
		return nil, ErrNoResult
	}
	return res, nil
}
