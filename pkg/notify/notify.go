// Package notify turns watchlist hits into user notifications and remembers
// where a click on each of them should lead.
package notify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/badge"
	"github.com/consentcompanion/policywatch/pkg/host"
)

const (
	TitleImportant = "Important policy change"
	TitleUpdate    = "Policy update"

	idPrefix      = "policywatch"
	maxSummaryLen = 180
)

// Notification ids may only contain these characters.
var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type Config struct {
	Notifier host.Notifier
	Tabs     host.Tabs
	// Base yields the API base used to absolutize relative detail URLs.
	Base backend.BaseFunc
	Now  func() time.Time
	Log  logrus.FieldLogger
}

// Dispatcher owns the notification id to destination URL map.
type Dispatcher struct {
	notifier host.Notifier
	tabs     host.Tabs
	base     backend.BaseFunc
	now      func() time.Time
	log      logrus.FieldLogger
	strip    *bluemonday.Policy

	mu    sync.Mutex
	seq   uint64
	links map[string]string
}

func New(cfg Config) *Dispatcher {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Base == nil {
		cfg.Base = backend.StaticBase(backend.DefaultBaseURL)
	}
	return &Dispatcher{
		notifier: cfg.Notifier,
		tabs:     cfg.Tabs,
		base:     cfg.Base,
		now:      cfg.Now,
		log:      utils.OrDiscard(cfg.Log),
		strip:    bluemonday.StrictPolicy(),
		links:    make(map[string]string),
	}
}

// NotifyUpdate shows a notification for hit and returns its id. A detail
// URL that cannot be resolved only costs the click target.
func (d *Dispatcher) NotifyUpdate(ctx context.Context, hit backend.Hit) (string, error) {
	id := d.nextID(hit)
	log := d.log.WithFields(logrus.Fields{
		"notification": id,
		"service_id":   hit.ServiceID,
		"doc_type":     hit.DocType,
	})

	if hit.DetailURL != "" {
		link, err := backend.ResolveURL(strings.TrimRight(d.base(ctx), "/"), hit.DetailURL)
		if err != nil {
			log.WithError(err).Debug("Could not resolve detail URL")
		} else {
			d.mu.Lock()
			d.links[id] = link
			d.mu.Unlock()
		}
	}

	if err := d.notifier.Notify(ctx, id, d.Build(hit)); err != nil {
		d.OnClose(id)
		return "", fmt.Errorf("notify %s: %w", hit.Key(), err)
	}
	log.Info("Notified policy update")
	return id, nil
}

// Build renders the notification for hit.
func (d *Dispatcher) Build(hit backend.Hit) host.Notification {
	n := host.Notification{Title: TitleUpdate, Priority: host.PriorityDefault}
	if badge.Normalize(hit.Status) == badge.StatusImportant {
		n.Title = TitleImportant
		n.Priority = host.PriorityHigh
	}

	name := strings.TrimSpace(hit.Name)
	if name == "" {
		name = hit.ServiceID
	}
	first := name
	if doc := docLabel(hit.DocType); doc != "" {
		first += " · " + doc
	}

	summary := d.plain(hit.Summary)
	if summary == "" {
		summary = "The document changed since you last looked."
	}
	n.Message = first + "\n" + summary
	return n
}

// OnClick opens the destination recorded for id, if any, and forgets it.
func (d *Dispatcher) OnClick(ctx context.Context, id string) bool {
	d.mu.Lock()
	link, ok := d.links[id]
	delete(d.links, id)
	d.mu.Unlock()
	if !ok {
		return false
	}
	if err := d.tabs.Open(ctx, link); err != nil {
		d.log.WithField("notification", id).WithError(err).Warn("Could not open notification link")
		return false
	}
	return true
}

// OnClose forgets id.
func (d *Dispatcher) OnClose(id string) {
	d.mu.Lock()
	delete(d.links, id)
	d.mu.Unlock()
}

// Link returns the destination recorded for id.
func (d *Dispatcher) Link(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	link, ok := d.links[id]
	return link, ok
}

// Pending returns the number of recorded links.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.links)
}

func (d *Dispatcher) nextID(hit backend.Hit) string {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	raw := strings.Join([]string{
		idPrefix, hit.ServiceID, hit.DocType,
		strconv.FormatInt(d.now().UnixMilli(), 10),
		strconv.FormatUint(seq, 10),
	}, "-")
	return idUnsafe.ReplaceAllString(raw, "_")
}

// plain strips markup and collapses whitespace.
func (d *Dispatcher) plain(s string) string {
	s = html.UnescapeString(d.strip.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxSummaryLen {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:maxSummaryLen-1])) + "…"
	}
	return s
}

func docLabel(docType string) string {
	return strings.TrimSpace(strings.ReplaceAll(docType, "_", " "))
}
