// Package watchlist persists the user's watched policy documents and the
// last change already surfaced for each of them.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/host"
)

// Storage keys.
const (
	KeyWatchlist = "watchlist" // sync tier
	KeySeenMap   = "seen_map"  // local tier
)

// ErrInvalidTarget is returned when service_id or doc_type is missing.
var ErrInvalidTarget = errors.New("missing service_id or doc_type")

// Entry is one watched (service, document type) pair.
type Entry struct {
	ServiceID string `json:"service_id"`
	DocType   string `json:"doc_type"`
	Name      string `json:"name"`
}

// Key returns the "<service_id>:<doc_type>" identity.
func (e Entry) Key() string { return backend.Key(e.ServiceID, e.DocType) }

// Target converts the entry to its wire form.
func (e Entry) Target() backend.Target {
	return backend.Target{ServiceID: e.ServiceID, DocType: e.DocType, Name: e.Name}
}

// Store reads and writes the watchlist (sync tier) and the seen baselines
// (local tier). Every operation re-reads storage before writing; the mutex
// keeps two read-modify-write sequences of this process from interleaving.
type Store struct {
	sync  host.Area
	local host.Area
	now   func() time.Time
	log   logrus.FieldLogger

	mu sync.Mutex
}

func New(syncArea, localArea host.Area, now func() time.Time, log logrus.FieldLogger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{sync: syncArea, local: localArea, now: now, log: utils.OrDiscard(log)}
}

// List returns the watched entries in insertion order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return s.list(ctx)
}

// Add watches e. Adding an already watched key is a no-op for the list. The
// seen baseline for the key is set to baseline (now when empty) only if no
// baseline exists yet, so history missed before watching is never replayed
// and re-watching never rewinds what the user already saw.
func (s *Store) Add(ctx context.Context, e Entry, baseline string) error {
	e.ServiceID = strings.TrimSpace(e.ServiceID)
	e.DocType = strings.TrimSpace(e.DocType)
	e.Name = strings.TrimSpace(e.Name)
	if e.ServiceID == "" || e.DocType == "" {
		return ErrInvalidTarget
	}
	if e.Name == "" {
		e.Name = e.Key()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.list(ctx)
	if err != nil {
		return err
	}
	if indexOf(entries, e.ServiceID, e.DocType) < 0 {
		entries = append(entries, e)
		if err := s.sync.Set(ctx, KeyWatchlist, entries); err != nil {
			return fmt.Errorf("save watchlist: %w", err)
		}
		s.log.WithFields(logrus.Fields{"service_id": e.ServiceID, "doc_type": e.DocType}).Info("Watching target")
	}

	seen, err := s.seen(ctx)
	if err != nil {
		return err
	}
	if _, ok := seen[e.Key()]; ok {
		return nil
	}
	if strings.TrimSpace(baseline) == "" {
		baseline = Timestamp(s.now())
	}
	seen[e.Key()] = baseline
	if err := s.local.Set(ctx, KeySeenMap, seen); err != nil {
		return fmt.Errorf("save seen map: %w", err)
	}
	return nil
}

// Remove unwatches the pair. The seen baseline is left in place.
func (s *Store) Remove(ctx context.Context, serviceID, docType string) error {
	serviceID, docType = strings.TrimSpace(serviceID), strings.TrimSpace(docType)
	if serviceID == "" || docType == "" {
		return ErrInvalidTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.list(ctx)
	if err != nil {
		return err
	}
	i := indexOf(entries, serviceID, docType)
	if i < 0 {
		return nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	if err := s.sync.Set(ctx, KeyWatchlist, entries); err != nil {
		return fmt.Errorf("save watchlist: %w", err)
	}
	s.log.WithFields(logrus.Fields{"service_id": serviceID, "doc_type": docType}).Info("Stopped watching target")
	return nil
}

// IsWatched reports whether the pair is on the watchlist.
func (s *Store) IsWatched(ctx context.Context, serviceID, docType string) (bool, error) {
	serviceID, docType = strings.TrimSpace(serviceID), strings.TrimSpace(docType)
	if serviceID == "" || docType == "" {
		return false, ErrInvalidTarget
	}
	entries, err := s.list(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(entries, serviceID, docType) >= 0, nil
}

// Seen returns a copy of the seen-baseline map.
func (s *Store) Seen(ctx context.Context) (map[string]string, error) {
	return s.seen(ctx)
}

// AdvanceSeen merges updates into the freshly read seen map with a single
// write. A key only ever moves forward in time. It returns the stored map.
func (s *Store) AdvanceSeen(ctx context.Context, updates map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, err := s.seen(ctx)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return seen, nil
	}
	for k, v := range updates {
		seen[k] = advance(seen[k], v)
	}
	if err := s.local.Set(ctx, KeySeenMap, seen); err != nil {
		return nil, fmt.Errorf("save seen map: %w", err)
	}
	return seen, nil
}

func (s *Store) list(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if _, err := s.sync.Get(ctx, KeyWatchlist, &entries); err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	return entries, nil
}

func (s *Store) seen(ctx context.Context) (map[string]string, error) {
	seen := map[string]string{}
	if _, err := s.local.Get(ctx, KeySeenMap, &seen); err != nil {
		return nil, fmt.Errorf("load seen map: %w", err)
	}
	if seen == nil {
		seen = map[string]string{}
	}
	return seen, nil
}

func indexOf(entries []Entry, serviceID, docType string) int {
	for i, e := range entries {
		if e.ServiceID == serviceID && e.DocType == docType {
			return i
		}
	}
	return -1
}
