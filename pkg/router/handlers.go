package router

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/consentcompanion/policywatch/pkg/tabstatus"
	"github.com/consentcompanion/policywatch/pkg/watchlist"
)

// Tracker is the tab status surface the handlers use.
type Tracker interface {
	CheckDomainForTab(ctx context.Context, domain string, tabID int, opts tabstatus.CheckOptions) *tabstatus.TabResult
	CheckTabByID(ctx context.Context, tabID int, opts tabstatus.CheckOptions) *tabstatus.TabResult
	Result(ctx context.Context, tabID int) (*tabstatus.TabResult, bool, error)
}

// Watchlist is the watchlist surface the handlers use.
type Watchlist interface {
	List(ctx context.Context) ([]watchlist.Entry, error)
	Add(ctx context.Context, e watchlist.Entry, baseline string) error
	Remove(ctx context.Context, serviceID, docType string) error
	IsWatched(ctx context.Context, serviceID, docType string) (bool, error)
}

// Settings manages the API base override.
type Settings interface {
	APIBase(ctx context.Context) (string, error)
	SetAPIBase(ctx context.Context, base string) error
}

var errNoSenderTab = errors.New("message has no sender tab")

// Handlers returns a handler for every kind.
func Handlers(t Tracker, w Watchlist, s Settings) map[Kind]Handler {
	return map[Kind]Handler{
		KindReportHost: func(ctx context.Context, req Request, sender Sender) Response {
			m := req.(ReportHost)
			if !sender.HasTab {
				return Fail(errNoSenderTab)
			}
			res := t.CheckDomainForTab(ctx, m.Hostname, sender.TabID, tabstatus.CheckOptions{})
			return Response{OK: true, Result: res}
		},
		KindCheckNow: func(ctx context.Context, req Request, sender Sender) Response {
			m := req.(CheckNow)
			tabID := m.TabID
			if tabID <= 0 && sender.HasTab {
				tabID = sender.TabID
			}
			if tabID <= 0 {
				return Fail(errors.New("missing tab_id"))
			}
			res := t.CheckTabByID(ctx, tabID, tabstatus.CheckOptions{Force: true})
			return Response{OK: true, Result: res}
		},
		KindWatchAdd: func(ctx context.Context, req Request, _ Sender) Response {
			m := req.(WatchAdd)
			e := watchlist.Entry{ServiceID: m.ServiceID, DocType: m.DocType, Name: m.Name}
			if err := w.Add(ctx, e, m.LastDiffAt); err != nil {
				return Fail(err)
			}
			return Response{OK: true, Watched: watched(true)}
		},
		KindWatchRemove: func(ctx context.Context, req Request, _ Sender) Response {
			m := req.(WatchRemove)
			if err := w.Remove(ctx, m.ServiceID, m.DocType); err != nil {
				return Fail(err)
			}
			return Response{OK: true, Watched: watched(false)}
		},
		KindWatchStatus: func(ctx context.Context, req Request, _ Sender) Response {
			m := req.(WatchStatus)
			ok, err := w.IsWatched(ctx, m.ServiceID, m.DocType)
			if err != nil {
				return Fail(err)
			}
			return Response{OK: true, Watched: watched(ok)}
		},
		KindWatchList: func(ctx context.Context, _ Request, _ Sender) Response {
			entries, err := w.List(ctx)
			if err != nil {
				return Fail(err)
			}
			if entries == nil {
				entries = []watchlist.Entry{}
			}
			return Response{OK: true, Entries: entries}
		},
		KindTabResult: func(ctx context.Context, req Request, sender Sender) Response {
			m := req.(TabResultQuery)
			tabID := m.TabID
			if tabID <= 0 && sender.HasTab {
				tabID = sender.TabID
			}
			if tabID <= 0 {
				return Fail(errors.New("missing tab_id"))
			}
			res, _, err := t.Result(ctx, tabID)
			if err != nil {
				return Fail(err)
			}
			return Response{OK: true, Result: res}
		},
		KindSetAPIBase: func(ctx context.Context, req Request, _ Sender) Response {
			m := req.(SetAPIBase)
			base := strings.TrimRight(strings.TrimSpace(m.URL), "/")
			if base != "" {
				if err := validBase(base); err != nil {
					return Fail(err)
				}
			}
			if err := s.SetAPIBase(ctx, base); err != nil {
				return Fail(err)
			}
			current, err := s.APIBase(ctx)
			if err != nil {
				return Fail(err)
			}
			return Response{OK: true, APIBase: current}
		},
		KindGetAPIBase: func(ctx context.Context, _ Request, _ Sender) Response {
			current, err := s.APIBase(ctx)
			if err != nil {
				return Fail(err)
			}
			return Response{OK: true, APIBase: current}
		},
	}
}

func watched(v bool) *bool { return &v }

func validBase(base string) error {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid API base URL %q", base)
	}
	return nil
}
