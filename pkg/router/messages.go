package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/consentcompanion/policywatch/pkg/tabstatus"
	"github.com/consentcompanion/policywatch/pkg/watchlist"
)

// ErrUnknownKind is returned for a message whose type tag is not one of Kinds.
var ErrUnknownKind = errors.New("unknown message type")

// Kind is the type tag of an inbound message.
type Kind string

const (
	KindReportHost  Kind = "report-host"
	KindCheckNow    Kind = "check-now"
	KindWatchAdd    Kind = "watch-add"
	KindWatchRemove Kind = "watch-remove"
	KindWatchStatus Kind = "watch-status"
	KindWatchList   Kind = "watch-list"
	KindTabResult   Kind = "tab-result"
	KindSetAPIBase  Kind = "set-api-base"
	KindGetAPIBase  Kind = "get-api-base"
)

// Kinds is the closed set of message kinds. A router refuses to start
// unless each of them has a handler.
var Kinds = []Kind{
	KindReportHost, KindCheckNow,
	KindWatchAdd, KindWatchRemove, KindWatchStatus, KindWatchList,
	KindTabResult, KindSetAPIBase, KindGetAPIBase,
}

// Request is implemented by every message type below and nothing else.
type Request interface {
	Kind() Kind
	request()
}

// ReportHost comes from the content script of a tab.
type ReportHost struct {
	Hostname string `json:"hostname"`
}

// CheckNow forces a re-check of a tab.
type CheckNow struct {
	TabID int `json:"tab_id"`
}

type WatchAdd struct {
	ServiceID  string `json:"service_id"`
	DocType    string `json:"doc_type"`
	Name       string `json:"name,omitempty"`
	LastDiffAt string `json:"last_diff_at,omitempty"`
}

type WatchRemove struct {
	ServiceID string `json:"service_id"`
	DocType   string `json:"doc_type"`
}

type WatchStatus struct {
	ServiceID string `json:"service_id"`
	DocType   string `json:"doc_type"`
}

type WatchList struct{}

// TabResultQuery asks for the stored result of a tab.
type TabResultQuery struct {
	TabID int `json:"tab_id"`
}

// SetAPIBase stores the API base override. An empty URL clears it.
type SetAPIBase struct {
	URL string `json:"url"`
}

type GetAPIBase struct{}

func (ReportHost) Kind() Kind     { return KindReportHost }
func (CheckNow) Kind() Kind       { return KindCheckNow }
func (WatchAdd) Kind() Kind       { return KindWatchAdd }
func (WatchRemove) Kind() Kind    { return KindWatchRemove }
func (WatchStatus) Kind() Kind    { return KindWatchStatus }
func (WatchList) Kind() Kind      { return KindWatchList }
func (TabResultQuery) Kind() Kind { return KindTabResult }
func (SetAPIBase) Kind() Kind     { return KindSetAPIBase }
func (GetAPIBase) Kind() Kind     { return KindGetAPIBase }

func (ReportHost) request()     {}
func (CheckNow) request()       {}
func (WatchAdd) request()       {}
func (WatchRemove) request()    {}
func (WatchStatus) request()    {}
func (WatchList) request()      {}
func (TabResultQuery) request() {}
func (SetAPIBase) request()     {}
func (GetAPIBase) request()     {}

// Sender describes where a message came from.
type Sender struct {
	TabID  int
	HasTab bool
}

// Response is the structured reply every handler produces.
type Response struct {
	OK      bool                 `json:"ok"`
	Error   string               `json:"error,omitempty"`
	Watched *bool                `json:"watched,omitempty"`
	Result  *tabstatus.TabResult `json:"result,omitempty"`
	Entries []watchlist.Entry    `json:"entries,omitempty"`
	APIBase string               `json:"api_base,omitempty"`
}

// Fail builds an ok:false response.
func Fail(err error) Response { return Response{Error: err.Error()} }

// Decode parses a JSON message. The "type" field selects the variant.
func Decode(data []byte) (Request, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid message: not JSON")
	}
	tag := gjson.GetBytes(data, "type")
	if !tag.Exists() || tag.Type != gjson.String {
		return nil, fmt.Errorf("invalid message: missing type")
	}

	var req Request
	switch Kind(tag.String()) {
	case KindReportHost:
		req = &ReportHost{}
	case KindCheckNow:
		req = &CheckNow{}
	case KindWatchAdd:
		req = &WatchAdd{}
	case KindWatchRemove:
		req = &WatchRemove{}
	case KindWatchStatus:
		req = &WatchStatus{}
	case KindWatchList:
		return WatchList{}, nil
	case KindTabResult:
		req = &TabResultQuery{}
	case KindSetAPIBase:
		req = &SetAPIBase{}
	case KindGetAPIBase:
		return GetAPIBase{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, tag.String())
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", tag.String(), err)
	}
	return deref(req), nil
}

func deref(req Request) Request {
	switch r := req.(type) {
	case *ReportHost:
		return *r
	case *CheckNow:
		return *r
	case *WatchAdd:
		return *r
	case *WatchRemove:
		return *r
	case *WatchStatus:
		return *r
	case *TabResultQuery:
		return *r
	case *SetAPIBase:
		return *r
	}
	return req
}

// Encode renders req as a tagged JSON message that Decode accepts.
func Encode(req Request) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil message")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(req.Kind())
	fields["type"] = tag
	return json.Marshal(fields)
}
