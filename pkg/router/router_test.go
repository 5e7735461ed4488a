package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentcompanion/policywatch/pkg/storage"
	"github.com/consentcompanion/policywatch/pkg/tabstatus"
	"github.com/consentcompanion/policywatch/pkg/watchlist"
)

type trackerCall struct {
	domain string
	tabID  int
	force  bool
}

type fakeTracker struct {
	mu      sync.Mutex
	calls   []trackerCall
	results map[int]*tabstatus.TabResult
}

func (f *fakeTracker) CheckDomainForTab(_ context.Context, domain string, tabID int, opts tabstatus.CheckOptions) *tabstatus.TabResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trackerCall{domain: domain, tabID: tabID, force: opts.Force})
	return &tabstatus.TabResult{OK: true, Domain: domain, Status: "none"}
}

func (f *fakeTracker) CheckTabByID(_ context.Context, tabID int, opts tabstatus.CheckOptions) *tabstatus.TabResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trackerCall{tabID: tabID, force: opts.Force})
	return &tabstatus.TabResult{OK: true, Domain: "example.com"}
}

func (f *fakeTracker) Result(_ context.Context, tabID int) (*tabstatus.TabResult, bool, error) {
	r, ok := f.results[tabID]
	return r, ok, nil
}

type memSettings struct{ base string }

func (m *memSettings) APIBase(context.Context) (string, error) {
	if m.base == "" {
		return "http://localhost:8000", nil
	}
	return m.base, nil
}

func (m *memSettings) SetAPIBase(_ context.Context, base string) error {
	m.base = base
	return nil
}

func newRouter(t *testing.T) (*Router, *fakeTracker, *watchlist.Store) {
	t.Helper()
	tracker := &fakeTracker{results: map[int]*tabstatus.TabResult{
		7: {OK: false, Domain: "example.com", Error: "Network error: offline"},
	}}
	store := watchlist.New(storage.NewMemory(), storage.NewMemory(), func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}, nil)
	r, err := New(Handlers(tracker, store, &memSettings{}), nil)
	require.NoError(t, err)
	return r, tracker, store
}

func handle(t *testing.T, r *Router, msg string, sender Sender) Response {
	t.Helper()
	return r.HandleJSON(context.Background(), []byte(msg), sender)
}

func TestNew_RequiresEveryKind(t *testing.T) {
	hs := Handlers(&fakeTracker{}, nil, &memSettings{})
	delete(hs, KindWatchList)
	_, err := New(hs, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch-list")

	hs = Handlers(&fakeTracker{}, nil, &memSettings{})
	hs["bogus"] = func(context.Context, Request, Sender) Response { return Response{} }
	_, err = New(hs, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode(t *testing.T) {
	req, err := Decode([]byte(`{"type":"watch-add","service_id":"fb","doc_type":"privacy_policy","name":"Facebook","last_diff_at":"2024-06-01"}`))
	require.NoError(t, err)
	assert.Equal(t, WatchAdd{ServiceID: "fb", DocType: "privacy_policy", Name: "Facebook", LastDiffAt: "2024-06-01"}, req)

	req, err = Decode([]byte(`{"type":"watch-list"}`))
	require.NoError(t, err)
	assert.Equal(t, KindWatchList, req.Kind())

	_, err = Decode([]byte(`{"type":"launch-rockets"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	for _, bad := range []string{`nope`, `{}`, `{"type":3}`, `{"type":"check-now","tab_id":"x"}`} {
		_, err = Decode([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestReportHost(t *testing.T) {
	r, tracker, _ := newRouter(t)

	resp := handle(t, r, `{"type":"report-host","hostname":"www.example.com"}`, Sender{TabID: 3, HasTab: true})
	assert.True(t, resp.OK)
	require.Len(t, tracker.calls, 1)
	assert.Equal(t, trackerCall{domain: "www.example.com", tabID: 3}, tracker.calls[0])

	resp = handle(t, r, `{"type":"report-host","hostname":"example.com"}`, Sender{})
	assert.False(t, resp.OK)
	assert.Len(t, tracker.calls, 1)
}

func TestCheckNow_Forces(t *testing.T) {
	r, tracker, _ := newRouter(t)

	resp := handle(t, r, `{"type":"check-now","tab_id":9}`, Sender{})
	assert.True(t, resp.OK)
	require.Len(t, tracker.calls, 1)
	assert.Equal(t, trackerCall{tabID: 9, force: true}, tracker.calls[0])

	resp = handle(t, r, `{"type":"check-now"}`, Sender{})
	assert.False(t, resp.OK)
	assert.Equal(t, "missing tab_id", resp.Error)
}

func TestWatchLifecycle(t *testing.T) {
	r, _, store := newRouter(t)
	ctx := context.Background()

	resp := handle(t, r, `{"type":"watch-status","service_id":"fb","doc_type":"privacy_policy"}`, Sender{})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Watched)
	assert.False(t, *resp.Watched)

	resp = handle(t, r, `{"type":"watch-add","service_id":"fb","doc_type":"privacy_policy","name":"Facebook","last_diff_at":"2024-01-01"}`, Sender{})
	require.True(t, resp.OK)
	assert.True(t, *resp.Watched)

	resp = handle(t, r, `{"type":"watch-list"}`, Sender{})
	require.True(t, resp.OK)
	assert.Equal(t, []watchlist.Entry{{ServiceID: "fb", DocType: "privacy_policy", Name: "Facebook"}}, resp.Entries)

	resp = handle(t, r, `{"type":"watch-remove","service_id":"fb","doc_type":"privacy_policy"}`, Sender{})
	require.True(t, resp.OK)
	assert.False(t, *resp.Watched)

	seen, err := store.Seen(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", seen["fb:privacy_policy"])
}

func TestWatch_ValidationErrors(t *testing.T) {
	r, _, _ := newRouter(t)
	for _, msg := range []string{
		`{"type":"watch-add","service_id":"fb"}`,
		`{"type":"watch-remove","doc_type":"tos"}`,
		`{"type":"watch-status"}`,
	} {
		resp := handle(t, r, msg, Sender{})
		assert.False(t, resp.OK, msg)
		assert.Equal(t, watchlist.ErrInvalidTarget.Error(), resp.Error, msg)
	}
}

func TestWatchStatus_JSONShape(t *testing.T) {
	r, _, _ := newRouter(t)
	resp := handle(t, r, `{"type":"watch-status","service_id":"a","doc_type":"tos"}`, Sender{})
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"watched":false}`, string(data))
}

func TestTabResult(t *testing.T) {
	r, _, _ := newRouter(t)

	resp := handle(t, r, `{"type":"tab-result","tab_id":7}`, Sender{})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "Network error: offline", resp.Result.Error)

	resp = handle(t, r, `{"type":"tab-result"}`, Sender{TabID: 8, HasTab: true})
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Result)
}

func TestAPIBase(t *testing.T) {
	r, _, _ := newRouter(t)

	resp := handle(t, r, `{"type":"get-api-base"}`, Sender{})
	assert.Equal(t, "http://localhost:8000", resp.APIBase)

	resp = handle(t, r, `{"type":"set-api-base","url":"https://api.example.org/"}`, Sender{})
	require.True(t, resp.OK)
	assert.Equal(t, "https://api.example.org", resp.APIBase)

	resp = handle(t, r, `{"type":"set-api-base","url":"ftp://nope"}`, Sender{})
	assert.False(t, resp.OK)

	resp = handle(t, r, `{"type":"set-api-base","url":""}`, Sender{})
	require.True(t, resp.OK)
	assert.Equal(t, "http://localhost:8000", resp.APIBase)
}

func TestHandle_RecoversPanics(t *testing.T) {
	hs := Handlers(&fakeTracker{}, nil, &memSettings{})
	hs[KindWatchList] = func(context.Context, Request, Sender) Response { panic("boom") }
	r, err := New(hs, nil)
	require.NoError(t, err)

	resp := r.Handle(context.Background(), WatchList{}, Sender{})
	assert.False(t, resp.OK)
	assert.Equal(t, "internal error", resp.Error)
}

func TestHandle_AcceptsPointerRequests(t *testing.T) {
	r, tracker, _ := newRouter(t)
	resp := r.Handle(context.Background(), &CheckNow{TabID: 2}, Sender{})
	assert.True(t, resp.OK)
	assert.Len(t, tracker.calls, 1)
}

func TestDispatch(t *testing.T) {
	r, _, _ := newRouter(t)
	ctx := context.Background()

	got := make(chan Response, 1)
	async := r.Dispatch(ctx, WatchList{}, Sender{}, func(resp Response) { got <- resp })
	assert.True(t, async)
	select {
	case resp := <-got:
		assert.True(t, resp.OK)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}

	var syncResp Response
	async = r.Dispatch(ctx, nil, Sender{}, func(resp Response) { syncResp = resp })
	assert.False(t, async)
	assert.False(t, syncResp.OK)
}

func TestDispatch_ReturnsBeforeHandlerFinishes(t *testing.T) {
	release := make(chan struct{})
	handlers := make(map[Kind]Handler, len(Kinds))
	for _, k := range Kinds {
		handlers[k] = func(context.Context, Request, Sender) Response {
			<-release
			return Response{OK: true}
		}
	}
	r, err := New(handlers, nil)
	require.NoError(t, err)

	got := make(chan Response, 1)
	returned := make(chan bool, 1)
	go func() {
		returned <- r.Dispatch(context.Background(), WatchList{}, Sender{}, func(resp Response) { got <- resp })
	}()

	select {
	case async := <-returned:
		assert.True(t, async)
	case <-time.After(time.Second):
		close(release)
		t.Fatal("Dispatch waited for the handler")
	}
	select {
	case <-got:
		t.Fatal("reply before the handler finished")
	default:
	}

	close(release)
	select {
	case resp := <-got:
		assert.True(t, resp.OK)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}

func TestEncode_DecodesBack(t *testing.T) {
	for _, req := range []Request{
		WatchAdd{ServiceID: "a", DocType: "tos", Name: "A", LastDiffAt: "2024-01-01"},
		WatchList{},
	} {
		data, err := Encode(req)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, req, got)
	}

	_, err := Encode(nil)
	assert.Error(t, err)
}
