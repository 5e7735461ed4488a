package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consentcompanion/policywatch/internal/headless"
	"github.com/consentcompanion/policywatch/pkg/engine"
	"github.com/consentcompanion/policywatch/pkg/host"
	"github.com/consentcompanion/policywatch/pkg/polling"
	"github.com/consentcompanion/policywatch/pkg/router"
	"github.com/consentcompanion/policywatch/pkg/storage"
)

func newBridge(t *testing.T, user, pass string) (*httptest.Server, *headless.Host) {
	t.Helper()
	api := http.NewServeMux()
	api.HandleFunc("/extension/check", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"minor","summary":"tweaks"}`)
	})
	api.HandleFunc("/extension/updates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"updates":[{"service_id":"a","doc_type":"tos","name":"A","status":"important","detail_url":"https://diff.example/a","last_diff_at":"2024-02-01"}]}`)
	})
	backend := httptest.NewServer(api)
	t.Cleanup(backend.Close)

	h := headless.New(nil, nil)
	t.Cleanup(h.Stop)
	e, err := engine.New(h.Capabilities(storage.NewMemory(), storage.NewMemory(), storage.NewMemory()), engine.Config{
		APIBase:       backend.URL,
		APIRetries:    -1,
		DebounceDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	srv := httptest.NewServer(New(e, h, user, pass, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, h
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	srv, _ := newBridge(t, "", "")
	resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newBridge(t, "admin", "secret")

	resp := do(t, http.MethodGet, srv.URL+"/badges", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/badges", nil)
	req.SetBasicAuth("admin", "secret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	// Health stays open.
	resp = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessages(t *testing.T) {
	srv, _ := newBridge(t, "", "")

	resp := do(t, http.MethodPost, srv.URL+"/messages", `{"type":"report-host","hostname":"example.com","sender_tab":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out router.Response
	decode(t, resp, &out)
	assert.True(t, out.OK)
	require.NotNil(t, out.Result)
	assert.Equal(t, "minor", out.Result.Status)

	resp = do(t, http.MethodPost, srv.URL+"/messages", `{"type":"nope"}`)
	out = router.Response{}
	decode(t, resp, &out)
	assert.False(t, out.OK)
	assert.Contains(t, out.Error, "unknown message type")

	resp = do(t, http.MethodGet, srv.URL+"/badges", "")
	var badges map[string]host.Badge
	decode(t, resp, &badges)
	assert.Equal(t, "!", badges["3"].Text)
}

func TestTabEvents(t *testing.T) {
	srv, h := newBridge(t, "", "")

	resp := do(t, http.MethodPost, srv.URL+"/events/tabs/8/updated", `{"url":"https://example.com/","status":"complete"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, ok := h.Badges()[8]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	resp = do(t, http.MethodDelete, srv.URL+"/events/tabs/8", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, h.Badges())

	resp = do(t, http.MethodPost, srv.URL+"/events/tabs/x/activated", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/events/tabs/8/updated", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAlarmAndNotifications(t *testing.T) {
	srv, h := newBridge(t, "", "")

	resp := do(t, http.MethodPost, srv.URL+"/messages", `{"type":"watch-add","service_id":"a","doc_type":"tos","last_diff_at":"2024-01-01"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/events/alarms/"+polling.DefaultAlarmName, "")
	var ran map[string]bool
	decode(t, resp, &ran)
	assert.True(t, ran["ran"])

	resp = do(t, http.MethodGet, srv.URL+"/notifications", "")
	var notes []headless.Note
	decode(t, resp, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, "Important policy change", notes[0].Title)

	resp = do(t, http.MethodPost, srv.URL+"/notifications/"+notes[0].ID+"/click", "")
	var clicked map[string]bool
	decode(t, resp, &clicked)
	assert.True(t, clicked["opened"])
	assert.Equal(t, []string{"https://diff.example/a"}, h.Opened())
	assert.Empty(t, h.Notifications())

	resp = do(t, http.MethodDelete, srv.URL+"/notifications/"+notes[0].ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessages_ClientHangUpDoesNotCancelCheck(t *testing.T) {
	arrived, release := make(chan struct{}), make(chan struct{})
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		_, _ = io.WriteString(w, `{"status":"minor"}`)
	}))
	t.Cleanup(api.Close)

	h := headless.New(nil, nil)
	t.Cleanup(h.Stop)
	e, err := engine.New(h.Capabilities(storage.NewMemory(), storage.NewMemory(), storage.NewMemory()), engine.Config{
		APIBase:    api.URL,
		APIRetries: -1,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	srv := httptest.NewServer(New(e, h, "", "", nil).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/messages",
		strings.NewReader(`{"type":"report-host","hostname":"example.com","sender_tab":3}`))
	require.NoError(t, err)
	go func() {
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	<-arrived
	cancel()
	close(release)

	require.Eventually(t, func() bool {
		_, ok := h.Badges()[3]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	res, ok, err := e.Tracker().Result(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, res.OK)
	assert.Equal(t, "minor", res.Status)
}
