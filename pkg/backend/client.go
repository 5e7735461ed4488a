// Package backend talks to the policy analysis API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/consentcompanion/policywatch/internal/utils"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 15 * time.Second
	DefaultRetries = 2

	userAgent = "policywatch/1.0"
)

// BaseFunc returns the API base URL to use for the next request. It is
// consulted on every call so that a changed override takes effect at once.
type BaseFunc func(ctx context.Context) string

// StaticBase returns a BaseFunc that always yields base.
func StaticBase(base string) BaseFunc {
	return func(context.Context) string { return base }
}

type Options struct {
	Timeout      time.Duration
	RetryMax     int // negative disables retries
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Log          logrus.FieldLogger
}

type Client struct {
	http *retryablehttp.Client
	base BaseFunc
	log  logrus.FieldLogger
}

func New(base BaseFunc, opts Options) *Client {
	if base == nil {
		base = StaticBase(DefaultBaseURL)
	}
	log := utils.OrDiscard(opts.Log)

	rc := retryablehttp.NewClient()
	rc.Logger = retryLogger{log: log}
	rc.RetryMax = DefaultRetries
	switch {
	case opts.RetryMax < 0:
		rc.RetryMax = 0
	case opts.RetryMax > 0:
		rc.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc.HTTPClient.Timeout = timeout
	// Hand the last response back so status codes can be classified.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{http: rc, base: base, log: log}
}

// Base returns the current API base URL without a trailing slash.
func (c *Client) Base(ctx context.Context) string {
	return strings.TrimRight(strings.TrimSpace(c.base(ctx)), "/")
}

// Check asks whether the policy of domain changed.
func (c *Client) Check(ctx context.Context, domain string) (*CheckResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/extension/check?domain="+url.QueryEscape(domain), nil)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return nil, ErrMalformed
	}

	out := &CheckResult{
		Status:    res.Get("status").String(),
		Summary:   res.Get("summary").String(),
		ServiceID: res.Get("service_id").String(),
		DocType:   res.Get("doc_type").String(),
		DetailURL: res.Get("detail_url").String(),
	}
	if v := res.Get("changes"); v.IsArray() {
		out.Changes = json.RawMessage(v.Raw)
	}
	if v := res.Get("actions"); v.IsArray() {
		out.Actions = json.RawMessage(v.Raw)
	}
	return out, nil
}

// Updates sends the watchlist and the seen baselines and returns the
// targets with unseen changes.
func (c *Client) Updates(ctx context.Context, req UpdatesRequest) ([]Hit, error) {
	if req.Targets == nil {
		req.Targets = []Target{}
	}
	if req.SeenMap == nil {
		req.SeenMap = map[string]string{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, "/extension/updates", payload)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return nil, ErrMalformed
	}

	var hits []Hit
	for _, u := range res.Get("updates").Array() {
		h := Hit{
			ServiceID:   u.Get("service_id").String(),
			DocType:     u.Get("doc_type").String(),
			Name:        u.Get("name").String(),
			Status:      u.Get("status").String(),
			Summary:     u.Get("summary").String(),
			DetailURL:   u.Get("detail_url").String(),
			LastDiffAt:  u.Get("last_diff_at").String(),
			LastChanged: u.Get("last_changed").String(),
		}
		if h.ServiceID == "" || h.DocType == "" {
			c.log.WithField("raw", u.Raw).Debug("Skipping update without service_id/doc_type")
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	if s := gjson.GetBytes(body, "status").String(); s != "ok" {
		return fmt.Errorf("unexpected ping status %q", s)
	}
	return nil
}

// Targets lists the documents the backend knows how to track.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	body, err := c.do(ctx, http.MethodGet, "/ota/targets", nil)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, ErrMalformed
	}

	var out []Target
	for _, t := range res.Array() {
		tg := Target{
			ServiceID: t.Get("service_id").String(),
			DocType:   t.Get("doc_type").String(),
			Name:      t.Get("name").String(),
		}
		if tg.ServiceID == "" || tg.DocType == "" {
			continue
		}
		if tg.Name == "" {
			tg.Name = tg.Key()
		}
		out = append(out, tg)
	}
	return out, nil
}

// ResolveURL returns ref unchanged when it is absolute and prefixes it with
// the current API base otherwise.
func (c *Client) ResolveURL(ctx context.Context, ref string) (string, error) {
	return ResolveURL(c.Base(ctx), ref)
}

// ResolveURL joins a possibly relative ref onto base.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty url")
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() && u.Host != "" {
		return ref, nil
	}

	base = strings.TrimRight(strings.TrimSpace(base), "/")
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() || b.Host == "" {
		return "", fmt.Errorf("invalid API base %q", base)
	}
	return base + "/" + strings.TrimLeft(ref, "/"), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	base := c.Base(ctx)
	if base == "" {
		return nil, fmt.Errorf("no API base URL configured")
	}

	var body interface{}
	if payload != nil {
		body = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response")
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	// With the passthrough error handler a retryable status arrives with
	// both a response and an error; the status code is what matters.
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrMisconfigured
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Title: htmlTitle(resp.Header.Get("Content-Type"), data)}
	}

	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	return data, nil
}

// htmlTitle returns the <title> of an HTML body, or "".
func htmlTitle(contentType string, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if !strings.Contains(contentType, "html") && !bytes.HasPrefix(trimmed, []byte("<")) {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return ""
	}
	title := doc.Find("title").First().Text()
	return strings.ToValidUTF8(strings.Join(strings.Fields(title), " "), "")
}
