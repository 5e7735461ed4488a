package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/consentcompanion/policywatch/pkg/router"
)

// Client sends messages to a running bridge.
type Client struct {
	Base     string
	Username string
	Password string

	http *retryablehttp.Client
}

func NewClient(base, username, password string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 1
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{
		Base:     strings.TrimRight(base, "/"),
		Username: username,
		Password: password,
		http:     rc,
	}
}

// Send posts req to /messages and returns the bridge's response.
func (c *Client) Send(ctx context.Context, req router.Request) (router.Response, error) {
	body, err := router.Encode(req)
	if err != nil {
		return router.Response{}, err
	}
	hr, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/messages", bytes.NewReader(body))
	if err != nil {
		return router.Response{}, err
	}
	hr.Header.Set("Content-Type", "application/json")
	if c.Username != "" || c.Password != "" {
		hr.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return router.Response{}, fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return router.Response{}, fmt.Errorf("bridge returned HTTP %d", resp.StatusCode)
	}
	var out router.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return router.Response{}, fmt.Errorf("decode bridge response: %w", err)
	}
	return out, nil
}
