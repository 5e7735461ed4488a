package backend

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMisconfigured is returned when the backend answers 404 on an extension
// endpoint. That almost always means the API base URL points at the wrong
// deployment, so it is reported differently from transient failures.
var ErrMisconfigured = errors.New("backend endpoint not found (HTTP 404): check the API base URL setting")

// ErrMalformed is returned when a 2xx body is not the expected JSON shape.
var ErrMalformed = errors.New("malformed backend response")

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code int
	// Title is the <title> of an HTML error page, when the backend (or a
	// proxy in front of it) returned one.
	Title string
}

func (e *StatusError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Code, e.Title)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Code)
}

// CheckResult is the payload of GET /extension/check.
type CheckResult struct {
	Status    string          `json:"status,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Actions   json.RawMessage `json:"actions,omitempty"`
	ServiceID string          `json:"service_id,omitempty"`
	DocType   string          `json:"doc_type,omitempty"`
	DetailURL string          `json:"detail_url,omitempty"`
}

// Target identifies one monitored policy document.
type Target struct {
	ServiceID string `json:"service_id"`
	DocType   string `json:"doc_type"`
	Name      string `json:"name"`
}

// Key returns the "<service_id>:<doc_type>" identity of the target.
func (t Target) Key() string { return Key(t.ServiceID, t.DocType) }

// Key builds the identity used by the seen-baseline map.
func Key(serviceID, docType string) string { return serviceID + ":" + docType }

// UpdatesRequest is the body of POST /extension/updates.
type UpdatesRequest struct {
	Targets []Target          `json:"targets"`
	SeenMap map[string]string `json:"seen_map"`
}

// Hit is one target with changes the user has not been notified about.
type Hit struct {
	ServiceID   string `json:"service_id"`
	DocType     string `json:"doc_type"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status,omitempty"`
	Summary     string `json:"summary,omitempty"`
	DetailURL   string `json:"detail_url,omitempty"`
	LastDiffAt  string `json:"last_diff_at,omitempty"`
	LastChanged string `json:"last_changed,omitempty"`
}

// Key returns the "<service_id>:<doc_type>" identity of the hit.
func (h Hit) Key() string { return Key(h.ServiceID, h.DocType) }
