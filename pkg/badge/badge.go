// Package badge maps a policy status to the per-tab indicator.
package badge

import (
	"strings"

	"github.com/consentcompanion/policywatch/pkg/host"
)

// Status is the change classification reported by the backend.
type Status string

const (
	StatusNone      Status = "none"
	StatusMinor     Status = "minor"
	StatusImportant Status = "important"
	StatusUnknown   Status = "unknown"
)

var badges = map[Status]host.Badge{
	StatusNone:      {Text: "OK", Color: "#16a34a"},
	StatusMinor:     {Text: "!", Color: "#f59e0b"},
	StatusImportant: {Text: "!!", Color: "#dc2626"},
	StatusUnknown:   {Text: "?", Color: "#9ca3af"},
}

// Normalize folds any input into one of the four known statuses.
func Normalize(s string) Status {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := badges[st]; ok {
		return st
	}
	return StatusUnknown
}

// For returns the badge of status. Unrecognized values map to the unknown
// badge, so the result is always one of the four defined states.
func For(status string) host.Badge {
	return badges[Normalize(status)]
}

