package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/pkg/backend"
	"github.com/consentcompanion/policywatch/pkg/debounce"
	"github.com/consentcompanion/policywatch/pkg/polling"
	"github.com/consentcompanion/policywatch/pkg/throttle"
)

// KeyAPIBase is the sync storage key of the API base override.
const KeyAPIBase = "api_base"

// Config holds the engine tunables. Zero values mean the defaults.
type Config struct {
	APIBase    string // used when no override is stored
	APITimeout time.Duration
	APIRetries int // negative disables retries

	PollPeriod    time.Duration
	AlarmName     string
	Cooldown      time.Duration
	DebounceDelay time.Duration

	Now func() time.Time
	Log logrus.FieldLogger
}

func (c *Config) defaults() {
	if c.APIBase == "" {
		c.APIBase = backend.DefaultBaseURL
	}
	if c.APITimeout <= 0 {
		c.APITimeout = backend.DefaultTimeout
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = polling.DefaultPeriod
	}
	if c.AlarmName == "" {
		c.AlarmName = polling.DefaultAlarmName
	}
	if c.Cooldown <= 0 {
		c.Cooldown = throttle.DefaultCooldown
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = debounce.DefaultDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}
