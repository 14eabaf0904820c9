// Package config loads the Log Handler Core's tunables through viper, the
// way sharedlog/scalog/scalog.go reads viper.GetInt/viper.GetString for its
// own connection parameters.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// HandlerConfig holds every tunable named in spec.md §4/§5.
type HandlerConfig struct {
	// KeepaliveIntervalNs is the keepalive service's own write cadence
	// (spec §4.5: 100ms).
	KeepaliveIntervalNs int64
	// SyncDelayBudgetNs is added to KeepaliveIntervalNs to produce the
	// log-sync threshold (spec §4.5: 3s).
	SyncDelayBudgetNs int64

	// AppendRetryCapUs caps the linear backoff between blocking-append
	// retries (spec §4.3: 100µs).
	AppendRetryCapUs int64
	// AppendRetryStepUs is the per-attempt backoff increment (spec §4.3:
	// 10µs × attempt).
	AppendRetryStepUs int64

	// ReconfigRetryInterval is the sleep between reconfiguration dispatcher
	// retries on RetryableLater (spec §4.4: 50ms).
	ReconfigRetryInterval time.Duration
	// ReconfigRenewInterval rate-limits leader-locator renewal requests
	// from the reconfiguration dispatcher (spec §4.4: 500ms).
	ReconfigRenewInterval time.Duration
	// ReconfigConnTimeoutCap bounds the connect timeout for a reconfig RPC
	// (spec §4.4: min(timeout, 5s)).
	ReconfigConnTimeoutCap time.Duration
	// BlacklistRetryInterval is the sleep after a failed
	// remove-from-blacklist attempt (spec §4.4: 50ms).
	BlacklistRetryInterval time.Duration

	// SyncPollRenewInterval rate-limits the sync monitor's leader-locator
	// renewal on failure (spec §4.5, §8: 500ms).
	SyncPollRenewInterval time.Duration
}

// LogSyncThresholdNs is keepalive_interval + sync_delay_budget, in
// nanoseconds (spec §4.5).
func (c HandlerConfig) LogSyncThresholdNs() int64 {
	return c.KeepaliveIntervalNs + c.SyncDelayBudgetNs
}

// SyncPollIntervalNs is half the sync threshold (spec §4.5: "poll_interval
// = log_sync_threshold / 2").
func (c HandlerConfig) SyncPollIntervalNs() int64 {
	return c.LogSyncThresholdNs() / 2
}

// Default returns the spec's literal defaults.
func Default() HandlerConfig {
	return HandlerConfig{
		KeepaliveIntervalNs:    100 * int64(time.Millisecond),
		SyncDelayBudgetNs:      3 * int64(time.Second),
		AppendRetryCapUs:       100,
		AppendRetryStepUs:      10,
		ReconfigRetryInterval:  50 * time.Millisecond,
		ReconfigRenewInterval:  500 * time.Millisecond,
		ReconfigConnTimeoutCap: 5 * time.Second,
		BlacklistRetryInterval: 50 * time.Millisecond,
		SyncPollRenewInterval:  500 * time.Millisecond,
	}
}

// LoadFromViper overlays any of the recognized keys found in v on top of the
// spec defaults, the way cmd/handlerd's main.go wires a config file through
// viper before constructing the handler.
func LoadFromViper(v *viper.Viper) HandlerConfig {
	c := Default()
	if v == nil {
		return c
	}
	if v.IsSet("keepalive-interval-ns") {
		c.KeepaliveIntervalNs = v.GetInt64("keepalive-interval-ns")
	}
	if v.IsSet("sync-delay-budget-ns") {
		c.SyncDelayBudgetNs = v.GetInt64("sync-delay-budget-ns")
	}
	if v.IsSet("append-retry-cap-us") {
		c.AppendRetryCapUs = v.GetInt64("append-retry-cap-us")
	}
	if v.IsSet("append-retry-step-us") {
		c.AppendRetryStepUs = v.GetInt64("append-retry-step-us")
	}
	if v.IsSet("reconfig-retry-ms") {
		c.ReconfigRetryInterval = time.Duration(v.GetInt64("reconfig-retry-ms")) * time.Millisecond
	}
	if v.IsSet("reconfig-renew-interval-ms") {
		c.ReconfigRenewInterval = time.Duration(v.GetInt64("reconfig-renew-interval-ms")) * time.Millisecond
	}
	if v.IsSet("reconfig-conn-timeout-cap-ms") {
		c.ReconfigConnTimeoutCap = time.Duration(v.GetInt64("reconfig-conn-timeout-cap-ms")) * time.Millisecond
	}
	if v.IsSet("blacklist-retry-ms") {
		c.BlacklistRetryInterval = time.Duration(v.GetInt64("blacklist-retry-ms")) * time.Millisecond
	}
	if v.IsSet("sync-poll-renew-interval-ms") {
		c.SyncPollRenewInterval = time.Duration(v.GetInt64("sync-poll-renew-interval-ms")) * time.Millisecond
	}
	return c
}
