package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gym_billing_bot/internal/domain/settings"

	"github.com/sirupsen/logrus"
)

// Settings keys recognized by DispatchConfigProvider.Reload.
const (
	SettingMaxPerHour          = "dispatch_max_per_hour"
	SettingMaxPerDay           = "dispatch_max_per_day"
	SettingMinIntervalMinutes  = "dispatch_min_interval_minutes"
	SettingMaxFailures         = "dispatch_max_failures"
	SettingSendTimeoutMs       = "dispatch_send_timeout_ms"
	SettingNonBlocking         = "dispatch_nonblocking"
	SettingAllowlistEnabled    = "allowlist_enabled"
	SettingAllowlistRecipients = "allowlist_recipients"
)

// DispatchConfig is the runtime policy for outbound messaging. A value is
// immutable once published; callers always take a fresh snapshot via
// DispatchConfigProvider.Current.
type DispatchConfig struct {
	MaxPerHour  int
	MaxPerDay   int
	MinInterval time.Duration
	MaxFailures int

	SendTimeout time.Duration
	NonBlocking bool

	AllowlistEnabled bool
	Allowlist        map[string]struct{}
}

// Allowlisted reports whether a recipient may receive messages under the
// current allowlist policy. When the allowlist is disabled every recipient
// is allowed.
func (c DispatchConfig) Allowlisted(recipient string) bool {
	if !c.AllowlistEnabled {
		return true
	}
	_, ok := c.Allowlist[recipient]
	return ok
}

// DefaultDispatchConfig returns the policy used before the first successful
// reload and as the base that settings overrides are applied on top of.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		MaxPerHour:       10,
		MaxPerDay:        50,
		MinInterval:      5 * time.Minute,
		MaxFailures:      5,
		SendTimeout:      1500 * time.Millisecond,
		NonBlocking:      true,
		AllowlistEnabled: false,
	}
}

// DispatchConfigProvider serves DispatchConfig snapshots and refreshes them
// from the settings table. Reload is atomic: readers either see the old
// config or the new one, never a partial mix.
type DispatchConfigProvider struct {
	repo    settings.Repository
	log     *logrus.Logger
	current atomic.Value // DispatchConfig
}

func NewDispatchConfigProvider(repo settings.Repository, log *logrus.Logger) *DispatchConfigProvider {
	p := &DispatchConfigProvider{repo: repo, log: log}
	p.current.Store(DefaultDispatchConfig())
	return p
}

// Current returns the latest published config snapshot.
func (p *DispatchConfigProvider) Current() DispatchConfig {
	return p.current.Load().(DispatchConfig)
}

// Reload reads all settings and publishes a new config. Unknown keys are
// ignored; a malformed value keeps that field at its default and is logged,
// it never aborts the whole reload.
func (p *DispatchConfigProvider) Reload(ctx context.Context) error {
	values, err := p.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	cfg := DefaultDispatchConfig()
	p.applyInt(values, SettingMaxPerHour, &cfg.MaxPerHour)
	p.applyInt(values, SettingMaxPerDay, &cfg.MaxPerDay)
	p.applyDuration(values, SettingMinIntervalMinutes, time.Minute, &cfg.MinInterval)
	p.applyInt(values, SettingMaxFailures, &cfg.MaxFailures)
	p.applyDuration(values, SettingSendTimeoutMs, time.Millisecond, &cfg.SendTimeout)
	p.applyBool(values, SettingNonBlocking, &cfg.NonBlocking)
	p.applyBool(values, SettingAllowlistEnabled, &cfg.AllowlistEnabled)

	if raw, ok := values[SettingAllowlistRecipients]; ok {
		cfg.Allowlist = parseAllowlist(raw)
	}

	p.current.Store(cfg)
	p.log.WithFields(logrus.Fields{
		"max_per_hour":      cfg.MaxPerHour,
		"max_per_day":       cfg.MaxPerDay,
		"min_interval":      cfg.MinInterval.String(),
		"non_blocking":      cfg.NonBlocking,
		"allowlist_enabled": cfg.AllowlistEnabled,
	}).Debug("Dispatch config reloaded")
	return nil
}

func (p *DispatchConfigProvider) applyInt(values map[string]string, key string, dst *int) {
	raw, ok := values[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		p.log.Warnf("Ignoring invalid setting %s=%q", key, raw)
		return
	}
	*dst = n
}

func (p *DispatchConfigProvider) applyDuration(values map[string]string, key string, unit time.Duration, dst *time.Duration) {
	raw, ok := values[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		p.log.Warnf("Ignoring invalid setting %s=%q", key, raw)
		return
	}
	*dst = time.Duration(n) * unit
}

func (p *DispatchConfigProvider) applyBool(values map[string]string, key string, dst *bool) {
	raw, ok := values[key]
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.log.Warnf("Ignoring invalid setting %s=%q", key, raw)
		return
	}
	*dst = b
}

func parseAllowlist(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}
