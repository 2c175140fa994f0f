package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettingsRepo struct {
	values map[string]string
	err    error
}

func (f *fakeSettingsRepo) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (f *fakeSettingsRepo) GetAll(_ context.Context) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func (f *fakeSettingsRepo) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func TestDispatchConfig_Defaults(t *testing.T) {
	cfg := DefaultDispatchConfig()

	assert.Equal(t, 10, cfg.MaxPerHour)
	assert.Equal(t, 50, cfg.MaxPerDay)
	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, 5, cfg.MaxFailures)
	assert.Equal(t, 1500*time.Millisecond, cfg.SendTimeout)
	assert.True(t, cfg.NonBlocking)
	assert.False(t, cfg.AllowlistEnabled)
}

func TestDispatchConfigProvider_Reload(t *testing.T) {
	repo := &fakeSettingsRepo{values: map[string]string{
		SettingMaxPerHour:          "3",
		SettingMaxPerDay:           "20",
		SettingMinIntervalMinutes:  "10",
		SettingMaxFailures:         "2",
		SettingSendTimeoutMs:       "500",
		SettingNonBlocking:         "false",
		SettingAllowlistEnabled:    "true",
		SettingAllowlistRecipients: "111, 222 ,333",
	}}
	p := NewDispatchConfigProvider(repo, testLogger())

	require.NoError(t, p.Reload(context.Background()))
	cfg := p.Current()

	assert.Equal(t, 3, cfg.MaxPerHour)
	assert.Equal(t, 20, cfg.MaxPerDay)
	assert.Equal(t, 10*time.Minute, cfg.MinInterval)
	assert.Equal(t, 2, cfg.MaxFailures)
	assert.Equal(t, 500*time.Millisecond, cfg.SendTimeout)
	assert.False(t, cfg.NonBlocking)
	assert.True(t, cfg.AllowlistEnabled)
	assert.True(t, cfg.Allowlisted("222"))
	assert.False(t, cfg.Allowlisted("444"))
}

func TestDispatchConfigProvider_MalformedValuesKeepDefaults(t *testing.T) {
	repo := &fakeSettingsRepo{values: map[string]string{
		SettingMaxPerHour:  "lots",
		SettingMaxPerDay:   "-1",
		SettingNonBlocking: "sometimes",
	}}
	p := NewDispatchConfigProvider(repo, testLogger())

	require.NoError(t, p.Reload(context.Background()))
	cfg := p.Current()

	defaults := DefaultDispatchConfig()
	assert.Equal(t, defaults.MaxPerHour, cfg.MaxPerHour)
	assert.Equal(t, defaults.MaxPerDay, cfg.MaxPerDay)
	assert.Equal(t, defaults.NonBlocking, cfg.NonBlocking)
}

func TestDispatchConfigProvider_ReloadFailureKeepsCurrent(t *testing.T) {
	repo := &fakeSettingsRepo{values: map[string]string{SettingMaxPerHour: "3"}}
	p := NewDispatchConfigProvider(repo, testLogger())
	require.NoError(t, p.Reload(context.Background()))

	repo.err = errors.New("connection refused")
	assert.Error(t, p.Reload(context.Background()))
	assert.Equal(t, 3, p.Current().MaxPerHour, "a failed reload must not clobber the running config")
}

func TestDispatchConfig_AllowlistDisabledAllowsEveryone(t *testing.T) {
	cfg := DefaultDispatchConfig()
	assert.True(t, cfg.Allowlisted("anyone"))

	cfg.AllowlistEnabled = true
	assert.False(t, cfg.Allowlisted("anyone"), "enabled with an empty list blocks everyone")
}
