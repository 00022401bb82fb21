// Package storage implements the durable document protocol over a
// browser.KVStore: three top-level JSON documents (configs, usageLog,
// settings), validated independently on load so one corrupt document
// never takes down its neighbours. Read-modify-write atomicity is the
// caller's responsibility — the tracking engine serializes every mutating
// operation through its queue.
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// Top-level KVStore keys. Field names and key names are part of the
// persisted contract.
const (
	KeyConfigs  = "configs"
	KeyUsageLog = "usageLog"
	KeySettings = "settings"
)

type Store struct {
	kv browser.KVStore
}

func NewStore(kv browser.KVStore) *Store {
	return &Store{kv: kv}
}

// LoadConfigs returns the hostname configs. Entries that fail validation
// are dropped individually; a corrupt document yields an empty list.
func (s *Store) LoadConfigs() ([]*domain.HostnameConfig, error) {
	data, err := s.kv.Get(KeyConfigs)
	if err != nil {
		return nil, fmt.Errorf("reading configs: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var raw []*domain.HostnameConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("storage: corrupt configs document, using empty list: %v", err)
		return nil, nil
	}
	configs := raw[:0]
	for _, cfg := range raw {
		if cfg == nil {
			continue
		}
		if err := cfg.Validate(); err != nil {
			log.Printf("storage: dropping invalid config: %v", err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s *Store) SaveConfigs(configs []*domain.HostnameConfig) error {
	data, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("encoding configs: %w", err)
	}
	return s.kv.Set(KeyConfigs, data)
}

// Config returns the config for a hostname, or nil if not tracked.
func (s *Store) Config(hostname string) (*domain.HostnameConfig, error) {
	configs, err := s.LoadConfigs()
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.Hostname == hostname {
			return cfg, nil
		}
	}
	return nil, nil
}

// UpsertConfig inserts or replaces the config for cfg.Hostname.
func (s *Store) UpsertConfig(cfg *domain.HostnameConfig) error {
	configs, err := s.LoadConfigs()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range configs {
		if existing.Hostname == cfg.Hostname {
			configs[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		configs = append(configs, cfg)
		sort.Slice(configs, func(i, j int) bool { return configs[i].Hostname < configs[j].Hostname })
	}
	return s.SaveConfigs(configs)
}

// RemoveConfig deletes the config for a hostname. Returns whether it
// existed.
func (s *Store) RemoveConfig(hostname string) (bool, error) {
	configs, err := s.LoadConfigs()
	if err != nil {
		return false, err
	}
	out := configs[:0]
	found := false
	for _, cfg := range configs {
		if cfg.Hostname == hostname {
			found = true
			continue
		}
		out = append(out, cfg)
	}
	if !found {
		return false, nil
	}
	return true, s.SaveConfigs(out)
}

// LoadSettings returns the global settings, falling back to defaults when
// the document is missing or invalid.
func (s *Store) LoadSettings() (*domain.GlobalSettings, error) {
	data, err := s.kv.Get(KeySettings)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if len(data) == 0 {
		return domain.DefaultGlobalSettings(), nil
	}
	settings := domain.DefaultGlobalSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		log.Printf("storage: corrupt settings document, using defaults: %v", err)
		return domain.DefaultGlobalSettings(), nil
	}
	if err := settings.Validate(); err != nil {
		log.Printf("storage: invalid settings document, using defaults: %v", err)
		return domain.DefaultGlobalSettings(), nil
	}
	return settings, nil
}

func (s *Store) SaveSettings(settings *domain.GlobalSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.kv.Set(KeySettings, data)
}

// LoadUsageLog returns the rolling usage log sorted ascending, capped,
// with malformed day entries dropped.
func (s *Store) LoadUsageLog() (domain.UsageLog, error) {
	data, err := s.kv.Get(KeyUsageLog)
	if err != nil {
		return nil, fmt.Errorf("reading usage log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var raw domain.UsageLog
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("storage: corrupt usage log, starting empty: %v", err)
		return nil, nil
	}
	logEntries := raw[:0]
	for _, day := range raw {
		if day.Date == "" {
			log.Printf("storage: dropping usage entry with empty date")
			continue
		}
		logEntries = append(logEntries, day)
	}
	sort.Slice(logEntries, func(i, j int) bool { return logEntries[i].Date < logEntries[j].Date })
	if len(logEntries) > domain.MaxUsageLogEntries {
		logEntries = logEntries[len(logEntries)-domain.MaxUsageLogEntries:]
	}
	return logEntries, nil
}

func (s *Store) SaveUsageLog(usage domain.UsageLog) error {
	data, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("encoding usage log: %w", err)
	}
	return s.kv.Set(KeyUsageLog, data)
}

// Usage returns a copy of the usage record for (hostname, date), or nil.
func (s *Store) Usage(hostname, date string) (*domain.HostnameUsage, error) {
	usageLog, err := s.LoadUsageLog()
	if err != nil {
		return nil, err
	}
	day := usageLog.Day(date)
	if day == nil {
		return nil, nil
	}
	u := day.Hostname(hostname)
	if u == nil {
		return nil, nil
	}
	return u.Clone(), nil
}

// EnsureUsage is the period upsert: it creates the DailyUsage for date
// (sorted insert, rolling cap) and the HostnameUsage within it, freezing
// limitSeconds and resetTime from the current effective values. An
// existing record is never modified — the snapshot is write-once.
func (s *Store) EnsureUsage(hostname, date string, limitSeconds int64, resetTime string) error {
	usageLog, err := s.LoadUsageLog()
	if err != nil {
		return err
	}
	day := usageLog.EnsureDay(date)
	if day.Hostname(hostname) != nil {
		return nil
	}
	day.Hostnames = append(day.Hostnames, domain.HostnameUsage{
		Hostname:      hostname,
		LimitSeconds:  limitSeconds,
		ResetTime:     resetTime,
		Notifications: make(map[string]bool),
	})
	return s.SaveUsageLog(usageLog)
}

// UpdateUsage applies mutate to the usage record for (hostname, date)
// under a read-modify-write and persists the result. Returns false when
// the record does not exist; mutate is not called in that case.
func (s *Store) UpdateUsage(hostname, date string, mutate func(*domain.HostnameUsage)) (bool, error) {
	usageLog, err := s.LoadUsageLog()
	if err != nil {
		return false, err
	}
	day := usageLog.Day(date)
	if day == nil {
		return false, nil
	}
	u := day.Hostname(hostname)
	if u == nil {
		return false, nil
	}
	mutate(u)
	return true, s.SaveUsageLog(usageLog)
}
