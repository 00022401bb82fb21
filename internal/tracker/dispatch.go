package tracker

import (
	"log"

	"github.com/timewarden/backend/internal/domain"
)

// Settings returns the durable global settings.
func (t *Tracker) Settings() (*domain.GlobalSettings, error) {
	return t.store.LoadSettings()
}

// HostnameConfigs returns all durable hostname configs.
func (t *Tracker) HostnameConfigs() ([]*domain.HostnameConfig, error) {
	return t.store.LoadConfigs()
}

// ApplySettings validates and persists new global settings, then
// reschedules every hostname's reset (the global reset time may have
// changed) and re-evaluates. Synchronous.
func (t *Tracker) ApplySettings(settings *domain.GlobalSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	var saveErr error
	t.do("save-settings", func() {
		if saveErr = t.store.SaveSettings(settings); saveErr != nil {
			return
		}
		configs, err := t.store.LoadConfigs()
		if err != nil {
			log.Printf("reloading configs after settings save: %v", err)
			return
		}
		for _, cfg := range configs {
			if cfg.Enabled {
				t.scheduleNextReset(cfg, settings)
			}
		}
		t.reevaluate()
	})
	return saveErr
}

// ApplyHostnameConfig validates and persists one hostname config, then
// refreshes the hostname cache, re-scans open tabs, reschedules the
// hostname's reset, and re-evaluates. Synchronous.
func (t *Tracker) ApplyHostnameConfig(cfg *domain.HostnameConfig) error {
	cfg = cfg.Clone()
	cfg.Normalize(t.now())
	if err := cfg.Validate(); err != nil {
		return err
	}
	var saveErr error
	t.do("save-config "+cfg.Hostname, func() {
		if !cfg.Enabled {
			// Disabling stops the clock first so elapsed time is not
			// lost, and drops the hostname's pending alarms.
			t.stopTracking(cfg.Hostname)
			t.clearHostnameAlarms(cfg.Hostname)
		}
		if saveErr = t.store.UpsertConfig(cfg); saveErr != nil {
			return
		}
		settings, err := t.store.LoadSettings()
		if err != nil {
			log.Printf("[%s] loading settings after config save: %v", cfg.Hostname, err)
			return
		}
		t.refreshEnabledCache()
		t.rescanTabs()
		if cfg.Enabled {
			t.scheduleNextReset(cfg, settings)
		}
		t.reevaluate()
	})
	return saveErr
}

// RemoveHostname deletes a hostname's config, stops tracking, clears
// its alarms and runtime state, and re-evaluates. Synchronous.
func (t *Tracker) RemoveHostname(hostname string) (bool, error) {
	hostname = domain.NormalizeHostname(hostname)
	var (
		found  bool
		remErr error
	)
	t.do("remove-hostname "+hostname, func() {
		t.stopTracking(hostname)
		t.clearHostnameAlarms(hostname)

		t.rtMu.Lock()
		delete(t.paused, hostname)
		delete(t.graceEndsAt, hostname)
		t.rtMu.Unlock()

		found, remErr = t.store.RemoveConfig(hostname)
		if remErr != nil {
			return
		}
		t.refreshEnabledCache()
		t.rescanTabs()
		t.reevaluate()
	})
	return found, remErr
}

// clearHostnameAlarms drops every alarm belonging to a hostname: reset,
// limit, warnings, grace end, pause end.
func (t *Tracker) clearHostnameAlarms(hostname string) {
	t.clearTrackingAlarms(hostname)
	for _, name := range []string{resetAlarmName(hostname), graceEndAlarmName(hostname), pauseEndAlarmName(hostname)} {
		if err := t.b.Alarms.Clear(name); err != nil {
			log.Printf("[%s] clearing alarm %s: %v", hostname, name, err)
		}
	}
}

// refreshEnabledCache rebuilds the observer's enabled-hostname cache
// from storage. Runs on the queue.
func (t *Tracker) refreshEnabledCache() {
	configs, err := t.store.LoadConfigs()
	if err != nil {
		log.Printf("refreshing hostname cache: %v", err)
		return
	}
	enabled := make([]string, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			enabled = append(enabled, cfg.Hostname)
		}
	}
	t.obs.setEnabled(enabled)
}

// rescanTabs reconciles tab registrations with the current enabled set
// after a config change. Unlike startup recovery it emits no visits;
// the tabs were already open.
func (t *Tracker) rescanTabs() {
	tabs, err := t.b.Tabs.Tabs()
	if err != nil {
		log.Printf("re-scanning tabs: %v", err)
		return
	}
	open := make(map[int]bool, len(tabs))
	for _, tab := range tabs {
		open[tab.ID] = true
		want := t.obs.matchEnabled(tab.URL)
		have := t.obs.hostForTab(tab.ID)
		if want == have {
			continue
		}
		if have != "" {
			t.obs.unregisterTab(tab.ID)
		}
		if want != "" {
			t.obs.registerTab(want, tab.ID, tab.Audible)
		}
	}
	// Drop registrations for tabs that no longer exist.
	for _, hostname := range t.obs.hostnames() {
		for _, tabID := range t.obs.tabsOf(hostname) {
			if !open[tabID] {
				t.obs.unregisterTab(tabID)
			}
		}
	}
}
