package tracker

import (
	"fmt"

	"github.com/timewarden/backend/internal/domain"
)

// Status is the live per-hostname answer to UI status queries. It is
// computed read-only: persisted usage plus live elapsed derived on the
// fly, so it never touches the serial queue.
type Status struct {
	Hostname              string         `json:"hostname"`
	Enabled               bool           `json:"enabled"`
	Date                  string         `json:"date"`
	Tracking              bool           `json:"tracking"`
	Reason                *domain.Reason `json:"reason,omitempty"`
	TimeSpentSeconds      int64          `json:"timeSpentSeconds"`
	TimeRemainingSeconds  int64          `json:"timeRemainingSeconds"`
	LimitSeconds          int64          `json:"limitSeconds"`
	ResetTime             string         `json:"resetTime"`
	VisitCount            int            `json:"visitCount"`
	PausedSeconds         int64          `json:"pausedSeconds"`
	Blocked               bool           `json:"blocked"`
	BlockedAt             *int64         `json:"blockedAt,omitempty"`
	InGrace               bool           `json:"inGrace"`
	GraceRemainingSeconds int64          `json:"graceRemainingSeconds"`
	Paused                bool           `json:"paused"`
	PauseRemainingSeconds int64          `json:"pauseRemainingSeconds"`
}

// Status returns the live status for a hostname, or nil if it is not
// tracked.
func (t *Tracker) Status(hostname string) (*Status, error) {
	cfg, err := t.store.Config(hostname)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return nil, err
	}

	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	usage, err := t.store.Usage(hostname, date)
	if err != nil {
		return nil, err
	}

	s := &Status{
		Hostname:     hostname,
		Enabled:      cfg.Enabled,
		Date:         date,
		LimitSeconds: domain.EffectiveLimit(cfg, now.Weekday()),
		ResetTime:    domain.EffectiveResetTime(cfg, settings, now.Weekday()),
	}
	if usage != nil {
		s.TimeSpentSeconds = usage.TimeSpentSeconds
		s.VisitCount = usage.VisitCount
		s.PausedSeconds = usage.PausedSeconds
		s.Blocked = usage.Blocked
		s.BlockedAt = usage.BlockedAt
		// The frozen snapshot wins over today's effective values.
		s.LimitSeconds = usage.LimitSeconds
		s.ResetTime = usage.ResetTime
	}

	if started, reason, ok := t.obs.trackingState(hostname); ok && !started.IsZero() {
		s.Tracking = true
		s.Reason = reason
		s.TimeSpentSeconds += int64(now.Sub(started).Seconds())
	}

	s.TimeRemainingSeconds = s.LimitSeconds - s.TimeSpentSeconds
	if s.TimeRemainingSeconds < 0 {
		s.TimeRemainingSeconds = 0
	}

	s.GraceRemainingSeconds = t.graceRemaining(hostname, now)
	s.InGrace = s.GraceRemainingSeconds > 0
	if remaining, paused := t.pauseRemaining(hostname, now); paused {
		s.Paused = true
		s.PauseRemainingSeconds = remaining
		t.rtMu.RLock()
		if ps, ok := t.paused[hostname]; ok {
			s.PausedSeconds = ps.allowanceSeconds - remaining
		}
		t.rtMu.RUnlock()
	}
	return s, nil
}

// AllStatus returns live statuses for every enabled hostname.
func (t *Tracker) AllStatus() ([]*Status, error) {
	configs, err := t.store.LoadConfigs()
	if err != nil {
		return nil, err
	}
	out := make([]*Status, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		s, err := t.Status(cfg.Hostname)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// Dashboard is the full dataset for the dashboard UI.
type Dashboard struct {
	Configs  []*domain.HostnameConfig `json:"configs"`
	Settings *domain.GlobalSettings   `json:"settings"`
	UsageLog domain.UsageLog          `json:"usageLog"`
}

// DashboardData returns configs, settings, and the usage log with live
// elapsed time folded into current-period entries. days limits the log
// to the most recent N periods; 0 means all retained.
func (t *Tracker) DashboardData(days int) (*Dashboard, error) {
	configs, err := t.store.LoadConfigs()
	if err != nil {
		return nil, err
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	usageLog, err := t.store.LoadUsageLog()
	if err != nil {
		return nil, err
	}
	usageLog = usageLog.Clone()

	now := t.now()
	for _, cfg := range configs {
		started, _, ok := t.obs.trackingState(cfg.Hostname)
		if !ok || started.IsZero() {
			continue
		}
		elapsed := int64(now.Sub(started).Seconds())
		if elapsed <= 0 {
			continue
		}
		day := usageLog.Day(domain.PeriodDate(cfg, settings, now))
		if day == nil {
			continue
		}
		if u := day.Hostname(cfg.Hostname); u != nil {
			u.TimeSpentSeconds += elapsed
			if open := u.OpenSession(); open != nil {
				open.DurationSeconds += elapsed
			}
		}
	}

	if days > 0 && len(usageLog) > days {
		usageLog = usageLog[len(usageLog)-days:]
	}
	return &Dashboard{Configs: configs, Settings: settings, UsageLog: usageLog}, nil
}

// BlockedStatus is the dataset behind the blocked page.
type BlockedStatus struct {
	Hostname              string `json:"hostname"`
	TimeSpentSeconds      int64  `json:"timeSpent"`
	LimitSeconds          int64  `json:"limit"`
	VisitCount            int    `json:"visitCount"`
	SessionCount          int    `json:"sessionCount"`
	LongestSessionSeconds int64  `json:"longestSession"`
	ResetTime             string `json:"resetTime"`
	BlockedAt             *int64 `json:"blockedAt,omitempty"`
}

// BlockedStatusFor summarizes the current period for the blocked page.
func (t *Tracker) BlockedStatusFor(hostname string) (*BlockedStatus, error) {
	cfg, err := t.store.Config(hostname)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("hostname %q is not tracked", hostname)
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	usage, err := t.store.Usage(hostname, date)
	if err != nil {
		return nil, err
	}

	bs := &BlockedStatus{
		Hostname:     hostname,
		LimitSeconds: domain.EffectiveLimit(cfg, now.Weekday()),
		ResetTime:    domain.EffectiveResetTime(cfg, settings, now.Weekday()),
	}
	if usage != nil {
		bs.TimeSpentSeconds = usage.TimeSpentSeconds
		bs.LimitSeconds = usage.LimitSeconds
		bs.ResetTime = usage.ResetTime
		bs.VisitCount = usage.VisitCount
		bs.SessionCount = len(usage.Sessions)
		bs.BlockedAt = usage.BlockedAt
		for _, sess := range usage.Sessions {
			if sess.DurationSeconds > bs.LongestSessionSeconds {
				bs.LongestSessionSeconds = sess.DurationSeconds
			}
		}
	}
	return bs, nil
}
