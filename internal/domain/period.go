package domain

import (
	"fmt"
	"time"
)

// DateLayout is the period-date format used throughout the usage log.
const DateLayout = "2006-01-02"

// ParseResetTime parses an "HH:MM" reset string into hour and minute.
func ParseResetTime(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid reset time %q", s)
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid reset time %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid reset time %q", s)
	}
	return hour, minute, nil
}

// EffectiveLimit resolves the daily limit for a weekday: the day override
// wins over the hostname default.
func EffectiveLimit(cfg *HostnameConfig, weekday time.Weekday) int64 {
	if ov, ok := cfg.DayOverrides[int(weekday)]; ok && ov.LimitSeconds != nil {
		return *ov.LimitSeconds
	}
	return cfg.DailyLimitSeconds
}

// EffectiveResetTime resolves the reset time for a weekday, most specific
// first: day override, then the hostname default, then the global default.
func EffectiveResetTime(cfg *HostnameConfig, settings *GlobalSettings, weekday time.Weekday) string {
	if ov, ok := cfg.DayOverrides[int(weekday)]; ok && ov.ResetTime != nil {
		return *ov.ResetTime
	}
	if cfg.ResetTime != nil {
		return *cfg.ResetTime
	}
	return settings.ResetTime
}

// resetMoment returns today's reset moment for now's weekday. The bool is
// false when the effective reset string does not parse.
func resetMoment(cfg *HostnameConfig, settings *GlobalSettings, now time.Time) (time.Time, bool) {
	rt := EffectiveResetTime(cfg, settings, now.Weekday())
	hour, minute, err := ParseResetTime(rt)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()), true
}

// PeriodDate computes the current period date for a hostname at the given
// wall clock. Before today's reset moment we are still in the period that
// began yesterday; at or after it, today's. The boundary instant belongs
// to the new period. An unparseable reset string falls back to today's
// calendar date.
func PeriodDate(cfg *HostnameConfig, settings *GlobalSettings, now time.Time) string {
	r, ok := resetMoment(cfg, settings, now)
	if !ok {
		return now.Format(DateLayout)
	}
	if now.Before(r) {
		return now.AddDate(0, 0, -1).Format(DateLayout)
	}
	return now.Format(DateLayout)
}

// NextReset computes the next reset moment for a hostname. If today's
// reset has not yet occurred it is the next; otherwise tomorrow's weekday
// decides. Unparseable reset strings fall back to midnight.
func NextReset(cfg *HostnameConfig, settings *GlobalSettings, now time.Time) time.Time {
	if r, ok := resetMoment(cfg, settings, now); ok && r.After(now) {
		return r
	}
	tomorrow := now.AddDate(0, 0, 1)
	rt := EffectiveResetTime(cfg, settings, tomorrow.Weekday())
	hour, minute, err := ParseResetTime(rt)
	if err != nil {
		hour, minute = 0, 0
	}
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, minute, 0, 0, now.Location())
}
