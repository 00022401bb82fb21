package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification rule types. A percentage rule fires when usage crosses a
// fraction of the period limit; a time rule fires when a fixed number of
// seconds remains.
const (
	RulePercentage = "percentage"
	RuleTime       = "time"
)

// NotificationRule is a single warning threshold. Exactly one of
// PercentageUsed / TimeRemainingSeconds is set, matching Type.
type NotificationRule struct {
	ID                   string `json:"id"`
	Enabled              bool   `json:"enabled"`
	Type                 string `json:"type"`
	PercentageUsed       *int64 `json:"percentageUsed,omitempty"`
	TimeRemainingSeconds *int64 `json:"timeRemainingSeconds,omitempty"`
	Title                string `json:"title,omitempty"`
	Message              string `json:"message,omitempty"`
}

// Validate checks the rule's type/value pairing.
func (r *NotificationRule) Validate() error {
	switch r.Type {
	case RulePercentage:
		if r.PercentageUsed == nil || r.TimeRemainingSeconds != nil {
			return fmt.Errorf("percentage rule %q must set percentageUsed only", r.ID)
		}
		if *r.PercentageUsed < 1 || *r.PercentageUsed > 100 {
			return fmt.Errorf("percentage rule %q out of range: %d", r.ID, *r.PercentageUsed)
		}
	case RuleTime:
		if r.TimeRemainingSeconds == nil || r.PercentageUsed != nil {
			return fmt.Errorf("time rule %q must set timeRemainingSeconds only", r.ID)
		}
		if *r.TimeRemainingSeconds < 1 {
			return fmt.Errorf("time rule %q out of range: %d", r.ID, *r.TimeRemainingSeconds)
		}
	default:
		return fmt.Errorf("rule %q has unknown type %q", r.ID, r.Type)
	}
	return nil
}

// Threshold returns the timeSpent value (seconds) at which the rule fires
// for the given period limit.
func (r *NotificationRule) Threshold(limitSeconds int64) int64 {
	switch r.Type {
	case RulePercentage:
		if r.PercentageUsed == nil {
			return 0
		}
		return *r.PercentageUsed * limitSeconds / 100
	case RuleTime:
		if r.TimeRemainingSeconds == nil {
			return 0
		}
		return limitSeconds - *r.TimeRemainingSeconds
	}
	return 0
}

func (r NotificationRule) clone() NotificationRule {
	if r.PercentageUsed != nil {
		v := *r.PercentageUsed
		r.PercentageUsed = &v
	}
	if r.TimeRemainingSeconds != nil {
		v := *r.TimeRemainingSeconds
		r.TimeRemainingSeconds = &v
	}
	return r
}

// DayOverride adjusts the limit and/or reset time for one weekday
// (0=Sunday .. 6=Saturday). Nil fields inherit the hostname defaults.
type DayOverride struct {
	LimitSeconds *int64  `json:"limitSeconds,omitempty"`
	ResetTime    *string `json:"resetTime,omitempty"`
}

// HostnameConfig is the durable per-site configuration.
type HostnameConfig struct {
	Hostname               string              `json:"hostname"`
	Enabled                bool                `json:"enabled"`
	DailyLimitSeconds      int64               `json:"dailyLimitSeconds"`
	PauseAllowanceSeconds  int64               `json:"pauseAllowanceSeconds"`
	ResetTime              *string             `json:"resetTime"`
	DayOverrides           map[int]DayOverride `json:"dayOverrides,omitempty"`
	CreatedAt              int64               `json:"createdAt"`
	NotificationRules      []NotificationRule  `json:"notificationRules,omitempty"`
	UseGlobalNotifications bool                `json:"useGlobalNotifications"`
}

// Validate checks field ranges and the well-formedness of reset strings.
func (c *HostnameConfig) Validate() error {
	if c.Hostname == "" || c.Hostname != NormalizeHostname(c.Hostname) {
		return fmt.Errorf("hostname %q is not normalized", c.Hostname)
	}
	if c.DailyLimitSeconds < 1 || c.DailyLimitSeconds > 86400 {
		return fmt.Errorf("%s: dailyLimitSeconds out of range: %d", c.Hostname, c.DailyLimitSeconds)
	}
	if c.PauseAllowanceSeconds < 0 || c.PauseAllowanceSeconds > 3600 {
		return fmt.Errorf("%s: pauseAllowanceSeconds out of range: %d", c.Hostname, c.PauseAllowanceSeconds)
	}
	if c.ResetTime != nil {
		if _, _, err := ParseResetTime(*c.ResetTime); err != nil {
			return fmt.Errorf("%s: %w", c.Hostname, err)
		}
	}
	for day, ov := range c.DayOverrides {
		if day < 0 || day > 6 {
			return fmt.Errorf("%s: dayOverrides key out of range: %d", c.Hostname, day)
		}
		if ov.LimitSeconds != nil && (*ov.LimitSeconds < 1 || *ov.LimitSeconds > 86400) {
			return fmt.Errorf("%s: day %d limitSeconds out of range: %d", c.Hostname, day, *ov.LimitSeconds)
		}
		if ov.ResetTime != nil {
			if _, _, err := ParseResetTime(*ov.ResetTime); err != nil {
				return fmt.Errorf("%s: day %d: %w", c.Hostname, day, err)
			}
		}
	}
	for i := range c.NotificationRules {
		if err := c.NotificationRules[i].Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.Hostname, err)
		}
	}
	return nil
}

// Normalize fills derived fields before persisting: lowercases the
// hostname, stamps CreatedAt on first save, and assigns IDs to rules
// created without one.
func (c *HostnameConfig) Normalize(now time.Time) {
	c.Hostname = NormalizeHostname(c.Hostname)
	if c.CreatedAt == 0 {
		c.CreatedAt = now.UnixMilli()
	}
	for i := range c.NotificationRules {
		if c.NotificationRules[i].ID == "" {
			c.NotificationRules[i].ID = uuid.New().String()
		}
	}
}

// Clone returns a deep copy safe to mutate independently.
func (c *HostnameConfig) Clone() *HostnameConfig {
	out := *c
	if c.ResetTime != nil {
		v := *c.ResetTime
		out.ResetTime = &v
	}
	if len(c.DayOverrides) > 0 {
		out.DayOverrides = make(map[int]DayOverride, len(c.DayOverrides))
		for day, ov := range c.DayOverrides {
			if ov.LimitSeconds != nil {
				v := *ov.LimitSeconds
				ov.LimitSeconds = &v
			}
			if ov.ResetTime != nil {
				v := *ov.ResetTime
				ov.ResetTime = &v
			}
			out.DayOverrides[day] = ov
		}
	}
	if len(c.NotificationRules) > 0 {
		out.NotificationRules = make([]NotificationRule, len(c.NotificationRules))
		for i, r := range c.NotificationRules {
			out.NotificationRules[i] = r.clone()
		}
	}
	return &out
}

// GlobalSettings is the durable cross-site configuration document.
type GlobalSettings struct {
	ResetTime            string             `json:"resetTime"`
	NotificationsEnabled bool               `json:"notificationsEnabled"`
	GracePeriodSeconds   int64              `json:"gracePeriodSeconds"`
	Theme                string             `json:"theme"`
	NotificationRules    []NotificationRule `json:"notificationRules"`
}

// Validate checks the settings document; invalid documents are replaced
// wholesale with defaults on load.
func (s *GlobalSettings) Validate() error {
	if _, _, err := ParseResetTime(s.ResetTime); err != nil {
		return err
	}
	if s.GracePeriodSeconds < 0 {
		return fmt.Errorf("gracePeriodSeconds negative: %d", s.GracePeriodSeconds)
	}
	for i := range s.NotificationRules {
		if err := s.NotificationRules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy safe to mutate independently.
func (s *GlobalSettings) Clone() *GlobalSettings {
	out := *s
	if len(s.NotificationRules) > 0 {
		out.NotificationRules = make([]NotificationRule, len(s.NotificationRules))
		for i, r := range s.NotificationRules {
			out.NotificationRules[i] = r.clone()
		}
	}
	return &out
}

func int64ptr(v int64) *int64 { return &v }

// DefaultGlobalSettings returns the settings used until the user saves
// their own: midnight reset, notifications on, 30-second grace, and two
// stock warning rules at 50% and 90% of the limit.
func DefaultGlobalSettings() *GlobalSettings {
	return &GlobalSettings{
		ResetTime:            "00:00",
		NotificationsEnabled: true,
		GracePeriodSeconds:   30,
		Theme:                "system",
		NotificationRules: []NotificationRule{
			{
				ID:             "default-50",
				Enabled:        true,
				Type:           RulePercentage,
				PercentageUsed: int64ptr(50),
				Title:          "Halfway there",
				Message:        "You have used half of your daily time on {hostname}.",
			},
			{
				ID:             "default-90",
				Enabled:        true,
				Type:           RulePercentage,
				PercentageUsed: int64ptr(90),
				Title:          "Almost out of time",
				Message:        "You have used 90% of your daily time on {hostname}.",
			},
		},
	}
}

// RulesFor resolves the notification rules in effect for a hostname:
// the per-hostname list, or the global list when the config opts in or
// has no rules of its own.
func RulesFor(cfg *HostnameConfig, settings *GlobalSettings) []NotificationRule {
	if cfg.UseGlobalNotifications || len(cfg.NotificationRules) == 0 {
		return settings.NotificationRules
	}
	return cfg.NotificationRules
}
