package domain

import (
	"sort"
)

// MaxUsageLogEntries caps the rolling usage log; overflow evicts the
// oldest period.
const MaxUsageLogEntries = 30

// Session is one contiguous stretch of tracked time. EndTime is nil while
// the session is open.
type Session struct {
	StartTime       int64  `json:"startTime"`
	EndTime         *int64 `json:"endTime"`
	DurationSeconds int64  `json:"durationSeconds"`
}

func (s Session) clone() Session {
	if s.EndTime != nil {
		v := *s.EndTime
		s.EndTime = &v
	}
	return s
}

// HostnameUsage is the per-hostname, per-period accounting record.
// LimitSeconds and ResetTime are frozen at creation and never rewritten.
type HostnameUsage struct {
	Hostname         string          `json:"hostname"`
	TimeSpentSeconds int64           `json:"timeSpentSeconds"`
	VisitCount       int             `json:"visitCount"`
	PausedSeconds    int64           `json:"pausedSeconds"`
	Blocked          bool            `json:"blocked"`
	BlockedAt        *int64          `json:"blockedAt,omitempty"`
	Sessions         []Session       `json:"sessions"`
	LimitSeconds     int64           `json:"limitSeconds"`
	ResetTime        string          `json:"resetTime"`
	Notifications    map[string]bool `json:"notifications"`
}

// OpenSession returns the newest session if it is still open, else nil.
// At most one session is open at any instant.
func (u *HostnameUsage) OpenSession() *Session {
	if len(u.Sessions) == 0 {
		return nil
	}
	last := &u.Sessions[len(u.Sessions)-1]
	if last.EndTime == nil {
		return last
	}
	return nil
}

// AppendSession opens a new session at startMs. Any session left open
// (e.g. after abrupt termination) is sealed in place first.
func (u *HostnameUsage) AppendSession(startMs int64) {
	if open := u.OpenSession(); open != nil {
		end := startMs
		open.EndTime = &end
	}
	u.Sessions = append(u.Sessions, Session{StartTime: startMs})
}

// CloseSession seals the open session at endMs, adding elapsedSeconds to
// its duration. Addition rather than recomputation keeps the close safe
// after partial flushes already banked part of the duration.
func (u *HostnameUsage) CloseSession(endMs, elapsedSeconds int64) {
	open := u.OpenSession()
	if open == nil {
		return
	}
	open.EndTime = &endMs
	open.DurationSeconds += elapsedSeconds
}

// Clone returns a deep copy safe to mutate independently.
func (u *HostnameUsage) Clone() *HostnameUsage {
	out := *u
	if u.BlockedAt != nil {
		v := *u.BlockedAt
		out.BlockedAt = &v
	}
	if len(u.Sessions) > 0 {
		out.Sessions = make([]Session, len(u.Sessions))
		for i, s := range u.Sessions {
			out.Sessions[i] = s.clone()
		}
	}
	if len(u.Notifications) > 0 {
		out.Notifications = make(map[string]bool, len(u.Notifications))
		for k, v := range u.Notifications {
			out.Notifications[k] = v
		}
	}
	return &out
}

// DailyUsage groups all hostname records for one period date.
type DailyUsage struct {
	Date      string          `json:"date"`
	Hostnames []HostnameUsage `json:"hostnames"`
}

// Hostname returns the usage record for a hostname, or nil.
func (d *DailyUsage) Hostname(hostname string) *HostnameUsage {
	for i := range d.Hostnames {
		if d.Hostnames[i].Hostname == hostname {
			return &d.Hostnames[i]
		}
	}
	return nil
}

func (d *DailyUsage) clone() DailyUsage {
	out := DailyUsage{Date: d.Date}
	if len(d.Hostnames) > 0 {
		out.Hostnames = make([]HostnameUsage, len(d.Hostnames))
		for i := range d.Hostnames {
			out.Hostnames[i] = *d.Hostnames[i].Clone()
		}
	}
	return out
}

// UsageLog is the rolling per-period log, sorted by date ascending and
// capped at MaxUsageLogEntries.
type UsageLog []DailyUsage

// Day returns the entry for a period date, or nil.
func (l UsageLog) Day(date string) *DailyUsage {
	for i := range l {
		if l[i].Date == date {
			return &l[i]
		}
	}
	return nil
}

// EnsureDay returns the entry for date, creating it if absent. Creation
// keeps the log sorted and enforces the rolling cap by discarding the
// oldest entries.
func (l *UsageLog) EnsureDay(date string) *DailyUsage {
	if d := l.Day(date); d != nil {
		return d
	}
	*l = append(*l, DailyUsage{Date: date})
	sort.Slice(*l, func(i, j int) bool { return (*l)[i].Date < (*l)[j].Date })
	if len(*l) > MaxUsageLogEntries {
		*l = (*l)[len(*l)-MaxUsageLogEntries:]
	}
	return l.Day(date)
}

// Clone returns a deep copy safe to mutate independently.
func (l UsageLog) Clone() UsageLog {
	if len(l) == 0 {
		return nil
	}
	out := make(UsageLog, len(l))
	for i := range l {
		out[i] = l[i].clone()
	}
	return out
}
