package tracker

import (
	"log"
	"strings"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// Alarm name grammar. The hostname is the exact configured string; rule
// IDs are opaque and may not contain "::".
const (
	alarmBadgeRefresh = "badge-refresh"

	resetPrefix    = "reset-"
	limitPrefix    = "limit-"
	notifyPrefix   = "notify-rule-"
	graceEndPrefix = "grace-end-"
	pauseEndPrefix = "pause-end-"
	notifySep      = "::"
)

func resetAlarmName(hostname string) string    { return resetPrefix + hostname }
func limitAlarmName(hostname string) string    { return limitPrefix + hostname }
func graceEndAlarmName(hostname string) string { return graceEndPrefix + hostname }
func pauseEndAlarmName(hostname string) string { return pauseEndPrefix + hostname }

func notifyAlarmName(ruleID, hostname string) string {
	return notifyPrefix + ruleID + notifySep + hostname
}

type alarmKind int

const (
	alarmUnknown alarmKind = iota
	alarmReset
	alarmLimit
	alarmNotify
	alarmGraceEnd
	alarmPauseEnd
	alarmBadge
)

// parseAlarmName routes a fired alarm name to its handler kind.
func parseAlarmName(name string) (kind alarmKind, hostname, ruleID string) {
	switch {
	case name == alarmBadgeRefresh:
		return alarmBadge, "", ""
	case strings.HasPrefix(name, resetPrefix):
		return alarmReset, name[len(resetPrefix):], ""
	case strings.HasPrefix(name, limitPrefix):
		return alarmLimit, name[len(limitPrefix):], ""
	case strings.HasPrefix(name, graceEndPrefix):
		return alarmGraceEnd, name[len(graceEndPrefix):], ""
	case strings.HasPrefix(name, pauseEndPrefix):
		return alarmPauseEnd, name[len(pauseEndPrefix):], ""
	case strings.HasPrefix(name, notifyPrefix):
		rest := name[len(notifyPrefix):]
		i := strings.LastIndex(rest, notifySep)
		if i < 0 {
			return alarmUnknown, "", ""
		}
		return alarmNotify, rest[i+len(notifySep):], rest[:i]
	}
	return alarmUnknown, "", ""
}

// scheduleTrackingAlarms arms the warning and limit alarms for a
// hostname that just started tracking, relative to now and the time
// already spent this period. Rules that already fired are skipped.
func (t *Tracker) scheduleTrackingAlarms(cfg *domain.HostnameConfig, settings *domain.GlobalSettings, usage *domain.HostnameUsage, now time.Time) {
	if settings.NotificationsEnabled {
		for _, rule := range domain.RulesFor(cfg, settings) {
			if !rule.Enabled || usage.Notifications[rule.ID] {
				continue
			}
			threshold := rule.Threshold(usage.LimitSeconds)
			if usage.TimeSpentSeconds >= threshold {
				continue
			}
			when := now.Add(time.Duration(threshold-usage.TimeSpentSeconds) * time.Second)
			err := t.b.Alarms.Create(notifyAlarmName(rule.ID, cfg.Hostname), browser.AlarmOptions{WhenMs: when.UnixMilli()})
			if err != nil {
				log.Printf("[%s] scheduling warning alarm: %v", cfg.Hostname, err)
			}
		}
	}

	remaining := usage.LimitSeconds - usage.TimeSpentSeconds
	if remaining < 0 {
		remaining = 0
	}
	when := now.Add(time.Duration(remaining) * time.Second)
	err := t.b.Alarms.Create(limitAlarmName(cfg.Hostname), browser.AlarmOptions{WhenMs: when.UnixMilli()})
	if err != nil {
		log.Printf("[%s] scheduling limit alarm: %v", cfg.Hostname, err)
	}
}

// clearTrackingAlarms drops the pending warning and limit alarms for a
// hostname. Best-effort: a racing fire is tolerated because handlers
// mark-then-act idempotently.
func (t *Tracker) clearTrackingAlarms(hostname string) {
	alarms, err := t.b.Alarms.All()
	if err != nil {
		log.Printf("[%s] enumerating alarms: %v", hostname, err)
		return
	}
	for _, a := range alarms {
		match := a.Name == limitAlarmName(hostname) ||
			(strings.HasPrefix(a.Name, notifyPrefix) && strings.HasSuffix(a.Name, notifySep+hostname))
		if !match {
			continue
		}
		if err := t.b.Alarms.Clear(a.Name); err != nil {
			log.Printf("[%s] clearing alarm %s: %v", hostname, a.Name, err)
		}
	}
}

// HandleAlarm routes a fired alarm onto the serial queue. Registered as
// the AlarmStore fired-name handler.
func (t *Tracker) HandleAlarm(name string) {
	kind, hostname, ruleID := parseAlarmName(name)
	switch kind {
	case alarmBadge:
		t.queue.submit("badge-refresh", func() { t.refreshBadge() })
	case alarmReset:
		t.queue.submit("reset "+hostname, func() { t.opReset(hostname) })
	case alarmLimit:
		t.queue.submit("limit "+hostname, func() { t.opLimitReached(hostname) })
	case alarmNotify:
		t.queue.submit("notify "+hostname, func() { t.opNotify(hostname, ruleID) })
	case alarmGraceEnd:
		t.queue.submit("grace-end "+hostname, func() { t.opGraceEnd(hostname) })
	case alarmPauseEnd:
		t.queue.submit("pause-end "+hostname, func() { t.opPauseEnd(hostname) })
	default:
		log.Printf("alarm: unrecognized name %q", name)
	}
}
