package tracker

import (
	"log"
	"strings"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// inGrace reports whether a hostname's grace countdown is running.
func (t *Tracker) inGrace(hostname string) bool {
	t.rtMu.RLock()
	defer t.rtMu.RUnlock()
	_, ok := t.graceEndsAt[hostname]
	return ok
}

// graceRemaining returns the seconds left in a hostname's grace period,
// or 0.
func (t *Tracker) graceRemaining(hostname string, now time.Time) int64 {
	t.rtMu.RLock()
	defer t.rtMu.RUnlock()
	ends, ok := t.graceEndsAt[hostname]
	if !ok {
		return 0
	}
	remaining := int64(ends.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// isBlockedNow reports whether the hostname's current period usage is
// blocked. False when the period has no usage yet.
func (t *Tracker) isBlockedNow(hostname string) bool {
	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil {
		return false
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return false
	}
	usage, err := t.store.Usage(hostname, domain.PeriodDate(cfg, settings, t.now()))
	if err != nil || usage == nil {
		return false
	}
	return usage.Blocked
}

// opLimitReached handles the limit alarm: stop tracking, re-check that
// the limit really is spent (a racing stop may have cleared the alarm
// late), then start the grace countdown or block outright.
func (t *Tracker) opLimitReached(hostname string) {
	t.stopTracking(hostname)

	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return
	}
	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	usage, err := t.store.Usage(hostname, date)
	if err != nil || usage == nil {
		return
	}
	if usage.Blocked || usage.TimeSpentSeconds < usage.LimitSeconds {
		return
	}

	if settings.GracePeriodSeconds <= 0 {
		t.blockHostname(hostname)
		return
	}

	ends := now.Add(time.Duration(settings.GracePeriodSeconds) * time.Second)
	t.rtMu.Lock()
	t.graceEndsAt[hostname] = ends
	t.rtMu.Unlock()

	err = t.b.Alarms.Create(graceEndAlarmName(hostname), browser.AlarmOptions{WhenMs: ends.UnixMilli()})
	if err != nil {
		log.Printf("[%s] scheduling grace end: %v", hostname, err)
	}
	t.dispatchNotification(graceEndAlarmName(hostname), hostname,
		"Time limit reached",
		"Your daily time on {hostname} is used up. Access will be blocked shortly.")
	log.Printf("[%s] grace period started (%ds)", hostname, settings.GracePeriodSeconds)
	t.emitEvent(EventGraceStarted, hostname)
	t.refreshBadge()
}

// opGraceEnd handles the grace-end alarm.
func (t *Tracker) opGraceEnd(hostname string) {
	t.rtMu.Lock()
	delete(t.graceEndsAt, hostname)
	t.rtMu.Unlock()
	t.blockHostname(hostname)
}

// blockHostname durably marks the current period blocked and redirects
// every known open tab of the hostname to the blocked page.
func (t *Tracker) blockHostname(hostname string) {
	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return
	}
	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	limit := domain.EffectiveLimit(cfg, now.Weekday())
	resetTime := domain.EffectiveResetTime(cfg, settings, now.Weekday())
	if err := t.store.EnsureUsage(hostname, date, limit, resetTime); err != nil {
		log.Printf("[%s] ensuring usage for block: %v", hostname, err)
		return
	}

	t.stopTracking(hostname)

	_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
		if u.Blocked {
			return
		}
		u.Blocked = true
		at := now.UnixMilli()
		u.BlockedAt = &at
	})
	if err != nil {
		log.Printf("[%s] marking blocked: %v", hostname, err)
		return
	}

	for _, tabID := range t.obs.tabsOf(hostname) {
		if err := t.b.Navigation.RedirectToBlocked(tabID, hostname); err != nil {
			log.Printf("[%s] redirecting tab %d: %v", hostname, tabID, err)
			continue
		}
		// The tab now shows the local blocked page.
		t.obs.unregisterTab(tabID)
	}
	log.Printf("[%s] blocked until next reset", hostname)
	t.emitEvent(EventBlocked, hostname)
	t.refreshBadge()
}

// dispatchNotification is best-effort: failures are logged and
// swallowed. {hostname} in the title and message is substituted.
func (t *Tracker) dispatchNotification(id, hostname, title, message string) {
	settings, err := t.store.LoadSettings()
	if err != nil || !settings.NotificationsEnabled {
		return
	}
	n := browser.Notification{
		Title:   strings.ReplaceAll(title, "{hostname}", hostname),
		Message: strings.ReplaceAll(message, "{hostname}", hostname),
	}
	if n.Title == "" {
		n.Title = hostname
	}
	if err := t.b.Notifications.Create(id, n); err != nil {
		log.Printf("[%s] notification dispatch: %v", hostname, err)
	}
}
