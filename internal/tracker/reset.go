package tracker

import (
	"log"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// scheduleNextReset arms the reset alarm for a hostname at its next
// reset moment.
func (t *Tracker) scheduleNextReset(cfg *domain.HostnameConfig, settings *domain.GlobalSettings) {
	next := domain.NextReset(cfg, settings, t.now())
	err := t.b.Alarms.Create(resetAlarmName(cfg.Hostname), browser.AlarmOptions{WhenMs: next.UnixMilli()})
	if err != nil {
		log.Printf("[%s] scheduling reset: %v", cfg.Hostname, err)
		return
	}
	log.Printf("[%s] next reset at %s", cfg.Hostname, next.Format(time.RFC3339))
}

// opReset handles a reset alarm: time accumulated so far belongs to the
// period that just ended, so it is written using now−1s as the period
// reference before anything can start a fresh period. Runs on the queue.
func (t *Tracker) opReset(hostname string) {
	cfg, err := t.store.Config(hostname)
	if err != nil {
		log.Printf("[%s] loading config for reset: %v", hostname, err)
		return
	}
	if cfg == nil || !cfg.Enabled {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		log.Printf("[%s] loading settings for reset: %v", hostname, err)
		return
	}
	now := t.now()

	if started, ok := t.obs.clearTracking(hostname); ok {
		elapsed := int64(now.Sub(started).Seconds())
		prevDate := domain.PeriodDate(cfg, settings, now.Add(-time.Second))
		_, err = t.store.UpdateUsage(hostname, prevDate, func(u *domain.HostnameUsage) {
			u.TimeSpentSeconds += elapsed
			u.CloseSession(now.UnixMilli(), elapsed)
		})
		if err != nil {
			log.Printf("[%s] writing final period time: %v", hostname, err)
		}
		t.clearTrackingAlarms(hostname)
	}

	// Grace state belongs to the old period.
	t.rtMu.Lock()
	delete(t.graceEndsAt, hostname)
	t.rtMu.Unlock()
	if err := t.b.Alarms.Clear(graceEndAlarmName(hostname)); err != nil {
		log.Printf("[%s] clearing grace alarm: %v", hostname, err)
	}

	t.scheduleNextReset(cfg, settings)

	// If tabs are still open, tracking restarts and lazily creates a
	// fresh usage record with a new limit/resetTime snapshot.
	t.reevaluate()
	log.Printf("[%s] period reset", hostname)
	t.emitEvent(EventReset, hostname)
}
