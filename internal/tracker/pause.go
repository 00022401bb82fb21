package tracker

import (
	"log"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// pauseState is the runtime-only record of one paused hostname.
// previousPausedSeconds is the storage value at pause start; the final
// value is written on resume.
type pauseState struct {
	pausedAt              time.Time
	previousPausedSeconds int64
	allowanceSeconds      int64
}

// PauseResult answers a TogglePause request.
type PauseResult struct {
	Success               bool  `json:"success"`
	IsPaused              bool  `json:"isPaused"`
	PauseRemainingSeconds int64 `json:"pauseRemainingSeconds"`
}

func (t *Tracker) isPaused(hostname string) bool {
	t.rtMu.RLock()
	defer t.rtMu.RUnlock()
	_, ok := t.paused[hostname]
	return ok
}

// pauseRemaining returns (remaining allowance seconds, paused?) for a
// hostname at now.
func (t *Tracker) pauseRemaining(hostname string, now time.Time) (int64, bool) {
	t.rtMu.RLock()
	defer t.rtMu.RUnlock()
	ps, ok := t.paused[hostname]
	if !ok {
		return 0, false
	}
	elapsed := int64(now.Sub(ps.pausedAt).Seconds())
	remaining := ps.allowanceSeconds - ps.previousPausedSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// TogglePause pauses or resumes a hostname. Synchronous: the caller gets
// the outcome after the queued operation completes.
func (t *Tracker) TogglePause(hostname string) PauseResult {
	var res PauseResult
	t.do("toggle-pause "+hostname, func() {
		res = t.togglePause(hostname)
	})
	return res
}

func (t *Tracker) togglePause(hostname string) PauseResult {
	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil || !cfg.Enabled {
		return PauseResult{}
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return PauseResult{}
	}
	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	usage, err := t.store.Usage(hostname, date)
	if err != nil {
		return PauseResult{}
	}
	if usage != nil && usage.Blocked {
		return PauseResult{}
	}

	if t.isPaused(hostname) {
		return t.resume(hostname, cfg, settings, now)
	}

	var pausedSoFar int64
	if usage != nil {
		pausedSoFar = usage.PausedSeconds
	}
	remaining := cfg.PauseAllowanceSeconds - pausedSoFar
	if remaining <= 0 {
		return PauseResult{Success: false, IsPaused: false, PauseRemainingSeconds: 0}
	}

	t.stopTracking(hostname)

	t.rtMu.Lock()
	t.paused[hostname] = &pauseState{
		pausedAt:              now,
		previousPausedSeconds: pausedSoFar,
		allowanceSeconds:      cfg.PauseAllowanceSeconds,
	}
	t.rtMu.Unlock()

	ends := now.Add(time.Duration(remaining) * time.Second)
	if err := t.b.Alarms.Create(pauseEndAlarmName(hostname), browser.AlarmOptions{WhenMs: ends.UnixMilli()}); err != nil {
		log.Printf("[%s] scheduling pause end: %v", hostname, err)
	}
	log.Printf("[%s] paused (%ds allowance remaining)", hostname, remaining)
	t.refreshBadge()
	t.emitEvent(EventStatus, hostname)
	return PauseResult{Success: true, IsPaused: true, PauseRemainingSeconds: remaining}
}

// resume ends a pause: banks the paused seconds, clears the pause-end
// alarm, and lets re-evaluate restart tracking. Runs on the queue (also
// the pause-end alarm handler path).
func (t *Tracker) resume(hostname string, cfg *domain.HostnameConfig, settings *domain.GlobalSettings, now time.Time) PauseResult {
	t.rtMu.Lock()
	ps, ok := t.paused[hostname]
	if ok {
		delete(t.paused, hostname)
	}
	t.rtMu.Unlock()
	if !ok {
		return PauseResult{}
	}

	elapsed := int64(now.Sub(ps.pausedAt).Seconds())
	if avail := ps.allowanceSeconds - ps.previousPausedSeconds; elapsed > avail {
		elapsed = avail
	}
	total := ps.previousPausedSeconds + elapsed

	date := domain.PeriodDate(cfg, settings, now)
	limit := domain.EffectiveLimit(cfg, now.Weekday())
	resetTime := domain.EffectiveResetTime(cfg, settings, now.Weekday())
	if err := t.store.EnsureUsage(hostname, date, limit, resetTime); err != nil {
		log.Printf("[%s] ensuring usage on resume: %v", hostname, err)
	}
	_, err := t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
		u.PausedSeconds = total
	})
	if err != nil {
		log.Printf("[%s] writing paused seconds: %v", hostname, err)
	}
	if err := t.b.Alarms.Clear(pauseEndAlarmName(hostname)); err != nil {
		log.Printf("[%s] clearing pause alarm: %v", hostname, err)
	}

	remaining := ps.allowanceSeconds - total
	if remaining < 0 {
		remaining = 0
	}
	log.Printf("[%s] resumed (%ds paused, %ds allowance left)", hostname, elapsed, remaining)
	t.reevaluate()
	t.emitEvent(EventStatus, hostname)
	return PauseResult{Success: true, IsPaused: false, PauseRemainingSeconds: remaining}
}

// opPauseEnd handles the pause-end alarm: allowance exhausted, resume.
func (t *Tracker) opPauseEnd(hostname string) {
	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil {
		t.rtMu.Lock()
		delete(t.paused, hostname)
		t.rtMu.Unlock()
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return
	}
	t.resume(hostname, cfg, settings, t.now())
}
