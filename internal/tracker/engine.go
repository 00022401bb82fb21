// Package tracker is the event-driven core of TimeWarden: the attention
// observer, the serialized tracking state machine, period resets, the
// grace/block lifecycle, pausing, and the toolbar badge. Every mutating
// operation runs on a single FIFO queue; that ordering is the primary
// correctness mechanism for storage read-modify-writes.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
	"github.com/timewarden/backend/internal/storage"
)

// EventType classifies engine events pushed to observers (the websocket
// broadcaster).
type EventType string

const (
	EventStatus       EventType = "status"
	EventGraceStarted EventType = "grace_started"
	EventBlocked      EventType = "blocked"
	EventReset        EventType = "reset"
	EventNotification EventType = "notification"
)

// Event carries a hostname's fresh status snapshot to observers.
type Event struct {
	Type     EventType
	Hostname string
	Status   *Status
}

// Options tunes engine timings.
type Options struct {
	// FlushInterval is the periodic persistence cadence for live
	// tracking time. Zero means 30 seconds.
	FlushInterval time.Duration

	// IdleDetectionSeconds is pushed to the host IdleMonitor. Zero
	// means 60.
	IdleDetectionSeconds int

	// InitRetry is the delay before retrying a failed initialization.
	// Zero means 5 seconds.
	InitRetry time.Duration
}

type Tracker struct {
	store *storage.Store
	b     browser.Browser
	queue *queue
	obs   *observer
	now   func() time.Time

	flushInterval        time.Duration
	idleDetectionSeconds int
	initRetry            time.Duration

	// Runtime-only state, never persisted. Process death during grace
	// means the grace-end alarm (alarm-store backed) re-drives the
	// block; missing pause state reads as "not paused".
	rtMu        sync.RWMutex
	paused      map[string]*pauseState
	graceEndsAt map[string]time.Time

	badgeMu    sync.Mutex
	badgeTimer *time.Timer

	flushCh chan time.Duration

	sinkMu sync.RWMutex
	sink   func(Event)
}

func New(store *storage.Store, b browser.Browser, opts Options) *Tracker {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.IdleDetectionSeconds <= 0 {
		opts.IdleDetectionSeconds = 60
	}
	if opts.InitRetry <= 0 {
		opts.InitRetry = 5 * time.Second
	}
	t := &Tracker{
		store:                store,
		b:                    b,
		queue:                newQueue(),
		obs:                  newObserver(),
		now:                  time.Now,
		flushInterval:        opts.FlushInterval,
		idleDetectionSeconds: opts.IdleDetectionSeconds,
		initRetry:            opts.InitRetry,
		paused:               make(map[string]*pauseState),
		graceEndsAt:          make(map[string]time.Time),
		flushCh:              make(chan time.Duration, 1),
	}
	b.Alarms.OnFired(t.HandleAlarm)
	return t
}

// SetEventSink registers the observer for engine events. Must be called
// before Run.
func (t *Tracker) SetEventSink(sink func(Event)) {
	t.sinkMu.Lock()
	t.sink = sink
	t.sinkMu.Unlock()
}

func (t *Tracker) emitEvent(typ EventType, hostname string) {
	t.sinkMu.RLock()
	sink := t.sink
	t.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	status, err := t.Status(hostname)
	if err != nil {
		log.Printf("[%s] building event status: %v", hostname, err)
	}
	sink(Event{Type: typ, Hostname: hostname, Status: status})
}

// SetFlushInterval changes the periodic flush cadence at runtime
// (daemon config hot reload).
func (t *Tracker) SetFlushInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case t.flushCh <- d:
	default:
	}
}

// Run drives the serial queue and the periodic flush until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.queue.submit("flush", t.opFlush)
			case d := <-t.flushCh:
				ticker.Reset(d)
			}
		}
	}()

	log.Printf("Tracker started (flush every %s)", t.flushInterval)
	t.queue.run(ctx)
	log.Println("Tracker stopped")
}

// do submits fn and waits for it to complete. External entry points
// only; queued operations must never call it.
func (t *Tracker) do(name string, fn func()) {
	done := make(chan struct{})
	t.queue.submit(name, func() {
		defer close(done)
		fn()
	})
	<-done
}

// Init runs startup recovery: hostname cache, open-tab scan with one
// visit per unique hostname, focus/idle state, missed-reset
// rescheduling, and blocked-tab enforcement. On failure it logs and
// retries after the configured delay so the process never stays
// uninitialized.
func (t *Tracker) Init() {
	t.queue.submit("init", func() {
		if err := t.initialize(); err != nil {
			log.Printf("Initialization failed, retrying in %s: %v", t.initRetry, err)
			time.AfterFunc(t.initRetry, t.Init)
		}
	})
}

func (t *Tracker) initialize() error {
	settings, err := t.store.LoadSettings()
	if err != nil {
		return err
	}
	configs, err := t.store.LoadConfigs()
	if err != nil {
		return err
	}

	t.b.Idle.SetDetectionInterval(t.idleDetectionSeconds)

	enabled := make([]string, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			enabled = append(enabled, cfg.Hostname)
		}
	}
	t.obs.reset()
	t.obs.setEnabled(enabled)

	// Scan open tabs. Startup recovery emits one visit per unique
	// hostname, not per tab.
	tabs, err := t.b.Tabs.Tabs()
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, tab := range tabs {
		hostname := t.obs.matchEnabled(tab.URL)
		if hostname == "" {
			continue
		}
		t.obs.registerTab(hostname, tab.ID, tab.Audible)
		seen[hostname] = true
	}
	for hostname := range seen {
		t.visit(hostname)
	}

	windows, err := t.b.Windows.Windows()
	if err != nil {
		return err
	}
	focused := browser.WindowNone
	for _, w := range windows {
		if w.Focused {
			focused = w.ID
			break
		}
	}
	activeTab := -1
	if focused != browser.WindowNone {
		for _, tab := range tabs {
			if tab.WindowID == focused && tab.Active {
				activeTab = tab.ID
				break
			}
		}
	}
	t.obs.setFocusedWindow(focused, activeTab)

	idle, err := t.b.Idle.State()
	if err != nil {
		return err
	}
	t.obs.setIdle(idle != browser.IdleActive)

	// Missed resets: recompute and reschedule every enabled hostname.
	// The period-date function naturally assigns new time to the new
	// period.
	for _, cfg := range configs {
		if cfg.Enabled {
			t.scheduleNextReset(cfg, settings)
		}
	}

	// Startup enforcement: redirect tabs sitting on a blocked hostname.
	for _, tab := range tabs {
		hostname := t.obs.matchEnabled(tab.URL)
		if hostname == "" {
			continue
		}
		if t.isBlockedNow(hostname) && !t.inGrace(hostname) {
			if err := t.b.Navigation.RedirectToBlocked(tab.ID, hostname); err != nil {
				log.Printf("[%s] startup redirect of tab %d: %v", hostname, tab.ID, err)
			}
			t.obs.unregisterTab(tab.ID)
		}
	}

	if err := t.b.Alarms.Create(alarmBadgeRefresh, browser.AlarmOptions{PeriodMinutes: 0.5}); err != nil {
		log.Printf("scheduling badge refresh: %v", err)
	}

	t.reevaluate()
	log.Printf("Tracker initialized: %d hostnames enabled, %d tabs matched", len(enabled), len(seen))
	return nil
}

// --- browser event entry points ---

// TabActivated records the newly active tab.
func (t *Tracker) TabActivated(tabID, windowID int) {
	t.queue.submit("tab-activated", func() {
		t.obs.setActiveTab(tabID)
		t.reevaluate()
	})
}

// TabUpdated handles URL and audible changes for a tab. A URL change
// re-matches the hostname, moves the tab's registration, emits a visit
// for the new hostname, and is the navigation interception point for
// blocked hostnames.
func (t *Tracker) TabUpdated(tabID int, changes browser.TabChanges, tab browser.Tab) {
	t.queue.submit("tab-updated", func() {
		if changes.URL != nil {
			t.handleNavigation(tabID, *changes.URL, tab)
		}
		if changes.Audible != nil {
			t.obs.setAudible(tabID, *changes.Audible)
		}
		t.reevaluate()
	})
}

// handleNavigation runs on the queue.
func (t *Tracker) handleNavigation(tabID int, rawURL string, tab browser.Tab) {
	if t.b.Navigation.IsLocalURL(rawURL) {
		t.obs.unregisterTab(tabID)
		return
	}
	newHost := t.obs.matchEnabled(rawURL)
	oldHost := t.obs.hostForTab(tabID)

	if newHost != "" && t.isBlockedNow(newHost) && !t.inGrace(newHost) {
		log.Printf("[%s] navigation intercepted, tab %d blocked", newHost, tabID)
		if err := t.b.Navigation.RedirectToBlocked(tabID, newHost); err != nil {
			log.Printf("[%s] redirecting tab %d: %v", newHost, tabID, err)
		}
		t.obs.unregisterTab(tabID)
		return
	}

	if newHost == oldHost {
		return
	}
	if oldHost != "" {
		t.obs.unregisterTab(tabID)
	}
	if newHost != "" {
		t.obs.registerTab(newHost, tabID, tab.Audible)
		t.visit(newHost)
	}
}

// TabRemoved drops a closed tab.
func (t *Tracker) TabRemoved(tabID int) {
	t.queue.submit("tab-removed", func() {
		t.obs.unregisterTab(tabID)
		t.reevaluate()
	})
}

// WindowFocusChanged records the focused window and recomputes the
// active tab. browser.WindowNone means no window has focus.
func (t *Tracker) WindowFocusChanged(windowID int) {
	t.queue.submit("window-focus", func() {
		if windowID == browser.WindowNone {
			t.obs.setFocusedWindow(browser.WindowNone, -1)
			t.reevaluate()
			return
		}
		activeTab := -1
		tabs, err := t.b.Tabs.Tabs()
		if err != nil {
			log.Printf("listing tabs on focus change: %v", err)
		} else {
			for _, tab := range tabs {
				if tab.WindowID == windowID && tab.Active {
					activeTab = tab.ID
					break
				}
			}
		}
		t.obs.setFocusedWindow(windowID, activeTab)
		t.reevaluate()
	})
}

// IdleStateChanged records the host idle state.
func (t *Tracker) IdleStateChanged(state browser.IdleState) {
	t.queue.submit("idle-state", func() {
		t.obs.setIdle(state != browser.IdleActive)
		t.reevaluate()
	})
}

// --- the state machine ---

// decide applies the decision procedure including the pause veto.
func (t *Tracker) decide(hostname string) *domain.Reason {
	if t.isPaused(hostname) {
		return nil
	}
	return t.obs.decide(hostname)
}

// reevaluate walks every hostname with runtime state and reconciles
// tracking ON/OFF with the decision procedure. Runs on the queue.
func (t *Tracker) reevaluate() {
	for _, hostname := range t.obs.hostnames() {
		decision := t.decide(hostname)
		started, reason, ok := t.obs.trackingState(hostname)
		tracking := ok && !started.IsZero()

		switch {
		case decision != nil && !tracking:
			t.startTracking(hostname, *decision)
		case decision == nil && tracking:
			t.stopTracking(hostname)
		case decision != nil && tracking && reason != nil && *decision != *reason:
			t.obs.updateReason(hostname, *decision)
		}
	}
	t.obs.prune()
	t.refreshBadge()
}

// startTracking flips tracking ON for a hostname: it lazily creates the
// period usage (freezing limit/resetTime), opens a session, and arms the
// warning and limit alarms. Runs on the queue.
func (t *Tracker) startTracking(hostname string, reason domain.Reason) {
	cfg, err := t.store.Config(hostname)
	if err != nil {
		log.Printf("[%s] loading config: %v", hostname, err)
		return
	}
	if cfg == nil || !cfg.Enabled {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		log.Printf("[%s] loading settings: %v", hostname, err)
		return
	}

	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	limit := domain.EffectiveLimit(cfg, now.Weekday())
	resetTime := domain.EffectiveResetTime(cfg, settings, now.Weekday())
	if err := t.store.EnsureUsage(hostname, date, limit, resetTime); err != nil {
		log.Printf("[%s] ensuring usage: %v", hostname, err)
		return
	}
	usage, err := t.store.Usage(hostname, date)
	if err != nil || usage == nil {
		log.Printf("[%s] reading usage: %v", hostname, err)
		return
	}
	if usage.Blocked || t.inGrace(hostname) {
		return
	}

	t.obs.markTracking(hostname, now, reason)
	_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
		u.AppendSession(now.UnixMilli())
	})
	if err != nil {
		log.Printf("[%s] opening session: %v", hostname, err)
	}
	t.scheduleTrackingAlarms(cfg, settings, usage, now)
	log.Printf("[%s] tracking started (%s)", hostname, reason)
	t.emitEvent(EventStatus, hostname)
}

// stopTracking flips tracking OFF: banks elapsed time, closes the open
// session, and clears the warning/limit alarms. Runs on the queue.
func (t *Tracker) stopTracking(hostname string) {
	started, ok := t.obs.clearTracking(hostname)
	if !ok {
		return
	}
	now := t.now()
	elapsed := int64(now.Sub(started).Seconds())

	cfg, err := t.store.Config(hostname)
	if err != nil {
		log.Printf("[%s] loading config: %v", hostname, err)
	}
	if cfg != nil {
		settings, err := t.store.LoadSettings()
		if err != nil {
			log.Printf("[%s] loading settings: %v", hostname, err)
			return
		}
		date := domain.PeriodDate(cfg, settings, now)
		_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
			u.TimeSpentSeconds += elapsed
			u.CloseSession(now.UnixMilli(), elapsed)
		})
		if err != nil {
			log.Printf("[%s] closing session: %v", hostname, err)
		}
	}
	t.clearTrackingAlarms(hostname)
	log.Printf("[%s] tracking stopped (+%ds)", hostname, elapsed)
	t.emitEvent(EventStatus, hostname)
}

// visit counts one navigation into a hostname, lazily creating the
// period usage first. Runs on the queue, which orders it before any
// start-tracking enqueued after it.
func (t *Tracker) visit(hostname string) {
	cfg, err := t.store.Config(hostname)
	if err != nil {
		log.Printf("[%s] loading config: %v", hostname, err)
		return
	}
	if cfg == nil || !cfg.Enabled {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		log.Printf("[%s] loading settings: %v", hostname, err)
		return
	}
	now := t.now()
	date := domain.PeriodDate(cfg, settings, now)
	limit := domain.EffectiveLimit(cfg, now.Weekday())
	resetTime := domain.EffectiveResetTime(cfg, settings, now.Weekday())
	if err := t.store.EnsureUsage(hostname, date, limit, resetTime); err != nil {
		log.Printf("[%s] ensuring usage: %v", hostname, err)
		return
	}
	_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
		u.VisitCount++
	})
	if err != nil {
		log.Printf("[%s] counting visit: %v", hostname, err)
	}
	t.emitEvent(EventStatus, hostname)
}

// opFlush banks live elapsed time for every tracked hostname and rebases
// startedAt, keeping storage current for status queries and abrupt
// termination without double counting.
func (t *Tracker) opFlush() {
	now := t.now()
	for _, hostname := range t.obs.hostnames() {
		started, _, ok := t.obs.trackingState(hostname)
		if !ok || started.IsZero() {
			continue
		}
		elapsed := int64(now.Sub(started).Seconds())
		if elapsed <= 0 {
			continue
		}
		cfg, err := t.store.Config(hostname)
		if err != nil || cfg == nil {
			continue
		}
		settings, err := t.store.LoadSettings()
		if err != nil {
			continue
		}
		date := domain.PeriodDate(cfg, settings, now)
		_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
			u.TimeSpentSeconds += elapsed
			if open := u.OpenSession(); open != nil {
				open.DurationSeconds += elapsed
			}
		})
		if err != nil {
			log.Printf("[%s] flushing: %v", hostname, err)
			continue
		}
		t.obs.rebaseTracking(hostname, now)
	}
}

// Suspend is the shutdown safety net: after all pending operations
// drain, it banks elapsed time and seals open sessions without
// resetting startedAt (the process is exiting). Synchronous.
func (t *Tracker) Suspend() {
	t.do("suspend", func() {
		now := t.now()
		for _, hostname := range t.obs.hostnames() {
			started, _, ok := t.obs.trackingState(hostname)
			if !ok || started.IsZero() {
				continue
			}
			elapsed := int64(now.Sub(started).Seconds())
			cfg, err := t.store.Config(hostname)
			if err != nil || cfg == nil {
				continue
			}
			settings, err := t.store.LoadSettings()
			if err != nil {
				continue
			}
			date := domain.PeriodDate(cfg, settings, now)
			_, err = t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
				u.TimeSpentSeconds += elapsed
				u.CloseSession(now.UnixMilli(), elapsed)
			})
			if err != nil {
				log.Printf("[%s] suspend persist: %v", hostname, err)
			}
		}
		log.Println("Suspend persistence pass complete")
	})
}

// opNotify handles a fired warning alarm: mark-then-dispatch, idempotent
// against duplicate fires.
func (t *Tracker) opNotify(hostname, ruleID string) {
	cfg, err := t.store.Config(hostname)
	if err != nil || cfg == nil {
		return
	}
	settings, err := t.store.LoadSettings()
	if err != nil {
		return
	}
	if !settings.NotificationsEnabled {
		return
	}
	date := domain.PeriodDate(cfg, settings, t.now())

	already := false
	found, err := t.store.UpdateUsage(hostname, date, func(u *domain.HostnameUsage) {
		if u.Notifications[ruleID] {
			already = true
			return
		}
		if u.Notifications == nil {
			u.Notifications = make(map[string]bool)
		}
		u.Notifications[ruleID] = true
	})
	if err != nil || !found || already {
		return
	}

	rules := domain.RulesFor(cfg, settings)
	var rule *domain.NotificationRule
	for i := range rules {
		if rules[i].ID == ruleID {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		return
	}
	t.dispatchNotification(notifyAlarmName(ruleID, hostname), hostname, rule.Title, rule.Message)
	t.emitEvent(EventNotification, hostname)
}
