package tracker

import (
	"testing"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

var testStart = time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

const testDate = "2026-07-29"

// Simple accrual: a focused tab accrues exactly the wall time between
// activation and deactivation, with the limit alarm armed and cleared.
func TestSimpleAccrual(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 60, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	u := h.usage("a.test", testDate)
	if u == nil {
		t.Fatal("usage not created on first visit")
	}
	if u.VisitCount != 1 {
		t.Errorf("visitCount = %d, want 1", u.VisitCount)
	}
	if u.OpenSession() == nil {
		t.Error("expected an open session while tracking")
	}
	s := h.status("a.test")
	if !s.Tracking || s.Reason == nil || *s.Reason != domain.Focused {
		t.Errorf("status = tracking %v reason %v, want focused tracking", s.Tracking, s.Reason)
	}

	limitAlarm, ok := h.alarms.Get("limit-a.test")
	if !ok {
		t.Fatal("limit alarm not scheduled")
	}
	if want := testStart.Add(60 * time.Second).UnixMilli(); limitAlarm.WhenMs != want {
		t.Errorf("limit alarm at %d, want %d", limitAlarm.WhenMs, want)
	}

	// Deactivate by switching to an untracked tab.
	h.advance(30 * time.Second)
	h.openTab(2, 1, "https://other.test/", false)
	h.focusTab(2, 1)
	h.sync()

	u = h.usage("a.test", testDate)
	if u.TimeSpentSeconds != 30 {
		t.Errorf("timeSpent = %d, want 30", u.TimeSpentSeconds)
	}
	if u.OpenSession() != nil {
		t.Error("session should be closed after deactivation")
	}
	last := u.Sessions[len(u.Sessions)-1]
	if last.DurationSeconds != 30 {
		t.Errorf("session duration = %d, want 30", last.DurationSeconds)
	}
	if _, ok := h.alarms.Get("limit-a.test"); ok {
		t.Error("limit alarm should be cleared on stop")
	}
}

// Audible fallback: with no focused tab of the hostname, an audible tab
// keeps tracking ON; muting it stops tracking.
func TestAudibleFallback(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("e.test", 3600, 0, nil)

	h.openTab(9, 1, "https://other.test/", false)
	h.openTab(2, 1, "https://e.test/a", false)
	h.openTab(3, 1, "https://e.test/b", true)
	h.focusTab(9, 1)
	h.sync()

	s := h.status("e.test")
	if !s.Tracking || s.Reason == nil || *s.Reason != domain.Audible {
		t.Fatalf("status = tracking %v reason %v, want audible tracking", s.Tracking, s.Reason)
	}

	h.advance(5 * time.Second)
	audible := false
	h.host.SetTabAudible(3, false)
	h.trk.TabUpdated(3, browser.TabChanges{Audible: &audible}, browser.Tab{ID: 3, WindowID: 1})
	h.sync()

	s = h.status("e.test")
	if s.Tracking {
		t.Error("tracking should stop when the audible tab is muted")
	}
	if got := h.usage("e.test", testDate).TimeSpentSeconds; got != 5 {
		t.Errorf("timeSpent = %d, want 5", got)
	}
}

// Focused beats audible when both apply, and reason-only changes do not
// restart the session.
func TestReasonUpdateWithoutRestart(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("e.test", 3600, 0, nil)

	h.openTab(2, 1, "https://e.test/a", true)
	h.focusTab(2, 1)
	h.sync()

	s := h.status("e.test")
	if s.Reason == nil || *s.Reason != domain.Focused {
		t.Fatalf("reason = %v, want focused", s.Reason)
	}

	// Unfocus the window: the audible tab keeps tracking alive.
	h.advance(10 * time.Second)
	h.host.SetFocusedWindow(browser.WindowNone)
	h.trk.WindowFocusChanged(browser.WindowNone)
	h.sync()

	s = h.status("e.test")
	if !s.Tracking || s.Reason == nil || *s.Reason != domain.Audible {
		t.Fatalf("status = tracking %v reason %v, want audible", s.Tracking, s.Reason)
	}
	if got := len(h.usage("e.test", testDate).Sessions); got != 1 {
		t.Errorf("sessions = %d, want 1 (no restart on reason change)", got)
	}
}

// www. matching: a bare configured hostname matches its www. variant but
// no other subdomain.
func TestWWWMatching(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("youtube.test", 3600, 0, nil)

	h.openTab(1, 1, "https://www.youtube.test/watch", false)
	h.focusTab(1, 1)
	h.sync()

	u := h.usage("youtube.test", testDate)
	if u == nil || u.VisitCount != 1 {
		t.Fatalf("www variant should match: %+v", u)
	}
	if !h.status("youtube.test").Tracking {
		t.Error("tracking should be ON via the www tab")
	}

	h.openTab(2, 1, "https://music.youtube.test/", false)
	h.sync()
	if got := h.usage("youtube.test", testDate).VisitCount; got != 1 {
		t.Errorf("music subdomain must not count a visit: visitCount = %d", got)
	}
}

// Idle stops tracking; activity resumes it with a new session.
func TestIdleStopsTracking(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	h.advance(20 * time.Second)
	h.trk.IdleStateChanged(browser.IdleIdle)
	h.sync()

	s := h.status("a.test")
	if s.Tracking {
		t.Fatal("tracking should stop when idle")
	}
	if s.TimeSpentSeconds != 20 {
		t.Errorf("timeSpent = %d, want 20", s.TimeSpentSeconds)
	}

	h.advance(300 * time.Second)
	h.trk.IdleStateChanged(browser.IdleActive)
	h.sync()

	u := h.usage("a.test", testDate)
	if u.OpenSession() == nil {
		t.Fatal("tracking should resume when active again")
	}
	if len(u.Sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(u.Sessions))
	}
	// Idle time did not accrue.
	if u.TimeSpentSeconds != 20 {
		t.Errorf("timeSpent = %d, want 20", u.TimeSpentSeconds)
	}
}

// The periodic flush banks elapsed time without double counting.
func TestPeriodicFlush(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	h.advance(40 * time.Second)
	h.trk.queue.submit("flush", h.trk.opFlush)
	h.sync()

	u := h.usage("a.test", testDate)
	if u.TimeSpentSeconds != 40 {
		t.Errorf("timeSpent after flush = %d, want 40", u.TimeSpentSeconds)
	}
	open := u.OpenSession()
	if open == nil || open.DurationSeconds != 40 {
		t.Fatalf("open session after flush = %+v, want duration 40", open)
	}

	// Stop 10 seconds later: only the delta since the flush is added.
	h.advance(10 * time.Second)
	h.trk.IdleStateChanged(browser.IdleIdle)
	h.sync()

	u = h.usage("a.test", testDate)
	if u.TimeSpentSeconds != 50 {
		t.Errorf("timeSpent = %d, want 50", u.TimeSpentSeconds)
	}
	if got := u.Sessions[0].DurationSeconds; got != 50 {
		t.Errorf("session duration = %d, want 50", got)
	}
	// Invariant: closed session durations sum to timeSpent.
	var sum int64
	for _, sess := range u.Sessions {
		sum += sess.DurationSeconds
	}
	if sum != u.TimeSpentSeconds {
		t.Errorf("session durations sum %d != timeSpent %d", sum, u.TimeSpentSeconds)
	}
}

// Suspend banks elapsed time and seals the open session.
func TestSuspendPersists(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	h.advance(20 * time.Second)
	h.trk.Suspend()

	u := h.usage("a.test", testDate)
	if u.TimeSpentSeconds != 20 {
		t.Errorf("timeSpent = %d, want 20", u.TimeSpentSeconds)
	}
	if u.OpenSession() != nil {
		t.Error("open session should be sealed on suspend")
	}
}

// Re-evaluating twice with no external change produces no writes.
func TestReevaluateIdempotent(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	before := h.kv.writeCount()
	h.trk.queue.submit("reevaluate", h.trk.reevaluate)
	h.trk.queue.submit("reevaluate", h.trk.reevaluate)
	h.sync()

	if after := h.kv.writeCount(); after != before {
		t.Errorf("re-evaluate wrote to storage: %d -> %d", before, after)
	}
}

// Startup recovery registers open tabs and counts one visit per unique
// hostname, not per tab.
func TestStartupRecovery(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)
	h.addSite("b.test", 3600, 0, nil)

	h.host.AddTab(browser.Tab{ID: 1, WindowID: 1, URL: "https://a.test/x", Active: true})
	h.host.AddTab(browser.Tab{ID: 2, WindowID: 1, URL: "https://a.test/y"})
	h.host.AddTab(browser.Tab{ID: 3, WindowID: 1, URL: "https://b.test/"})
	h.host.SetFocusedWindow(1)

	h.trk.Init()
	h.sync()

	if got := h.usage("a.test", testDate).VisitCount; got != 1 {
		t.Errorf("a.test visits = %d, want 1 (one per unique hostname)", got)
	}
	if got := h.usage("b.test", testDate).VisitCount; got != 1 {
		t.Errorf("b.test visits = %d, want 1", got)
	}
	// The focused active tab resumes tracking.
	if !h.status("a.test").Tracking {
		t.Error("a.test should be tracking after recovery")
	}
	if h.status("b.test").Tracking {
		t.Error("b.test should not be tracking (not active, not audible)")
	}
	// Reset alarms rescheduled for both hostnames.
	if _, ok := h.alarms.Get("reset-a.test"); !ok {
		t.Error("reset alarm missing for a.test")
	}
	if _, ok := h.alarms.Get("reset-b.test"); !ok {
		t.Error("reset alarm missing for b.test")
	}
	if _, ok := h.alarms.Get("badge-refresh"); !ok {
		t.Error("periodic badge refresh not scheduled")
	}
}

// Removing a hostname stops tracking and clears its alarms.
func TestRemoveHostname(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 60, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	h.advance(10 * time.Second)
	found, err := h.trk.RemoveHostname("a.test")
	if err != nil || !found {
		t.Fatalf("RemoveHostname = %v, %v", found, err)
	}

	// Elapsed time was banked before the config disappeared.
	if got := h.usage("a.test", testDate).TimeSpentSeconds; got != 10 {
		t.Errorf("timeSpent = %d, want 10", got)
	}
	for _, name := range []string{"limit-a.test", "reset-a.test"} {
		if _, ok := h.alarms.Get(name); ok {
			t.Errorf("alarm %s should be cleared", name)
		}
	}
	status, err := h.trk.Status("a.test")
	if err != nil || status != nil {
		t.Errorf("Status after removal = %v, %v, want nil", status, err)
	}
}

// Disabling a hostname stops the clock and keeps the usage record.
func TestDisableHostname(t *testing.T) {
	h := newHarness(t, testStart)
	h.addSite("a.test", 3600, 0, nil)

	h.openTab(1, 1, "https://a.test/", false)
	h.focusTab(1, 1)
	h.sync()

	h.advance(15 * time.Second)
	err := h.trk.ApplyHostnameConfig(&domain.HostnameConfig{
		Hostname:          "a.test",
		Enabled:           false,
		DailyLimitSeconds: 3600,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := h.usage("a.test", testDate).TimeSpentSeconds; got != 15 {
		t.Errorf("timeSpent = %d, want 15", got)
	}
	if h.usage("a.test", testDate).OpenSession() != nil {
		t.Error("session should be closed when disabled")
	}
}
