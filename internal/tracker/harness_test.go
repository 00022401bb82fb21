package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
	"github.com/timewarden/backend/internal/mock"
	"github.com/timewarden/backend/internal/storage"
)

func int64ptr(v int64) *int64 { return &v }

// countingKV wraps the in-memory KV to observe write traffic.
type countingKV struct {
	inner  browser.KVStore
	mu     sync.Mutex
	writes int
}

func (c *countingKV) Get(key string) ([]byte, error) { return c.inner.Get(key) }

func (c *countingKV) Set(key string, value []byte) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.inner.Set(key, value)
}

func (c *countingKV) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// harness drives the tracker deterministically: an injected clock, the
// mock browser surfaces, and manually-fired alarms. Events are
// synchronized through the serial queue via sync().
type harness struct {
	t      *testing.T
	host   *mock.Browser
	alarms *mock.AlarmStore
	kv     *countingKV
	store  *storage.Store
	trk    *Tracker

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		host:   mock.NewBrowser(),
		alarms: mock.NewAlarmStore(),
		kv:     &countingKV{inner: mock.NewMemKV()},
		now:    start,
	}
	h.store = storage.NewStore(h.kv)
	h.trk = New(h.store, h.host.Capabilities(h.alarms), Options{FlushInterval: time.Hour})
	h.trk.now = h.clock

	ctx, cancel := context.WithCancel(context.Background())
	go h.trk.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) setNow(tm time.Time) {
	h.mu.Lock()
	h.now = tm
	h.mu.Unlock()
}

// sync waits for every previously enqueued operation to finish.
func (h *harness) sync() {
	h.trk.do("test-sync", func() {})
}

func (h *harness) addSite(hostname string, limitSeconds, allowanceSeconds int64, resetTime *string) {
	h.t.Helper()
	err := h.trk.ApplyHostnameConfig(&domain.HostnameConfig{
		Hostname:               hostname,
		Enabled:                true,
		DailyLimitSeconds:      limitSeconds,
		PauseAllowanceSeconds:  allowanceSeconds,
		ResetTime:              resetTime,
		UseGlobalNotifications: true,
	})
	if err != nil {
		h.t.Fatalf("ApplyHostnameConfig(%s): %v", hostname, err)
	}
}

// openTab adds a tab to the host and delivers the navigation event.
func (h *harness) openTab(tabID, windowID int, url string, audible bool) {
	tab := browser.Tab{ID: tabID, WindowID: windowID, URL: url, Audible: audible}
	h.host.AddTab(tab)
	h.trk.TabUpdated(tabID, browser.TabChanges{URL: &url}, tab)
}

// focusTab makes a tab active in its focused window.
func (h *harness) focusTab(tabID, windowID int) {
	h.host.SetActiveTab(tabID)
	h.host.SetFocusedWindow(windowID)
	h.trk.WindowFocusChanged(windowID)
	h.trk.TabActivated(tabID, windowID)
}

func (h *harness) navigate(tabID int, url string) {
	h.host.SetTabURL(tabID, url)
	tab := browser.Tab{ID: tabID, URL: url}
	h.trk.TabUpdated(tabID, browser.TabChanges{URL: &url}, tab)
}

func (h *harness) usage(hostname, date string) *domain.HostnameUsage {
	h.t.Helper()
	u, err := h.store.Usage(hostname, date)
	if err != nil {
		h.t.Fatalf("Usage(%s, %s): %v", hostname, date, err)
	}
	return u
}

func (h *harness) status(hostname string) *Status {
	h.t.Helper()
	s, err := h.trk.Status(hostname)
	if err != nil {
		h.t.Fatalf("Status(%s): %v", hostname, err)
	}
	if s == nil {
		h.t.Fatalf("Status(%s) = nil", hostname)
	}
	return s
}

// fire delivers an alarm and waits for its queued handler.
func (h *harness) fire(name string) {
	h.alarms.Fire(name)
	h.sync()
}
