package tracker

import (
	"sync"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

type tabInfo struct {
	audible bool
}

// activeTracking is the runtime record for one hostname with open tabs.
// startedAt is zero while tracking is OFF.
type activeTracking struct {
	startedAt time.Time
	reason    *domain.Reason
	tabs      map[int]tabInfo
}

func (a *activeTracking) tracking() bool {
	return !a.startedAt.IsZero()
}

// observer is the attention model: which tabs show which hostname, which
// window and tab have focus, whether the user is idle. Mutations happen
// on the engine's serial queue; status queries take read locks and may
// observe a snapshot between operations, which is fine because they
// re-derive live elapsed on the fly.
type observer struct {
	mu              sync.RWMutex
	active          map[string]*activeTracking
	tabHost         map[int]string
	focusedWindowID int
	activeTabID     int
	systemIdle      bool
	enabled         []string
}

func newObserver() *observer {
	return &observer{
		active:          make(map[string]*activeTracking),
		tabHost:         make(map[int]string),
		focusedWindowID: browser.WindowNone,
		activeTabID:     -1,
	}
}

// reset clears all tab/window state. Used by startup recovery before a
// full rescan.
func (o *observer) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = make(map[string]*activeTracking)
	o.tabHost = make(map[int]string)
	o.focusedWindowID = browser.WindowNone
	o.activeTabID = -1
}

func (o *observer) setEnabled(hostnames []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = append([]string(nil), hostnames...)
}

func (o *observer) enabledHostnames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.enabled...)
}

// matchEnabled returns the enabled hostname the URL belongs to, or "".
func (o *observer) matchEnabled(rawURL string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return domain.MatchConfigured(rawURL, o.enabled)
}

// registerTab attaches a tab to a hostname, creating the activeTracking
// entry if needed.
func (o *observer) registerTab(hostname string, tabID int, audible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.active[hostname]
	if !ok {
		at = &activeTracking{tabs: make(map[int]tabInfo)}
		o.active[hostname] = at
	}
	at.tabs[tabID] = tabInfo{audible: audible}
	o.tabHost[tabID] = hostname
}

// unregisterTab detaches a tab from its hostname, if any. The
// activeTracking entry is left in place for the re-evaluate pass to
// stop tracking and prune.
func (o *observer) unregisterTab(tabID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hostname, ok := o.tabHost[tabID]
	if !ok {
		return
	}
	delete(o.tabHost, tabID)
	if at, ok := o.active[hostname]; ok {
		delete(at.tabs, tabID)
	}
}

func (o *observer) hostForTab(tabID int) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tabHost[tabID]
}

func (o *observer) setAudible(tabID int, audible bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hostname, ok := o.tabHost[tabID]
	if !ok {
		return
	}
	if at, ok := o.active[hostname]; ok {
		if _, ok := at.tabs[tabID]; ok {
			at.tabs[tabID] = tabInfo{audible: audible}
		}
	}
}

func (o *observer) setActiveTab(tabID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeTabID = tabID
}

func (o *observer) setFocusedWindow(windowID, activeTabID int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.focusedWindowID = windowID
	o.activeTabID = activeTabID
}

func (o *observer) setIdle(idle bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.systemIdle = idle
}

func (o *observer) isIdle() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.systemIdle
}

func (o *observer) activeTab() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeTabID
}

// hostnames returns all hostnames with an activeTracking entry.
func (o *observer) hostnames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.active))
	for h := range o.active {
		out = append(out, h)
	}
	return out
}

// tabsOf returns the tab IDs currently registered to a hostname.
func (o *observer) tabsOf(hostname string) []int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	at, ok := o.active[hostname]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(at.tabs))
	for id := range at.tabs {
		out = append(out, id)
	}
	return out
}

// decide is the tracking decision: focused beats audible, idle and
// missing tabs mean no tracking. Pause is checked by the caller, which
// owns the pause map.
func (o *observer) decide(hostname string) *domain.Reason {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.systemIdle {
		return nil
	}
	at, ok := o.active[hostname]
	if !ok || len(at.tabs) == 0 {
		return nil
	}
	if o.focusedWindowID != browser.WindowNone {
		if _, ok := at.tabs[o.activeTabID]; ok {
			r := domain.Focused
			return &r
		}
	}
	for _, info := range at.tabs {
		if info.audible {
			r := domain.Audible
			return &r
		}
	}
	return nil
}

// trackingState returns the current startedAt/reason for a hostname.
func (o *observer) trackingState(hostname string) (time.Time, *domain.Reason, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	at, ok := o.active[hostname]
	if !ok {
		return time.Time{}, nil, false
	}
	return at.startedAt, at.reason, true
}

func (o *observer) markTracking(hostname string, startedAt time.Time, reason domain.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if at, ok := o.active[hostname]; ok {
		at.startedAt = startedAt
		at.reason = &reason
	}
}

func (o *observer) updateReason(hostname string, reason domain.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if at, ok := o.active[hostname]; ok && at.tracking() {
		at.reason = &reason
	}
}

// clearTracking zeroes startedAt/reason and returns the previous
// startedAt so the caller can account elapsed time.
func (o *observer) clearTracking(hostname string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	at, ok := o.active[hostname]
	if !ok || !at.tracking() {
		return time.Time{}, false
	}
	started := at.startedAt
	at.startedAt = time.Time{}
	at.reason = nil
	return started, true
}

// rebaseTracking moves startedAt forward after a periodic flush banked
// the elapsed time.
func (o *observer) rebaseTracking(hostname string, startedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if at, ok := o.active[hostname]; ok && at.tracking() {
		at.startedAt = startedAt
	}
}

// prune removes entries with no tabs and no active tracking.
func (o *observer) prune() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for hostname, at := range o.active {
		if len(at.tabs) == 0 && !at.tracking() {
			delete(o.active, hostname)
		}
	}
}
