// Package mock provides in-memory implementations of every browser
// capability. Tests drive the tracking engine against them, and the
// daemon's -mock mode uses them to run without a host browser attached.
package mock

import (
	"net/url"
	"strings"
	"sync"

	"github.com/timewarden/backend/internal/browser"
)

// LocalURLPrefix marks URLs owned by the host extension itself.
const LocalURLPrefix = "ext://timewarden/"

// Notice records one dispatched notification.
type Notice struct {
	ID      string
	Title   string
	Message string
}

// Redirect records one blocked-page redirection.
type Redirect struct {
	TabID    int
	Hostname string
	URL      string
}

// Browser is an in-memory host: tab/window/idle state plus recording
// notification, navigation, and badge surfaces. Safe for concurrent use.
type Browser struct {
	mu      sync.Mutex
	tabs    map[int]browser.Tab
	windows map[int]browser.Window
	idle    browser.IdleState

	idleInterval int
	notices      []Notice
	cleared      []string
	redirects    []Redirect
	badgeText    string
	badgeColor   string
	onClicked    func(id string)
}

func NewBrowser() *Browser {
	return &Browser{
		tabs:    make(map[int]browser.Tab),
		windows: make(map[int]browser.Window),
		idle:    browser.IdleActive,
	}
}

// Capabilities returns the capability bundle backed by this mock,
// with alarms supplied separately.
func (b *Browser) Capabilities(alarms browser.AlarmStore) browser.Browser {
	return browser.Browser{
		Tabs:          b,
		Windows:       b,
		Idle:          b,
		Alarms:        alarms,
		Notifications: b,
		Navigation:    b,
		Badge:         b,
	}
}

// --- state manipulation (test drivers) ---

func (b *Browser) AddTab(tab browser.Tab) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs[tab.ID] = tab
	if _, ok := b.windows[tab.WindowID]; !ok {
		b.windows[tab.WindowID] = browser.Window{ID: tab.WindowID}
	}
}

func (b *Browser) RemoveTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, tabID)
}

func (b *Browser) SetTabURL(tabID int, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tab, ok := b.tabs[tabID]; ok {
		tab.URL = url
		b.tabs[tabID] = tab
	}
}

func (b *Browser) SetTabAudible(tabID int, audible bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tab, ok := b.tabs[tabID]; ok {
		tab.Audible = audible
		b.tabs[tabID] = tab
	}
}

// SetActiveTab marks a tab active within its window, clearing the flag on
// the window's other tabs.
func (b *Browser) SetActiveTab(tabID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target, ok := b.tabs[tabID]
	if !ok {
		return
	}
	for id, tab := range b.tabs {
		if tab.WindowID == target.WindowID {
			tab.Active = id == tabID
			b.tabs[id] = tab
		}
	}
}

// SetFocusedWindow marks a window focused, clearing focus elsewhere.
// browser.WindowNone unfocuses every window.
func (b *Browser) SetFocusedWindow(windowID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, w := range b.windows {
		w.Focused = id == windowID
		b.windows[id] = w
	}
}

func (b *Browser) SetIdle(state browser.IdleState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idle = state
}

// --- recorded output (test assertions) ---

func (b *Browser) Notices() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.notices...)
}

func (b *Browser) Redirects() []Redirect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Redirect(nil), b.redirects...)
}

func (b *Browser) Badge() (text, color string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.badgeText, b.badgeColor
}

func (b *Browser) IdleInterval() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idleInterval
}

// --- browser.TabStore ---

func (b *Browser) Tabs() ([]browser.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Tab, 0, len(b.tabs))
	for _, tab := range b.tabs {
		out = append(out, tab)
	}
	return out, nil
}

func (b *Browser) Update(tabID int, url string) error {
	b.SetTabURL(tabID, url)
	return nil
}

// --- browser.WindowStore ---

func (b *Browser) Windows() ([]browser.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]browser.Window, 0, len(b.windows))
	for _, w := range b.windows {
		out = append(out, w)
	}
	return out, nil
}

// --- browser.IdleMonitor ---

func (b *Browser) State() (browser.IdleState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idle, nil
}

func (b *Browser) SetDetectionInterval(seconds int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleInterval = seconds
}

// --- browser.NotificationStore ---

func (b *Browser) Create(id string, n browser.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{ID: id, Title: n.Title, Message: n.Message})
	return nil
}

func (b *Browser) Clear(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared = append(b.cleared, id)
	return nil
}

func (b *Browser) OnClicked(handler func(id string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClicked = handler
}

// --- browser.Navigation ---

func (b *Browser) BlockedURL(hostname string) string {
	return LocalURLPrefix + "blocked?domain=" + url.QueryEscape(hostname)
}

func (b *Browser) RedirectToBlocked(tabID int, hostname string) error {
	target := b.BlockedURL(hostname)
	b.mu.Lock()
	if tab, ok := b.tabs[tabID]; ok {
		tab.URL = target
		tab.Audible = false
		b.tabs[tabID] = tab
	}
	b.redirects = append(b.redirects, Redirect{TabID: tabID, Hostname: hostname, URL: target})
	b.mu.Unlock()
	return nil
}

func (b *Browser) IsLocalURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, LocalURLPrefix)
}

// --- browser.BadgeSurface ---

func (b *Browser) SetText(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.badgeText = text
	return nil
}

func (b *Browser) SetBackgroundColor(color string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.badgeColor = color
	return nil
}
