package mock

import (
	"sync"

	"github.com/timewarden/backend/internal/browser"
)

// AlarmStore is a manually-fired browser.AlarmStore. Tests create alarms
// through the engine, then call Fire to deliver them; nothing fires on
// its own.
type AlarmStore struct {
	mu      sync.Mutex
	alarms  map[string]browser.AlarmInfo
	handler func(name string)
}

func NewAlarmStore() *AlarmStore {
	return &AlarmStore{alarms: make(map[string]browser.AlarmInfo)}
}

func (a *AlarmStore) Create(name string, opts browser.AlarmOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alarms[name] = browser.AlarmInfo{Name: name, WhenMs: opts.WhenMs, PeriodMinutes: opts.PeriodMinutes}
	return nil
}

func (a *AlarmStore) Clear(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.alarms, name)
	return nil
}

func (a *AlarmStore) All() ([]browser.AlarmInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]browser.AlarmInfo, 0, len(a.alarms))
	for _, info := range a.alarms {
		out = append(out, info)
	}
	return out, nil
}

func (a *AlarmStore) OnFired(handler func(name string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = handler
}

// Get returns the pending alarm with the given name.
func (a *AlarmStore) Get(name string) (browser.AlarmInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.alarms[name]
	return info, ok
}

// Fire removes a pending alarm (one-shot semantics) and delivers it to
// the registered handler synchronously.
func (a *AlarmStore) Fire(name string) {
	a.mu.Lock()
	info, ok := a.alarms[name]
	if ok && info.PeriodMinutes == 0 {
		delete(a.alarms, name)
	}
	handler := a.handler
	a.mu.Unlock()
	if ok && handler != nil {
		handler(name)
	}
}
