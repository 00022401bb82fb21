// Package alarm implements the default browser.AlarmStore: named
// wall-clock alarms backed by time.Timer, with the pending set persisted
// through the KVStore so alarms survive a process restart. Past-due
// alarms fire immediately on startup, which is what re-drives the
// grace/pause/reset lifecycle after a crash.
package alarm

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/timewarden/backend/internal/browser"
)

const kvKey = "alarms"

type entry struct {
	info  browser.AlarmInfo
	timer *time.Timer
}

type Scheduler struct {
	mu      sync.Mutex
	kv      browser.KVStore
	alarms  map[string]*entry
	handler func(name string)
	started bool
	now     func() time.Time
}

// NewScheduler loads the persisted alarm set. Timers are not armed until
// Start so that the fired-name handler can be registered first.
func NewScheduler(kv browser.KVStore) (*Scheduler, error) {
	s := &Scheduler{
		kv:     kv,
		alarms: make(map[string]*entry),
		now:    time.Now,
	}
	data, err := kv.Get(kvKey)
	if err != nil {
		return nil, fmt.Errorf("reading alarms: %w", err)
	}
	if len(data) > 0 {
		var infos []browser.AlarmInfo
		if err := json.Unmarshal(data, &infos); err != nil {
			log.Printf("alarm: corrupt alarm set, starting empty: %v", err)
		} else {
			for _, info := range infos {
				s.alarms[info.Name] = &entry{info: info}
			}
		}
	}
	return s, nil
}

func (s *Scheduler) OnFired(handler func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Start arms every loaded alarm. Past-due one-shot alarms fire
// immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	for _, e := range s.alarms {
		s.armLocked(e)
	}
	s.mu.Unlock()
}

// Stop disarms all timers without clearing the persisted set.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	for _, e := range s.alarms {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}

func (s *Scheduler) Create(name string, opts browser.AlarmOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.alarms[name]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	e := &entry{info: browser.AlarmInfo{Name: name, WhenMs: opts.WhenMs, PeriodMinutes: opts.PeriodMinutes}}
	s.alarms[name] = e
	if err := s.persistLocked(); err != nil {
		return err
	}
	if s.started {
		s.armLocked(e)
	}
	return nil
}

func (s *Scheduler) Clear(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.alarms[name]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.alarms, name)
	return s.persistLocked()
}

func (s *Scheduler) All() ([]browser.AlarmInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.AlarmInfo, 0, len(s.alarms))
	for _, e := range s.alarms {
		out = append(out, e.info)
	}
	return out, nil
}

// armLocked schedules the entry's timer. Caller holds s.mu.
func (s *Scheduler) armLocked(e *entry) {
	name := e.info.Name
	var delay time.Duration
	if e.info.PeriodMinutes > 0 {
		delay = time.Duration(e.info.PeriodMinutes * float64(time.Minute))
	} else {
		delay = time.UnixMilli(e.info.WhenMs).Sub(s.now())
		if delay < 0 {
			delay = 0
		}
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(name) })
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	e, ok := s.alarms[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.info.PeriodMinutes > 0 {
		if s.started {
			s.armLocked(e)
		}
	} else {
		delete(s.alarms, name)
		if err := s.persistLocked(); err != nil {
			log.Printf("alarm: persisting after fire of %s: %v", name, err)
		}
	}
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(name)
	}
}

func (s *Scheduler) persistLocked() error {
	infos := make([]browser.AlarmInfo, 0, len(s.alarms))
	for _, e := range s.alarms {
		infos = append(infos, e.info)
	}
	data, err := json.Marshal(infos)
	if err != nil {
		return fmt.Errorf("encoding alarms: %w", err)
	}
	return s.kv.Set(kvKey, data)
}
