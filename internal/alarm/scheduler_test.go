package alarm

import (
	"testing"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/mock"
)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alarm %q did not fire", want)
	}
}

func TestOneShotFires(t *testing.T) {
	kv := mock.NewMemKV()
	s, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan string, 8)
	s.OnFired(func(name string) { fired <- name })
	s.Start()
	defer s.Stop()

	when := time.Now().Add(50 * time.Millisecond)
	if err := s.Create("limit-a.test", browser.AlarmOptions{WhenMs: when.UnixMilli()}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fired, "limit-a.test")

	// One-shot alarms are removed after firing, including from the
	// persisted set.
	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("pending alarms after fire = %d, want 0", len(all))
	}
	reloaded, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	all, _ = reloaded.All()
	if len(all) != 0 {
		t.Fatalf("persisted alarms after fire = %d, want 0", len(all))
	}
}

func TestClearPreventsFire(t *testing.T) {
	s, err := NewScheduler(mock.NewMemKV())
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan string, 8)
	s.OnFired(func(name string) { fired <- name })
	s.Start()
	defer s.Stop()

	when := time.Now().Add(100 * time.Millisecond)
	s.Create("reset-a.test", browser.AlarmOptions{WhenMs: when.UnixMilli()})
	if err := s.Clear("reset-a.test"); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-fired:
		t.Fatalf("cleared alarm fired: %q", name)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	kv := mock.NewMemKV()
	s, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	when := time.Now().Add(time.Hour)
	s.Create("reset-a.test", browser.AlarmOptions{WhenMs: when.UnixMilli()})
	s.Create("badge-refresh", browser.AlarmOptions{PeriodMinutes: 0.5})
	s.Stop()

	// A new scheduler over the same KV sees both alarms.
	restarted, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	all, err := restarted.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("restored alarms = %d, want 2", len(all))
	}
	names := map[string]browser.AlarmInfo{}
	for _, a := range all {
		names[a.Name] = a
	}
	if names["reset-a.test"].WhenMs != when.UnixMilli() {
		t.Error("one-shot deadline not restored")
	}
	if names["badge-refresh"].PeriodMinutes != 0.5 {
		t.Error("periodic interval not restored")
	}
}

func TestPastDueFiresOnStart(t *testing.T) {
	kv := mock.NewMemKV()
	s, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	// Persist an alarm whose deadline has already passed, then
	// "restart".
	s.Create("grace-end-a.test", browser.AlarmOptions{WhenMs: time.Now().Add(-time.Minute).UnixMilli()})

	restarted, err := NewScheduler(kv)
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan string, 8)
	restarted.OnFired(func(name string) { fired <- name })
	restarted.Start()
	defer restarted.Stop()

	waitFor(t, fired, "grace-end-a.test")
}

func TestCreateReplacesExisting(t *testing.T) {
	s, err := NewScheduler(mock.NewMemKV())
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan string, 8)
	s.OnFired(func(name string) { fired <- name })
	s.Start()
	defer s.Stop()

	s.Create("limit-a.test", browser.AlarmOptions{WhenMs: time.Now().Add(time.Hour).UnixMilli()})
	s.Create("limit-a.test", browser.AlarmOptions{WhenMs: time.Now().Add(50 * time.Millisecond).UnixMilli()})

	all, _ := s.All()
	if len(all) != 1 {
		t.Fatalf("pending alarms = %d, want 1", len(all))
	}
	waitFor(t, fired, "limit-a.test")
}
