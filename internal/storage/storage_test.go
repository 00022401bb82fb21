package storage

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/timewarden/backend/internal/domain"
	"github.com/timewarden/backend/internal/mock"
)

func newTestStore() *Store {
	return NewStore(mock.NewMemKV())
}

func limitPtr(v int64) *int64 { return &v }

func TestConfigsRoundTrip(t *testing.T) {
	s := newTestStore()
	reset := "06:00"
	configs := []*domain.HostnameConfig{
		{
			Hostname:              "a.test",
			Enabled:               true,
			DailyLimitSeconds:     3600,
			PauseAllowanceSeconds: 300,
			ResetTime:             &reset,
			DayOverrides:          map[int]domain.DayOverride{0: {LimitSeconds: limitPtr(7200)}},
			CreatedAt:             1700000000000,
		},
		{Hostname: "b.test", Enabled: false, DailyLimitSeconds: 60},
	}

	if err := s.SaveConfigs(configs); err != nil {
		t.Fatalf("SaveConfigs: %v", err)
	}
	loaded, err := s.LoadConfigs()
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if !reflect.DeepEqual(configs, loaded) {
		t.Errorf("round trip mismatch:\nsaved  %+v\nloaded %+v", configs[0], loaded[0])
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore()
	settings := domain.DefaultGlobalSettings()
	settings.ResetTime = "05:15"
	settings.GracePeriodSeconds = 10

	if err := s.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	loaded, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(settings, loaded) {
		t.Errorf("round trip mismatch: %+v != %+v", settings, loaded)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s := newTestStore()
	loaded, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(loaded, domain.DefaultGlobalSettings()) {
		t.Error("missing settings should load as defaults")
	}
}

func TestCorruptKeysFallBackIndependently(t *testing.T) {
	kv := mock.NewMemKV()
	s := NewStore(kv)

	good := []*domain.HostnameConfig{{Hostname: "a.test", Enabled: true, DailyLimitSeconds: 100}}
	if err := s.SaveConfigs(good); err != nil {
		t.Fatal(err)
	}
	kv.Set(KeySettings, []byte("{not json"))
	kv.Set(KeyUsageLog, []byte("42"))

	// Corrupt settings fall back to defaults.
	settings, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !reflect.DeepEqual(settings, domain.DefaultGlobalSettings()) {
		t.Error("corrupt settings should load as defaults")
	}

	// Corrupt usage log starts empty.
	usageLog, err := s.LoadUsageLog()
	if err != nil {
		t.Fatalf("LoadUsageLog: %v", err)
	}
	if len(usageLog) != 0 {
		t.Error("corrupt usage log should load empty")
	}

	// The valid neighbour is preserved.
	configs, err := s.LoadConfigs()
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if len(configs) != 1 || configs[0].Hostname != "a.test" {
		t.Error("valid configs should survive corruption of other keys")
	}
}

func TestLoadConfigsDropsInvalidEntries(t *testing.T) {
	kv := mock.NewMemKV()
	kv.Set(KeyConfigs, []byte(`[
		{"hostname":"good.test","enabled":true,"dailyLimitSeconds":100,"pauseAllowanceSeconds":0,"resetTime":null},
		{"hostname":"bad.test","enabled":true,"dailyLimitSeconds":0,"pauseAllowanceSeconds":0,"resetTime":null}
	]`))
	s := NewStore(kv)

	configs, err := s.LoadConfigs()
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if len(configs) != 1 || configs[0].Hostname != "good.test" {
		t.Errorf("expected only good.test to survive, got %+v", configs)
	}
}

func TestUpsertAndRemoveConfig(t *testing.T) {
	s := newTestStore()
	a := &domain.HostnameConfig{Hostname: "a.test", Enabled: true, DailyLimitSeconds: 100}
	b := &domain.HostnameConfig{Hostname: "b.test", Enabled: true, DailyLimitSeconds: 200}

	if err := s.UpsertConfig(b); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertConfig(a); err != nil {
		t.Fatal(err)
	}

	configs, _ := s.LoadConfigs()
	if len(configs) != 2 || configs[0].Hostname != "a.test" {
		t.Errorf("configs not sorted by hostname: %+v", configs)
	}

	a.DailyLimitSeconds = 150
	if err := s.UpsertConfig(a); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Config("a.test")
	if got == nil || got.DailyLimitSeconds != 150 {
		t.Errorf("upsert did not replace: %+v", got)
	}

	found, err := s.RemoveConfig("a.test")
	if err != nil || !found {
		t.Fatalf("RemoveConfig = %v, %v", found, err)
	}
	found, err = s.RemoveConfig("a.test")
	if err != nil || found {
		t.Fatalf("second RemoveConfig = %v, %v, want false", found, err)
	}
	if got, _ := s.Config("a.test"); got != nil {
		t.Error("removed config still present")
	}
}

func TestEnsureUsageFreezesSnapshot(t *testing.T) {
	s := newTestStore()
	if err := s.EnsureUsage("a.test", "2026-07-29", 3600, "06:00"); err != nil {
		t.Fatal(err)
	}
	// Changing config mid-period never retroactively alters the period.
	if err := s.EnsureUsage("a.test", "2026-07-29", 60, "09:00"); err != nil {
		t.Fatal(err)
	}

	u, err := s.Usage("a.test", "2026-07-29")
	if err != nil || u == nil {
		t.Fatalf("Usage: %v, %v", u, err)
	}
	if u.LimitSeconds != 3600 || u.ResetTime != "06:00" {
		t.Errorf("snapshot not write-once: limit=%d reset=%s", u.LimitSeconds, u.ResetTime)
	}
}

func TestEnsureUsageRollingCap(t *testing.T) {
	s := newTestStore()
	for i := 1; i <= domain.MaxUsageLogEntries+3; i++ {
		date := fmt.Sprintf("2026-06-%02d", i)
		if i > 30 {
			date = fmt.Sprintf("2026-07-%02d", i-30)
		}
		if err := s.EnsureUsage("a.test", date, 100, "00:00"); err != nil {
			t.Fatal(err)
		}
	}
	usageLog, err := s.LoadUsageLog()
	if err != nil {
		t.Fatal(err)
	}
	if len(usageLog) != domain.MaxUsageLogEntries {
		t.Fatalf("log length = %d, want %d", len(usageLog), domain.MaxUsageLogEntries)
	}
	if usageLog.Day("2026-06-01") != nil {
		t.Error("oldest period should have been evicted")
	}
}

func TestUpdateUsage(t *testing.T) {
	s := newTestStore()

	found, err := s.UpdateUsage("a.test", "2026-07-29", func(u *domain.HostnameUsage) {
		t.Error("mutate must not run for a missing record")
	})
	if err != nil || found {
		t.Fatalf("UpdateUsage on missing = %v, %v", found, err)
	}

	if err := s.EnsureUsage("a.test", "2026-07-29", 3600, "06:00"); err != nil {
		t.Fatal(err)
	}
	found, err = s.UpdateUsage("a.test", "2026-07-29", func(u *domain.HostnameUsage) {
		u.VisitCount++
		u.TimeSpentSeconds += 30
	})
	if err != nil || !found {
		t.Fatalf("UpdateUsage = %v, %v", found, err)
	}

	u, _ := s.Usage("a.test", "2026-07-29")
	if u.VisitCount != 1 || u.TimeSpentSeconds != 30 {
		t.Errorf("mutation not persisted: %+v", u)
	}
}

func TestUsageLogRoundTrip(t *testing.T) {
	s := newTestStore()
	if err := s.EnsureUsage("a.test", "2026-07-29", 3600, "06:00"); err != nil {
		t.Fatal(err)
	}
	s.UpdateUsage("a.test", "2026-07-29", func(u *domain.HostnameUsage) {
		u.AppendSession(1000)
		u.CloseSession(31000, 30)
		u.TimeSpentSeconds = 30
		u.VisitCount = 1
		u.Notifications["r1"] = true
	})

	first, err := s.LoadUsageLog()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveUsageLog(first); err != nil {
		t.Fatal(err)
	}
	second, err := s.LoadUsageLog()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("usage log save/load is not a no-op")
	}
}
