package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/timewarden/backend/internal/browser"
	"github.com/timewarden/backend/internal/domain"
)

// Engine is the slice of the tracking engine the generator drives. The
// real tracker satisfies it.
type Engine interface {
	ApplyHostnameConfig(cfg *domain.HostnameConfig) error
	TabActivated(tabID, windowID int)
	TabUpdated(tabID int, changes browser.TabChanges, tab browser.Tab)
	TabRemoved(tabID int)
	WindowFocusChanged(windowID int)
	IdleStateChanged(state browser.IdleState)
}

// Generator simulates a user browsing between two demo sites so the
// daemon can be exercised end to end without a host browser.
type Generator struct {
	host *Browser
}

func NewGenerator(host *Browser) *Generator {
	return &Generator{host: host}
}

var demoSites = []struct {
	hostname string
	limit    int64
	url      string
}{
	{"demo-feed.test", 120, "https://demo-feed.test/home"},
	{"demo-video.test", 300, "https://www.demo-video.test/watch"},
}

func (g *Generator) Run(ctx context.Context, engine Engine) {
	for _, site := range demoSites {
		err := engine.ApplyHostnameConfig(&domain.HostnameConfig{
			Hostname:               site.hostname,
			Enabled:                true,
			DailyLimitSeconds:      site.limit,
			PauseAllowanceSeconds:  60,
			UseGlobalNotifications: true,
		})
		if err != nil {
			log.Printf("mock: seeding %s: %v", site.hostname, err)
		}
	}

	// Open one tab per demo site in a single focused window.
	for i, site := range demoSites {
		tab := browser.Tab{ID: i + 1, WindowID: 1, URL: site.url, Active: i == 0}
		g.host.AddTab(tab)
		url := site.url
		engine.TabUpdated(tab.ID, browser.TabChanges{URL: &url}, tab)
	}
	g.host.SetActiveTab(1)
	g.host.SetFocusedWindow(1)
	engine.WindowFocusChanged(1)
	engine.TabActivated(1, 1)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	active := 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch rand.Intn(4) {
			case 0:
				// Switch tabs.
				active = active%len(demoSites) + 1
				g.host.SetActiveTab(active)
				engine.TabActivated(active, 1)
			case 1:
				// Toggle audio on the video tab.
				audible := rand.Intn(2) == 0
				g.host.SetTabAudible(2, audible)
				tab := browser.Tab{ID: 2, WindowID: 1, Audible: audible}
				engine.TabUpdated(2, browser.TabChanges{Audible: &audible}, tab)
			case 2:
				// Step away from the machine briefly.
				g.host.SetIdle(browser.IdleIdle)
				engine.IdleStateChanged(browser.IdleIdle)
			default:
				g.host.SetIdle(browser.IdleActive)
				engine.IdleStateChanged(browser.IdleActive)
			}
		}
	}
}
