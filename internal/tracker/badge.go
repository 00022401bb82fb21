package tracker

import (
	"fmt"
	"log"
	"time"
)

// Badge colors, by urgency.
const (
	badgeGreen = "#16a34a"
	badgeAmber = "#f59e0b"
	badgeRed   = "#dc2626"
)

// refreshBadge repaints the toolbar badge for the active tab's hostname.
// Priority: blocked > grace countdown > pause countdown > tracking
// remaining. While a live countdown is showing, a single 1-second timer
// re-enqueues a refresh; the periodic badge-refresh alarm covers the
// rest. Runs on the queue.
func (t *Tracker) refreshBadge() {
	hostname := t.obs.hostForTab(t.obs.activeTab())
	if hostname == "" {
		t.setBadge("", badgeGreen, false)
		return
	}

	status, err := t.Status(hostname)
	if err != nil || status == nil {
		t.setBadge("", badgeGreen, false)
		return
	}

	switch {
	case status.Blocked:
		t.setBadge("!", badgeRed, false)
	case status.InGrace:
		t.setBadge(fmt.Sprintf("%d", status.GraceRemainingSeconds), badgeRed, true)
	case status.Paused:
		t.setBadge(formatBadgeDuration(status.PauseRemainingSeconds), badgeAmber, true)
	case status.Tracking:
		color := badgeRed
		if status.LimitSeconds > 0 {
			switch frac := float64(status.TimeRemainingSeconds) / float64(status.LimitSeconds); {
			case frac > 0.25:
				color = badgeGreen
			case frac > 0.10:
				color = badgeAmber
			}
		}
		t.setBadge(formatBadgeDuration(status.TimeRemainingSeconds), color, false)
	default:
		t.setBadge("", badgeGreen, false)
	}
}

// setBadge paints the badge and manages the countdown timer. Each update
// cancels any prior timer before possibly arming a new one, so at most
// one is outstanding.
func (t *Tracker) setBadge(text, color string, countdown bool) {
	t.badgeMu.Lock()
	if t.badgeTimer != nil {
		t.badgeTimer.Stop()
		t.badgeTimer = nil
	}
	if countdown {
		t.badgeTimer = time.AfterFunc(time.Second, func() {
			t.queue.submit("badge-tick", t.refreshBadge)
		})
	}
	t.badgeMu.Unlock()

	if err := t.b.Badge.SetBackgroundColor(color); err != nil {
		log.Printf("badge color: %v", err)
	}
	if err := t.b.Badge.SetText(text); err != nil {
		log.Printf("badge text: %v", err)
	}
}

// formatBadgeDuration renders seconds compactly for the badge: "45s",
// "12m", "3h".
func formatBadgeDuration(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh", seconds/3600)
	}
}
