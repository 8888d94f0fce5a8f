package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tophourbot/internal/config"
	"tophourbot/internal/notifier"
	"tophourbot/internal/scheduler"
	logx "tophourbot/pkg/logx"
)

const announcePrefix = "announce:"

// announcementTimeout bounds one announcement, including its wait for the
// cooldown when it is important.
const announcementTimeout = 30 * time.Second

// syncAnnouncements makes the scheduler's announcement jobs match cfg.
// Jobs no longer configured are removed; the rest are (re)registered.
func (a *App) syncAnnouncements(cfg *config.Config) error {
	ac := cfg.Announcements
	want := map[string]bool{}
	if ac.Enabled {
		room := roomOf(cfg)
		for _, it := range ac.Items {
			name := announcePrefix + strings.ToLower(strings.TrimSpace(it.Name))
			want[name] = true
			if err := a.sched.AddSchedule(name, it.Schedule, announcementTimeout, a.announce(room, it)); err != nil {
				return fmt.Errorf("announcements.%s: %w", it.Name, err)
			}
		}
	}
	for _, name := range a.sched.Names() {
		if strings.HasPrefix(name, announcePrefix) && !want[name] {
			a.sched.Remove(name)
		}
	}
	return nil
}

func (a *App) announce(room string, it config.Announcement) scheduler.Job {
	action := notifier.Action{Text: it.Text, Room: room, Important: it.Important}
	return func(ctx context.Context) error {
		o := a.notif.Send(ctx, action)
		switch o.Status {
		case notifier.StatusSent:
			return nil
		case notifier.StatusDropped:
			a.log.Debug("announcement dropped", logx.String("name", it.Name))
			return nil
		default:
			return o.Err
		}
	}
}

// validateAnnouncements checks every schedule without registering it.
func validateAnnouncements(cfg *config.Config) error {
	for i, it := range cfg.Announcements.Items {
		if err := scheduler.Validate(it.Schedule); err != nil {
			return fmt.Errorf("announcements.items[%d].schedule: %w", i, err)
		}
	}
	return nil
}
