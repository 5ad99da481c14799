// cmd/preflight/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/config"
	"github.com/hamed0406/presencewatch/internal/repo"
	"github.com/hamed0406/presencewatch/internal/repo/file"
	"github.com/hamed0406/presencewatch/internal/repo/natskv"
	"github.com/hamed0406/presencewatch/internal/repo/postgres"
	"github.com/hamed0406/presencewatch/internal/tracker"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(os.Getenv("PRESENCEWATCH_CONFIG"))
	if err != nil {
		fail(err.Error())
	}

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (admin routes will 401).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty; only admin keys can read.")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": os.Getenv("ADMIN_API_KEYS"), "PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS")} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	if cfg.PresenceURL == "" {
		fail("PRESENCE_URL is empty (targets cannot be checked).")
	}
	ok("PRESENCE_URL=" + cfg.PresenceURL)
	ok("poll interval " + cfg.PollInterval.String())

	if cfg.TelegramToken == "" {
		warn("TELEGRAM_TOKEN empty; notifications will only be logged.")
	} else {
		ok("TELEGRAM_TOKEN present")
		if cfg.OwnerChatID == 0 {
			warn("OWNER_CHAT_ID empty; owner alerts go to Slack or the log only.")
		}
	}
	if cfg.SlackWebhook != "" {
		ok("SLACK_WEBHOOK present")
	}

	ok("ADDR=" + cfg.Addr)
	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.SettingsBackend == "memory" {
		warn("SETTINGS_BACKEND=memory; targets are lost on restart.")
	} else {
		n, err := checkStore(cfg)
		if err != nil {
			fail("settings store (" + cfg.SettingsBackend + "): " + err.Error())
		}
		ok(fmt.Sprintf("settings store %s reachable, %d stored list(s)", cfg.SettingsBackend, n))
	}

	ok("preflight passed")
}

// checkStore opens the configured store and reads the target table.
func checkStore(cfg config.Config) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		store repo.SettingsStore
		done  = func() {}
	)
	switch cfg.SettingsBackend {
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL, zap.NewNop())
		if err != nil {
			return 0, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return 0, err
		}
		store, done = s, s.Close
	case "nats":
		s, err := natskv.New(cfg.NATSURL, cfg.NATSBucketPrefix, zap.NewNop())
		if err != nil {
			return 0, err
		}
		store, done = s, s.Close
	default:
		store = file.New(cfg.SettingsFile)
	}
	defer done()

	all, err := store.All(ctx, tracker.SettingsTable)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
