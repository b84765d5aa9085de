package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/medMemo/internal/calendar"
	"github.com/pathakanu/medMemo/internal/config"
	"github.com/pathakanu/medMemo/internal/database"
	"github.com/pathakanu/medMemo/internal/dispatch"
	"github.com/pathakanu/medMemo/internal/httpapi"
	"github.com/pathakanu/medMemo/internal/lock"
	"github.com/pathakanu/medMemo/internal/logger"
	"github.com/pathakanu/medMemo/internal/notify"
	myopenai "github.com/pathakanu/medMemo/internal/openai"
	"github.com/pathakanu/medMemo/internal/reminder"
	"github.com/pathakanu/medMemo/internal/store"
	"github.com/pathakanu/medMemo/internal/twilio"
	"go.uber.org/zap"
)

// mirrorCallBound is the number of timed calls a schedule can make while
// holding its lock: one token refresh, three event deletes and three inserts
// at the provider, plus the store reads and writes around them.
const mirrorCallBound = 16

// lockLease outlives the longest a schedule lock can legitimately be held.
func lockLease(callTimeout time.Duration) time.Duration {
	lease := time.Duration(mirrorCallBound) * callTimeout
	if lease < 30*time.Second {
		return 30 * time.Second
	}
	return lease
}

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      *store.Store
	calendar   *calendar.Service
	manager    *reminder.Manager
	dispatcher *dispatch.Dispatcher
	closers    []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	db, err := database.New(cfg.DatabaseURL, cfg.SQLitePath, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	a.store = store.New(db, cfg.ProviderTimeout)

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var calSync reminder.CalendarSync
	if cfg.CalendarEnabled() {
		a.calendar = calendar.NewService(a.store,
			calendar.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
			calendar.NewGoogleProvider(),
			log,
			calendar.Options{
				Location: cfg.LocalTimezone,
				TimeZone: cfg.TimezoneName(),
				Timeout:  cfg.ProviderTimeout,
				Locker:   locker,
			})
		calSync = a.calendar
	} else {
		log.Info("calendar sync disabled: google oauth credentials not configured")
	}

	a.manager = reminder.NewManager(a.store, calSync, log, reminder.WithLocker(locker))

	sender, err := a.newSender()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = dispatch.New(a.store, sender, dispatch.Config{
		Secret:      cfg.CronSecret,
		Location:    cfg.LocalTimezone,
		Concurrency: cfg.DispatchConcurrency,
		SendTimeout: cfg.ProviderTimeout,
	}, log)
	return a, nil
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisURL == "" {
		return lock.NewLocal(), nil
	}
	r, err := lock.NewRedis(ctx, a.cfg.RedisURL, lockLease(a.cfg.ProviderTimeout), a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = r.Close() })
	a.log.Info("using redis for schedule and token locks")
	return r, nil
}

func (a *app) newSender() (notify.Sender, error) {
	switch a.cfg.NotifyChannel {
	case config.ChannelWhatsApp:
		messenger := twilio.New(a.cfg.TwilioAccountSID, a.cfg.TwilioAuthToken, a.cfg.TwilioWhatsAppNumber)
		return notify.NewWhatsAppSender(messenger, myopenai.New(a.cfg.OpenAIAPIKey), a.log), nil
	default:
		if a.cfg.SMTPHost == "" && !a.cfg.IsProduction() {
			a.log.Warn("SMTP_HOST not set, reminders will only be logged")
			return notify.NewLogSender(a.log), nil
		}
		sender, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUsername,
			Password: a.cfg.SMTPPassword,
			From:     a.cfg.MailFrom,
			Timeout:  a.cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("email sender: %w", err)
		}
		return sender, nil
	}
}

func (a *app) httpServer() *httpapi.Server {
	deps := httpapi.Dependencies{
		Dispatcher:  a.dispatcher,
		Reminders:   a.manager,
		Health:      a.store,
		AuthSecret:  []byte(a.cfg.AuthTokenSecret),
		StateSecret: []byte(a.cfg.OAuthStateSecret),
		AppBaseURL:  a.cfg.AppBaseURL,
	}
	if a.calendar != nil {
		deps.Calendar = a.calendar
	}
	if a.cfg.AuthTokenSecret == "" {
		a.log.Warn("AUTH_TOKEN_SECRET not set, reminder routes will reject every request")
	}
	return httpapi.New(deps, a.log)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
