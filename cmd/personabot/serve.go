package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/workglows/personabot/internal/config"
	"github.com/workglows/personabot/internal/dispatch"
	"github.com/workglows/personabot/internal/gemini"
	"github.com/workglows/personabot/internal/logger"
	"github.com/workglows/personabot/internal/persona"
	"github.com/workglows/personabot/internal/poll"
	"github.com/workglows/personabot/internal/respond"
	"github.com/workglows/personabot/internal/session"
	"github.com/workglows/personabot/internal/telegram"
	"github.com/workglows/personabot/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideCredentials,
			providePersona,
			provideTelegramClient,
			provideGenerator,
			provideSessionStore,
			provideResponder,
			providePoller,
		),
		fx.Invoke(
			registerCommandMenu,
			startSessionSweeper,
			startPoller,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideCredentials() (config.Credentials, error) {
	return config.LoadCredentials()
}

func providePersona(cfg config.Config, log *slog.Logger) (*persona.Persona, error) {
	p, err := persona.Load(cfg.Persona.Name, cfg.Persona.Path)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	log.Info("persona loaded", slog.String("persona", p.Name))
	return p, nil
}

func provideTelegramClient(creds config.Credentials, log *slog.Logger) (*telegram.Client, error) {
	return telegram.NewClient(creds.TelegramToken, log)
}

func provideGenerator(cfg config.Config, creds config.Credentials, log *slog.Logger) (*gemini.Generator, error) {
	return gemini.NewGenerator(context.Background(), creds.GeminiAPIKey, cfg.Generation.Model, log)
}

func provideSessionStore(gen *gemini.Generator) *session.Store[respond.Session] {
	return session.New(func() (respond.Session, error) {
		return gen.NewSession(context.Background())
	})
}

func provideResponder(log *slog.Logger, cfg config.Config, p *persona.Persona, client *telegram.Client, sessions *session.Store[respond.Session]) *respond.Responder {
	timeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	return respond.NewResponder(log, p, client, sessions, timeout)
}

func providePoller(log *slog.Logger, cfg config.Config, p *persona.Persona, client *telegram.Client, responder *respond.Responder) *poll.Poller {
	classifier := dispatch.Classifier{Bot: client.Self(), Keyword: p.Keyword}
	handle := func(ctx context.Context, ev dispatch.Event) error {
		return responder.Respond(ctx, ev, classifier.Classify(ev))
	}
	opts := poll.Options{
		WaitSeconds: cfg.Poll.TimeoutSeconds,
		IdleSleep:   time.Duration(cfg.Poll.IdleSleepSeconds) * time.Second,
		Backoff:     time.Duration(cfg.Poll.BackoffSeconds) * time.Second,
	}
	return poll.New(log, client, handle, opts)
}

// registerCommandMenu publishes the slash-command menu. Failures are logged
// and tolerated; the relay still answers commands without a menu.
func registerCommandMenu(log *slog.Logger, client *telegram.Client) {
	commands := []telegram.Command{
		{Name: "start", Description: "Start chatting"},
		{Name: "help", Description: "How to talk to the bot"},
		{Name: "reset", Description: "Forget our conversation"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.RegisterCommands(ctx, commands); err != nil {
		log.Warn("failed to register command menu", slog.String("error", err.Error()))
	}
}

// startSessionSweeper evicts idle conversations on a cron schedule when an
// idle TTL is configured. With no TTL the store grows for the process
// lifetime.
func startSessionSweeper(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, sessions *session.Store[respond.Session]) error {
	if cfg.Session.IdleTTL == "" {
		return nil
	}
	ttl, err := time.ParseDuration(cfg.Session.IdleTTL)
	if err != nil {
		return fmt.Errorf("parse session idle_ttl: %w", err)
	}
	c := cron.New()
	if _, err := c.AddFunc(cfg.Session.SweepSchedule, func() {
		if n := sessions.PruneIdle(ttl); n > 0 {
			log.Info("evicted idle sessions", slog.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := c.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

func startPoller(lc fx.Lifecycle, log *slog.Logger, poller *poll.Poller) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting relay", slog.String("version", version.GetInfo()))
			go func() {
				defer close(done)
				if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("poll loop stopped", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
