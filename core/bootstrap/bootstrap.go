// Package bootstrap turns a loaded configuration into a runnable bot: logger,
// state store, knowledge base clients, dialogs and the turn orchestrator.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/qnabot/core/bot"
	coreconfig "github.com/m3rciful/qnabot/core/config"
	coredatabase "github.com/m3rciful/qnabot/core/database"
	"github.com/m3rciful/qnabot/core/dialogs"
	"github.com/m3rciful/qnabot/core/logger"
	"github.com/m3rciful/qnabot/core/qna"
	"github.com/m3rciful/qnabot/core/state"
	coretelegram "github.com/m3rciful/qnabot/core/telegram"
	"github.com/m3rciful/qnabot/core/telegram/router"
	tgsender "github.com/m3rciful/qnabot/core/telegram/sender"
)

const (
	dbWaitTimeout    = 30 * time.Second
	purgeInterval    = 10 * time.Minute
	startCommand     = "/start"
	startDescription = "Show the question menu"
)

// Options control the bootstrap pipeline. Nil hooks take the production defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	OpenStore  func(ctx context.Context, cfg *coreconfig.Config) (state.Store, error)
	NewQnA     func(shared coreconfig.QnAConfig, cat coreconfig.CategoryConfig) (qna.Client, error)
}

// App holds the wired components of a running bot.
type App struct {
	Config       *coreconfig.Config
	Store        state.Store
	Orchestrator *bot.Orchestrator

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	closed bool
}

// Run initializes the logger, opens the state store and wires the dialogs.
func Run(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	newQnA := opts.NewQnA
	if newQnA == nil {
		newQnA = qna.FromConfig
	}
	categories := make([]dialogs.Category, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		client, err := newQnA(cfg.QnA, c)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: category %q: %w", c.Label, err)
		}
		categories = append(categories, dialogs.Category{
			Label:    c.Label,
			DialogID: c.DialogID,
			Client:   client,
			Texts: dialogs.FAQTexts{
				Prompt:   c.PromptText,
				NoAnswer: c.NoAnswerText,
				Failure:  c.FailureText,
			},
		})
	}
	set, err := dialogs.NewSet(dialogs.MenuTexts{Prompt: cfg.Bot.MenuPrompt, Retry: cfg.Bot.MenuRetry}, categories)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: dialogs: %w", err)
	}

	openStore := opts.OpenStore
	if openStore == nil {
		openStore = OpenStore
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: state store: %w", err)
	}

	orch, err := bot.New(set, store, bot.Options{
		Texts: bot.Texts{
			Welcome:      cfg.Bot.WelcomeText,
			FirstWelcome: cfg.Bot.FirstWelcomeText,
			Error:        cfg.Bot.ErrorText,
		},
		TurnTimeout: time.Duration(cfg.Bot.TurnTimeoutSeconds) * time.Second,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("bootstrap: orchestrator: %w", err)
	}

	logger.Info(ctx, "app", "bootstrap.done",
		slog.String("backend", cfg.State.Backend),
		slog.Int("dialogs", len(set.IDs())),
	)
	return &App{Config: cfg, Store: store, Orchestrator: orch}, nil
}

// OpenStore opens the backend named by cfg.State.Backend. The Postgres
// backend waits for the server and applies migrations first.
func OpenStore(ctx context.Context, cfg *coreconfig.Config) (state.Store, error) {
	ttl := time.Duration(cfg.State.TTLSeconds) * time.Second
	switch cfg.State.Backend {
	case coreconfig.StateMemory:
		return state.NewMemoryStore(), nil
	case coreconfig.StateRedis:
		s, err := state.NewRedisStore(ctx, cfg.State.RedisURL, cfg.State.KeyPrefix, ttl)
		if err != nil {
			return nil, err
		}
		return s, nil
	case coreconfig.StatePostgres:
		if err := coredatabase.WaitForPostgres(ctx, coredatabase.KeywordDSN(cfg.Database), dbWaitTimeout); err != nil {
			return nil, err
		}
		db, err := coredatabase.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := coredatabase.RunMigrations(ctx, cfg.Database); err != nil {
			_ = db.Close()
			return nil, err
		}
		return state.NewPostgresStore(db, ttl), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}

// TelegramRunOptions builds the Telegram runtime configuration for the app.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	if a.Orchestrator == nil {
		return coretelegram.RunOptions{}, fmt.Errorf("bootstrap: app has no orchestrator")
	}
	return coretelegram.RunOptions{
		Config:            a.Config,
		DispatcherOptions: tgsender.Options{MaxRetries: 2},
		Middlewares:       coretelegram.DefaultMiddlewares(a.Config, nil),
		Routes: func(rt coretelegram.Runtime) []coretelegram.Route {
			return router.TurnRoutes(a.Orchestrator, rt.Me)
		},
		Commands: []coretelegram.Command{{Name: startCommand, Description: startDescription}},
		OnStart: func(ctx context.Context, _ coretelegram.Runtime) error {
			a.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context, _ coretelegram.Runtime) error {
			return a.Close()
		},
	}, nil
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Start launches background maintenance tied to ctx: expired state rows
// are purged periodically when the store supports it.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil || a.closed {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	if p, ok := a.Store.(purger); ok && a.Config.State.TTLSeconds > 0 {
		g.Go(func() error {
			purgeLoop(gctx, p, purgeInterval)
			return nil
		})
	}
}

// Close stops background work and closes the state store. Later calls are no-ops.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel, g := a.cancel, a.group
	a.cancel, a.group = nil, nil
	a.mu.Unlock()

	var waitErr error
	if cancel != nil {
		cancel()
		waitErr = g.Wait()
	}
	if a.Store == nil {
		return waitErr
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close state store: %w", err)
	}
	return waitErr
}

func purgeLoop(ctx context.Context, p purger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		start := time.Now()
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "state", "state.purge",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			continue
		}
		logger.Debug(ctx, "state", "state.purge",
			slog.String("status", "ok"),
			slog.Int64("count", n),
			slog.Duration("duration_ms", logger.Took(start)),
		)
	}
}
