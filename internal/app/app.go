package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rfletcher/intelforge/internal/cache"
	"github.com/rfletcher/intelforge/internal/config"
	"github.com/rfletcher/intelforge/internal/database"
	"github.com/rfletcher/intelforge/internal/enrich"
	"github.com/rfletcher/intelforge/internal/extractor"
	"github.com/rfletcher/intelforge/internal/fetcher"
	"github.com/rfletcher/intelforge/internal/httpapi"
	"github.com/rfletcher/intelforge/internal/ingest"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
	"github.com/rfletcher/intelforge/internal/ratelimit"
	"github.com/rfletcher/intelforge/internal/refdata"
	"github.com/rfletcher/intelforge/internal/scheduler"
)

// App holds all application dependencies
type App struct {
	Config      *config.Config
	Logger      *logging.Logger
	Cache       cache.Cache
	Coordinator *ingest.Coordinator
	Enhancer    *enrich.Enhancer
	Tagger      *enrich.Tagger
	Refresher   *refdata.Refresher
	Scheduler   *scheduler.Scheduler
	HTTPServer  *httpapi.Server

	db           *database.DB
	feedStore    *database.FeedStore
	contentStore *database.ContentStore
	tagStore     *database.TagStore
	entityStore  *database.EntityStore
}

// New creates and initializes a new App instance
func New(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	app.Logger = logging.New(logging.ParseLevel(cfg.Logging.Level))

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.Cache = app.initCache()

	// Initialize ingestion pipeline
	limiter := ratelimit.New(cfg.Fetch.RateLimitDur)
	feedFetcher := fetcher.New(limiter, fetcher.Config{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
	})

	budget := ratelimit.NewBudget(cfg.Extract.BudgetCalls, cfg.Extract.BudgetWindow)
	textExtractor := extractor.New(extractor.Config{
		Endpoint: cfg.Extract.Endpoint,
		APIKey:   cfg.Extract.APIKey,
		Timeout:  cfg.Extract.Timeout,
	}, budget, app.Cache, app.Logger)

	app.Coordinator = ingest.NewCoordinator(app.feedStore, app.contentStore, feedFetcher, textExtractor, app.Logger)

	// Initialize enrichment pipeline
	if err := app.initSummarizer(); err != nil {
		return nil, err
	}
	app.initTagger()

	app.Refresher = refdata.NewRefresher(refdata.Config{
		ActorsSource: cfg.Refdata.ActorsSource,
		ToolsSource:  cfg.Refdata.ToolsSource,
	}, app.entityStore, app.Tagger, app.Logger)

	if err := app.initScheduler(); err != nil {
		return nil, err
	}

	app.initHTTPServer()

	return app, nil
}

// Run seeds the feed registry, starts the background jobs, and serves the
// HTTP API until the listener fails or the server is shut down.
func (a *App) Run(ctx context.Context) error {
	a.seedFeeds(ctx)
	a.Scheduler.Start()
	return a.HTTPServer.Start(a.Config.Server.HTTPAddr)
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error("Database close error", logging.WithField("error", err.Error()))
		}
	}

	return nil
}

func (a *App) initDatabase() error {
	db, err := database.New(database.Config{
		Host:     a.Config.Database.Host,
		Port:     a.Config.Database.Port,
		User:     a.Config.Database.User,
		Password: a.Config.Database.Password,
		Database: a.Config.Database.Database,
		SSLMode:  a.Config.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	a.Logger.Info("Connected to PostgreSQL",
		logging.WithField("host", a.Config.Database.Host),
		logging.WithField("database", a.Config.Database.Database))

	a.db = db
	a.feedStore = database.NewFeedStore(db)
	a.contentStore = database.NewContentStore(db)
	a.tagStore = database.NewTagStore(db)
	a.entityStore = database.NewEntityStore(db)
	return nil
}

func (a *App) initCache() cache.Cache {
	switch a.Config.Cache.Backend {
	case "redis":
		a.Logger.Info("Using Redis cache backend", logging.WithField("addr", a.Config.Cache.RedisAddr))
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:   a.Config.Cache.RedisAddr,
			DB:     a.Config.Cache.RedisDB,
			Prefix: "intelforge:extract:",
		}, a.Config.Cache.TTL)
		if err != nil {
			a.Logger.Error("Failed to connect to Redis, falling back to memory cache", logging.WithField("error", err.Error()))
			return cache.NewMemory(a.Config.Cache.TTL, a.Config.Cache.MaxEntries)
		}
		return redisCache
	default:
		a.Logger.Info("Using in-memory cache backend")
		return cache.NewMemory(a.Config.Cache.TTL, a.Config.Cache.MaxEntries)
	}
}

func (a *App) initSummarizer() error {
	var summarizer enrich.Summarizer

	switch a.Config.Summary.Backend {
	case "ollama":
		client, err := enrich.NewOllamaClient(enrich.OllamaConfig{
			Host:    a.Config.Summary.OllamaHost,
			Model:   a.Config.Summary.OllamaModel,
			Timeout: a.Config.Summary.Timeout,
		})
		if err != nil {
			return fmt.Errorf("configure ollama backend: %w", err)
		}
		if err := client.CheckConnection(context.Background()); err != nil {
			a.Logger.Warn("Ollama host not answering yet, summaries will retry in the background",
				logging.WithField("host", a.Config.Summary.OllamaHost),
				logging.WithField("error", err.Error()))
		}
		summarizer = client
	case "groq":
		client, err := enrich.NewGroqClient(enrich.GroqConfig{
			APIKey:  a.Config.Summary.GroqAPIKey,
			Model:   a.Config.Summary.GroqModel,
			Timeout: a.Config.Summary.Timeout,
		})
		if err != nil {
			return fmt.Errorf("configure groq backend: %w", err)
		}
		summarizer = client
	default:
		a.Logger.Info("No summarization backend configured")
		return nil
	}

	a.Logger.Info("Summarization backend initialized", logging.WithField("backend", a.Config.Summary.Backend))
	a.Enhancer = enrich.NewEnhancer(a.contentStore, summarizer, a.Logger, enrich.EnhancerConfig{
		BatchSize:     a.Config.Summary.BatchSize,
		RetryAttempts: a.Config.Summary.RetryAttempts,
	})
	return nil
}

func (a *App) initTagger() {
	// Seed the recognizer from whatever reference data a previous run left
	// in the database. The refdata refresh job replaces it once remote
	// sources load.
	entities, err := a.entityStore.ListAll(context.Background())
	if err != nil {
		a.Logger.Warn("Could not load stored reference entities", logging.WithField("error", err.Error()))
	} else if len(entities) > 0 {
		a.Logger.Info("Loaded reference entities", logging.WithField("count", len(entities)))
	}

	a.Tagger = enrich.NewTagger(a.contentStore, a.tagStore, enrich.NewRecognizer(entities), a.Logger)
}

func (a *App) initScheduler() error {
	sched, err := scheduler.New(a.Config.Scheduler.Workers, a.Logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []scheduler.Job{
		{
			Name:       "refdata-refresh",
			Interval:   a.Config.Refdata.RefreshInterval,
			RunOnStart: true,
			Run:        a.Refresher.Refresh,
		},
		{
			Name:       "feed-ingest",
			Interval:   a.Config.Scheduler.FeedCheckInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := a.Coordinator.IngestAll(ctx)
				return err
			},
		},
		{
			Name:     "entity-tagging",
			Interval: a.Config.Scheduler.TagCheckInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Tagger.TagUntagged(ctx, 0)
				return err
			},
		},
	}

	if a.Enhancer != nil {
		jobs = append(jobs, scheduler.Job{
			Name:     "summary-backfill",
			Interval: a.Config.Scheduler.SummaryCheckInterval,
			Run: func(ctx context.Context) error {
				_, err := a.Enhancer.SummarizeBatch(ctx)
				return err
			},
		})
	}

	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}

	a.Scheduler = sched
	return nil
}

func (a *App) initHTTPServer() {
	// The summarizer slot stays nil when no backend is configured so the
	// API can answer 503 instead of failing mid-request.
	var summarySvc httpapi.SummaryService
	if a.Enhancer != nil {
		summarySvc = a.Enhancer
	}

	a.HTTPServer = httpapi.New(a.feedStore, a.contentStore, a.tagStore, a.Coordinator, summarySvc, a.Tagger, a.Refresher, a.Logger)
}

// seedFeeds registers feeds from the configured YAML file. Feeds already in
// the database are left untouched, so local edits survive restarts.
func (a *App) seedFeeds(ctx context.Context) {
	seeds, err := config.LoadSeedFeeds(a.Config.Fetch.FeedsFile)
	if err != nil {
		a.Logger.Warn("Failed to load feeds file",
			logging.WithField("path", a.Config.Fetch.FeedsFile),
			logging.WithField("error", err.Error()))
		return
	}
	if len(seeds) == 0 {
		return
	}

	created := 0
	for _, seed := range seeds {
		_, err := a.feedStore.GetByURL(ctx, seed.URL)
		if err == nil {
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			a.Logger.Warn("Feed lookup failed",
				logging.WithField("url", seed.URL),
				logging.WithField("error", err.Error()))
			continue
		}

		if _, err := a.feedStore.Create(ctx, models.Feed{
			URL:      seed.URL,
			Title:    seed.Title,
			Category: seed.Category,
		}); err != nil && !errors.Is(err, database.ErrDuplicate) {
			a.Logger.Warn("Feed seed failed",
				logging.WithField("url", seed.URL),
				logging.WithField("error", err.Error()))
			continue
		}
		created++
	}

	a.Logger.Info("Seeded feed registry",
		logging.WithField("file", a.Config.Fetch.FeedsFile),
		logging.WithField("created", created),
		logging.WithField("total", len(seeds)))
}
