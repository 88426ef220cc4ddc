// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-frontier/internal/api"
	"github.com/JakeFAU/crawl-frontier/internal/checkpoint"
	"github.com/JakeFAU/crawl-frontier/internal/clock/system"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/deadletter"
	"github.com/JakeFAU/crawl-frontier/internal/detector"
	"github.com/JakeFAU/crawl-frontier/internal/dispatcher"
	"github.com/JakeFAU/crawl-frontier/internal/escalation"
	"github.com/JakeFAU/crawl-frontier/internal/events"
	"github.com/JakeFAU/crawl-frontier/internal/events/sinks"
	collyfetcher "github.com/JakeFAU/crawl-frontier/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/crawl-frontier/internal/fetcher/headless"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
	"github.com/JakeFAU/crawl-frontier/internal/hash/sha256"
	"github.com/JakeFAU/crawl-frontier/internal/id/uuid"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-frontier/internal/politeness"
	natspublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-frontier/internal/queue"
	"github.com/JakeFAU/crawl-frontier/internal/retry"
	"github.com/JakeFAU/crawl-frontier/internal/seen"
	gcsstorage "github.com/JakeFAU/crawl-frontier/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-frontier/internal/storage/local"
	memorypublisher "github.com/JakeFAU/crawl-frontier/internal/publisher/memory"
	memoryStorage "github.com/JakeFAU/crawl-frontier/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-frontier/internal/storage/postgres"
	"github.com/JakeFAU/crawl-frontier/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	configPath string
	logger     *zap.Logger
	clock      crawler.Clock

	settings     *crawler.SettingsHolder
	frontier     *frontier.Frontier
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	checkpointer *checkpoint.Checkpointer
	hub          *events.Hub
	headless     *headlessfetcher.Fetcher

	blobStore crawler.BlobStore
	publisher crawler.Publisher
	recent    *memorypublisher.Publisher
	readiness map[string]api.ReadinessCheck

	pgPool        *pgxpool.Pool
	redisClient   *redis.Client
	storageClient *storage.Client
	kafka         *deadletter.Kafka
}

// Build creates the application's dependencies. configPath, when set, is
// watched for hot-reloadable settings.
func Build(ctx context.Context, cfg config.Config, configPath string) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		clock:      system.New(),
		settings:   crawler.NewSettingsHolder(cfg.Settings()),
		readiness:  map[string]api.ReadinessCheck{},
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("seen_backend", cfg.Seen.Backend),
		zap.String("deadletter_backend", cfg.DeadLetter.Backend),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	seenStore, err := a.setupSeen(ctx)
	if err != nil {
		return err
	}
	deadLetters, err := a.setupDeadLetters(ctx)
	if err != nil {
		return err
	}
	if a.blobStore, err = a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupEvents(ctx); err != nil {
		return err
	}

	robotsClient := &http.Client{Timeout: a.cfg.Politeness.FetchTimeout}
	robots := politeness.NewStore(
		politeness.NewHTTPFetcher(robotsClient, a.cfg.Frontier.UserAgent, a.logger),
		a.settings,
		a.clock,
		a.logger,
	)

	var emitter events.Emitter = events.Nop{}
	if a.hub != nil {
		emitter = a.hub
	}
	a.frontier, err = frontier.New(frontier.Deps{
		Settings:    a.settings,
		Queue:       queue.NewManager(),
		Limiter:     ratelimit.New(a.settings),
		Robots:      robots,
		Classifier:  retry.New(),
		Escalation:  escalation.New(a.settings),
		Seen:        seenStore,
		DeadLetters: deadLetters,
		Events:      emitter,
		Clock:       a.clock,
		IDs:         uuid.NewUUIDGenerator(),
		Hasher:      sha256.New(),
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("frontier init failed: %w", err)
	}

	a.checkpointer, err = checkpoint.New(a.blobStore, a.cfg.Checkpoint.Path, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("checkpoint init failed: %w", err)
	}

	opts := api.Options{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Readiness:      a.readiness,
	}
	if a.recent != nil {
		opts.RecentEvents = a.recent
	}
	a.apiServer = api.NewServer(a.frontier, deadLetters, opts, a.logger)

	if a.cfg.Worker.Enabled {
		if a.dispatch, err = a.setupWorkers(a.frontier, a.frontier); err != nil {
			return err
		}
	}
	return nil
}

// Run restores state, starts every background loop and the HTTP server, and
// blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Checkpoint.Restore {
		restored, err := a.checkpointer.RestoreInto(ctx, a.frontier)
		if err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		a.logger.Info("checkpoint restore", zap.Bool("restored", restored))
	}
	if a.configPath != "" {
		if err := config.Watch(a.configPath, a.settings, a.logger.Named("config")); err != nil {
			a.logger.Warn("config watch disabled", zap.Error(err))
		}
	}
	if len(a.cfg.Seeds) > 0 {
		seeder := dispatcher.New(a.frontier, nil)
		accepted, skipped, err := seeder.Seed(ctx, a.cfg.Seeds, 0)
		if err != nil {
			a.logger.Warn("seeding stopped early", zap.Error(err))
		}
		a.logger.Info("seeded frontier", zap.Int("accepted", accepted), zap.Int("skipped", skipped))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.frontier.RunSweeper(gctx, a.cfg.Frontier.SweepInterval)
		return nil
	})
	g.Go(func() error {
		a.checkpointer.Run(gctx, a.frontier, a.cfg.Checkpoint.Interval)
		return nil
	})
	if a.dispatch != nil {
		g.Go(func() error {
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
			a.dispatch.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// BuildWorker creates a worker-only App that pulls from the frontier at
// frontierURL instead of hosting one.
func BuildWorker(ctx context.Context, cfg config.Config, frontierURL string) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	client, err := api.NewClient(frontierURL, cfg.Server.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("frontier client: %w", err)
	}
	if cfg.Worker.Persist.Enabled {
		if app.blobStore, err = app.setupStorage(ctx); err != nil {
			app.closeInfrastructure(context.Background())
			return nil, err
		}
	}
	if app.dispatch, err = app.setupWorkers(client, client); err != nil {
		app.closeInfrastructure(context.Background())
		return nil, err
	}
	logger.Info("worker application built", zap.String("frontier", frontierURL))
	return app, nil
}

// RunWorkers runs only the worker pool until ctx is canceled or a signal
// arrives.
func (a *App) RunWorkers(ctx context.Context) error {
	if a.dispatch == nil {
		return errors.New("no workers configured")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("remote workers started", zap.Int("workers", a.cfg.Worker.Concurrency))
	a.dispatch.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.Close(closeCtx)
}

// Frontier exposes the coordinator for commands that drive it directly.
func (a *App) Frontier() *frontier.Frontier {
	return a.frontier
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.headless != nil {
		a.headless.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Seen.Backend != "postgres" && a.cfg.DeadLetter.Backend != "postgres" {
		return nil
	}
	var err error
	a.pgPool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.readiness["postgres"] = func(ctx context.Context) error { return a.pgPool.Ping(ctx) }
	a.logger.Info("postgres pool initialized")
	return nil
}

func (a *App) setupSeen(ctx context.Context) (crawler.SeenStore, error) {
	var store crawler.SeenStore
	switch a.cfg.Seen.Backend {
	case "redis":
		rs, client, err := seen.NewRedisStore(ctx, seen.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
			TTL:      a.cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis seen store init failed: %w", err)
		}
		a.redisClient = client
		a.readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		store = rs
		a.logger.Info("using redis seen store", zap.String("addr", a.cfg.Redis.Addr))
	case "postgres":
		ps, err := pgstore.NewSeenStore(a.pgPool, a.cfg.Database.SeenTable)
		if err != nil {
			return nil, fmt.Errorf("postgres seen store init failed: %w", err)
		}
		if err := ps.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres seen schema: %w", err)
		}
		store = ps
		a.logger.Info("using postgres seen store", zap.String("table", a.cfg.Database.SeenTable))
	default:
		store = seen.NewMemoryStore()
		a.logger.Info("using in-memory seen store")
	}
	return seen.New(store, a.cfg.Seen.BloomExpected, a.cfg.Seen.BloomFPRate), nil
}

func (a *App) setupDeadLetters(ctx context.Context) (crawler.DeadLetterSink, error) {
	var primary crawler.DeadLetterSink
	switch a.cfg.DeadLetter.Backend {
	case "postgres":
		ds, err := pgstore.NewDeadLetterStore(a.pgPool, a.cfg.Database.DeadLetterTable)
		if err != nil {
			return nil, fmt.Errorf("postgres dead-letter store init failed: %w", err)
		}
		if err := ds.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres dead-letter schema: %w", err)
		}
		primary = ds
		a.logger.Info("using postgres dead-letter store", zap.String("table", a.cfg.Database.DeadLetterTable))
	default:
		primary = deadletter.NewMemory(a.cfg.DeadLetter.Capacity)
		a.logger.Info("using in-memory dead-letter store", zap.Int("capacity", a.cfg.DeadLetter.Capacity))
	}
	if !a.cfg.DeadLetter.KafkaMirror {
		return primary, nil
	}
	var err error
	a.kafka, err = deadletter.NewKafka(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka dead-letter mirror init failed: %w", err)
	}
	a.logger.Info("mirroring dead letters to kafka", zap.Strings("brokers", a.cfg.Kafka.Brokers), zap.String("topic", a.cfg.Kafka.Topic))
	return deadletter.NewTee(primary, a.logger, a.kafka), nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Checkpoint.Backend {
	case "gcs":
		var err error
		a.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(a.storageClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupEvents(ctx context.Context) error {
	var sinkList []events.Sink
	if a.cfg.Events.Log {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
	}
	if a.cfg.Events.NATS {
		pub, err := natspublisher.Connect(ctx, natspublisher.Config{
			URL:      a.cfg.NATS.URL,
			Username: a.cfg.NATS.Username,
			Password: a.cfg.NATS.Password,
			Stream:   a.cfg.NATS.Stream,
			Subjects: a.cfg.NATS.Subjects,
		}, a.logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("nats publisher init failed: %w", err)
		}
		sinkList = append(sinkList, sinks.NewPublisherSink(pub, a.cfg.NATS.Subject, pub.Close))
		a.publisher = pub
	}
	if a.cfg.Events.PubSub {
		pub, client, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		closer := func() error {
			pubErr := pub.Close()
			return errors.Join(pubErr, client.Close())
		}
		sinkList = append(sinkList, sinks.NewPublisherSink(pub, a.cfg.PubSub.TopicName, closer))
		if a.publisher == nil {
			a.publisher = pub
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	if a.cfg.Events.Recent > 0 {
		a.recent = memorypublisher.NewBounded(a.cfg.Events.Recent)
		sinkList = append(sinkList, sinks.NewPublisherSink(a.recent, "recent", nil))
	}
	if len(sinkList) == 0 {
		a.logger.Info("lifecycle events disabled")
		return nil
	}
	a.hub = events.NewHub(events.Config{
		BufferSize:   a.cfg.Events.BufferSize,
		MaxBatchWait: a.cfg.Events.BatchWait,
		Logger:       a.logger.Named("event_hub"),
	}, sinkList...)
	a.logger.Info("event hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupWorkers(source worker.Source, links worker.LinkSink) (*dispatcher.Dispatcher, error) {
	wc := a.cfg.Worker
	direct := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Frontier.UserAgent,
		Timeout:      wc.Timeout,
		MaxRedirects: wc.MaxRedirects,
		MaxBodyBytes: wc.MaxBodyBytes,
	})
	// Without a browser, escalated URLs are fetched directly.
	var rendered crawler.Fetcher
	if wc.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       wc.Concurrency,
			UserAgent:         a.cfg.Frontier.UserAgent,
			NavigationTimeout: wc.Headless.NavTimeout,
			WaitSelector:      wc.Headless.WaitSelector,
			Settle:            wc.Headless.Settle,
			ExecPath:          wc.Headless.ExecPath,
			MaxRedirects:      wc.MaxRedirects,
			MaxBodyBytes:      wc.MaxBodyBytes,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed; rendered fetches will fail", zap.Error(err))
			rendered = headlessfetcher.NewNoop()
		} else {
			a.headless = hf
			rendered = hf
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", wc.Concurrency))
		}
	}

	deps := worker.Deps{
		Source:   source,
		Direct:   direct,
		Rendered: rendered,
		Detector: detector.New(detector.Config{
			ThinBytes:        wc.Detector.ThinBytes,
			MinTextChars:     wc.Detector.MinTextChars,
			ContentSelectors: wc.Detector.ContentSelectors,
		}),
		Hasher: sha256.New(),
		Clock:  a.clock,
	}
	if wc.FollowLinks {
		deps.Links = links
	}
	if wc.Persist.Enabled {
		deps.BlobStore = a.blobStore
		deps.Publisher = a.publisher
	}

	ids := uuid.NewPrefixed("worker-")
	runners := make([]dispatcher.Runner, 0, wc.Concurrency)
	for i := 0; i < wc.Concurrency; i++ {
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("worker id: %w", err)
		}
		w, err := worker.New(deps, worker.Config{
			ID:          id,
			ContentType: wc.Persist.ContentType,
			BlobPrefix:  wc.Persist.Prefix,
			Topic:       wc.Persist.Topic,
			FollowLinks: wc.FollowLinks,
			MaxLinks:    wc.MaxLinks,
		}, a.logger.With(zap.Int("index", i)))
		if err != nil {
			return nil, fmt.Errorf("worker init failed: %w", err)
		}
		runners = append(runners, w)
	}
	a.logger.Info("worker config",
		zap.Int("concurrency", wc.Concurrency),
		zap.Bool("headless", a.headless != nil),
		zap.Bool("follow_links", wc.FollowLinks),
		zap.Bool("persist", wc.Persist.Enabled),
	)
	return dispatcher.New(links, runners), nil
}
