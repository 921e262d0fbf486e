package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chronicle/collab/internal/app"
	"chronicle/collab/internal/auth"
	"chronicle/collab/internal/broadcast"
	"chronicle/collab/internal/collab"
	"chronicle/collab/internal/config"
	"chronicle/collab/internal/gitrepo"
	"chronicle/collab/internal/logging"
	"chronicle/collab/internal/merge"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/snapshot"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/versioning"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// backend is the persistence port every service reads and writes through.
type backend interface {
	collab.Store
	versioning.Store
	merge.Store
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()
	checks := map[string]app.Pinger{}

	var (
		db        *sql.DB
		dataStore backend = store.NewMemoryStore()
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err = store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		postgres := store.NewPostgresStore(db)
		dataStore = postgres
		checks["database"] = postgres
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	pubs, feed := publishers(cfg, logger, checks)
	defer func() {
		for _, closer := range pubs.closers {
			if err := closer(); err != nil {
				logger.Warn("close publisher", "error", err)
			}
		}
	}()

	snapshots := snapshotStore(ctx, cfg, logger, checks)

	var mirror *gitrepo.Mirror
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			log.Fatalf("failed to create repos dir: %v", err)
		}
		mirror = gitrepo.New(cfg.ReposDir)
	}

	searchService, closeSearch := searchIndex(ctx, cfg, db, logger)
	defer closeSearch()

	versionOpts := []versioning.Option{versioning.WithIndex(searchService), versioning.WithLogger(logger)}
	mergeOpts := []merge.Option{merge.WithLogger(logger)}
	var commits app.CommitLog
	if mirror != nil {
		versionOpts = append(versionOpts, versioning.WithMirror(mirror))
		mergeOpts = append(mergeOpts, merge.WithTagger(mirror))
		commits = mirror
	}
	versions := versioning.NewService(dataStore, versioning.Config{MaxBranchDepth: cfg.MaxBranchDepth}, versionOpts...)
	mergeOpts = append(mergeOpts, merge.WithPublisher(versions))
	mergeCfg := merge.DefaultConfig()
	mergeCfg.BestEffortLengthMerge = cfg.BestEffortLengthMerge
	engine, err := merge.NewEngine(dataStore, mergeCfg, mergeOpts...)
	if err != nil {
		log.Fatalf("merge engine: %v", err)
	}
	if cfg.BestEffortLengthMerge {
		logger.Warn("best-effort length merge is enabled for the auto strategy")
	}

	managerCfg := collab.DefaultManagerConfig()
	managerCfg.LockTimeout = cfg.LockTimeout
	managerCfg.Context = collab.ContextConfig{
		MaxTransformIterations: cfg.MaxTransformIterations,
		PendingHighWater:       cfg.PendingHighWater,
		PendingLowWater:        cfg.PendingLowWater,
	}
	sessions := collab.NewManager(dataStore, managerCfg,
		collab.WithPublisher(pubs.fanout),
		collab.WithSnapshots(snapshots),
		collab.WithLogger(logger),
	)

	deps := app.Deps{
		Sessions: sessions,
		Versions: versions,
		Merges:   engine,
		Checks:   checks,
		Commits:  commits,
		Events:   feed,
		Logger:   logger,
	}
	service := app.New(deps)

	var signer *auth.Signer
	if strings.TrimSpace(cfg.TokenSecret) != "" {
		signer = auth.NewSigner([]byte(cfg.TokenSecret))
	} else {
		logger.Warn("COLLAB_TOKEN_SECRET not set, trusting X-User-ID and X-User-Role headers")
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, signer, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("collabd listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	sessions.Close(shutdownCtx)
	searchService.Wait()
}

type publisherSet struct {
	fanout  broadcast.Fanout
	closers []func() error
}

func publishers(cfg config.Config, logger *slog.Logger, checks map[string]app.Pinger) (publisherSet, app.EventFeed) {
	var set publisherSet
	var feed app.EventFeed
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisPublisher, err := broadcast.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		dispatcher := broadcast.NewDispatcher("redis", redisPublisher, broadcast.DefaultDispatcherOptions(), logger)
		set.fanout = append(set.fanout, dispatcher)
		set.closers = append(set.closers, dispatcher.Close)
		checks["redis"] = redisPublisher
		feed = redisPublisher
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := broadcast.NewSyncProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka producer failed: %v", err)
		}
		dispatcher := broadcast.NewKafkaDispatcher(producer, cfg.KafkaTopic, broadcast.DefaultDispatcherOptions(), logger)
		set.fanout = append(set.fanout, dispatcher)
		set.closers = append(set.closers, dispatcher.Close)
	}
	if len(set.fanout) == 0 {
		logger.Warn("no broadcast backend configured, events are dropped")
	}
	return set, feed
}

func snapshotStore(ctx context.Context, cfg config.Config, logger *slog.Logger, checks map[string]app.Pinger) collab.SnapshotStore {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return snapshot.NewMemoryStore()
	}
	minioStore, err := snapshot.NewMinioStore(ctx, snapshot.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("minio connection failed: %v", err)
	}
	checks["minio"] = minioStore
	logger.Info("archiving snapshots to minio", "bucket", cfg.MinioBucket)
	return minioStore
}

// searchIndex prefers Meilisearch, falls back to PostgreSQL full-text search
// and, with neither, indexes in memory.
func searchIndex(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger) (*search.Service, func()) {
	var (
		primary  search.Index
		fallback search.Searcher
		pgfts    *search.PgFTS
		closer   = func() {}
	)
	if db != nil {
		pgfts = search.NewPgFTS(db)
		fallback = pgfts
	}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		primary = meili
		closer = meili.Close
	} else if db == nil {
		primary = search.NewMemoryIndex()
	}

	service := search.NewService(primary, fallback, logger)
	if primary != nil && pgfts != nil {
		go service.Reindex(ctx, pgfts.LoadAllRecords)
	}
	return service, closer
}
