package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/user_directory/internal/config"
	"github.com/Skotchmaster/user_directory/internal/db"
	"github.com/Skotchmaster/user_directory/internal/es"
	"github.com/Skotchmaster/user_directory/internal/handlers"
	"github.com/Skotchmaster/user_directory/internal/logging"
	"github.com/Skotchmaster/user_directory/internal/metrics"
	"github.com/Skotchmaster/user_directory/internal/middleware/auth"
	"github.com/Skotchmaster/user_directory/internal/mykafka"
	"github.com/Skotchmaster/user_directory/internal/repo"
	"github.com/Skotchmaster/user_directory/internal/revocation"
	"github.com/Skotchmaster/user_directory/internal/service"
	"github.com/Skotchmaster/user_directory/internal/tokens"
	httpserver "github.com/Skotchmaster/user_directory/internal/transport/http"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LogLevel)
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	if err != nil {
		fatal("db_init_failed", err)
	}
	if err := db.Migrate(gdb); err != nil {
		fatal("db_migrate_failed", err)
	}

	var (
		store      revocation.Store
		closeRedis func() error
	)
	if cfg.RedisAddr != "" {
		rdb, err := revocation.NewRedisClient(initCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fatal("redis_init_failed", err)
		}
		store = revocation.NewRedisStore(rdb, revocation.DefaultKeyPrefix)
		closeRedis = rdb.Close
		logger.Info("revocation_store", "kind", "redis", "addr", cfg.RedisAddr)
	} else {
		mem := revocation.NewMemoryStore()
		go mem.Run(ctx, cfg.RevocationSweepInterval)
		store = mem
		logger.Info("revocation_store", "kind", "memory")
	}

	var (
		publisher mykafka.Publisher = mykafka.NopPublisher{}
		producer  *mykafka.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = mykafka.NewProducer(cfg.KafkaBrokers)
		publisher = producer
	} else {
		logger.Warn("kafka_disabled", "reason", "KAFKA_BROKERS is empty")
	}

	var index service.UserIndex
	if cfg.ESURL != "" {
		client, err := es.NewClient(initCtx, es.Config{URL: cfg.ESURL, User: cfg.ESUser, Password: cfg.ESPassword})
		if err != nil {
			fatal("elasticsearch_init_failed", err)
		}
		index = es.NewUserIndex(client, cfg.ESIndex)
	} else {
		logger.Warn("search_disabled", "reason", "ES_URL is empty")
	}

	m := metrics.New()
	tok := tokens.NewService([]byte(cfg.JWTSecret), []byte(cfg.RefreshSecret), store,
		tokens.WithTTL(cfg.AccessTTL, cfg.RefreshTTL))

	svc := &service.AuthService{
		Repo:     repo.NewGormRepo(gdb),
		Tokens:   tok,
		Producer: publisher,
		Index:    index,
		Metrics:  m,
	}

	if cfg.SeedModeratorPassword != "" {
		seedCtx := logging.IntoContext(initCtx, logger)
		if err := svc.EnsureModerator(seedCtx, cfg.SeedModeratorUsername, cfg.SeedModeratorPassword); err != nil {
			fatal("seed_moderator_failed", err)
		}
	}

	e := httpserver.New(&httpserver.Deps{
		AuthHandler:  handlers.NewAuthHandler(svc),
		UsersHandler: handlers.NewUsersHandler(svc),
		Auth:         auth.NewMiddleware(tok, m),
		Metrics:      m,
		Ready:        func(ctx context.Context) error { return db.Ping(ctx, gdb) },
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http_server_started", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http_server_failed", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}
	closeAll(logger, gdb, producer, closeRedis)
	logger.Info("shutdown_complete")
}

func closeAll(logger *slog.Logger, gdb *gorm.DB, producer *mykafka.Producer, closeRedis func() error) {
	if err := db.Close(gdb); err != nil {
		logger.Error("db_close_failed", "error", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka_close_failed", "error", err)
		}
	}
	if closeRedis != nil {
		if err := closeRedis(); err != nil {
			logger.Error("redis_close_failed", "error", err)
		}
	}
}
