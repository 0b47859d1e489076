package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/openlyops/newsletter-service/internal/api"
	"github.com/openlyops/newsletter-service/internal/config"
	"github.com/openlyops/newsletter-service/internal/mailer"
	"github.com/openlyops/newsletter-service/internal/pkg/distlock"
	"github.com/openlyops/newsletter-service/internal/pkg/logger"
	"github.com/openlyops/newsletter-service/internal/repository/postgres"
	"github.com/openlyops/newsletter-service/internal/secure"
	"github.com/openlyops/newsletter-service/internal/service/broadcast"
	"github.com/openlyops/newsletter-service/internal/service/directory"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	redisClient := openRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	codec, err := secure.NewCodec(cfg.Crypto.EmailSalt, cfg.Crypto.AESKey)
	if err != nil {
		log.Fatalf("crypto: %v", err)
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("mail gateway: %v", err)
	}
	templates := mailer.NewTemplateStore(cfg.Mail.TemplateDir)
	mailSvc := mailer.NewService(gateway, templates, cfg.Mail)

	repo := postgres.NewSubscriberRepo(db)
	dirSvc := directory.NewService(repo, codec, mailSvc)

	guards := func(templateID string) broadcast.RunGuard {
		return distlock.New(redisClient, db, "broadcast:"+templateID, cfg.Broadcast.LockTTL())
	}
	bcSvc := broadcast.NewService(repo, mailSvc, codec, mailSvc, guards, broadcast.Options{
		PageSize:    cfg.Broadcast.PageSize,
		PageRetries: cfg.Broadcast.PageRetries,
	})

	router := api.NewRouter(api.NewHandlers(dirSvc, bcSvc), nil)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // broadcast runs are synchronous
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Info("newsletter service listening",
			"addr", addr, "provider", cfg.Mail.Provider, "domain", cfg.Mail.Domain)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// openDatabase connects with sane statement timeouts so a stuck query
// cannot pin a broadcast run forever.
func openDatabase(dsn string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openRedis connects to the optional lock backend. A missing or unreachable
// Redis is not fatal: broadcast guards fall back to Postgres advisory locks.
func openRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled || cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using advisory locks", "addr", cfg.Addr, "err", err)
		client.Close()
		return nil
	}
	return client
}

func buildGateway(cfg *config.Config) (mailer.Gateway, error) {
	switch cfg.Mail.Provider {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mailer.NewSESGateway(ctx, cfg.Mail)
	default:
		logger.Info("mail gateway in dry-run mode", "provider", cfg.Mail.Provider)
		return mailer.NewDryRunGateway(), nil
	}
}
