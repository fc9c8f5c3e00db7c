package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"attest/api/internal/app"
	"attest/api/internal/archive"
	"attest/api/internal/authpw"
	"attest/api/internal/cache"
	"attest/api/internal/config"
	"attest/api/internal/email"
	"attest/api/internal/search"
	"attest/api/internal/session"
	"attest/api/internal/storage"
	"attest/api/internal/store"
	"attest/api/internal/triage"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("failed to create archive dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	deps := app.Deps{
		AuthPW:  authpw.NewService(dataStore),
		Archive: archive.New(cfg.ArchiveDir),
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, pgfts)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore

		templateCache, err := cache.New(cfg.RedisURL, cfg.PublishedCacheTTL)
		if err != nil {
			log.Fatalf("redis cache connection failed: %v", err)
		}
		defer templateCache.Close()
		deps.Cache = templateCache
	} else {
		log.Printf("REDIS_URL not set; refresh sessions and published-form cache disabled")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := storage.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		deps.Objects = objects
	} else {
		log.Printf("MINIO_ENDPOINT not set; report attachments disabled")
	}

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})
	if mailer.IsConfigured() {
		deps.Email = mailer
	} else {
		log.Printf("SMTP not configured; notification emails disabled")
	}

	if strings.TrimSpace(cfg.TriageSkillURL) != "" {
		deps.Triage = triage.NewClient(cfg.TriageSkillURL, cfg.TriageSkillToken)
	}

	service := app.New(cfg, dataStore, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Attest API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
