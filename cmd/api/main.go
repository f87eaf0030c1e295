package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"peritaje/api/internal/app"
	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/auth"
	"peritaje/api/internal/config"
	"peritaje/api/internal/export"
	"peritaje/api/internal/identity"
	"peritaje/api/internal/logger"
	"peritaje/api/internal/savelock"
	"peritaje/api/internal/search"
	"peritaje/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	var migrations fs.FS = store.EmbeddedMigrations()
	if strings.TrimSpace(cfg.MigrationsDir) != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatal("migrations failed", "error", err)
	}

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPostgres(dataStore), log)

	opts := []appraisal.Option{
		appraisal.WithTxRunner(dataStore),
		appraisal.WithIndexer(searchService),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := savelock.NewRedisLocker(cfg.RedisURL, cfg.SaveLockTTL)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer locker.Close()
		if err := locker.Ping(ctx); err != nil {
			log.Warn("redis unreachable, saves will run unlocked until it recovers", "error", err)
		}
		opts = append(opts, appraisal.WithLocker(locker))
		log.Info("save lock enabled", "ttl", cfg.SaveLockTTL.String())
	}
	appraisals := appraisal.NewService(dataStore, log, opts...)

	var provider identity.Provider
	if strings.TrimSpace(cfg.SupabaseURL) != "" {
		provider = identity.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, &http.Client{Timeout: 10 * time.Second})
		log.Info("identity provider: supabase", "url", cfg.SupabaseURL)
	} else {
		provider = identity.NewLocal(dataStore, []byte(cfg.JWTSecret), cfg.AccessTTL)
		log.Info("identity provider: local")
	}

	renderer := export.NewChromePDF(30 * time.Second)
	if !renderer.Available() {
		log.Warn("chromium not found, PDF endpoints will return 503")
	}
	var archive export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchive, err := export.NewMinioArchive(ctx, export.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Warn("report archive disabled", "error", err)
		} else {
			archive = minioArchive
		}
	}
	exportService := export.NewService(renderer, archive, log)

	service := app.NewService(app.Dependencies{
		Appraisals: appraisals,
		Identity:   provider,
		Search:     searchService,
		Export:     exportService,
		DB:         dataStore,
		Log:        log,
	})
	httpServer := app.NewHTTPServer(service, auth.NewValidator([]byte(cfg.JWTSecret)), cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("peritaje API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}
