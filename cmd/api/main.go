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

	"github.com/joho/godotenv"

	"inkwell/api/internal/app"
	"inkwell/api/internal/archive"
	"inkwell/api/internal/config"
	"inkwell/api/internal/notion"
	"inkwell/api/internal/oauthstate"
	"inkwell/api/internal/reflection"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

func main() {
	_ = godotenv.Load()
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

	dataStore := store.NewPostgresStore(db)

	var states oauthstate.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for OAuth state storage")
		redisStates, err := oauthstate.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStates.Close()
		states = redisStates
	} else {
		log.Printf("Using PostgreSQL for OAuth state storage")
		states = oauthstate.NewPostgresStore(dataStore)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgTitle(db))

	var archiveStore *archive.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveStore, err = archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: import archive unavailable: %v", err)
		}
	}

	notionClient := notion.NewClient(cfg.NotionClientID, cfg.NotionClientSecret)
	if !notionClient.Configured() {
		log.Printf("WARNING: Notion OAuth credentials not configured, connect flow disabled")
	}

	reflectionClient := reflection.NewClient(cfg.OpenAIAPIKey)
	if !reflectionClient.Configured() {
		log.Printf("WARNING: reflection API key not configured, reflections disabled")
	}

	service := app.New(cfg, dataStore, states, notionClient, searchService, archiveStore, reflectionClient)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
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
