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

	"armory/api/internal/accounts"
	"armory/api/internal/app"
	"armory/api/internal/config"
	"armory/api/internal/identity"
	"armory/api/internal/images"
	"armory/api/internal/notify"
	"armory/api/internal/search"
	"armory/api/internal/store"
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

	executor := store.NewExecutor(db)
	inventory := store.NewInventory(executor)
	users := store.NewUsers(db)

	channel, err := notify.NewRedisChannel(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer channel.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgLike(db))

	var imageService *images.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		imageService, err = images.NewService(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
	}

	// With an external identity provider every credential is confirmed
	// against it; otherwise tokens minted by the account service are
	// verified locally.
	var verifier identity.Verifier
	if strings.TrimSpace(cfg.IdentityURL) != "" {
		log.Printf("Verifying credentials against %s", cfg.IdentityURL)
		verifier = identity.NewHTTPVerifier(cfg.IdentityURL, cfg.IdentityAPIKey)
	} else {
		log.Printf("Verifying credentials locally")
		verifier = identity.NewLocalVerifier(cfg.JWTSecret)
	}

	accountService := accounts.NewService(users, cfg.JWTSecret, cfg.AccessTTL)

	service := app.New(cfg, inventory, verifier, channel, accountService, searchService, imageService, channel.Ping)

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
		log.Printf("Armory API listening on %s", cfg.Addr)
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
