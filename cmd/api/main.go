package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paywire/backend/internal/config"
	"github.com/paywire/backend/internal/database"
	"github.com/paywire/backend/internal/handlers"
	"github.com/paywire/backend/internal/logger"
	"github.com/paywire/backend/internal/queue"
	"github.com/paywire/backend/internal/repository"
	"github.com/paywire/backend/internal/services"
	"github.com/paywire/backend/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT_SECRET_KEY is required")
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	// The profile cache is an optimization; the API runs without it.
	rdb, err := database.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, continuing without cache")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	publisher, err := queue.NewPublisher(cfg.Broker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect message broker")
	}
	defer publisher.Close()

	st := store.New(db, log)
	users := repository.NewUserRepository(st)
	userService := services.NewUserService(users, publisher, rdb, log)
	userHandler := handlers.NewUserHandler(userService, cfg.JWT, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Mount("/api/v1", userHandler.Routes())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("api server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("api server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}
