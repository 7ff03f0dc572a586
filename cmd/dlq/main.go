package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/paywire/backend/internal/config"
	"github.com/paywire/backend/internal/database"
	"github.com/paywire/backend/internal/logger"
	"github.com/paywire/backend/internal/queue"
	"github.com/paywire/backend/internal/repository"
	"github.com/paywire/backend/internal/services"
	"github.com/paywire/backend/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	st := store.New(db, log)
	transactions := repository.NewTransactionRepository(st)
	handler := services.NewDLQHandler(transactions, log)
	consumer := queue.NewDLQConsumer(cfg.Broker, handler, log)

	if err := consumer.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start dead-letter consumer")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("dead-letter consumer shutting down")
	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("consumer shutdown error")
	}
}
