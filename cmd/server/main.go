package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/rivetlabs/rivet/internal/config"
	"github.com/rivetlabs/rivet/internal/database"
	"github.com/rivetlabs/rivet/internal/repository"
	"github.com/rivetlabs/rivet/internal/server"
	"github.com/rivetlabs/rivet/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewPhotoRepository(pool)

	backend, err := cfg.NewBackend()
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if s3, ok := backend.(*storage.S3); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure bucket: %v", err)
		}
	}

	def, err := server.NewImageDefinition(cfg, backend)
	if err != nil {
		log.Fatalf("define attachment: %v", err)
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	srv := server.New(cfg, repo, def, backend, queueClient)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
