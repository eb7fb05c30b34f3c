package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/api"
	"github.com/OLJE901753/farmhand/internal/event"
	"github.com/OLJE901753/farmhand/internal/middleware"
	"github.com/OLJE901753/farmhand/internal/notify"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
	"github.com/OLJE901753/farmhand/internal/queue"
	"github.com/OLJE901753/farmhand/internal/repository"
)

func main() {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	postgresDSN := os.Getenv("POSTGRES_DSN")
	if postgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	repo, err := repository.NewPostgresRepository(postgresDSN)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := repo.Close(); err != nil {
			log.Printf("failed to close Postgres repository: %v", err)
		}
	}()

	q, err := queue.NewQueue(redisAddr)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close task queue: %v", err)
		}
	}()

	registry := agent.NewRegistry(repo, agent.DefaultLivenessThreshold)
	events := event.NewLog(event.DefaultCapacity, repo)

	orch := orchestrator.New(repo, q, registry, events, notify.FromEnv(), orchestrator.Config{})
	orch.Start()
	defer orch.Stop()

	go startMetricsCollector(orch)

	apiHandler := api.NewAPI(orch, repo)
	handler := middleware.MetricsMiddleware(apiHandler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{Addr: ":" + port, Handler: handler}
	go func() {
		log.Printf("Orchestrator starting on :%s", port)
		log.Printf("Connected to Redis at %s", redisAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down orchestrator...")
	if err := server.Close(); err != nil {
		log.Printf("failed to close HTTP server: %v", err)
	}
}
