package main

import (
	"log"
	"time"

	"github.com/OLJE901753/farmhand/internal/metrics"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
)

func startMetricsCollector(orch *orchestrator.Orchestrator) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		updateQueueMetrics(orch)
	}
}

func updateQueueMetrics(orch *orchestrator.Orchestrator) {
	pending, delayed, err := orch.QueueDepths()
	if err != nil {
		log.Printf("Failed to get queue depths for metrics: %v", err)
		return
	}

	metrics.UpdateQueueDepths(pending, delayed)
	metrics.UpdateAgentsAvailable(len(orch.ListAgents("")))
}
