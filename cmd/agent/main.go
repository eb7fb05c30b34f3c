package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/agentclient"
)

// Fleet profiles map an agent type to the capabilities it serves.
var profiles = map[string][]agent.Capability{
	"crop-health-specialist": {
		{Type: "crop_analysis", Version: "1.0", MaxConcurrency: 2},
		{Type: "disease_detection", Version: "1.0", MaxConcurrency: 2},
	},
	"irrigation-engineer": {
		{Type: "irrigation_optimization", Version: "1.0", MaxConcurrency: 1},
	},
	"drone-operations": {
		{Type: "flight_planning", Version: "1.0", MaxConcurrency: 1},
	},
	"computer-vision": {
		{Type: "fruit_counting", Version: "1.0", MaxConcurrency: 4},
		{Type: "disease_detection", Version: "1.1", MaxConcurrency: 2},
	},
}

func main() {
	baseURL := os.Getenv("ORCHESTRATOR_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	agentType := os.Getenv("AGENT_TYPE")
	if agentType == "" {
		agentType = "crop-health-specialist"
	}
	capabilities, ok := profiles[agentType]
	if !ok {
		log.Fatalf("unknown agent type %q", agentType)
	}

	agentID := os.Getenv("AGENT_ID")
	if agentID == "" {
		agentID = fmt.Sprintf("%s-%d", agentType, time.Now().Unix())
	}

	client := agentclient.NewClient(agentclient.Config{
		BaseURL:        baseURL,
		AgentID:        agentID,
		Name:           agentID,
		Type:           agentType,
		Version:        "1.0.0",
		Capabilities:   capabilities,
		MaxAssignments: 2,
	})

	client.RegisterHandler("crop_analysis", cropAnalysisHandler)
	client.RegisterHandler("disease_detection", diseaseDetectionHandler)
	client.RegisterHandler("irrigation_optimization", irrigationHandler)
	client.RegisterHandler("flight_planning", flightPlanningHandler)
	client.RegisterHandler("fruit_counting", fruitCountingHandler)

	if err := client.Start(); err != nil {
		log.Fatal(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down agent...")
	client.Stop()
}
