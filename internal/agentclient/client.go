// Package agentclient is the runtime a field agent embeds: it registers
// with the orchestrator, heartbeats, polls for assignments and reports
// results back over HTTP.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/OLJE901753/farmhand/internal/agent"
	"github.com/OLJE901753/farmhand/internal/orchestrator"
	"github.com/OLJE901753/farmhand/internal/task"
)

// TaskHandler executes one assignment and returns its result payload.
type TaskHandler func(ctx context.Context, payload map[string]any) (map[string]any, error)

type Config struct {
	BaseURL           string
	AgentID           string
	Name              string
	Type              string
	Version           string
	Capabilities      []agent.Capability
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	MaxAssignments    int
}

type Client struct {
	cfg      Config
	http     *http.Client
	handlers map[string]TaskHandler
	load     func() float64
	stop     chan struct{}
	done     chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAssignments <= 0 {
		cfg.MaxAssignments = 1
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 15 * time.Second},
		handlers: make(map[string]TaskHandler),
		load:     func() float64 { return 0 },
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Client) RegisterHandler(taskType string, handler TaskHandler) {
	c.handlers[taskType] = handler
}

// SetLoadFunc overrides the load figure reported on heartbeats.
func (c *Client) SetLoadFunc(fn func() float64) {
	c.load = fn
}

// Start registers the agent and runs the heartbeat and poll loops until
// Stop is called.
func (c *Client) Start() error {
	if err := c.register(); err != nil {
		return fmt.Errorf("failed to register agent %s: %w", c.cfg.AgentID, err)
	}
	log.Printf("Agent %s registered with %s", c.cfg.AgentID, c.cfg.BaseURL)

	go c.heartbeatLoop()
	go c.pollLoop()
	return nil
}

func (c *Client) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Client) register() error {
	body := map[string]any{
		"agent_id":     c.cfg.AgentID,
		"name":         c.cfg.Name,
		"type":         c.cfg.Type,
		"capabilities": c.cfg.Capabilities,
		"version":      c.cfg.Version,
	}
	return c.post("/api/agents", body, nil)
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	c.beat()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.beat()
		}
	}
}

func (c *Client) beat() {
	body := map[string]any{
		"capabilities":    c.cfg.Capabilities,
		"load_percentage": c.load(),
		"version":         c.cfg.Version,
	}
	path := fmt.Sprintf("/api/agents/%s/heartbeat", c.cfg.AgentID)
	if err := c.post(path, body, nil); err != nil {
		log.Printf("Agent %s heartbeat failed: %v", c.cfg.AgentID, err)
	}
}

func (c *Client) pollLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			assignments, err := c.poll()
			if err != nil {
				log.Printf("Agent %s poll failed: %v", c.cfg.AgentID, err)
				continue
			}
			for _, a := range assignments {
				c.execute(a)
			}
		}
	}
}

func (c *Client) poll() ([]orchestrator.Assignment, error) {
	path := fmt.Sprintf("/api/agents/%s/poll", c.cfg.AgentID)
	var assignments []orchestrator.Assignment
	err := c.post(path, map[string]any{"max": c.cfg.MaxAssignments}, &assignments)
	return assignments, err
}

func (c *Client) execute(a orchestrator.Assignment) {
	log.Printf("Agent %s executing run %s (task %s, type %s, attempt %d)",
		c.cfg.AgentID, a.RunID, a.TaskID, a.Type, a.Attempt)

	handler, exists := c.handlers[a.Type]
	if !exists {
		c.report(a.RunID, task.RunFailed, nil, fmt.Sprintf("no handler for task type: %s", a.Type))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.TimeoutMs)*time.Millisecond)
	defer cancel()

	result, err := handler(ctx, a.Payload)
	if err != nil {
		log.Printf("Agent %s run %s failed: %v", c.cfg.AgentID, a.RunID, err)
		c.report(a.RunID, task.RunFailed, nil, err.Error())
		return
	}

	log.Printf("Agent %s run %s completed", c.cfg.AgentID, a.RunID)
	c.report(a.RunID, task.RunCompleted, result, "")
}

func (c *Client) report(runID string, status task.RunStatus, result map[string]any, errMsg string) {
	body := map[string]any{
		"status": status,
		"result": result,
		"error":  errMsg,
	}
	path := fmt.Sprintf("/api/runs/%s/result", runID)
	if err := c.post(path, body, nil); err != nil {
		log.Printf("Agent %s failed to report run %s: %v", c.cfg.AgentID, runID, err)
	}
}

// Progress reports intermediate state for a run; failures are logged only.
func (c *Client) Progress(runID string, payload map[string]any) {
	path := fmt.Sprintf("/api/runs/%s/progress", runID)
	if err := c.post(path, payload, nil); err != nil {
		log.Printf("Agent %s failed to report progress for run %s: %v", c.cfg.AgentID, runID, err)
	}
}

func (c *Client) post(path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.cfg.BaseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}
