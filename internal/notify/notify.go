// Package notify sends operator alerts for conditions that need a human:
// agents going silent and tasks failing with retries exhausted.
package notify

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/OLJE901753/farmhand/internal/task"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Notifier interface {
	AgentOffline(agentID string, lastSeen time.Time)
	TaskFailed(t *task.Task, attempts int, reason string)
}

// Noop is used when alerting is not configured.
type Noop struct{}

func (Noop) AgentOffline(string, time.Time)     {}
func (Noop) TaskFailed(*task.Task, int, string) {}

type EmailNotifier struct {
	apiKey string
	from   *mail.Email
	to     *mail.Email
}

// FromEnv builds a SendGrid notifier from EMAIL_API_KEY, FROM_NAME,
// FROM_ADDRESS and ALERT_EMAIL_TO; returns a Noop when unconfigured.
func FromEnv() Notifier {
	apiKey := os.Getenv("EMAIL_API_KEY")
	to := os.Getenv("ALERT_EMAIL_TO")
	if apiKey == "" || to == "" {
		return Noop{}
	}
	return &EmailNotifier{
		apiKey: apiKey,
		from:   mail.NewEmail(os.Getenv("FROM_NAME"), os.Getenv("FROM_ADDRESS")),
		to:     mail.NewEmail("", to),
	}
}

func (n *EmailNotifier) AgentOffline(agentID string, lastSeen time.Time) {
	subject := fmt.Sprintf("[farmhand] agent %s went offline", agentID)
	body := fmt.Sprintf("Agent %s stopped heartbeating; last seen %s.", agentID, lastSeen.Format(time.RFC3339))
	n.send(subject, body)
}

func (n *EmailNotifier) TaskFailed(t *task.Task, attempts int, reason string) {
	subject := fmt.Sprintf("[farmhand] task %s failed after %d attempts", t.ID, attempts)
	body := fmt.Sprintf("Task %s (type %s, capability %s) failed terminally: %s", t.ID, t.Type, t.RequiredCapability, reason)
	n.send(subject, body)
}

func (n *EmailNotifier) send(subject, body string) {
	email := mail.NewSingleEmail(n.from, subject, n.to, body, body)
	client := sendgrid.NewSendClient(n.apiKey)
	response, err := client.Send(email)
	if err != nil {
		log.Printf("notify: failed to send alert: %v", err)
		return
	}
	if response.StatusCode >= 400 {
		log.Printf("notify: sendgrid error: status %d", response.StatusCode)
	}
}
