package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scribe/internal/config"
)

const userAgent = "Scribe-Go/0.1.0"

// Event identifies a notification milestone.
type Event string

const (
	EventTaskFinished     Event = "task_finished"
	EventTaskFailed       Event = "task_failed"
	EventInteractiveReady Event = "interactive_ready"
	EventQueueDrained     Event = "queue_drained"
	EventTest             Event = "test"
)

// Payload carries the values rendered into a notification.
type Payload map[string]string

// Service publishes pipeline notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTaskFinished:     cfg.Notifications.TaskFinished,
			EventTaskFailed:       cfg.Notifications.TaskFailed,
			EventInteractiveReady: true,
			EventQueueDrained:     cfg.Notifications.QueueDrained,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }
	switch event {
	case EventTaskFinished:
		body := fmt.Sprintf("✅ Finished: %s", get("name"))
		if stages := get("stages"); stages != "" {
			body += "\nStages: " + stages
		}
		return message{
			title: "Scribe - Task Finished",
			body:  body,
			tags:  []string{"scribe", "task", "finished"},
		}, true
	case EventTaskFailed:
		var b strings.Builder
		b.WriteString("❌ Failed: ")
		b.WriteString(get("name"))
		if stage := get("stage"); stage != "" {
			b.WriteString(" during ")
			b.WriteString(stage)
		}
		if reason := get("error"); reason != "" {
			b.WriteString(": ")
			b.WriteString(reason)
		}
		return message{
			title:    "Scribe - Task Failed",
			body:     b.String(),
			tags:     []string{"scribe", "error", "alert"},
			priority: "high",
		}, true
	case EventInteractiveReady:
		body := fmt.Sprintf("✍️ %s is waiting for %s", get("name"), get("stage"))
		if link := get("url"); link != "" {
			body += "\n" + link
		}
		return message{
			title: "Scribe - Input Needed",
			body:  body,
			tags:  []string{"scribe", "interactive", get("stage")},
		}, true
	case EventQueueDrained:
		finished, failed := get("finished"), get("failed")
		if finished == "" {
			finished = "0"
		}
		title := "Scribe - Queue Drained"
		body := fmt.Sprintf("Queue drained: %s tasks finished", finished)
		if failed != "" && failed != "0" {
			title = "Scribe - Queue Drained (with errors)"
			body = fmt.Sprintf("Queue drained: %s finished, %s failed", finished, failed)
		}
		return message{
			title: title,
			body:  body,
			tags:  []string{"scribe", "queue", "drained"},
		}, true
	case EventTest:
		return message{
			title:    "Scribe - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"scribe", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
