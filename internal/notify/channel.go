package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"curator/internal/types"
)

// =============================================================================
// DELIVERY CHANNELS
// =============================================================================

// Channel is one delivery target for lifecycle events. Deliver must respect
// ctx; the notifier bounds each attempt with the configured delivery timeout.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event types.NotificationEvent) error
}

// CLIChannel prints events to a writer, one line each. The default channel.
type CLIChannel struct {
	mu  sync.Mutex
	Out io.Writer
}

func NewCLIChannel(out io.Writer) *CLIChannel {
	if out == nil {
		out = os.Stdout
	}
	return &CLIChannel{Out: out}
}

func (c *CLIChannel) Name() string { return "cli" }

func (c *CLIChannel) Deliver(_ context.Context, event types.NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.Out, "[%s] task %s %s: %s\n",
		event.Timestamp.Format("15:04:05"), shortID(event.TaskID.String()), event.Kind, event.Message)
	return err
}

// FileChannel appends events to a log file as JSON lines.
type FileChannel struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewFileChannel(path string) (*FileChannel, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification log %s: %w", path, err)
	}
	return &FileChannel{path: path, f: f}, nil
}

func (c *FileChannel) Name() string { return "file" }

func (c *FileChannel) Deliver(_ context.Context, event types.NotificationEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", c.path, err)
	}
	return nil
}

func (c *FileChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

// WebhookChannel POSTs each event as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{url: url, client: &http.Client{}}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, event types.NotificationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
