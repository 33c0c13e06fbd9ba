// Package notify pushes an ntfy notification when a monitored room's
// stream ends. It plugs into the engine as a secondary sink.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
)

// Config is the ntfy notification configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Server  string `mapstructure:"server"`
	Topic   string `mapstructure:"topic"`
	Token   string `mapstructure:"token"`
}

// Notifier sends stream-end notifications. Failures are logged and
// swallowed; notification delivery never affects the pipeline.
type Notifier struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

func New(cfg *Config, logger *zap.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// Consume implements the engine sink contract. Only stream-end events
// trigger a notification; the POST runs off the pipeline goroutine.
func (n *Notifier) Consume(evt *barrage.Event) {
	if evt.Kind != barrage.KindStreamEnd {
		return
	}

	roomLabel := evt.WebRoomID
	if roomLabel == "" {
		roomLabel = evt.RoomID
	}
	title := fmt.Sprintf("直播已结束: %s", roomLabel)
	message := evt.Content
	if evt.RoomTitle != "" {
		message = fmt.Sprintf("%s (%s)", evt.Content, evt.RoomTitle)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := n.send(ctx, title, message); err != nil {
			n.logger.Warn("failed to send stream-end notification",
				zap.String("room", roomLabel),
				zap.Error(err),
			)
		}
	}()
}

func (n *Notifier) send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(n.config.Server, "/"), n.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Tags", "tv")

	if n.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.Token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	n.logger.Debug("notification sent", zap.String("title", title))
	return nil
}
