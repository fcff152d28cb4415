package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/config"
)

const webhookChannelName = "webhook"

// webhookPayload is the normalized event record the chat platform's
// webhook transport delivers. Signature verification happens upstream.
type webhookPayload struct {
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	ChatID     string            `json:"chat_id"`
	Text       string            `json:"text"`
	Media      []webhookMedia    `json:"media,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type webhookMedia struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// WebhookChannel accepts normalized chat events over HTTP POST and feeds
// them to the bus. Acceptance is acknowledged immediately; processing is
// asynchronous so a slow pipeline never times the platform out.
type WebhookChannel struct {
	BaseChannel
	port   int
	server *http.Server
	logger *zap.Logger
}

func NewWebhookChannel(cfg config.WebhookConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, logger *zap.Logger) (*WebhookChannel, error) {
	port := cfg.Port
	if port == 0 {
		port = gwCfg.Port
	}
	return &WebhookChannel{
		BaseChannel: NewBaseChannel(webhookChannelName, b, nil),
		port:        port,
		logger:      logger.Named("webhook"),
	}, nil
}

func (w *WebhookChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", w.handleEvent)
	mux.HandleFunc("/healthz", func(wr http.ResponseWriter, _ *http.Request) {
		wr.WriteHeader(http.StatusOK)
	})

	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: mux,
	}

	go func() {
		w.logger.Info("listening", zap.Int("port", w.port))
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

func (w *WebhookChannel) handleEvent(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(wr, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Text == "" && len(payload.Media) == 0 {
		http.Error(wr, "empty event", http.StatusBadRequest)
		return
	}

	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	media := make([]bus.MediaRef, 0, len(payload.Media))
	for _, m := range payload.Media {
		media = append(media, bus.MediaRef{URL: m.URL, MimeType: m.MimeType})
	}

	w.bus.Inbound <- bus.InboundEvent{
		Channel:    webhookChannelName,
		SenderID:   payload.SenderID,
		SenderName: payload.SenderName,
		ChatID:     payload.ChatID,
		Text:       payload.Text,
		Media:      media,
		Timestamp:  ts,
		Metadata:   payload.Metadata,
	}

	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(wr).Encode(map[string]string{"status": "accepted"})
}

// Notify has nowhere to push: the webhook transport is one-way. Outcomes
// are logged so operators can trace an event end to end.
func (w *WebhookChannel) Notify(notice bus.OutcomeNotice) error {
	w.logger.Info("outcome",
		zap.String("chat", notice.ChatID),
		zap.String("status", notice.Status),
		zap.String("task", notice.TaskID))
	return nil
}

func (w *WebhookChannel) Stop() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}
