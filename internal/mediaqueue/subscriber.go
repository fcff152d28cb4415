// Package mediaqueue connects to the external media worker: jobs go out
// over HTTP, results come back over a websocket feed and are routed to
// waiting jobs by correlation ID.
package mediaqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/enrich"
)

// Subscriber consumes the worker's websocket result feed and resolves each
// result against the job registry. Results with no waiter (late arrivals,
// unknown IDs) are logged and dropped.
type Subscriber struct {
	url      string
	registry *enrich.Registry
	logger   *zap.Logger
}

func NewSubscriber(cfg config.MediaConfig, registry *enrich.Registry, logger *zap.Logger) (*Subscriber, error) {
	if cfg.ResultsWSURL == "" {
		return nil, fmt.Errorf("media results websocket url is required")
	}
	return &Subscriber{
		url:      cfg.ResultsWSURL,
		registry: registry,
		logger:   logger.Named("mediaqueue"),
	}, nil
}

// Run maintains the subscription until the context is cancelled,
// reconnecting with exponential backoff.
func (s *Subscriber) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		err := s.consume(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		s.logger.Warn("result feed disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("in", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial result feed: %w", err)
	}
	defer conn.CloseNow()

	bo.Reset()
	s.logger.Info("subscribed to media result feed", zap.String("url", s.url))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read result feed: %w", err)
		}

		var res bus.MediaResult
		if err := json.Unmarshal(data, &res); err != nil {
			s.logger.Warn("malformed media result", zap.Error(err))
			continue
		}
		if res.CorrelationID == "" {
			continue
		}

		if !s.registry.Resolve(res) {
			s.logger.Info("dropping media result with no waiter",
				zap.String("correlation", res.CorrelationID))
		}
	}
}
