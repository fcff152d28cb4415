package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/config"
)

// ChannelManager owns the enabled channels and routes outcome notices
// back to the channel the originating event came from.
type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *zap.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, logger *zap.Logger) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logger.Named("channel-mgr"),
	}

	if cfg.Webhook.Enabled {
		ch, err := NewWebhookChannel(cfg.Webhook, gwCfg, b, logger)
		if err != nil {
			return nil, fmt.Errorf("init webhook channel: %w", err)
		}
		m.register(ch)
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, logger)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.register(ch)
	}

	return m, nil
}

func (m *ChannelManager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutcomes(ch.Name(), func(notice bus.OutcomeNotice) {
		if err := ch.Notify(notice); err != nil {
			m.logger.Warn("notify failed",
				zap.String("channel", ch.Name()),
				zap.Error(err))
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting", zap.String("channel", name))
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("stopping", zap.String("channel", name))
		if err := ch.Stop(); err != nil {
			m.logger.Warn("stop failed", zap.String("channel", name), zap.Error(err))
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
