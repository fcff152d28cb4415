package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/config"
)

const telegramChannelName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

func (w *tgBotWrapper) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return w.bot.GetFile(config)
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramChannel turns telegram messages into normalized inbound events
// and posts outcome notices back into the originating chat.
type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
	logger     *zap.Logger
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, logger, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with a custom bot
// factory (for testing).
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
		logger:      logger.Named("telegram"),
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.Info("authorized", zap.String("bot", bot.GetSelf().UserName))
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		t.logger.Info("rejected sender",
			zap.String("sender", senderID),
			zap.String("username", msg.From.UserName))
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}

	media := make([]bus.MediaRef, 0, 2)
	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		if link, err := t.fileLink(photo.FileID); err != nil {
			t.logger.Warn("photo link failed", zap.String("file", photo.FileID), zap.Error(err))
		} else {
			media = append(media, bus.MediaRef{URL: link, MimeType: "image/jpeg"})
		}
	}
	if msg.Document != nil {
		if link, err := t.fileLink(msg.Document.FileID); err != nil {
			t.logger.Warn("document link failed", zap.String("file", msg.Document.FileID), zap.Error(err))
		} else {
			mime := msg.Document.MimeType
			if mime == "" {
				mime = "application/octet-stream"
			}
			media = append(media, bus.MediaRef{URL: link, MimeType: mime})
		}
	}

	if text == "" && len(media) == 0 {
		return
	}

	senderName := msg.From.FirstName
	if senderName == "" {
		senderName = msg.From.UserName
	}

	t.bus.Inbound <- bus.InboundEvent{
		Channel:    telegramChannelName,
		SenderID:   senderID,
		SenderName: senderName,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Text:       text,
		Media:      media,
		Timestamp:  time.Unix(int64(msg.Date), 0),
		Metadata: map[string]string{
			"username":   msg.From.UserName,
			"message_id": strconv.Itoa(msg.MessageID),
		},
	}
}

// fileLink resolves a telegram file ID to a downloadable URL so the
// pipeline can fetch the bytes itself.
func (t *TelegramChannel) fileLink(fileID string) (string, error) {
	if t.bot == nil {
		return "", fmt.Errorf("telegram bot not initialized")
	}
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get telegram file: %w", err)
	}
	return file.Link(t.token), nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Notify posts the task outcome back into the chat.
func (t *TelegramChannel) Notify(notice bus.OutcomeNotice) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(notice.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", notice.ChatID, err)
	}

	text := fmt.Sprintf("Task %s", notice.Status)
	if notice.TaskID != "" {
		text = fmt.Sprintf("%s (%s)", text, notice.TaskID)
	}
	if notice.Summary != "" {
		text = fmt.Sprintf("%s: %s", text, notice.Summary)
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send telegram notice: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.logger.Info("stopped")
	return nil
}
