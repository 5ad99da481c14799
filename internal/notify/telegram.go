package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// botAPI is the subset of *tgbotapi.BotAPI used here.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Telegram is a Directory backed by the Telegram Bot API. Destination
// references and user IDs are both chat IDs; a user's private chat ID is
// their user ID.
type Telegram struct {
	api botAPI
	log *zap.Logger
}

func NewTelegram(token string, log *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info("telegram_authorized", zap.String("bot", api.Self.UserName))
	return &Telegram{api: api, log: log}, nil
}

func (t *Telegram) ResolveDestination(ctx context.Context, ref string) (Sink, error) {
	return t.resolve(ref)
}

func (t *Telegram) ResolveUser(ctx context.Context, id string) (Sink, error) {
	return t.resolve(id)
}

// Owner returns a Notifier that writes to the given chat.
func (t *Telegram) Owner(chatID int64) Notifier {
	return &telegramOwner{api: t.api, chatID: chatID}
}

func (t *Telegram) resolve(ref string) (Sink, error) {
	chatID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("chat %q: %w", ref, domain.ErrNotFound)
	}
	_, err = t.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			t.log.Debug("telegram_chat_unreachable", zap.Int64("chat_id", chatID), zap.String("reason", apiErr.Message))
			return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return &telegramChat{api: t.api, chatID: chatID}, nil
}

type telegramChat struct {
	api    botAPI
	chatID int64
}

func (c *telegramChat) Send(ctx context.Context, msg Message) (Handle, error) {
	sent, err := c.api.Send(tgbotapi.NewMessage(c.chatID, msg.Text))
	if err != nil {
		return nil, fmt.Errorf("send to chat %d: %w", c.chatID, err)
	}
	return &telegramMessage{api: c.api, chatID: c.chatID, messageID: sent.MessageID}, nil
}

type telegramOwner struct {
	api    botAPI
	chatID int64
}

func (o *telegramOwner) Send(ctx context.Context, title, text string) error {
	_, err := o.api.Send(tgbotapi.NewMessage(o.chatID, title+"\n"+text))
	return err
}

type telegramMessage struct {
	api       botAPI
	chatID    int64
	messageID int
}

func (m *telegramMessage) Edit(ctx context.Context, msg Message) (Handle, error) {
	if _, err := m.api.Send(tgbotapi.NewEditMessageText(m.chatID, m.messageID, msg.Text)); err != nil {
		return nil, fmt.Errorf("edit message %d in chat %d: %w", m.messageID, m.chatID, err)
	}
	return m, nil
}
