package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/samber/lo"
)

// TelegramSender is the part of *bot.Bot used for delivery.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram delivers messages through a Telegram bot. User ids and reply
// tokens are both the decimal id of a private chat.
type Telegram struct {
	sender TelegramSender
	log    *slog.Logger
}

// NewTelegram creates a Telegram messenger.
func NewTelegram(sender TelegramSender, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{sender: sender, log: logger.With("component", "telegram_messenger")}
}

func (t *Telegram) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	return t.Push(ctx, replyToken, messages...)
}

func (t *Telegram) Push(ctx context.Context, userID string, messages ...Message) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}

	for _, m := range messages {
		params := &bot.SendMessageParams{ChatID: chatID, Text: m.Text}
		if len(m.QuickReplies) > 0 {
			params.ReplyMarkup = quickReplyKeyboard(lo.Map(m.QuickReplies, func(q QuickReply, _ int) string {
				return q.Text
			}))
		}
		if _, err := t.sender.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send telegram message to %d: %w", chatID, err)
		}
	}
	return nil
}

func (t *Telegram) PushConfirm(ctx context.Context, userID string, confirm Confirm) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}

	_, err = t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        confirm.Text,
		ReplyMarkup: quickReplyKeyboard([]string{confirm.Yes, confirm.No}),
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram confirm to %d: %w", chatID, err)
	}
	return nil
}

// quickReplyKeyboard lays out one button per row. Telegram sends the button
// text back, so labels are the texts themselves.
func quickReplyKeyboard(texts []string) *models.ReplyKeyboardMarkup {
	rows := lo.Map(texts, func(text string, _ int) []models.KeyboardButton {
		return []models.KeyboardButton{{Text: text}}
	})
	return &models.ReplyKeyboardMarkup{
		Keyboard:        rows,
		OneTimeKeyboard: true,
		ResizeKeyboard:  true,
	}
}
