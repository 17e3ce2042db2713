package messenger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/samber/lo"
)

// LINE accepts at most five messages per reply or push request.
const lineMaxMessages = 5

// LINE delivers messages through the LINE Messaging API.
type LINE struct {
	api *messaging_api.MessagingApiAPI
	log *slog.Logger
}

// NewLINE creates a LINE messenger authenticated with the channel access token.
func NewLINE(channelAccessToken string, logger *slog.Logger, opts ...messaging_api.MessagingApiAPIOption) (*LINE, error) {
	if channelAccessToken == "" {
		return nil, fmt.Errorf("LINE channel access token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api, err := messaging_api.NewMessagingApiAPI(channelAccessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE messaging client: %w", err)
	}

	return &LINE{api: api, log: logger.With("component", "line_messenger")}, nil
}

func (l *LINE) Reply(ctx context.Context, replyToken string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	if len(messages) > lineMaxMessages {
		l.log.WarnContext(ctx, "Reply exceeds LINE message limit, dropping the rest",
			"count", len(messages), "limit", lineMaxMessages)
		messages = messages[:lineMaxMessages]
	}

	_, err := l.client(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   toLINEMessages(messages),
	})
	if err != nil {
		return fmt.Errorf("failed to send LINE reply: %w", err)
	}
	return nil
}

func (l *LINE) Push(ctx context.Context, userID string, messages ...Message) error {
	for _, chunk := range lo.Chunk(messages, lineMaxMessages) {
		if err := l.push(ctx, userID, toLINEMessages(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (l *LINE) PushConfirm(ctx context.Context, userID string, confirm Confirm) error {
	return l.push(ctx, userID, []messaging_api.MessageInterface{toLINEConfirm(confirm)})
}

func (l *LINE) push(ctx context.Context, userID string, messages []messaging_api.MessageInterface) error {
	_, err := l.client(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       userID,
		Messages: messages,
	}, "")
	if err != nil {
		return fmt.Errorf("failed to push LINE message to %s: %w", userID, err)
	}
	return nil
}

// client returns a per-call copy bound to ctx; WithContext mutates its receiver.
func (l *LINE) client(ctx context.Context) *messaging_api.MessagingApiAPI {
	api := *l.api
	return api.WithContext(ctx)
}

func toLINEMessages(messages []Message) []messaging_api.MessageInterface {
	out := make([]messaging_api.MessageInterface, 0, len(messages))
	for _, m := range messages {
		text := &messaging_api.TextMessage{Text: m.Text}
		if len(m.QuickReplies) > 0 {
			text.QuickReply = &messaging_api.QuickReply{
				Items: lo.Map(m.QuickReplies, func(q QuickReply, _ int) messaging_api.QuickReplyItem {
					return messaging_api.QuickReplyItem{
						Action: &messaging_api.MessageAction{Label: q.Label, Text: q.Text},
					}
				}),
			}
		}
		out = append(out, text)
	}
	return out
}

func toLINEConfirm(c Confirm) *messaging_api.TemplateMessage {
	return &messaging_api.TemplateMessage{
		AltText: c.AltText,
		Template: &messaging_api.ConfirmTemplate{
			Text: c.Text,
			Actions: []messaging_api.ActionInterface{
				&messaging_api.MessageAction{Label: c.Yes, Text: c.Yes},
				&messaging_api.MessageAction{Label: c.No, Text: c.No},
			},
		},
	}
}
