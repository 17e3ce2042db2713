// Package messenger delivers survey messages to participants over a
// messaging platform.
package messenger

import "context"

// QuickReply is a tappable suggestion attached to a message. Tapping it sends
// Text back as an ordinary message.
type QuickReply struct {
	Label string
	Text  string
}

// Message is one outbound text message.
type Message struct {
	Text         string
	QuickReplies []QuickReply
}

// Confirm is a yes/no prompt. Each button sends its own label back.
type Confirm struct {
	AltText string
	Text    string
	Yes     string
	No      string
}

// Messenger is the outbound side of a messaging platform.
type Messenger interface {
	// Reply answers one inbound event identified by replyToken.
	Reply(ctx context.Context, replyToken string, messages ...Message) error
	// Push sends messages to a user outside of any inbound event.
	Push(ctx context.Context, userID string, messages ...Message) error
	// PushConfirm sends a yes/no prompt to a user.
	PushConfirm(ctx context.Context, userID string, confirm Confirm) error
}

// Texts wraps plain strings as messages.
func Texts(texts ...string) []Message {
	msgs := make([]Message, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, Message{Text: t})
	}
	return msgs
}
