package telegram

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/surveybot/internal/bot/handlers"
	"github.com/edgard/surveybot/internal/config"
)

type fakeRegistrar struct {
	patterns   []string
	matchFuncs int
	handlers   []bot.HandlerFunc
}

func (f *fakeRegistrar) RegisterHandler(_ bot.HandlerType, pattern string, _ bot.MatchType, h bot.HandlerFunc, _ ...bot.Middleware) string {
	f.patterns = append(f.patterns, pattern)
	f.handlers = append(f.handlers, h)
	return pattern
}

func (f *fakeRegistrar) RegisterHandlerMatchFunc(_ bot.MatchFunc, h bot.HandlerFunc, _ ...bot.Middleware) string {
	f.matchFuncs++
	f.handlers = append(f.handlers, h)
	return "match"
}

func TestApplyMiddlewareOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) bot.Middleware {
		return func(next bot.HandlerFunc) bot.HandlerFunc {
			return func(ctx context.Context, b *bot.Bot, u *models.Update) {
				order = append(order, name)
				next(ctx, b, u)
			}
		}
	}
	h := applyMiddleware(func(context.Context, *bot.Bot, *models.Update) {
		order = append(order, "handler")
	}, []bot.Middleware{mw("outer"), mw("inner")})

	h(context.Background(), nil, &models.Update{})

	want := []string{"outer", "inner", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *bot.Bot, *models.Update) {}
	registry := map[string]handlers.RegisteredHandler{
		"/start": {HandlerType: bot.HandlerTypeMessageText, Pattern: "start", Handler: noop, MatchType: bot.MatchTypeCommandStartOnly},
		"text":   {Handler: noop, MatchFunc: func(*models.Update) bool { return true }},
		"nil":    {Pattern: "nil"},
	}

	r := &fakeRegistrar{}
	if err := RegisterHandlers(r, nil, registry); err != nil {
		t.Fatalf("RegisterHandlers() error = %v", err)
	}
	if len(r.patterns) != 1 || r.patterns[0] != "start" {
		t.Errorf("patterns = %v, want [start]", r.patterns)
	}
	if r.matchFuncs != 1 {
		t.Errorf("match func handlers = %d, want 1", r.matchFuncs)
	}
}

func TestNewTelegramBotRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewTelegramBot(config.TelegramConfig{}, nil); err == nil {
		t.Error("expected error for empty token")
	}
}
