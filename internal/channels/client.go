package channels

import (
	"context"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramClient is the slice of the bot API the adapter uses. Tests
// inject a fake.
type TelegramClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

type realTelegramClient struct {
	bot *bot.Bot
}

func (c *realTelegramClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	return c.bot.SendMessage(ctx, params)
}

func (c *realTelegramClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error) {
	return c.bot.EditMessageText(ctx, params)
}

func (c *realTelegramClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return c.bot.SendChatAction(ctx, params)
}
