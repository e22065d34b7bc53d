package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/eventtracker/internal/delivery"
	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/service"
)

// botAPI is the part of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Users interface {
	ByTelegramChat(ctx context.Context, chatID int64) (*domain.User, error)
	LinkTelegram(ctx context.Context, code string, chatID int64) (*domain.User, error)
}

type Events interface {
	Upcoming(ctx context.Context, userID string) ([]*domain.Event, error)
	FormatEventList(events []*domain.Event) string
}

type Permissions interface {
	Status(ctx context.Context, userID string) (service.PermissionStatus, error)
	Decide(ctx context.Context, userID string, granted bool) (service.PermissionStatus, error)
}

// Bot delivers reminders to Telegram chats and answers a few commands for
// users who linked their chat to an account.
type Bot struct {
	api         botAPI
	users       Users
	events      Events
	permissions Permissions
	log         *slog.Logger
}

func New(token string, users Users, events Events, permissions Permissions, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	b := NewWithAPI(api, users, events, permissions, logger)
	b.log.Info("telegram authorized", "username", api.Self.UserName)
	b.setCommands()
	return b, nil
}

func NewWithAPI(api botAPI, users Users, events Events, permissions Permissions, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:         api,
		users:       users,
		events:      events,
		permissions: permissions,
		log:         logger,
	}
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Link this chat"},
		{Command: "events", Description: "Upcoming events"},
		{Command: "sms", Description: "Reminder settings"},
		{Command: "help", Description: "Help"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn("set bot commands", "error", err)
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

// Send implements delivery.Sender; the destination is a chat id.
func (b *Bot) Send(_ context.Context, payload domain.ReminderPayload) error {
	if payload.Destination == "" {
		return delivery.ErrNoDestination
	}
	chatID, err := strconv.ParseInt(payload.Destination, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", payload.Destination, err)
	}

	msg := tgbotapi.NewMessage(chatID, "⏰ "+payload.Message)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
