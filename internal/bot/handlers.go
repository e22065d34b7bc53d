package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/eventtracker/internal/domain"
)

const permissionPrompt = "Event reminders are sent two hours before each event. Allow them?"

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) linkedUser(ctx context.Context, chatID int64) *domain.User {
	user, err := b.users.ByTelegramChat(ctx, chatID)
	if err != nil {
		b.log.Error("get user by chat", "chat_id", chatID, "error", err)
		return nil
	}
	return user
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, chatID, msg.CommandArguments())
	case "help":
		b.cmdHelp(chatID)
	case "events":
		b.cmdEvents(ctx, chatID)
	case "sms":
		b.cmdSMS(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. /help lists the commands.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	user := b.linkedUser(ctx, chatID)
	if user == nil {
		b.answer(callback.ID, "This chat is not linked to an account")
		return
	}

	var granted bool
	switch callback.Data {
	case cbSMSAllow:
		granted = true
	case cbSMSSkip:
		granted = false
	default:
		b.answer(callback.ID, "")
		return
	}

	if _, err := b.permissions.Decide(ctx, user.ID, granted); err != nil {
		b.log.Error("decide permission", "user_id", user.ID, "error", err)
		b.answer(callback.ID, "❌ Could not save your choice")
		return
	}

	text := "Reminders are off. Use /sms to change this later."
	if granted {
		text = "✅ Reminders are on."
	}
	b.answer(callback.ID, "Saved")

	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("edit message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Warn("answer callback", "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Warn("send message", "chat_id", chatID, "error", err)
	}
}
