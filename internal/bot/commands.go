package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/service"
)

func (b *Bot) cmdStart(ctx context.Context, chatID int64, code string) {
	code = strings.TrimSpace(code)
	if code != "" {
		b.linkChat(ctx, chatID, code)
		return
	}

	user := b.linkedUser(ctx, chatID)
	if user == nil {
		b.reply(chatID, "👋 Hi! To get reminders here, create a link code in your profile "+
			"and send <code>/start CODE</code> in this chat.")
		return
	}

	b.greet(ctx, chatID, user)
}

func (b *Bot) linkChat(ctx context.Context, chatID int64, code string) {
	user, err := b.users.LinkTelegram(ctx, code, chatID)
	switch {
	case errors.Is(err, service.ErrLinkCodeInvalid):
		b.reply(chatID, "❌ That link code is invalid or expired.")
		return
	case errors.Is(err, service.ErrChatTaken):
		b.reply(chatID, "❌ This chat is already linked to another account.")
		return
	case err != nil:
		b.log.Error("link chat", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Could not link this chat")
		return
	}

	b.log.Info("chat linked", "chat_id", chatID, "user_id", user.ID)
	b.greet(ctx, chatID, user)
}

func (b *Bot) greet(ctx context.Context, chatID int64, user *domain.User) {
	b.reply(chatID, fmt.Sprintf("👋 Welcome back, %s!", html.EscapeString(user.Login)))

	st, err := b.permissions.Status(ctx, user.ID)
	if err != nil {
		b.log.Error("permission status", "user_id", user.ID, "error", err)
		return
	}
	if st.NeedsPrompt {
		if err := b.SendMessageWithKeyboard(chatID, permissionPrompt, smsPermissionKeyboard()); err != nil {
			b.log.Warn("send prompt", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) cmdHelp(chatID int64) {
	b.reply(chatID, "<b>Commands</b>\n"+
		"/start - link this chat\n"+
		"/events - upcoming events\n"+
		"/sms - reminder settings")
}

func (b *Bot) cmdEvents(ctx context.Context, chatID int64) {
	user := b.linkedUser(ctx, chatID)
	if user == nil {
		b.reply(chatID, "This chat is not linked to an account. Send /start.")
		return
	}

	events, err := b.events.Upcoming(ctx, user.ID)
	if err != nil {
		b.log.Error("list events", "user_id", user.ID, "error", err)
		b.reply(chatID, "❌ Could not load events")
		return
	}
	b.reply(chatID, "<b>Upcoming events</b>\n\n"+html.EscapeString(b.events.FormatEventList(events)))
}

func (b *Bot) cmdSMS(ctx context.Context, chatID int64) {
	user := b.linkedUser(ctx, chatID)
	if user == nil {
		b.reply(chatID, "This chat is not linked to an account. Send /start.")
		return
	}

	st, err := b.permissions.Status(ctx, user.ID)
	if err != nil {
		b.log.Error("permission status", "user_id", user.ID, "error", err)
		b.reply(chatID, "❌ Could not load settings")
		return
	}

	state := "off"
	if st.Granted {
		state = "on"
	}
	text := fmt.Sprintf("Reminders are %s.\n\n%s", state, permissionPrompt)
	if err := b.SendMessageWithKeyboard(chatID, text, smsPermissionKeyboard()); err != nil {
		b.log.Warn("send prompt", "chat_id", chatID, "error", err)
	}
}
