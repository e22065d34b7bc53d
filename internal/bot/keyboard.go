package bot

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

const (
	cbSMSAllow = "sms:allow"
	cbSMSSkip  = "sms:skip"
)

// Reminder permission prompt
func smsPermissionKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Allow reminders", cbSMSAllow),
			tgbotapi.NewInlineKeyboardButtonData("Not now", cbSMSSkip),
		),
	)
}
