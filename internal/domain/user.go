package domain

import "time"

type User struct {
	ID             string
	Login          string
	PasswordHash   string
	Phone          string
	TelegramChatID int64
	DeviceToken    string
	SMSEnabled     bool
	CreatedAt      time.Time
}
