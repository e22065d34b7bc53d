package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestStore(t))

	u, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Login)

	_, err = svc.Profile(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Profile(ctx, "")
	require.ErrorIs(t, err, ErrAccessDenied)

	phone := " +15550100 "
	u, err = svc.UpdateContact(ctx, "u1", ContactUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", u.Phone)

	token := "device"
	u, err = svc.UpdateContact(ctx, "u1", ContactUpdate{DeviceToken: &token})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", u.Phone, "untouched fields are kept")
	assert.Equal(t, "device", u.DeviceToken)
}

func TestUserService_LinkTelegram(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestStore(t))

	code, expires, err := svc.CreateLinkCode(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, code, 10)
	assert.WithinDuration(t, time.Now().Add(LinkCodeTTL), expires, time.Minute)

	u, err := svc.LinkTelegram(ctx, strings.ToLower(code), 4242)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, int64(4242), u.TelegramChatID)

	linked, err := svc.ByTelegramChat(ctx, 4242)
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, "u1", linked.ID)

	_, err = svc.LinkTelegram(ctx, code, 4242)
	require.ErrorIs(t, err, ErrLinkCodeInvalid, "codes are single use")

	linked, err = svc.ByTelegramChat(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, linked)

	t.Run("chat already linked", func(t *testing.T) {
		code, _, err := svc.CreateLinkCode(ctx, "u2")
		require.NoError(t, err)

		_, err = svc.LinkTelegram(ctx, code, 4242)
		require.ErrorIs(t, err, ErrChatTaken)

		linked, err := svc.ByTelegramChat(ctx, 4242)
		require.NoError(t, err)
		assert.Equal(t, "u1", linked.ID)
	})

	t.Run("expired code", func(t *testing.T) {
		code, _, err := svc.CreateLinkCode(ctx, "u2")
		require.NoError(t, err)

		svc.now = func() time.Time { return time.Now().Add(LinkCodeTTL + time.Second) }
		defer func() { svc.now = time.Now }()

		_, err = svc.LinkTelegram(ctx, code, 5151)
		require.ErrorIs(t, err, ErrLinkCodeInvalid)
	})

	t.Run("new code replaces old", func(t *testing.T) {
		first, _, err := svc.CreateLinkCode(ctx, "u2")
		require.NoError(t, err)
		second, _, err := svc.CreateLinkCode(ctx, "u2")
		require.NoError(t, err)

		_, err = svc.LinkTelegram(ctx, first, 5151)
		require.ErrorIs(t, err, ErrLinkCodeInvalid)
		u, err := svc.LinkTelegram(ctx, second, 5151)
		require.NoError(t, err)
		assert.Equal(t, "u2", u.ID)
	})

	t.Run("unlink", func(t *testing.T) {
		u, err := svc.UpdateContact(ctx, "u1", ContactUpdate{UnlinkTelegram: true})
		require.NoError(t, err)
		assert.Zero(t, u.TelegramChatID)

		linked, err := svc.ByTelegramChat(ctx, 4242)
		require.NoError(t, err)
		assert.Nil(t, linked)
	})

	_, _, err = svc.CreateLinkCode(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserService_EnsureProfile(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestStore(t))

	u, err := svc.EnsureProfile(ctx, "firebase-uid", "")
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid", u.Login)

	u, err = svc.EnsureProfile(ctx, "firebase-uid", "changed")
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid", u.Login)
}
