package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/prefs"
)

var _ prefs.Store = (*Storage)(nil)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *Storage, id, login string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Login: login, PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	createUser(t, s, "u1", "alice")

	t.Run("duplicate login", func(t *testing.T) {
		err := s.CreateUser(ctx, &domain.User{ID: "u2", Login: "alice"})
		require.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("lookup", func(t *testing.T) {
		byID, err := s.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, "alice", byID.Login)
		assert.Equal(t, "hash", byID.PasswordHash)
		assert.False(t, byID.SMSEnabled)

		byLogin, err := s.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, byLogin)
		assert.Equal(t, "u1", byLogin.ID)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		u, err := s.GetUserByID(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, u)

		u, err = s.GetUserByTelegramChatID(ctx, 0)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("contact and permission", func(t *testing.T) {
		require.NoError(t, s.UpdateUserContact(ctx, &domain.User{
			ID: "u1", Phone: "+15550100", TelegramChatID: 4242, DeviceToken: "tok",
		}))
		require.NoError(t, s.SetSMSEnabled(ctx, "u1", true))

		u, err := s.GetUserByTelegramChatID(ctx, 4242)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "+15550100", u.Phone)
		assert.Equal(t, "tok", u.DeviceToken)
		assert.True(t, u.SMSEnabled)
	})

	t.Run("chat id links one account", func(t *testing.T) {
		createUser(t, s, "u9", "mallory")

		err := s.UpdateUserContact(ctx, &domain.User{ID: "u9", TelegramChatID: 4242})
		require.ErrorIs(t, err, ErrDuplicate)

		u, err := s.GetUserByTelegramChatID(ctx, 4242)
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)

		// unlinked accounts all hold 0
		require.NoError(t, s.UpdateUserContact(ctx, &domain.User{ID: "u9", Phone: "+15550199"}))
	})

	t.Run("ensure user keeps existing row", func(t *testing.T) {
		require.NoError(t, s.EnsureUser(ctx, "u1", "other"))
		u, err := s.GetUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Login)

		require.NoError(t, s.EnsureUser(ctx, "fb-1", "fb-1"))
		u, err = s.GetUserByID(ctx, "fb-1")
		require.NoError(t, err)
		require.NotNil(t, u)
	})
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	createUser(t, s, "u1", "alice")
	createUser(t, s, "u2", "bob")

	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	later := &domain.Event{UserID: "u1", Time: now.Add(5 * time.Hour), Title: "Later", Color: domain.Palette[2]}
	soon := &domain.Event{UserID: "u1", Time: now.Add(time.Hour), Title: "Soon", Description: "desk"}
	past := &domain.Event{UserID: "u1", Time: now.Add(-time.Hour), Title: "Past"}
	foreign := &domain.Event{UserID: "u2", Time: now.Add(2 * time.Hour), Title: "Bob's"}
	for _, e := range []*domain.Event{later, soon, past, foreign} {
		require.NoError(t, s.CreateEvent(ctx, e))
		require.NotEmpty(t, e.ID)
	}

	t.Run("get", func(t *testing.T) {
		e, err := s.GetEvent(ctx, "u1", soon.ID)
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "Soon", e.Title)
		assert.Equal(t, "desk", e.Description)
		assert.True(t, soon.Time.Equal(e.Time))

		e, err = s.GetEvent(ctx, "u2", soon.ID)
		require.NoError(t, err)
		assert.Nil(t, e, "other users cannot read the event")

		e, err = s.GetEvent(ctx, "u1", "not-a-number")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("upcoming ordered", func(t *testing.T) {
		events, err := s.ListUpcomingEvents(ctx, "u1", now)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "Soon", events[0].Title)
		assert.Equal(t, "Later", events[1].Title)
		assert.Equal(t, domain.Palette[2], events[1].Color)
	})

	t.Run("update", func(t *testing.T) {
		changed := *soon
		changed.Title = "Soon (moved)"
		changed.Time = now.Add(6 * time.Hour)
		ok, err := s.UpdateEvent(ctx, &changed)
		require.NoError(t, err)
		assert.True(t, ok)

		e, err := s.GetEvent(ctx, "u1", soon.ID)
		require.NoError(t, err)
		assert.Equal(t, "Soon (moved)", e.Title)
		assert.True(t, changed.Time.Equal(e.Time))

		wrongOwner := changed
		wrongOwner.UserID = "u2"
		ok, err = s.UpdateEvent(ctx, &wrongOwner)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteEvent(ctx, "u1", later.ID))
		require.NoError(t, s.DeleteEvent(ctx, "u1", later.ID))

		e, err := s.GetEvent(ctx, "u1", later.ID)
		require.NoError(t, err)
		assert.Nil(t, e)
	})
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	assert.Equal(t, "{}", s.GetString(ctx, "sms_decisions_made", "{}"))

	require.NoError(t, s.PutString(ctx, "sms_decisions_made", `{"u1":true}`))
	assert.Equal(t, `{"u1":true}`, s.GetString(ctx, "sms_decisions_made", "{}"))

	require.NoError(t, s.PutString(ctx, "sms_decisions_made", `{"u1":false}`))
	assert.Equal(t, `{"u1":false}`, s.GetString(ctx, "sms_decisions_made", "{}"))
}

func TestAlarms(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	fireAt := time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)
	a := &domain.Alarm{
		Key:    "event-reminder:1",
		FireAt: fireAt,
		Payload: domain.ReminderPayload{
			EventID: "1", UserID: "u1", Destination: "5554", Message: "first",
		},
	}
	require.NoError(t, s.SaveAlarm(ctx, a))

	// same key replaces
	a.Payload.Message = "second"
	a.FireAt = fireAt.Add(time.Hour)
	require.NoError(t, s.SaveAlarm(ctx, a))

	require.NoError(t, s.SaveAlarm(ctx, &domain.Alarm{
		Key: "event-reminder:2", FireAt: fireAt.Add(-time.Hour),
		Payload: domain.ReminderPayload{EventID: "2", Message: "other"},
	}))

	alarms, err := s.ListAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 2)
	assert.Equal(t, "event-reminder:2", alarms[0].Key)
	assert.Equal(t, "event-reminder:1", alarms[1].Key)
	assert.Equal(t, "second", alarms[1].Payload.Message)
	assert.Equal(t, "5554", alarms[1].Payload.Destination)
	assert.Equal(t, "u1", alarms[1].Payload.UserID)
	assert.True(t, fireAt.Add(time.Hour).Equal(alarms[1].FireAt))

	require.NoError(t, s.DeleteAlarm(ctx, "event-reminder:1"))
	require.NoError(t, s.DeleteAlarm(ctx, "event-reminder:missing"))

	alarms, err = s.ListAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
}
