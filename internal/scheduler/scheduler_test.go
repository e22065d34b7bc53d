package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/reminder"
)

type memStore struct {
	mu     sync.Mutex
	alarms map[string]*domain.Alarm
}

func newMemStore(alarms ...*domain.Alarm) *memStore {
	m := &memStore{alarms: make(map[string]*domain.Alarm)}
	for _, a := range alarms {
		m.alarms[a.Key] = a
	}
	return m
}

func (m *memStore) SaveAlarm(_ context.Context, a *domain.Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms[a.Key] = a
	return nil
}

func (m *memStore) DeleteAlarm(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alarms, key)
	return nil
}

func (m *memStore) ListAlarms(context.Context) ([]*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Alarm, 0, len(m.alarms))
	for _, a := range m.alarms {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.alarms[key]
	return ok
}

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.ReminderPayload
	err  error
}

func (r *recordingSender) Send(_ context.Context, p domain.ReminderPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
	return r.err
}

func (r *recordingSender) payloads() []domain.ReminderPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ReminderPayload(nil), r.sent...)
}

func startScheduler(t *testing.T, store AlarmStore, sender *recordingSender) *Scheduler {
	t.Helper()
	s := New(store, time.UTC, nil)
	s.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Stop()
	})
	return s
}

func TestOnce(t *testing.T) {
	at := time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)
	o := once(at)

	assert.Equal(t, at, o.Next(at.Add(-time.Minute)))
	assert.True(t, o.Next(at).IsZero())
	assert.True(t, o.Next(at.Add(time.Second)).IsZero())
}

func TestRegister_Fires(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	s := startScheduler(t, store, sender)

	payload := domain.ReminderPayload{EventID: "1", Destination: "5554", Message: "hello"}
	require.NoError(t, s.Register(context.Background(), "event-reminder:1", time.Now().Add(100*time.Millisecond), payload))
	assert.True(t, store.has("event-reminder:1"))
	assert.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool { return len(sender.payloads()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, payload, sender.payloads()[0])
	assert.Eventually(t, func() bool { return !store.has("event-reminder:1") }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestCancelIfExists_BeforeFire(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	s := startScheduler(t, store, sender)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "event-reminder:2", time.Now().Add(150*time.Millisecond), domain.ReminderPayload{EventID: "2", Destination: "5554"}))
	require.NoError(t, s.CancelIfExists(ctx, "event-reminder:2"))
	require.NoError(t, s.CancelIfExists(ctx, "event-reminder:2"))

	assert.False(t, store.has("event-reminder:2"))
	assert.Never(t, func() bool { return len(sender.payloads()) > 0 }, 400*time.Millisecond, 20*time.Millisecond)
}

func TestCancelIfExists_UnknownKey(t *testing.T) {
	s := New(newMemStore(), nil, nil)
	require.NoError(t, s.CancelIfExists(context.Background(), "event-reminder:none"))
}

func TestRegister_ReplacesSameKey(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	s := startScheduler(t, store, sender)
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "event-reminder:3", time.Now().Add(100*time.Millisecond), domain.ReminderPayload{EventID: "3", Destination: "5554", Message: "old"}))
	require.NoError(t, s.Register(ctx, "event-reminder:3", time.Now().Add(200*time.Millisecond), domain.ReminderPayload{EventID: "3", Destination: "5554", Message: "new"}))
	assert.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool { return len(sender.payloads()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Never(t, func() bool { return len(sender.payloads()) > 1 }, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, "new", sender.payloads()[0].Message)
}

func TestRegister_PastFireTime(t *testing.T) {
	store := newMemStore()
	s := New(store, time.UTC, nil)

	err := s.Register(context.Background(), "event-reminder:4", time.Now().Add(-time.Minute), domain.ReminderPayload{})
	require.Error(t, err)
	assert.False(t, store.has("event-reminder:4"))
	assert.Equal(t, 0, s.Len())
}

func TestRestore_DropsStaleAndArmsPending(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	store := newMemStore(
		&domain.Alarm{Key: "event-reminder:old", FireAt: now.Add(-time.Minute)},
		&domain.Alarm{Key: "event-reminder:edge", FireAt: now},
		&domain.Alarm{Key: "event-reminder:new", FireAt: now.Add(time.Hour)},
	)
	s := New(store, time.UTC, nil)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Restore(context.Background()))

	assert.False(t, store.has("event-reminder:old"))
	assert.False(t, store.has("event-reminder:edge"))
	assert.True(t, store.has("event-reminder:new"))
	assert.Equal(t, 1, s.Len())
}

func TestFire_SenderErrorIsSwallowed(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{err: errors.New("gateway down")}
	s := startScheduler(t, store, sender)

	require.NoError(t, s.Register(context.Background(), "event-reminder:5", time.Now().Add(80*time.Millisecond), domain.ReminderPayload{EventID: "5", Destination: "5554"}))

	require.Eventually(t, func() bool { return len(sender.payloads()) == 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return !store.has("event-reminder:5") }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(sender.payloads()) > 1 }, 300*time.Millisecond, 20*time.Millisecond)
}

type fakeRecipients struct {
	mu          sync.Mutex
	granted     map[string]bool
	destination map[string]string
}

func (f *fakeRecipients) ReminderPermissionGranted(_ context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[userID]
}

func (f *fakeRecipients) ReminderOwner(_ context.Context, userID string) reminder.Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return reminder.Owner{UserID: userID, Destination: f.destination[userID]}
}

func TestFire_PermissionRevokedAfterRegister(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	recipients := &fakeRecipients{granted: map[string]bool{"u1": true}}
	s := startScheduler(t, store, sender)
	s.SetRecipients(recipients)

	payload := domain.ReminderPayload{EventID: "6", UserID: "u1", Destination: "5554", Message: "hello"}
	require.NoError(t, s.Register(context.Background(), "event-reminder:6", time.Now().Add(100*time.Millisecond), payload))

	recipients.mu.Lock()
	recipients.granted["u1"] = false
	recipients.mu.Unlock()

	assert.Eventually(t, func() bool { return !store.has("event-reminder:6") }, 3*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(sender.payloads()) > 0 }, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 0, s.Len())
}

func TestFire_UsesCurrentDestination(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	recipients := &fakeRecipients{
		granted:     map[string]bool{"u1": true, "u2": true},
		destination: map[string]string{"u1": "+15550100"},
	}
	s := startScheduler(t, store, sender)
	s.SetRecipients(recipients)
	ctx := context.Background()

	fireAt := time.Now().Add(100 * time.Millisecond)
	require.NoError(t, s.Register(ctx, "event-reminder:7", fireAt, domain.ReminderPayload{EventID: "7", UserID: "u1", Destination: "5554"}))
	// no current destination: the registered one is kept
	require.NoError(t, s.Register(ctx, "event-reminder:8", fireAt, domain.ReminderPayload{EventID: "8", UserID: "u2", Destination: "5554"}))

	require.Eventually(t, func() bool { return len(sender.payloads()) == 2 }, 3*time.Second, 20*time.Millisecond)
	got := map[string]string{}
	for _, p := range sender.payloads() {
		got[p.EventID] = p.Destination
	}
	assert.Equal(t, map[string]string{"7": "+15550100", "8": "5554"}, got)
}
