package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/eventtracker/internal/domain"
)

type registration struct {
	fireAt  time.Time
	payload domain.ReminderPayload
}

type fakeAlarms struct {
	mu          sync.Mutex
	live        map[string]registration
	registers   int
	cancels     int
	registerErr error
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{live: make(map[string]registration)}
}

func (f *fakeAlarms) Register(_ context.Context, key string, fireAt time.Time, p domain.ReminderPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.registerErr != nil {
		return f.registerErr
	}
	f.live[key] = registration{fireAt: fireAt, payload: p}
	return nil
}

func (f *fakeAlarms) CancelIfExists(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	delete(f.live, key)
	return nil
}

type permissions map[string]bool

func (p permissions) ReminderPermissionGranted(_ context.Context, userID string) bool {
	return p[userID]
}

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestManager(alarms Alarms, perms Permissions) *Manager {
	m := NewManager(alarms, perms, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetClock(func() time.Time { return now })
	return m
}

func TestSchedule_FutureEventWithPermission(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})
	start := now.Add(3 * time.Hour)

	m.Schedule(context.Background(), Owner{UserID: "u1", Destination: "5554"}, "1", "Dentist", start)

	require.Len(t, alarms.live, 1)
	reg, ok := alarms.live[KeyFor("1")]
	require.True(t, ok)
	assert.Equal(t, start.Add(-LeadTime), reg.fireAt)
	assert.Equal(t, "1", reg.payload.EventID)
	assert.Equal(t, "5554", reg.payload.Destination)
	assert.Equal(t, "u1", reg.payload.UserID)
	assert.Contains(t, reg.payload.Message, "Dentist")
	assert.Equal(t, "Friendly Reminder: Dentist is starting at May 10, 12:00 PM", reg.payload.Message)
}

func TestSchedule_WithinLeadTimeRegistersNothing(t *testing.T) {
	for _, granted := range []bool{true, false} {
		alarms := newFakeAlarms()
		m := newTestManager(alarms, permissions{"u1": granted})

		m.Schedule(context.Background(), Owner{UserID: "u1"}, "2", "Soon", now.Add(time.Hour))

		assert.Zero(t, alarms.registers, "granted=%v", granted)
	}
}

func TestSchedule_FireTimeExactlyNowRegistersNothing(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})

	m.Schedule(context.Background(), Owner{UserID: "u1"}, "3", "Edge", now.Add(LeadTime))

	assert.Zero(t, alarms.registers)
}

func TestSchedule_PastEventRegistersNothing(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})

	m.Schedule(context.Background(), Owner{UserID: "u1"}, "4", "Yesterday", now.Add(-24*time.Hour))

	assert.Zero(t, alarms.registers)
}

func TestSchedule_WithoutPermissionRegistersNothing(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"other": true})

	m.Schedule(context.Background(), Owner{UserID: "u1"}, "5", "Later", now.Add(48*time.Hour))

	assert.Zero(t, alarms.registers)
}

func TestSchedule_NilPermissionsRegistersNothing(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, nil)

	m.Schedule(context.Background(), Owner{UserID: "u1"}, "6", "Later", now.Add(48*time.Hour))

	assert.Zero(t, alarms.registers)
}

func TestSchedule_RegisterErrorIsSwallowed(t *testing.T) {
	alarms := newFakeAlarms()
	alarms.registerErr = errors.New("facility down")
	m := newTestManager(alarms, permissions{"u1": true})

	assert.NotPanics(t, func() {
		m.Schedule(context.Background(), Owner{UserID: "u1"}, "7", "Later", now.Add(3*time.Hour))
	})
	assert.Equal(t, 1, alarms.registers)
	assert.Empty(t, alarms.live)
}

func TestNilAlarmsIsNoop(t *testing.T) {
	m := newTestManager(nil, permissions{"u1": true})

	assert.NotPanics(t, func() {
		m.Schedule(context.Background(), Owner{UserID: "u1"}, "8", "Later", now.Add(3*time.Hour))
		m.Cancel(context.Background(), "8")
	})
}

func TestCancel_IsIdempotent(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})
	ctx := context.Background()

	m.Schedule(ctx, Owner{UserID: "u1"}, "9", "Gym", now.Add(5*time.Hour))
	require.Len(t, alarms.live, 1)

	m.Cancel(ctx, "9")
	assert.Empty(t, alarms.live)

	m.Cancel(ctx, "9")
	assert.Empty(t, alarms.live)
	assert.Equal(t, 2, alarms.cancels)
}

func TestCancelThenSchedule_KeepsOneRegistration(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})
	ctx := context.Background()
	owner := Owner{UserID: "u1"}

	m.Schedule(ctx, owner, "10", "Old title", now.Add(5*time.Hour))
	m.Cancel(ctx, "10")
	m.Schedule(ctx, owner, "10", "New title", now.Add(6*time.Hour))

	require.Len(t, alarms.live, 1)
	reg := alarms.live[KeyFor("10")]
	assert.Equal(t, now.Add(4*time.Hour), reg.fireAt)
	assert.Contains(t, reg.payload.Message, "New title")
}

func TestScheduleThenDelete_LeavesNoRegistration(t *testing.T) {
	alarms := newFakeAlarms()
	m := newTestManager(alarms, permissions{"u1": true})
	ctx := context.Background()

	m.Schedule(ctx, Owner{UserID: "u1"}, "1", "Review", now.Add(3*time.Hour))
	assert.Equal(t, now.Add(time.Hour), alarms.live[KeyFor("1")].fireAt)

	m.Cancel(ctx, "1")
	_, ok := alarms.live[KeyFor("1")]
	assert.False(t, ok)
}

func TestKeyFor_IsDeterministicAndDistinct(t *testing.T) {
	assert.Equal(t, KeyFor("abc"), KeyFor("abc"))
	assert.NotEqual(t, KeyFor("1"), KeyFor("2"))
}

func TestMessage_UsesLocation(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	start := time.Date(2026, 7, 4, 18, 5, 0, 0, time.UTC)
	assert.Equal(t, "Friendly Reminder: BBQ is starting at Jul 4, 11:05 AM", Message("BBQ", start, loc))
}
