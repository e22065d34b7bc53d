package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tazhate/eventtracker/internal/prefs"
)

// DecisionsKey is the preference key holding the serialized decisions map.
const DecisionsKey = "sms_decisions_made"

// Ledger records, per user, whether the reminder permission prompt has been
// answered. All decisions live in one JSON object under DecisionsKey.
type Ledger struct {
	mu    sync.Mutex
	store prefs.Store
	log   *slog.Logger
}

func NewLedger(store prefs.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, log: logger}
}

// SetDecisionMade stores made for userID, rewriting the whole map.
func (l *Ledger) SetDecisionMade(ctx context.Context, userID string, made bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	decisions := l.load(ctx)
	decisions[userID] = made

	data, err := json.Marshal(decisions)
	if err != nil {
		return err
	}
	return l.store.PutString(ctx, DecisionsKey, string(data))
}

// HasDecided returns the stored flag for userID, false when absent.
func (l *Ledger) HasDecided(ctx context.Context, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.load(ctx)[userID]
}

// load never fails: unreadable content counts as no decisions.
func (l *Ledger) load(ctx context.Context) map[string]bool {
	raw := l.store.GetString(ctx, DecisionsKey, "{}")

	decisions := make(map[string]bool)
	if err := json.Unmarshal([]byte(raw), &decisions); err != nil {
		l.log.Debug("decisions blob unreadable, starting empty", "error", err)
		return make(map[string]bool)
	}
	if decisions == nil {
		decisions = make(map[string]bool)
	}
	return decisions
}
