// Package prefs is a small string key-value store abstraction in the spirit of
// per-install application preferences.
package prefs

import "context"

// Store reads and writes string values by key.
//
// GetString never fails: a missing key or a backend error yields def.
type Store interface {
	GetString(ctx context.Context, key, def string) string
	PutString(ctx context.Context, key, value string) error
}
