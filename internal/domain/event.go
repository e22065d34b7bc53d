package domain

import "time"

// Color is an ARGB card colour.
type Color uint32

// Palette is the set of card colours offered when editing an event.
var Palette = []Color{
	0xFF475D92,
	0xFF7B1FA2,
	0xFF2E7D32,
	0xFFEF6C00,
	0xFF00695C,
}

// DefaultColor is used for events created without a colour.
var DefaultColor = Palette[0]

// NextColor returns the palette entry after c, wrapping around.
// Colours outside the palette restart the cycle.
func NextColor(c Color) Color {
	for i, p := range Palette {
		if p == c {
			return Palette[(i+1)%len(Palette)]
		}
	}
	return Palette[0]
}

type Event struct {
	ID          string
	UserID      string
	Time        time.Time
	Title       string
	Description string
	Color       Color
}

// FormatTime returns the start time as shown in reminders and lists.
func (e *Event) FormatTime(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return e.Time.In(loc).Format("Jan 2, 3:04 PM")
}

// IsUpcoming reports whether the event starts at or after now.
func (e *Event) IsUpcoming(now time.Time) bool {
	return !e.Time.Before(now)
}
