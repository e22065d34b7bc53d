package caldav

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/tazhate/eventtracker/internal/domain"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	productID = "-//EventTracker//CalDAV//EN"
)

// Calendar is a calendar collection on the server.
type Calendar struct {
	Path        string
	DisplayName string
}

// Client mirrors events into one CalDAV calendar. Each event is stored as
// <calendar>/<uid>.ics with a UID derived from the event id, so a later put
// replaces the earlier copy.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	alarmBefore  time.Duration

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a client. An empty calendarPath selects the first
// calendar found on the account. A positive alarmBefore adds a display alarm
// that long before each event.
func NewClient(baseURL, username, password, calendarPath string, alarmBefore time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		alarmBefore:  alarmBefore,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{Path: cal.Path, DisplayName: cal.Name})
	}
	return result, nil
}

func (c *Client) calendar(ctx context.Context) (string, error) {
	c.mu.Lock()
	path := c.calendarPath
	c.mu.Unlock()
	if path != "" {
		return path, nil
	}

	cals, err := c.DiscoverCalendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("no calendars on account %s", c.username)
	}

	c.mu.Lock()
	c.calendarPath = cals[0].Path
	c.mu.Unlock()
	return cals[0].Path, nil
}

func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + uid + ".ics"
}

// UID returns the CalDAV UID used for an event.
func UID(eventID string) string {
	return "event-" + eventID + "@eventtracker"
}

// PutEvent creates or replaces the calendar copy of e.
func (c *Client) PutEvent(ctx context.Context, e *domain.Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	path, err := c.calendar(ctx)
	if err != nil {
		return err
	}

	cal := eventToICS(e, c.alarmBefore, time.Now())
	if _, err := client.PutCalendarObject(ctx, objectPath(path, UID(e.ID)), cal); err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

// RemoveEvent deletes the calendar copy of an event.
func (c *Client) RemoveEvent(ctx context.Context, eventID string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	path, err := c.calendar(ctx)
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, objectPath(path, UID(eventID))); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func eventToICS(e *domain.Event, alarmBefore time.Duration, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, UID(e.ID))
	vevent.Props.SetText(ical.PropSummary, e.Title)
	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}

	// UTC so the server never has to resolve a TZID
	vevent.Props.SetDateTime(ical.PropDateTimeStart, e.Time.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	if alarmBefore > 0 {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, e.Title)
		alarm.Props.Set(&ical.Prop{
			Name:   ical.PropTrigger,
			Params: make(ical.Params),
			Value:  fmt.Sprintf("-PT%dM", int(alarmBefore.Minutes())),
		})
		vevent.Children = append(vevent.Children, alarm)
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}

// SerializeCalendar converts calendar to string (for debugging)
func SerializeCalendar(cal *ical.Calendar) string {
	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	_ = enc.Encode(cal)
	return buf.String()
}
