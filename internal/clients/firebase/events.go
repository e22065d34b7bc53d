package firebase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tazhate/eventtracker/internal/domain"
)

// eventDoc is the Firestore shape of an event at users/{uid}/events/{id}.
type eventDoc struct {
	ID          string `firestore:"id"`
	UserID      string `firestore:"userId"`
	EventTime   int64  `firestore:"eventTime"`
	Title       string `firestore:"title"`
	Description string `firestore:"description"`
	CardColor   int64  `firestore:"cardColor"`
}

func toDoc(e *domain.Event) eventDoc {
	return eventDoc{
		ID:          e.ID,
		UserID:      e.UserID,
		EventTime:   e.Time.UnixMilli(),
		Title:       e.Title,
		Description: e.Description,
		CardColor:   int64(e.Color),
	}
}

func (d eventDoc) toEvent() *domain.Event {
	return &domain.Event{
		ID:          d.ID,
		UserID:      d.UserID,
		Time:        time.UnixMilli(d.EventTime),
		Title:       d.Title,
		Description: d.Description,
		Color:       domain.Color(d.CardColor),
	}
}

// eventFromSnapshot decodes a stored document. The document path is the
// event's identity; a stale "id" field inside the data is ignored.
func eventFromSnapshot(refID string, d eventDoc) *domain.Event {
	d.ID = refID
	return d.toEvent()
}

// EventStore keeps events in Firestore, one subcollection per user.
type EventStore struct {
	client *firestore.Client
}

func NewEventStore(client *firestore.Client) *EventStore {
	return &EventStore{client: client}
}

func (s *EventStore) Close() error {
	return s.client.Close()
}

func (s *EventStore) events(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("events")
}

func (s *EventStore) CreateEvent(ctx context.Context, e *domain.Event) error {
	ref := s.events(e.UserID).NewDoc()
	e.ID = ref.ID

	if _, err := ref.Set(ctx, toDoc(e)); err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	return nil
}

func (s *EventStore) GetEvent(ctx context.Context, userID, id string) (*domain.Event, error) {
	if userID == "" || id == "" {
		return nil, nil
	}
	snap, err := s.events(userID).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	var doc eventDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", id, err)
	}
	return eventFromSnapshot(snap.Ref.ID, doc), nil
}

// UpdateEvent fails with NotFound when the document is absent, which is
// reported as no match rather than an error.
func (s *EventStore) UpdateEvent(ctx context.Context, e *domain.Event) (bool, error) {
	if e.UserID == "" || e.ID == "" {
		return false, nil
	}
	_, err := s.events(e.UserID).Doc(e.ID).Update(ctx, []firestore.Update{
		{Path: "eventTime", Value: e.Time.UnixMilli()},
		{Path: "title", Value: e.Title},
		{Path: "description", Value: e.Description},
		{Path: "cardColor", Value: int64(e.Color)},
	})
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update event: %w", err)
	}
	return true, nil
}

func (s *EventStore) DeleteEvent(ctx context.Context, userID, id string) error {
	if userID == "" || id == "" {
		return nil
	}
	if _, err := s.events(userID).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *EventStore) ListUpcomingEvents(ctx context.Context, userID string, from time.Time) ([]*domain.Event, error) {
	iter := s.events(userID).
		Where("eventTime", ">=", from.UnixMilli()).
		OrderBy("eventTime", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var events []*domain.Event
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}

		var doc eventDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, eventFromSnapshot(snap.Ref.ID, doc))
	}
	return events, nil
}
