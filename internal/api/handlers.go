package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tazhate/eventtracker/internal/domain"
	"github.com/tazhate/eventtracker/internal/service"
)

type EventResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EventTime   string `json:"event_time"`
	EventTimeMS int64  `json:"event_time_ms"`
	DisplayTime string `json:"display_time"`
	Color       uint32 `json:"color"`
}

type UserResponse struct {
	ID             string `json:"id"`
	Login          string `json:"login"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	DeviceToken    string `json:"device_token,omitempty"`
	SMSEnabled     bool   `json:"sms_enabled"`
}

type eventRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	EventTime   string  `json:"event_time"`    // RFC 3339
	EventTimeMS *int64  `json:"event_time_ms"` // epoch millis, wins over event_time
	Color       *uint32 `json:"color"`
}

func (req *eventRequest) time() (time.Time, bool) {
	if req.EventTimeMS != nil {
		return time.UnixMilli(*req.EventTimeMS), true
	}
	if req.EventTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, req.EventTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// POST /api/accounts - create account
func (s *Server) apiAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	userID, err := s.auth.CreateAccount(r.Context(), req.Login, req.Password)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.jsonStatus(w, http.StatusCreated, map[string]string{"user_id": userID})
}

// POST /api/sessions - sign in
//
// The response carries the reminder permission state so the client knows
// whether to show the permission prompt next.
func (s *Server) apiSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	token, err := s.auth.SignIn(r.Context(), req.Login, req.Password)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	userID, err := s.auth.Verify(r.Context(), token)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	st, err := s.permissions.Status(r.Context(), userID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"token":      token,
		"user_id":    userID,
		"permission": st,
	})
}

// GET /api/me - profile
// PUT /api/me - update delivery contacts
func (s *Server) apiMe(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		u, err := s.users.Profile(r.Context(), userID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, userToResponse(u))

	case http.MethodPut:
		var req struct {
			Phone          *string `json:"phone"`
			TelegramChatID *int64  `json:"telegram_chat_id"`
			DeviceToken    *string `json:"device_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		upd := service.ContactUpdate{Phone: req.Phone, DeviceToken: req.DeviceToken}
		if req.TelegramChatID != nil {
			// chats are linked from the bot with a link code
			if *req.TelegramChatID != 0 {
				s.jsonError(w, "Link a chat with POST /api/me/telegram-link", http.StatusBadRequest)
				return
			}
			upd.UnlinkTelegram = true
		}

		u, err := s.users.UpdateContact(r.Context(), userID, upd)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, userToResponse(u))

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/me/telegram-link - issue a code for "/start <code>" in the bot
func (s *Server) apiTelegramLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code, expires, err := s.users.CreateLinkCode(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, map[string]interface{}{
		"code":       code,
		"command":    "/start " + code,
		"expires_at": expires.In(s.timezone).Format(time.RFC3339),
	})
}

// GET /api/events - upcoming events
// POST /api/events - create event
func (s *Server) apiEvents(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		events, err := s.events.Upcoming(r.Context(), userID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, s.eventsToResponse(events))

	case http.MethodPost:
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		start, ok := req.time()
		if !ok {
			s.jsonError(w, "Invalid event_time (use RFC 3339 or event_time_ms)", http.StatusBadRequest)
			return
		}

		e := &domain.Event{
			UserID:      userID,
			Title:       req.Title,
			Description: req.Description,
			Time:        start,
		}
		if req.Color != nil {
			e.Color = domain.Color(*req.Color)
		}

		created, err := s.events.Add(r.Context(), e)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonStatus(w, http.StatusCreated, s.eventToResponse(created))

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET|PUT|DELETE /api/events/{id}
func (s *Server) apiEvent(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	id := strings.TrimPrefix(r.URL.Path, "/api/events/")
	if id == "" || strings.Contains(id, "/") {
		s.jsonError(w, "Invalid event ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, err := s.events.Get(r.Context(), userID, id)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, s.eventToResponse(e))

	case http.MethodPut:
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		e, err := s.events.Get(r.Context(), userID, id)
		if err != nil {
			s.serviceError(w, err)
			return
		}

		e.Title = req.Title
		e.Description = req.Description
		if req.EventTime != "" || req.EventTimeMS != nil {
			start, ok := req.time()
			if !ok {
				s.jsonError(w, "Invalid event_time (use RFC 3339 or event_time_ms)", http.StatusBadRequest)
				return
			}
			e.Time = start
		}
		if req.Color != nil {
			e.Color = domain.Color(*req.Color)
		}

		updated, err := s.events.Update(r.Context(), e)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, s.eventToResponse(updated))

	case http.MethodDelete:
		if err := s.events.Delete(r.Context(), userID, id); err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, map[string]interface{}{
			"deleted": id,
			"message": "Event deleted",
		})

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/reminders/permission - prompt state
// POST /api/reminders/permission - answer the prompt
func (s *Server) apiPermission(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		st, err := s.permissions.Status(r.Context(), userID)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, st)

	case http.MethodPost:
		var req struct {
			Granted *bool `json:"granted"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Granted == nil {
			s.jsonError(w, "granted (bool) is required", http.StatusBadRequest)
			return
		}

		st, err := s.permissions.Decide(r.Context(), userID, *req.Granted)
		if err != nil {
			s.serviceError(w, err)
			return
		}
		s.jsonResponse(w, st)

	default:
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) eventToResponse(e *domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		EventTime:   e.Time.In(s.timezone).Format(time.RFC3339),
		EventTimeMS: e.Time.UnixMilli(),
		DisplayTime: e.FormatTime(s.timezone),
		Color:       uint32(e.Color),
	}
}

func (s *Server) eventsToResponse(events []*domain.Event) []EventResponse {
	result := make([]EventResponse, 0, len(events))
	for _, e := range events {
		result = append(result, s.eventToResponse(e))
	}
	return result
}

func userToResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:             u.ID,
		Login:          u.Login,
		Phone:          u.Phone,
		TelegramChatID: u.TelegramChatID,
		DeviceToken:    u.DeviceToken,
		SMSEnabled:     u.SMSEnabled,
	}
}
