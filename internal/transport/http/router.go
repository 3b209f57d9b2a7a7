package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"classroom-live/internal/app"
	"classroom-live/internal/domain"
	"github.com/gorilla/mux"
)

// NewRouter mounts the websocket endpoint and the session REST API.
func NewRouter(classroom *app.Classroom, allowedOrigins []string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	api := &restHandler{classroom: classroom, logger: logger}
	ws := NewWSHandler(classroom, allowedOrigins, logger.With("component", "ws"))

	r := mux.NewRouter()
	r.Use(corsMiddleware(allowedOrigins))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": classroom.Registry.RoomCount()})
	}).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws.ServeWS).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api").Subrouter()
	v1.HandleFunc("/sessions", api.createSession).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/sessions/join", api.joinSession).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/sessions/{code}", api.teardownSession).Methods(http.MethodDelete, http.MethodOptions)
	v1.HandleFunc("/sessions/{code}/end", api.endSession).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/sessions/{code}/state", api.sessionState).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/sessions/{code}/leaderboard", api.leaderboard).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/sessions/{code}/questions/{id}/stats", api.questionStats).Methods(http.MethodGet, http.MethodOptions)

	// legacy paths used by existing browser clients
	v1.HandleFunc("/create-session", api.createSession).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/join-session", api.joinSession).Methods(http.MethodPost, http.MethodOptions)
	return r
}

type restHandler struct {
	classroom *app.Classroom
	logger    *slog.Logger
}

type createSessionRequest struct {
	TeacherID string `json:"teacherId"`
}

type joinSessionRequest struct {
	Code      string `json:"code"`
	StudentID string `json:"studentId"`
}

type sessionStateResponse struct {
	Code      string                        `json:"code"`
	IsActive  bool                          `json:"isActive"`
	StartTime time.Time                     `json:"startTime"`
	State     domain.QuizState              `json:"state"`
	Question  *domain.Broadcast             `json:"question,omitempty"`
	Online    []domain.Participant          `json:"online"`
	Live      int                           `json:"liveMembers"`
	Roster    []string                      `json:"participants"`
	Focus     map[string]domain.FocusStatus `json:"focus"`
}

func (h *restHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ReasonMissingFields)
		return
	}
	session, err := h.classroom.Sessions.Create(r.Context(), req.TeacherID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "code": session.Code})
}

func (h *restHandler) joinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ReasonMissingFields)
		return
	}
	session, err := h.classroom.Sessions.Join(r.Context(), req.Code, req.StudentID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Joined!", "code": session.Code})
}

func (h *restHandler) endSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req createSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.classroom.Sessions.End(r.Context(), code, req.TeacherID); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "code": app.NormalizeCode(code)})
}

func (h *restHandler) teardownSession(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.classroom.Sessions.Teardown(r.Context(), code, r.URL.Query().Get("teacherId")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) sessionState(w http.ResponseWriter, r *http.Request) {
	session, err := h.classroom.Sessions.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.fail(w, err)
		return
	}
	state, q := h.classroom.Quiz.State(r.Context(), session.Code)
	resp := sessionStateResponse{
		Code:      session.Code,
		IsActive:  session.Active,
		StartTime: session.StartTime,
		State:     state,
		Online:    h.classroom.Registry.Members(session.Code),
		Live:      h.classroom.LiveMembers(r.Context(), session.Code),
		Roster:    session.Participants,
		Focus:     h.classroom.Presence.FocusSnapshot(session.Code),
	}
	if q != nil {
		public := q.Public()
		resp.Question = &public
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *restHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	session, err := h.classroom.Sessions.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.fail(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	lb, err := h.classroom.Board.Leaderboard(r.Context(), session.Code, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *restHandler) questionStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := h.classroom.Sessions.Get(r.Context(), vars["code"])
	if err != nil {
		h.fail(w, err)
		return
	}
	stats, err := h.classroom.Board.QuestionStats(r.Context(), session.Code, vars["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *restHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err)
	}
	writeError(w, status, reasonFor(err, "internal error"))
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotTeacher):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRoomClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCodeTaken):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	check := originChecker(allowed)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && check(r) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				if strings.TrimSpace(r.Header.Get("Origin")) != "" && !check(r) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
