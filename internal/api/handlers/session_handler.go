package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"digitbot/internal/bot"
	"digitbot/internal/deriv"
	"digitbot/internal/models"
)

// maxBodySize - тело запроса старта содержит только токен
const maxBodySize = 4096

// SessionController - управление сессией (реализуется bot.Controller)
type SessionController interface {
	StartSession(ctx context.Context, token string) error
	StopSession(ctx context.Context) error
	Status() *models.SessionStatus
}

// PauseSwitch - флаг паузы торговли (реализуется control.Flag)
type PauseSwitch interface {
	Pause() error
	Resume() error
	Paused() bool
}

// SessionHandler обрабатывает HTTP запросы управления сессией.
//
// Endpoints:
// - POST /api/v1/session/start - подключиться к площадке с токеном
// - POST /api/v1/session/stop - остановить сессию
// - GET /api/v1/session/status - статус сессии и состояние торговли
// - POST /api/v1/session/pause - приостановить открытие новых контрактов
// - POST /api/v1/session/resume - снять паузу
type SessionHandler struct {
	session SessionController
	flag    PauseSwitch
}

// NewSessionHandler создает SessionHandler; flag может быть nil
func NewSessionHandler(session SessionController, flag PauseSwitch) *SessionHandler {
	return &SessionHandler{
		session: session,
		flag:    flag,
	}
}

// StartRequest - тело POST /session/start
type StartRequest struct {
	Token string `json:"token"`
}

// Start подключает сессию.
//
// POST /api/v1/session/start
//
// Request body (необязательно, без токена используется DERIV_API_TOKEN):
//
//	{"token": "a1-..."}
//
// Response 200 OK:
//
//	{"message": "session started", "data": {"status": "running", ...}}
//
// Response 400 Bad Request - нет токена ни в запросе, ни в конфиге
// Response 401 Unauthorized - площадка отклонила токен
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		respondWithError(w, http.StatusInternalServerError, "session controller not initialized", "", "")
		return
	}

	var req StartRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "invalid request body", "BadRequest", err.Error())
		return
	}

	if err := h.session.StartSession(r.Context(), req.Token); err != nil {
		var authErr *deriv.AuthError
		if errors.As(err, &authErr) {
			if authErr.Code == deriv.CodeMissingToken {
				respondWithError(w, http.StatusBadRequest, "token required", authErr.Code, authErr.Message)
				return
			}
			respondWithError(w, http.StatusUnauthorized, "authorization failed", authErr.Code, authErr.Message)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to start session", "", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "session started",
		Data:    h.session.Status(),
	})
}

// Stop останавливает сессию.
//
// POST /api/v1/session/stop
//
// Response 200 OK:
//
//	{"message": "session stopped", "data": {"status": "stopped", ...}}
//
// Response 409 Conflict - активной сессии нет
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		respondWithError(w, http.StatusInternalServerError, "session controller not initialized", "", "")
		return
	}

	if err := h.session.StopSession(r.Context()); err != nil {
		if errors.Is(err, bot.ErrNoSession) {
			respondWithError(w, http.StatusConflict, "no active session", "NoSession", "")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to stop session", "", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: "session stopped",
		Data:    h.session.Status(),
	})
}

// Status возвращает снимок сессии.
//
// GET /api/v1/session/status
//
// Response 200 OK:
//
//	{
//	  "status": "running",
//	  "connected": true,
//	  "phase": "IDLE",
//	  "paused": false,
//	  "market": "R_50",
//	  "daily_pnl": 1.52,
//	  "state": {"current_stake": 0.35, ...}
//	}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		respondWithError(w, http.StatusInternalServerError, "session controller not initialized", "", "")
		return
	}
	respondWithJSON(w, http.StatusOK, h.session.Status())
}

// Pause запрещает открывать новые контракты; контракт в работе доводится
//
// POST /api/v1/session/pause
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, true)
}

// Resume снимает паузу
//
// POST /api/v1/session/resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, false)
}

func (h *SessionHandler) setPaused(w http.ResponseWriter, paused bool) {
	if h.flag == nil {
		respondWithError(w, http.StatusInternalServerError, "control flag not initialized", "", "")
		return
	}

	var err error
	if paused {
		err = h.flag.Pause()
	} else {
		err = h.flag.Resume()
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to update control flag", "", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"paused": h.flag.Paused()})
}
