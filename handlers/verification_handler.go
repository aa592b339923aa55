package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"ticket-verifier/internal/status"
	"ticket-verifier/internal/verification"
	"ticket-verifier/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
)

// ScanHistory lists journaled gate outcomes.
type ScanHistory interface {
	Recent(ctx context.Context, eventID string, limit int) ([]models.ScanLog, error)
	Counts(ctx context.Context, eventID string) (map[string]int, error)
}

type VerificationHandler struct {
	sessions *verification.Manager
	history  ScanHistory
}

func NewVerificationHandler(sessions *verification.Manager, history ScanHistory) *VerificationHandler {
	return &VerificationHandler{
		sessions: sessions,
		history:  history,
	}
}

// Register binds the gate routes. Every route requires an authenticated
// operator.
func (h *VerificationHandler) Register(r *router.Router[*core.RequestEvent]) {
	g := r.Group("/api/gate")
	g.Bind(apis.RequireAuth())

	g.POST("/sessions", h.OpenSession)
	g.GET("/sessions/{id}", h.GetSession)
	g.DELETE("/sessions/{id}", h.CloseSession)
	g.POST("/sessions/{id}/scan/start", h.StartScan)
	g.POST("/sessions/{id}/scan/stop", h.StopScan)
	g.POST("/sessions/{id}/manual", h.SubmitManual)
	g.POST("/sessions/{id}/confirm", h.Confirm)
	g.POST("/sessions/{id}/reset", h.Reset)
	g.GET("/scans", h.ListScans)
}

// bearer extracts the operator credential forwarded to the ticket authority.
func bearer(e *core.RequestEvent) string {
	token := strings.TrimSpace(e.Request.Header.Get("Authorization"))
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, verification.ErrUnknownSession), errors.Is(err, status.ErrSessionClosed):
		return apis.NewNotFoundError("Session not found", nil)
	case errors.Is(err, status.ErrBusy):
		return apis.NewApiError(http.StatusConflict, "A request for this ticket is still in flight", nil)
	case errors.Is(err, status.ErrInvalidPhase):
		return apis.NewBadRequestError("Action not available right now", nil)
	case errors.Is(err, status.ErrRateLimited):
		return apis.NewApiError(http.StatusTooManyRequests, "Too many manual entries. Please try again later.", nil)
	default:
		slog.Error("gate session action", "error", err)
		return apis.NewInternalServerError("Something went wrong", nil)
	}
}

// session resolves the path session for the authenticated operator and
// refreshes the credential it forwards.
func (h *VerificationHandler) session(e *core.RequestEvent) (*verification.Session, error) {
	if e.Auth == nil {
		return nil, apis.NewUnauthorizedError("Unauthorized", nil)
	}

	s, err := h.sessions.Get(e.Request.PathValue("id"), e.Auth.Id)
	if err != nil {
		return nil, sessionError(err)
	}
	if token := bearer(e); token != "" {
		s.SetToken(token)
	}
	return s, nil
}

// OpenSession - open a verification console for the operator
func (h *VerificationHandler) OpenSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	s, err := h.sessions.Open(e.Auth.Id, bearer(e))
	if err != nil {
		return sessionError(err)
	}

	return e.JSON(http.StatusCreated, map[string]any{
		"session_id": s.ID(),
		"state":      s.State(),
	})
}

func (h *VerificationHandler) GetSession(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, s.State())
}

// CloseSession - the operator left the verification screen
func (h *VerificationHandler) CloseSession(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	if err := h.sessions.Close(e.Request.PathValue("id"), e.Auth.Id); err != nil {
		return sessionError(err)
	}
	return e.NoContent(http.StatusNoContent)
}

// StartScan - a camera failure is reported in the returned state, not as an
// HTTP error, so the console can offer manual entry.
func (h *VerificationHandler) StartScan(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	if err := s.StartScanning(e.Request.Context()); err != nil && !errors.Is(err, status.ErrCameraUnavailable) {
		return sessionError(err)
	}
	return e.JSON(http.StatusOK, s.State())
}

func (h *VerificationHandler) StopScan(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	if err := s.StopScanning(); err != nil {
		return sessionError(err)
	}
	return e.JSON(http.StatusOK, s.State())
}

// SubmitManual - look up a typed ticket identifier
func (h *VerificationHandler) SubmitManual(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	var req struct {
		TicketID string `json:"ticket_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if strings.TrimSpace(req.TicketID) == "" {
		return apis.NewBadRequestError("ticket_id is required", nil)
	}

	if err := s.SubmitManualIdentifier(e.Request.Context(), req.TicketID); err != nil {
		return sessionError(err)
	}
	return e.JSON(http.StatusOK, s.State())
}

// Confirm - mark the presented ticket as used
func (h *VerificationHandler) Confirm(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	if err := s.ConfirmVerification(e.Request.Context()); err != nil {
		return sessionError(err)
	}
	return e.JSON(http.StatusOK, s.State())
}

func (h *VerificationHandler) Reset(e *core.RequestEvent) error {
	s, err := h.session(e)
	if err != nil {
		return err
	}

	if err := s.Reset(); err != nil {
		return sessionError(err)
	}
	return e.JSON(http.StatusOK, s.State())
}

// ListScans - recent gate outcomes, newest first
func (h *VerificationHandler) ListScans(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	query := e.Request.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apis.NewBadRequestError("Invalid limit", nil)
		}
		limit = n
	}

	eventID := query.Get("event")
	rows, err := h.history.Recent(e.Request.Context(), eventID, limit)
	if err != nil {
		slog.Error("list gate scans", "error", err)
		return apis.NewInternalServerError("Failed to load scan history", nil)
	}

	body := map[string]any{
		"items": rows,
		"count": len(rows),
	}
	if eventID != "" {
		outcomes, err := h.history.Counts(e.Request.Context(), eventID)
		if err != nil {
			slog.Error("count gate scans", "error", err, "event_id", eventID)
			return apis.NewInternalServerError("Failed to load scan history", nil)
		}
		body["outcomes"] = outcomes
	}
	return e.JSON(http.StatusOK, body)
}
