package close

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/platform/httpx"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// Enqueuer defers a close run to the background worker. Implemented by the
// jobs package; nil disables async close.
type Enqueuer interface {
	EnqueueCloseRun(ctx context.Context, in CloseInput) (string, error)
}

// Handler exposes the orchestrator over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueue  Enqueuer
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, enqueue Enqueuer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		enqueue:  enqueue,
		validate: validator.New(),
	}
}

// MountRoutes registers close routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/close-runs", h.closeRun)
	r.Get("/close-runs/{id}", h.getRun)
	r.Post("/periods/reopen", h.reopen)
}

type closeRequest struct {
	BookID                    int64  `json:"book_id" validate:"required"`
	FiscalPeriodID            int64  `json:"fiscal_period_id" validate:"required"`
	CloseStatus               string `json:"close_status" validate:"required,oneof=SOFT_CLOSED HARD_CLOSED"`
	RetainedEarningsAccountID *int64 `json:"retained_earnings_account_id,omitempty"`
	Note                      string `json:"note"`
	Async                     bool   `json:"async"`
}

type reopenRequest struct {
	BookID         int64  `json:"book_id" validate:"required"`
	FiscalPeriodID int64  `json:"fiscal_period_id" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
}

func (h *Handler) closeRun(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := CloseInput{
		Scope:                     scope,
		BookID:                    req.BookID,
		FiscalPeriodID:            req.FiscalPeriodID,
		CloseStatus:               periodstatus.Status(req.CloseStatus),
		RetainedEarningsAccountID: req.RetainedEarningsAccountID,
		Note:                      req.Note,
	}
	if req.Async {
		if h.enqueue == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "async close not configured")
			return
		}
		taskID, err := h.enqueue.EnqueueCloseRun(r.Context(), in)
		if err != nil {
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}
	result, err := h.service.Close(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"run":        result.Run,
		"idempotent": result.Idempotent,
	})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid run id")
		return
	}
	run, lines, err := h.service.GetRun(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"run": run, "lines": lines})
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Reopen(r.Context(), ReopenInput{
		Scope:          scope,
		BookID:         req.BookID,
		FiscalPeriodID: req.FiscalPeriodID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"run":                  result.Run,
		"reversal_journal_ids": result.ReversalJournalIDs,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ledger.ErrBookNotFound),
		errors.Is(err, ledger.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrScopeDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrPeriodHardClosed),
		errors.Is(err, ErrNoCompletedRun),
		errors.Is(err, shared.ErrCloseInProgress):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidCloseStatus),
		errors.Is(err, ErrRetainedEarningsRequired),
		errors.Is(err, ErrRetainedEarningsInvalid),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ledger.ErrNoNextPeriod),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, shared.ErrSetupRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("close request failed", slog.String("error", err.Error()))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
