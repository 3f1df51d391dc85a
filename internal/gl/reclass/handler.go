package reclass

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/platform/httpx"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// Handler exposes the reclassification engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers reclass routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reclass/balance-split", h.balanceSplit)
	r.Post("/reclass/lines", h.lines)
	r.Get("/reclass/runs/{id}", h.getRun)
}

type targetRequest struct {
	AccountID int64   `json:"account_id" validate:"required"`
	Percent   float64 `json:"percent"`
	Amount    float64 `json:"amount"`
}

type balanceSplitRequest struct {
	LegalEntityID   int64           `json:"legal_entity_id" validate:"required"`
	BookID          int64           `json:"book_id" validate:"required"`
	FiscalPeriodID  int64           `json:"fiscal_period_id" validate:"required"`
	SourceAccountID int64           `json:"source_account_id" validate:"required"`
	Mode            string          `json:"mode" validate:"required,oneof=PERCENT AMOUNT"`
	Targets         []targetRequest `json:"targets" validate:"required,min=1,dive"`
	EntryDate       string          `json:"entry_date"`
	Description     string          `json:"description"`
}

type lineTargetRequest struct {
	LineID          int64 `json:"line_id" validate:"required"`
	TargetAccountID int64 `json:"target_account_id" validate:"required"`
}

type lineReclassRequest struct {
	LegalEntityID   int64               `json:"legal_entity_id" validate:"required"`
	BookID          int64               `json:"book_id" validate:"required"`
	FiscalPeriodID  int64               `json:"fiscal_period_id" validate:"required"`
	SourceAccountID int64               `json:"source_account_id" validate:"required"`
	Lines           []lineTargetRequest `json:"lines" validate:"required,min=1,dive"`
	DateFrom        string              `json:"date_from"`
	DateTo          string              `json:"date_to"`
	EntryDate       string              `json:"entry_date"`
	Description     string              `json:"description"`
}

func (h *Handler) balanceSplit(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var req balanceSplitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entryDate, ok := parseDate(w, req.EntryDate, "entry_date")
	if !ok {
		return
	}
	in := BalanceSplitInput{
		Scope:           scope,
		LegalEntityID:   req.LegalEntityID,
		BookID:          req.BookID,
		FiscalPeriodID:  req.FiscalPeriodID,
		SourceAccountID: req.SourceAccountID,
		Mode:            AllocationMode(req.Mode),
		EntryDate:       entryDate,
		Description:     req.Description,
	}
	for _, target := range req.Targets {
		in.Targets = append(in.Targets, TargetInput{
			AccountID: target.AccountID,
			Percent:   target.Percent,
			Amount:    target.Amount,
		})
	}
	result, err := h.service.BalanceSplit(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) lines(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var req lineReclassRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entryDate, ok := parseDate(w, req.EntryDate, "entry_date")
	if !ok {
		return
	}
	dateFrom, ok := parseDatePtr(w, req.DateFrom, "date_from")
	if !ok {
		return
	}
	dateTo, ok := parseDatePtr(w, req.DateTo, "date_to")
	if !ok {
		return
	}
	in := LineReclassInput{
		Scope:           scope,
		LegalEntityID:   req.LegalEntityID,
		BookID:          req.BookID,
		FiscalPeriodID:  req.FiscalPeriodID,
		SourceAccountID: req.SourceAccountID,
		DateFrom:        dateFrom,
		DateTo:          dateTo,
		EntryDate:       entryDate,
		Description:     req.Description,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, LineTarget{LineID: line.LineID, TargetAccountID: line.TargetAccountID})
	}
	result, err := h.service.ReclassLines(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
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
	run, targets, err := h.service.GetRun(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"run": run, "targets": targets})
}

func parseDate(w http.ResponseWriter, value, field string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", field+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}

func parseDatePtr(w http.ResponseWriter, value, field string) (*time.Time, bool) {
	parsed, ok := parseDate(w, value, field)
	if !ok {
		return nil, false
	}
	if parsed.IsZero() {
		return nil, true
	}
	return &parsed, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ledger.ErrBookNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrScopeDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, periodstatus.ErrPeriodNotOpen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidMode),
		errors.Is(err, ErrNoTargets),
		errors.Is(err, ErrZeroSourceBalance),
		errors.Is(err, ErrPercentSum),
		errors.Is(err, ErrAmountSum),
		errors.Is(err, ErrNoLinesSelected),
		errors.Is(err, ErrLineNotEligible),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, accounts.ErrAccountNotPostable),
		errors.Is(err, accounts.ErrAccountInactive),
		errors.Is(err, accounts.ErrAccountNotLeaf),
		errors.Is(err, accounts.ErrWrongLegalEntity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("reclass request failed", slog.String("error", err.Error()))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
