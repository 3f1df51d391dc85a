package journal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/platform/httpx"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// Handler exposes the posting engine over JSON.
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

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/journals", h.list)
	r.Get("/journals/{id}", h.get)
	r.Post("/journals", h.create)
	r.Post("/journals/{id}/post", h.post)
	r.Post("/journals/{id}/reverse", h.reverse)
}

type lineRequest struct {
	AccountID                 int64   `json:"account_id" validate:"required"`
	OperatingUnitID           *int64  `json:"operating_unit_id,omitempty"`
	CounterpartyLegalEntityID *int64  `json:"counterparty_legal_entity_id,omitempty"`
	Description               string  `json:"description"`
	SubledgerRef              string  `json:"subledger_ref"`
	Amount                    float64 `json:"amount"`
	DebitBase                 float64 `json:"debit_base" validate:"gte=0"`
	CreditBase                float64 `json:"credit_base" validate:"gte=0"`
}

type createRequest struct {
	LegalEntityID      int64         `json:"legal_entity_id" validate:"required"`
	BookID             int64         `json:"book_id" validate:"required"`
	FiscalPeriodID     int64         `json:"fiscal_period_id" validate:"required"`
	SourceType         string        `json:"source_type" validate:"required"`
	EntryDate          string        `json:"entry_date" validate:"required"`
	DocumentDate       string        `json:"document_date"`
	CurrencyCode       string        `json:"currency_code" validate:"required,len=3"`
	Description        string        `json:"description"`
	ReferenceNo        string        `json:"reference_no"`
	Lines              []lineRequest `json:"lines" validate:"required,min=2,dive"`
	AutoMirror         bool          `json:"auto_mirror"`
	CashOverrideReason string        `json:"cash_override_reason"`
}

type reverseRequest struct {
	Reason           string `json:"reason" validate:"required"`
	ReversalPeriodID *int64 `json:"reversal_period_id,omitempty"`
	AutoPost         bool   `json:"auto_post"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entryDate, err := time.Parse("2006-01-02", req.EntryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry_date must be YYYY-MM-DD")
		return
	}
	var docDate time.Time
	if req.DocumentDate != "" {
		docDate, err = time.Parse("2006-01-02", req.DocumentDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "document_date must be YYYY-MM-DD")
			return
		}
	}
	in := CreateInput{
		Scope:              scope,
		LegalEntityID:      req.LegalEntityID,
		BookID:             req.BookID,
		FiscalPeriodID:     req.FiscalPeriodID,
		SourceType:         SourceType(req.SourceType),
		EntryDate:          entryDate,
		DocumentDate:       docDate,
		CurrencyCode:       req.CurrencyCode,
		Description:        req.Description,
		ReferenceNo:        req.ReferenceNo,
		AutoMirror:         req.AutoMirror,
		CashOverrideReason: req.CashOverrideReason,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, LineInput{
			AccountID:                 line.AccountID,
			OperatingUnitID:           line.OperatingUnitID,
			CounterpartyLegalEntityID: line.CounterpartyLegalEntityID,
			Description:               line.Description,
			SubledgerRef:              line.SubledgerRef,
			Amount:                    line.Amount,
			DebitBase:                 line.DebitBase,
			CreditBase:                line.CreditBase,
		})
	}
	result, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid journal id")
		return
	}
	cluster := r.URL.Query().Get("cluster") == "true"
	entry, err := h.service.Post(r.Context(), PostInput{Scope: scope, JournalID: id, Cluster: cluster})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid journal id")
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Reverse(r.Context(), ReverseInput{
		Scope:            scope,
		JournalID:        id,
		Reason:           req.Reason,
		ReversalPeriodID: req.ReversalPeriodID,
		AutoPost:         req.AutoPost,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	filter := ListFilter{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("book_id"); v != "" {
		filter.BookID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("fiscal_period_id"); v != "" {
		filter.FiscalPeriodID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("status"); v != "" {
		filter.Status = Status(v)
	}
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			filter.Limit = parsed
		}
	}
	if v := q.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}
	entries, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	scope, err := shared.ScopeFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid journal id")
		return
	}
	entry, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

// respondError maps posting-engine errors to problem responses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJournalNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrScopeDenied), errors.Is(err, ErrCashControlBlocked):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, periodstatus.ErrPeriodNotOpen),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnbalanced),
		errors.Is(err, ErrTooFewLines),
		errors.Is(err, ErrNegativeAmount),
		errors.Is(err, ErrBothSides),
		errors.Is(err, ErrEmptyLine),
		errors.Is(err, ErrUnknownSourceType),
		errors.Is(err, ErrSourceTypeReserved),
		errors.Is(err, ErrSubledgerRefRequired),
		errors.Is(err, ErrOverrideReasonRequired),
		errors.Is(err, ErrIntercompanyDisabled),
		errors.Is(err, ErrNoActivePair),
		errors.Is(err, ErrBookEntityMismatch),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, accounts.ErrAccountNotPostable),
		errors.Is(err, accounts.ErrAccountInactive),
		errors.Is(err, accounts.ErrAccountNotLeaf),
		errors.Is(err, accounts.ErrWrongLegalEntity),
		errors.Is(err, shared.ErrSetupRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("journal request failed", slog.String("error", err.Error()))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
