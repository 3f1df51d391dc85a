package close

import (
	"errors"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
)

// RunStatus is the lifecycle of one close attempt.
type RunStatus string

const (
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunReopened   RunStatus = "REOPENED"
)

// LineType tags a run line as opening-balance carry-forward, year-end P&L
// closing, or an informational ancestor rollup.
type LineType string

const (
	LineCarryForward LineType = "CARRY_FORWARD"
	LineYearEnd      LineType = "YEAR_END"
	// LineRollup rows report closing balances summed up the account
	// hierarchy; they carry no debit or credit and feed no journal.
	LineRollup LineType = "ROLLUP"
)

// CloseRun is one close attempt for a (book, period) pair. Runs are keyed by
// a deterministic hash of the close parameters plus the source fingerprint;
// one row exists per hash and is updated in place until COMPLETED.
type CloseRun struct {
	ID             int64
	TenantID       int64
	BookID         int64
	FiscalPeriodID int64
	NextPeriodID   int64
	Hash           string
	Status         RunStatus
	CloseStatus    periodstatus.Status
	IsYearEnd      bool

	RetainedEarningsAccountID *int64
	CarryForwardJournalID     *int64
	YearEndJournalID          *int64

	Note      string
	Meta      map[string]any
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunLine is the per-account breakdown of one run.
type RunLine struct {
	ID             int64
	RunID          int64
	AccountID      int64
	Type           LineType
	ClosingBalance float64
	DebitBase      float64
	CreditBase     float64
}

var (
	// ErrInvalidCloseStatus rejects close targets other than SOFT_CLOSED or
	// HARD_CLOSED.
	ErrInvalidCloseStatus = errors.New("close: close status must be SOFT_CLOSED or HARD_CLOSED")
	// ErrPeriodHardClosed blocks closing a HARD_CLOSED period; reopen is the
	// only way out.
	ErrPeriodHardClosed = errors.New("close: period is hard closed, reopen first")
	// ErrRetainedEarningsRequired fires on year-end close without a
	// retained-earnings account.
	ErrRetainedEarningsRequired = errors.New("close: retained earnings account required for year-end close")
	// ErrRetainedEarningsInvalid fires when the account is not an active,
	// postable, leaf EQUITY account of the book's legal entity.
	ErrRetainedEarningsInvalid = errors.New("close: retained earnings account unusable")
	// ErrRunNotFound indicates an unknown run id.
	ErrRunNotFound = errors.New("close: run not found")
	// ErrNoCompletedRun indicates reopen found nothing to reverse.
	ErrNoCompletedRun = errors.New("close: no completed close run for period")
	// ErrReasonRequired guards reopen.
	ErrReasonRequired = errors.New("close: reopen reason required")
)
