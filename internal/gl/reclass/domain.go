package reclass

import (
	"errors"
	"time"
)

// AllocationMode selects how a balance split is distributed.
type AllocationMode string

const (
	ModePercent AllocationMode = "PERCENT"
	ModeAmount  AllocationMode = "AMOUNT"
)

// Kind distinguishes a whole-balance split from a transaction-line reclass.
type Kind string

const (
	KindBalance Kind = "BALANCE"
	KindLines   Kind = "LINES"
)

// Side names the natural balance side of the source account.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Run records one reclassification execution, kept regardless of whether
// the generated draft journal is ever posted.
type Run struct {
	ID              int64
	TenantID        int64
	LegalEntityID   int64
	BookID          int64
	FiscalPeriodID  int64
	Kind            Kind
	SourceAccountID int64
	SourceBalance   float64
	SourceSide      Side
	TotalAmount     float64
	Mode            AllocationMode
	JournalID       int64
	CreatedBy       int64
	CreatedAt       time.Time
}

// RunTarget is one destination account of a run.
type RunTarget struct {
	ID              int64
	RunID           int64
	TargetAccountID int64
	Percent         float64
	Amount          float64
	AppliedAmount   float64
}

var (
	// ErrInvalidMode rejects unknown allocation modes.
	ErrInvalidMode = errors.New("reclass: unknown allocation mode")
	// ErrNoTargets requires at least one destination account.
	ErrNoTargets = errors.New("reclass: at least one target required")
	// ErrZeroSourceBalance rejects splitting an account with no posted
	// balance in the period.
	ErrZeroSourceBalance = errors.New("reclass: source account balance is zero")
	// ErrPercentSum requires PERCENT targets to sum to exactly 100.
	ErrPercentSum = errors.New("reclass: target percentages must sum to 100")
	// ErrAmountSum requires AMOUNT targets to sum to the source balance.
	ErrAmountSum = errors.New("reclass: target amounts must sum to the source balance")
	// ErrNoLinesSelected requires at least one journal line.
	ErrNoLinesSelected = errors.New("reclass: no journal lines selected")
	// ErrLineNotEligible rejects lines outside the source account, book,
	// legal entity, POSTED status, or date window.
	ErrLineNotEligible = errors.New("reclass: selected line not eligible")
	// ErrRunNotFound indicates an unknown run id.
	ErrRunNotFound = errors.New("reclass: run not found")
)
