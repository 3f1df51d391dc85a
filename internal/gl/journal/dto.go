package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// LineInput describes one journal line on a create request.
type LineInput struct {
	AccountID                 int64
	OperatingUnitID           *int64
	CounterpartyLegalEntityID *int64
	Description               string
	SubledgerRef              string
	Amount                    float64
	DebitBase                 float64
	CreditBase                float64
}

// CreateInput groups fields required to create a draft journal.
type CreateInput struct {
	Scope          shared.ScopeContext
	LegalEntityID  int64
	BookID         int64
	FiscalPeriodID int64
	SourceType     SourceType
	EntryDate      time.Time
	DocumentDate   time.Time
	CurrencyCode   string
	Description    string
	ReferenceNo    string
	Lines          []LineInput

	// AutoMirror synthesizes counterparty-side journals for intercompany
	// lines.
	AutoMirror bool
	// CashOverrideReason authorises direct postings into cash-controlled
	// accounts when the caller holds the override permission.
	CashOverrideReason string
}

// Validate enforces the pure input invariants; account, period, and policy
// checks need the store and happen in the service.
func (in CreateInput) Validate() error {
	if in.Scope.TenantID == 0 || in.Scope.ActorID == 0 {
		return errors.New("gl: tenant and actor required")
	}
	if in.LegalEntityID == 0 || in.BookID == 0 || in.FiscalPeriodID == 0 {
		return errors.New("gl: legal entity, book, and period required")
	}
	if in.EntryDate.IsZero() {
		return errors.New("gl: entry date required")
	}
	if in.CurrencyCode == "" {
		return errors.New("gl: currency required")
	}
	if err := in.SourceType.EnsurePublic(); err != nil {
		return err
	}
	return ValidateLines(in.Lines)
}

// ValidateLines checks cardinality, per-line sidedness, and balance.
func ValidateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range lines {
		if line.AccountID == 0 {
			return fmt.Errorf("gl: line %d missing account", idx+1)
		}
		if line.DebitBase < 0 || line.CreditBase < 0 {
			return fmt.Errorf("%w: line %d", ErrNegativeAmount, idx+1)
		}
		if line.DebitBase > 0 && line.CreditBase > 0 {
			return fmt.Errorf("%w: line %d", ErrBothSides, idx+1)
		}
		if line.DebitBase == 0 && line.CreditBase == 0 {
			return fmt.Errorf("%w: line %d", ErrEmptyLine, idx+1)
		}
		debit += line.DebitBase
		credit += line.CreditBase
	}
	if !shared.EqualWithin(shared.Round6(debit), shared.Round6(credit), shared.Epsilon) {
		return fmt.Errorf("%w: debit %.6f credit %.6f", ErrUnbalanced, debit, credit)
	}
	return nil
}

// PostInput wraps parameters for posting a draft.
type PostInput struct {
	Scope     shared.ScopeContext
	JournalID int64
	// Cluster posts the whole linked intercompany cluster atomically.
	Cluster bool
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	Scope            shared.ScopeContext
	JournalID        int64
	Reason           string
	ReversalPeriodID *int64
	AutoPost         bool
}

// Validate checks the reversal request shape.
func (in ReverseInput) Validate() error {
	if in.JournalID == 0 {
		return errors.New("gl: journal id required")
	}
	if in.Reason == "" {
		return errors.New("gl: reversal reason required")
	}
	return nil
}

// CreateResult reports the created draft and any intercompany mirrors.
type CreateResult struct {
	Entry   JournalEntry
	Mirrors []JournalEntry
}

// ReverseResult pairs the reversal with the updated original.
type ReverseResult struct {
	Reversal JournalEntry
	Original JournalEntry
}

// ListFilter narrows journal listings.
type ListFilter struct {
	BookID         int64
	FiscalPeriodID int64
	Status         Status
	// LegalEntityIDs is the caller's allowed set from the permission layer.
	LegalEntityIDs []int64
	Limit          int
	Offset         int
}
