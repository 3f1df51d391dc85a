package journal

import "time"

// Status enumerates the journal lifecycle. Transitions are one-way:
// DRAFT -> POSTED -> REVERSED. REVERSED is terminal.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPosted   Status = "POSTED"
	StatusReversed Status = "REVERSED"
)

// JournalEntry is an atomic, balanced set of debit/credit lines posted to a
// book/period. Total debit and credit base amounts are redundant with the
// lines and must agree with them within shared.Epsilon once POSTED.
type JournalEntry struct {
	ID              int64
	TenantID        int64
	LegalEntityID   int64
	BookID          int64
	FiscalPeriodID  int64
	JournalNo       int64
	SourceType      SourceType
	Status          Status
	EntryDate       time.Time
	DocumentDate    time.Time
	CurrencyCode    string
	Description     string
	ReferenceNo     string
	TotalDebitBase  float64
	TotalCreditBase float64

	CreatedBy  int64
	CreatedAt  time.Time
	PostedBy   *int64
	PostedAt   *time.Time
	ReversedBy *int64
	ReversedAt *time.Time

	// ReversalJournalID points at the journal that reverses this one.
	ReversalJournalID *int64
	// ReversalOfID points back from a reversal to its original.
	ReversalOfID *int64
	// IntercompanySourceID links a mirror to the journal it mirrors.
	IntercompanySourceID *int64

	Lines []JournalLine
}

// IsReversed reports whether the entry has been reversed, reconciling the
// status flag with the reversal link. The two are written in one
// transaction, but the check tolerates drift from partial historic failures.
func (e JournalEntry) IsReversed() bool {
	return e.Status == StatusReversed || e.ReversalJournalID != nil
}

// JournalLine stores one debit or credit against an account. Exactly one of
// DebitBase/CreditBase is positive; the other is exactly zero.
type JournalLine struct {
	ID                        int64
	JournalID                 int64
	LineNo                    int32
	AccountID                 int64
	OperatingUnitID           *int64
	CounterpartyLegalEntityID *int64
	Description               string
	SubledgerRef              string
	CurrencyCode              string
	Amount                    float64
	DebitBase                 float64
	CreditBase                float64
}

// ICProfile is a legal entity's intercompany configuration.
type ICProfile struct {
	LegalEntityID       int64
	Enabled             bool
	BookID              int64
	ReceivableAccountID int64
	PayableAccountID    int64
}

// OperatingUnit carries the subledger policy of an operating unit.
type OperatingUnit struct {
	ID                int64
	SubledgerRequired bool
}

// Shareholder tracks committed capital per legal entity shareholder.
type Shareholder struct {
	ID               int64
	LegalEntityID    int64
	CapitalAccountID int64
	CommittedCapital float64
}
