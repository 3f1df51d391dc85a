package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// SystemInput describes an internally generated, pre-validated journal. The
// close and reclass engines create their output through this primitive so
// the balance invariant is enforced in exactly one place; the public-API
// restrictions (source-type gate, cash control) do not apply.
type SystemInput struct {
	TenantID       int64
	LegalEntityID  int64
	BookID         int64
	FiscalPeriodID int64
	SourceType     SourceType
	Status         Status
	EntryDate      time.Time
	DocumentDate   time.Time
	CurrencyCode   string
	Description    string
	ReferenceNo    string
	ActorID        int64
	Lines          []LineInput
}

// InsertPrevalidated writes a system journal inside the caller's
// transaction. Status must be DRAFT or POSTED; POSTED entries are stamped at
// insert, there is no separate posting step for internally balanced output.
func InsertPrevalidated(ctx context.Context, tx TxRepository, in SystemInput, now time.Time) (JournalEntry, error) {
	if err := ValidateLines(in.Lines); err != nil {
		return JournalEntry{}, err
	}
	if in.Status != StatusDraft && in.Status != StatusPosted {
		return JournalEntry{}, fmt.Errorf("%w: system journal status %s", ErrInvalidStatus, in.Status)
	}
	lines, totalDebit, totalCredit := buildLines(in.Lines, in.CurrencyCode)
	entry := JournalEntry{
		TenantID:        in.TenantID,
		LegalEntityID:   in.LegalEntityID,
		BookID:          in.BookID,
		FiscalPeriodID:  in.FiscalPeriodID,
		SourceType:      in.SourceType,
		Status:          in.Status,
		EntryDate:       in.EntryDate,
		DocumentDate:    documentDate(in.DocumentDate, in.EntryDate),
		CurrencyCode:    in.CurrencyCode,
		Description:     in.Description,
		ReferenceNo:     in.ReferenceNo,
		TotalDebitBase:  totalDebit,
		TotalCreditBase: totalCredit,
		CreatedBy:       in.ActorID,
	}
	if in.Status == StatusPosted {
		entry.PostedBy = &in.ActorID
		at := now
		entry.PostedAt = &at
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertLines(ctx, entry.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// ReverseTx reverses a POSTED journal inside the caller's transaction,
// creating an already-POSTED mirror-image journal and stamping the original
// REVERSED. Used by the close orchestrator's reopen; the period gate is the
// caller's responsibility there.
func ReverseTx(ctx context.Context, tx TxRepository, tenantID, journalID int64, reason string, actorID int64, now time.Time) (JournalEntry, error) {
	original, err := tx.GetEntryForUpdate(ctx, tenantID, journalID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.IsReversed() {
		return JournalEntry{}, ErrAlreadyReversed
	}
	if original.Status != StatusPosted {
		return JournalEntry{}, fmt.Errorf("%w: journal %d is %s", ErrInvalidStatus, journalID, original.Status)
	}
	lines, err := tx.GetLines(ctx, journalID)
	if err != nil {
		return JournalEntry{}, err
	}
	reversal := buildReversal(original, lines, original.FiscalPeriodID, actorID)
	reversal.Status = StatusPosted
	reversal.PostedBy = &actorID
	at := now
	reversal.PostedAt = &at
	if err := tx.InsertEntry(ctx, &reversal); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertLines(ctx, reversal.ID, reversal.Lines); err != nil {
		return JournalEntry{}, err
	}
	ok, err := tx.MarkReversed(ctx, original.ID, reversal.ID, actorID, now)
	if err != nil {
		return JournalEntry{}, err
	}
	if !ok {
		return JournalEntry{}, ErrAlreadyReversed
	}
	return reversal, nil
}

// buildLines normalises input lines to dense 1-based numbering with amounts
// rounded to the storage scale, returning the debit/credit totals.
func buildLines(in []LineInput, currency string) ([]JournalLine, float64, float64) {
	lines := make([]JournalLine, 0, len(in))
	var totalDebit, totalCredit float64
	for idx, li := range in {
		debit := shared.Round6(li.DebitBase)
		credit := shared.Round6(li.CreditBase)
		amount := shared.Round6(li.Amount)
		if amount == 0 {
			amount = debit - credit
		}
		lines = append(lines, JournalLine{
			LineNo:                    int32(idx + 1),
			AccountID:                 li.AccountID,
			OperatingUnitID:           li.OperatingUnitID,
			CounterpartyLegalEntityID: li.CounterpartyLegalEntityID,
			Description:               li.Description,
			SubledgerRef:              li.SubledgerRef,
			CurrencyCode:              currency,
			Amount:                    amount,
			DebitBase:                 debit,
			CreditBase:                credit,
		})
		totalDebit += debit
		totalCredit += credit
	}
	return lines, shared.Round6(totalDebit), shared.Round6(totalCredit)
}

// buildReversal produces the 1:1 sign-flipped counterpart of an entry.
func buildReversal(original JournalEntry, lines []JournalLine, periodID int64, actorID int64) JournalEntry {
	flipped := make([]JournalLine, 0, len(lines))
	for idx, line := range lines {
		flipped = append(flipped, JournalLine{
			LineNo:                    int32(idx + 1),
			AccountID:                 line.AccountID,
			OperatingUnitID:           line.OperatingUnitID,
			CounterpartyLegalEntityID: line.CounterpartyLegalEntityID,
			Description:               line.Description,
			SubledgerRef:              line.SubledgerRef,
			CurrencyCode:              line.CurrencyCode,
			Amount:                    shared.Round6(-line.Amount),
			DebitBase:                 line.CreditBase,
			CreditBase:                line.DebitBase,
		})
	}
	originalID := original.ID
	return JournalEntry{
		TenantID:        original.TenantID,
		LegalEntityID:   original.LegalEntityID,
		BookID:          original.BookID,
		FiscalPeriodID:  periodID,
		SourceType:      original.SourceType,
		Status:          StatusDraft,
		EntryDate:       original.EntryDate,
		DocumentDate:    original.DocumentDate,
		CurrencyCode:    original.CurrencyCode,
		Description:     fmt.Sprintf("Reversal of %d", original.JournalNo),
		ReferenceNo:     original.ReferenceNo,
		TotalDebitBase:  original.TotalCreditBase,
		TotalCreditBase: original.TotalDebitBase,
		CreatedBy:       actorID,
		ReversalOfID:    &originalID,
		Lines:           flipped,
	}
}

func documentDate(doc, entry time.Time) time.Time {
	if doc.IsZero() {
		return entry
	}
	return doc
}
