package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// distinctCounterparties returns the counterparty legal entities named on
// the lines, sorted for deterministic mirror ordering.
func distinctCounterparties(lines []LineInput) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, line := range lines {
		if line.CounterpartyLegalEntityID == nil {
			continue
		}
		id := *line.CounterpartyLegalEntityID
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// enforceIntercompanyPolicy validates that the posting entity and every
// invoked counterparty are configured for intercompany activity.
func (s *Service) enforceIntercompanyPolicy(ctx context.Context, tx TxRepository, in CreateInput, counterparties []int64) error {
	profile, err := tx.IntercompanyProfile(ctx, in.Scope.TenantID, in.LegalEntityID)
	if err != nil {
		return err
	}
	if !profile.Enabled {
		return fmt.Errorf("%w: entity %d", ErrIntercompanyDisabled, in.LegalEntityID)
	}
	for _, cp := range counterparties {
		ok, err := tx.ActivePairExists(ctx, in.Scope.TenantID, in.LegalEntityID, cp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entities %d and %d", ErrNoActivePair, in.LegalEntityID, cp)
		}
	}
	return nil
}

// mirrorEntry synthesizes the counterparty-side draft for one counterparty:
// debit/credit swapped, accounts resolved by code in the counterparty's
// chart with the configured receivable/payable accounts as fallback, posted
// into the counterparty's own book and linked back via the
// intercompany-source field.
func (s *Service) mirrorEntry(ctx context.Context, tx TxRepository, source JournalEntry, chart *accounts.Chart, counterpartyID int64) (JournalEntry, error) {
	profile, err := tx.IntercompanyProfile(ctx, source.TenantID, counterpartyID)
	if err != nil {
		return JournalEntry{}, err
	}
	if !profile.Enabled {
		return JournalEntry{}, fmt.Errorf("%w: counterparty %d", ErrIntercompanyDisabled, counterpartyID)
	}
	if profile.BookID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: counterparty %d has no mirror book", shared.ErrSetupRequired, counterpartyID)
	}
	status, err := tx.PeriodStatus(ctx, profile.BookID, source.FiscalPeriodID)
	if err != nil {
		return JournalEntry{}, err
	}
	if status != periodstatus.StatusOpen {
		return JournalEntry{}, periodstatus.NotOpenError("journal.mirror", profile.BookID, source.FiscalPeriodID, status)
	}

	sourceID := source.ID
	originID := source.LegalEntityID
	mirrorLines := make([]JournalLine, 0, len(source.Lines))
	for idx, line := range source.Lines {
		if line.CounterpartyLegalEntityID == nil || *line.CounterpartyLegalEntityID != counterpartyID {
			continue
		}
		debit := line.CreditBase
		credit := line.DebitBase
		accountID, err := s.resolveMirrorAccount(ctx, tx, source.TenantID, chart, profile, line, debit > 0)
		if err != nil {
			return JournalEntry{}, err
		}
		mirrorLines = append(mirrorLines, JournalLine{
			LineNo:                    int32(idx + 1),
			AccountID:                 accountID,
			Description:               line.Description,
			CounterpartyLegalEntityID: &originID,
			CurrencyCode:              line.CurrencyCode,
			Amount:                    shared.Round6(-line.Amount),
			DebitBase:                 debit,
			CreditBase:                credit,
		})
	}
	// The counterparty's slice of the source need not balance on its own;
	// square it against the receivable/payable account.
	var debit, credit float64
	for _, line := range mirrorLines {
		debit += line.DebitBase
		credit += line.CreditBase
	}
	if diff := shared.Round6(debit - credit); !shared.IsZero(diff) {
		balancing := JournalLine{
			Description:               "Intercompany balancing",
			CounterpartyLegalEntityID: &originID,
			CurrencyCode:              source.CurrencyCode,
		}
		if diff > 0 {
			balancing.AccountID = profile.PayableAccountID
			balancing.CreditBase = diff
			balancing.Amount = -diff
		} else {
			balancing.AccountID = profile.ReceivableAccountID
			balancing.DebitBase = -diff
			balancing.Amount = -diff
		}
		if balancing.AccountID == 0 {
			return JournalEntry{}, fmt.Errorf("%w: counterparty %d missing receivable/payable accounts", shared.ErrSetupRequired, counterpartyID)
		}
		mirrorLines = append(mirrorLines, balancing)
	}
	for i := range mirrorLines {
		mirrorLines[i].LineNo = int32(i + 1)
	}
	debit, credit = 0, 0
	for _, line := range mirrorLines {
		debit += line.DebitBase
		credit += line.CreditBase
	}

	mirror := JournalEntry{
		TenantID:             source.TenantID,
		LegalEntityID:        counterpartyID,
		BookID:               profile.BookID,
		FiscalPeriodID:       source.FiscalPeriodID,
		SourceType:           SourceIntercompany,
		Status:               StatusDraft,
		EntryDate:            source.EntryDate,
		DocumentDate:         source.DocumentDate,
		CurrencyCode:         source.CurrencyCode,
		Description:          fmt.Sprintf("Intercompany mirror of %d", source.JournalNo),
		ReferenceNo:          source.ReferenceNo,
		TotalDebitBase:       shared.Round6(debit),
		TotalCreditBase:      shared.Round6(credit),
		CreatedBy:            source.CreatedBy,
		IntercompanySourceID: &sourceID,
		Lines:                mirrorLines,
	}
	if err := tx.InsertEntry(ctx, &mirror); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.InsertLines(ctx, mirror.ID, mirror.Lines); err != nil {
		return JournalEntry{}, err
	}
	return mirror, nil
}

// resolveMirrorAccount maps a source line's account into the counterparty's
// chart by code, falling back to the configured receivable (debit side) or
// payable (credit side) account.
func (s *Service) resolveMirrorAccount(ctx context.Context, tx TxRepository, tenantID int64, chart *accounts.Chart, profile ICProfile, line JournalLine, isDebit bool) (int64, error) {
	src, err := chart.Get(line.AccountID)
	if err != nil {
		return 0, err
	}
	match, err := tx.AccountByCode(ctx, tenantID, profile.LegalEntityID, src.Code)
	if err == nil && match.IsActive && match.IsPostable && match.IsLeaf {
		return match.ID, nil
	}
	if err != nil && !errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, err
	}
	fallback := profile.PayableAccountID
	if isDebit {
		fallback = profile.ReceivableAccountID
	}
	if fallback == 0 {
		return 0, fmt.Errorf("%w: no mirror account for code %s", shared.ErrSetupRequired, src.Code)
	}
	return fallback, nil
}
