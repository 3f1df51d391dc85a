package journal

import (
	"context"
	"log/slog"

	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// applyShareholderCommitments runs after a successful DRAFT -> POSTED
// transition. Credit lines hitting a shareholder's configured capital
// sub-account increment that shareholder's committed capital. The audit row
// is unique per (journal, shareholder), so a retried post increments at most
// once; shareholder rows are locked before reading to avoid lost updates
// when journals post concurrently against the same shareholders.
func (s *Service) applyShareholderCommitments(ctx context.Context, tx TxRepository, entry JournalEntry, lines []JournalLine) error {
	holders, err := tx.LockShareholders(ctx, entry.TenantID, entry.LegalEntityID)
	if err != nil {
		return err
	}
	if len(holders) == 0 {
		return nil
	}
	byAccount := make(map[int64]*Shareholder, len(holders))
	for i := range holders {
		byAccount[holders[i].CapitalAccountID] = &holders[i]
	}
	committed := make(map[int64]float64)
	for _, line := range lines {
		holder, ok := byAccount[line.AccountID]
		if !ok || line.CreditBase <= 0 {
			continue
		}
		committed[holder.ID] += line.CreditBase
	}
	for holderID, amount := range committed {
		inserted, err := tx.InsertCommitmentAudit(ctx, entry.ID, holderID)
		if err != nil {
			return err
		}
		if !inserted {
			// Already applied by an earlier attempt of this journal.
			continue
		}
		if err := tx.AddCommittedCapital(ctx, holderID, shared.Round6(amount)); err != nil {
			return err
		}
		if s.logger != nil {
			s.logger.Info("shareholder commitment recorded",
				slog.Int64("journal_id", entry.ID),
				slog.Int64("shareholder_id", holderID),
				slog.Float64("amount", amount))
		}
	}
	return nil
}
