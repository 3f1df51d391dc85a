package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// AuditPort emits one event per state-changing operation to the external
// audit sink.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodGuard gates mutations on period status before the transaction
// opens; the same check re-runs inside it.
type PeriodGuard interface {
	EnsureOpen(ctx context.Context, bookID, periodID int64, action string) error
}

// MetricsPort counts GL activity; a nil port disables counting.
type MetricsPort interface {
	JournalPosted()
	JournalReversed()
}

// Config carries process-level posting policy.
type Config struct {
	CashControl CashControlMode
}

// Service is the posting engine. Every journal write in the system funnels
// through it (or its tx-level primitives) so the balance invariants are
// enforced exactly once.
type Service struct {
	repo    Repository
	audit   AuditPort
	guard   PeriodGuard
	access  shared.AccessDecider
	metrics MetricsPort
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditPort, guard PeriodGuard, access shared.AccessDecider, logger *slog.Logger, cfg Config) *Service {
	if !cfg.CashControl.Valid() {
		cfg.CashControl = CashControlOff
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		guard:  guard,
		access: access,
		logger: logger,
		cfg:    cfg,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithMetrics attaches a metrics port.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns journals filtered to the caller's allowed legal entities.
func (s *Service) List(ctx context.Context, scope shared.ScopeContext, filter ListFilter) ([]JournalEntry, error) {
	allowed, err := s.access.AllowedLegalEntities(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	filter.LegalEntityIDs = allowed
	return s.repo.List(ctx, scope.TenantID, filter)
}

// Get loads one journal with lines, subject to scope.
func (s *Service) Get(ctx context.Context, scope shared.ScopeContext, id int64) (JournalEntry, error) {
	entry, err := s.repo.GetWithLines(ctx, scope.TenantID, id)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, scope, entry.LegalEntityID); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// CreateDraft validates and persists a DRAFT journal, synthesizing
// intercompany mirrors when requested.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput) (CreateResult, error) {
	if err := in.Validate(); err != nil {
		return CreateResult{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, in.LegalEntityID); err != nil {
		return CreateResult{}, err
	}
	if err := s.guard.EnsureOpen(ctx, in.BookID, in.FiscalPeriodID, "journal.create"); err != nil {
		return CreateResult{}, err
	}

	var result CreateResult
	var cashDecisions []map[string]any
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Re-check inside the transaction: a concurrent close may have
		// flipped the period between validation and here.
		status, err := tx.PeriodStatus(ctx, in.BookID, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		if status != periodstatus.StatusOpen {
			return periodstatus.NotOpenError("journal.create", in.BookID, in.FiscalPeriodID, status)
		}
		book, err := tx.Book(ctx, in.Scope.TenantID, in.BookID)
		if err != nil {
			return err
		}
		if book.LegalEntityID != in.LegalEntityID {
			return ErrBookEntityMismatch
		}
		chart, err := tx.LoadChart(ctx, in.Scope.TenantID, in.LegalEntityID)
		if err != nil {
			return err
		}
		lineAccounts := make([]accounts.Account, len(in.Lines))
		for idx, li := range in.Lines {
			acct, err := chart.EnsurePostable(li.AccountID, in.LegalEntityID)
			if err != nil {
				return fmt.Errorf("line %d: %w", idx+1, err)
			}
			lineAccounts[idx] = acct
		}
		if err := s.checkSubledgerRefs(ctx, tx, in); err != nil {
			return err
		}
		cashDecisions, err = s.checkCashControl(ctx, tx, in, lineAccounts)
		if err != nil {
			return err
		}
		counterparties := distinctCounterparties(in.Lines)
		if in.SourceType.policy().intercompany && len(counterparties) > 0 {
			if err := s.enforceIntercompanyPolicy(ctx, tx, in, counterparties); err != nil {
				return err
			}
		}

		lines, totalDebit, totalCredit := buildLines(in.Lines, in.CurrencyCode)
		entry := JournalEntry{
			TenantID:        in.Scope.TenantID,
			LegalEntityID:   in.LegalEntityID,
			BookID:          in.BookID,
			FiscalPeriodID:  in.FiscalPeriodID,
			SourceType:      in.SourceType,
			Status:          StatusDraft,
			EntryDate:       in.EntryDate,
			DocumentDate:    documentDate(in.DocumentDate, in.EntryDate),
			CurrencyCode:    in.CurrencyCode,
			Description:     in.Description,
			ReferenceNo:     in.ReferenceNo,
			TotalDebitBase:  totalDebit,
			TotalCreditBase: totalCredit,
			CreatedBy:       in.Scope.ActorID,
		}
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, entry.ID, lines); err != nil {
			return err
		}
		entry.Lines = lines
		result.Entry = entry

		if in.AutoMirror {
			for _, cp := range counterparties {
				mirror, err := s.mirrorEntry(ctx, tx, entry, chart, cp)
				if err != nil {
					return err
				}
				result.Mirrors = append(result.Mirrors, mirror)
			}
		}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	s.record(ctx, in.Scope, "journal.create", result.Entry.ID, map[string]any{
		"journal_no":     result.Entry.JournalNo,
		"source_type":    string(in.SourceType),
		"mirrors":        mirrorIDs(result.Mirrors),
		"cash_decisions": cashDecisions,
	})
	return result, nil
}

// Post transitions a DRAFT to POSTED. Posting an already-POSTED journal is
// a no-op returning the current row; a concurrent double post resolves the
// same way through the conditional update. Cluster mode posts the source
// plus every mirror sharing its intercompany-source id atomically, each
// period re-validated as open.
func (s *Service) Post(ctx context.Context, in PostInput) (JournalEntry, error) {
	if in.JournalID == 0 {
		return JournalEntry{}, fmt.Errorf("gl: journal id required")
	}
	pre, err := s.repo.GetWithLines(ctx, in.Scope.TenantID, in.JournalID)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, pre.LegalEntityID); err != nil {
		return JournalEntry{}, err
	}
	if err := s.guard.EnsureOpen(ctx, pre.BookID, pre.FiscalPeriodID, "journal.post"); err != nil {
		return JournalEntry{}, err
	}

	var result JournalEntry
	var posted []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, in.Scope.TenantID, in.JournalID)
		if err != nil {
			return err
		}
		cluster := []JournalEntry{entry}
		if in.Cluster {
			mirrors, err := tx.Mirrors(ctx, in.Scope.TenantID, entry.ID)
			if err != nil {
				return err
			}
			cluster = append(cluster, mirrors...)
		}
		for _, member := range cluster {
			// The caller posts the primary; mirrors post under the actor
			// recorded at creation.
			poster := in.Scope.ActorID
			if member.ID != entry.ID {
				poster = member.CreatedBy
			}
			final, didPost, err := s.postOne(ctx, tx, member, poster)
			if err != nil {
				return err
			}
			if didPost {
				posted = append(posted, member.ID)
			}
			if member.ID == entry.ID {
				result = final
			}
		}
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}

	if len(posted) > 0 {
		s.record(ctx, in.Scope, "journal.post", in.JournalID, map[string]any{
			"posted_ids": posted,
			"cluster":    in.Cluster,
		})
		if s.metrics != nil {
			for range posted {
				s.metrics.JournalPosted()
			}
		}
	}
	return result, nil
}

// postOne posts a single cluster member. The bool result reports whether
// this call performed the transition; false with a nil error means the
// journal was already posted and the caller must treat it as such.
func (s *Service) postOne(ctx context.Context, tx TxRepository, entry JournalEntry, poster int64) (JournalEntry, bool, error) {
	if entry.Status == StatusPosted {
		return entry, false, nil
	}
	if entry.Status != StatusDraft {
		return JournalEntry{}, false, fmt.Errorf("%w: journal %d is %s", ErrInvalidStatus, entry.ID, entry.Status)
	}
	status, err := tx.PeriodStatus(ctx, entry.BookID, entry.FiscalPeriodID)
	if err != nil {
		return JournalEntry{}, false, err
	}
	if status != periodstatus.StatusOpen {
		return JournalEntry{}, false, periodstatus.NotOpenError("journal.post", entry.BookID, entry.FiscalPeriodID, status)
	}
	now := s.now()
	ok, err := tx.MarkPosted(ctx, entry.ID, poster, now)
	if err != nil {
		return JournalEntry{}, false, err
	}
	if !ok {
		// Lost the race; the row is already POSTED.
		current, err := tx.GetEntryForUpdate(ctx, entry.TenantID, entry.ID)
		if err != nil {
			return JournalEntry{}, false, err
		}
		return current, false, nil
	}
	entry.Status = StatusPosted
	entry.PostedBy = &poster
	entry.PostedAt = &now

	lines, err := tx.GetLines(ctx, entry.ID)
	if err != nil {
		return JournalEntry{}, false, err
	}
	// Posting a reversal draft finalizes the original's REVERSED state.
	if entry.ReversalOfID != nil {
		ok, err := tx.MarkReversed(ctx, *entry.ReversalOfID, entry.ID, poster, now)
		if err != nil {
			return JournalEntry{}, false, err
		}
		if !ok {
			return JournalEntry{}, false, ErrAlreadyReversed
		}
	}
	if err := s.applyShareholderCommitments(ctx, tx, entry, lines); err != nil {
		return JournalEntry{}, false, err
	}
	entry.Lines = lines
	return entry, true, nil
}

// Reverse creates the sign-flipped counterpart of a POSTED journal. With
// AutoPost the reversal posts and the original flips to REVERSED in the
// same transaction; otherwise the reversal stays DRAFT and the original
// remains POSTED until that draft is posted.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (ReverseResult, error) {
	if err := in.Validate(); err != nil {
		return ReverseResult{}, err
	}
	pre, err := s.repo.GetWithLines(ctx, in.Scope.TenantID, in.JournalID)
	if err != nil {
		return ReverseResult{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, pre.LegalEntityID); err != nil {
		return ReverseResult{}, err
	}
	targetPeriod := pre.FiscalPeriodID
	if in.ReversalPeriodID != nil {
		targetPeriod = *in.ReversalPeriodID
	}
	if err := s.guard.EnsureOpen(ctx, pre.BookID, targetPeriod, "journal.reverse"); err != nil {
		return ReverseResult{}, err
	}

	var result ReverseResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, in.Scope.TenantID, in.JournalID)
		if err != nil {
			return err
		}
		if original.IsReversed() {
			return ErrAlreadyReversed
		}
		if original.Status != StatusPosted {
			return fmt.Errorf("%w: journal %d is %s", ErrInvalidStatus, original.ID, original.Status)
		}
		// The reversal link can lag the reversal row after a partial
		// historic failure; an existing reversal journal blocks a second
		// one either way.
		existing, err := tx.FindReversalOf(ctx, in.Scope.TenantID, original.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyReversed
		}
		status, err := tx.PeriodStatus(ctx, original.BookID, targetPeriod)
		if err != nil {
			return err
		}
		if status != periodstatus.StatusOpen {
			return periodstatus.NotOpenError("journal.reverse", original.BookID, targetPeriod, status)
		}
		lines, err := tx.GetLines(ctx, original.ID)
		if err != nil {
			return err
		}
		reversal := buildReversal(original, lines, targetPeriod, in.Scope.ActorID)
		if err := tx.InsertEntry(ctx, &reversal); err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, reversal.ID, reversal.Lines); err != nil {
			return err
		}
		if in.AutoPost {
			now := s.now()
			ok, err := tx.MarkPosted(ctx, reversal.ID, in.Scope.ActorID, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: reversal %d", ErrInvalidStatus, reversal.ID)
			}
			reversal.Status = StatusPosted
			reversal.PostedBy = &in.Scope.ActorID
			reversal.PostedAt = &now
			ok, err = tx.MarkReversed(ctx, original.ID, reversal.ID, in.Scope.ActorID, now)
			if err != nil {
				return err
			}
			if !ok {
				return ErrAlreadyReversed
			}
			original.Status = StatusReversed
			original.ReversalJournalID = &reversal.ID
			original.ReversedBy = &in.Scope.ActorID
			original.ReversedAt = &now
		}
		result = ReverseResult{Reversal: reversal, Original: original}
		return nil
	})
	if err != nil {
		return ReverseResult{}, err
	}

	s.record(ctx, in.Scope, "journal.reverse", in.JournalID, map[string]any{
		"reversal_id": result.Reversal.ID,
		"reason":      in.Reason,
		"auto_post":   in.AutoPost,
	})
	if s.metrics != nil && in.AutoPost {
		s.metrics.JournalReversed()
	}
	return result, nil
}

// checkSubledgerRefs enforces the operating-unit subledger policy.
func (s *Service) checkSubledgerRefs(ctx context.Context, tx TxRepository, in CreateInput) error {
	var unitIDs []int64
	seen := make(map[int64]bool)
	for _, line := range in.Lines {
		if line.OperatingUnitID != nil && !seen[*line.OperatingUnitID] {
			seen[*line.OperatingUnitID] = true
			unitIDs = append(unitIDs, *line.OperatingUnitID)
		}
	}
	if len(unitIDs) == 0 {
		return nil
	}
	units, err := tx.OperatingUnits(ctx, in.Scope.TenantID, unitIDs)
	if err != nil {
		return err
	}
	for idx, line := range in.Lines {
		if line.OperatingUnitID == nil {
			continue
		}
		unit, ok := units[*line.OperatingUnitID]
		if !ok {
			return fmt.Errorf("%w: operating unit %d", shared.ErrSetupRequired, *line.OperatingUnitID)
		}
		if unit.SubledgerRequired && line.SubledgerRef == "" {
			return fmt.Errorf("%w: line %d", ErrSubledgerRefRequired, idx+1)
		}
	}
	return nil
}

// checkCashControl applies the configured cash-control mode to lines
// hitting cash-controlled accounts. Decisions are returned for the audit
// event.
func (s *Service) checkCashControl(ctx context.Context, tx TxRepository, in CreateInput, lineAccounts []accounts.Account) ([]map[string]any, error) {
	if s.cfg.CashControl == CashControlOff || in.SourceType.policy().cashControlExempt {
		return nil, nil
	}
	var decisions []map[string]any
	overrideChecked := false
	overrideAllowed := false
	for idx, acct := range lineAccounts {
		if !acct.IsCashControlled {
			continue
		}
		decision := map[string]any{
			"line":       idx + 1,
			"account_id": acct.ID,
			"mode":       string(s.cfg.CashControl),
		}
		if s.cfg.CashControl == CashControlWarn {
			if s.logger != nil {
				s.logger.Warn("direct posting into cash-controlled account",
					slog.Int64("account_id", acct.ID),
					slog.Int("line", idx+1))
			}
			decisions = append(decisions, decision)
			continue
		}
		// ENFORCE
		if !overrideChecked {
			var err error
			overrideAllowed, err = s.access.HasCashControlOverride(ctx, in.Scope, in.LegalEntityID)
			if err != nil {
				return nil, err
			}
			overrideChecked = true
		}
		if !overrideAllowed {
			return nil, fmt.Errorf("%w: account %d", ErrCashControlBlocked, acct.ID)
		}
		if in.CashOverrideReason == "" {
			return nil, ErrOverrideReasonRequired
		}
		decision["override_reason"] = in.CashOverrideReason
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func (s *Service) record(ctx context.Context, scope shared.ScopeContext, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: scope.TenantID,
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func mirrorIDs(mirrors []JournalEntry) []int64 {
	out := make([]int64, 0, len(mirrors))
	for _, m := range mirrors {
		out = append(out, m.ID)
	}
	return out
}
