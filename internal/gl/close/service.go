package close

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// AuditPort emits one event per close/reopen to the external audit sink.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts run outcomes; nil disables counting.
type MetricsPort interface {
	CloseRunCompleted(idempotent bool)
	CloseRunFailed()
	PeriodReopened()
}

// Service is the period-close orchestrator.
type Service struct {
	repo    Repository
	audit   AuditPort
	access  shared.AccessDecider
	lock    *shared.CloseLock
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service. The lock may be nil when no redis is
// configured; the run-row lock alone still guarantees correctness.
func NewService(repo Repository, audit AuditPort, access shared.AccessDecider, lock *shared.CloseLock, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		audit:  audit,
		access: access,
		lock:   lock,
		logger: logger,
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

// CloseInput parameterises one close run.
type CloseInput struct {
	Scope          shared.ScopeContext
	BookID         int64
	FiscalPeriodID int64
	// CloseStatus is the target period status, SOFT_CLOSED or HARD_CLOSED.
	CloseStatus               periodstatus.Status
	RetainedEarningsAccountID *int64
	Note                      string
}

// CloseResult reports the run and whether it was an idempotent replay.
type CloseResult struct {
	Run        CloseRun
	Idempotent bool
}

// ReopenInput parameterises a reopen.
type ReopenInput struct {
	Scope          shared.ScopeContext
	BookID         int64
	FiscalPeriodID int64
	Reason         string
}

// ReopenResult reports the reopened run and the reversal journals created.
type ReopenResult struct {
	Run                CloseRun
	ReversalJournalIDs []int64
}

// GetRun loads one run with its per-account lines.
func (s *Service) GetRun(ctx context.Context, scope shared.ScopeContext, runID int64) (CloseRun, []RunLine, error) {
	run, err := s.repo.GetRun(ctx, scope.TenantID, runID)
	if err != nil {
		return CloseRun{}, nil, err
	}
	book, err := s.repo.Book(ctx, scope.TenantID, run.BookID)
	if err != nil {
		return CloseRun{}, nil, err
	}
	if err := s.access.EnsureLegalEntity(ctx, scope, book.LegalEntityID); err != nil {
		return CloseRun{}, nil, err
	}
	lines, err := s.repo.GetRunLines(ctx, runID)
	if err != nil {
		return CloseRun{}, nil, err
	}
	return run, lines, nil
}

// Close executes one close run: fingerprint hashing, idempotent replay,
// balance aggregation, year-end P&L zeroing, carry-forward and the period
// status transition.
func (s *Service) Close(ctx context.Context, in CloseInput) (CloseResult, error) {
	if in.CloseStatus != periodstatus.StatusSoftClosed && in.CloseStatus != periodstatus.StatusHardClosed {
		return CloseResult{}, ErrInvalidCloseStatus
	}
	book, err := s.repo.Book(ctx, in.Scope.TenantID, in.BookID)
	if err != nil {
		return CloseResult{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, book.LegalEntityID); err != nil {
		return CloseResult{}, err
	}
	release, err := s.lock.Acquire(ctx, in.BookID, in.FiscalPeriodID)
	if err != nil {
		return CloseResult{}, err
	}
	defer release()

	var result CloseResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.PeriodStatus(ctx, in.BookID, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		if status == periodstatus.StatusHardClosed {
			return ErrPeriodHardClosed
		}
		period, err := tx.Period(ctx, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		next, err := tx.NextPeriod(ctx, period)
		if err != nil {
			return err
		}
		isYearEnd := next.FiscalYear != period.FiscalYear
		chart, err := tx.LoadChart(ctx, in.Scope.TenantID, book.LegalEntityID)
		if err != nil {
			return err
		}
		var retainedID int64
		if isYearEnd {
			if in.RetainedEarningsAccountID == nil {
				return ErrRetainedEarningsRequired
			}
			retainedID = *in.RetainedEarningsAccountID
			if err := validateRetainedEarnings(chart, retainedID, book.LegalEntityID); err != nil {
				return err
			}
		}

		fp, err := tx.SourceFingerprint(ctx, in.Scope.TenantID, in.BookID, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		hash := RunHash(HashParams{
			TenantID:                  in.Scope.TenantID,
			BookID:                    in.BookID,
			FiscalPeriodID:            in.FiscalPeriodID,
			NextPeriodID:              next.ID,
			CloseStatus:               in.CloseStatus,
			IsYearEnd:                 isYearEnd,
			RetainedEarningsAccountID: retainedID,
			Fingerprint:               fp,
		})
		existing, err := tx.FindRunByHashForUpdate(ctx, in.Scope.TenantID, hash)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == RunCompleted {
			// Idempotent replay: re-apply the status row if it drifted, touch
			// nothing else.
			if status != in.CloseStatus {
				if err := tx.UpsertPeriodStatus(ctx, periodstatus.Upsert{
					BookID:         in.BookID,
					FiscalPeriodID: in.FiscalPeriodID,
					Status:         in.CloseStatus,
					ActorID:        in.Scope.ActorID,
					Note:           in.Note,
				}); err != nil {
					return err
				}
			}
			result = CloseResult{Run: *existing, Idempotent: true}
			return nil
		}

		run := existing
		if run == nil {
			run = &CloseRun{
				TenantID:       in.Scope.TenantID,
				BookID:         in.BookID,
				FiscalPeriodID: in.FiscalPeriodID,
				NextPeriodID:   next.ID,
				Hash:           hash,
				Status:         RunInProgress,
				CloseStatus:    in.CloseStatus,
				IsYearEnd:      isYearEnd,
				Note:           in.Note,
				CreatedBy:      in.Scope.ActorID,
			}
			if isYearEnd {
				run.RetainedEarningsAccountID = &retainedID
			}
			if err := tx.InsertRun(ctx, run); err != nil {
				return err
			}
		} else {
			// Resuming a FAILED or REOPENED run under the same hash: restart
			// in place and drop stale lines.
			run.Status = RunInProgress
			run.CloseStatus = in.CloseStatus
			run.CarryForwardJournalID = nil
			run.YearEndJournalID = nil
			if err := tx.UpdateRun(ctx, run); err != nil {
				return err
			}
			if err := tx.DeleteRunLines(ctx, run.ID); err != nil {
				return err
			}
		}

		balances, err := tx.AccountBalances(ctx, in.Scope.TenantID, in.BookID, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		plan, err := buildClosePlan(chart, balances, isYearEnd, retainedID)
		if err != nil {
			return err
		}

		now := s.now()
		ref := RunReference(run.ID)
		if len(plan.yearEnd) > 0 {
			entry, err := tx.CreateSystemJournal(ctx, journal.SystemInput{
				TenantID:       in.Scope.TenantID,
				LegalEntityID:  book.LegalEntityID,
				BookID:         in.BookID,
				FiscalPeriodID: in.FiscalPeriodID,
				SourceType:     journal.SourceSystem,
				Status:         journal.StatusPosted,
				EntryDate:      period.EndDate,
				CurrencyCode:   book.CurrencyCode,
				Description:    fmt.Sprintf("Year-end closing %s", period.Name),
				ReferenceNo:    ref,
				ActorID:        in.Scope.ActorID,
				Lines:          toLineInputs(plan.yearEnd),
			}, now)
			if err != nil {
				return err
			}
			run.YearEndJournalID = &entry.ID
		}
		if len(plan.carryForward) > 0 {
			entry, err := tx.CreateSystemJournal(ctx, journal.SystemInput{
				TenantID:       in.Scope.TenantID,
				LegalEntityID:  book.LegalEntityID,
				BookID:         in.BookID,
				FiscalPeriodID: next.ID,
				SourceType:     journal.SourceSystem,
				Status:         journal.StatusPosted,
				EntryDate:      next.StartDate,
				CurrencyCode:   book.CurrencyCode,
				Description:    fmt.Sprintf("Opening balances %s", next.Name),
				ReferenceNo:    ref,
				ActorID:        in.Scope.ActorID,
				Lines:          toLineInputs(plan.carryForward),
			}, now)
			if err != nil {
				return err
			}
			run.CarryForwardJournalID = &entry.ID
		}

		if err := tx.InsertRunLines(ctx, run.ID, plan.runLines()); err != nil {
			return err
		}
		if err := tx.UpsertPeriodStatus(ctx, periodstatus.Upsert{
			BookID:         in.BookID,
			FiscalPeriodID: in.FiscalPeriodID,
			Status:         in.CloseStatus,
			ActorID:        in.Scope.ActorID,
			Note:           in.Note,
		}); err != nil {
			return err
		}
		run.Status = RunCompleted
		if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}
		result = CloseResult{Run: *run}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.CloseRunFailed()
		}
		return CloseResult{}, err
	}

	s.record(ctx, in.Scope, "period.close", result.Run.ID, map[string]any{
		"book_id":          in.BookID,
		"fiscal_period_id": in.FiscalPeriodID,
		"close_status":     string(in.CloseStatus),
		"is_year_end":      result.Run.IsYearEnd,
		"idempotent":       result.Idempotent,
		"carry_forward_id": result.Run.CarryForwardJournalID,
		"year_end_id":      result.Run.YearEndJournalID,
	})
	if s.metrics != nil {
		s.metrics.CloseRunCompleted(result.Idempotent)
	}
	return result, nil
}

// Reopen reverses the last COMPLETED run's journals and resets the period to
// OPEN. It is the single exit from HARD_CLOSED.
func (s *Service) Reopen(ctx context.Context, in ReopenInput) (ReopenResult, error) {
	if in.Reason == "" {
		return ReopenResult{}, ErrReasonRequired
	}
	book, err := s.repo.Book(ctx, in.Scope.TenantID, in.BookID)
	if err != nil {
		return ReopenResult{}, err
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, book.LegalEntityID); err != nil {
		return ReopenResult{}, err
	}
	release, err := s.lock.Acquire(ctx, in.BookID, in.FiscalPeriodID)
	if err != nil {
		return ReopenResult{}, err
	}
	defer release()

	var result ReopenResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		run, err := tx.LatestCompletedRunForUpdate(ctx, in.Scope.TenantID, in.BookID, in.FiscalPeriodID)
		if err != nil {
			return err
		}
		if run == nil {
			return ErrNoCompletedRun
		}
		now := s.now()
		var reversalIDs []int64
		for _, journalID := range []*int64{run.CarryForwardJournalID, run.YearEndJournalID} {
			if journalID == nil {
				continue
			}
			reversal, err := tx.ReverseJournal(ctx, in.Scope.TenantID, *journalID, in.Reason, in.Scope.ActorID, now)
			if err != nil {
				return err
			}
			reversalIDs = append(reversalIDs, reversal.ID)
		}
		run.Status = RunReopened
		if run.Meta == nil {
			run.Meta = make(map[string]any)
		}
		run.Meta["reopen_reason"] = in.Reason
		run.Meta["reversal_journal_ids"] = reversalIDs
		if err := tx.UpdateRun(ctx, run); err != nil {
			return err
		}
		if err := tx.UpsertPeriodStatus(ctx, periodstatus.Upsert{
			BookID:         in.BookID,
			FiscalPeriodID: in.FiscalPeriodID,
			Status:         periodstatus.StatusOpen,
			ActorID:        in.Scope.ActorID,
			Note:           in.Reason,
		}); err != nil {
			return err
		}
		result = ReopenResult{Run: *run, ReversalJournalIDs: reversalIDs}
		return nil
	})
	if err != nil {
		return ReopenResult{}, err
	}

	s.record(ctx, in.Scope, "period.reopen", result.Run.ID, map[string]any{
		"book_id":              in.BookID,
		"fiscal_period_id":     in.FiscalPeriodID,
		"reason":               in.Reason,
		"reversal_journal_ids": result.ReversalJournalIDs,
	})
	if s.metrics != nil {
		s.metrics.PeriodReopened()
	}
	return result, nil
}

// closePlan is the computed line set of one run. summary holds ancestor
// rollup rows that are reported on the run but never posted.
type closePlan struct {
	carryForward []planLine
	yearEnd      []planLine
	summary      []planLine
}

type planLine struct {
	accountID int64
	balance   float64
	debit     float64
	credit    float64
}

// buildClosePlan turns per-account net balances into year-end closing lines
// and carry-forward opening lines. Account types resolve through the parent
// hierarchy; mid-year closes carry every account forward, year-end closes
// zero P&L accounts into retained earnings first. Closing balances also roll
// up to ancestor accounts, reported as summary rows on the run.
func buildClosePlan(chart *accounts.Chart, balances map[int64]float64, isYearEnd bool, retainedID int64) (closePlan, error) {
	ids := make([]int64, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var plan closePlan
	adjusted := make(map[int64]float64, len(balances))
	var plNet float64
	for _, id := range ids {
		balance := shared.Round6(balances[id])
		if shared.IsZero(balance) {
			continue
		}
		accType, err := chart.ResolveType(id)
		if err != nil {
			return closePlan{}, err
		}
		if isYearEnd && accType.IsProfitAndLoss() {
			// Zero the account: a debit balance is credited away and vice
			// versa.
			line := planLine{accountID: id, balance: balance}
			if balance > 0 {
				line.credit = balance
			} else {
				line.debit = -balance
			}
			plan.yearEnd = append(plan.yearEnd, line)
			plNet += balance
			continue
		}
		adjusted[id] = balance
	}
	if isYearEnd && len(plan.yearEnd) > 0 {
		// The P&L net lands on retained earnings, forcing the year-end
		// journal to balance. A net loss (debit-positive) debits retained
		// earnings; a net profit credits it.
		residual := shared.Round6(plNet)
		if !shared.IsZero(residual) {
			line := planLine{accountID: retainedID, balance: residual}
			if residual > 0 {
				line.debit = residual
			} else {
				line.credit = -residual
			}
			plan.yearEnd = append(plan.yearEnd, line)
			adjusted[retainedID] = shared.Round6(adjusted[retainedID] + residual)
		}
	}
	// Carry-forward opens the next period with the closing balances,
	// skipping zero rows.
	cfIDs := make([]int64, 0, len(adjusted))
	for id := range adjusted {
		cfIDs = append(cfIDs, id)
	}
	sort.Slice(cfIDs, func(i, j int) bool { return cfIDs[i] < cfIDs[j] })
	for _, id := range cfIDs {
		balance := shared.Round6(adjusted[id])
		if shared.IsZero(balance) {
			continue
		}
		line := planLine{accountID: id, balance: balance}
		if balance > 0 {
			line.debit = balance
		} else {
			line.credit = -balance
		}
		plan.carryForward = append(plan.carryForward, line)
	}
	// Ancestor totals of the closing balances. Accounts already reported
	// directly are skipped.
	rolled := chart.Rollup(adjusted)
	summaryIDs := make([]int64, 0, len(rolled))
	for id := range rolled {
		if _, direct := adjusted[id]; direct {
			continue
		}
		summaryIDs = append(summaryIDs, id)
	}
	sort.Slice(summaryIDs, func(i, j int) bool { return summaryIDs[i] < summaryIDs[j] })
	for _, id := range summaryIDs {
		balance := shared.Round6(rolled[id])
		if shared.IsZero(balance) {
			continue
		}
		plan.summary = append(plan.summary, planLine{accountID: id, balance: balance})
	}
	return plan, nil
}

func (p closePlan) runLines() []RunLine {
	lines := make([]RunLine, 0, len(p.carryForward)+len(p.yearEnd)+len(p.summary))
	for _, line := range p.yearEnd {
		lines = append(lines, RunLine{
			AccountID:      line.accountID,
			Type:           LineYearEnd,
			ClosingBalance: line.balance,
			DebitBase:      line.debit,
			CreditBase:     line.credit,
		})
	}
	for _, line := range p.carryForward {
		lines = append(lines, RunLine{
			AccountID:      line.accountID,
			Type:           LineCarryForward,
			ClosingBalance: line.balance,
			DebitBase:      line.debit,
			CreditBase:     line.credit,
		})
	}
	for _, line := range p.summary {
		lines = append(lines, RunLine{
			AccountID:      line.accountID,
			Type:           LineRollup,
			ClosingBalance: line.balance,
		})
	}
	return lines
}

func toLineInputs(lines []planLine) []journal.LineInput {
	out := make([]journal.LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, journal.LineInput{
			AccountID:  line.accountID,
			DebitBase:  line.debit,
			CreditBase: line.credit,
		})
	}
	return out
}

// validateRetainedEarnings requires an active, postable, leaf EQUITY account
// in the book's legal entity.
func validateRetainedEarnings(chart *accounts.Chart, id, legalEntityID int64) error {
	if _, err := chart.EnsurePostable(id, legalEntityID); err != nil {
		return fmt.Errorf("%w: %v", ErrRetainedEarningsInvalid, err)
	}
	accType, err := chart.ResolveType(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetainedEarningsInvalid, err)
	}
	if accType != accounts.TypeEquity {
		return fmt.Errorf("%w: account %d is %s", ErrRetainedEarningsInvalid, id, accType)
	}
	return nil
}

func (s *Service) record(ctx context.Context, scope shared.ScopeContext, action string, runID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: scope.TenantID,
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "period_close_run",
		EntityID: strconv.FormatInt(runID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
