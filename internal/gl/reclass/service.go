package reclass

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

// AuditPort emits one event per run to the external audit sink.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PeriodGuard gates runs on period status before the transaction opens.
type PeriodGuard interface {
	EnsureOpen(ctx context.Context, bookID, periodID int64, action string) error
}

// MetricsPort counts completed runs; nil disables counting.
type MetricsPort interface {
	ReclassRunCompleted()
}

// Service is the reclassification engine. Both flows emit one DRAFT
// ADJUSTMENT journal through the posting engine and record a Run with its
// targets whether or not the draft is later posted.
type Service struct {
	repo    Repository
	audit   AuditPort
	guard   PeriodGuard
	access  shared.AccessDecider
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditPort, guard PeriodGuard, access shared.AccessDecider, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		audit:  audit,
		guard:  guard,
		access: access,
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

// BalanceSplitInput moves a whole posted balance off one account.
type BalanceSplitInput struct {
	Scope           shared.ScopeContext
	LegalEntityID   int64
	BookID          int64
	FiscalPeriodID  int64
	SourceAccountID int64
	Mode            AllocationMode
	Targets         []TargetInput
	EntryDate       time.Time
	Description     string
}

// LineTarget maps one selected journal line to its destination account.
type LineTarget struct {
	LineID          int64
	TargetAccountID int64
}

// LineReclassInput moves specific posted lines off one account.
type LineReclassInput struct {
	Scope           shared.ScopeContext
	LegalEntityID   int64
	BookID          int64
	FiscalPeriodID  int64
	SourceAccountID int64
	Lines           []LineTarget
	DateFrom        *time.Time
	DateTo          *time.Time
	EntryDate       time.Time
	Description     string
}

// Result pairs a run with its generated draft journal.
type Result struct {
	Run     Run
	Targets []RunTarget
	Journal journal.JournalEntry
}

// GetRun loads one run with its targets.
func (s *Service) GetRun(ctx context.Context, scope shared.ScopeContext, runID int64) (Run, []RunTarget, error) {
	run, err := s.repo.GetRun(ctx, scope.TenantID, runID)
	if err != nil {
		return Run{}, nil, err
	}
	if err := s.access.EnsureLegalEntity(ctx, scope, run.LegalEntityID); err != nil {
		return Run{}, nil, err
	}
	targets, err := s.repo.GetRunTargets(ctx, runID)
	if err != nil {
		return Run{}, nil, err
	}
	return run, targets, nil
}

// BalanceSplit reads the source account's posted net balance for the period
// and produces one draft journal moving it onto the targets.
func (s *Service) BalanceSplit(ctx context.Context, in BalanceSplitInput) (Result, error) {
	if len(in.Targets) == 0 {
		return Result{}, ErrNoTargets
	}
	if in.Mode != ModePercent && in.Mode != ModeAmount {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode)
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, in.LegalEntityID); err != nil {
		return Result{}, err
	}
	if err := s.guard.EnsureOpen(ctx, in.BookID, in.FiscalPeriodID, "reclass.balance_split"); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensureOpenTx(ctx, tx, in.BookID, in.FiscalPeriodID, "reclass.balance_split"); err != nil {
			return err
		}
		chart, err := tx.LoadChart(ctx, in.Scope.TenantID, in.LegalEntityID)
		if err != nil {
			return err
		}
		if _, err := chart.EnsurePostable(in.SourceAccountID, in.LegalEntityID); err != nil {
			return err
		}
		if err := ensureTargets(chart, in.LegalEntityID, in.Targets); err != nil {
			return err
		}
		balance, err := tx.AccountBalance(ctx, in.Scope.TenantID, in.BookID, in.FiscalPeriodID, in.SourceAccountID)
		if err != nil {
			return err
		}
		balance = shared.Round6(balance)
		if shared.IsZero(balance) {
			return ErrZeroSourceBalance
		}
		side := SideDebit
		if balance < 0 {
			side = SideCredit
		}
		total := shared.Round6(math.Abs(balance))
		applied, err := allocate(in.Mode, total, in.Targets)
		if err != nil {
			return err
		}

		// One line zeroing the source on the opposite side, one line per
		// target on the source's natural side.
		lines := make([]journal.LineInput, 0, len(in.Targets)+1)
		source := journal.LineInput{AccountID: in.SourceAccountID, Description: "Reclass source"}
		if side == SideDebit {
			source.CreditBase = total
		} else {
			source.DebitBase = total
		}
		lines = append(lines, source)
		for idx, target := range in.Targets {
			line := journal.LineInput{AccountID: target.AccountID, Description: "Reclass target"}
			if side == SideDebit {
				line.DebitBase = applied[idx]
			} else {
				line.CreditBase = applied[idx]
			}
			lines = append(lines, line)
		}
		entry, err := s.createDraft(ctx, tx, in.Scope, in.LegalEntityID, in.BookID, in.FiscalPeriodID,
			in.EntryDate, in.Description, lines)
		if err != nil {
			return err
		}

		run := &Run{
			TenantID:        in.Scope.TenantID,
			LegalEntityID:   in.LegalEntityID,
			BookID:          in.BookID,
			FiscalPeriodID:  in.FiscalPeriodID,
			Kind:            KindBalance,
			SourceAccountID: in.SourceAccountID,
			SourceBalance:   balance,
			SourceSide:      side,
			TotalAmount:     total,
			Mode:            in.Mode,
			JournalID:       entry.ID,
			CreatedBy:       in.Scope.ActorID,
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return err
		}
		targets := make([]RunTarget, 0, len(in.Targets))
		for idx, target := range in.Targets {
			targets = append(targets, RunTarget{
				RunID:           run.ID,
				TargetAccountID: target.AccountID,
				Percent:         target.Percent,
				Amount:          target.Amount,
				AppliedAmount:   applied[idx],
			})
		}
		if err := tx.InsertRunTargets(ctx, run.ID, targets); err != nil {
			return err
		}
		result = Result{Run: *run, Targets: targets, Journal: entry}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, in.Scope, "reclass.balance_split", result.Run.ID, map[string]any{
		"source_account_id": in.SourceAccountID,
		"mode":              string(in.Mode),
		"total_amount":      result.Run.TotalAmount,
		"journal_id":        result.Journal.ID,
	})
	if s.metrics != nil {
		s.metrics.ReclassRunCompleted()
	}
	return result, nil
}

// ReclassLines moves the selected posted lines off the source account onto
// their mapped targets in one draft journal.
func (s *Service) ReclassLines(ctx context.Context, in LineReclassInput) (Result, error) {
	if len(in.Lines) == 0 {
		return Result{}, ErrNoLinesSelected
	}
	if err := s.access.EnsureLegalEntity(ctx, in.Scope, in.LegalEntityID); err != nil {
		return Result{}, err
	}
	if err := s.guard.EnsureOpen(ctx, in.BookID, in.FiscalPeriodID, "reclass.lines"); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensureOpenTx(ctx, tx, in.BookID, in.FiscalPeriodID, "reclass.lines"); err != nil {
			return err
		}
		chart, err := tx.LoadChart(ctx, in.Scope.TenantID, in.LegalEntityID)
		if err != nil {
			return err
		}
		if _, err := chart.EnsurePostable(in.SourceAccountID, in.LegalEntityID); err != nil {
			return err
		}
		targetByLine := make(map[int64]int64, len(in.Lines))
		lineIDs := make([]int64, 0, len(in.Lines))
		for _, lt := range in.Lines {
			if _, err := chart.EnsurePostable(lt.TargetAccountID, in.LegalEntityID); err != nil {
				return err
			}
			targetByLine[lt.LineID] = lt.TargetAccountID
			lineIDs = append(lineIDs, lt.LineID)
		}
		selected, err := tx.SelectedLines(ctx, in.Scope.TenantID, lineIDs)
		if err != nil {
			return err
		}
		if len(selected) != len(lineIDs) {
			return fmt.Errorf("%w: %d of %d lines found", ErrLineNotEligible, len(selected), len(lineIDs))
		}

		var journalLines []journal.LineInput
		appliedByTarget := make(map[int64]float64)
		var total float64
		for _, line := range selected {
			if err := checkEligible(line, in); err != nil {
				return err
			}
			amount := line.DebitBase
			isDebit := amount > 0
			if !isDebit {
				amount = line.CreditBase
			}
			target := targetByLine[line.LineID]
			zero := journal.LineInput{AccountID: in.SourceAccountID,
				Description: fmt.Sprintf("Reclass of line %d", line.LineID)}
			move := journal.LineInput{AccountID: target,
				Description: fmt.Sprintf("Reclass of line %d", line.LineID)}
			if isDebit {
				zero.CreditBase = amount
				move.DebitBase = amount
				appliedByTarget[target] += amount
			} else {
				zero.DebitBase = amount
				move.CreditBase = amount
				appliedByTarget[target] -= amount
			}
			total += amount
			journalLines = append(journalLines, zero, move)
		}
		entry, err := s.createDraft(ctx, tx, in.Scope, in.LegalEntityID, in.BookID, in.FiscalPeriodID,
			in.EntryDate, in.Description, journalLines)
		if err != nil {
			return err
		}

		run := &Run{
			TenantID:        in.Scope.TenantID,
			LegalEntityID:   in.LegalEntityID,
			BookID:          in.BookID,
			FiscalPeriodID:  in.FiscalPeriodID,
			Kind:            KindLines,
			SourceAccountID: in.SourceAccountID,
			TotalAmount:     shared.Round6(total),
			Mode:            ModeAmount,
			JournalID:       entry.ID,
			CreatedBy:       in.Scope.ActorID,
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return err
		}
		targetIDs := make([]int64, 0, len(appliedByTarget))
		for id := range appliedByTarget {
			targetIDs = append(targetIDs, id)
		}
		sort.Slice(targetIDs, func(i, j int) bool { return targetIDs[i] < targetIDs[j] })
		targets := make([]RunTarget, 0, len(targetIDs))
		for _, id := range targetIDs {
			targets = append(targets, RunTarget{
				RunID:           run.ID,
				TargetAccountID: id,
				AppliedAmount:   shared.Round6(appliedByTarget[id]),
			})
		}
		if err := tx.InsertRunTargets(ctx, run.ID, targets); err != nil {
			return err
		}
		result = Result{Run: *run, Targets: targets, Journal: entry}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, in.Scope, "reclass.lines", result.Run.ID, map[string]any{
		"source_account_id": in.SourceAccountID,
		"line_count":        len(in.Lines),
		"total_amount":      result.Run.TotalAmount,
		"journal_id":        result.Journal.ID,
	})
	if s.metrics != nil {
		s.metrics.ReclassRunCompleted()
	}
	return result, nil
}

func (s *Service) createDraft(ctx context.Context, tx TxRepository, scope shared.ScopeContext,
	legalEntityID, bookID, periodID int64, entryDate time.Time, description string,
	lines []journal.LineInput) (journal.JournalEntry, error) {
	if entryDate.IsZero() {
		entryDate = s.now()
	}
	book, err := s.repo.Book(ctx, scope.TenantID, bookID)
	if err != nil {
		return journal.JournalEntry{}, err
	}
	return tx.CreateDraftJournal(ctx, journal.SystemInput{
		TenantID:       scope.TenantID,
		LegalEntityID:  legalEntityID,
		BookID:         bookID,
		FiscalPeriodID: periodID,
		SourceType:     journal.SourceAdjustment,
		Status:         journal.StatusDraft,
		EntryDate:      entryDate,
		CurrencyCode:   book.CurrencyCode,
		Description:    description,
		ActorID:        scope.ActorID,
		Lines:          lines,
	}, s.now())
}

func (s *Service) ensureOpenTx(ctx context.Context, tx TxRepository, bookID, periodID int64, action string) error {
	status, err := tx.PeriodStatus(ctx, bookID, periodID)
	if err != nil {
		return err
	}
	if status != periodstatus.StatusOpen {
		return periodstatus.NotOpenError(action, bookID, periodID, status)
	}
	return nil
}

func ensureTargets(chart *accounts.Chart, legalEntityID int64, targets []TargetInput) error {
	for idx, target := range targets {
		if _, err := chart.EnsurePostable(target.AccountID, legalEntityID); err != nil {
			return fmt.Errorf("target %d: %w", idx+1, err)
		}
	}
	return nil
}

func checkEligible(line SelectedLine, in LineReclassInput) error {
	if line.AccountID != in.SourceAccountID {
		return fmt.Errorf("%w: line %d is not on the source account", ErrLineNotEligible, line.LineID)
	}
	if line.EntryStatus != journal.StatusPosted {
		return fmt.Errorf("%w: line %d journal is %s", ErrLineNotEligible, line.LineID, line.EntryStatus)
	}
	if line.BookID != in.BookID || line.LegalEntityID != in.LegalEntityID {
		return fmt.Errorf("%w: line %d outside book/legal entity", ErrLineNotEligible, line.LineID)
	}
	if in.DateFrom != nil && line.EntryDate.Before(*in.DateFrom) {
		return fmt.Errorf("%w: line %d before date window", ErrLineNotEligible, line.LineID)
	}
	if in.DateTo != nil && line.EntryDate.After(*in.DateTo) {
		return fmt.Errorf("%w: line %d after date window", ErrLineNotEligible, line.LineID)
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
		Entity:   "reclassification_run",
		EntityID: strconv.FormatInt(runID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
