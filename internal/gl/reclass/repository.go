package reclass

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/platform/db"
)

// SelectedLine is one journal line joined with the entry facts needed for
// eligibility checks.
type SelectedLine struct {
	LineID        int64
	JournalID     int64
	AccountID     int64
	DebitBase     float64
	CreditBase    float64
	EntryStatus   journal.Status
	BookID        int64
	LegalEntityID int64
	EntryDate     time.Time
}

// Repository is the pool-level store surface of the reclass engine.
type Repository interface {
	Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error)
	GetRun(ctx context.Context, tenantID, runID int64) (Run, error)
	GetRunTargets(ctx context.Context, runID int64) ([]RunTarget, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transaction-scoped surface. The generated journal goes
// through the posting engine's draft primitive.
type TxRepository interface {
	PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error)
	LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error)
	// AccountBalance returns the source account's net balance (debit
	// positive) for the period over POSTED and REVERSED journals, so a
	// reversal pair nets to zero.
	AccountBalance(ctx context.Context, tenantID, bookID, periodID, accountID int64) (float64, error)
	SelectedLines(ctx context.Context, tenantID int64, lineIDs []int64) ([]SelectedLine, error)
	InsertRun(ctx context.Context, run *Run) error
	InsertRunTargets(ctx context.Context, runID int64, targets []RunTarget) error
	CreateDraftJournal(ctx context.Context, in journal.SystemInput, now time.Time) (journal.JournalEntry, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a pool-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error) {
	return ledger.GetBook(ctx, r.db, tenantID, bookID)
}

func (r *repository) GetRun(ctx context.Context, tenantID, runID int64) (Run, error) {
	var run Run
	err := r.db.QueryRow(ctx, `SELECT id, tenant_id, legal_entity_id, book_id, fiscal_period_id, kind,
source_account_id, source_balance, source_side, total_amount, mode, journal_id, created_by, created_at
FROM gl_reclassification_runs WHERE tenant_id=$1 AND id=$2`, tenantID, runID).
		Scan(&run.ID, &run.TenantID, &run.LegalEntityID, &run.BookID, &run.FiscalPeriodID, &run.Kind,
			&run.SourceAccountID, &run.SourceBalance, &run.SourceSide, &run.TotalAmount, &run.Mode,
			&run.JournalID, &run.CreatedBy, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	return run, nil
}

func (r *repository) GetRunTargets(ctx context.Context, runID int64) ([]RunTarget, error) {
	rows, err := r.db.Query(ctx, `SELECT id, run_id, target_account_id, percent, amount, applied_amount
FROM gl_reclassification_run_targets WHERE run_id=$1 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var targets []RunTarget
	for rows.Next() {
		var target RunTarget
		if err := rows.Scan(&target.ID, &target.RunID, &target.TargetAccountID,
			&target.Percent, &target.Amount, &target.AppliedAmount); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, journals: journal.NewTxRepository(tx)})
	})
}

type txRepository struct {
	tx       pgx.Tx
	journals journal.TxRepository
}

func (r *txRepository) PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error) {
	row, found, err := periodstatus.GetTx(ctx, r.tx, bookID, periodID)
	if err != nil {
		return "", err
	}
	if !found {
		return periodstatus.StatusOpen, nil
	}
	return row.Status, nil
}

func (r *txRepository) LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error) {
	return accounts.LoadChart(ctx, r.tx, tenantID, legalEntityID)
}

func (r *txRepository) AccountBalance(ctx context.Context, tenantID, bookID, periodID, accountID int64) (float64, error) {
	var balance float64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit_base - l.credit_base),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_id
WHERE e.tenant_id=$1 AND e.book_id=$2 AND e.fiscal_period_id=$3 AND e.status IN ('POSTED','REVERSED')
AND l.account_id=$4`, tenantID, bookID, periodID, accountID).Scan(&balance)
	return balance, err
}

func (r *txRepository) SelectedLines(ctx context.Context, tenantID int64, lineIDs []int64) ([]SelectedLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.id, l.journal_id, l.account_id, l.debit_base, l.credit_base,
e.status, e.book_id, e.legal_entity_id, e.entry_date
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_id
WHERE e.tenant_id=$1 AND l.id = ANY($2)
ORDER BY l.id`, tenantID, lineIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SelectedLine
	for rows.Next() {
		var line SelectedLine
		if err := rows.Scan(&line.LineID, &line.JournalID, &line.AccountID, &line.DebitBase, &line.CreditBase,
			&line.EntryStatus, &line.BookID, &line.LegalEntityID, &line.EntryDate); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) InsertRun(ctx context.Context, run *Run) error {
	return r.tx.QueryRow(ctx, `INSERT INTO gl_reclassification_runs
(tenant_id, legal_entity_id, book_id, fiscal_period_id, kind, source_account_id, source_balance,
 source_side, total_amount, mode, journal_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at`,
		run.TenantID, run.LegalEntityID, run.BookID, run.FiscalPeriodID, run.Kind, run.SourceAccountID,
		run.SourceBalance, run.SourceSide, run.TotalAmount, run.Mode, run.JournalID, run.CreatedBy).
		Scan(&run.ID, &run.CreatedAt)
}

func (r *txRepository) InsertRunTargets(ctx context.Context, runID int64, targets []RunTarget) error {
	for _, target := range targets {
		if _, err := r.tx.Exec(ctx, `INSERT INTO gl_reclassification_run_targets
(run_id, target_account_id, percent, amount, applied_amount)
VALUES ($1,$2,$3,$4,$5)`,
			runID, target.TargetAccountID, target.Percent, target.Amount, target.AppliedAmount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) CreateDraftJournal(ctx context.Context, in journal.SystemInput, now time.Time) (journal.JournalEntry, error) {
	return journal.InsertPrevalidated(ctx, r.journals, in, now)
}
