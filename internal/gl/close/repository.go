package close

import (
	"context"
	"encoding/json"
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

// Repository is the pool-level store surface of the orchestrator.
type Repository interface {
	Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error)
	GetRun(ctx context.Context, tenantID, runID int64) (CloseRun, error)
	GetRunLines(ctx context.Context, runID int64) ([]RunLine, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transaction-scoped surface. Journal writes delegate to
// the posting engine's primitives so the balance invariant stays enforced in
// one place.
type TxRepository interface {
	PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error)
	UpsertPeriodStatus(ctx context.Context, up periodstatus.Upsert) error
	Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error)
	NextPeriod(ctx context.Context, current ledger.FiscalPeriod) (ledger.FiscalPeriod, error)
	LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error)

	// SourceFingerprint aggregates POSTED and REVERSED journals in the
	// period, excluding rows referenced PERIOD_CLOSE_RUN:*.
	SourceFingerprint(ctx context.Context, tenantID, bookID, periodID int64) (SourceFingerprint, error)
	// AccountBalances returns per-account net balances (debit positive) over
	// every POSTED and REVERSED journal line in the period. Close output is
	// not excluded here: the previous period's carry-forward opens this one,
	// and a reversed close journal nets out against its reversal.
	AccountBalances(ctx context.Context, tenantID, bookID, periodID int64) (map[int64]float64, error)

	FindRunByHashForUpdate(ctx context.Context, tenantID int64, hash string) (*CloseRun, error)
	LatestCompletedRunForUpdate(ctx context.Context, tenantID, bookID, periodID int64) (*CloseRun, error)
	InsertRun(ctx context.Context, run *CloseRun) error
	UpdateRun(ctx context.Context, run *CloseRun) error
	DeleteRunLines(ctx context.Context, runID int64) error
	InsertRunLines(ctx context.Context, runID int64, lines []RunLine) error

	CreateSystemJournal(ctx context.Context, in journal.SystemInput, now time.Time) (journal.JournalEntry, error)
	ReverseJournal(ctx context.Context, tenantID, journalID int64, reason string, actorID int64, now time.Time) (journal.JournalEntry, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a pool-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const runColumns = `id, tenant_id, book_id, fiscal_period_id, next_period_id, hash, status, close_status,
is_year_end, retained_earnings_account_id, carry_forward_journal_id, year_end_journal_id,
note, meta, created_by, created_at, updated_at`

func scanRun(row pgx.Row) (CloseRun, error) {
	var run CloseRun
	var meta []byte
	err := row.Scan(&run.ID, &run.TenantID, &run.BookID, &run.FiscalPeriodID, &run.NextPeriodID,
		&run.Hash, &run.Status, &run.CloseStatus, &run.IsYearEnd, &run.RetainedEarningsAccountID,
		&run.CarryForwardJournalID, &run.YearEndJournalID, &run.Note, &meta,
		&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return CloseRun{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &run.Meta); err != nil {
			return CloseRun{}, err
		}
	}
	return run, nil
}

func (r *repository) Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error) {
	return ledger.GetBook(ctx, r.db, tenantID, bookID)
}

func (r *repository) GetRun(ctx context.Context, tenantID, runID int64) (CloseRun, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM period_close_runs
WHERE tenant_id=$1 AND id=$2`, tenantID, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CloseRun{}, ErrRunNotFound
		}
		return CloseRun{}, err
	}
	return run, nil
}

func (r *repository) GetRunLines(ctx context.Context, runID int64) ([]RunLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, run_id, account_id, line_type, closing_balance, debit_base, credit_base
FROM period_close_run_lines WHERE run_id=$1 ORDER BY line_type, account_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []RunLine
	for rows.Next() {
		var line RunLine
		if err := rows.Scan(&line.ID, &line.RunID, &line.AccountID, &line.Type,
			&line.ClosingBalance, &line.DebitBase, &line.CreditBase); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
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

func (r *txRepository) UpsertPeriodStatus(ctx context.Context, up periodstatus.Upsert) error {
	return periodstatus.SetTx(ctx, r.tx, up)
}

func (r *txRepository) Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error) {
	return ledger.GetPeriod(ctx, r.tx, periodID)
}

func (r *txRepository) NextPeriod(ctx context.Context, current ledger.FiscalPeriod) (ledger.FiscalPeriod, error) {
	return ledger.NextPeriod(ctx, r.tx, current)
}

func (r *txRepository) LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error) {
	return accounts.LoadChart(ctx, r.tx, tenantID, legalEntityID)
}

func (r *txRepository) SourceFingerprint(ctx context.Context, tenantID, bookID, periodID int64) (SourceFingerprint, error) {
	var fp SourceFingerprint
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_debit_base),0), COALESCE(SUM(total_credit_base),0)
FROM journal_entries
WHERE tenant_id=$1 AND book_id=$2 AND fiscal_period_id=$3 AND status IN ('POSTED','REVERSED')
AND reference_no NOT LIKE $4`, tenantID, bookID, periodID, RunRefPrefix+"%").
		Scan(&fp.Count, &fp.DebitTotal, &fp.CreditTotal)
	return fp, err
}

func (r *txRepository) AccountBalances(ctx context.Context, tenantID, bookID, periodID int64) (map[int64]float64, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.account_id, COALESCE(SUM(l.debit_base - l.credit_base),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_id
WHERE e.tenant_id=$1 AND e.book_id=$2 AND e.fiscal_period_id=$3 AND e.status IN ('POSTED','REVERSED')
GROUP BY l.account_id`, tenantID, bookID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]float64)
	for rows.Next() {
		var accountID int64
		var balance float64
		if err := rows.Scan(&accountID, &balance); err != nil {
			return nil, err
		}
		out[accountID] = balance
	}
	return out, rows.Err()
}

func (r *txRepository) FindRunByHashForUpdate(ctx context.Context, tenantID int64, hash string) (*CloseRun, error) {
	run, err := scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM period_close_runs
WHERE tenant_id=$1 AND hash=$2 FOR UPDATE`, tenantID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *txRepository) LatestCompletedRunForUpdate(ctx context.Context, tenantID, bookID, periodID int64) (*CloseRun, error) {
	run, err := scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM period_close_runs
WHERE tenant_id=$1 AND book_id=$2 AND fiscal_period_id=$3 AND status='COMPLETED'
ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`, tenantID, bookID, periodID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *txRepository) InsertRun(ctx context.Context, run *CloseRun) error {
	meta, err := json.Marshal(run.Meta)
	if err != nil {
		return err
	}
	return r.tx.QueryRow(ctx, `INSERT INTO period_close_runs
(tenant_id, book_id, fiscal_period_id, next_period_id, hash, status, close_status, is_year_end,
 retained_earnings_account_id, note, meta, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id, created_at, updated_at`,
		run.TenantID, run.BookID, run.FiscalPeriodID, run.NextPeriodID, run.Hash, run.Status,
		run.CloseStatus, run.IsYearEnd, run.RetainedEarningsAccountID, run.Note, meta, run.CreatedBy).
		Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
}

func (r *txRepository) UpdateRun(ctx context.Context, run *CloseRun) error {
	meta, err := json.Marshal(run.Meta)
	if err != nil {
		return err
	}
	return r.tx.QueryRow(ctx, `UPDATE period_close_runs
SET status=$2, close_status=$3, carry_forward_journal_id=$4, year_end_journal_id=$5,
    note=$6, meta=$7, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`,
		run.ID, run.Status, run.CloseStatus, run.CarryForwardJournalID, run.YearEndJournalID,
		run.Note, meta).Scan(&run.UpdatedAt)
}

func (r *txRepository) DeleteRunLines(ctx context.Context, runID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM period_close_run_lines WHERE run_id=$1`, runID)
	return err
}

func (r *txRepository) InsertRunLines(ctx context.Context, runID int64, lines []RunLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO period_close_run_lines
(run_id, account_id, line_type, closing_balance, debit_base, credit_base)
VALUES ($1,$2,$3,$4,$5,$6)`,
			runID, line.AccountID, line.Type, line.ClosingBalance, line.DebitBase, line.CreditBase); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) CreateSystemJournal(ctx context.Context, in journal.SystemInput, now time.Time) (journal.JournalEntry, error) {
	return journal.InsertPrevalidated(ctx, r.journals, in, now)
}

func (r *txRepository) ReverseJournal(ctx context.Context, tenantID, journalID int64, reason string, actorID int64, now time.Time) (journal.JournalEntry, error) {
	return journal.ReverseTx(ctx, r.journals, tenantID, journalID, reason, actorID, now)
}
