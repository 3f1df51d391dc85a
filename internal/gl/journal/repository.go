package journal

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/platform/db"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	List(ctx context.Context, tenantID int64, filter ListFilter) ([]JournalEntry, error)
	GetWithLines(ctx context.Context, tenantID, id int64) (JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available within one posting
// transaction. The close and reclass engines reuse it through
// NewTxRepository so every journal write funnels through the same paths.
type TxRepository interface {
	InsertEntry(ctx context.Context, e *JournalEntry) error
	InsertLines(ctx context.Context, journalID int64, lines []JournalLine) error
	GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error)
	GetLines(ctx context.Context, journalID int64) ([]JournalLine, error)
	// MarkPosted transitions DRAFT -> POSTED conditionally; false means the
	// row was not in DRAFT (a concurrent poster won).
	MarkPosted(ctx context.Context, id, actorID int64, at time.Time) (bool, error)
	// MarkReversed stamps the original POSTED -> REVERSED with the back
	// link; false means it was already reversed.
	MarkReversed(ctx context.Context, id, reversalID, actorID int64, at time.Time) (bool, error)
	// FindReversalOf locates an existing reversal journal pointing at the
	// original, reconciling link drift.
	FindReversalOf(ctx context.Context, tenantID, originalID int64) (*JournalEntry, error)
	Mirrors(ctx context.Context, tenantID, sourceID int64) ([]JournalEntry, error)

	PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error)
	Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error)
	Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error)
	LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error)
	AccountByCode(ctx context.Context, tenantID, legalEntityID int64, code string) (accounts.Account, error)

	IntercompanyProfile(ctx context.Context, tenantID, legalEntityID int64) (ICProfile, error)
	ActivePairExists(ctx context.Context, tenantID, entityA, entityB int64) (bool, error)
	OperatingUnits(ctx context.Context, tenantID int64, ids []int64) (map[int64]OperatingUnit, error)

	LockShareholders(ctx context.Context, tenantID, legalEntityID int64) ([]Shareholder, error)
	// InsertCommitmentAudit returns false on a duplicate (journal,
	// shareholder) pair, which makes the commitment pass idempotent.
	InsertCommitmentAudit(ctx context.Context, journalID, shareholderID int64) (bool, error)
	AddCommittedCapital(ctx context.Context, shareholderID int64, amount float64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a pool-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, tenant_id, legal_entity_id, book_id, fiscal_period_id, journal_no, source_type, status,
entry_date, document_date, currency_code, description, reference_no, total_debit_base, total_credit_base,
created_by, created_at, posted_by, posted_at, reversed_by, reversed_at,
reversal_journal_id, reversal_of_id, intercompany_source_id`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.LegalEntityID, &e.BookID, &e.FiscalPeriodID, &e.JournalNo,
		&e.SourceType, &e.Status, &e.EntryDate, &e.DocumentDate, &e.CurrencyCode, &e.Description,
		&e.ReferenceNo, &e.TotalDebitBase, &e.TotalCreditBase, &e.CreatedBy, &e.CreatedAt,
		&e.PostedBy, &e.PostedAt, &e.ReversedBy, &e.ReversedAt,
		&e.ReversalJournalID, &e.ReversalOfID, &e.IntercompanySourceID)
	return e, err
}

func (r *repository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE tenant_id=$1`
	args := []any{tenantID}
	if len(filter.LegalEntityIDs) > 0 {
		args = append(args, filter.LegalEntityIDs)
		query += ` AND legal_entity_id = ANY($2)`
	}
	idx := len(args)
	if filter.BookID != 0 {
		idx++
		args = append(args, filter.BookID)
		query += ` AND book_id = $` + strconv.Itoa(idx)
	}
	if filter.FiscalPeriodID != 0 {
		idx++
		args = append(args, filter.FiscalPeriodID)
		query += ` AND fiscal_period_id = $` + strconv.Itoa(idx)
	}
	if filter.Status != "" {
		idx++
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(idx)
	}
	query += ` ORDER BY journal_no DESC`
	if filter.Limit > 0 {
		idx++
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(idx)
	}
	if filter.Offset > 0 {
		idx++
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(idx)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) GetWithLines(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	lines, err := queryLines(ctx, r.db, id)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines
	return e, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other GL engines can post
// journals inside their own transactional boundary.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) InsertEntry(ctx context.Context, e *JournalEntry) error {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries
(tenant_id, legal_entity_id, book_id, fiscal_period_id, source_type, status, entry_date, document_date,
 currency_code, description, reference_no, total_debit_base, total_credit_base, created_by,
 posted_by, posted_at, reversal_of_id, intercompany_source_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING id, journal_no, created_at`,
		e.TenantID, e.LegalEntityID, e.BookID, e.FiscalPeriodID, e.SourceType, e.Status,
		e.EntryDate, e.DocumentDate, e.CurrencyCode, e.Description, e.ReferenceNo,
		e.TotalDebitBase, e.TotalCreditBase, e.CreatedBy,
		e.PostedBy, e.PostedAt, e.ReversalOfID, e.IntercompanySourceID)
	return row.Scan(&e.ID, &e.JournalNo, &e.CreatedAt)
}

func (r *txRepository) InsertLines(ctx context.Context, journalID int64, lines []JournalLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines
(journal_id, line_no, account_id, operating_unit_id, counterparty_legal_entity_id, description,
 subledger_ref, currency_code, amount, debit_base, credit_base)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			journalID, line.LineNo, line.AccountID, line.OperatingUnitID, line.CounterpartyLegalEntityID,
			line.Description, line.SubledgerRef, line.CurrencyCode, line.Amount, line.DebitBase, line.CreditBase); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) GetLines(ctx context.Context, journalID int64) ([]JournalLine, error) {
	return queryLines(ctx, r.tx, journalID)
}

func (r *txRepository) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status='POSTED', posted_by=$2, posted_at=$3 WHERE id=$1 AND status='DRAFT'`, id, actorID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *txRepository) MarkReversed(ctx context.Context, id, reversalID, actorID int64, at time.Time) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries
SET status='REVERSED', reversal_journal_id=$2, reversed_by=$3, reversed_at=$4
WHERE id=$1 AND status='POSTED' AND reversal_journal_id IS NULL`, id, reversalID, actorID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *txRepository) FindReversalOf(ctx context.Context, tenantID, originalID int64) (*JournalEntry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND reversal_of_id=$2 LIMIT 1`, tenantID, originalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *txRepository) Mirrors(ctx context.Context, tenantID, sourceID int64) ([]JournalEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE tenant_id=$1 AND intercompany_source_id=$2 ORDER BY id ASC FOR UPDATE`, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
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

func (r *txRepository) Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error) {
	return ledger.GetBook(ctx, r.tx, tenantID, bookID)
}

func (r *txRepository) Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error) {
	return ledger.GetPeriod(ctx, r.tx, periodID)
}

func (r *txRepository) LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error) {
	return accounts.LoadChart(ctx, r.tx, tenantID, legalEntityID)
}

func (r *txRepository) AccountByCode(ctx context.Context, tenantID, legalEntityID int64, code string) (accounts.Account, error) {
	return accounts.GetByCode(ctx, r.tx, tenantID, legalEntityID, code)
}

func (r *txRepository) IntercompanyProfile(ctx context.Context, tenantID, legalEntityID int64) (ICProfile, error) {
	var p ICProfile
	err := r.tx.QueryRow(ctx, `SELECT legal_entity_id, is_enabled, book_id, receivable_account_id, payable_account_id
FROM gl_intercompany_profiles WHERE tenant_id=$1 AND legal_entity_id=$2`, tenantID, legalEntityID).
		Scan(&p.LegalEntityID, &p.Enabled, &p.BookID, &p.ReceivableAccountID, &p.PayableAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ICProfile{LegalEntityID: legalEntityID}, nil
		}
		return ICProfile{}, err
	}
	return p, nil
}

func (r *txRepository) ActivePairExists(ctx context.Context, tenantID, entityA, entityB int64) (bool, error) {
	var one int
	err := r.tx.QueryRow(ctx, `SELECT 1 FROM gl_intercompany_pairs
WHERE tenant_id=$1 AND status='ACTIVE'
AND ((entity_a_id=$2 AND entity_b_id=$3) OR (entity_a_id=$3 AND entity_b_id=$2))
LIMIT 1`, tenantID, entityA, entityB).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *txRepository) OperatingUnits(ctx context.Context, tenantID int64, ids []int64) (map[int64]OperatingUnit, error) {
	if len(ids) == 0 {
		return map[int64]OperatingUnit{}, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, subledger_required FROM gl_operating_units
WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]OperatingUnit, len(ids))
	for rows.Next() {
		var u OperatingUnit
		if err := rows.Scan(&u.ID, &u.SubledgerRequired); err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (r *txRepository) LockShareholders(ctx context.Context, tenantID, legalEntityID int64) ([]Shareholder, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, legal_entity_id, capital_account_id, committed_capital
FROM gl_shareholders WHERE tenant_id=$1 AND legal_entity_id=$2 ORDER BY id FOR UPDATE`, tenantID, legalEntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Shareholder
	for rows.Next() {
		var s Shareholder
		if err := rows.Scan(&s.ID, &s.LegalEntityID, &s.CapitalAccountID, &s.CommittedCapital); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertCommitmentAudit(ctx context.Context, journalID, shareholderID int64) (bool, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO gl_shareholder_commitment_audits (journal_id, shareholder_id)
VALUES ($1,$2)`, journalID, shareholderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *txRepository) AddCommittedCapital(ctx context.Context, shareholderID int64, amount float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE gl_shareholders SET committed_capital = committed_capital + $2 WHERE id=$1`, shareholderID, amount)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, journalID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, journal_id, line_no, account_id, operating_unit_id, counterparty_legal_entity_id,
description, subledger_ref, currency_code, amount, debit_base, credit_base
FROM journal_lines WHERE journal_id=$1 ORDER BY line_no ASC`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.LineNo, &line.AccountID, &line.OperatingUnitID,
			&line.CounterpartyLegalEntityID, &line.Description, &line.SubledgerRef, &line.CurrencyCode,
			&line.Amount, &line.DebitBase, &line.CreditBase); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

