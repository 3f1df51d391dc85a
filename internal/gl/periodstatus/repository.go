package periodstatus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx, so the same status read
// and upsert run both outside and inside an enclosing transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads and writes period_statuses rows.
type Repository interface {
	Get(ctx context.Context, bookID, periodID int64) (Row, bool, error)
	Set(ctx context.Context, in Upsert) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a pool-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, bookID, periodID int64) (Row, bool, error) {
	return GetTx(ctx, r.pool, bookID, periodID)
}

func (r *repository) Set(ctx context.Context, in Upsert) error {
	return SetTx(ctx, r.pool, in)
}

// GetTx reads the status row through any pgx querier (pool or tx).
func GetTx(ctx context.Context, q Querier, bookID, periodID int64) (Row, bool, error) {
	var row Row
	err := q.QueryRow(ctx, `SELECT book_id, fiscal_period_id, status, closed_by, closed_at, note, updated_at
FROM period_statuses WHERE book_id=$1 AND fiscal_period_id=$2`, bookID, periodID).
		Scan(&row.BookID, &row.FiscalPeriodID, &row.Status, &row.ClosedBy, &row.ClosedAt, &row.Note, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, false, nil
		}
		return Row{}, false, err
	}
	return row, true, nil
}

// SetTx upserts the status row through any pgx executor (pool or tx).
func SetTx(ctx context.Context, q Querier, in Upsert) error {
	if !in.Status.Valid() {
		return ErrInvalidStatus
	}
	_, err := q.Exec(ctx, `INSERT INTO period_statuses (book_id, fiscal_period_id, status, closed_by, closed_at, note, updated_at)
VALUES ($1,$2,$3,$4,NOW(),$5,NOW())
ON CONFLICT (book_id, fiscal_period_id)
DO UPDATE SET status=EXCLUDED.status, closed_by=EXCLUDED.closed_by, closed_at=NOW(), note=EXCLUDED.note, updated_at=NOW()`,
		in.BookID, in.FiscalPeriodID, in.Status, nullActor(in.ActorID), in.Note)
	return err
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
