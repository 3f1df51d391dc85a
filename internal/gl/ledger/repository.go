package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetBook loads a book scoped to the tenant.
func GetBook(ctx context.Context, q Querier, tenantID, bookID int64) (Book, error) {
	var b Book
	err := q.QueryRow(ctx, `SELECT id, tenant_id, legal_entity_id, calendar_id, currency_code, name
FROM gl_books WHERE tenant_id=$1 AND id=$2`, tenantID, bookID).
		Scan(&b.ID, &b.TenantID, &b.LegalEntityID, &b.CalendarID, &b.CurrencyCode, &b.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, ErrBookNotFound
		}
		return Book{}, err
	}
	return b, nil
}

// GetPeriod loads a fiscal period by id.
func GetPeriod(ctx context.Context, q Querier, periodID int64) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := q.QueryRow(ctx, `SELECT id, calendar_id, fiscal_year, start_date, end_date, name
FROM fiscal_periods WHERE id=$1`, periodID).
		Scan(&p.ID, &p.CalendarID, &p.FiscalYear, &p.StartDate, &p.EndDate, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodNotFound
		}
		return FiscalPeriod{}, err
	}
	return p, nil
}

// NextPeriod resolves the next chronological period in the same calendar.
func NextPeriod(ctx context.Context, q Querier, current FiscalPeriod) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := q.QueryRow(ctx, `SELECT id, calendar_id, fiscal_year, start_date, end_date, name
FROM fiscal_periods WHERE calendar_id=$1 AND start_date > $2 ORDER BY start_date ASC LIMIT 1`,
		current.CalendarID, current.StartDate).
		Scan(&p.ID, &p.CalendarID, &p.FiscalYear, &p.StartDate, &p.EndDate, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrNoNextPeriod
		}
		return FiscalPeriod{}, err
	}
	return p, nil
}
