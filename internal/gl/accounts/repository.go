package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by pgxpool.Pool and pgx.Tx. Chart loads happen inside
// the same transaction as the writes that depend on them.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, tenant_id, legal_entity_id, parent_id, code, name, account_type, is_active, is_postable, is_leaf, is_cash_controlled`

// LoadChart reads all accounts of a legal entity into a Chart snapshot.
func LoadChart(ctx context.Context, q Querier, tenantID, legalEntityID int64) (*Chart, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM gl_accounts WHERE tenant_id=$1 AND legal_entity_id=$2`, tenantID, legalEntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewChart(list), nil
}

// GetByCode resolves a legal entity's account by its display code.
func GetByCode(ctx context.Context, q Querier, tenantID, legalEntityID int64, code string) (Account, error) {
	row := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_accounts WHERE tenant_id=$1 AND legal_entity_id=$2 AND code=$3`, tenantID, legalEntityID, code)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// Get resolves a single account by id.
func Get(ctx context.Context, q Querier, tenantID, accountID int64) (Account, error) {
	row := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_accounts WHERE tenant_id=$1 AND id=$2`, tenantID, accountID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAccount(row scannable) (Account, error) {
	var a Account
	var typ *string
	err := row.Scan(&a.ID, &a.TenantID, &a.LegalEntityID, &a.ParentID, &a.Code, &a.Name, &typ, &a.IsActive, &a.IsPostable, &a.IsLeaf, &a.IsCashControlled)
	if err != nil {
		return Account{}, err
	}
	if typ != nil {
		a.Type = AccountType(*typ)
	}
	return a, nil
}
