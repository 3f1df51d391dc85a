package accounts

import (
	"errors"
	"fmt"
)

// AccountType classifies an account for closing and reporting.
type AccountType string

const (
	TypeAsset     AccountType = "ASSET"
	TypeLiability AccountType = "LIABILITY"
	TypeEquity    AccountType = "EQUITY"
	TypeRevenue   AccountType = "REVENUE"
	TypeExpense   AccountType = "EXPENSE"
)

// IsProfitAndLoss reports whether balances of this type are zeroed at
// year-end close.
func (t AccountType) IsProfitAndLoss() bool {
	return t == TypeRevenue || t == TypeExpense
}

// Account is a read-model row from the chart of accounts. Parent links form
// a tree, but imported charts have contained cycles before, so every walk
// over ParentID must be bounded by a visited set.
type Account struct {
	ID               int64
	TenantID         int64
	LegalEntityID    int64
	ParentID         *int64
	Code             string
	Name             string
	Type             AccountType
	IsActive         bool
	IsPostable       bool
	IsLeaf           bool
	IsCashControlled bool
}

var (
	// ErrAccountNotFound indicates the account id is unknown to the chart.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrAccountNotPostable indicates the account rejects direct postings.
	ErrAccountNotPostable = errors.New("accounts: account not postable")
	// ErrAccountInactive indicates the account is disabled.
	ErrAccountInactive = errors.New("accounts: account inactive")
	// ErrAccountNotLeaf indicates postings must target leaf accounts.
	ErrAccountNotLeaf = errors.New("accounts: account is not a leaf")
	// ErrWrongLegalEntity indicates the account belongs to another entity.
	ErrWrongLegalEntity = errors.New("accounts: account outside legal entity")
	// ErrTypeUnresolvable indicates no ancestor declares an account type.
	ErrTypeUnresolvable = errors.New("accounts: account type unresolvable")
)

// Chart is an in-request snapshot of the accounts visible to one operation.
// It is read-only; operations re-read it per request instead of caching.
type Chart struct {
	byID map[int64]Account
}

// NewChart indexes the given accounts.
func NewChart(list []Account) *Chart {
	byID := make(map[int64]Account, len(list))
	for _, a := range list {
		byID[a.ID] = a
	}
	return &Chart{byID: byID}
}

// Get returns the account or ErrAccountNotFound.
func (c *Chart) Get(id int64) (Account, error) {
	a, ok := c.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: id %d", ErrAccountNotFound, id)
	}
	return a, nil
}

// EnsurePostable validates that the account may receive a journal line for
// the given legal entity.
func (c *Chart) EnsurePostable(id, legalEntityID int64) (Account, error) {
	a, err := c.Get(id)
	if err != nil {
		return Account{}, err
	}
	if a.LegalEntityID != legalEntityID {
		return Account{}, fmt.Errorf("%w: account %d", ErrWrongLegalEntity, id)
	}
	if !a.IsActive {
		return Account{}, fmt.Errorf("%w: account %d", ErrAccountInactive, id)
	}
	if !a.IsPostable {
		return Account{}, fmt.Errorf("%w: account %d", ErrAccountNotPostable, id)
	}
	if !a.IsLeaf {
		return Account{}, fmt.Errorf("%w: account %d", ErrAccountNotLeaf, id)
	}
	return a, nil
}

// ResolveType returns the account's type, walking up the parent chain when
// the row itself carries none. The walk is iterative and guarded against
// cycles in imported data.
func (c *Chart) ResolveType(id int64) (AccountType, error) {
	visited := make(map[int64]bool)
	cur := id
	for {
		if visited[cur] {
			return "", fmt.Errorf("%w: cycle at account %d", ErrTypeUnresolvable, cur)
		}
		visited[cur] = true
		a, ok := c.byID[cur]
		if !ok {
			return "", fmt.Errorf("%w: id %d", ErrAccountNotFound, cur)
		}
		if a.Type != "" {
			return a.Type, nil
		}
		if a.ParentID == nil {
			return "", fmt.Errorf("%w: account %d", ErrTypeUnresolvable, id)
		}
		cur = *a.ParentID
	}
}

// Rollup adds each account's balance into every ancestor, returning a new
// map. Cycles are tolerated: an account already visited on the current walk
// stops the climb instead of recursing forever.
func (c *Chart) Rollup(direct map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(direct))
	for id, v := range direct {
		out[id] += v
		visited := map[int64]bool{id: true}
		a, ok := c.byID[id]
		for ok && a.ParentID != nil {
			pid := *a.ParentID
			if visited[pid] {
				break
			}
			visited[pid] = true
			out[pid] += v
			a, ok = c.byID[pid]
		}
	}
	return out
}
