package periodstatus

import "context"

// Registry answers "may this (book, period) accept postings" for every
// mutating GL operation. Callers consult it once at validation time and a
// second time inside their transaction, immediately before writing, to close
// the gap against a concurrent close.
type Registry struct {
	repo Repository
}

// NewRegistry constructs a Registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// Effective returns the period status, defaulting to OPEN when no row exists.
func (r *Registry) Effective(ctx context.Context, bookID, periodID int64) (Status, error) {
	row, found, err := r.repo.Get(ctx, bookID, periodID)
	if err != nil {
		return "", err
	}
	if !found {
		return StatusOpen, nil
	}
	return row.Status, nil
}

// EnsureOpen fails fast with the action name embedded in the error when the
// period does not accept postings.
func (r *Registry) EnsureOpen(ctx context.Context, bookID, periodID int64, action string) error {
	status, err := r.Effective(ctx, bookID, periodID)
	if err != nil {
		return err
	}
	if status != StatusOpen {
		return NotOpenError(action, bookID, periodID, status)
	}
	return nil
}

// EnsureOpenTx is the in-transaction variant of EnsureOpen.
func EnsureOpenTx(ctx context.Context, q Querier, bookID, periodID int64, action string) error {
	row, found, err := GetTx(ctx, q, bookID, periodID)
	if err != nil {
		return err
	}
	if found && row.Status != StatusOpen {
		return NotOpenError(action, bookID, periodID, row.Status)
	}
	return nil
}
