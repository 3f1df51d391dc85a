// Package ledger holds the read models for books and the fiscal calendar.
// Both are reference data for the GL engines: read per request, never
// mutated here.
package ledger

import (
	"errors"
	"time"
)

// Book is a ledger instance for one legal entity in one base currency.
type Book struct {
	ID            int64
	TenantID      int64
	LegalEntityID int64
	CalendarID    int64
	CurrencyCode  string
	Name          string
}

// FiscalPeriod is one dated slice (month) of a fiscal calendar. Periods are
// pre-generated; NextPeriod fails rather than creating one on the fly.
type FiscalPeriod struct {
	ID         int64
	CalendarID int64
	FiscalYear int
	StartDate  time.Time
	EndDate    time.Time
	Name       string
}

var (
	// ErrBookNotFound indicates an unknown book id.
	ErrBookNotFound = errors.New("ledger: book not found")
	// ErrPeriodNotFound indicates an unknown fiscal period id.
	ErrPeriodNotFound = errors.New("ledger: fiscal period not found")
	// ErrNoNextPeriod indicates the calendar has no period after the given
	// one; periods must be pre-generated before closing into them.
	ErrNoNextPeriod = errors.New("ledger: no next fiscal period")
)
