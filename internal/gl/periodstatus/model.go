package periodstatus

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the posting state of a (book, fiscal period) pair.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusSoftClosed Status = "SOFT_CLOSED"
	StatusHardClosed Status = "HARD_CLOSED"
)

// Row is the persisted status of one (book, period) pair. Absence of a row
// means OPEN.
type Row struct {
	BookID         int64
	FiscalPeriodID int64
	Status         Status
	ClosedBy       *int64
	ClosedAt       *time.Time
	Note           string
	UpdatedAt      time.Time
}

// Upsert carries a status change. Statuses only move forward; the single way
// back from HARD_CLOSED is an explicit reopen with a reason.
type Upsert struct {
	BookID         int64
	FiscalPeriodID int64
	Status         Status
	ActorID        int64
	Note           string
}

var (
	// ErrPeriodNotOpen is returned by EnsureOpen; the wrapped message names
	// the blocked action for diagnosability.
	ErrPeriodNotOpen = errors.New("periodstatus: period not open")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("periodstatus: invalid status")
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSoftClosed, StatusHardClosed:
		return true
	default:
		return false
	}
}

// NotOpenError builds the standard EnsureOpen failure with the action name
// embedded.
func NotOpenError(action string, bookID, periodID int64, status Status) error {
	return fmt.Errorf("%w: %s blocked (book %d period %d status %s)", ErrPeriodNotOpen, action, bookID, periodID, status)
}
