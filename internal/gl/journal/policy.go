package journal

import "fmt"

// SourceType tags where a journal originated. Policy per variant lives in
// sourcePolicies; adding a source type is a single table edit.
type SourceType string

const (
	SourceManual       SourceType = "MANUAL"
	SourceSystem       SourceType = "SYSTEM"
	SourceIntercompany SourceType = "INTERCOMPANY"
	SourceElimination  SourceType = "ELIMINATION"
	SourceAdjustment   SourceType = "ADJUSTMENT"
	SourceCash         SourceType = "CASH"
)

type sourcePolicy struct {
	// publicCreate allows the type on the public create path. SYSTEM is
	// reserved for the close/reclass engines, CASH for the cash subsystem's
	// own posting path.
	publicCreate bool
	// intercompany enables counterparty-line policy enforcement.
	intercompany bool
	// cashControlExempt skips cash-control checks; internally generated
	// journals are pre-validated.
	cashControlExempt bool
}

var sourcePolicies = map[SourceType]sourcePolicy{
	SourceManual:       {publicCreate: true},
	SourceSystem:       {cashControlExempt: true},
	SourceIntercompany: {publicCreate: true, intercompany: true},
	SourceElimination:  {publicCreate: true, intercompany: true},
	SourceAdjustment:   {publicCreate: true},
	SourceCash:         {},
}

// Valid reports whether the source type is known.
func (t SourceType) Valid() bool {
	_, ok := sourcePolicies[t]
	return ok
}

func (t SourceType) policy() sourcePolicy {
	return sourcePolicies[t]
}

// EnsurePublic rejects source types reserved for internal posting paths.
func (t SourceType) EnsurePublic() error {
	p, ok := sourcePolicies[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSourceType, t)
	}
	if !p.publicCreate {
		return fmt.Errorf("%w: %q", ErrSourceTypeReserved, t)
	}
	return nil
}

// CashControlMode selects how postings into cash-controlled accounts are
// treated. It is process configuration, injected at construction so tests
// can vary it per case.
type CashControlMode string

const (
	CashControlOff     CashControlMode = "OFF"
	CashControlWarn    CashControlMode = "WARN"
	CashControlEnforce CashControlMode = "ENFORCE"
)

// Valid reports whether the mode is known.
func (m CashControlMode) Valid() bool {
	switch m {
	case CashControlOff, CashControlWarn, CashControlEnforce:
		return true
	default:
		return false
	}
}
