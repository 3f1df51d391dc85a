package journal

import "errors"

var (
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("gl: journal requires at least two lines")
	// ErrUnbalanced indicates debit != credit within epsilon.
	ErrUnbalanced = errors.New("gl: journal lines must balance")
	// ErrNegativeAmount indicates a negative debit or credit.
	ErrNegativeAmount = errors.New("gl: negative amounts are rejected")
	// ErrBothSides indicates a line with both debit and credit set.
	ErrBothSides = errors.New("gl: line cannot carry both debit and credit")
	// ErrEmptyLine indicates a line with neither side set.
	ErrEmptyLine = errors.New("gl: line must carry a debit or a credit")
	// ErrJournalNotFound indicates a missing entry.
	ErrJournalNotFound = errors.New("gl: journal entry not found")
	// ErrInvalidStatus indicates the entry is not in the required state.
	ErrInvalidStatus = errors.New("gl: invalid status transition")
	// ErrAlreadyReversed indicates a journal may be reversed at most once.
	ErrAlreadyReversed = errors.New("gl: journal already reversed")
	// ErrUnknownSourceType indicates a value outside the policy table.
	ErrUnknownSourceType = errors.New("gl: unknown source type")
	// ErrSourceTypeReserved indicates a type barred from the public path.
	ErrSourceTypeReserved = errors.New("gl: source type reserved for internal posting")
	// ErrSubledgerRefRequired indicates the operating unit tracks a
	// subledger and the line omitted the reference.
	ErrSubledgerRefRequired = errors.New("gl: subledger reference required")
	// ErrCashControlBlocked indicates a direct posting into a
	// cash-controlled account without override.
	ErrCashControlBlocked = errors.New("gl: cash-controlled account requires override")
	// ErrOverrideReasonRequired indicates the override was invoked without
	// a reason.
	ErrOverrideReasonRequired = errors.New("gl: cash control override requires a reason")
	// ErrIntercompanyDisabled indicates the legal entity has no
	// intercompany enablement.
	ErrIntercompanyDisabled = errors.New("gl: intercompany not enabled for legal entity")
	// ErrNoActivePair indicates no ACTIVE intercompany pair exists for an
	// invoked counterparty.
	ErrNoActivePair = errors.New("gl: no active intercompany pair")
	// ErrBookEntityMismatch indicates the book belongs to another entity.
	ErrBookEntityMismatch = errors.New("gl: book does not belong to legal entity")
)
