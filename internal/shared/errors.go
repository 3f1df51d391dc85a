package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrSetupRequired indicates a required support table or mapping is
	// missing; callers should surface it as a configuration problem, not a
	// crash.
	ErrSetupRequired = errors.New("required setup missing")
)
