package close

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
)

// RunRefPrefix tags the reference number of every journal a close run
// generates. Fingerprints exclude journals carrying it, so closing output
// never feeds back into the idempotency hash.
const RunRefPrefix = "PERIOD_CLOSE_RUN:"

// RunReference builds the reference number for a run's generated journals.
func RunReference(runID int64) string {
	return fmt.Sprintf("%s%d", RunRefPrefix, runID)
}

// SourceFingerprint summarises the postable content of a period: the count
// and debit/credit totals of POSTED and REVERSED journals that are not
// themselves close output. Any posting, reversal, or reclass in the period
// changes it.
type SourceFingerprint struct {
	Count       int64
	DebitTotal  float64
	CreditTotal float64
}

// HashParams collects everything that identifies one close run. Two calls
// with identical params and an identical fingerprint are the same run.
type HashParams struct {
	TenantID                  int64
	BookID                    int64
	FiscalPeriodID            int64
	NextPeriodID              int64
	CloseStatus               periodstatus.Status
	IsYearEnd                 bool
	RetainedEarningsAccountID int64
	Fingerprint               SourceFingerprint
}

// RunHash derives the deterministic run key. The fingerprint must be
// recomputed immediately before hashing, never cached.
func RunHash(p HashParams) string {
	payload := fmt.Sprintf("%d|%d|%d|%d|%s|%t|%d|%d|%.6f|%.6f",
		p.TenantID, p.BookID, p.FiscalPeriodID, p.NextPeriodID,
		p.CloseStatus, p.IsYearEnd, p.RetainedEarningsAccountID,
		p.Fingerprint.Count, p.Fingerprint.DebitTotal, p.Fingerprint.CreditTotal)
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
