package close

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

type periodKey struct{ book, period int64 }

type mockRepository struct {
	books    map[int64]ledger.Book
	periods  map[int64]ledger.FiscalPeriod
	statuses map[periodKey]periodstatus.Status
	charts   map[int64]*accounts.Chart

	fingerprints map[int64]SourceFingerprint
	balances     map[int64]map[int64]float64

	nextRunID     int64
	runs          map[int64]*CloseRun
	runLines      map[int64][]RunLine
	nextJournalID int64
	journals      map[int64]*journal.JournalEntry
	journalLines  map[int64][]journal.JournalLine
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		books:        make(map[int64]ledger.Book),
		periods:      make(map[int64]ledger.FiscalPeriod),
		statuses:     make(map[periodKey]periodstatus.Status),
		charts:       make(map[int64]*accounts.Chart),
		fingerprints: make(map[int64]SourceFingerprint),
		balances:     make(map[int64]map[int64]float64),
		runs:         make(map[int64]*CloseRun),
		runLines:     make(map[int64][]RunLine),
		journals:     make(map[int64]*journal.JournalEntry),
		journalLines: make(map[int64][]journal.JournalLine),
	}
}

func (m *mockRepository) Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error) {
	b, ok := m.books[bookID]
	if !ok || b.TenantID != tenantID {
		return ledger.Book{}, ledger.ErrBookNotFound
	}
	return b, nil
}

func (m *mockRepository) GetRun(ctx context.Context, tenantID, runID int64) (CloseRun, error) {
	run, ok := m.runs[runID]
	if !ok || run.TenantID != tenantID {
		return CloseRun{}, ErrRunNotFound
	}
	return *run, nil
}

func (m *mockRepository) GetRunLines(ctx context.Context, runID int64) ([]RunLine, error) {
	return append([]RunLine(nil), m.runLines[runID]...), nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error) {
	if st, ok := m.statuses[periodKey{bookID, periodID}]; ok {
		return st, nil
	}
	return periodstatus.StatusOpen, nil
}

func (m *mockRepository) UpsertPeriodStatus(ctx context.Context, up periodstatus.Upsert) error {
	m.statuses[periodKey{up.BookID, up.FiscalPeriodID}] = up.Status
	return nil
}

func (m *mockRepository) Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error) {
	p, ok := m.periods[periodID]
	if !ok {
		return ledger.FiscalPeriod{}, ledger.ErrPeriodNotFound
	}
	return p, nil
}

func (m *mockRepository) NextPeriod(ctx context.Context, current ledger.FiscalPeriod) (ledger.FiscalPeriod, error) {
	var candidates []ledger.FiscalPeriod
	for _, p := range m.periods {
		if p.CalendarID == current.CalendarID && p.StartDate.After(current.StartDate) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return ledger.FiscalPeriod{}, ledger.ErrNoNextPeriod
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].StartDate.Before(candidates[j].StartDate) })
	return candidates[0], nil
}

func (m *mockRepository) LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error) {
	if c, ok := m.charts[legalEntityID]; ok {
		return c, nil
	}
	return accounts.NewChart(nil), nil
}

func (m *mockRepository) SourceFingerprint(ctx context.Context, tenantID, bookID, periodID int64) (SourceFingerprint, error) {
	return m.fingerprints[periodID], nil
}

func (m *mockRepository) AccountBalances(ctx context.Context, tenantID, bookID, periodID int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for id, v := range m.balances[periodID] {
		out[id] = v
	}
	return out, nil
}

func (m *mockRepository) FindRunByHashForUpdate(ctx context.Context, tenantID int64, hash string) (*CloseRun, error) {
	for _, run := range m.runs {
		if run.TenantID == tenantID && run.Hash == hash {
			return run, nil
		}
	}
	return nil, nil
}

func (m *mockRepository) LatestCompletedRunForUpdate(ctx context.Context, tenantID, bookID, periodID int64) (*CloseRun, error) {
	var latest *CloseRun
	for _, run := range m.runs {
		if run.TenantID != tenantID || run.BookID != bookID || run.FiscalPeriodID != periodID {
			continue
		}
		if run.Status != RunCompleted {
			continue
		}
		if latest == nil || run.UpdatedAt.After(latest.UpdatedAt) {
			latest = run
		}
	}
	return latest, nil
}

func (m *mockRepository) InsertRun(ctx context.Context, run *CloseRun) error {
	m.nextRunID++
	run.ID = m.nextRunID
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	m.runs[run.ID] = run
	return nil
}

func (m *mockRepository) UpdateRun(ctx context.Context, run *CloseRun) error {
	run.UpdatedAt = time.Now()
	m.runs[run.ID] = run
	return nil
}

func (m *mockRepository) DeleteRunLines(ctx context.Context, runID int64) error {
	delete(m.runLines, runID)
	return nil
}

func (m *mockRepository) InsertRunLines(ctx context.Context, runID int64, lines []RunLine) error {
	m.runLines[runID] = append([]RunLine(nil), lines...)
	return nil
}

func (m *mockRepository) CreateSystemJournal(ctx context.Context, in journal.SystemInput, now time.Time) (journal.JournalEntry, error) {
	if err := journal.ValidateLines(in.Lines); err != nil {
		return journal.JournalEntry{}, err
	}
	m.nextJournalID++
	entry := journal.JournalEntry{
		ID:             m.nextJournalID,
		TenantID:       in.TenantID,
		LegalEntityID:  in.LegalEntityID,
		BookID:         in.BookID,
		FiscalPeriodID: in.FiscalPeriodID,
		JournalNo:      m.nextJournalID,
		SourceType:     in.SourceType,
		Status:         in.Status,
		EntryDate:      in.EntryDate,
		CurrencyCode:   in.CurrencyCode,
		Description:    in.Description,
		ReferenceNo:    in.ReferenceNo,
		CreatedBy:      in.ActorID,
	}
	var lines []journal.JournalLine
	for idx, li := range in.Lines {
		entry.TotalDebitBase += li.DebitBase
		entry.TotalCreditBase += li.CreditBase
		lines = append(lines, journal.JournalLine{
			LineNo:     int32(idx + 1),
			AccountID:  li.AccountID,
			DebitBase:  li.DebitBase,
			CreditBase: li.CreditBase,
		})
	}
	m.journals[entry.ID] = &entry
	m.journalLines[entry.ID] = lines
	return entry, nil
}

func (m *mockRepository) ReverseJournal(ctx context.Context, tenantID, journalID int64, reason string, actorID int64, now time.Time) (journal.JournalEntry, error) {
	original, ok := m.journals[journalID]
	if !ok || original.TenantID != tenantID {
		return journal.JournalEntry{}, journal.ErrJournalNotFound
	}
	if original.IsReversed() {
		return journal.JournalEntry{}, journal.ErrAlreadyReversed
	}
	m.nextJournalID++
	reversal := *original
	reversal.ID = m.nextJournalID
	reversal.JournalNo = m.nextJournalID
	originalID := original.ID
	reversal.ReversalOfID = &originalID
	reversal.TotalDebitBase, reversal.TotalCreditBase = original.TotalCreditBase, original.TotalDebitBase
	m.journals[reversal.ID] = &reversal
	var flipped []journal.JournalLine
	for _, line := range m.journalLines[journalID] {
		flipped = append(flipped, journal.JournalLine{
			LineNo:     line.LineNo,
			AccountID:  line.AccountID,
			DebitBase:  line.CreditBase,
			CreditBase: line.DebitBase,
		})
	}
	m.journalLines[reversal.ID] = flipped
	original.Status = journal.StatusReversed
	original.ReversalJournalID = &reversal.ID
	return reversal, nil
}

// journalAggRepository derives fingerprints and balances from the journals
// the mock holds, mirroring the filters of the pgx queries instead of using
// the preset maps.
type journalAggRepository struct{ *mockRepository }

func (m *journalAggRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *journalAggRepository) SourceFingerprint(ctx context.Context, tenantID, bookID, periodID int64) (SourceFingerprint, error) {
	var fp SourceFingerprint
	for _, e := range m.journals {
		if e.TenantID != tenantID || e.BookID != bookID || e.FiscalPeriodID != periodID {
			continue
		}
		if e.Status != journal.StatusPosted && e.Status != journal.StatusReversed {
			continue
		}
		if strings.HasPrefix(e.ReferenceNo, RunRefPrefix) {
			continue
		}
		fp.Count++
		fp.DebitTotal += e.TotalDebitBase
		fp.CreditTotal += e.TotalCreditBase
	}
	return fp, nil
}

func (m *journalAggRepository) AccountBalances(ctx context.Context, tenantID, bookID, periodID int64) (map[int64]float64, error) {
	out := make(map[int64]float64)
	for id, e := range m.journals {
		if e.TenantID != tenantID || e.BookID != bookID || e.FiscalPeriodID != periodID {
			continue
		}
		if e.Status != journal.StatusPosted && e.Status != journal.StatusReversed {
			continue
		}
		for _, line := range m.journalLines[id] {
			out[line.AccountID] += line.DebitBase - line.CreditBase
		}
	}
	return out, nil
}

type allowAccess struct{}

func (allowAccess) EnsureLegalEntity(ctx context.Context, scope shared.ScopeContext, legalEntityID int64) error {
	return nil
}

func (allowAccess) AllowedLegalEntities(ctx context.Context, scope shared.ScopeContext) ([]int64, error) {
	return []int64{legalEntity}, nil
}

func (allowAccess) HasCashControlOverride(ctx context.Context, scope shared.ScopeContext, legalEntityID int64) (bool, error) {
	return false, nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

const (
	tenant      = int64(1)
	legalEntity = int64(100)
	bookID      = int64(10)
	decPeriod   = int64(202512)
	janPeriod   = int64(202601)
	novPeriod   = int64(202511)
	febPeriod   = int64(202602)

	cashAcct    = int64(1)
	revenueAcct = int64(2)
	expenseAcct = int64(3)
	equityAcct  = int64(4)
	payableAcct = int64(5)
	assetsRoot  = int64(6)
)

func closeChart() *accounts.Chart {
	parent := assetsRoot
	return accounts.NewChart([]accounts.Account{
		{ID: assetsRoot, LegalEntityID: legalEntity, Code: "1", Type: accounts.TypeAsset, IsActive: true},
		{ID: cashAcct, LegalEntityID: legalEntity, ParentID: &parent, Code: "1000", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: revenueAcct, LegalEntityID: legalEntity, Code: "4000", Type: accounts.TypeRevenue, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: expenseAcct, LegalEntityID: legalEntity, Code: "5000", Type: accounts.TypeExpense, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: equityAcct, LegalEntityID: legalEntity, Code: "3100", Type: accounts.TypeEquity, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: payableAcct, LegalEntityID: legalEntity, Code: "2000", Type: accounts.TypeLiability, IsActive: true, IsPostable: true, IsLeaf: true},
	})
}

func closeRepo() *mockRepository {
	repo := newMockRepository()
	repo.books[bookID] = ledger.Book{ID: bookID, TenantID: tenant, LegalEntityID: legalEntity, CalendarID: 1, CurrencyCode: "USD"}
	repo.charts[legalEntity] = closeChart()
	repo.periods[novPeriod] = ledger.FiscalPeriod{ID: novPeriod, CalendarID: 1, FiscalYear: 2025, Name: "2025-11",
		StartDate: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC)}
	repo.periods[decPeriod] = ledger.FiscalPeriod{ID: decPeriod, CalendarID: 1, FiscalYear: 2025, Name: "2025-12",
		StartDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)}
	repo.periods[janPeriod] = ledger.FiscalPeriod{ID: janPeriod, CalendarID: 1, FiscalYear: 2026, Name: "2026-01",
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)}
	repo.periods[febPeriod] = ledger.FiscalPeriod{ID: febPeriod, CalendarID: 1, FiscalYear: 2026, Name: "2026-02",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)}
	return repo
}

func closeService(repo *mockRepository) *Service {
	svc := NewService(repo, nopAudit{}, allowAccess{}, nil, slog.New(slog.DiscardHandler))
	svc.WithNow(func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) })
	return svc
}

func closeScope() shared.ScopeContext {
	return shared.ScopeContext{TenantID: tenant, ActorID: 7}
}

func yearEndInput() CloseInput {
	retained := equityAcct
	return CloseInput{
		Scope:                     closeScope(),
		BookID:                    bookID,
		FiscalPeriodID:            decPeriod,
		CloseStatus:               periodstatus.StatusSoftClosed,
		RetainedEarningsAccountID: &retained,
	}
}

func TestCloseYearEnd(t *testing.T) {
	repo := closeRepo()
	// Revenue of 500 collected in cash, no expenses.
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 1, DebitTotal: 500, CreditTotal: 500}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	result, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	run := result.Run
	assert.False(t, result.Idempotent)
	assert.Equal(t, RunCompleted, run.Status)
	assert.True(t, run.IsYearEnd)
	require.NotNil(t, run.YearEndJournalID)
	require.NotNil(t, run.CarryForwardJournalID)

	// Year-end journal: debit revenue 500, credit retained earnings 500,
	// dated at period end in the closing period.
	ye := repo.journals[*run.YearEndJournalID]
	assert.Equal(t, decPeriod, ye.FiscalPeriodID)
	assert.Equal(t, repo.periods[decPeriod].EndDate, ye.EntryDate)
	assert.Equal(t, journal.StatusPosted, ye.Status)
	yeLines := repo.journalLines[ye.ID]
	require.Len(t, yeLines, 2)
	assert.Equal(t, revenueAcct, yeLines[0].AccountID)
	assert.Equal(t, 500.0, yeLines[0].DebitBase)
	assert.Equal(t, equityAcct, yeLines[1].AccountID)
	assert.Equal(t, 500.0, yeLines[1].CreditBase)

	// Carry-forward opens January with cash 500 / retained earnings 500;
	// revenue does not carry.
	cf := repo.journals[*run.CarryForwardJournalID]
	assert.Equal(t, janPeriod, cf.FiscalPeriodID)
	assert.Equal(t, repo.periods[janPeriod].StartDate, cf.EntryDate)
	cfLines := repo.journalLines[cf.ID]
	require.Len(t, cfLines, 2)
	assert.Equal(t, cashAcct, cfLines[0].AccountID)
	assert.Equal(t, 500.0, cfLines[0].DebitBase)
	assert.Equal(t, equityAcct, cfLines[1].AccountID)
	assert.Equal(t, 500.0, cfLines[1].CreditBase)

	assert.Equal(t, periodstatus.StatusSoftClosed, repo.statuses[periodKey{bookID, decPeriod}])

	lines := repo.runLines[run.ID]
	var yearEnd, carry int
	for _, line := range lines {
		switch line.Type {
		case LineYearEnd:
			yearEnd++
		case LineCarryForward:
			carry++
		}
	}
	assert.Equal(t, 2, yearEnd)
	assert.Equal(t, 2, carry)
}

func TestCloseYearEndNetLoss(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 2, DebitTotal: 800, CreditTotal: 800}
	// Expenses 300 exceed revenue 100; payable funded the difference.
	repo.balances[decPeriod] = map[int64]float64{
		revenueAcct: -100,
		expenseAcct: 300,
		payableAcct: -200,
	}
	svc := closeService(repo)

	result, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	require.NotNil(t, result.Run.YearEndJournalID)
	yeLines := repo.journalLines[*result.Run.YearEndJournalID]
	// Revenue debited 100, expense credited 300, loss of 200 debited to
	// retained earnings.
	require.Len(t, yeLines, 3)
	assert.Equal(t, 100.0, yeLines[0].DebitBase)
	assert.Equal(t, 300.0, yeLines[1].CreditBase)
	assert.Equal(t, equityAcct, yeLines[2].AccountID)
	assert.Equal(t, 200.0, yeLines[2].DebitBase)

	cfLines := repo.journalLines[*result.Run.CarryForwardJournalID]
	require.Len(t, cfLines, 2)
	// Retained earnings carries the loss as a debit balance.
	assert.Equal(t, equityAcct, cfLines[0].AccountID)
	assert.Equal(t, 200.0, cfLines[0].DebitBase)
	assert.Equal(t, payableAcct, cfLines[1].AccountID)
	assert.Equal(t, 200.0, cfLines[1].CreditBase)
}

func TestCloseMidYear(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[janPeriod] = SourceFingerprint{Count: 3, DebitTotal: 900, CreditTotal: 900}
	repo.balances[janPeriod] = map[int64]float64{cashAcct: 250, revenueAcct: -250}
	svc := closeService(repo)

	result, err := svc.Close(context.Background(), CloseInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: janPeriod,
		CloseStatus:    periodstatus.StatusSoftClosed,
	})
	require.NoError(t, err)
	assert.False(t, result.Run.IsYearEnd)
	assert.Nil(t, result.Run.YearEndJournalID)
	require.NotNil(t, result.Run.CarryForwardJournalID)

	// Mid-year, P&L balances carry forward unchanged.
	cfLines := repo.journalLines[*result.Run.CarryForwardJournalID]
	require.Len(t, cfLines, 2)
	assert.Equal(t, cashAcct, cfLines[0].AccountID)
	assert.Equal(t, 250.0, cfLines[0].DebitBase)
	assert.Equal(t, revenueAcct, cfLines[1].AccountID)
	assert.Equal(t, 250.0, cfLines[1].CreditBase)
}

func TestCloseIdempotentReplay(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 1, DebitTotal: 500, CreditTotal: 500}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	first, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	journalsAfterFirst := len(repo.journals)

	second, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, journalsAfterFirst, len(repo.journals))
}

func TestCloseChangedFingerprintForcesNewRun(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 1, DebitTotal: 500, CreditTotal: 500}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	first, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)

	// A late posting changes the fingerprint; the same parameters now hash
	// to a different run.
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 2, DebitTotal: 700, CreditTotal: 700}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 700, revenueAcct: -700}
	second, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	assert.False(t, second.Idempotent)
	assert.NotEqual(t, first.Run.ID, second.Run.ID)
}

func TestCloseYearEndRequiresRetainedEarnings(t *testing.T) {
	repo := closeRepo()
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	in := yearEndInput()
	in.RetainedEarningsAccountID = nil
	_, err := svc.Close(context.Background(), in)
	assert.ErrorIs(t, err, ErrRetainedEarningsRequired)

	wrong := cashAcct
	in.RetainedEarningsAccountID = &wrong
	_, err = svc.Close(context.Background(), in)
	assert.ErrorIs(t, err, ErrRetainedEarningsInvalid)
}

func TestCloseHardClosedBlocked(t *testing.T) {
	repo := closeRepo()
	repo.statuses[periodKey{bookID, decPeriod}] = periodstatus.StatusHardClosed
	svc := closeService(repo)

	_, err := svc.Close(context.Background(), yearEndInput())
	assert.ErrorIs(t, err, ErrPeriodHardClosed)
}

func TestCloseNoNextPeriod(t *testing.T) {
	repo := closeRepo()
	svc := closeService(repo)

	_, err := svc.Close(context.Background(), CloseInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: febPeriod,
		CloseStatus:    periodstatus.StatusSoftClosed,
	})
	assert.ErrorIs(t, err, ledger.ErrNoNextPeriod)
}

func TestCloseInvalidStatus(t *testing.T) {
	svc := closeService(closeRepo())
	_, err := svc.Close(context.Background(), CloseInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
		CloseStatus:    periodstatus.StatusOpen,
	})
	assert.ErrorIs(t, err, ErrInvalidCloseStatus)
}

func TestReopen(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 1, DebitTotal: 500, CreditTotal: 500}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	closed, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)

	result, err := svc.Reopen(context.Background(), ReopenInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
		Reason:         "adjustment needed",
	})
	require.NoError(t, err)
	assert.Equal(t, closed.Run.ID, result.Run.ID)
	assert.Equal(t, RunReopened, result.Run.Status)
	assert.Len(t, result.ReversalJournalIDs, 2)
	assert.Equal(t, periodstatus.StatusOpen, repo.statuses[periodKey{bookID, decPeriod}])
	assert.Equal(t, "adjustment needed", result.Run.Meta["reopen_reason"])

	// Both generated journals are now REVERSED.
	assert.Equal(t, journal.StatusReversed, repo.journals[*closed.Run.CarryForwardJournalID].Status)
	assert.Equal(t, journal.StatusReversed, repo.journals[*closed.Run.YearEndJournalID].Status)

	// With the period reopened, the same close parameters rebuild the run
	// in place instead of replaying it.
	again, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	assert.False(t, again.Idempotent)
	assert.Equal(t, closed.Run.ID, again.Run.ID)
	assert.Equal(t, RunCompleted, again.Run.Status)
}

func TestReopenRequiresReason(t *testing.T) {
	svc := closeService(closeRepo())
	_, err := svc.Reopen(context.Background(), ReopenInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
	})
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestReopenWithoutRun(t *testing.T) {
	svc := closeService(closeRepo())
	_, err := svc.Reopen(context.Background(), ReopenInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
		Reason:         "nothing closed yet",
	})
	assert.ErrorIs(t, err, ErrNoCompletedRun)
}

func postSource(t *testing.T, repo *mockRepository, periodID int64, lines []journal.LineInput) {
	t.Helper()
	_, err := repo.CreateSystemJournal(context.Background(), journal.SystemInput{
		TenantID:       tenant,
		LegalEntityID:  legalEntity,
		BookID:         bookID,
		FiscalPeriodID: periodID,
		SourceType:     journal.SourceManual,
		Status:         journal.StatusPosted,
		CurrencyCode:   "USD",
		Lines:          lines,
	}, time.Now())
	require.NoError(t, err)
}

func aggService(repo *mockRepository) *Service {
	svc := NewService(&journalAggRepository{repo}, nopAudit{}, allowAccess{}, nil, slog.New(slog.DiscardHandler))
	svc.WithNow(func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) })
	return svc
}

func TestCloseCarriesOpeningBalancesForward(t *testing.T) {
	const marPeriod = int64(202603)
	repo := closeRepo()
	repo.periods[marPeriod] = ledger.FiscalPeriod{ID: marPeriod, CalendarID: 1, FiscalYear: 2026, Name: "2026-03",
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), EndDate: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)}
	svc := aggService(repo)

	postSource(t, repo, janPeriod, []journal.LineInput{
		{AccountID: cashAcct, DebitBase: 250},
		{AccountID: revenueAcct, CreditBase: 250},
	})

	jan, err := svc.Close(context.Background(), CloseInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: janPeriod,
		CloseStatus:    periodstatus.StatusSoftClosed,
	})
	require.NoError(t, err)
	require.NotNil(t, jan.Run.CarryForwardJournalID)

	// February has no activity of its own; its balances are exactly
	// January's carry-forward, which must flow on into March.
	feb, err := svc.Close(context.Background(), CloseInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: febPeriod,
		CloseStatus:    periodstatus.StatusSoftClosed,
	})
	require.NoError(t, err)
	require.NotNil(t, feb.Run.CarryForwardJournalID, "February close lost January's opening balances")
	cf := repo.journals[*feb.Run.CarryForwardJournalID]
	assert.Equal(t, marPeriod, cf.FiscalPeriodID)
	cfLines := repo.journalLines[cf.ID]
	require.Len(t, cfLines, 2)
	assert.Equal(t, cashAcct, cfLines[0].AccountID)
	assert.Equal(t, 250.0, cfLines[0].DebitBase)
	assert.Equal(t, revenueAcct, cfLines[1].AccountID)
	assert.Equal(t, 250.0, cfLines[1].CreditBase)
}

func TestCloseAfterReopenRebuildsFromSources(t *testing.T) {
	repo := closeRepo()
	svc := aggService(repo)

	postSource(t, repo, decPeriod, []journal.LineInput{
		{AccountID: cashAcct, DebitBase: 500},
		{AccountID: revenueAcct, CreditBase: 500},
	})

	_, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	_, err = svc.Reopen(context.Background(), ReopenInput{
		Scope:          closeScope(),
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
		Reason:         "late adjustment",
	})
	require.NoError(t, err)

	// The reversed close journals and their reversals net to zero, so the
	// rebuilt run sees the original source balances, not doubled ones.
	again, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)
	assert.False(t, again.Idempotent)

	require.NotNil(t, again.Run.YearEndJournalID)
	yeLines := repo.journalLines[*again.Run.YearEndJournalID]
	require.Len(t, yeLines, 2)
	assert.Equal(t, revenueAcct, yeLines[0].AccountID)
	assert.Equal(t, 500.0, yeLines[0].DebitBase)
	assert.Equal(t, equityAcct, yeLines[1].AccountID)
	assert.Equal(t, 500.0, yeLines[1].CreditBase)

	require.NotNil(t, again.Run.CarryForwardJournalID)
	cfLines := repo.journalLines[*again.Run.CarryForwardJournalID]
	require.Len(t, cfLines, 2)
	assert.Equal(t, cashAcct, cfLines[0].AccountID)
	assert.Equal(t, 500.0, cfLines[0].DebitBase)
	assert.Equal(t, equityAcct, cfLines[1].AccountID)
	assert.Equal(t, 500.0, cfLines[1].CreditBase)
}

func TestCloseRollupLines(t *testing.T) {
	repo := closeRepo()
	repo.fingerprints[decPeriod] = SourceFingerprint{Count: 1, DebitTotal: 500, CreditTotal: 500}
	repo.balances[decPeriod] = map[int64]float64{cashAcct: 500, revenueAcct: -500}
	svc := closeService(repo)

	result, err := svc.Close(context.Background(), yearEndInput())
	require.NoError(t, err)

	var rollup []RunLine
	for _, line := range repo.runLines[result.Run.ID] {
		if line.Type == LineRollup {
			rollup = append(rollup, line)
		}
	}
	// Cash rolls up to the asset root; retained earnings has no parent and
	// is already reported directly.
	require.Len(t, rollup, 1)
	assert.Equal(t, assetsRoot, rollup[0].AccountID)
	assert.Equal(t, 500.0, rollup[0].ClosingBalance)
	assert.Zero(t, rollup[0].DebitBase)
	assert.Zero(t, rollup[0].CreditBase)
}

func TestRunHashDeterministic(t *testing.T) {
	params := HashParams{
		TenantID:       tenant,
		BookID:         bookID,
		FiscalPeriodID: decPeriod,
		NextPeriodID:   janPeriod,
		CloseStatus:    periodstatus.StatusSoftClosed,
		IsYearEnd:      true,
		Fingerprint:    SourceFingerprint{Count: 3, DebitTotal: 100, CreditTotal: 100},
	}
	assert.Equal(t, RunHash(params), RunHash(params))

	changed := params
	changed.Fingerprint.Count = 4
	assert.NotEqual(t, RunHash(params), RunHash(changed))
}
