package journal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gl/meridian-gl/internal/gl/accounts"
	"github.com/meridian-gl/meridian-gl/internal/gl/ledger"
	"github.com/meridian-gl/meridian-gl/internal/gl/periodstatus"
	"github.com/meridian-gl/meridian-gl/internal/shared"
)

type periodKey struct{ book, period int64 }
type commitKey struct{ journal, shareholder int64 }

// mockRepository is an in-memory stand-in for the pgx repository. WithTx
// runs the callback against the same store; rollback semantics are not
// simulated because the tests assert on returned errors, not on partial
// state.
type mockRepository struct {
	nextID       int64
	nextNo       int64
	entries      map[int64]*JournalEntry
	lines        map[int64][]JournalLine
	periods      map[periodKey]periodstatus.Status
	books        map[int64]ledger.Book
	charts       map[int64]*accounts.Chart
	profiles     map[int64]ICProfile
	pairs        map[[2]int64]bool
	units        map[int64]OperatingUnit
	shareholders []Shareholder
	commits      map[commitKey]bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		entries:  make(map[int64]*JournalEntry),
		lines:    make(map[int64][]JournalLine),
		periods:  make(map[periodKey]periodstatus.Status),
		books:    make(map[int64]ledger.Book),
		charts:   make(map[int64]*accounts.Chart),
		profiles: make(map[int64]ICProfile),
		pairs:    make(map[[2]int64]bool),
		units:    make(map[int64]OperatingUnit),
		commits:  make(map[commitKey]bool),
	}
}

func (m *mockRepository) List(ctx context.Context, tenantID int64, filter ListFilter) ([]JournalEntry, error) {
	allowed := make(map[int64]bool, len(filter.LegalEntityIDs))
	for _, id := range filter.LegalEntityIDs {
		allowed[id] = true
	}
	var out []JournalEntry
	for id := int64(1); id <= m.nextID; id++ {
		e, ok := m.entries[id]
		if !ok || e.TenantID != tenantID {
			continue
		}
		if len(allowed) > 0 && !allowed[e.LegalEntityID] {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (m *mockRepository) GetWithLines(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	e, err := m.GetEntryForUpdate(ctx, tenantID, id)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = append([]JournalLine(nil), m.lines[id]...)
	return e, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) InsertEntry(ctx context.Context, e *JournalEntry) error {
	m.nextID++
	m.nextNo++
	e.ID = m.nextID
	e.JournalNo = m.nextNo
	e.CreatedAt = time.Now()
	cp := *e
	cp.Lines = nil
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockRepository) InsertLines(ctx context.Context, journalID int64, lines []JournalLine) error {
	for i := range lines {
		lines[i].JournalID = journalID
	}
	m.lines[journalID] = append([]JournalLine(nil), lines...)
	return nil
}

func (m *mockRepository) GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	e, ok := m.entries[id]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, ErrJournalNotFound
	}
	return *e, nil
}

func (m *mockRepository) GetLines(ctx context.Context, journalID int64) ([]JournalLine, error) {
	return append([]JournalLine(nil), m.lines[journalID]...), nil
}

func (m *mockRepository) MarkPosted(ctx context.Context, id, actorID int64, at time.Time) (bool, error) {
	e, ok := m.entries[id]
	if !ok || e.Status != StatusDraft {
		return false, nil
	}
	e.Status = StatusPosted
	e.PostedBy = &actorID
	t := at
	e.PostedAt = &t
	return true, nil
}

func (m *mockRepository) MarkReversed(ctx context.Context, id, reversalID, actorID int64, at time.Time) (bool, error) {
	e, ok := m.entries[id]
	if !ok || e.Status != StatusPosted || e.ReversalJournalID != nil {
		return false, nil
	}
	e.Status = StatusReversed
	e.ReversalJournalID = &reversalID
	e.ReversedBy = &actorID
	t := at
	e.ReversedAt = &t
	return true, nil
}

func (m *mockRepository) FindReversalOf(ctx context.Context, tenantID, originalID int64) (*JournalEntry, error) {
	for id := int64(1); id <= m.nextID; id++ {
		e, ok := m.entries[id]
		if ok && e.TenantID == tenantID && e.ReversalOfID != nil && *e.ReversalOfID == originalID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepository) Mirrors(ctx context.Context, tenantID, sourceID int64) ([]JournalEntry, error) {
	var out []JournalEntry
	for id := int64(1); id <= m.nextID; id++ {
		e, ok := m.entries[id]
		if ok && e.TenantID == tenantID && e.IntercompanySourceID != nil && *e.IntercompanySourceID == sourceID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *mockRepository) PeriodStatus(ctx context.Context, bookID, periodID int64) (periodstatus.Status, error) {
	if st, ok := m.periods[periodKey{bookID, periodID}]; ok {
		return st, nil
	}
	return periodstatus.StatusOpen, nil
}

func (m *mockRepository) Book(ctx context.Context, tenantID, bookID int64) (ledger.Book, error) {
	b, ok := m.books[bookID]
	if !ok {
		return ledger.Book{}, ledger.ErrBookNotFound
	}
	return b, nil
}

func (m *mockRepository) Period(ctx context.Context, periodID int64) (ledger.FiscalPeriod, error) {
	return ledger.FiscalPeriod{ID: periodID}, nil
}

func (m *mockRepository) LoadChart(ctx context.Context, tenantID, legalEntityID int64) (*accounts.Chart, error) {
	c, ok := m.charts[legalEntityID]
	if !ok {
		return accounts.NewChart(nil), nil
	}
	return c, nil
}

func (m *mockRepository) AccountByCode(ctx context.Context, tenantID, legalEntityID int64, code string) (accounts.Account, error) {
	chart, ok := m.charts[legalEntityID]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	for id := int64(1); id < 100; id++ {
		a, err := chart.Get(id)
		if err == nil && a.Code == code && a.LegalEntityID == legalEntityID {
			return a, nil
		}
	}
	return accounts.Account{}, accounts.ErrAccountNotFound
}

func (m *mockRepository) IntercompanyProfile(ctx context.Context, tenantID, legalEntityID int64) (ICProfile, error) {
	if p, ok := m.profiles[legalEntityID]; ok {
		return p, nil
	}
	return ICProfile{LegalEntityID: legalEntityID}, nil
}

func (m *mockRepository) ActivePairExists(ctx context.Context, tenantID, entityA, entityB int64) (bool, error) {
	if entityA > entityB {
		entityA, entityB = entityB, entityA
	}
	return m.pairs[[2]int64{entityA, entityB}], nil
}

func (m *mockRepository) OperatingUnits(ctx context.Context, tenantID int64, ids []int64) (map[int64]OperatingUnit, error) {
	out := make(map[int64]OperatingUnit)
	for _, id := range ids {
		if u, ok := m.units[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *mockRepository) LockShareholders(ctx context.Context, tenantID, legalEntityID int64) ([]Shareholder, error) {
	var out []Shareholder
	for _, s := range m.shareholders {
		if s.LegalEntityID == legalEntityID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepository) InsertCommitmentAudit(ctx context.Context, journalID, shareholderID int64) (bool, error) {
	k := commitKey{journalID, shareholderID}
	if m.commits[k] {
		return false, nil
	}
	m.commits[k] = true
	return true, nil
}

func (m *mockRepository) AddCommittedCapital(ctx context.Context, shareholderID int64, amount float64) error {
	for i := range m.shareholders {
		if m.shareholders[i].ID == shareholderID {
			m.shareholders[i].CommittedCapital += amount
			return nil
		}
	}
	return errors.New("shareholder not found")
}

type stubAccess struct {
	allowed  []int64
	override bool
}

func (a stubAccess) EnsureLegalEntity(ctx context.Context, scope shared.ScopeContext, legalEntityID int64) error {
	for _, id := range a.allowed {
		if id == legalEntityID {
			return nil
		}
	}
	return shared.ErrScopeDenied
}

func (a stubAccess) AllowedLegalEntities(ctx context.Context, scope shared.ScopeContext) ([]int64, error) {
	return a.allowed, nil
}

func (a stubAccess) HasCashControlOverride(ctx context.Context, scope shared.ScopeContext, legalEntityID int64) (bool, error) {
	return a.override, nil
}

// stubGuard answers the pre-transaction period check from the same map the
// mock repository uses in-transaction.
type stubGuard struct{ repo *mockRepository }

func (g stubGuard) EnsureOpen(ctx context.Context, bookID, periodID int64, action string) error {
	st, _ := g.repo.PeriodStatus(context.Background(), bookID, periodID)
	if st != periodstatus.StatusOpen {
		return periodstatus.NotOpenError(action, bookID, periodID, st)
	}
	return nil
}

type stubAudit struct{ events []shared.AuditLog }

func (a *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.events = append(a.events, log)
	return nil
}

func testChart(legalEntityID int64) *accounts.Chart {
	return accounts.NewChart([]accounts.Account{
		{ID: 1, LegalEntityID: legalEntityID, Code: "1000", Name: "Cash", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true, IsCashControlled: true},
		{ID: 2, LegalEntityID: legalEntityID, Code: "4000", Name: "Revenue", Type: accounts.TypeRevenue, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 3, LegalEntityID: legalEntityID, Code: "1200", Name: "AR", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 4, LegalEntityID: legalEntityID, Code: "3000", Name: "Capital", Type: accounts.TypeEquity, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 5, LegalEntityID: legalEntityID, Code: "9999", Name: "Summary", Type: accounts.TypeAsset, IsActive: true, IsPostable: false, IsLeaf: false},
	})
}

func newTestService(repo *mockRepository, access stubAccess, mode CashControlMode) (*Service, *stubAudit) {
	audit := &stubAudit{}
	svc := NewService(repo, audit, stubGuard{repo: repo}, access, slog.New(slog.DiscardHandler), Config{CashControl: mode})
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) })
	return svc, audit
}

func baseRepo() *mockRepository {
	repo := newMockRepository()
	repo.books[10] = ledger.Book{ID: 10, TenantID: 1, LegalEntityID: 100, CalendarID: 1, CurrencyCode: "USD"}
	repo.charts[100] = testChart(100)
	return repo
}

func scope() shared.ScopeContext {
	return shared.ScopeContext{TenantID: 1, ActorID: 7}
}

func createInput(lines []LineInput) CreateInput {
	return CreateInput{
		Scope:          scope(),
		LegalEntityID:  100,
		BookID:         10,
		FiscalPeriodID: 202603,
		SourceType:     SourceManual,
		EntryDate:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		CurrencyCode:   "USD",
		Description:    "March accrual",
		Lines:          lines,
	}
}

func arRevenueLines(amount float64) []LineInput {
	return []LineInput{
		{AccountID: 3, DebitBase: amount},
		{AccountID: 2, CreditBase: amount},
	}
}

func TestCreateDraft(t *testing.T) {
	repo := baseRepo()
	svc, audit := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(250)))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, res.Entry.Status)
	assert.Equal(t, int64(1), res.Entry.JournalNo)
	assert.Equal(t, 250.0, res.Entry.TotalDebitBase)
	assert.Equal(t, 250.0, res.Entry.TotalCreditBase)
	require.Len(t, res.Entry.Lines, 2)
	assert.Equal(t, int32(1), res.Entry.Lines[0].LineNo)
	assert.Equal(t, int32(2), res.Entry.Lines[1].LineNo)
	require.Len(t, audit.events, 1)
	assert.Equal(t, "journal.create", audit.events[0].Action)
}

func TestCreateDraftUnbalanced(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput([]LineInput{
		{AccountID: 3, DebitBase: 100},
		{AccountID: 2, CreditBase: 99.5},
	}))
	assert.ErrorIs(t, err, ErrUnbalanced)
}

func TestCreateDraftBalanceWithinEpsilon(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput([]LineInput{
		{AccountID: 3, DebitBase: 100.00005},
		{AccountID: 2, CreditBase: 100.00001},
	}))
	assert.NoError(t, err)
}

func TestCreateDraftRejectsBothSides(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput([]LineInput{
		{AccountID: 3, DebitBase: 50, CreditBase: 50},
		{AccountID: 2, CreditBase: 0},
	}))
	assert.ErrorIs(t, err, ErrBothSides)
}

func TestCreateDraftReservedSourceType(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	in := createInput(arRevenueLines(10))
	in.SourceType = SourceSystem
	_, err := svc.CreateDraft(context.Background(), in)
	assert.ErrorIs(t, err, ErrSourceTypeReserved)
}

func TestCreateDraftPeriodClosed(t *testing.T) {
	repo := baseRepo()
	repo.periods[periodKey{10, 202603}] = periodstatus.StatusSoftClosed
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(10)))
	assert.ErrorIs(t, err, periodstatus.ErrPeriodNotOpen)
}

func TestCreateDraftScopeDenied(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{999}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(10)))
	assert.ErrorIs(t, err, shared.ErrScopeDenied)
}

func TestCreateDraftNonPostableAccount(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	_, err := svc.CreateDraft(context.Background(), createInput([]LineInput{
		{AccountID: 5, DebitBase: 10},
		{AccountID: 2, CreditBase: 10},
	}))
	assert.ErrorIs(t, err, accounts.ErrAccountNotPostable)
}

func TestCreateDraftSubledgerRequired(t *testing.T) {
	repo := baseRepo()
	repo.units[40] = OperatingUnit{ID: 40, SubledgerRequired: true}
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	unit := int64(40)
	in := createInput([]LineInput{
		{AccountID: 3, DebitBase: 10, OperatingUnitID: &unit},
		{AccountID: 2, CreditBase: 10},
	})
	_, err := svc.CreateDraft(context.Background(), in)
	assert.ErrorIs(t, err, ErrSubledgerRefRequired)

	in.Lines[0].SubledgerRef = "AR-1001"
	_, err = svc.CreateDraft(context.Background(), in)
	assert.NoError(t, err)
}

func TestCashControlEnforce(t *testing.T) {
	cashLines := []LineInput{
		{AccountID: 1, DebitBase: 10},
		{AccountID: 2, CreditBase: 10},
	}

	t.Run("blocked without override", func(t *testing.T) {
		svc, _ := newTestService(baseRepo(), stubAccess{allowed: []int64{100}}, CashControlEnforce)
		_, err := svc.CreateDraft(context.Background(), createInput(cashLines))
		assert.ErrorIs(t, err, ErrCashControlBlocked)
	})

	t.Run("override requires reason", func(t *testing.T) {
		svc, _ := newTestService(baseRepo(), stubAccess{allowed: []int64{100}, override: true}, CashControlEnforce)
		_, err := svc.CreateDraft(context.Background(), createInput(cashLines))
		assert.ErrorIs(t, err, ErrOverrideReasonRequired)
	})

	t.Run("override with reason passes", func(t *testing.T) {
		svc, _ := newTestService(baseRepo(), stubAccess{allowed: []int64{100}, override: true}, CashControlEnforce)
		in := createInput(cashLines)
		in.CashOverrideReason = "bank reconciliation correction"
		_, err := svc.CreateDraft(context.Background(), in)
		assert.NoError(t, err)
	})

	t.Run("warn mode passes", func(t *testing.T) {
		svc, _ := newTestService(baseRepo(), stubAccess{allowed: []int64{100}}, CashControlWarn)
		_, err := svc.CreateDraft(context.Background(), createInput(cashLines))
		assert.NoError(t, err)
	})
}

func TestPostDraft(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(100)))
	require.NoError(t, err)

	posted, err := svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)

	// Posting again is a no-op that returns the current row.
	again, err := svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, again.Status)
	assert.Equal(t, posted.PostedAt.Unix(), again.PostedAt.Unix())
}

func TestPostByOtherActorStampsPoster(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(60)))
	require.NoError(t, err)

	// A controller posts the clerk's draft; posted_by records the
	// controller, created_by stays with the clerk.
	controller := shared.ScopeContext{TenantID: 1, ActorID: 9}
	posted, err := svc.Post(context.Background(), PostInput{Scope: controller, JournalID: res.Entry.ID})
	require.NoError(t, err)
	require.NotNil(t, posted.PostedBy)
	assert.Equal(t, int64(9), *posted.PostedBy)
	assert.Equal(t, int64(7), posted.CreatedBy)
}

func TestPostClosedPeriod(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(100)))
	require.NoError(t, err)

	repo.periods[periodKey{10, 202603}] = periodstatus.StatusHardClosed
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	assert.ErrorIs(t, err, periodstatus.ErrPeriodNotOpen)
}

func TestReverseAutoPost(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(300)))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), ReverseInput{
		Scope:     scope(),
		JournalID: res.Entry.ID,
		Reason:    "duplicate entry",
		AutoPost:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, rev.Reversal.Status)
	assert.Equal(t, StatusReversed, rev.Original.Status)
	assert.Equal(t, "Reversal of 1", rev.Reversal.Description)
	require.NotNil(t, rev.Original.ReversalJournalID)
	assert.Equal(t, rev.Reversal.ID, *rev.Original.ReversalJournalID)

	// Sides flip 1:1.
	require.Len(t, rev.Reversal.Lines, 2)
	assert.Equal(t, 300.0, rev.Reversal.Lines[0].CreditBase)
	assert.Equal(t, 300.0, rev.Reversal.Lines[1].DebitBase)

	_, err = svc.Reverse(context.Background(), ReverseInput{
		Scope:     scope(),
		JournalID: res.Entry.ID,
		Reason:    "again",
		AutoPost:  true,
	})
	assert.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestReverseDraftStaysDraft(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(80)))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	require.NoError(t, err)

	rev, err := svc.Reverse(context.Background(), ReverseInput{
		Scope:     scope(),
		JournalID: res.Entry.ID,
		Reason:    "posted to wrong account",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rev.Reversal.Status)
	assert.Equal(t, StatusPosted, rev.Original.Status)

	// Posting the reversal draft finalizes the original as REVERSED.
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: rev.Reversal.ID})
	require.NoError(t, err)
	original, err := repo.GetEntryForUpdate(context.Background(), 1, res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, original.Status)

	// A second reversal of the same original is blocked even while the
	// first reversal is still a draft.
	res2, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(80)))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res2.Entry.ID})
	require.NoError(t, err)
	_, err = svc.Reverse(context.Background(), ReverseInput{Scope: scope(), JournalID: res2.Entry.ID, Reason: "first"})
	require.NoError(t, err)
	_, err = svc.Reverse(context.Background(), ReverseInput{Scope: scope(), JournalID: res2.Entry.ID, Reason: "second"})
	assert.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestReverseRejectsDraftOriginal(t *testing.T) {
	repo := baseRepo()
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput(arRevenueLines(10)))
	require.NoError(t, err)
	_, err = svc.Reverse(context.Background(), ReverseInput{Scope: scope(), JournalID: res.Entry.ID, Reason: "nope"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestShareholderCommitment(t *testing.T) {
	repo := baseRepo()
	repo.shareholders = []Shareholder{
		{ID: 1, LegalEntityID: 100, CapitalAccountID: 4, CommittedCapital: 1000},
	}
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	res, err := svc.CreateDraft(context.Background(), createInput([]LineInput{
		{AccountID: 3, DebitBase: 500},
		{AccountID: 4, CreditBase: 500},
	}))
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID})
	require.NoError(t, err)
	assert.Equal(t, 1500.0, repo.shareholders[0].CommittedCapital)

	// Re-applying the same journal is idempotent through the audit row.
	err = svc.applyShareholderCommitments(context.Background(), repo,
		*repo.entries[res.Entry.ID], repo.lines[res.Entry.ID])
	require.NoError(t, err)
	assert.Equal(t, 1500.0, repo.shareholders[0].CommittedCapital)
}

func TestIntercompanyMirror(t *testing.T) {
	repo := baseRepo()
	repo.charts[200] = accounts.NewChart([]accounts.Account{
		{ID: 21, LegalEntityID: 200, Code: "1200", Name: "AR", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 22, LegalEntityID: 200, Code: "2100", Name: "IC Payable", Type: accounts.TypeLiability, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 23, LegalEntityID: 200, Code: "1300", Name: "IC Receivable", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true},
	})
	repo.profiles[100] = ICProfile{LegalEntityID: 100, Enabled: true, BookID: 10, ReceivableAccountID: 3, PayableAccountID: 2}
	repo.profiles[200] = ICProfile{LegalEntityID: 200, Enabled: true, BookID: 20, ReceivableAccountID: 23, PayableAccountID: 22}
	repo.pairs[[2]int64{100, 200}] = true

	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	counterparty := int64(200)
	in := createInput([]LineInput{
		{AccountID: 3, DebitBase: 400, CounterpartyLegalEntityID: &counterparty},
		{AccountID: 2, CreditBase: 400},
	})
	in.SourceType = SourceIntercompany
	in.AutoMirror = true

	res, err := svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Mirrors, 1)

	mirror := res.Mirrors[0]
	assert.Equal(t, int64(200), mirror.LegalEntityID)
	assert.Equal(t, int64(20), mirror.BookID)
	assert.Equal(t, SourceIntercompany, mirror.SourceType)
	assert.Equal(t, StatusDraft, mirror.Status)
	require.NotNil(t, mirror.IntercompanySourceID)
	assert.Equal(t, res.Entry.ID, *mirror.IntercompanySourceID)

	// The counterparty slice was a 400 debit; the mirror credits the
	// code-matched account and squares against the configured receivable.
	require.Len(t, mirror.Lines, 2)
	assert.Equal(t, int64(21), mirror.Lines[0].AccountID)
	assert.Equal(t, 400.0, mirror.Lines[0].CreditBase)
	assert.Equal(t, int64(23), mirror.Lines[1].AccountID)
	assert.Equal(t, 400.0, mirror.Lines[1].DebitBase)
	assert.Equal(t, mirror.TotalDebitBase, mirror.TotalCreditBase)
}

func TestIntercompanyNoActivePair(t *testing.T) {
	repo := baseRepo()
	repo.profiles[100] = ICProfile{LegalEntityID: 100, Enabled: true, BookID: 10}
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100}}, CashControlOff)

	counterparty := int64(200)
	in := createInput([]LineInput{
		{AccountID: 3, DebitBase: 50, CounterpartyLegalEntityID: &counterparty},
		{AccountID: 2, CreditBase: 50},
	})
	in.SourceType = SourceIntercompany
	_, err := svc.CreateDraft(context.Background(), in)
	assert.ErrorIs(t, err, ErrNoActivePair)
}

func TestPostCluster(t *testing.T) {
	repo := baseRepo()
	repo.books[20] = ledger.Book{ID: 20, TenantID: 1, LegalEntityID: 200, CalendarID: 1, CurrencyCode: "USD"}
	repo.charts[200] = accounts.NewChart([]accounts.Account{
		{ID: 23, LegalEntityID: 200, Code: "1300", Name: "IC Receivable", Type: accounts.TypeAsset, IsActive: true, IsPostable: true, IsLeaf: true},
		{ID: 22, LegalEntityID: 200, Code: "2100", Name: "IC Payable", Type: accounts.TypeLiability, IsActive: true, IsPostable: true, IsLeaf: true},
	})
	repo.profiles[100] = ICProfile{LegalEntityID: 100, Enabled: true, BookID: 10, ReceivableAccountID: 3, PayableAccountID: 2}
	repo.profiles[200] = ICProfile{LegalEntityID: 200, Enabled: true, BookID: 20, ReceivableAccountID: 23, PayableAccountID: 22}
	repo.pairs[[2]int64{100, 200}] = true
	svc, _ := newTestService(repo, stubAccess{allowed: []int64{100, 200}}, CashControlOff)

	counterparty := int64(200)
	in := createInput([]LineInput{
		{AccountID: 3, DebitBase: 120, CounterpartyLegalEntityID: &counterparty},
		{AccountID: 2, CreditBase: 120},
	})
	in.SourceType = SourceIntercompany
	in.AutoMirror = true
	res, err := svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, res.Mirrors, 1)

	t.Run("mirror period closed blocks whole cluster", func(t *testing.T) {
		repo.periods[periodKey{20, 202603}] = periodstatus.StatusSoftClosed
		_, err := svc.Post(context.Background(), PostInput{Scope: scope(), JournalID: res.Entry.ID, Cluster: true})
		assert.ErrorIs(t, err, periodstatus.ErrPeriodNotOpen)
	})

	t.Run("posts source and mirror together", func(t *testing.T) {
		repo.periods[periodKey{20, 202603}] = periodstatus.StatusOpen
		poster := shared.ScopeContext{TenantID: 1, ActorID: 9}
		posted, err := svc.Post(context.Background(), PostInput{Scope: poster, JournalID: res.Entry.ID, Cluster: true})
		require.NoError(t, err)
		assert.Equal(t, StatusPosted, posted.Status)
		require.NotNil(t, posted.PostedBy)
		assert.Equal(t, int64(9), *posted.PostedBy)
		mirror, err := repo.GetEntryForUpdate(context.Background(), 1, res.Mirrors[0].ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPosted, mirror.Status)
		// The mirror posts under its creator, not the caller.
		require.NotNil(t, mirror.PostedBy)
		assert.Equal(t, mirror.CreatedBy, *mirror.PostedBy)
	})
}

func TestListScoped(t *testing.T) {
	repo := baseRepo()
	repo.books[20] = ledger.Book{ID: 20, TenantID: 1, LegalEntityID: 200, CalendarID: 1, CurrencyCode: "USD"}
	repo.charts[200] = testChart(200)
	svcA, _ := newTestService(repo, stubAccess{allowed: []int64{100, 200}}, CashControlOff)

	_, err := svcA.CreateDraft(context.Background(), createInput(arRevenueLines(10)))
	require.NoError(t, err)
	in := createInput(arRevenueLines(20))
	in.LegalEntityID = 200
	in.BookID = 20
	_, err = svcA.CreateDraft(context.Background(), in)
	require.NoError(t, err)

	svcB, _ := newTestService(repo, stubAccess{allowed: []int64{200}}, CashControlOff)
	list, err := svcB.List(context.Background(), scope(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(200), list[0].LegalEntityID)

	none, _ := newTestService(repo, stubAccess{}, CashControlOff)
	empty, err := none.List(context.Background(), scope(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
