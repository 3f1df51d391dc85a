package periodstatus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	rows map[[2]int64]Row
}

func (m *mockRepo) Get(ctx context.Context, bookID, periodID int64) (Row, bool, error) {
	row, ok := m.rows[[2]int64{bookID, periodID}]
	return row, ok, nil
}

func (m *mockRepo) Set(ctx context.Context, in Upsert) error {
	if m.rows == nil {
		m.rows = make(map[[2]int64]Row)
	}
	m.rows[[2]int64{in.BookID, in.FiscalPeriodID}] = Row{
		BookID:         in.BookID,
		FiscalPeriodID: in.FiscalPeriodID,
		Status:         in.Status,
		Note:           in.Note,
	}
	return nil
}

func TestEffectiveDefaultsToOpen(t *testing.T) {
	reg := NewRegistry(&mockRepo{})
	status, err := reg.Effective(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, status)
}

func TestEnsureOpenEmbedsAction(t *testing.T) {
	repo := &mockRepo{rows: map[[2]int64]Row{
		{10, 3}: {BookID: 10, FiscalPeriodID: 3, Status: StatusHardClosed},
	}}
	reg := NewRegistry(repo)

	err := reg.EnsureOpen(context.Background(), 10, 3, "journal.post")
	require.ErrorIs(t, err, ErrPeriodNotOpen)
	assert.Contains(t, err.Error(), "journal.post")
	assert.Contains(t, err.Error(), "HARD_CLOSED")
}

func TestEnsureOpenPassesForOpenPeriod(t *testing.T) {
	repo := &mockRepo{rows: map[[2]int64]Row{
		{10, 3}: {BookID: 10, FiscalPeriodID: 3, Status: StatusOpen},
	}}
	reg := NewRegistry(repo)
	assert.NoError(t, reg.EnsureOpen(context.Background(), 10, 3, "journal.create"))
}
