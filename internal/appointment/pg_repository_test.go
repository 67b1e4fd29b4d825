package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotColumns = []string{"id", "provider_id", "slot_date", "start_time", "end_time", "is_available", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgClaimSlot(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectExec(`UPDATE appointment_slots\s+SET is_available = false`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE appointment_slots\s+SET is_available = false`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.ClaimSlot(ctx, id)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimSlot(ctx, id)
	require.NoError(t, err)
	assert.False(t, won)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetSlotByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	id, providerID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM appointment_slots\s+WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(slotColumns).
			AddRow(id, providerID, "2025-06-01", "09:00", "09:30", true, now, now))
	mock.ExpectQuery(`FROM appointment_slots\s+WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(slotColumns))

	slot, err := repo.GetSlotByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, providerID, slot.ProviderID)
	assert.Equal(t, "09:30", slot.EndTime)
	assert.True(t, slot.IsAvailable)

	_, err = repo.GetSlotByID(ctx, id)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListSlotsBuildsFilter(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	providerID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`is_available = true AND slot_date = \$1 AND provider_id = \$2 ORDER BY slot_date ASC, start_time ASC`).
		WithArgs("2025-06-01", providerID).
		WillReturnRows(pgxmock.NewRows(slotColumns).
			AddRow(uuid.New(), providerID, "2025-06-01", "09:00", "09:30", true, now, now).
			AddRow(uuid.New(), providerID, "2025-06-01", "10:00", "10:30", true, now, now))

	slots, err := repo.ListSlots(ctx, SlotFilter{Date: "2025-06-01", ProviderID: &providerID, OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "10:00", slots[1].StartTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindOverlappingSlotArgs(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	providerID := uuid.New()

	// end is compared against start_time and start against end_time
	mock.ExpectQuery(`start_time < \$3\s+AND end_time > \$4`).
		WithArgs(providerID, "2025-06-01", "09:45", "09:15", uuid.Nil).
		WillReturnRows(pgxmock.NewRows(slotColumns))

	_, err := repo.FindOverlappingSlot(ctx, providerID, "2025-06-01", "09:15", "09:45", uuid.Nil)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateAppointmentStatusConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectQuery(`UPDATE appointments`).
		WithArgs(id, "cancelled", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), []string{"pending"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.UpdateAppointmentStatus(ctx, StatusUpdate{
		ID:   id,
		From: []Status{StatusPending},
		To:   StatusCancelled,
		At:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrStatusConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgNextWaitlistPosition(t *testing.T) {
	mock, repo := newMockRepo(t)
	slotID := uuid.New()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(position\), 0\) \+ 1\s+FROM waitlist_entries\s+WHERE slot_id = \$1`).
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(4))

	next, err := repo.NextWaitlistPosition(context.Background(), slotID)
	require.NoError(t, err)
	assert.Equal(t, 4, next)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertWaitlistEntryDuplicate(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO waitlist_entries`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "waitlist_entries_waiting_user_idx"})

	_, err := repo.InsertWaitlistEntry(context.Background(), WaitlistEntry{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		SlotID:    uuid.New(),
		Position:  1,
		CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrAlreadyWaitlisted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListWaitlistByUser(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID, slotID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM waitlist_entries\s+WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "slot_id", "position", "status", "created_at", "updated_at"}).
			AddRow(uuid.New(), userID, slotID, 2, "promoted", now, now).
			AddRow(uuid.New(), userID, slotID, 1, "expired", now, now))

	entries, err := repo.ListWaitlistByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, WaitlistPromoted, entries[0].Status)
	assert.Equal(t, 2, entries[0].Position)
	assert.Equal(t, WaitlistExpired, entries[1].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithinTx(t *testing.T) {
	ctx := context.Background()
	slotID := uuid.New()

	t.Run("commits on success", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE appointment_slots`).
			WithArgs(slotID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := repo.WithinTx(ctx, func(tx Repository) error {
			_, err := tx.ClaimSlot(ctx, slotID)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := repo.WithinTx(ctx, func(tx Repository) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := repo.WithinTx(ctx, func(tx Repository) error { return nil })
		assert.ErrorContains(t, err, "begin tx")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgProviderWaitStats(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	providerID, slotID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	avg := 45

	mock.ExpectQuery(`SELECT\s+\(SELECT count\(\*\)\s+FROM appointments a`).
		WithArgs(providerID, "2025-06-01").
		WillReturnRows(pgxmock.NewRows([]string{"ahead", "avg"}).AddRow(3, &avg))
	mock.ExpectQuery(`FROM appointment_slots\s+WHERE provider_id = \$1\s+AND is_available = true`).
		WithArgs(providerID, "2025-06-01").
		WillReturnRows(pgxmock.NewRows(slotColumns).
			AddRow(slotID, providerID, "2025-06-02", "09:00", "09:45", true, now, now))

	stats, err := repo.ProviderWaitStats(ctx, providerID, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Ahead)
	require.NotNil(t, stats.AvgSlotMinutes)
	assert.Equal(t, 45, *stats.AvgSlotMinutes)
	require.NotNil(t, stats.NextAvailable)
	assert.Equal(t, slotID, stats.NextAvailable.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgProviderWaitStatsNoOpenSlot(t *testing.T) {
	mock, repo := newMockRepo(t)
	ctx := context.Background()
	providerID := uuid.New()
	avg := 30

	mock.ExpectQuery(`SELECT\s+\(SELECT count\(\*\)\s+FROM appointments a`).
		WithArgs(providerID, "2025-06-01").
		WillReturnRows(pgxmock.NewRows([]string{"ahead", "avg"}).AddRow(5, &avg))
	mock.ExpectQuery(`FROM appointment_slots\s+WHERE provider_id = \$1\s+AND is_available = true`).
		WithArgs(providerID, "2025-06-01").
		WillReturnRows(pgxmock.NewRows(slotColumns))

	stats, err := repo.ProviderWaitStats(ctx, providerID, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Ahead)
	assert.Nil(t, stats.NextAvailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}
