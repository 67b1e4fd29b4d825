package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

const (
	userCols = `id, name, email, role, created_at, updated_at`

	providerCols = `p.id, p.user_id, u.name, u.email, p.specialization, p.phone, p.created_at, p.updated_at`

	slotCols = `id, provider_id, slot_date, start_time, end_time, is_available, created_at, updated_at`

	appointmentCols = `id, user_id, slot_id, provider_id, status, notes,
		confirmed_at, completed_at, cancelled_at, created_at, updated_at`

	waitlistCols = `id, user_id, slot_id, position, status, created_at, updated_at`

	historyCols = `id, appointment_id, from_status, to_status, changed_by, reason, created_at`
)

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Role = Role(role)
	return &u, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Email,
		&p.Specialization,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.SlotID,
		&a.ProviderID,
		&status,
		&a.Notes,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	return &a, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	var status string

	err := row.Scan(&e.ID, &e.UserID, &e.SlotID, &e.Position, &status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}

	e.Status = WaitlistStatus(status)
	return &e, nil
}

func scanHistory(row pgx.Row) (*StatusHistory, error) {
	var h StatusHistory
	var from *string
	var to, changedBy string

	err := row.Scan(&h.ID, &h.AppointmentID, &from, &to, &changedBy, &h.Reason, &h.CreatedAt)
	if err != nil {
		return nil, err
	}

	if from != nil {
		s := Status(*from)
		h.FromStatus = &s
	}
	h.ToStatus = Status(to)
	h.ChangedBy = Actor(changedBy)
	return &h, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&PgRepository{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userCols+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+providerCols+`
		FROM providers p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetProviderByUserID(ctx context.Context, userID uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+providerCols+`
		FROM providers p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id = $1
	`, userID)
	return scanProvider(row)
}

// LockProvider serializes slot writes for one provider so the overlap
// check and the insert cannot interleave with another writer.
func (r *PgRepository) LockProvider(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM providers WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("lock provider: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM appointment_slots
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM appointment_slots
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	query := `SELECT ` + slotCols + ` FROM appointment_slots WHERE deleted_at IS NULL`
	var args []any

	if f.OnlyAvailable {
		query += ` AND is_available = true`
	}
	if f.Date != "" {
		args = append(args, f.Date)
		query += fmt.Sprintf(` AND slot_date = $%d`, len(args))
	}
	if f.ProviderID != nil {
		args = append(args, *f.ProviderID)
		query += fmt.Sprintf(` AND provider_id = $%d`, len(args))
	}
	query += ` ORDER BY slot_date ASC, start_time ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

// FindOverlappingSlot returns the first live slot of the provider on date
// whose [start, end) intersects the given range, or ErrSlotNotFound.
func (r *PgRepository) FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, date, start, end string, exclude uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM appointment_slots
		WHERE provider_id = $1
		  AND slot_date = $2
		  AND start_time < $3
		  AND end_time > $4
		  AND id <> $5
		  AND deleted_at IS NULL
		ORDER BY start_time ASC
		LIMIT 1
	`, providerID, date, end, start, exclude)
	return scanSlot(row)
}

func (r *PgRepository) InsertSlot(ctx context.Context, s Slot) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointment_slots (id, provider_id, slot_date, start_time, end_time, is_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $6)
		RETURNING `+slotCols+`
	`, s.ID, s.ProviderID, s.Date, s.StartTime, s.EndTime, s.CreatedAt)
	return scanSlot(row)
}

// UpdateSlotTimes only applies while the slot is still bookable.
func (r *PgRepository) UpdateSlotTimes(ctx context.Context, s Slot) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointment_slots
		SET slot_date = $2,
		    start_time = $3,
		    end_time = $4,
		    updated_at = $5
		WHERE id = $1
		  AND is_available = true
		  AND deleted_at IS NULL
		RETURNING `+slotCols+`
	`, s.ID, s.Date, s.StartTime, s.EndTime, s.UpdatedAt)

	updated, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrSlotBooked
	}
	return updated, err
}

func (r *PgRepository) SoftDeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET deleted_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND is_available = true
		  AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotBooked
	}
	return nil
}

func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = false,
		    updated_at = now()
		WHERE id = $1
		  AND is_available = true
		  AND deleted_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, slot_id, provider_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+appointmentCols+`
	`, a.ID, a.UserID, a.SlotID, a.ProviderID, string(a.Status), a.Notes, a.CreatedAt)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2::text,
		    updated_at = $3,
		    confirmed_at = CASE WHEN $2::text = 'confirmed' THEN $3 ELSE confirmed_at END,
		    completed_at = CASE WHEN $2::text = 'completed' THEN $3 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $3 ELSE cancelled_at END,
		    slot_id = COALESCE($4, slot_id),
		    provider_id = COALESCE($5, provider_id)
		WHERE id = $1
		  AND status = ANY($6::text[])
		RETURNING `+appointmentCols+`
	`, u.ID, string(u.To), u.At, u.SlotID, u.ProviderID, statusStrings(u.From))

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusConflict
	}
	return updated, err
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	query := `SELECT ` + appointmentCols + ` FROM appointments WHERE true`
	var args []any

	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if f.ProviderID != nil {
		args = append(args, *f.ProviderID)
		query += fmt.Sprintf(` AND provider_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ProviderWaitStats(ctx context.Context, providerID uuid.UUID, from string) (*WaitStats, error) {
	var stats WaitStats
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*)
			   FROM appointments a
			   JOIN appointment_slots s ON s.id = a.slot_id
			  WHERE a.provider_id = $1
			    AND a.status IN ('pending', 'confirmed')
			    AND s.slot_date >= $2),
			(SELECT round(avg(extract(epoch FROM end_time::time - start_time::time) / 60))::int
			   FROM appointment_slots
			  WHERE provider_id = $1 AND deleted_at IS NULL)
	`, providerID, from).Scan(&stats.Ahead, &stats.AvgSlotMinutes)
	if err != nil {
		return nil, err
	}

	next, err := scanSlot(r.db.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM appointment_slots
		WHERE provider_id = $1
		  AND is_available = true
		  AND deleted_at IS NULL
		  AND slot_date >= $2
		ORDER BY slot_date ASC, start_time ASC
		LIMIT 1
	`, providerID, from))
	switch {
	case errors.Is(err, ErrSlotNotFound):
	case err != nil:
		return nil, err
	default:
		stats.NextAvailable = next
	}

	return &stats, nil
}

func (r *PgRepository) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) GetWaitingEntry(ctx context.Context, slotID, userID uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist_entries
		WHERE slot_id = $1
		  AND user_id = $2
		  AND status = 'waiting'
	`, slotID, userID)
	return scanWaitlistEntry(row)
}

// NextWaiting locks and returns the head of the slot's queue.
func (r *PgRepository) NextWaiting(ctx context.Context, slotID uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist_entries
		WHERE slot_id = $1
		  AND status = 'waiting'
		ORDER BY position ASC
		LIMIT 1
		FOR UPDATE
	`, slotID)
	return scanWaitlistEntry(row)
}

// NextWaitlistPosition allocates past every position ever handed out for
// the slot, so positions are never reused after a withdrawal.
func (r *PgRepository) NextWaitlistPosition(ctx context.Context, slotID uuid.UUID) (int, error) {
	var next int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM waitlist_entries
		WHERE slot_id = $1
	`, slotID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next waitlist position: %w", err)
	}
	return next, nil
}

func (r *PgRepository) InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, user_id, slot_id, position, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'waiting', $5, $5)
		RETURNING `+waitlistCols+`
	`, e.ID, e.UserID, e.SlotID, e.Position, e.CreatedAt)

	created, err := scanWaitlistEntry(row)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyWaitlisted
	}
	return created, err
}

func (r *PgRepository) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+waitlistCols+`
	`, id, string(from), string(to))
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ListWaitlistByUser(ctx context.Context, userID uuid.UUID) ([]WaitlistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWaitlistEntry)
}

func (r *PgRepository) InsertHistory(ctx context.Context, h StatusHistory) (*StatusHistory, error) {
	var from *string
	if h.FromStatus != nil {
		s := string(*h.FromStatus)
		from = &s
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO status_history (appointment_id, from_status, to_status, changed_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+historyCols+`
	`, h.AppointmentID, from, string(h.ToStatus), string(h.ChangedBy), h.Reason, h.CreatedAt)

	created, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+historyCols+`
		FROM status_history
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanHistory)
}
