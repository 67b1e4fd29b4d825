package appointment

import (
	"context"
	"maps"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository. WithinTx holds the store mutex for
// the whole callback and restores a snapshot when the callback fails, so
// transactions are serialized and atomic.
type memRepo struct {
	mu   *sync.Mutex
	st   *memState
	inTx bool
}

type memState struct {
	users     map[uuid.UUID]User
	providers map[uuid.UUID]Provider
	slots     map[uuid.UUID]Slot
	deleted   map[uuid.UUID]bool
	appts     map[uuid.UUID]Appointment
	waitlist  map[uuid.UUID]WaitlistEntry
	history   []StatusHistory
	historyID int64

	// historyErr, when set, fails every InsertHistory call.
	historyErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		mu: &sync.Mutex{},
		st: &memState{
			users:     map[uuid.UUID]User{},
			providers: map[uuid.UUID]Provider{},
			slots:     map[uuid.UUID]Slot{},
			deleted:   map[uuid.UUID]bool{},
			appts:     map[uuid.UUID]Appointment{},
			waitlist:  map[uuid.UUID]WaitlistEntry{},
		},
	}
}

func (st *memState) clone() *memState {
	c := *st
	c.users = maps.Clone(st.users)
	c.providers = maps.Clone(st.providers)
	c.slots = maps.Clone(st.slots)
	c.deleted = maps.Clone(st.deleted)
	c.appts = maps.Clone(st.appts)
	c.waitlist = maps.Clone(st.waitlist)
	c.history = append([]StatusHistory(nil), st.history...)
	return &c
}

func (r *memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.st.clone()
	if err := fn(&memRepo{mu: r.mu, st: r.st, inTx: true}); err != nil {
		*r.st = *snapshot
		return err
	}
	return nil
}

// Fixtures

func (r *memRepo) addUser(name string, role Role) User {
	defer r.lock()()
	u := User{ID: uuid.New(), Name: name, Email: name + "@example.com", Role: role}
	r.st.users[u.ID] = u
	return u
}

func (r *memRepo) addProvider(name string) (User, Provider) {
	u := r.addUser(name, RoleProvider)
	defer r.lock()()
	p := Provider{ID: uuid.New(), UserID: u.ID, Name: u.Name, Email: u.Email, Specialization: "general"}
	r.st.providers[p.ID] = p
	return u, p
}

func (r *memRepo) addSlot(providerID uuid.UUID, date, start, end string) Slot {
	defer r.lock()()
	s := Slot{ID: uuid.New(), ProviderID: providerID, Date: date, StartTime: start, EndTime: end, IsAvailable: true}
	r.st.slots[s.ID] = s
	return s
}

func (r *memRepo) slot(id uuid.UUID) Slot {
	defer r.lock()()
	return r.st.slots[id]
}

func (r *memRepo) appointment(id uuid.UUID) Appointment {
	defer r.lock()()
	return r.st.appts[id]
}

func (r *memRepo) entry(id uuid.UUID) WaitlistEntry {
	defer r.lock()()
	return r.st.waitlist[id]
}

func (r *memRepo) liveAppointmentsForSlot(slotID uuid.UUID) []Appointment {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.st.appts {
		if a.SlotID == slotID && !a.Status.IsTerminal() {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) ageAppointment(id uuid.UUID, createdAt time.Time) {
	defer r.lock()()
	a := r.st.appts[id]
	a.CreatedAt = createdAt
	r.st.appts[id] = a
}

func (r *memRepo) historyCount() int {
	defer r.lock()()
	return len(r.st.history)
}

// Repository

func (r *memRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	defer r.lock()()
	u, ok := r.st.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *memRepo) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	defer r.lock()()
	p, ok := r.st.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *memRepo) GetProviderByUserID(ctx context.Context, userID uuid.UUID) (*Provider, error) {
	defer r.lock()()
	for _, p := range r.st.providers {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, ErrProviderNotFound
}

func (r *memRepo) LockProvider(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()
	if _, ok := r.st.providers[id]; !ok {
		return ErrProviderNotFound
	}
	return nil
}

func (r *memRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	defer r.lock()()
	s, ok := r.st.slots[id]
	if !ok || r.st.deleted[id] {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetSlotByID(ctx, id)
}

func (r *memRepo) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	defer r.lock()()
	var out []Slot
	for id, s := range r.st.slots {
		if r.st.deleted[id] {
			continue
		}
		if f.OnlyAvailable && !s.IsAvailable {
			continue
		}
		if f.Date != "" && s.Date != f.Date {
			continue
		}
		if f.ProviderID != nil && s.ProviderID != *f.ProviderID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (r *memRepo) FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, date, start, end string, exclude uuid.UUID) (*Slot, error) {
	defer r.lock()()
	for id, s := range r.st.slots {
		if r.st.deleted[id] || id == exclude {
			continue
		}
		if s.ProviderID == providerID && s.Date == date && s.StartTime < end && s.EndTime > start {
			return &s, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (r *memRepo) InsertSlot(ctx context.Context, s Slot) (*Slot, error) {
	defer r.lock()()
	s.IsAvailable = true
	r.st.slots[s.ID] = s
	return &s, nil
}

func (r *memRepo) UpdateSlotTimes(ctx context.Context, s Slot) (*Slot, error) {
	defer r.lock()()
	cur, ok := r.st.slots[s.ID]
	if !ok || r.st.deleted[s.ID] || !cur.IsAvailable {
		return nil, ErrSlotBooked
	}
	cur.Date, cur.StartTime, cur.EndTime, cur.UpdatedAt = s.Date, s.StartTime, s.EndTime, s.UpdatedAt
	r.st.slots[s.ID] = cur
	return &cur, nil
}

func (r *memRepo) SoftDeleteSlot(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()
	cur, ok := r.st.slots[id]
	if !ok || r.st.deleted[id] || !cur.IsAvailable {
		return ErrSlotBooked
	}
	r.st.deleted[id] = true
	return nil
}

func (r *memRepo) ClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.lock()()
	s, ok := r.st.slots[id]
	if !ok || r.st.deleted[id] || !s.IsAvailable {
		return false, nil
	}
	s.IsAvailable = false
	r.st.slots[id] = s
	return true, nil
}

func (r *memRepo) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	defer r.lock()()
	s := r.st.slots[id]
	s.IsAvailable = true
	r.st.slots[id] = s
	return nil
}

func (r *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	defer r.lock()()
	a.UpdatedAt = a.CreatedAt
	r.st.appts[a.ID] = a
	return &a, nil
}

func (r *memRepo) UpdateAppointmentStatus(ctx context.Context, u StatusUpdate) (*Appointment, error) {
	defer r.lock()()
	a, ok := r.st.appts[u.ID]
	if !ok {
		return nil, ErrStatusConflict
	}
	allowed := false
	for _, s := range u.From {
		if a.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, ErrStatusConflict
	}

	at := u.At
	a.Status = u.To
	a.UpdatedAt = at
	switch u.To {
	case StatusConfirmed:
		a.ConfirmedAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusCancelled:
		a.CancelledAt = &at
	}
	if u.SlotID != nil {
		a.SlotID = *u.SlotID
	}
	if u.ProviderID != nil {
		a.ProviderID = *u.ProviderID
	}
	r.st.appts[u.ID] = a
	return &a, nil
}

func (r *memRepo) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.st.appts {
		if f.UserID != nil && a.UserID != *f.UserID {
			continue
		}
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) ProviderWaitStats(ctx context.Context, providerID uuid.UUID, from string) (*WaitStats, error) {
	defer r.lock()()
	var stats WaitStats

	for _, a := range r.st.appts {
		if a.ProviderID != providerID || (a.Status != StatusPending && a.Status != StatusConfirmed) {
			continue
		}
		if r.st.slots[a.SlotID].Date >= from {
			stats.Ahead++
		}
	}

	var total, n int
	for id, s := range r.st.slots {
		if s.ProviderID != providerID || r.st.deleted[id] {
			continue
		}
		total += minutesOf(s.EndTime) - minutesOf(s.StartTime)
		n++
		if !s.IsAvailable || s.Date < from {
			continue
		}
		if stats.NextAvailable == nil || s.Date < stats.NextAvailable.Date ||
			(s.Date == stats.NextAvailable.Date && s.StartTime < stats.NextAvailable.StartTime) {
			next := s
			stats.NextAvailable = &next
		}
	}
	if n > 0 {
		avg := int(math.Round(float64(total) / float64(n)))
		stats.AvgSlotMinutes = &avg
	}
	return &stats, nil
}

func minutesOf(hhmm string) int {
	t, _ := time.Parse("15:04", hhmm)
	return t.Hour()*60 + t.Minute()
}

func (r *memRepo) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	defer r.lock()()
	var out []Appointment
	for _, a := range r.st.appts {
		if a.Status == StatusPending && a.CreatedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	defer r.lock()()
	e, ok := r.st.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return &e, nil
}

func (r *memRepo) GetWaitingEntry(ctx context.Context, slotID, userID uuid.UUID) (*WaitlistEntry, error) {
	defer r.lock()()
	for _, e := range r.st.waitlist {
		if e.SlotID == slotID && e.UserID == userID && e.Status == WaitlistWaiting {
			return &e, nil
		}
	}
	return nil, ErrWaitlistEntryNotFound
}

func (r *memRepo) NextWaiting(ctx context.Context, slotID uuid.UUID) (*WaitlistEntry, error) {
	defer r.lock()()
	var head *WaitlistEntry
	for _, e := range r.st.waitlist {
		if e.SlotID != slotID || e.Status != WaitlistWaiting {
			continue
		}
		if head == nil || e.Position < head.Position {
			e := e
			head = &e
		}
	}
	if head == nil {
		return nil, ErrWaitlistEntryNotFound
	}
	return head, nil
}

func (r *memRepo) NextWaitlistPosition(ctx context.Context, slotID uuid.UUID) (int, error) {
	defer r.lock()()
	highest := 0
	for _, e := range r.st.waitlist {
		if e.SlotID == slotID && e.Position > highest {
			highest = e.Position
		}
	}
	return highest + 1, nil
}

func (r *memRepo) InsertWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	defer r.lock()()
	for _, cur := range r.st.waitlist {
		if cur.SlotID == e.SlotID && cur.Status == WaitlistWaiting &&
			(cur.UserID == e.UserID || cur.Position == e.Position) {
			return nil, ErrAlreadyWaitlisted
		}
	}
	e.Status = WaitlistWaiting
	e.UpdatedAt = e.CreatedAt
	r.st.waitlist[e.ID] = e
	return &e, nil
}

func (r *memRepo) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, from, to WaitlistStatus) (*WaitlistEntry, error) {
	defer r.lock()()
	e, ok := r.st.waitlist[id]
	if !ok || e.Status != from {
		return nil, ErrWaitlistEntryNotFound
	}
	e.Status = to
	r.st.waitlist[id] = e
	return &e, nil
}

func (r *memRepo) ListWaitlistByUser(ctx context.Context, userID uuid.UUID) ([]WaitlistEntry, error) {
	defer r.lock()()
	var out []WaitlistEntry
	for _, e := range r.st.waitlist {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) InsertHistory(ctx context.Context, h StatusHistory) (*StatusHistory, error) {
	defer r.lock()()
	if r.st.historyErr != nil {
		return nil, r.st.historyErr
	}
	r.st.historyID++
	h.ID = r.st.historyID
	r.st.history = append(r.st.history, h)
	return &h, nil
}

func (r *memRepo) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistory, error) {
	defer r.lock()()
	var out []StatusHistory
	for _, h := range r.st.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

var _ Repository = (*memRepo)(nil)
