package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestValidateSlotTimes(t *testing.T) {
	tests := []struct {
		name       string
		date       string
		start, end string
		want       error
	}{
		{"valid", "2025-06-01", "09:00", "09:30", nil},
		{"inverted", "2025-06-01", "10:00", "09:00", ErrInvalidTimeRange},
		{"empty window", "2025-06-01", "09:00", "09:00", ErrInvalidTimeRange},
		{"unpadded hour", "2025-06-01", "9:00", "09:30", ErrInvalidSlotTime},
		{"hour out of range", "2025-06-01", "24:00", "24:30", ErrInvalidSlotTime},
		{"bad date format", "06/01/2025", "09:00", "09:30", ErrInvalidSlotTime},
		{"impossible date", "2025-02-30", "09:00", "09:30", ErrInvalidSlotTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlotTimes(tt.date, tt.start, tt.end)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateSlotRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSlot(ctx, asUser(f.doctor), SlotInput{Date: "2025-06-01", StartTime: "10:00", EndTime: "09:00"})
	require.ErrorIs(t, err, ErrInvalidTimeRange)
	assert.Equal(t, "end time must be after start time", err.Error())

	slots, err := f.svc.ListSlots(ctx, asUser(f.doctor), SlotQuery{All: true})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCreateSlotOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := asUser(f.doctor)

	first, err := f.svc.CreateSlot(ctx, doctor, SlotInput{Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30"})
	require.NoError(t, err)

	_, err = f.svc.CreateSlot(ctx, doctor, SlotInput{Date: "2025-06-01", StartTime: "09:15", EndTime: "09:45"})
	require.ErrorIs(t, err, ErrSlotOverlap)
	var overlap *SlotOverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, first.ID, overlap.Existing.ID)

	// touching windows do not overlap
	_, err = f.svc.CreateSlot(ctx, doctor, SlotInput{Date: "2025-06-01", StartTime: "09:30", EndTime: "10:00"})
	assert.NoError(t, err)

	// same window on another day
	_, err = f.svc.CreateSlot(ctx, doctor, SlotInput{Date: "2025-06-02", StartTime: "09:00", EndTime: "09:30"})
	assert.NoError(t, err)

	// another provider's calendar is independent
	other, _ := f.repo.addProvider("house")
	_, err = f.svc.CreateSlot(ctx, asUser(other), SlotInput{Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30"})
	assert.NoError(t, err)
}

func TestCreateSlotNeedsProviderProfile(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSlot(context.Background(), asUser(f.alice), SlotInput{Date: "2025-06-01", StartTime: "09:00", EndTime: "09:30"})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestListSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := f.slot("11:00", "11:30")
	early := f.slot("09:00", "09:30")
	other := f.repo.addSlot(f.provider.ID, "2025-06-02", "08:00", "08:30")

	_, err := f.svc.Book(ctx, asUser(f.alice), late.ID, nil)
	require.NoError(t, err)

	available, err := f.svc.ListSlots(ctx, asUser(f.bob), SlotQuery{})
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, early.ID, available[0].ID)
	assert.Equal(t, other.ID, available[1].ID)

	onDay, err := f.svc.ListSlots(ctx, asUser(f.bob), SlotQuery{Date: "2025-06-01"})
	require.NoError(t, err)
	require.Len(t, onDay, 1)

	// All is ignored for non providers
	ignored, err := f.svc.ListSlots(ctx, asUser(f.bob), SlotQuery{All: true})
	require.NoError(t, err)
	assert.Len(t, ignored, 2)

	own, err := f.svc.ListSlots(ctx, asUser(f.doctor), SlotQuery{All: true})
	require.NoError(t, err)
	require.Len(t, own, 3)
	assert.Equal(t, late.ID, own[1].ID)
	assert.False(t, own[1].IsAvailable)
}

func TestUpdateSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := asUser(f.doctor)
	s1 := f.slot("09:00", "09:30")
	s2 := f.slot("10:00", "10:30")

	// overlapping only itself is fine
	updated, err := f.svc.UpdateSlot(ctx, doctor, s1.ID, SlotPatch{StartTime: strPtr("09:15"), EndTime: strPtr("09:45")})
	require.NoError(t, err)
	assert.Equal(t, "09:15", updated.StartTime)
	assert.Equal(t, "09:45", updated.EndTime)
	assert.True(t, updated.IsAvailable)

	_, err = f.svc.UpdateSlot(ctx, doctor, s1.ID, SlotPatch{EndTime: strPtr("10:15")})
	var overlap *SlotOverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, s2.ID, overlap.Existing.ID)

	_, err = f.svc.UpdateSlot(ctx, doctor, s1.ID, SlotPatch{EndTime: strPtr("09:00")})
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = f.svc.Book(ctx, asUser(f.alice), s2.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.UpdateSlot(ctx, doctor, s2.ID, SlotPatch{Date: strPtr("2025-06-03")})
	assert.ErrorIs(t, err, ErrSlotBooked)

	other, _ := f.repo.addProvider("house")
	_, err = f.svc.UpdateSlot(ctx, asUser(other), s1.ID, SlotPatch{Date: strPtr("2025-06-03")})
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doctor := asUser(f.doctor)
	free := f.slot("09:00", "09:30")
	booked := f.slot("10:00", "10:30")

	_, err := f.svc.Book(ctx, asUser(f.alice), booked.ID, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, doctor, booked.ID), ErrSlotBooked)

	other, _ := f.repo.addProvider("house")
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, asUser(other), free.ID), ErrSlotNotFound)

	require.NoError(t, f.svc.DeleteSlot(ctx, doctor, free.ID))
	_, err = f.svc.Book(ctx, asUser(f.bob), free.ID, nil)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, doctor, uuid.New()), ErrSlotNotFound)
}
