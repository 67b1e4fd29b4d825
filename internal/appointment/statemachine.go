package appointment

import "fmt"

type Event string

const (
	EventBook       Event = "book"
	EventConfirm    Event = "confirm"
	EventComplete   Event = "complete"
	EventReschedule Event = "reschedule"
	EventCancel     Event = "cancel"
	EventAutoCancel Event = "auto_cancel"
)

type transition struct {
	from []Status
	to   Status
}

// The empty status is the "no appointment yet" state used by EventBook.
var transitions = map[Event]transition{
	EventBook:       {from: []Status{""}, to: StatusPending},
	EventConfirm:    {from: []Status{StatusPending}, to: StatusConfirmed},
	EventComplete:   {from: []Status{StatusConfirmed}, to: StatusCompleted},
	EventReschedule: {from: []Status{StatusPending, StatusConfirmed, StatusRescheduled}, to: StatusRescheduled},
	EventCancel:     {from: []Status{StatusPending, StatusConfirmed, StatusRescheduled}, to: StatusCancelled},
	EventAutoCancel: {from: []Status{StatusPending}, to: StatusCancelled},
}

// Transition returns the status reached by applying ev in state from.
func Transition(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %q", ErrInvalidTransition, ev, from)
}

// sourceStates lists the statuses ev may fire from; used as the guard of
// conditional status writes.
func sourceStates(ev Event) []Status {
	return append([]Status(nil), transitions[ev].from...)
}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}
