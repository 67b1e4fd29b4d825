package notify

import "fmt"

// Message is one outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// SlotInfo is the part of a slot that appears in user facing messages.
type SlotInfo struct {
	ProviderName string
	Date         string
	Time         string
}

func Booked(to string, s SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Appointment Booking Confirmation",
		Body: fmt.Sprintf("Your appointment with %s on %s at %s has been booked (pending confirmation).",
			s.ProviderName, s.Date, s.Time),
	}
}

func Confirmed(to string, s SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Appointment Confirmed",
		Body: fmt.Sprintf("Your appointment with %s on %s at %s has been confirmed by the provider.",
			s.ProviderName, s.Date, s.Time),
	}
}

func Rescheduled(to string, from, next SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Appointment Rescheduled",
		Body: fmt.Sprintf("Your appointment with %s has been rescheduled from %s at %s to %s at %s.",
			next.ProviderName, from.Date, from.Time, next.Date, next.Time),
	}
}

func Cancelled(to string, s SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Appointment Cancelled",
		Body: fmt.Sprintf("Your appointment with %s on %s at %s has been cancelled.",
			s.ProviderName, s.Date, s.Time),
	}
}

func AutoCancelled(to string, s SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Appointment Auto-Cancelled",
		Body: fmt.Sprintf("Your appointment with %s on %s at %s was auto-cancelled because it was not confirmed within the required time.",
			s.ProviderName, s.Date, s.Time),
	}
}

func WaitlistJoined(to string, s SlotInfo, position int) Message {
	return Message{
		To:      to,
		Subject: "Added to Waitlist",
		Body: fmt.Sprintf("You are #%d on the waitlist for %s on %s at %s. We'll notify you if a spot opens up.",
			position, s.ProviderName, s.Date, s.Time),
	}
}

func WaitlistPromoted(to string, s SlotInfo) Message {
	return Message{
		To:      to,
		Subject: "Waitlist Promotion: Slot Available!",
		Body: fmt.Sprintf("Great news! A slot with %s on %s at %s has opened up. You have been automatically booked from the waitlist.",
			s.ProviderName, s.Date, s.Time),
	}
}
