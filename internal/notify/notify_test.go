package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/metrics"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestMessageTemplates(t *testing.T) {
	slot := SlotInfo{ProviderName: "Dr. Grey", Date: "2025-06-01", Time: "09:00"}

	m := Booked("a@example.com", slot)
	assert.Equal(t, "a@example.com", m.To)
	assert.Equal(t, "Appointment Booking Confirmation", m.Subject)
	assert.Contains(t, m.Body, "Dr. Grey on 2025-06-01 at 09:00")

	m = WaitlistJoined("b@example.com", slot, 3)
	assert.Contains(t, m.Body, "You are #3 on the waitlist")

	m = Rescheduled("a@example.com", slot, SlotInfo{ProviderName: "Dr. Grey", Date: "2025-06-02", Time: "10:00"})
	assert.Contains(t, m.Body, "from 2025-06-01 at 09:00 to 2025-06-02 at 10:00")

	m = WaitlistPromoted("b@example.com", slot)
	assert.Contains(t, m.Body, "automatically booked from the waitlist")
}

func TestDispatcherDeliversAndSurvivesFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("mailbox full")}
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer

	d := NewDispatcher(sender, zerolog.New(&logs), metrics.New(reg))

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, Message{To: "a@example.com", Subject: "hi"})
	cancel()
	d.Notify(ctx, Message{To: "b@example.com", Subject: "hi"})
	d.Notify(context.Background(), Message{Subject: "no recipient"})
	d.Wait()

	require.Len(t, sender.sent, 2)
	assert.Contains(t, logs.String(), "notification failed")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))

	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Appointment Cancelled"}))
	assert.Contains(t, buf.String(), "Appointment Cancelled")
	assert.Contains(t, buf.String(), "a@example.com")
}

func TestSESSender(t *testing.T) {
	api := &fakeSES{}
	s := NewSESSender(api, "clinic@example.com", "")

	err := s.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)
	require.NotNil(t, api.input)
	assert.Equal(t, "Clinic Booking <clinic@example.com>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"a@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "b", aws.ToString(api.input.Content.Simple.Body.Text.Data))

	api.err = errors.New("throttled")
	assert.Error(t, s.Send(context.Background(), Message{To: "a@example.com"}))
}

func TestNewSender(t *testing.T) {
	log := zerolog.Nop()

	s, err := NewSender(context.Background(), config.NotifyConfig{Driver: "log"}, log)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	s, err = NewSender(context.Background(), config.NotifyConfig{Driver: "sendgrid", SendGridAPIKey: "SG.key"}, log)
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, s)

	_, err = NewSender(context.Background(), config.NotifyConfig{Driver: "sendgrid"}, log)
	assert.Error(t, err)

	_, err = NewSender(context.Background(), config.NotifyConfig{Driver: "pigeon"}, log)
	assert.Error(t, err)
}
