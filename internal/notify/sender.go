package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hackgods/clinic-booking/internal/config"
)

// Sender delivers a message. Implementations can be swapped (log, SendGrid,
// SES) without changing callers.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender picks the sender named by cfg.Driver.
func NewSender(ctx context.Context, cfg config.NotifyConfig, log zerolog.Logger) (Sender, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogSender(log), nil
	case "sendgrid":
		s := NewSendGridSender(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)
		if s == nil {
			return nil, fmt.Errorf("notify: sendgrid api key is empty")
		}
		return s, nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("notify: load aws config: %w", err)
		}
		return NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.FromEmail, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "notify").Logger()}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Body).
		Msg("notification")
	return nil
}

type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	if apiKey == "" {
		return nil
	}
	if fromName == "" {
		fromName = "Clinic Booking"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// SESAPI is the part of the sesv2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESSender struct {
	client    SESAPI
	fromEmail string
	fromName  string
}

func NewSESSender(client SESAPI, fromEmail, fromName string) *SESSender {
	if fromName == "" {
		fromName = "Clinic Booking"
	}
	return &SESSender{client: client, fromEmail: fromEmail, fromName: fromName}
}

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	return nil
}

var (
	_ Sender = (*LogSender)(nil)
	_ Sender = (*SendGridSender)(nil)
	_ Sender = (*SESSender)(nil)
)
