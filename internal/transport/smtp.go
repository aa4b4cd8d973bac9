package transport

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/mailroom-io/mailroom/pkg/circuitbreaker"
)

// SMTPConfig configures the gomail-backed transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPTransport delivers via SMTP. A circuit breaker sits in front of
// the dialer so a dead relay trips fast instead of timing out once per
// recipient.
type SMTPTransport struct {
	dialer *gomail.Dialer
	cb     *circuitbreaker.CircuitBreaker
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 5,
		}),
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewRetryable("context", err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	err := t.cb.Execute(func() error {
		return t.dialer.DialAndSend(m)
	})
	if err == nil {
		// SMTP has no provider message id; synthesize one so delivery
		// events can still correlate in demo mode.
		return &Result{ProviderMessageID: uuid.New().String()}, nil
	}
	if err == circuitbreaker.ErrOpen {
		return nil, NewRetryable("circuit_open", err)
	}
	return nil, classifySMTP(err)
}

// classifySMTP maps SMTP reply codes buried in error text to the
// taxonomy. 5xx on the recipient is terminal; auth rejections are fatal;
// everything else retries.
func classifySMTP(err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "535") || strings.Contains(strings.ToLower(msg), "auth"):
		return NewFatal("auth", err)
	case strings.Contains(msg, "550") || strings.Contains(msg, "553"):
		return NewTerminal("rejected", err)
	case strings.Contains(msg, "421") || strings.Contains(msg, "450") || strings.Contains(msg, "451"):
		return NewRetryable("throttled", err)
	default:
		return NewRetryable("smtp", err)
	}
}
