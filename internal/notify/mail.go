// internal/notify/mail.go
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/FairForge/arbiter/internal/events"
)

// MailerConfig is the SMTP side of operator notification.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Mailer sends one plain-text mail per matching event. Failover mail is
// rare and operators read it on phones; no templates, no HTML.
type Mailer struct {
	dialer  *gomail.Dialer
	from    string
	to      []string
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

func NewMailer(cfg MailerConfig, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mail host is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("mail from and to addresses are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		to:      cfg.To,
		retries: 3,
		backoff: 100 * time.Millisecond,
		logger:  logger,
	}, nil
}

// Send delivers one message, retrying with exponential backoff.
func (m *Mailer) Send(subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	var lastErr error
	backoff := m.backoff

	for attempt := 0; attempt <= m.retries; attempt++ {
		err := m.dialer.DialAndSend(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < m.retries {
			m.logger.Warn("mail send failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			time.Sleep(backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}

	m.logger.Error("mail delivery gave up",
		zap.Int("attempts", m.retries+1), zap.Error(lastErr))
	return lastErr
}

// Handler formats an event into a mail. Subscribe it to the failover and
// node-down patterns; subscribing it to "*" would page operators on every
// heartbeat of cluster life.
func (m *Mailer) Handler() events.Handler {
	return func(ctx context.Context, event events.Event) error {
		subject := fmt.Sprintf("[%s] %s", event.Cluster, event.Type)
		return m.Send(subject, renderMailBody(event))
	}
}

func renderMailBody(event events.Event) string {
	body := fmt.Sprintf("Cluster:  %s\nEvent:    %s\nTime:     %s\n",
		event.Cluster, event.Type, event.Timestamp.Format(time.RFC3339))
	if event.NodeID != "" {
		body += fmt.Sprintf("Node:     %s\n", event.NodeID)
	}
	if event.Message != "" {
		body += fmt.Sprintf("\n%s\n", event.Message)
	}
	if len(event.Details) > 0 {
		keys := make([]string, 0, len(event.Details))
		for k := range event.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		body += "\n"
		for _, k := range keys {
			body += fmt.Sprintf("%s: %v\n", k, event.Details[k])
		}
	}
	return body
}
