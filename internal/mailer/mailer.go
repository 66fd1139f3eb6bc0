// Package mailer delivers outreach messages over SMTP with go-mail, or writes them to an
// outbox directory for review.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/jonathan/outreach-agent/internal/pipeline"
	"github.com/jonathan/outreach-agent/internal/stage"
)

// DefaultTimeout bounds one SMTP session.
const DefaultTimeout = 30 * time.Second

// Sender dials and sends prepared messages. *mail.Client implements it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig holds the SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// NewSMTPSender creates a go-mail client using PLAIN auth over mandatory STARTTLS.
func NewSMTPSender(cfg SMTPConfig) (*mail.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

// Deliverer implements pipeline.MessageDeliverer.
type Deliverer struct {
	from   string
	sender Sender
	logger *zap.Logger
}

// NewDeliverer creates a Deliverer that sends as from.
func NewDeliverer(from string, sender Sender, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{from: from, sender: sender, logger: logger}
}

// DeliverMessage sends one plain-text message. A non-empty attachmentPath must exist.
func (d *Deliverer) DeliverMessage(ctx context.Context, to, subject, body, attachmentPath string) error {
	msg, err := d.buildMessage(to, subject, body, attachmentPath)
	if err != nil {
		return err
	}
	if err := d.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return classify(err)
	}
	d.logger.Debug("mailer: message sent", zap.String("to", to), zap.String("attachment", filepath.Base(attachmentPath)))
	return nil
}

func (d *Deliverer) buildMessage(to, subject, body, attachmentPath string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(d.from); err != nil {
		return nil, pipeline.NewDeliveryError(stage.Permanent, fmt.Sprintf("invalid sender %q", d.from), err)
	}
	if err := msg.To(to); err != nil {
		return nil, pipeline.NewDeliveryError(stage.Permanent, fmt.Sprintf("invalid recipient %q", to), err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)

	if attachmentPath != "" {
		info, err := os.Stat(attachmentPath)
		if err != nil || info.IsDir() {
			return nil, pipeline.NewDeliveryError(stage.Permanent, fmt.Sprintf("attachment %s is not readable", attachmentPath), err)
		}
		msg.AttachFile(attachmentPath)
	}
	return msg, nil
}

// classify maps SMTP failures onto the stage taxonomy. 421 is what providers answer when
// a sender is throttled.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return pipeline.NewDeliveryError(kindForReply(protoErr.Code), "smtp server rejected message", err)
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if code := sendErr.ErrorCode(); code > 0 {
			return pipeline.NewDeliveryError(kindForReply(code), "smtp send failed", err)
		}
		if sendErr.IsTemp() {
			return pipeline.NewDeliveryError(stage.Transient, "smtp send failed", err)
		}
		if sendErr.Reason == mail.ErrSMTPRcptTo {
			return pipeline.NewDeliveryError(stage.Permanent, "recipient rejected", err)
		}
	}
	return pipeline.NewDeliveryError(stage.Classify(err), "smtp send failed", err)
}

func kindForReply(code int) stage.Kind {
	switch {
	case code == 421:
		return stage.RateLimited
	case code >= 400 && code < 500:
		return stage.Transient
	default:
		return stage.Permanent
	}
}

// OutboxSender writes each message to an .eml file instead of sending it.
type OutboxSender struct {
	dir string
	seq atomic.Int64
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._@-]+`)

// NewOutboxSender creates dir if needed.
func NewOutboxSender(dir string) (*OutboxSender, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create outbox %s: %w", dir, err)
	}
	return &OutboxSender{dir: dir}, nil
}

// DialAndSendWithContext implements Sender.
func (o *OutboxSender) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := strings.Join(msg.GetToString(), "_")
		name := fmt.Sprintf("%03d-%s.eml", o.seq.Add(1), unsafeFileChars.ReplaceAllString(to, "_"))
		if err := msg.WriteToFile(filepath.Join(o.dir, name)); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
