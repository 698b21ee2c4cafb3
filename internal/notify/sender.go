package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"classhub/internal/config"
)

// Decision is the outcome of a reviewed registration request.
type Decision struct {
	Email       string
	Username    string
	DisplayName string
	Approved    bool
}

type Sender interface {
	SendRegistrationDecision(ctx context.Context, d Decision) error
}

type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) SendRegistrationDecision(ctx context.Context, d Decision) error {
	_ = ctx
	l := s.Log
	if l == nil {
		l = zap.NewNop()
	}
	l.Info("registration decision notification",
		zap.String("to", d.Email),
		zap.String("username", d.Username),
		zap.Bool("approved", d.Approved),
	)
	return nil
}

type SMTPSender struct {
	host string
	port int
	from string
	now  func() time.Time
}

func NewSender(cfg config.Config, log *zap.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.NotifyFrom, now: time.Now}
	default:
		return LogSender{Log: log}
	}
}

func (s SMTPSender) SendRegistrationDecision(ctx context.Context, d Decision) error {
	_ = ctx
	raw, err := composeDecision(s.from, d, s.now())
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{d.Email}, raw)
}

func composeDecision(from string, d Decision, at time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(at)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Name: d.DisplayName, Address: d.Email}})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	name := strings.TrimSpace(d.DisplayName)
	if name == "" {
		name = d.Username
	}
	var body string
	if d.Approved {
		h.SetSubject("Your registration was approved")
		body = fmt.Sprintf("Hello %s,\r\n\r\nYour registration request for the account %q was approved. You can now sign in.\r\n", name, d.Username)
	} else {
		h.SetSubject("Your registration was declined")
		body = fmt.Sprintf("Hello %s,\r\n\r\nYour registration request for the account %q was declined by an administrator.\r\n", name, d.Username)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
