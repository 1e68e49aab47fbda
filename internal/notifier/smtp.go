package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-smtp"
)

// SMTPConfig controls direct-to-exchange delivery.
type SMTPConfig struct {
	Port     int
	HeloName string
	Timeout  time.Duration
}

// SMTPSender delivers messages straight to a recipient's mail exchange over a
// plain connection, without STARTTLS or authentication.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *net.Dialer
}

// NewSMTPSender builds a sender. Port defaults to 25.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPSender{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: cfg.Timeout},
	}
}

// Send opens a connection to host, hands over msg and quits.
func (s *SMTPSender) Send(ctx context.Context, host, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := s.deadline(ctx); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return fmt.Errorf("set deadline on %s: %w", addr, err)
		}
	}

	client := smtp.NewClient(conn)
	defer func() {
		_ = client.Close()
	}()

	if err := client.Hello(s.cfg.HeloName); err != nil {
		return fmt.Errorf("hello %s: %w", addr, err)
	}
	if err := client.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send via %s: %w", addr, err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit %s: %w", addr, err)
	}
	return nil
}

func (s *SMTPSender) deadline(ctx context.Context) (time.Time, bool) {
	ctxDeadline, hasCtx := ctx.Deadline()
	if s.cfg.Timeout <= 0 {
		return ctxDeadline, hasCtx
	}
	cfgDeadline := time.Now().Add(s.cfg.Timeout)
	if hasCtx && ctxDeadline.Before(cfgDeadline) {
		return ctxDeadline, true
	}
	return cfgDeadline, true
}

// IsPermanent reports whether err carries a 5xx SMTP reply.
func IsPermanent(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code >= 500
	}
	return false
}
