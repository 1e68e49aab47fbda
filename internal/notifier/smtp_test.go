package notifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	from string
	to   []string
	data []byte
}

type mailbox struct {
	mu       sync.Mutex
	messages []received
	reject   map[string]bool
}

func (m *mailbox) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{box: m}, nil
}

func (m *mailbox) all() []received {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]received(nil), m.messages...)
}

type session struct {
	box  *mailbox
	from string
	to   []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.box.reject[to] {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "no such user",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.messages = append(s.box.messages, received{from: s.from, to: s.to, data: data})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error { return nil }

func startExchange(t *testing.T, box *mailbox) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := smtp.NewServer(box)
	srv.Domain = "mx.example.com"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

func TestSMTPSenderDelivers(t *testing.T) {
	t.Parallel()

	box := &mailbox{}
	port := startExchange(t, box)
	sender := NewSMTPSender(SMTPConfig{Port: port, HeloName: "doggo.example", Timeout: 5 * time.Second})

	msg := []byte("Subject: hi\r\n\r\nDoes this work?\r\n")
	err := sender.Send(context.Background(), "127.0.0.1", "doggo@doggo.example", []string{"owner@example.com"}, msg)
	require.NoError(t, err)

	got := box.all()
	require.Len(t, got, 1)
	assert.Equal(t, "doggo@doggo.example", got[0].from)
	assert.Equal(t, []string{"owner@example.com"}, got[0].to)
	assert.True(t, bytes.Contains(got[0].data, []byte("Does this work?")))
}

func TestSMTPSenderReportsPermanentRejection(t *testing.T) {
	t.Parallel()

	box := &mailbox{reject: map[string]bool{"gone@example.com": true}}
	port := startExchange(t, box)
	sender := NewSMTPSender(SMTPConfig{Port: port, Timeout: 5 * time.Second})

	err := sender.Send(context.Background(), "127.0.0.1", "doggo@doggo.example", []string{"gone@example.com"}, []byte("Subject: x\r\n\r\nx\r\n"))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Empty(t, box.all())
}

func TestSMTPSenderDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(SMTPConfig{Port: port, Timeout: time.Second})
	err = sender.Send(context.Background(), "127.0.0.1", "a@b.c", []string{"d@e.f"}, []byte("x"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "dial "))
	assert.False(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	assert.True(t, IsPermanent(&smtp.SMTPError{Code: 550}))
	assert.False(t, IsPermanent(&smtp.SMTPError{Code: 451}))
	assert.False(t, IsPermanent(errors.New("boom")))
}

func TestNewSMTPSenderDefaults(t *testing.T) {
	t.Parallel()

	s := NewSMTPSender(SMTPConfig{})
	assert.Equal(t, 25, s.cfg.Port)
	assert.Equal(t, "localhost", s.cfg.HeloName)
}
