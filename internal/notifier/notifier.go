// Package notifier composes, signs and delivers the emails that tell a
// watchdog owner about newly found ads.
//
// Delivery goes straight to the recipient's mail exchange, resolved through
// DNS for every message. There is no retry here; a failed notification is
// reported to the caller and the scheduler carries on.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doggo-watch/doggo/internal/metrics"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

var (
	// ErrResolve wraps failures to find the recipient's mail exchange.
	ErrResolve = errors.New("resolve mail exchange")
	// ErrDelivery wraps connection and protocol failures while sending.
	ErrDelivery = errors.New("deliver message")
	// ErrSign wraps failures to compose or sign the message.
	ErrSign = errors.New("sign message")
)

// Resolver finds the mail exchange host for an address.
type Resolver interface {
	Resolve(ctx context.Context, address string) (string, error)
}

// Sender hands a finished message to a mail exchange.
type Sender interface {
	Send(ctx context.Context, host, from string, to []string, msg []byte) error
}

// Signer authenticates a rendered message.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// Config describes the sender identity.
type Config struct {
	FromDomain string
	FromLocal  string
	Subject    string
}

const (
	defaultFromLocal = "doggo"
	defaultSubject   = "Vyčmuchal jsem nové inzeráty!"
	testSubject      = "Testing out direct SMTP delivery"
	testBody         = "Does this work?\n"
	testFromName     = "doggo test sender"
)

// Notifier implements watchdog.Notifier over signed direct SMTP delivery.
type Notifier struct {
	cfg      Config
	signer   Signer
	resolver Resolver
	sender   Sender
	clock    watchdog.Clock
	logger   *zap.Logger
}

// New wires a Notifier.
func New(
	cfg Config,
	signer Signer,
	resolver Resolver,
	sender Sender,
	clock watchdog.Clock,
	logger *zap.Logger,
) (*Notifier, error) {
	if cfg.FromDomain == "" {
		return nil, errors.New("from domain is required")
	}
	if signer == nil || resolver == nil || sender == nil || clock == nil {
		return nil, errors.New("signer, resolver, sender and clock are required")
	}
	if cfg.FromLocal == "" {
		cfg.FromLocal = defaultFromLocal
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Notifier{
		cfg:      cfg,
		signer:   signer,
		resolver: resolver,
		sender:   sender,
		clock:    clock,
		logger:   logger,
	}, nil
}

// FromAddress is the envelope and header sender.
func (n *Notifier) FromAddress() string {
	return n.cfg.FromLocal + "@" + n.cfg.FromDomain
}

// Notify mails the watchdog owner a list of the new ads.
func (n *Notifier) Notify(ctx context.Context, w *watchdog.Watchdog, ads []watchdog.Ad) error {
	env := Envelope{
		FromName:      w.Name,
		FromAddress:   n.FromAddress(),
		To:            w.OwnerEmail,
		Subject:       n.cfg.Subject,
		Body:          Body(w.SearchURL, ads),
		Date:          n.clock.Now(),
		MessageDomain: n.cfg.FromDomain,
	}
	err := n.deliver(ctx, env)
	if err != nil {
		metrics.ObserveNotification(metrics.ResultFailure)
		return err
	}
	metrics.ObserveNotification(metrics.ResultSuccess)
	n.logger.Info("notification delivered",
		zap.String("watchdog_id", w.ID.String()),
		zap.String("to", w.OwnerEmail),
		zap.Int("ads", len(ads)),
	)
	return nil
}

// SendTest delivers a fixed test message to the given address through the
// same resolve, sign and send path as real notifications.
func (n *Notifier) SendTest(ctx context.Context, to string) error {
	return n.deliver(ctx, Envelope{
		FromName:      testFromName,
		FromAddress:   n.FromAddress(),
		To:            to,
		Subject:       testSubject,
		Body:          testBody,
		Date:          n.clock.Now(),
		MessageDomain: n.cfg.FromDomain,
	})
}

func (n *Notifier) deliver(ctx context.Context, env Envelope) error {
	raw, err := Render(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSign, err)
	}
	signed, err := n.signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSign, err)
	}

	host, err := n.resolver.Resolve(ctx, env.To)
	if err != nil {
		return fmt.Errorf("%w for %s: %w", ErrResolve, env.To, err)
	}

	start := time.Now()
	if err := n.sender.Send(ctx, host, env.FromAddress, []string{env.To}, signed); err != nil {
		n.logger.Warn("message rejected",
			zap.String("mx", host),
			zap.String("to", env.To),
			zap.Bool("permanent", IsPermanent(err)),
			zap.Error(err),
		)
		return fmt.Errorf("%w to %s via %s: %w", ErrDelivery, env.To, host, err)
	}
	n.logger.Debug("message accepted",
		zap.String("mx", host),
		zap.String("to", env.To),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
