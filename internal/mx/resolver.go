// Package mx resolves the mail exchange responsible for an email address.
package mx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrInvalidAddress is returned for addresses without a local or domain part.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrNoMailExchange is returned when the domain publishes no usable MX record.
	ErrNoMailExchange = errors.New("no mail exchange")
	// ErrLookup wraps any other DNS failure.
	ErrLookup = errors.New("mx lookup")
)

// Lookuper performs MX queries. *net.Resolver satisfies it.
type Lookuper interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Resolver maps an email address to the host that accepts mail for it.
type Resolver struct {
	lookup Lookuper
}

// New returns a Resolver backed by lookup, or by net.DefaultResolver when nil.
func New(lookup Lookuper) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{lookup: lookup}
}

// Domain returns the part of the address after the last '@'.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	domain := strings.TrimSpace(address[at+1:])
	if domain == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return domain, nil
}

// Resolve returns the mail exchange host for address. When several records
// exist the first one returned by the lookup wins; no preference ordering is
// applied beyond what the lookup itself does.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	domain, err := Domain(address)
	if err != nil {
		return "", err
	}

	records, err := r.lookup.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return "", fmt.Errorf("%w for %s", ErrNoMailExchange, domain)
		}
		return "", fmt.Errorf("%w %s: %w", ErrLookup, domain, err)
	}
	if len(records) == 0 || records[0] == nil {
		return "", fmt.Errorf("%w for %s", ErrNoMailExchange, domain)
	}

	host := strings.TrimSuffix(records[0].Host, ".")
	if host == "" {
		// RFC 7505 null MX: the domain explicitly accepts no mail.
		return "", fmt.Errorf("%w for %s (null MX)", ErrNoMailExchange, domain)
	}
	return host, nil
}
