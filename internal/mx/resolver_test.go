package mx

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	records map[string][]*net.MX
	err     error
	asked   []string
}

func (f *fakeLookup) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	f.asked = append(f.asked, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.records[name], nil
}

func TestResolvePicksFirstRecord(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{records: map[string][]*net.MX{
		"example.com": {
			{Host: "mx2.example.com.", Pref: 20},
			{Host: "mx1.example.com.", Pref: 10},
		},
	}}
	host, err := New(lookup).Resolve(context.Background(), "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "mx2.example.com", host)
	assert.Equal(t, []string{"example.com"}, lookup.asked)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		lookup  *fakeLookup
		want    error
	}{
		{"no at sign", "not-an-email", &fakeLookup{}, ErrInvalidAddress},
		{"empty domain", "user@", &fakeLookup{}, ErrInvalidAddress},
		{"blank domain", "user@ ", &fakeLookup{}, ErrInvalidAddress},
		{"empty local part", "@example.com", &fakeLookup{}, ErrInvalidAddress},
		{"zero records", "user@no-mx.example", &fakeLookup{}, ErrNoMailExchange},
		{"nxdomain", "user@gone.example", &fakeLookup{err: &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true}}, ErrNoMailExchange},
		{"null mx", "user@null.example", &fakeLookup{records: map[string][]*net.MX{"null.example": {{Host: ".", Pref: 0}}}}, ErrNoMailExchange},
		{"dns timeout", "user@slow.example", &fakeLookup{err: &net.DNSError{Err: "i/o timeout", IsTimeout: true}}, ErrLookup},
		{"other failure", "user@x.example", &fakeLookup{err: errors.New("boom")}, ErrLookup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, err := New(tt.lookup).Resolve(context.Background(), tt.address)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, host)
		})
	}
}

func TestInvalidAddressSkipsLookup(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{}
	_, err := New(lookup).Resolve(context.Background(), "not-an-email")
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, lookup.asked)
}

func TestDomainUsesLastAt(t *testing.T) {
	t.Parallel()

	domain, err := Domain(`"odd@local"@example.org`)
	require.NoError(t, err)
	assert.Equal(t, "example.org", domain)
}

func TestNewDefaultsToSystemResolver(t *testing.T) {
	t.Parallel()

	r := New(nil)
	assert.Equal(t, net.DefaultResolver, r.lookup)
}
