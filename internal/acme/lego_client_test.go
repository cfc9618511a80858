package acme

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go_certagent/internal/target"

	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nonce error", err: &legoacme.NonceError{ProblemDetails: &legoacme.ProblemDetails{Type: problemBadNonce}}, want: true},
		{name: "rate limited", err: &legoacme.ProblemDetails{Type: problemRateLimited, HTTPStatus: 429}, want: true},
		{name: "wrapped rate limited", err: fmt.Errorf("create order: %w", &legoacme.ProblemDetails{Type: problemRateLimited}), want: true},
		{name: "unauthorized", err: &legoacme.ProblemDetails{Type: "urn:ietf:params:acme:error:unauthorized"}, want: false},
		{name: "plain error", err: errors.New("connection reset"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCountsAsSuccess(t *testing.T) {
	assert.True(t, countsAsSuccess(nil))
	assert.True(t, countsAsSuccess(&legoacme.ProblemDetails{Type: "urn:ietf:params:acme:error:rejectedIdentifier"}))
	assert.False(t, countsAsSuccess(&legoacme.ProblemDetails{Type: problemRateLimited}))
	assert.False(t, countsAsSuccess(errors.New("dial tcp: timeout")))
}

func TestCallStopsWhileBreakerIsOpen(t *testing.T) {
	logger, hook := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	c := &LegoClient{cfg: Config{RetryDelay: time.Millisecond}, breaker: newBreaker(log), log: log}
	ctx := context.Background()

	down := errors.New("dial tcp: connection refused")
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, c.call(ctx, "new order", func() error { return down }), down)
	}

	calls := 0
	err := c.call(ctx, "new order", func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, calls)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "new order", hook.LastEntry().Data["op"])

	// protocol errors from a reachable server do not trip it
	rejected := &legoacme.ProblemDetails{Type: "urn:ietf:params:acme:error:rejectedIdentifier"}
	c.breaker = newBreaker(log)
	for i := 0; i < 6; i++ {
		assert.ErrorAs(t, c.call(ctx, "finalize", func() error { return rejected }), &rejected)
	}
}

func TestToAuthorizationWildcard(t *testing.T) {
	a := toAuthorization("https://ca/authz/1", legoacme.Authorization{
		Status:     StatusPending,
		Wildcard:   true,
		Identifier: legoacme.Identifier{Type: "dns", Value: "example.com"},
		Challenges: []legoacme.Challenge{
			{Type: ChallengeDNS01, URL: "https://ca/chall/1", Token: "tok"},
		},
	})

	assert.Equal(t, "*.example.com", a.Identifier.Value)
	ch, ok := a.Challenge(ChallengeDNS01)
	require.True(t, ok)
	assert.Equal(t, "https://ca/authz/1", ch.AuthorizationURL)
	assert.Equal(t, "tok", ch.Token)

	_, ok = a.Challenge(ChallengeHTTP01)
	assert.False(t, ok)
}

func TestToOrder(t *testing.T) {
	ext := legoacme.ExtendedOrder{Location: "https://ca/order/1"}
	ext.Status = StatusInvalid
	ext.Identifiers = []legoacme.Identifier{{Type: "dns", Value: "example.com"}, {Type: "ip", Value: "192.0.2.1"}}
	ext.Finalize = "https://ca/finalize/1"
	ext.Error = &legoacme.ProblemDetails{Type: "urn:ietf:params:acme:error:caa", Detail: "CAA forbids"}

	o := toOrder(ext)
	assert.Equal(t, "https://ca/order/1", o.URL)
	assert.Equal(t, []target.Identifier{{Type: target.TypeDNS, Value: "example.com"}, {Type: target.TypeIP, Value: "192.0.2.1"}}, o.Identifiers)
	assert.Contains(t, o.Error, "CAA forbids")
}

func TestAccountRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acme", "account.json")

	acc, err := LoadAccount(path)
	require.NoError(t, err)
	assert.False(t, acc.Registered())

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	require.NoError(t, err)
	acc.Email = "ops@example.com"
	acc.RegistrationURI = "https://ca/acct/1"
	acc.KeyPEM = string(certcrypto.PEMEncode(key))
	require.NoError(t, SaveAccount(path, acc))

	loaded, err := LoadAccount(path)
	require.NoError(t, err)
	assert.True(t, loaded.Registered())
	_, err = loaded.PrivateKey()
	require.NoError(t, err)
}

func TestEnsureAccountSkipsRegistered(t *testing.T) {
	acc := &Account{Email: "ops@example.com", DirectoryURL: "https://ca/dir", RegistrationURI: "https://ca/acct/1"}
	// no network: a registered account for the same directory returns early
	require.NoError(t, EnsureAccount(Config{DirectoryURL: "https://ca/dir", Email: "ops@example.com"}, acc))
}
