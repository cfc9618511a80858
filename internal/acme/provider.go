package acme

import (
	"context"
	"errors"

	"go_certagent/internal/target"
)

// Status values used by orders, authorizations and challenges
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
)

// Challenge types
const (
	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"
)

// ErrTransient marks protocol errors (bad nonce, rate limited) that survived the automatic retry
var ErrTransient = errors.New("transient ACME error")

// ErrUnavailable is returned without contacting the server while the circuit breaker is open
var ErrUnavailable = errors.New("ACME server unavailable")

// Order is an ACME order
type Order struct {
	URL            string
	Status         string
	Identifiers    []target.Identifier
	Authorizations []string
	FinalizeURL    string
	CertificateURL string
	Error          string
}

// Challenge is one way of proving control over an identifier
type Challenge struct {
	Type             string
	URL              string
	Token            string
	Status           string
	AuthorizationURL string
	Error            string
}

// Authorization groups the challenges offered for one identifier
type Authorization struct {
	URL        string
	Identifier target.Identifier
	Status     string
	Wildcard   bool
	Challenges []Challenge
}

// Challenge returns the challenge of the given type, if offered
func (a Authorization) Challenge(typ string) (Challenge, bool) {
	for _, c := range a.Challenges {
		if c.Type == typ {
			return c, true
		}
	}
	return Challenge{}, false
}

// Client defines the ACME operations the agent needs
type Client interface {
	// CreateOrder opens a new order for the identifiers
	CreateOrder(ctx context.Context, ids []target.Identifier) (*Order, error)

	// GetAuthorization fetches an authorization of an order
	GetAuthorization(ctx context.Context, url string) (*Authorization, error)

	// KeyAuthorization computes the key authorization for a challenge token
	KeyAuthorization(token string) (string, error)

	// AnswerChallenge tells the server the challenge is ready and waits for a final status
	AnswerChallenge(ctx context.Context, ch Challenge) (Challenge, error)

	// FinalizeOrder submits the DER encoded CSR and waits for the order to become valid
	FinalizeOrder(ctx context.Context, order *Order, csrDER []byte) (*Order, error)

	// DownloadCertificate returns the leaf and issuer chain PEM of a valid order
	DownloadCertificate(ctx context.Context, order *Order) (certPEM, chainPEM []byte, err error)
}
