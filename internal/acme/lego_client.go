package acme

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_certagent/internal/resilience"
	"go_certagent/internal/target"

	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/sirupsen/logrus"
)

const (
	problemRateLimited = "urn:ietf:params:acme:error:rateLimited"
	problemBadNonce    = "urn:ietf:params:acme:error:badNonce"

	defaultUserAgent    = "certagent"
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 3 * time.Minute
	defaultRetryDelay   = 3 * time.Second
)

// Config holds the ACME endpoint and account settings
type Config struct {
	DirectoryURL string
	Email        string
	EabKid       string
	EabHmacKey   string
	AccountPath  string
	KeyType      certcrypto.KeyType
	UserAgent    string
	PollInterval time.Duration
	PollTimeout  time.Duration
	RetryDelay   time.Duration
}

// LegoClient implements Client on top of the go-acme/lego protocol core
type LegoClient struct {
	core    *api.Core
	cfg     Config
	breaker *resilience.ServiceBreaker
	log     *logrus.Entry
}

// NewLegoClient loads (or registers) the account and connects to the directory
func NewLegoClient(cfg Config, log *logrus.Entry) (*LegoClient, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	log = log.WithField("component", "acme")

	account, err := LoadAccount(cfg.AccountPath)
	if err != nil {
		return nil, err
	}
	if err := EnsureAccount(cfg, account); err != nil {
		return nil, err
	}

	key, err := account.PrivateKey()
	if err != nil {
		return nil, err
	}
	httpClient := lego.NewConfig(&User{Email: account.Email, key: key}).HTTPClient
	core, err := api.New(httpClient, cfg.UserAgent, cfg.DirectoryURL, account.RegistrationURI, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ACME core: %w", err)
	}

	c := &LegoClient{core: core, cfg: cfg, breaker: newBreaker(log), log: log}

	log.WithFields(logrus.Fields{"directory": cfg.DirectoryURL, "account": account.RegistrationURI}).Info("[ACME] Client ready")
	return c, nil
}

// EnsureAccount ensures an ACME account exists and is registered with the directory
func EnsureAccount(cfg Config, account *Account) error {
	// already registered with this directory
	if account.Registered() && account.DirectoryURL == cfg.DirectoryURL && account.Email == cfg.Email {
		return nil
	}

	if account.KeyPEM == "" {
		keyType := cfg.KeyType
		if keyType == "" {
			keyType = certcrypto.EC256
		}
		privateKey, err := certcrypto.GeneratePrivateKey(keyType)
		if err != nil {
			return fmt.Errorf("failed to generate account key: %w", err)
		}
		account.KeyPEM = string(certcrypto.PEMEncode(privateKey))
	}
	privateKey, err := account.PrivateKey()
	if err != nil {
		return err
	}

	config := lego.NewConfig(&User{
		Email: cfg.Email,
		key:   privateKey,
	})
	config.CADirURL = cfg.DirectoryURL
	config.UserAgent = cfg.UserAgent

	client, err := lego.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create lego client: %w", err)
	}

	var reg *registration.Resource
	if cfg.EabKid != "" {
		if cfg.EabHmacKey == "" {
			return errors.New("EAB credentials required but not provided")
		}
		reg, err = client.Registration.RegisterWithExternalAccountBinding(registration.RegisterEABOptions{
			TermsOfServiceAgreed: true,
			Kid:                  cfg.EabKid,
			HmacEncoded:          cfg.EabHmacKey,
		})
	} else {
		reg, err = client.Registration.Register(registration.RegisterOptions{
			TermsOfServiceAgreed: true,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to register ACME account: %w", err)
	}

	account.Email = cfg.Email
	account.DirectoryURL = cfg.DirectoryURL
	account.RegistrationURI = reg.URI

	if cfg.AccountPath != "" {
		if err := SaveAccount(cfg.AccountPath, account); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
	}
	return nil
}

// IsTransient reports whether err is a bad-nonce or rate-limited problem
func IsTransient(err error) bool {
	var nonceErr *legoacme.NonceError
	if errors.As(err, &nonceErr) {
		return true
	}
	var problem *legoacme.ProblemDetails
	if errors.As(err, &problem) {
		return problem.Type == problemRateLimited || problem.Type == problemBadNonce
	}
	return false
}

// problems answered by the CA (other than transient ones) are not outages
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var problem *legoacme.ProblemDetails
	return errors.As(err, &problem) && !IsTransient(err)
}

// newBreaker opens after five failed requests in a row and lets one request through after two minutes
func newBreaker(log *logrus.Entry) *resilience.ServiceBreaker {
	return resilience.NewServiceBreaker("acme",
		resilience.WithFailureThreshold(5),
		resilience.WithTimeout(2*time.Minute),
		resilience.WithSuccessClassifier(countsAsSuccess),
		resilience.WithOnStateChange(func(name, from, to string) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("[ACME] Circuit breaker state changed")
		}),
	)
}

// call runs one protocol request through the breaker with a single retry on transient errors
func (c *LegoClient) call(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.breaker.Execute(func() error {
		return resilience.RetryWithBackoff(ctx, fn,
			resilience.WithMaxRetries(1),
			resilience.WithDelay(c.cfg.RetryDelay),
			resilience.WithRetryClassifier(IsTransient),
			resilience.WithOnRetry(func(err error, wait time.Duration) {
				c.log.WithError(err).WithFields(logrus.Fields{"op": op, "wait": wait}).Warn("[ACME] Transient error, retrying once")
			}),
		)
	})
	switch {
	case err == nil:
		return nil
	case resilience.IsOpenError(err):
		c.log.WithField("op", op).Error("[ACME] Circuit breaker is open, request not sent")
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	case IsTransient(err):
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// poll repeats check until it reports done, the poll timeout expires or ctx ends
func (c *LegoClient) poll(ctx context.Context, check func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// CreateOrder implements Client
func (c *LegoClient) CreateOrder(ctx context.Context, ids []target.Identifier) (*Order, error) {
	var ext legoacme.ExtendedOrder
	err := c.call(ctx, "create order", func() (err error) {
		ext, err = c.core.Orders.New(target.Values(ids))
		return err
	})
	if err != nil {
		return nil, err
	}
	return toOrder(ext), nil
}

// GetAuthorization implements Client
func (c *LegoClient) GetAuthorization(ctx context.Context, url string) (*Authorization, error) {
	var authz legoacme.Authorization
	err := c.call(ctx, "get authorization", func() (err error) {
		authz, err = c.core.Authorizations.Get(url)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toAuthorization(url, authz), nil
}

// KeyAuthorization implements Client
func (c *LegoClient) KeyAuthorization(token string) (string, error) {
	return c.core.GetKeyAuthorization(token)
}

// AnswerChallenge implements Client
func (c *LegoClient) AnswerChallenge(ctx context.Context, ch Challenge) (Challenge, error) {
	var ext legoacme.ExtendedChallenge
	err := c.call(ctx, "answer challenge", func() (err error) {
		ext, err = c.core.Challenges.New(ch.URL)
		return err
	})
	if err != nil {
		return ch, err
	}
	current := toChallenge(ext.Challenge, ch.AuthorizationURL)

	err = c.poll(ctx, func() (bool, error) {
		switch current.Status {
		case StatusValid:
			return true, nil
		case StatusInvalid:
			return true, fmt.Errorf("challenge %s is invalid: %s", current.Type, current.Error)
		}
		return false, c.call(ctx, "poll challenge", func() error {
			ext, err := c.core.Challenges.Get(ch.URL)
			if err == nil {
				current = toChallenge(ext.Challenge, ch.AuthorizationURL)
			}
			return err
		})
	})
	return current, err
}

// FinalizeOrder implements Client
func (c *LegoClient) FinalizeOrder(ctx context.Context, order *Order, csrDER []byte) (*Order, error) {
	var ext legoacme.ExtendedOrder
	err := c.call(ctx, "finalize order", func() (err error) {
		ext, err = c.core.Orders.UpdateForCSR(order.FinalizeURL, csrDER)
		return err
	})
	if err != nil {
		return nil, err
	}
	current := toOrder(ext)
	if current.URL == "" {
		current.URL = order.URL
	}

	err = c.poll(ctx, func() (bool, error) {
		switch current.Status {
		case StatusValid:
			return true, nil
		case StatusInvalid:
			return true, fmt.Errorf("order is invalid: %s", current.Error)
		}
		return false, c.call(ctx, "poll order", func() error {
			ext, err := c.core.Orders.Get(order.URL)
			if err == nil {
				current = toOrder(ext)
				current.URL = order.URL
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// DownloadCertificate implements Client
func (c *LegoClient) DownloadCertificate(ctx context.Context, order *Order) ([]byte, []byte, error) {
	if order.CertificateURL == "" {
		return nil, nil, errors.New("order has no certificate url")
	}
	var certPEM, chainPEM []byte
	err := c.call(ctx, "download certificate", func() (err error) {
		certPEM, chainPEM, err = c.core.Certificates.Get(order.CertificateURL, false)
		return err
	})
	return certPEM, chainPEM, err
}

func problemString(p *legoacme.ProblemDetails) string {
	if p == nil {
		return ""
	}
	return p.Error()
}

func toOrder(ext legoacme.ExtendedOrder) *Order {
	o := &Order{
		URL:            ext.Location,
		Status:         ext.Status,
		Authorizations: ext.Authorizations,
		FinalizeURL:    ext.Finalize,
		CertificateURL: ext.Certificate,
		Error:          problemString(ext.Error),
	}
	for _, id := range ext.Identifiers {
		o.Identifiers = append(o.Identifiers, target.Identifier{Type: target.IdentifierType(id.Type), Value: id.Value})
	}
	return o
}

func toChallenge(ch legoacme.Challenge, authzURL string) Challenge {
	return Challenge{
		Type:             ch.Type,
		URL:              ch.URL,
		Token:            ch.Token,
		Status:           ch.Status,
		AuthorizationURL: authzURL,
		Error:            problemString(ch.Error),
	}
}

func toAuthorization(url string, authz legoacme.Authorization) *Authorization {
	a := &Authorization{
		URL:        url,
		Identifier: target.Identifier{Type: target.IdentifierType(authz.Identifier.Type), Value: authz.Identifier.Value},
		Status:     authz.Status,
		Wildcard:   authz.Wildcard,
	}
	// the server reports the base name for wildcard authorizations
	if authz.Wildcard && a.Identifier.Type == target.TypeDNS {
		a.Identifier.Value = "*." + a.Identifier.Value
	}
	for _, ch := range authz.Challenges {
		a.Challenges = append(a.Challenges, toChallenge(ch, url))
	}
	return a
}
