package validation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go_certagent/internal/acme"

	"github.com/sirupsen/logrus"
)

const (
	challengeLabel = "_acme-challenge"
	maxCNAMEHops   = 10

	defaultPropagationRetries = 10
)

// Lookup is the read-only DNS service used for DNS-01
type Lookup interface {
	CNAME(ctx context.Context, name string) (string, bool, error)
	Nameservers(ctx context.Context, name string) ([]string, error)
	TXT(ctx context.Context, server, name string) ([]string, error)
}

// RecordManager creates and removes TXT records, implemented by each dns-01 plugin
type RecordManager interface {
	CreateRecord(ctx context.Context, vc *Context, name, value string) error
	DeleteRecord(ctx context.Context, vc *Context, name, value string) error
}

// RecordCommitter is implemented by record managers that apply changes in one batch
type RecordCommitter interface {
	Commit(ctx context.Context) error
}

// Authority is one place the challenge record may be created, with the
// servers that answer authoritatively for it
type Authority struct {
	Domain      string
	Nameservers []string
}

// DNSOptions tunes CNAME following and propagation polling
type DNSOptions struct {
	FollowCNAME bool
	Retries     int
	Delay       time.Duration
}

// DNSValidator implements Validator for dns-01 on top of a RecordManager
type DNSValidator struct {
	records  RecordManager
	lookup   Lookup
	opts     DNSOptions
	parallel Parallelism
}

type dnsState struct {
	authority Authority
	value     string
}

// NewDNSValidator wires a record manager to the lookup service.
// A nil lookup disables CNAME following and propagation checks.
func NewDNSValidator(records RecordManager, lookup Lookup, opts DNSOptions, parallel Parallelism) *DNSValidator {
	if opts.Retries <= 0 {
		opts.Retries = defaultPropagationRetries
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &DNSValidator{records: records, lookup: lookup, opts: opts, parallel: parallel}
}

// ChallengeRecord returns the record name and TXT value for a dns-01 challenge
func ChallengeRecord(domain, keyAuth string) (string, string) {
	domain = strings.TrimSuffix(strings.TrimPrefix(domain, "*."), ".")
	sum := sha256.Sum256([]byte(keyAuth))
	return challengeLabel + "." + domain, base64.RawURLEncoding.EncodeToString(sum[:])
}

func (d *DNSValidator) ChallengeType() string { return acme.ChallengeDNS01 }

func (d *DNSValidator) Parallelism() Parallelism { return d.parallel }

// Authorities builds the authority chain for a record name. With CNAME following
// the final alias target comes first and the original name last.
func (d *DNSValidator) Authorities(ctx context.Context, name string, log *logrus.Entry) []Authority {
	chain := []string{name}
	if d.lookup != nil && d.opts.FollowCNAME {
		seen := map[string]bool{strings.ToLower(name): true}
		current := name
		for hop := 0; hop < maxCNAMEHops; hop++ {
			next, ok, err := d.lookup.CNAME(ctx, current)
			if err != nil {
				log.WithError(err).WithField("name", current).Warn("[Validation] CNAME lookup failed")
				break
			}
			if !ok || seen[strings.ToLower(next)] {
				break
			}
			seen[strings.ToLower(next)] = true
			chain = append(chain, next)
			current = next
		}
	}

	authorities := make([]Authority, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		a := Authority{Domain: chain[i]}
		if d.lookup != nil {
			ns, err := d.lookup.Nameservers(ctx, chain[i])
			if err != nil {
				log.WithError(err).WithField("name", chain[i]).Warn("[Validation] Authoritative nameserver lookup failed")
			}
			a.Nameservers = ns
		}
		authorities = append(authorities, a)
	}
	return authorities
}

// Prepare creates the TXT record at the first authority that accepts it
func (d *DNSValidator) Prepare(ctx context.Context, vc *Context) error {
	name, value := ChallengeRecord(vc.Identifier.Value, vc.KeyAuth)

	var errs []error
	for _, a := range d.Authorities(ctx, name, vc.Log) {
		if err := d.records.CreateRecord(ctx, vc, a.Domain, value); err != nil {
			vc.Log.WithError(err).WithField("authority", a.Domain).Warn("[Validation] Record not created, trying next authority")
			errs = append(errs, fmt.Errorf("%s: %w", a.Domain, err))
			continue
		}
		vc.Data = &dnsState{authority: a, value: value}
		vc.Log.WithField("authority", a.Domain).Info("[Validation] Record created")
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoAuthority, errors.Join(errs...))
}

// Commit flushes batched record changes and waits for the records to be
// visible on every authoritative nameserver
func (d *DNSValidator) Commit(ctx context.Context, batch []*Context) error {
	if c, ok := d.records.(RecordCommitter); ok {
		if err := c.Commit(ctx); err != nil {
			return err
		}
	}
	for _, vc := range batch {
		st, ok := vc.Data.(*dnsState)
		if !ok {
			continue
		}
		if err := d.waitForPropagation(ctx, vc.Log, st); err != nil {
			return err
		}
	}
	return nil
}

// CleanUp removes the record created by Prepare, if any
func (d *DNSValidator) CleanUp(ctx context.Context, vc *Context) error {
	st, ok := vc.Data.(*dnsState)
	if !ok {
		return nil
	}
	return d.records.DeleteRecord(ctx, vc, st.authority.Domain, st.value)
}

// waitForPropagation polls until every nameserver serves the value. Running out of
// retries only logs a warning; only cancellation is returned as an error.
func (d *DNSValidator) waitForPropagation(ctx context.Context, log *logrus.Entry, st *dnsState) error {
	if d.lookup == nil || len(st.authority.Nameservers) == 0 {
		log.Debug("[Validation] No nameservers to check for propagation")
		return nil
	}
	log = log.WithField("record", st.authority.Domain)

	var missing []string
	for attempt := 1; attempt <= d.opts.Retries; attempt++ {
		missing = missing[:0]
		for _, server := range st.authority.Nameservers {
			values, err := d.lookup.TXT(ctx, server, st.authority.Domain)
			if err != nil || !containsValue(values, st.value) {
				missing = append(missing, server)
			}
		}
		if len(missing) == 0 {
			log.WithField("attempt", attempt).Info("[Validation] Record visible on all authoritative nameservers")
			return nil
		}
		if attempt == d.opts.Retries {
			break
		}

		log.WithFields(logrus.Fields{"attempt": attempt, "pending": missing}).Debug("[Validation] Waiting for propagation")
		timer := time.NewTimer(d.opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	log.WithField("pending", missing).Warn("[Validation] Record not visible everywhere after all retries, continuing")
	return nil
}

func containsValue(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
