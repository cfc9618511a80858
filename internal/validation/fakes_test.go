package validation

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go_certagent/internal/acme"
	"go_certagent/internal/target"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger), hook
}

// fakeClient serves authorizations from memory and answers challenges with a fixed status
type fakeClient struct {
	mu       sync.Mutex
	authz    map[string]*acme.Authorization
	status   string
	answered []string
}

func newFakeClient(hosts ...string) (*fakeClient, *acme.Order) {
	c := &fakeClient{authz: make(map[string]*acme.Authorization), status: acme.StatusValid}
	order := &acme.Order{URL: "https://ca/order/1", Status: acme.StatusPending}
	for i, h := range hosts {
		url := fmt.Sprintf("https://ca/authz/%d", i)
		c.authz[url] = &acme.Authorization{
			URL:        url,
			Identifier: target.MustParse(h),
			Status:     acme.StatusPending,
			Challenges: []acme.Challenge{
				{Type: acme.ChallengeHTTP01, URL: url + "/http", Token: "tok-http-" + h},
				{Type: acme.ChallengeDNS01, URL: url + "/dns", Token: "tok-dns-" + h},
			},
		}
		order.Authorizations = append(order.Authorizations, url)
	}
	return c, order
}

func (c *fakeClient) CreateOrder(context.Context, []target.Identifier) (*acme.Order, error) {
	return nil, fmt.Errorf("not used")
}

func (c *fakeClient) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	a, ok := c.authz[url]
	if !ok {
		return nil, fmt.Errorf("no authorization %s", url)
	}
	return a, nil
}

func (c *fakeClient) KeyAuthorization(token string) (string, error) {
	return token + ".thumbprint", nil
}

func (c *fakeClient) AnswerChallenge(_ context.Context, ch acme.Challenge) (acme.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = append(c.answered, ch.URL)
	ch.Status = c.status
	if c.status == acme.StatusInvalid {
		ch.Error = "unauthorized"
	}
	return ch, nil
}

func (c *fakeClient) FinalizeOrder(context.Context, *acme.Order, []byte) (*acme.Order, error) {
	return nil, fmt.Errorf("not used")
}

func (c *fakeClient) DownloadCertificate(context.Context, *acme.Order) ([]byte, []byte, error) {
	return nil, nil, fmt.Errorf("not used")
}

// recordingValidator logs every call and can be told to fail
type recordingValidator struct {
	mu          sync.Mutex
	parallel    Parallelism
	events      []string
	cleanups    map[string]int
	failPrepare string
	failCommit  error
	stateSeen   map[string]State
}

func newRecordingValidator(p Parallelism) *recordingValidator {
	return &recordingValidator{parallel: p, cleanups: make(map[string]int), stateSeen: make(map[string]State)}
}

func (v *recordingValidator) record(e string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, e)
}

func (v *recordingValidator) ChallengeType() string    { return acme.ChallengeHTTP01 }
func (v *recordingValidator) Parallelism() Parallelism { return v.parallel }

func (v *recordingValidator) Prepare(_ context.Context, vc *Context) error {
	v.record("prepare " + vc.Identifier.Value)
	if vc.Identifier.Value == v.failPrepare {
		return fmt.Errorf("cannot prepare")
	}
	return nil
}

func (v *recordingValidator) Commit(_ context.Context, batch []*Context) error {
	v.record(fmt.Sprintf("commit %d", len(batch)))
	return v.failCommit
}

func (v *recordingValidator) CleanUp(ctx context.Context, vc *Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleanups[vc.Identifier.Value]++
	v.stateSeen[vc.Identifier.Value] = vc.State
	v.events = append(v.events, "cleanup "+vc.Identifier.Value)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("cleanup noise")
}

// fakeLookup resolves from static tables; TXT answers become visible after visibleAfter queries
type fakeLookup struct {
	mu           sync.Mutex
	cnames       map[string]string
	nameservers  map[string][]string
	txt          map[string]string
	visibleAfter int
	queries      int
}

func (l *fakeLookup) CNAME(_ context.Context, name string) (string, bool, error) {
	t, ok := l.cnames[name]
	return t, ok, nil
}

func (l *fakeLookup) Nameservers(_ context.Context, name string) ([]string, error) {
	ns, ok := l.nameservers[name]
	if !ok {
		return nil, fmt.Errorf("no nameservers for %s", name)
	}
	return ns, nil
}

func (l *fakeLookup) TXT(_ context.Context, _ string, name string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.visibleAfter >= 0 && l.queries > l.visibleAfter {
		if v, ok := l.txt[name]; ok {
			return []string{v}, nil
		}
	}
	return nil, nil
}

// fakeRecords fails for the listed authority names
type fakeRecords struct {
	mu       sync.Mutex
	fail     map[string]bool
	attempts []string
	deleted  []string
	lookup   *fakeLookup
	commits  int
}

func (r *fakeRecords) CreateRecord(_ context.Context, _ *Context, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, name)
	if r.fail[name] {
		return fmt.Errorf("zone for %s not managed", name)
	}
	if r.lookup != nil {
		r.lookup.mu.Lock()
		r.lookup.txt[name] = value
		r.lookup.mu.Unlock()
	}
	return nil
}

func (r *fakeRecords) DeleteRecord(_ context.Context, _ *Context, name, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, name)
	return nil
}

type committingRecords struct {
	fakeRecords
}

func (r *committingRecords) Commit(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	return nil
}
