package runner

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go_certagent/internal/acme"
	"go_certagent/internal/cert/certtest"
	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/all"
	"go_certagent/internal/plugins/orders"
	"go_certagent/internal/plugins/stores"
	"go_certagent/internal/plugins/targets"
	"go_certagent/internal/renewal"
	"go_certagent/internal/resolver"
	"go_certagent/internal/target"
	"go_certagent/internal/validation"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// fakeCA issues self-signed certificates for whatever was ordered
type fakeCA struct {
	t       *testing.T
	mu      sync.Mutex
	authz   map[string]*acme.Authorization
	orders  int
	missing string
}

func (c *fakeCA) CreateOrder(_ context.Context, ids []target.Identifier) (*acme.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders++
	o := &acme.Order{URL: fmt.Sprintf("https://ca/order/%d", c.orders), Status: acme.StatusPending, Identifiers: ids}
	for _, id := range ids {
		url := "https://ca/authz/" + id.Value
		c.authz[url] = &acme.Authorization{
			URL:        url,
			Identifier: id,
			Status:     acme.StatusPending,
			Challenges: []acme.Challenge{{Type: acme.ChallengeHTTP01, URL: url + "/http", Token: "tok-" + id.Value}},
		}
		o.Authorizations = append(o.Authorizations, url)
	}
	return o, nil
}

func (c *fakeCA) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.authz[url]
	if !ok {
		return nil, fmt.Errorf("no authorization %s", url)
	}
	return a, nil
}

func (c *fakeCA) KeyAuthorization(token string) (string, error) { return token + ".ka", nil }

func (c *fakeCA) AnswerChallenge(_ context.Context, ch acme.Challenge) (acme.Challenge, error) {
	ch.Status = acme.StatusValid
	return ch, nil
}

func (c *fakeCA) FinalizeOrder(_ context.Context, o *acme.Order, csr []byte) (*acme.Order, error) {
	if _, err := x509.ParseCertificateRequest(csr); err != nil {
		return nil, err
	}
	final := *o
	final.Status = acme.StatusValid
	return &final, nil
}

func (c *fakeCA) DownloadCertificate(_ context.Context, o *acme.Order) ([]byte, []byte, error) {
	var names []string
	for _, id := range o.Identifiers {
		if id.Value != c.missing {
			names = append(names, id.Value)
		}
	}
	certPEM, _ := certtest.SelfSigned(c.t, 90*24*time.Hour, names...)
	return certPEM, nil, nil
}

const recorderID = "5c1e0f43-7d0a-4f7e-9a55-0b8f3d2c6e19"

type recorderOptions struct{}

func (*recorderOptions) PluginID() string { return recorderID }

// recorder is a validator that only records calls
type recorder struct {
	mu       sync.Mutex
	parallel validation.Parallelism
	prepared []string
	cleaned  []string
	commits  int
	builds   int
}

func (r *recorder) ChallengeType() string { return acme.ChallengeHTTP01 }

func (r *recorder) Parallelism() validation.Parallelism { return r.parallel }

func (r *recorder) Commit(context.Context, []*validation.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits++
	return nil
}

func (r *recorder) Prepare(_ context.Context, vc *validation.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepared = append(r.prepared, vc.Identifier.Value)
	return nil
}

func (r *recorder) CleanUp(_ context.Context, vc *validation.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleaned = append(r.cleaned, vc.Identifier.Value)
	return nil
}

type harness struct {
	runner *Runner
	store  *renewal.Service
	ca     *fakeCA
	rec    *recorder
	certs  string
	hook   *test.Hook
}

func newHarness(t *testing.T, locker renewal.Locker) *harness {
	rec := &recorder{}
	descs := append(all.Descriptors(), &plugin.Descriptor{
		ID:            recorderID,
		Name:          "recorder",
		Stage:         plugin.StageValidation,
		ChallengeType: acme.ChallengeHTTP01,
		NewOptions:    func() plugin.Options { return &recorderOptions{} },
		Build: func(context.Context, plugin.Options, *plugin.Env) (any, error) {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.builds++
			return rec, nil
		},
	})
	reg, err := plugin.NewRegistry(descs...)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	env := &plugin.Env{Log: logrus.NewEntry(logger), DataDir: t.TempDir()}
	store := renewal.NewService(renewal.NewFileBackend(t.TempDir()), reg, 30*24*time.Hour, env.Log)
	store.Now = func() time.Time { return t0 }

	ca := &fakeCA{t: t, authz: map[string]*acme.Authorization{}}
	r := New(reg, store, ca, locker, env)
	r.Now = func() time.Time { return t0 }
	return &harness{runner: r, store: store, ca: ca, rec: rec, certs: t.TempDir(), hook: hook}
}

func (h *harness) renewal(hosts ...string) *renewal.Renewal {
	return &renewal.Renewal{
		FriendlyName: "site",
		Options: resolver.Selection{
			Target:        &targets.ManualOptions{Hosts: hosts},
			Validation:    &recorderOptions{},
			Stores:        []plugin.Options{&stores.PemFilesOptions{Path: h.certs}},
			Installations: []plugin.Options{},
		},
	}
}

func TestRunIssuesStoresAndReschedules(t *testing.T) {
	h := newHarness(t, nil)
	ren := h.renewal("www.example.com", "example.com")

	res, err := h.runner.Run(context.Background(), ren, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Thumbprint)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, []string{"www.example.com", "example.com"}, res.Identifiers)

	assert.Equal(t, 1, h.ca.orders)
	assert.ElementsMatch(t, []string{"www.example.com", "example.com"}, h.rec.prepared)
	assert.ElementsMatch(t, h.rec.prepared, h.rec.cleaned)
	assert.Equal(t, 2, h.rec.commits, "serial validators commit per identifier")

	for _, f := range []string{"site-crt.pem", "site-chain.pem", "site-key.pem"} {
		_, err := os.Stat(filepath.Join(h.certs, f))
		assert.NoError(t, err, f)
	}

	require.NotEmpty(t, ren.ID)
	assert.Equal(t, t0.Add(30*24*time.Hour), ren.NextDueDate)
	stored, err := h.store.Get(context.Background(), ren.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	assert.Equal(t, []string{"recorder"}, stored.History[0].Plugins[plugin.StageValidation])

	// the stored selection is kept as it was
	assert.Nil(t, stored.Options.Order)
	assert.Nil(t, stored.Options.CSR)
}

func TestRunRejectsIncompleteCertificate(t *testing.T) {
	h := newHarness(t, nil)
	h.ca.missing = "example.com"
	ren := h.renewal("www.example.com", "example.com")

	res, err := h.runner.Run(context.Background(), ren, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not cover example.com")
	assert.False(t, res.Success)
	require.Len(t, ren.History, 1)
	assert.NotEmpty(t, ren.History[0].Errors)
	assert.True(t, ren.NextDueDate.IsZero())
}

func TestRunWithNullValidationFailsEarly(t *testing.T) {
	h := newHarness(t, nil)
	ren := h.renewal("www.example.com")
	ren.Options.Validation = &plugin.Unresolved{ID: "retired"}

	_, err := h.runner.Run(context.Background(), ren, nil)
	assert.ErrorIs(t, err, plugin.ErrNullPlugin)
	assert.Zero(t, h.ca.orders)
	require.Len(t, ren.History, 1)
	assert.False(t, ren.History[0].Success)
}

func TestRunWithNullTarget(t *testing.T) {
	h := newHarness(t, nil)
	ren := h.renewal("www.example.com")
	ren.Options.Target = &plugin.Unresolved{ID: "retired"}

	_, err := h.runner.Run(context.Background(), ren, nil)
	assert.ErrorIs(t, err, plugin.ErrNullPlugin)
	require.Len(t, ren.History, 1)
}

func TestAuthorizationReuseAcrossOrders(t *testing.T) {
	tests := []struct {
		name     string
		parallel validation.Parallelism
		commits  int
		builds   int
	}{
		{"reuse", validation.ParallelPrepare | validation.ParallelReuse, 1, 1},
		{"per order", validation.ParallelPrepare, 2, 2},
		{"serial", 0, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.rec.parallel = tt.parallel
			ren := h.renewal("a.example.com", "b.example.com")
			ren.Options.Order = &orders.HostOptions{}

			res, err := h.runner.Run(context.Background(), ren, nil)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, 2, h.ca.orders)
			assert.Equal(t, tt.commits, h.rec.commits)
			assert.Equal(t, tt.builds, h.rec.builds, "one validator per validation cycle")
			assert.Len(t, h.rec.cleaned, 2)
		})
	}
}

func TestRunDue(t *testing.T) {
	locker := renewal.NewLocalLocker()
	h := newHarness(t, locker)
	ctx := context.Background()

	due := h.renewal("due.example.com")
	require.NoError(t, h.store.Save(ctx, due, renewal.Failed(t0.Add(-time.Hour), fmt.Errorf("earlier"))))
	later := h.renewal("later.example.com")
	require.NoError(t, h.store.Save(ctx, later, renewal.RenewResult{Success: true}))
	busy := h.renewal("busy.example.com")
	require.NoError(t, h.store.Save(ctx, busy, renewal.Failed(t0, fmt.Errorf("earlier"))))

	release, err := locker.TryLock(ctx, busy.ID)
	require.NoError(t, err)
	defer release()

	sum, err := h.runner.RunDue(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Succeeded: 1, Skipped: 1}, sum)

	sum, err = h.runner.RunDue(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)

	_, _, err = h.runner.RunByID(ctx, "nope", nil)
	assert.ErrorIs(t, err, renewal.ErrNotFound)
}

// hookLocker calls before ahead of every lock attempt
type hookLocker struct {
	renewal.Locker
	before func(id string)
}

func (l *hookLocker) TryLock(ctx context.Context, id string) (func(), error) {
	if l.before != nil {
		l.before(id)
	}
	return l.Locker.TryLock(ctx, id)
}

func TestRunDueSkipsRenewalCancelledAfterListing(t *testing.T) {
	locker := &hookLocker{Locker: renewal.NewLocalLocker()}
	h := newHarness(t, locker)
	ctx := context.Background()

	a := h.renewal("a.example.com")
	require.NoError(t, h.store.Save(ctx, a, renewal.Failed(t0, fmt.Errorf("earlier"))))
	b := h.renewal("b.example.com")
	require.NoError(t, h.store.Save(ctx, b, renewal.Failed(t0, fmt.Errorf("earlier"))))

	var cancelled string
	locker.before = func(id string) {
		if cancelled == "" {
			cancelled = id
			require.NoError(t, h.store.Cancel(ctx, &renewal.Renewal{ID: id}))
		}
	}

	sum, err := h.runner.RunDue(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Succeeded: 1, Skipped: 1}, sum)
	assert.Equal(t, 1, h.ca.orders)

	list, err := h.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "a cancelled renewal is not saved again")
	assert.NotEqual(t, cancelled, list[0].ID)
}

func TestRunDueSkipsRenewalRunElsewhere(t *testing.T) {
	locker := &hookLocker{Locker: renewal.NewLocalLocker()}
	h := newHarness(t, locker)
	ctx := context.Background()

	ren := h.renewal("www.example.com")
	require.NoError(t, h.store.Save(ctx, ren, renewal.Failed(t0, fmt.Errorf("earlier"))))

	var ranElsewhere bool
	locker.before = func(id string) {
		if !ranElsewhere {
			ranElsewhere = true
			_, res, err := h.runner.RunByID(ctx, id, nil)
			require.NoError(t, err)
			require.True(t, res.Success)
		}
	}

	sum, err := h.runner.RunDue(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 1, Skipped: 1}, sum)
	assert.Equal(t, 1, h.ca.orders, "no second certificate")

	stored, err := h.store.Get(ctx, ren.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.False(t, stored.History[0].Success)
	assert.True(t, stored.History[1].Success)
	assert.Equal(t, t0.Add(30*24*time.Hour), stored.NextDueDate)
}

func TestRunCancelledRenewal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ren := h.renewal("www.example.com")
	require.NoError(t, h.store.Save(ctx, ren, renewal.Failed(t0, fmt.Errorf("earlier"))))
	stale := *ren
	require.NoError(t, h.store.Cancel(ctx, ren))

	_, err := h.runner.Run(ctx, &stale, nil)
	assert.ErrorIs(t, err, renewal.ErrNotFound)
	assert.Zero(t, h.ca.orders)
	list, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(context.Background(), h.renewal("www.example.com"), renewal.Failed(t0, fmt.Errorf("x"))))

	s := NewScheduler(h.runner, SchedulerConfig{Enabled: true, Interval: time.Hour})
	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		h.ca.mu.Lock()
		defer h.ca.mu.Unlock()
		return h.ca.orders == 1
	}, 5*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	disabled := NewScheduler(h.runner, SchedulerConfig{})
	disabled.Start(context.Background())
	disabled.Stop()
}
