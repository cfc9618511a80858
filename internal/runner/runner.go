package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go_certagent/internal/acme"
	"go_certagent/internal/cert"
	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/renewal"
	"go_certagent/internal/resolver"
	"go_certagent/internal/target"
	"go_certagent/internal/telemetry"
	"go_certagent/internal/validation"

	"github.com/sirupsen/logrus"
)

// Runner takes a renewal through every pipeline stage and records the outcome
type Runner struct {
	reg      *plugin.Registry
	resolver *resolver.Resolver
	store    *renewal.Service
	client   acme.Client
	engine   *validation.Engine
	locker   renewal.Locker
	env      *plugin.Env
	log      *logrus.Entry

	Now func() time.Time
}

// New creates a runner. A nil locker locks within this process only.
func New(reg *plugin.Registry, store *renewal.Service, client acme.Client, locker renewal.Locker, env *plugin.Env) *Runner {
	if locker == nil {
		locker = renewal.NewLocalLocker()
	}
	log := env.Logger().WithField("component", "runner")
	return &Runner{
		reg:      reg,
		resolver: resolver.New(reg, env, env.Logger()),
		store:    store,
		client:   client,
		engine:   validation.NewEngine(client, env.Logger()),
		locker:   locker,
		env:      env,
		log:      log,
		Now:      time.Now,
	}
}

// Store is the renewal store the runner saves to
func (r *Runner) Store() *renewal.Service {
	return r.store
}

// ErrNotDue is returned for a renewal that became not due after it was listed
var ErrNotDue = errors.New("renewal is not due")

// Run resolves the plugins of an existing renewal unattended, executes it and
// saves the result, failed or not, regardless of its due date. ErrLocked means
// the renewal is running elsewhere; ErrNotFound that it was cancelled.
func (r *Runner) Run(ctx context.Context, ren *renewal.Renewal, args plugin.Args) (renewal.RenewResult, error) {
	return r.run(ctx, ren, args, true)
}

func (r *Runner) run(ctx context.Context, ren *renewal.Renewal, args plugin.Args, force bool) (renewal.RenewResult, error) {
	release, err := r.locker.TryLock(ctx, ren.ID)
	if err != nil {
		return renewal.RenewResult{}, err
	}
	defer release()

	if !ren.IsNew() {
		if err := r.reload(ctx, ren, force); err != nil {
			return renewal.RenewResult{}, err
		}
	}

	ctx, span := telemetry.TraceRenewal(ctx, ren.ID, ren.FriendlyName)
	log := r.log.WithFields(logrus.Fields{"renewal": ren.ID, "name": ren.FriendlyName})

	rc, err := r.generateFor(ctx, ren.Options, args)
	var res renewal.RenewResult
	if err == nil {
		plan := r.resolver.Unattended(ren.Options, args, rc)
		res, err = r.execute(ctx, ren, plan, *rc.Target, log)
	} else {
		res = renewal.Failed(r.Now(), err)
	}
	telemetry.End(span, err)

	if saveErr := r.store.Save(ctx, ren, res); saveErr != nil {
		log.WithError(saveErr).Error("[Runner] Failed to save the result")
		return res, errors.Join(err, saveErr)
	}
	return res, err
}

// reload replaces ren with the stored copy. The copy may have been run or
// cancelled since ren was read; only the lock holder may change it.
func (r *Runner) reload(ctx context.Context, ren *renewal.Renewal, force bool) error {
	stored, err := r.store.Get(ctx, ren.ID)
	if err != nil {
		return err
	}
	if !force && !stored.IsDue(r.Now()) {
		return fmt.Errorf("%s: %w", ren.ID, ErrNotDue)
	}
	*ren = *stored
	return nil
}

// generateFor resolves and runs the target plugin so later stages can be checked against the result
func (r *Runner) generateFor(ctx context.Context, sel resolver.Selection, args plugin.Args) (plugin.RunContext, error) {
	res := r.resolver.Target(sel, args, plugin.RunContext{})
	t, err := r.generate(ctx, res)
	if err != nil {
		return plugin.RunContext{}, err
	}
	return plugin.RunContext{Target: t}, nil
}

func (r *Runner) generate(ctx context.Context, res resolver.Resolved) (*target.Target, error) {
	ctx, span := telemetry.TraceStage(ctx, string(plugin.StageTarget), res.Descriptor.Name)
	exec, err := build[plugin.Target](ctx, res, r.env)
	if err == nil {
		var t target.Target
		if t, err = exec.Generate(ctx); err == nil {
			telemetry.End(span, nil)
			return &t, nil
		}
		err = fmt.Errorf("failed to generate target: %w", err)
	}
	telemetry.End(span, err)
	return nil, err
}

// Create asks the operator for every stage, runs the new renewal and saves it when it succeeds
func (r *Runner) Create(ctx context.Context, in input.Service, friendlyName string) (*renewal.Renewal, renewal.RenewResult, error) {
	var generated *target.Target
	plan, err := r.resolver.Interactive(ctx, in, plugin.RunContext{}, func(ctx context.Context, res resolver.Resolved) (*target.Target, error) {
		t, err := r.generate(ctx, res)
		generated = t
		return t, err
	})
	if err != nil {
		return nil, renewal.RenewResult{}, err
	}

	ren := &renewal.Renewal{FriendlyName: friendlyName, Options: plan.Selection()}
	if ren.FriendlyName == "" {
		ren.FriendlyName = generated.DisplayName()
	}
	if existing, err := r.store.Find(ctx, generated.Identifiers()); err == nil {
		r.log.WithField("renewal", existing.ID).Warn("[Runner] A renewal for the same identifiers already exists")
	}

	ctx, span := telemetry.TraceRenewal(ctx, "", ren.FriendlyName)
	res, err := r.execute(ctx, ren, plan, *generated, r.log.WithField("name", ren.FriendlyName))
	telemetry.End(span, err)
	if err != nil {
		return ren, res, err
	}
	if err := r.store.Save(ctx, ren, res); err != nil {
		return ren, res, err
	}
	return ren, res, nil
}

// execute runs the resolved plan against a generated target and builds the result
func (r *Runner) execute(ctx context.Context, ren *renewal.Renewal, plan resolver.Plan, t target.Target, log *logrus.Entry) (renewal.RenewResult, error) {
	res := renewal.RenewResult{Date: r.Now(), Identifiers: target.Values(t.Identifiers())}
	fail := func(err error) (renewal.RenewResult, error) {
		log.WithError(err).Error("[Runner] Renewal failed")
		res.Errors = append(res.Errors, err.Error())
		return res, err
	}

	for _, s := range []struct {
		stage plugin.Stage
		res   resolver.Resolved
	}{
		{plugin.StageTarget, plan.Target},
		{plugin.StageCSR, plan.CSR},
		{plugin.StageValidation, plan.Validation},
	} {
		if s.res.IsNull() {
			return fail(fmt.Errorf("%s: %w", s.stage, plugin.ErrNullPlugin))
		}
	}

	orderExec, err := build[plugin.Order](ctx, plan.Order, r.env)
	if err != nil {
		return fail(err)
	}
	validator, err := build[plugin.Validation](ctx, plan.Validation, r.env)
	if err != nil {
		return fail(err)
	}
	csrExec, err := build[plugin.CSR](ctx, plan.CSR, r.env)
	if err != nil {
		return fail(err)
	}
	storeExecs := make([]plugin.Store, 0, len(plan.Stores))
	for _, s := range plan.Stores {
		exec, err := build[plugin.Store](ctx, s, r.env)
		if err != nil {
			return fail(err)
		}
		storeExecs = append(storeExecs, exec)
	}
	installExecs := make([]plugin.Installation, 0, len(plan.Installations))
	for _, i := range plan.Installations {
		exec, err := build[plugin.Installation](ctx, i, r.env)
		if err != nil {
			return fail(err)
		}
		installExecs = append(installExecs, exec)
	}

	orders, err := orderExec.Split(t)
	if err != nil {
		return fail(fmt.Errorf("failed to split target into orders: %w", err))
	}
	log.WithField("orders", len(orders)).Info("[Runner] Requesting certificates")

	acmeOrders := make([]*acme.Order, len(orders))
	for i, o := range orders {
		if acmeOrders[i], err = r.client.CreateOrder(ctx, o.Identifiers()); err != nil {
			return fail(fmt.Errorf("%s: failed to create order: %w", o.DisplayName(), err))
		}
	}
	if err := r.authorize(ctx, acmeOrders, validator, plan.Validation); err != nil {
		return fail(err)
	}

	var expires time.Time
	for i, o := range orders {
		c, err := r.issue(ctx, acmeOrders[i], o, csrExec, plan.CSR.Descriptor.Name)
		if err != nil {
			return fail(err)
		}
		c.RenewalID, c.FriendlyName = ren.ID, ren.FriendlyName

		stored, err := r.saveStores(ctx, c, storeExecs)
		if err != nil {
			return fail(err)
		}
		if err := r.install(ctx, c, stored, installExecs); err != nil {
			return fail(err)
		}

		res.Thumbprint = c.Bundle.Thumbprint()
		if na := c.Bundle.NotAfter(); expires.IsZero() || na.Before(expires) {
			expires = na
		}
		log.WithFields(logrus.Fields{"order": o.DisplayName(), "thumbprint": res.Thumbprint}).Info("[Runner] Certificate issued")
	}
	if !expires.IsZero() {
		res.ExpiresAt = &expires
	}
	res.Success = true
	return res, nil
}

// authorize validates all orders in one batch when the validator allows reuse
// across orders. Otherwise every order gets its own cycle and its own instance.
func (r *Runner) authorize(ctx context.Context, orders []*acme.Order, v plugin.Validation, res resolver.Resolved) error {
	ctx, span := telemetry.TraceStage(ctx, string(plugin.StageValidation), res.Descriptor.Name)
	var err error
	if v.Parallelism().Has(validation.ParallelReuse) {
		err = r.engine.Authorize(ctx, orders, v)
	} else {
		for i, o := range orders {
			if i > 0 {
				if v, err = build[plugin.Validation](ctx, res, r.env); err != nil {
					break
				}
			}
			if err = r.engine.Authorize(ctx, []*acme.Order{o}, v); err != nil {
				break
			}
		}
	}
	telemetry.End(span, err)
	return err
}

// issue builds the CSR, finalizes the order and checks that the certificate covers it
func (r *Runner) issue(ctx context.Context, ao *acme.Order, o target.Order, csr plugin.CSR, name string) (c *plugin.Certificate, err error) {
	ctx, span := telemetry.TraceStage(ctx, string(plugin.StageCSR), name)
	defer func() { telemetry.End(span, err) }()

	der, keyPEM, err := csr.Generate(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create CSR: %w", o.DisplayName(), err)
	}
	final, err := r.client.FinalizeOrder(ctx, ao, der)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to finalize order: %w", o.DisplayName(), err)
	}
	certPEM, chainPEM, err := r.client.DownloadCertificate(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to download certificate: %w", o.DisplayName(), err)
	}
	bundle, err := cert.ParseBundle(certPEM, chainPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.DisplayName(), err)
	}
	if cov := bundle.Covers(target.Values(o.Identifiers())); !cov.Complete() {
		return nil, fmt.Errorf("%s: certificate does not cover %s", o.DisplayName(), strings.Join(cov.MissingDomains, ", "))
	}
	return &plugin.Certificate{Bundle: bundle, Order: o}, nil
}

func (r *Runner) saveStores(ctx context.Context, c *plugin.Certificate, stores []plugin.Store) ([]plugin.StoreResult, error) {
	ctx, span := telemetry.TraceStage(ctx, string(plugin.StageStore), "")
	var out []plugin.StoreResult
	for _, s := range stores {
		res, err := s.Save(ctx, c)
		if err != nil {
			err = fmt.Errorf("failed to store certificate: %w", err)
			telemetry.End(span, err)
			return nil, err
		}
		out = append(out, res)
	}
	telemetry.End(span, nil)
	return out, nil
}

func (r *Runner) install(ctx context.Context, c *plugin.Certificate, stored []plugin.StoreResult, steps []plugin.Installation) error {
	ctx, span := telemetry.TraceStage(ctx, string(plugin.StageInstallation), "")
	for _, i := range steps {
		if err := i.Install(ctx, c, stored); err != nil {
			err = fmt.Errorf("installation failed: %w", err)
			telemetry.End(span, err)
			return err
		}
	}
	telemetry.End(span, nil)
	return nil
}

// build creates the executor of a resolved plugin
func build[T any](ctx context.Context, res resolver.Resolved, env *plugin.Env) (T, error) {
	var zero T
	d := res.Descriptor
	exec, err := d.Build(ctx, res.Options, env)
	if err != nil {
		return zero, fmt.Errorf("failed to build %s plugin %s: %w", d.Stage, d.Name, err)
	}
	t, ok := exec.(T)
	if !ok {
		return zero, fmt.Errorf("%s plugin %s built %T", d.Stage, d.Name, exec)
	}
	return t, nil
}
