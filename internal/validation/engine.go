package validation

import (
	"context"
	"fmt"

	"go_certagent/internal/acme"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Engine drives authorizations of ACME orders through a Validator
type Engine struct {
	client acme.Client
	log    *logrus.Entry
}

// NewEngine creates a validation engine
func NewEngine(client acme.Client, log *logrus.Entry) *Engine {
	return &Engine{client: client, log: log.WithField("component", "validation")}
}

// Authorize validates every pending authorization of the given orders.
// Validators that declare ParallelPrepare get one batch for all identifiers,
// the others get one batch per identifier, run one after another.
func (e *Engine) Authorize(ctx context.Context, orders []*acme.Order, v Validator) error {
	contexts, err := e.collect(ctx, orders, v)
	if err != nil {
		return err
	}
	if len(contexts) == 0 {
		e.log.Debug("[Validation] All authorizations already valid")
		return nil
	}

	if v.Parallelism().Has(ParallelPrepare) {
		return e.runBatch(ctx, contexts, v)
	}
	for _, vc := range contexts {
		if err := e.runBatch(ctx, []*Context{vc}, v); err != nil {
			return err
		}
	}
	return nil
}

// collect fetches authorizations and builds one Context per pending identifier
func (e *Engine) collect(ctx context.Context, orders []*acme.Order, v Validator) ([]*Context, error) {
	seen := make(map[string]struct{})
	var contexts []*Context

	for _, order := range orders {
		for _, url := range order.Authorizations {
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}

			authz, err := e.client.GetAuthorization(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("failed to get authorization: %w", err)
			}
			log := e.log.WithField("identifier", authz.Identifier.Value)

			switch authz.Status {
			case acme.StatusValid:
				log.Info("[Validation] Cached authorization is still valid")
				continue
			case acme.StatusPending:
			default:
				return nil, fmt.Errorf("%s: authorization is %s", authz.Identifier, authz.Status)
			}

			ch, ok := authz.Challenge(v.ChallengeType())
			if !ok {
				return nil, fmt.Errorf("%s: server does not offer %s", authz.Identifier, v.ChallengeType())
			}
			keyAuth, err := e.client.KeyAuthorization(ch.Token)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to compute key authorization: %w", authz.Identifier, err)
			}

			contexts = append(contexts, &Context{
				Identifier:    authz.Identifier,
				Authorization: authz,
				Challenge:     ch,
				KeyAuth:       keyAuth,
				State:         StateCreated,
				Log:           log.WithField("challenge", ch.Type),
			})
		}
	}
	return contexts, nil
}

func (e *Engine) runBatch(ctx context.Context, batch []*Context, v Validator) error {
	defer e.cleanUp(ctx, batch, v)

	if err := e.prepare(ctx, batch, v); err != nil {
		return err
	}

	if err := v.Commit(ctx, batch); err != nil {
		return fmt.Errorf("failed to commit challenge answers: %w", err)
	}
	for _, vc := range batch {
		vc.State = StateCommitted
	}

	return e.answer(ctx, batch, v)
}

func (e *Engine) prepare(ctx context.Context, batch []*Context, v Validator) error {
	one := func(ctx context.Context, vc *Context) error {
		vc.attempted = true
		vc.Log.Info("[Validation] Preparing challenge answer")
		if err := v.Prepare(ctx, vc); err != nil {
			return fmt.Errorf("%s: prepare failed: %w", vc.Identifier, err)
		}
		vc.State = StatePrepared
		return nil
	}

	if len(batch) == 1 || !v.Parallelism().Has(ParallelPrepare) {
		for _, vc := range batch {
			if err := one(ctx, vc); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, vc := range batch {
		vc := vc
		g.Go(func() error { return one(gctx, vc) })
	}
	return g.Wait()
}

func (e *Engine) answer(ctx context.Context, batch []*Context, v Validator) error {
	one := func(ctx context.Context, vc *Context) error {
		vc.Log.Info("[Validation] Answering challenge")
		ch, err := e.client.AnswerChallenge(ctx, vc.Challenge)
		vc.Challenge = ch
		if err != nil {
			return fmt.Errorf("%s: validation failed: %w", vc.Identifier, err)
		}
		if ch.Status != acme.StatusValid {
			return fmt.Errorf("%s: validation failed with status %s: %s", vc.Identifier, ch.Status, ch.Error)
		}
		vc.Log.Info("[Validation] Authorization valid")
		return nil
	}

	if len(batch) == 1 || !v.Parallelism().Has(ParallelAnswer) {
		for _, vc := range batch {
			if err := one(ctx, vc); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, vc := range batch {
		vc := vc
		g.Go(func() error { return one(gctx, vc) })
	}
	return g.Wait()
}

// cleanUp calls CleanUp exactly once for every context that reached Prepare,
// also after cancellation. Failures are logged, never returned.
func (e *Engine) cleanUp(ctx context.Context, batch []*Context, v Validator) {
	ctx = context.WithoutCancel(ctx)
	for _, vc := range batch {
		if vc.State == StateCleanedUp {
			continue
		}
		if vc.attempted {
			if err := v.CleanUp(ctx, vc); err != nil {
				vc.Log.WithError(err).Warn("[Validation] Cleanup failed")
			}
		}
		vc.State = StateCleanedUp
	}
}
