package runner

import (
	"context"
	"errors"
	"fmt"

	"go_certagent/internal/plugin"
	"go_certagent/internal/renewal"

	"github.com/sirupsen/logrus"
)

// Summary counts the outcome of a batch
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d renewals: %d succeeded, %d failed, %d skipped", s.Total, s.Succeeded, s.Failed, s.Skipped)
}

// RunDue runs every due renewal one after another, or every renewal when force
// is set. A failing renewal does not stop the batch.
func (r *Runner) RunDue(ctx context.Context, args plugin.Args, force bool) (Summary, error) {
	var (
		list []*renewal.Renewal
		err  error
	)
	if force {
		list, err = r.store.List(ctx)
	} else {
		list, err = r.store.Due(ctx, r.Now())
	}
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Total: len(list)}
	if len(list) == 0 {
		r.log.Info("[Runner] No renewals are due")
		return sum, nil
	}
	r.log.WithFields(logrus.Fields{"count": len(list), "force": force}).Info("[Runner] Processing renewals")

	for _, ren := range list {
		if ctx.Err() != nil {
			sum.Skipped += sum.Total - sum.Succeeded - sum.Failed - sum.Skipped
			break
		}
		_, err := r.run(ctx, ren, args, force)
		switch {
		case errors.Is(err, renewal.ErrLocked):
			r.log.WithField("renewal", ren.ID).Warn("[Runner] Renewal is already running, skipped")
			sum.Skipped++
		case errors.Is(err, renewal.ErrNotFound):
			r.log.WithField("renewal", ren.ID).Info("[Runner] Renewal was cancelled, skipped")
			sum.Skipped++
		case errors.Is(err, ErrNotDue):
			r.log.WithField("renewal", ren.ID).Info("[Runner] Renewal is no longer due, skipped")
			sum.Skipped++
		case err != nil:
			sum.Failed++
		default:
			sum.Succeeded++
		}
	}
	r.log.Info("[Runner] Batch finished: " + sum.String())
	return sum, ctx.Err()
}

// RunByID runs one renewal regardless of its due date
func (r *Runner) RunByID(ctx context.Context, id string, args plugin.Args) (*renewal.Renewal, renewal.RenewResult, error) {
	ren, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, renewal.RenewResult{}, err
	}
	res, err := r.Run(ctx, ren, args)
	return ren, res, err
}
