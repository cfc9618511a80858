package renewal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go_certagent/internal/plugin"
	"go_certagent/internal/target"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPeriod between successful runs of a renewal
const DefaultPeriod = 55 * 24 * time.Hour

// Blob is a renewal as stored by a backend
type Blob struct {
	ID           string
	FriendlyName string
	NextDueDate  time.Time
	Data         []byte
	History      []byte
}

// Backend reads and writes serialized renewals. Write must replace the
// renewal and its history together or not at all.
type Backend interface {
	ReadAll(ctx context.Context) ([]Blob, error)
	Write(ctx context.Context, b Blob) error
	// Delete returns ErrNotFound when nothing was stored under id
	Delete(ctx context.Context, id string) error
}

// Service is the renewal store
type Service struct {
	backend Backend
	reg     *plugin.Registry
	period  time.Duration
	log     *logrus.Entry
	mu      sync.Mutex

	// Now is the clock used for result dates
	Now func() time.Time
}

// NewService creates a store that schedules successful renewals period after their last run
func NewService(backend Backend, reg *plugin.Registry, period time.Duration, log *logrus.Entry) *Service {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Service{
		backend: backend,
		reg:     reg,
		period:  period,
		log:     log.WithField("component", "renewal-store"),
		Now:     time.Now,
	}
}

// Period between successful runs
func (s *Service) Period() time.Duration {
	return s.period
}

// List returns every readable renewal ordered by due date. Malformed records are skipped.
func (s *Service) List(ctx context.Context) ([]*Renewal, error) {
	blobs, err := s.backend.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read renewals: %w", err)
	}
	out := make([]*Renewal, 0, len(blobs))
	for _, b := range blobs {
		r, err := Decode(s.reg, b.Data, b.History, s.log)
		if err != nil {
			s.log.WithField("renewal", b.ID).WithError(err).Error("[Store] Skipping unreadable renewal")
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].NextDueDate.Equal(out[j].NextDueDate) {
			return out[i].NextDueDate.Before(out[j].NextDueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the renewal with the given id
func (s *Service) Get(ctx context.Context, id string) (*Renewal, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// Find returns the renewal whose latest result covered exactly the identifier set.
// Order and case of the identifiers do not matter.
func (s *Service) Find(ctx context.Context, ids []target.Identifier) (*Renewal, error) {
	key := target.SetKey(ids)
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.identifierKey() == key {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Due returns the renewals whose due date is not after now
func (s *Service) Due(ctx context.Context, now time.Time) ([]*Renewal, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []*Renewal
	for _, r := range all {
		if r.IsDue(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// Save appends result to the history of r and persists it. A successful result
// moves the due date to one period after the result; a failed one leaves it.
// New renewals get an id. When persisting fails r is left unchanged.
func (s *Service) Save(ctx context.Context, r *Renewal, result RenewResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := *r
	isNew := r.IsNew()
	if isNew {
		r.ID = uuid.NewString()
	}
	if result.Date.IsZero() {
		result.Date = s.Now()
	}
	if result.Plugins == nil {
		result.Plugins = Snapshot(s.reg, r.Options)
	}
	r.History = append(r.History, result)
	if result.Success {
		r.NextDueDate = result.Date.Add(s.period)
	}

	if err := s.write(ctx, r); err != nil {
		*r = prev
		return err
	}

	log := s.log.WithFields(logrus.Fields{
		"renewal": r.ID,
		"name":    r.FriendlyName,
		"success": result.Success,
		"due":     r.NextDueDate.Format(time.RFC3339),
	})
	if isNew {
		log.Info("[Store] Adding new renewal")
	} else {
		log.Info("[Store] Renewal updated")
	}
	return nil
}

// Update persists changed options of an existing renewal without adding history
func (s *Service) Update(ctx context.Context, r *Renewal) error {
	if r.IsNew() {
		return fmt.Errorf("renewal was never saved")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, r)
}

func (s *Service) write(ctx context.Context, r *Renewal) error {
	data, history, err := Encode(r)
	if err != nil {
		return err
	}
	err = s.backend.Write(ctx, Blob{
		ID:           r.ID,
		FriendlyName: r.FriendlyName,
		NextDueDate:  r.NextDueDate.UTC(),
		Data:         data,
		History:      history,
	})
	if err != nil {
		return fmt.Errorf("failed to save renewal %s: %w", r.ID, err)
	}
	return nil
}

// Cancel deletes the renewal; its certificates stay where they were stored
func (s *Service) Cancel(ctx context.Context, r *Renewal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.IsNew() {
		return ErrNotFound
	}
	if err := s.backend.Delete(ctx, r.ID); err != nil {
		return fmt.Errorf("failed to cancel renewal %s: %w", r.ID, err)
	}
	s.log.WithFields(logrus.Fields{"renewal": r.ID, "name": r.FriendlyName}).Info("[Store] Renewal cancelled")
	return nil
}
