package plugin

import (
	"context"

	"go_certagent/internal/target"
	"go_certagent/internal/validation"
)

// Null plugin ids, one per stage
const (
	NullTargetID       = "00000000-0000-0000-0000-000000000001"
	NullOrderID        = "00000000-0000-0000-0000-000000000002"
	NullCSRID          = "00000000-0000-0000-0000-000000000003"
	NullStoreID        = "00000000-0000-0000-0000-000000000004"
	NullValidationID   = "00000000-0000-0000-0000-000000000005"
	NullInstallationID = "00000000-0000-0000-0000-000000000006"
)

var nullIDs = map[Stage]string{
	StageTarget:       NullTargetID,
	StageOrder:        NullOrderID,
	StageCSR:          NullCSRID,
	StageStore:        NullStoreID,
	StageValidation:   NullValidationID,
	StageInstallation: NullInstallationID,
}

// NullOptions selects the Null plugin of a stage
type NullOptions struct {
	id string
}

func (o *NullOptions) PluginID() string { return o.id }

// Null returns options selecting the Null plugin of stage
func Null(stage Stage) Options {
	return &NullOptions{id: nullIDs[stage]}
}

// IsNull reports whether o is missing or selects a Null plugin
func IsNull(o Options) bool {
	if o == nil {
		return true
	}
	_, ok := o.(*NullOptions)
	return ok
}

type nullTarget struct{}

func (nullTarget) Generate(context.Context) (target.Target, error) {
	return target.Target{}, ErrNullPlugin
}

type nullOrder struct{}

func (nullOrder) Split(t target.Target) ([]target.Order, error) {
	return []target.Order{{Target: t}}, nil
}

type nullCSR struct{}

func (nullCSR) Generate(context.Context, target.Order) ([]byte, []byte, error) {
	return nil, nil, ErrNullPlugin
}

type nullStore struct{}

func (nullStore) Save(context.Context, *Certificate) (StoreResult, error) {
	return StoreResult{PluginID: NullStoreID}, nil
}

type nullInstallation struct{}

func (nullInstallation) Install(context.Context, *Certificate, []StoreResult) error {
	return nil
}

type nullValidation struct{}

func (nullValidation) ChallengeType() string { return "" }

func (nullValidation) Parallelism() validation.Parallelism { return 0 }

func (nullValidation) Prepare(context.Context, *validation.Context) error { return ErrNullPlugin }

func (nullValidation) Commit(context.Context, []*validation.Context) error { return ErrNullPlugin }

func (nullValidation) CleanUp(context.Context, *validation.Context) error { return nil }

func nullDescriptors() []*Descriptor {
	build := map[Stage]any{
		StageTarget:       nullTarget{},
		StageOrder:        nullOrder{},
		StageCSR:          nullCSR{},
		StageStore:        nullStore{},
		StageValidation:   nullValidation{},
		StageInstallation: nullInstallation{},
	}
	var out []*Descriptor
	for _, stage := range Stages {
		stage := stage
		id := nullIDs[stage]
		exec := build[stage]
		out = append(out, &Descriptor{
			ID:          id,
			Name:        "null",
			Description: "No " + string(stage) + " plugin",
			Stage:       stage,
			Hidden:      true,
			NewOptions:  func() Options { return &NullOptions{id: id} },
			Build: func(context.Context, Options, *Env) (any, error) {
				return exec, nil
			},
		})
	}
	return out
}
