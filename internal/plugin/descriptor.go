package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go_certagent/internal/input"
	"go_certagent/internal/secret"
	"go_certagent/internal/target"
	"go_certagent/internal/validation"

	"github.com/sirupsen/logrus"
)

// Stage of the certificate pipeline
type Stage string

const (
	StageTarget       Stage = "target"
	StageOrder        Stage = "order"
	StageCSR          Stage = "csr"
	StageStore        Stage = "store"
	StageValidation   Stage = "validation"
	StageInstallation Stage = "installation"
)

// Stages in pipeline order
var Stages = []Stage{StageTarget, StageOrder, StageCSR, StageStore, StageValidation, StageInstallation}

// ErrNullPlugin is returned by Null plugins of stages that cannot be skipped
var ErrNullPlugin = errors.New("no usable plugin selected")

// RunContext is what capability checks can see. Checks must not touch the network.
type RunContext struct {
	Interactive  bool
	Target       *target.Target
	StoreOutputs []string
}

// Env is handed to plugins when they are configured or built
type Env struct {
	Log     *logrus.Entry
	Input   input.Service // nil when unattended
	Secrets *secret.Protector
	Lookup  validation.Lookup
	DNS     validation.DNSOptions
	// HTTP01Addr is the listen address of the self-hosted http-01 responder
	HTTP01Addr string
	DataDir    string
}

// Args are unattended settings, e.g. from command line flags
type Args map[string]string

// Descriptor describes one plugin of one stage
type Descriptor struct {
	// ID is stable and persisted with renewals
	ID          string
	Name        string
	Description string
	Stage       Stage
	// Hidden plugins are never listed in menus
	Hidden bool
	Sort   int
	// InteractiveOnly plugins need an operator at run time
	InteractiveOnly bool

	// ChallengeType answered by a validation plugin
	ChallengeType string
	// Produces lists the output types of a store plugin
	Produces []string
	// Accepts lists the store output types an installation plugin can work with
	Accepts []string

	// Capability reports whether the plugin can be used; nil means no restriction
	Capability func(rc RunContext) (bool, string)
	// CanValidate re-checks a validation plugin against the concrete target
	CanValidate func(t target.Target) (bool, string)

	// NewOptions returns empty options owned by this plugin
	NewOptions func() Options
	// Configure asks the operator for options; nil means defaults are fine
	Configure func(ctx context.Context, env *Env, rc RunContext) (Options, error)
	// FromArgs builds options unattended; nil means defaults are fine
	FromArgs func(env *Env, args Args) (Options, error)
	// Build creates the stage executor from options
	Build func(ctx context.Context, opts Options, env *Env) (any, error)
}

// Evaluate is the capability check of a plugin. It has no side effects.
func Evaluate(d *Descriptor, rc RunContext) (bool, string) {
	if d.InteractiveOnly && !rc.Interactive {
		return false, "only available in interactive mode"
	}
	if d.Capability == nil {
		return true, ""
	}
	return d.Capability(rc)
}

// Accepting reports whether an installation descriptor accepts any of the outputs
func (d *Descriptor) Accepting(outputs []string) bool {
	for _, a := range d.Accepts {
		for _, o := range outputs {
			if a == o {
				return true
			}
		}
	}
	return false
}

// Defaults builds options without operator input
func (d *Descriptor) Defaults(env *Env, args Args) (Options, error) {
	if d.FromArgs != nil {
		return d.FromArgs(env, args)
	}
	return d.NewOptions(), nil
}

// Interactive builds options with operator input
func (d *Descriptor) Interactive(ctx context.Context, env *Env, rc RunContext) (Options, error) {
	if d.Configure != nil {
		return d.Configure(ctx, env, rc)
	}
	return d.NewOptions(), nil
}

// Protect encrypts a secret option value when a protector is configured
func (e *Env) Protect(value string) (string, error) {
	if e == nil || e.Secrets == nil || value == "" {
		return value, nil
	}
	return e.Secrets.Protect(value)
}

// Reveal decrypts a secret option value; plain values pass through
func (e *Env) Reveal(value string) (string, error) {
	if e == nil || e.Secrets == nil {
		if secret.IsProtected(value) {
			return "", fmt.Errorf("option is encrypted but no secret key is configured")
		}
		return value, nil
	}
	return e.Secrets.RevealOrPlain(value)
}

// Logger returns the environment logger or a discarding one
func (e *Env) Logger() *logrus.Entry {
	if e == nil || e.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return logrus.NewEntry(l)
	}
	return e.Log
}
