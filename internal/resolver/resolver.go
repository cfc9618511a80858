package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"

	"github.com/sirupsen/logrus"
)

// Default plugin names used unattended when neither stored options nor arguments pick one
var Defaults = map[plugin.Stage]string{
	plugin.StageOrder:      "single",
	plugin.StageCSR:        "ec",
	plugin.StageStore:      "pemfiles",
	plugin.StageValidation: "http-01-self",
}

// Selection is the persisted choice of options per stage. A nil entry means
// nothing was chosen; nil slices differ from empty ones.
type Selection struct {
	Target        plugin.Options
	Order         plugin.Options
	CSR           plugin.Options
	Stores        []plugin.Options
	Validation    plugin.Options
	Installations []plugin.Options
}

// Resolved is a descriptor with the options it will run with
type Resolved struct {
	Descriptor *plugin.Descriptor
	Options    plugin.Options
}

// IsNull reports whether the Null plugin was substituted
func (r Resolved) IsNull() bool {
	return r.Descriptor == nil || plugin.IsNull(r.Options)
}

// Plan is the outcome of resolving every stage
type Plan struct {
	Target        Resolved
	Order         Resolved
	CSR           Resolved
	Stores        []Resolved
	Validation    Resolved
	Installations []Resolved
}

// StoreOutputs are the output types of the resolved stores
func (p Plan) StoreOutputs() []string {
	var out []string
	for _, s := range p.Stores {
		out = append(out, s.Descriptor.Produces...)
	}
	return out
}

// Selection returns the options of the plan for persistence
func (p Plan) Selection() Selection {
	sel := Selection{
		Target:        p.Target.Options,
		Order:         p.Order.Options,
		CSR:           p.CSR.Options,
		Validation:    p.Validation.Options,
		Stores:        []plugin.Options{},
		Installations: []plugin.Options{},
	}
	for _, s := range p.Stores {
		sel.Stores = append(sel.Stores, s.Options)
	}
	for _, i := range p.Installations {
		sel.Installations = append(sel.Installations, i.Options)
	}
	return sel
}

// Resolver picks a plugin and its options for every stage
type Resolver struct {
	reg *plugin.Registry
	env *plugin.Env
	log *logrus.Entry
}

func New(reg *plugin.Registry, env *plugin.Env, log *logrus.Entry) *Resolver {
	return &Resolver{reg: reg, env: env, log: log.WithField("component", "resolver")}
}

func (r *Resolver) null(stage plugin.Stage, pluginRef, reason string) Resolved {
	r.log.WithFields(logrus.Fields{
		"stage":  stage,
		"plugin": pluginRef,
		"reason": reason,
	}).Error("[Resolver] Plugin not usable, falling back to null plugin")
	d := r.reg.NullOf(stage)
	return Resolved{Descriptor: d, Options: d.NewOptions()}
}

// fromOptions resolves stored options
func (r *Resolver) fromOptions(stage plugin.Stage, opts plugin.Options, rc plugin.RunContext) Resolved {
	if plugin.IsNull(opts) {
		d := r.reg.NullOf(stage)
		return Resolved{Descriptor: d, Options: d.NewOptions()}
	}
	if u, ok := opts.(*plugin.Unresolved); ok {
		return r.null(stage, u.ID, "unknown plugin or unreadable options")
	}
	d, ok := r.reg.FindByID(opts.PluginID())
	if !ok || d.Stage != stage {
		return r.null(stage, opts.PluginID(), "unknown plugin")
	}
	return r.check(stage, Resolved{Descriptor: d, Options: opts}, rc)
}

// fromName resolves a plugin by name and builds its options from arguments
func (r *Resolver) fromName(stage plugin.Stage, name string, args plugin.Args, rc plugin.RunContext) Resolved {
	d, ok := r.reg.FindByName(stage, name)
	if !ok {
		return r.null(stage, name, "unknown plugin")
	}
	res := r.check(stage, Resolved{Descriptor: d}, rc)
	if res.Descriptor != d {
		return res
	}
	opts, err := d.Defaults(r.env, args)
	if err != nil {
		return r.null(stage, d.Name, err.Error())
	}
	res.Options = opts
	return res
}

// check runs the capability checks a resolved plugin must pass
func (r *Resolver) check(stage plugin.Stage, res Resolved, rc plugin.RunContext) Resolved {
	d := res.Descriptor
	if ok, reason := plugin.Evaluate(d, rc); !ok {
		return r.null(stage, d.Name, reason)
	}
	if stage == plugin.StageValidation && d.CanValidate != nil && rc.Target != nil {
		if ok, reason := d.CanValidate(*rc.Target); !ok {
			return r.null(stage, d.Name, reason)
		}
	}
	if stage == plugin.StageInstallation && !d.Accepting(rc.StoreOutputs) {
		return r.null(stage, d.Name, "accepts none of the store outputs "+strings.Join(rc.StoreOutputs, ", "))
	}
	return res
}

func (r *Resolver) single(stage plugin.Stage, opts plugin.Options, args plugin.Args, rc plugin.RunContext) Resolved {
	if opts != nil {
		return r.fromOptions(stage, opts, rc)
	}
	name := args[string(stage)]
	if name == "" {
		name = Defaults[stage]
	}
	if name == "" {
		return r.null(stage, "", "no plugin selected")
	}
	return r.fromName(stage, name, args, rc)
}

// Target resolves only the target stage; the runner needs it to build the
// run context of the other stages
func (r *Resolver) Target(sel Selection, args plugin.Args, rc plugin.RunContext) Resolved {
	return r.single(plugin.StageTarget, sel.Target, args, rc)
}

// Unattended resolves every stage without operator input. Stored options win
// over arguments, arguments over defaults. Unusable choices become Null plugins;
// stores and installations that are unusable are left out.
func (r *Resolver) Unattended(sel Selection, args plugin.Args, rc plugin.RunContext) Plan {
	if args == nil {
		args = plugin.Args{}
	}
	rc.Interactive = false
	p := Plan{
		Target:     r.Target(sel, args, rc),
		Order:      r.single(plugin.StageOrder, sel.Order, args, rc),
		CSR:        r.single(plugin.StageCSR, sel.CSR, args, rc),
		Validation: r.single(plugin.StageValidation, sel.Validation, args, rc),
	}

	p.Stores = r.list(plugin.StageStore, sel.Stores, args, rc)
	rc.StoreOutputs = p.StoreOutputs()

	if sel.Installations == nil && args[string(plugin.StageInstallation)] == "" {
		p.Installations = r.defaultInstallations(p.Target, rc)
	} else {
		p.Installations = r.list(plugin.StageInstallation, sel.Installations, args, rc)
	}
	return p
}

func (r *Resolver) list(stage plugin.Stage, stored []plugin.Options, args plugin.Args, rc plugin.RunContext) []Resolved {
	var out []Resolved
	if stored != nil {
		for _, opts := range stored {
			if res := r.fromOptions(stage, opts, rc); !res.IsNull() {
				out = append(out, res)
			}
		}
		return out
	}

	names := splitNames(args[string(stage)])
	if len(names) == 0 && Defaults[stage] != "" {
		names = []string{Defaults[stage]}
	}
	for _, name := range names {
		if res := r.fromName(stage, name, args, rc); !res.IsNull() {
			out = append(out, res)
		}
	}
	return out
}

// defaultInstallations installs into the web server the target was read from
func (r *Resolver) defaultInstallations(tgt Resolved, rc plugin.RunContext) []Resolved {
	if tgt.IsNull() {
		return nil
	}
	d, ok := r.reg.FindByName(plugin.StageInstallation, tgt.Descriptor.Name)
	if !ok {
		return nil
	}
	if ok, _ := plugin.Evaluate(d, rc); !ok || !d.Accepting(rc.StoreOutputs) {
		return nil
	}
	opts, err := d.Defaults(r.env, plugin.Args{})
	if err != nil {
		return nil
	}
	return []Resolved{{Descriptor: d, Options: opts}}
}

func splitNames(raw string) []string {
	var out []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// TargetGenerator builds the target of a resolved target plugin so later
// menus can be checked against it
type TargetGenerator func(ctx context.Context, res Resolved) (*target.Target, error)

// Interactive asks the operator for every stage. Cancelling a single stage
// selects its Null plugin; unavailable plugins are shown with their reason.
func (r *Resolver) Interactive(ctx context.Context, in input.Service, rc plugin.RunContext, generate TargetGenerator) (Plan, error) {
	env := *r.env
	env.Input = in
	rc.Interactive = true

	var p Plan
	var err error
	if p.Target, err = r.choose(ctx, &env, plugin.StageTarget, "Which kind of certificate would you like to create?", rc); err != nil {
		return Plan{}, err
	}
	if p.Target.IsNull() {
		return p, fmt.Errorf("no target selected: %w", plugin.ErrNullPlugin)
	}
	if generate != nil {
		t, err := generate(ctx, p.Target)
		if err != nil {
			return Plan{}, err
		}
		rc.Target = t
	}

	if p.Validation, err = r.choose(ctx, &env, plugin.StageValidation, "How would you like to prove ownership of the domain(s)?", rc); err != nil {
		return Plan{}, err
	}
	if p.Order, err = r.choose(ctx, &env, plugin.StageOrder, "Would you like to split this source into multiple certificates?", rc); err != nil {
		return Plan{}, err
	}
	if p.CSR, err = r.choose(ctx, &env, plugin.StageCSR, "What kind of private key should be used for the certificate?", rc); err != nil {
		return Plan{}, err
	}
	if p.Stores, err = r.chooseMany(ctx, &env, plugin.StageStore, "How would you like to store the certificate?", rc); err != nil {
		return Plan{}, err
	}
	rc.StoreOutputs = p.StoreOutputs()
	if p.Installations, err = r.chooseMany(ctx, &env, plugin.StageInstallation, "Which installation step should run first?", rc); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (r *Resolver) menu(stage plugin.Stage, rc plugin.RunContext, exclude map[string]bool) ([]input.Choice[*plugin.Descriptor], bool) {
	var choices []input.Choice[*plugin.Descriptor]
	hasDefault := false
	for _, d := range r.reg.List(stage) {
		if exclude[d.ID] {
			continue
		}
		opt := input.Option{Label: d.Description}
		if res := r.silentCheck(stage, d, rc); res != "" {
			opt.Disabled, opt.Reason = true, res
		} else if !hasDefault {
			opt.Default, hasDefault = true, true
		}
		choices = append(choices, input.Choice[*plugin.Descriptor]{Option: opt, Value: d})
	}
	return choices, hasDefault
}

// silentCheck is check without logging, for menus
func (r *Resolver) silentCheck(stage plugin.Stage, d *plugin.Descriptor, rc plugin.RunContext) string {
	if ok, reason := plugin.Evaluate(d, rc); !ok {
		return reason
	}
	if stage == plugin.StageValidation && d.CanValidate != nil && rc.Target != nil {
		if ok, reason := d.CanValidate(*rc.Target); !ok {
			return reason
		}
	}
	if stage == plugin.StageInstallation && !d.Accepting(rc.StoreOutputs) {
		return "does not work with the selected store"
	}
	return ""
}

func (r *Resolver) configure(ctx context.Context, env *plugin.Env, stage plugin.Stage, d *plugin.Descriptor, rc plugin.RunContext) (Resolved, error) {
	opts, err := d.Interactive(ctx, env, rc)
	if errors.Is(err, input.ErrCancelled) {
		return r.null(stage, d.Name, "cancelled by operator"), nil
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to configure %s plugin %s: %w", stage, d.Name, err)
	}
	return Resolved{Descriptor: d, Options: opts}, nil
}

func (r *Resolver) choose(ctx context.Context, env *plugin.Env, stage plugin.Stage, prompt string, rc plugin.RunContext) (Resolved, error) {
	choices, usable := r.menu(stage, rc, nil)
	if !usable {
		return r.null(stage, "", "no plugin available"), nil
	}
	d, err := input.Choose(ctx, env.Input, prompt, choices)
	if errors.Is(err, input.ErrCancelled) {
		return r.null(stage, "", "cancelled by operator"), nil
	}
	if err != nil {
		return Resolved{}, err
	}
	return r.configure(ctx, env, stage, d, rc)
}

// chooseMany repeats the menu until the operator is done; each plugin can be picked once
func (r *Resolver) chooseMany(ctx context.Context, env *plugin.Env, stage plugin.Stage, prompt string, rc plugin.RunContext) ([]Resolved, error) {
	var out []Resolved
	picked := map[string]bool{}
	for {
		choices, usable := r.menu(stage, rc, picked)
		if !usable {
			return out, nil
		}
		if len(out) > 0 || stage == plugin.StageInstallation {
			label := "No (additional) " + string(stage) + " steps"
			choices = append(choices, input.Choice[*plugin.Descriptor]{Option: input.Option{Label: label}})
		}
		d, err := input.Choose(ctx, env.Input, prompt, choices)
		if errors.Is(err, input.ErrCancelled) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if d == nil {
			return out, nil
		}

		res, err := r.configure(ctx, env, stage, d, rc)
		if err != nil {
			return nil, err
		}
		picked[d.ID] = true
		if !res.IsNull() {
			out = append(out, res)
			if stage == plugin.StageStore {
				rc.StoreOutputs = append(rc.StoreOutputs, d.Produces...)
			}
		}
		prompt = "Add another " + string(stage) + " step?"
	}
}
