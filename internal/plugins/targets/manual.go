package targets

import (
	"context"
	"fmt"
	"strings"

	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"
)

const ManualID = "e239db3b-b42f-48aa-b64f-46d4f3e9941b"

// ManualOptions is an explicit host list
type ManualOptions struct {
	Hosts      []string `json:"hosts"`
	CommonName string   `json:"commonName,omitempty"`
}

func (*ManualOptions) PluginID() string { return ManualID }

// Manual is the manual target plugin
var Manual = &plugin.Descriptor{
	ID:          ManualID,
	Name:        "manual",
	Description: "Manually input host names",
	Stage:       plugin.StageTarget,
	Sort:        0,
	NewOptions:  func() plugin.Options { return &ManualOptions{} },
	FromArgs:    manualFromArgs,
	Configure:   manualConfigure,
	Build: func(_ context.Context, opts plugin.Options, _ *plugin.Env) (any, error) {
		o, ok := opts.(*ManualOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		return &manualTarget{opts: *o}, nil
	},
}

// SplitHosts parses a comma or space separated host list
func SplitHosts(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func manualFromArgs(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
	hosts := SplitHosts(args["host"])
	if len(hosts) == 0 {
		return nil, fmt.Errorf("missing --host")
	}
	o := &ManualOptions{Hosts: hosts, CommonName: args["commonname"]}
	if _, err := target.New("", o.Hosts, o.CommonName); err != nil {
		return nil, err
	}
	return o, nil
}

func manualConfigure(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
	for {
		raw, err := env.Input.RequestString(ctx, "Enter comma-separated list of host names")
		if err != nil {
			return nil, err
		}
		hosts := SplitHosts(raw)
		t, err := target.New("", hosts, "")
		if err != nil {
			env.Input.Show("Error", err.Error())
			continue
		}

		o := &ManualOptions{Hosts: hosts}
		ids := t.Identifiers()
		if len(ids) > 1 {
			choices := make([]input.Choice[string], 0, len(ids))
			for i, id := range ids {
				choices = append(choices, input.Choice[string]{
					Option: input.Option{Label: id.Value, Default: i == 0},
					Value:  id.Value,
				})
			}
			cn, err := input.Choose(ctx, env.Input, "Select common name", choices)
			if err != nil {
				return nil, err
			}
			o.CommonName = cn
		}
		return o, nil
	}
}

type manualTarget struct {
	opts ManualOptions
}

func (m *manualTarget) Generate(context.Context) (target.Target, error) {
	return target.New("", m.opts.Hosts, m.opts.CommonName)
}
