package targets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go_certagent/internal/domainutil"
	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"
)

const NginxID = "5b3d4a8e-6c1f-4f0e-9d52-1f8a3c7b2e60"

// DefaultNginxConfDir is checked by the capability check
var DefaultNginxConfDir = "/etc/nginx"

// NginxOptions selects server names found in an nginx configuration tree
type NginxOptions struct {
	ConfDir string `json:"confDir,omitempty"`
	// Hosts restricts the result; empty means every server name found
	Hosts      []string `json:"hosts,omitempty"`
	CommonName string   `json:"commonName,omitempty"`
}

func (*NginxOptions) PluginID() string { return NginxID }

func (o *NginxOptions) dir() string {
	if o.ConfDir != "" {
		return o.ConfDir
	}
	return DefaultNginxConfDir
}

// Nginx reads server_name directives
var Nginx = &plugin.Descriptor{
	ID:          NginxID,
	Name:        "nginx",
	Description: "Read host names from nginx server blocks",
	Stage:       plugin.StageTarget,
	Sort:        10,
	Capability: func(plugin.RunContext) (bool, string) {
		if st, err := os.Stat(DefaultNginxConfDir); err != nil || !st.IsDir() {
			return false, "no nginx configuration found at " + DefaultNginxConfDir
		}
		return true, ""
	},
	NewOptions: func() plugin.Options { return &NginxOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		return &NginxOptions{
			ConfDir:    args["nginxconf"],
			Hosts:      SplitHosts(args["host"]),
			CommonName: args["commonname"],
		}, nil
	},
	Configure: nginxConfigure,
	Build: func(_ context.Context, opts plugin.Options, _ *plugin.Env) (any, error) {
		o, ok := opts.(*NginxOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		return &nginxTarget{opts: *o}, nil
	},
}

func nginxConfigure(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
	o := &NginxOptions{}
	parts, err := ScanNginx(o.dir())
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no usable server_name found under %s", o.dir())
	}

	choices := []input.Choice[int]{{Option: input.Option{Label: "All server blocks", Default: true}, Value: -1}}
	for i, p := range parts {
		choices = append(choices, input.Choice[int]{
			Option: input.Option{Label: p.Name, Description: strings.Join(target.Values(p.Identifiers), ", ")},
			Value:  i,
		})
	}
	picked, err := input.Choose(ctx, env.Input, "Select server block", choices)
	if err != nil {
		return nil, err
	}
	if picked >= 0 {
		o.Hosts = target.Values(parts[picked].Identifiers)
	}
	return o, nil
}

type nginxTarget struct {
	opts NginxOptions
}

func (n *nginxTarget) Generate(context.Context) (target.Target, error) {
	parts, err := ScanNginx(n.opts.dir())
	if err != nil {
		return target.Target{}, err
	}
	if len(n.opts.Hosts) > 0 {
		parts = filterParts(parts, n.opts.Hosts)
	}
	t := target.Target{Parts: parts}
	if n.opts.CommonName != "" {
		cn, err := target.ParseIdentifier(n.opts.CommonName)
		if err != nil {
			return target.Target{}, err
		}
		t.CommonName = &cn
	}
	if err := t.Validate(); err != nil {
		return target.Target{}, fmt.Errorf("nginx configuration under %s: %w", n.opts.dir(), err)
	}
	return t, nil
}

func filterParts(parts []target.Part, hosts []string) []target.Part {
	want := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		want[strings.ToLower(h)] = true
	}
	var out []target.Part
	for _, p := range parts {
		var ids []target.Identifier
		for _, id := range p.Identifiers {
			if want[id.Value] {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			out = append(out, target.Part{Name: p.Name, Identifiers: ids})
		}
	}
	return out
}

// ScanNginx walks dir and returns one part per server block that declares usable names
func ScanNginx(dir string) ([]target.Part, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".conf") || strings.Contains(path, "sites-enabled") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(files)

	var parts []target.Part
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		rel, _ := filepath.Rel(dir, f)
		for i, names := range serverNames(string(data)) {
			p := target.Part{Name: rel}
			if i > 0 {
				p.Name = fmt.Sprintf("%s#%d", rel, i+1)
			}
			for _, n := range names {
				id, err := target.ParseIdentifier(n)
				if err != nil {
					continue
				}
				p.Identifiers = append(p.Identifiers, id)
			}
			if len(p.Identifiers) > 0 {
				parts = append(parts, p)
			}
		}
	}
	return parts, nil
}

// serverNames returns the names of every server_name directive, one slice per directive
func serverNames(conf string) [][]string {
	var b strings.Builder
	for _, line := range strings.Split(conf, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte(' ')
	}

	var out [][]string
	for _, stmt := range strings.Split(b.String(), ";") {
		fields := strings.Fields(strings.ReplaceAll(strings.ReplaceAll(stmt, "{", " { "), "}", " } "))
		for i, f := range fields {
			if f != "server_name" {
				continue
			}
			var names []string
			for _, n := range fields[i+1:] {
				if usableServerName(n) {
					names = append(names, strings.ToLower(n))
				}
			}
			out = append(out, names)
			break
		}
	}
	return out
}

func usableServerName(n string) bool {
	switch {
	case n == "_" || n == "" || n == "{" || n == "}":
		return false
	case strings.HasPrefix(n, "~") || strings.Contains(n, "$"):
		return false
	case strings.HasPrefix(n, "."):
		// .example.com is shorthand nginx expands at runtime
		return false
	case strings.EqualFold(n, "localhost"):
		return false
	}
	_, err := domainutil.Normalize(n)
	return err == nil
}
