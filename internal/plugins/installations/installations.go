package installations

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go_certagent/internal/fsutil"
	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/stores"
	"go_certagent/internal/renderer"
	"go_certagent/internal/target"

	"github.com/sirupsen/logrus"
)

const (
	NginxID  = "2ab6f3c1-8d47-4e5a-9b0c-7f1e2d3c4b5a"
	ScriptID = "3bb38a5a-2c4b-4a5e-8f56-5a3b2c6a9d11"

	DefaultSnippetDir = "/etc/nginx/snippets/certagent"
)

// Run executes an external program and returns its combined output; tests replace it
var Run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// LookPath locates executables for capability checks; tests replace it
var LookPath = exec.LookPath

func findStored(stored []plugin.StoreResult, typ string) (plugin.StoreResult, bool) {
	for _, s := range stored {
		if s.Type == typ {
			return s, true
		}
	}
	return plugin.StoreResult{}, false
}

// NginxOptions control where the include goes and which binary reloads
type NginxOptions struct {
	SnippetDir string `json:"snippetDir,omitempty"`
	Binary     string `json:"binary,omitempty"`
}

func (*NginxOptions) PluginID() string { return NginxID }

// Nginx points an nginx include at the stored PEM files and reloads nginx
var Nginx = &plugin.Descriptor{
	ID:          NginxID,
	Name:        "nginx",
	Description: "Write an nginx ssl include and reload nginx",
	Stage:       plugin.StageInstallation,
	Sort:        0,
	Accepts:     []string{plugin.OutputPemFiles},
	Capability: func(plugin.RunContext) (bool, string) {
		if _, err := LookPath("nginx"); err != nil {
			return false, "nginx executable not found"
		}
		return true, ""
	},
	NewOptions: func() plugin.Options { return &NginxOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		return &NginxOptions{SnippetDir: args["nginxsnippets"]}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*NginxOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		n := &nginx{opts: *o, log: env.Logger().WithField("plugin", "nginx")}
		if n.opts.SnippetDir == "" {
			n.opts.SnippetDir = DefaultSnippetDir
		}
		if n.opts.Binary == "" {
			n.opts.Binary = "nginx"
		}
		return n, nil
	},
}

type nginx struct {
	opts NginxOptions
	log  *logrus.Entry
}

func (n *nginx) Install(ctx context.Context, c *plugin.Certificate, stored []plugin.StoreResult) error {
	pem, ok := findStored(stored, plugin.OutputPemFiles)
	if !ok {
		return fmt.Errorf("nginx installation needs a store producing %s", plugin.OutputPemFiles)
	}

	name := stores.BaseName(c)
	content, hash := renderer.SSLSnippet{
		Name:        name,
		ServerNames: target.Values(c.Order.Identifiers()),
		CertFile:    pem.Files[stores.FileFullChain],
		KeyFile:     pem.Files[stores.FileKey],
		Thumbprint:  c.Bundle.Thumbprint(),
	}.Render()

	path := filepath.Join(n.opts.SnippetDir, name+".conf")
	previous, err := os.ReadFile(path)
	switch {
	case err == nil && renderer.ContentHash(previous) == hash:
		n.log.Infof("[Install] %s is up to date", path)
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			return err
		}
	}

	if out, err := Run(ctx, n.opts.Binary, "-t"); err != nil {
		n.log.WithField("output", string(out)).Error("[Install] nginx configuration test failed, restoring include")
		if previous != nil {
			_ = fsutil.WriteFileAtomic(path, previous, 0o644)
		} else {
			_ = fsutil.RemoveIfExists(path)
		}
		return fmt.Errorf("nginx -t failed: %w", err)
	}
	if out, err := Run(ctx, n.opts.Binary, "-s", "reload"); err != nil {
		return fmt.Errorf("nginx reload failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	n.log.Infof("[Install] Reloaded nginx with %s", path)
	return nil
}

// ScriptOptions run a program with placeholders replaced in its arguments
type ScriptOptions struct {
	Script    string `json:"script"`
	Arguments string `json:"arguments,omitempty"`
}

func (*ScriptOptions) PluginID() string { return ScriptID }

// Script runs an external program after the certificate is stored
var Script = &plugin.Descriptor{
	ID:          ScriptID,
	Name:        "script",
	Description: "Start an external script or program",
	Stage:       plugin.StageInstallation,
	Sort:        10,
	Accepts:     []string{plugin.OutputPemFiles, plugin.OutputS3Object},
	NewOptions:  func() plugin.Options { return &ScriptOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		if args["script"] == "" {
			return nil, fmt.Errorf("missing --script")
		}
		return &ScriptOptions{Script: args["script"], Arguments: args["scriptparameters"]}, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		script, err := env.Input.RequestString(ctx, "Path to the script or program")
		if err != nil {
			return nil, err
		}
		if script == "" {
			return nil, fmt.Errorf("a script is required")
		}
		env.Input.Show("Placeholders", strings.Join(Placeholders, " "))
		args, err := env.Input.RequestString(ctx, "Arguments")
		if err != nil {
			return nil, err
		}
		return &ScriptOptions{Script: script, Arguments: args}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*ScriptOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		return &script{opts: *o, log: env.Logger().WithField("plugin", "script")}, nil
	},
}

// Placeholders understood in script arguments
var Placeholders = []string{
	"{CertFile}", "{ChainFile}", "{FullChainFile}", "{KeyFile}",
	"{Location}", "{StoreType}", "{Thumbprint}", "{FriendlyName}", "{RenewalId}",
}

type script struct {
	opts ScriptOptions
	log  *logrus.Entry
}

// Expand replaces placeholders in each whitespace separated argument
func Expand(arguments string, c *plugin.Certificate, stored []plugin.StoreResult) []string {
	var s plugin.StoreResult
	if pem, ok := findStored(stored, plugin.OutputPemFiles); ok {
		s = pem
	} else if len(stored) > 0 {
		s = stored[0]
	}
	r := strings.NewReplacer(
		"{CertFile}", s.Files[stores.FileCert],
		"{ChainFile}", s.Files[stores.FileChain],
		"{FullChainFile}", s.Files[stores.FileFullChain],
		"{KeyFile}", s.Files[stores.FileKey],
		"{Location}", s.Location,
		"{StoreType}", s.Type,
		"{Thumbprint}", c.Bundle.Thumbprint(),
		"{FriendlyName}", c.FriendlyName,
		"{RenewalId}", c.RenewalID,
	)
	fields := strings.Fields(arguments)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields
}

func (s *script) Install(ctx context.Context, c *plugin.Certificate, stored []plugin.StoreResult) error {
	args := Expand(s.opts.Arguments, c, stored)
	out, err := Run(ctx, s.opts.Script, args...)
	log := s.log.WithField("script", s.opts.Script)
	if len(out) > 0 {
		log = log.WithField("output", strings.TrimSpace(string(out)))
	}
	if err != nil {
		log.Error("[Install] Script failed")
		return fmt.Errorf("script %s failed: %w", s.opts.Script, err)
	}
	log.Info("[Install] Script finished")
	return nil
}
