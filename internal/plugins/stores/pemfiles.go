package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go_certagent/internal/fsutil"
	"go_certagent/internal/plugin"

	"github.com/sirupsen/logrus"
)

const PemFilesID = "e57c70e4-cd60-4ba6-80f6-a41703e21031"

// File keys of StoreResult.Files
const (
	FileCert      = "cert"
	FileChain     = "chain"
	FileFullChain = "fullchain"
	FileKey       = "key"
)

// PemFilesOptions points at the directory certificates are written to
type PemFilesOptions struct {
	Path string `json:"path"`
	// Name overrides the file name prefix
	Name string `json:"name,omitempty"`
}

func (*PemFilesOptions) PluginID() string { return PemFilesID }

// PemFiles writes PEM files to a directory
var PemFiles = &plugin.Descriptor{
	ID:          PemFilesID,
	Name:        "pemfiles",
	Description: "PEM encoded files (Apache, nginx, etc.)",
	Stage:       plugin.StageStore,
	Sort:        0,
	Produces:    []string{plugin.OutputPemFiles},
	NewOptions:  func() plugin.Options { return &PemFilesOptions{} },
	FromArgs: func(env *plugin.Env, args plugin.Args) (plugin.Options, error) {
		o := &PemFilesOptions{Path: args["pemfilespath"], Name: args["pemfilesname"]}
		if o.Path == "" && env != nil && env.DataDir != "" {
			o.Path = filepath.Join(env.DataDir, "certificates")
		}
		if o.Path == "" {
			return nil, fmt.Errorf("missing --pemfilespath")
		}
		return o, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		path, err := env.Input.RequestString(ctx, "Directory to save PEM files to")
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("a directory is required")
		}
		return &PemFilesOptions{Path: path}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*PemFilesOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		if o.Path == "" {
			return nil, fmt.Errorf("pemfiles store has no path")
		}
		return &pemFiles{opts: *o, log: env.Logger().WithField("plugin", "pemfiles")}, nil
	},
}

type pemFiles struct {
	opts PemFilesOptions
	log  *logrus.Entry
}

func (p *pemFiles) Save(_ context.Context, c *plugin.Certificate) (plugin.StoreResult, error) {
	name := p.opts.Name
	if name == "" {
		name = BaseName(c)
	}
	files := map[string]string{
		FileCert:      filepath.Join(p.opts.Path, name+"-crt.pem"),
		FileChain:     filepath.Join(p.opts.Path, name+"-chain-only.pem"),
		FileFullChain: filepath.Join(p.opts.Path, name+"-chain.pem"),
		FileKey:       filepath.Join(p.opts.Path, name+"-key.pem"),
	}
	contents := map[string][]byte{
		FileCert:      c.Bundle.CertPEM,
		FileChain:     c.Bundle.ChainPEM,
		FileFullChain: c.Bundle.FullChainPEM(),
		FileKey:       c.Bundle.KeyPEM,
	}
	for _, key := range []string{FileCert, FileChain, FileFullChain, FileKey} {
		perm := os.FileMode(0o644)
		if key == FileKey {
			perm = 0o600
		}
		if key == FileKey && len(contents[key]) == 0 {
			delete(files, key)
			continue
		}
		if err := fsutil.WriteFileAtomic(files[key], contents[key], perm); err != nil {
			return plugin.StoreResult{}, err
		}
	}
	p.log.Infof("[Store] Saved PEM files for %s to %s", c.FriendlyName, p.opts.Path)
	return plugin.StoreResult{
		PluginID: PemFilesID,
		Type:     plugin.OutputPemFiles,
		Location: p.opts.Path,
		Files:    files,
	}, nil
}

// BaseName derives a file system safe name from a certificate's friendly name
func BaseName(c *plugin.Certificate) string {
	name := c.FriendlyName
	if name == "" {
		name = c.Order.DisplayName()
	}
	if name == "" && c.Bundle != nil && c.Bundle.Leaf != nil {
		name = c.Bundle.Leaf.Subject.CommonName
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '*':
			b.WriteString("wildcard")
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "certificate"
	}
	return b.String()
}
