package validations

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go_certagent/internal/acme"
	"go_certagent/internal/fsutil"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"
	"go_certagent/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/sirupsen/logrus"
)

const (
	SelfHostingID = "1c77b3a4-5310-4c46-92c6-00d866e84d6b"
	WebrootID     = "4b82b2a8-1bb4-4a2b-8f8e-3e4b06a7e8c9"

	DefaultHTTP01Addr = ":80"
)

// tokens are base64url without padding
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func checkToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return fmt.Errorf("invalid http-01 token %q", token)
	}
	return nil
}

func noWildcards(t target.Target) (bool, string) {
	if t.HasWildcard() {
		return false, "http-01 cannot validate wildcard identifiers"
	}
	return true, ""
}

func httpCapability(rc plugin.RunContext) (bool, string) {
	if rc.Target == nil {
		return true, ""
	}
	return noWildcards(*rc.Target)
}

// SelfHostingOptions overrides the listen address of the built-in responder
type SelfHostingOptions struct {
	Addr string `json:"addr,omitempty"`
}

func (*SelfHostingOptions) PluginID() string { return SelfHostingID }

// SelfHosting answers http-01 from a temporary listener
var SelfHosting = &plugin.Descriptor{
	ID:            SelfHostingID,
	Name:          "http-01-self",
	Description:   "Serve verification files from a temporary built-in web server",
	Stage:         plugin.StageValidation,
	Sort:          0,
	ChallengeType: acme.ChallengeHTTP01,
	Capability:    httpCapability,
	CanValidate:   noWildcards,
	NewOptions:    func() plugin.Options { return &SelfHostingOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		return &SelfHostingOptions{Addr: args["http01addr"]}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*SelfHostingOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		addr := o.Addr
		if addr == "" {
			addr = env.HTTP01Addr
		}
		if addr == "" {
			addr = DefaultHTTP01Addr
		}
		return NewSelfHosted(addr, env.Logger().WithField("plugin", "http-01-self")), nil
	},
}

// SelfHosted serves key authorizations while at least one challenge is prepared
type SelfHosted struct {
	addr string
	log  *logrus.Entry

	mu     sync.Mutex
	tokens map[string]string
	srv    *http.Server
	bound  string
}

func NewSelfHosted(addr string, log *logrus.Entry) *SelfHosted {
	return &SelfHosted{addr: addr, log: log, tokens: map[string]string{}}
}

// Handler is the gin engine answering challenge requests
func (s *SelfHosted) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(http01.ChallengePath(":token"), func(c *gin.Context) {
		s.mu.Lock()
		keyAuth, ok := s.tokens[c.Param("token")]
		s.mu.Unlock()
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		s.log.WithField("remote", c.ClientIP()).Debug("[HTTP01] Served key authorization")
		c.Data(http.StatusOK, "text/plain", []byte(keyAuth))
	})
	return r
}

// Addr is the bound address once the listener runs
func (s *SelfHosted) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *SelfHosted) ChallengeType() string { return acme.ChallengeHTTP01 }

func (s *SelfHosted) Parallelism() validation.Parallelism {
	return validation.ParallelPrepare | validation.ParallelAnswer | validation.ParallelReuse
}

func (s *SelfHosted) Prepare(_ context.Context, vc *validation.Context) error {
	if err := checkToken(vc.Challenge.Token); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
		s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
		s.bound = ln.Addr().String()
		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("[HTTP01] Listener stopped")
			}
		}(s.srv)
		s.log.Infof("[HTTP01] Listening on %s", s.bound)
	}
	s.tokens[vc.Challenge.Token] = vc.KeyAuth
	vc.Data = vc.Challenge.Token
	return nil
}

func (s *SelfHosted) Commit(context.Context, []*validation.Context) error { return nil }

func (s *SelfHosted) CleanUp(ctx context.Context, vc *validation.Context) error {
	token, ok := vc.Data.(string)
	if !ok {
		return nil
	}

	s.mu.Lock()
	delete(s.tokens, token)
	var srv *http.Server
	if len(s.tokens) == 0 && s.srv != nil {
		srv, s.srv, s.bound = s.srv, nil, ""
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.log.Info("[HTTP01] Stopping listener")
	return srv.Shutdown(shutdownCtx)
}

// WebrootOptions is the document root challenge files are written to
type WebrootOptions struct {
	Path string `json:"path"`
}

func (*WebrootOptions) PluginID() string { return WebrootID }

// Webroot writes http-01 files into an existing web server's document root
var Webroot = &plugin.Descriptor{
	ID:            WebrootID,
	Name:          "http-01-webroot",
	Description:   "Save verification files on a local path served by a web server",
	Stage:         plugin.StageValidation,
	Sort:          10,
	ChallengeType: acme.ChallengeHTTP01,
	Capability:    httpCapability,
	CanValidate:   noWildcards,
	NewOptions:    func() plugin.Options { return &WebrootOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		if args["webroot"] == "" {
			return nil, fmt.Errorf("missing --webroot")
		}
		return &WebrootOptions{Path: args["webroot"]}, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		path, err := env.Input.RequestString(ctx, "Path to the document root")
		if err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("a path is required")
		}
		return &WebrootOptions{Path: path}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, _ *plugin.Env) (any, error) {
		o, ok := opts.(*WebrootOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		return &webroot{root: o.Path}, nil
	},
}

type webroot struct {
	root string
}

func (w *webroot) file(token string) (string, error) {
	if err := checkToken(token); err != nil {
		return "", err
	}
	return filepath.Join(w.root, filepath.FromSlash(http01.ChallengePath(token))), nil
}

func (w *webroot) ChallengeType() string { return acme.ChallengeHTTP01 }

func (w *webroot) Parallelism() validation.Parallelism {
	return validation.ParallelPrepare | validation.ParallelAnswer | validation.ParallelReuse
}

func (w *webroot) Prepare(_ context.Context, vc *validation.Context) error {
	path, err := w.file(vc.Challenge.Token)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, []byte(vc.KeyAuth), 0o644); err != nil {
		return err
	}
	vc.Data = path
	return nil
}

func (w *webroot) Commit(context.Context, []*validation.Context) error { return nil }

func (w *webroot) CleanUp(_ context.Context, vc *validation.Context) error {
	path, ok := vc.Data.(string)
	if !ok {
		return nil
	}
	return fsutil.RemoveIfExists(path)
}
