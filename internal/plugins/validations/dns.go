package validations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go_certagent/internal/acme"
	"go_certagent/internal/dns"
	"go_certagent/internal/dns/providers/cloudflare"
	"go_certagent/internal/dns/providers/route53"
	"go_certagent/internal/domainutil"
	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/validation"
)

const (
	CloudflareID = "9e3a7c52-0f1b-4f6e-8a4d-1c2b3d4e5f60"
	Route53ID    = "4e2d8c07-5b1a-4c39-9f7e-6a5b4c3d2e1f"
	ManualDNSID  = "e45d62b9-f826-4e02-9a6b-1d3bb7f62b17"

	challengeTTL = 120
)

// ProviderRecords creates challenge records through a DNS hosting API.
// The zone of each record is the most specific zone the credentials manage.
type ProviderRecords struct {
	provider dns.Provider

	mu    sync.Mutex
	zones map[string]string
	refs  map[string]dns.RecordRef
}

func NewProviderRecords(p dns.Provider) *ProviderRecords {
	return &ProviderRecords{provider: p, refs: map[string]dns.RecordRef{}}
}

func recordKey(name, value string) string { return name + " " + value }

func (r *ProviderRecords) zoneFor(ctx context.Context, name string) (string, string, error) {
	r.mu.Lock()
	zones := r.zones
	r.mu.Unlock()

	if zones == nil {
		var err error
		if zones, err = r.provider.Zones(ctx); err != nil {
			return "", "", fmt.Errorf("failed to list zones: %w", err)
		}
		r.mu.Lock()
		r.zones = zones
		r.mu.Unlock()
	}
	return dns.BestZone(name, zones)
}

func (r *ProviderRecords) CreateRecord(ctx context.Context, vc *validation.Context, name, value string) error {
	zone, zoneID, err := r.zoneFor(ctx, name)
	if err != nil {
		return err
	}
	ref, err := r.provider.CreateRecord(ctx, zoneID, dns.Record{Type: "TXT", Name: name, Value: value, TTL: challengeTTL})
	if err != nil {
		return err
	}
	vc.Log.WithField("zone", zone).Debug("[Validation] Challenge record submitted")

	r.mu.Lock()
	r.refs[recordKey(name, value)] = ref
	r.mu.Unlock()
	return nil
}

func (r *ProviderRecords) DeleteRecord(ctx context.Context, vc *validation.Context, name, value string) error {
	r.mu.Lock()
	ref, ok := r.refs[recordKey(name, value)]
	delete(r.refs, recordKey(name, value))
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := r.provider.DeleteRecord(ctx, ref)
	if errors.Is(err, dns.ErrRecordNotFound) {
		vc.Log.WithField("record", name).Debug("[Validation] Challenge record already gone")
		return nil
	}
	return err
}

// Commit applies queued changes of providers that batch them
func (r *ProviderRecords) Commit(ctx context.Context) error {
	if f, ok := r.provider.(dns.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func dnsValidator(records validation.RecordManager, env *plugin.Env, parallel validation.Parallelism) *validation.DNSValidator {
	return validation.NewDNSValidator(records, env.Lookup, env.DNS, parallel)
}

// CloudflareOptions are Cloudflare API credentials. APIToken is either a scoped
// token, or the global key when Email is set.
type CloudflareOptions struct {
	Email    string `json:"email,omitempty"`
	APIToken string `json:"apiToken"`
}

func (*CloudflareOptions) PluginID() string { return CloudflareID }

// CloudflareBaseURL overrides the API endpoint, empty means production
var CloudflareBaseURL = ""

// Cloudflare creates dns-01 records through the Cloudflare API
var Cloudflare = &plugin.Descriptor{
	ID:            CloudflareID,
	Name:          "dns-01-cloudflare",
	Description:   "Create verification records in Cloudflare DNS",
	Stage:         plugin.StageValidation,
	Sort:          20,
	ChallengeType: acme.ChallengeDNS01,
	NewOptions:    func() plugin.Options { return &CloudflareOptions{} },
	FromArgs: func(env *plugin.Env, args plugin.Args) (plugin.Options, error) {
		if args["cloudflaretoken"] == "" {
			return nil, fmt.Errorf("missing --cloudflaretoken")
		}
		token, err := env.Protect(args["cloudflaretoken"])
		if err != nil {
			return nil, err
		}
		return &CloudflareOptions{Email: args["cloudflareemail"], APIToken: token}, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		token, err := env.Input.ReadPassword(ctx, "Cloudflare API token")
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, fmt.Errorf("an API token is required")
		}
		if token, err = env.Protect(token); err != nil {
			return nil, err
		}
		return &CloudflareOptions{APIToken: token}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*CloudflareOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		token, err := env.Reveal(o.APIToken)
		if err != nil {
			return nil, err
		}
		p := cloudflare.NewCloudflareProvider(o.Email, token)
		if CloudflareBaseURL != "" {
			p = p.WithBaseURL(CloudflareBaseURL)
		}
		// records are created one at a time
		return dnsValidator(NewProviderRecords(p), env, validation.ParallelAnswer), nil
	},
}

// Route53Options are AWS settings; empty keys use the default credential chain
type Route53Options struct {
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	WaitForSync     bool   `json:"waitForSync,omitempty"`
}

func (*Route53Options) PluginID() string { return Route53ID }

// NewRoute53 builds the provider; tests replace it
var NewRoute53 = func(ctx context.Context, cfg route53.Config) (dns.Provider, error) {
	return route53.New(ctx, cfg)
}

// Route53 creates dns-01 records in Amazon Route 53, one change batch per zone
var Route53 = &plugin.Descriptor{
	ID:            Route53ID,
	Name:          "dns-01-route53",
	Description:   "Create verification records in AWS Route 53",
	Stage:         plugin.StageValidation,
	Sort:          30,
	ChallengeType: acme.ChallengeDNS01,
	NewOptions:    func() plugin.Options { return &Route53Options{} },
	FromArgs: func(env *plugin.Env, args plugin.Args) (plugin.Options, error) {
		secret, err := env.Protect(args["route53secretaccesskey"])
		if err != nil {
			return nil, err
		}
		return &Route53Options{
			Region:          args["route53region"],
			AccessKeyID:     args["route53accesskeyid"],
			SecretAccessKey: secret,
			WaitForSync:     args["route53wait"] == "true",
		}, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		o := &Route53Options{}
		var err error
		if o.AccessKeyID, err = env.Input.RequestString(ctx, "Access key id (empty to use the default credential chain)"); err != nil {
			return nil, err
		}
		if o.AccessKeyID != "" {
			secret, err := env.Input.ReadPassword(ctx, "Secret access key")
			if err != nil {
				return nil, err
			}
			if o.SecretAccessKey, err = env.Protect(secret); err != nil {
				return nil, err
			}
		}
		return o, nil
	},
	Build: func(ctx context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*Route53Options)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		secret, err := env.Reveal(o.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		p, err := NewRoute53(ctx, route53.Config{
			Region:          o.Region,
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: secret,
			WaitForSync:     o.WaitForSync,
		})
		if err != nil {
			return nil, err
		}
		return dnsValidator(NewProviderRecords(p), env, validation.ParallelPrepare|validation.ParallelAnswer|validation.ParallelReuse), nil
	},
}

type ManualDNSOptions struct{}

func (*ManualDNSOptions) PluginID() string { return ManualDNSID }

// ManualDNS asks the operator to create the record
var ManualDNS = &plugin.Descriptor{
	ID:              ManualDNSID,
	Name:            "dns-01-manual",
	Description:     "Create verification records manually",
	Stage:           plugin.StageValidation,
	Sort:            40,
	InteractiveOnly: true,
	ChallengeType:   acme.ChallengeDNS01,
	NewOptions:      func() plugin.Options { return &ManualDNSOptions{} },
	Build: func(_ context.Context, _ plugin.Options, env *plugin.Env) (any, error) {
		if env.Input == nil {
			return nil, fmt.Errorf("manual DNS validation needs an operator")
		}
		return dnsValidator(&manualRecords{in: env.Input}, env, 0), nil
	},
}

type manualRecords struct {
	in input.Service
}

func (m *manualRecords) CreateRecord(ctx context.Context, vc *validation.Context, name, value string) error {
	m.in.Show("Domain", vc.Identifier.Value)
	m.in.Show("Record", name)
	if apex, err := domainutil.EffectiveApex(name); err == nil {
		m.in.Show("Host", dns.NormalizeRelativeName(name, apex)+" (in "+apex+")")
	}
	m.in.Show("Type", "TXT")
	m.in.Show("Content", value)
	ok, err := m.in.PromptYesNo(ctx, "Has the record been created?", true)
	if err != nil {
		return err
	}
	if !ok {
		return input.ErrCancelled
	}
	return nil
}

func (m *manualRecords) DeleteRecord(_ context.Context, _ *validation.Context, name, value string) error {
	m.in.Show("Cleanup", fmt.Sprintf("The TXT record %s with content %s can be removed now", name, value))
	return nil
}
