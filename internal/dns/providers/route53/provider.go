package route53

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go_certagent/internal/dns"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
)

const (
	defaultTTL     = 60
	maxSyncWait    = 5 * time.Minute
	hostedZonePath = "/hostedzone/"
)

// API is the subset of the Route53 client used by the provider
type API interface {
	route53.ListHostedZonesAPIClient
	route53.GetChangeAPIClient
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Config holds the AWS credentials; empty keys fall back to the default credential chain
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	WaitForSync     bool
}

// Provider implements dns.Provider and dns.Flusher for Route53.
// CreateRecord only queues; Flush sends one change batch per hosted zone.
// Values sharing a name are merged into one TXT record set.
type Provider struct {
	api         API
	waitForSync bool

	mu      sync.Mutex
	pending map[string]map[string][]string // zone id -> name -> values not yet applied
	applied map[string]map[string][]string // zone id -> name -> values live in the zone
}

// New builds a provider from static or default AWS credentials
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithAPI(route53.NewFromConfig(awsCfg), cfg.WaitForSync), nil
}

// NewWithAPI wraps an existing client
func NewWithAPI(api API, waitForSync bool) *Provider {
	return &Provider{
		api:         api,
		waitForSync: waitForSync,
		pending:     make(map[string]map[string][]string),
		applied:     make(map[string]map[string][]string),
	}
}

// Zones lists public hosted zones
func (p *Provider) Zones(ctx context.Context) (map[string]string, error) {
	zones := make(map[string]string)
	pager := route53.NewListHostedZonesPaginator(p.api, &route53.ListHostedZonesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosted zones: %w", err)
		}
		for _, z := range page.HostedZones {
			if z.Config != nil && z.Config.PrivateZone {
				continue
			}
			name := strings.TrimSuffix(aws.ToString(z.Name), ".")
			zones[name] = strings.TrimPrefix(aws.ToString(z.Id), hostedZonePath)
		}
	}
	return zones, nil
}

// CreateRecord queues a TXT value; it becomes visible after Flush
func (p *Provider) CreateRecord(_ context.Context, zoneID string, record dns.Record) (dns.RecordRef, error) {
	if !strings.EqualFold(record.Type, "TXT") {
		return dns.RecordRef{}, fmt.Errorf("unsupported record type %s", record.Type)
	}
	name := strings.ToLower(strings.TrimSuffix(record.Name, "."))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[zoneID] == nil {
		p.pending[zoneID] = make(map[string][]string)
	}
	p.pending[zoneID][name] = appendUnique(p.pending[zoneID][name], record.Value)

	return dns.RecordRef{ZoneID: zoneID, ID: name, Record: record}, nil
}

// Flush applies every queued change, one change batch per zone
func (p *Provider) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]map[string][]string)
	p.mu.Unlock()

	var errs []error
	for zoneID, names := range pending {
		var changes []types.Change
		p.mu.Lock()
		for name, values := range names {
			if p.applied[zoneID] == nil {
				p.applied[zoneID] = make(map[string][]string)
			}
			merged := p.applied[zoneID][name]
			for _, v := range values {
				merged = appendUnique(merged, v)
			}
			p.applied[zoneID][name] = merged
			changes = append(changes, change(types.ChangeActionUpsert, name, merged))
		}
		p.mu.Unlock()

		if err := p.submit(ctx, zoneID, changes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteRecord removes one value; the record set is deleted when no value remains
func (p *Provider) DeleteRecord(ctx context.Context, ref dns.RecordRef) error {
	name := ref.ID
	if name == "" {
		name = strings.ToLower(strings.TrimSuffix(ref.Record.Name, "."))
	}

	p.mu.Lock()
	if pend := p.pending[ref.ZoneID]; pend != nil {
		pend[name] = remove(pend[name], ref.Record.Value)
	}
	current := p.applied[ref.ZoneID][name]
	if len(current) == 0 || !contains(current, ref.Record.Value) {
		p.mu.Unlock()
		return dns.ErrRecordNotFound
	}
	remaining := remove(current, ref.Record.Value)
	var c types.Change
	if len(remaining) == 0 {
		c = change(types.ChangeActionDelete, name, current)
		delete(p.applied[ref.ZoneID], name)
	} else {
		c = change(types.ChangeActionUpsert, name, remaining)
		p.applied[ref.ZoneID][name] = remaining
	}
	p.mu.Unlock()

	return p.submit(ctx, ref.ZoneID, []types.Change{c})
}

func (p *Provider) submit(ctx context.Context, zoneID string, changes []types.Change) error {
	if len(changes) == 0 {
		return nil
	}
	out, err := p.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("certagent dns-01"),
			Changes: changes,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to change record sets in zone %s: %w", zoneID, err)
	}

	if !p.waitForSync || out.ChangeInfo == nil {
		return nil
	}
	waiter := route53.NewResourceRecordSetsChangedWaiter(p.api)
	if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: out.ChangeInfo.Id}, maxSyncWait); err != nil {
		return fmt.Errorf("change %s did not sync: %w", aws.ToString(out.ChangeInfo.Id), err)
	}
	return nil
}

func change(action types.ChangeAction, name string, values []string) types.Change {
	records := make([]types.ResourceRecord, 0, len(values))
	for _, v := range values {
		records = append(records, types.ResourceRecord{Value: aws.String(`"` + v + `"`)})
	}
	return types.Change{
		Action: action,
		ResourceRecordSet: &types.ResourceRecordSet{
			Name:            aws.String(dns.Fqdn(name)),
			Type:            types.RRTypeTxt,
			TTL:             aws.Int64(defaultTTL),
			ResourceRecords: records,
		},
	}
}

func appendUnique(values []string, v string) []string {
	if contains(values, v) {
		return values
	}
	return append(values, v)
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func remove(values []string, v string) []string {
	out := make([]string, 0, len(values))
	for _, x := range values {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
