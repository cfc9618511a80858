package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

const defaultTimeout = 10 * time.Second

// DefaultNameservers are used when no recursive resolvers are configured
var DefaultNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// Client performs the read-only lookups needed for DNS-01:
// CNAME following, authoritative nameserver discovery and direct TXT queries.
type Client struct {
	nameservers []string
	udp         *mdns.Client
	tcp         *mdns.Client
}

// NewClient creates a lookup client using the given recursive resolvers (host:port)
func NewClient(nameservers []string, timeout time.Duration) *Client {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ns := make([]string, 0, len(nameservers))
	for _, s := range nameservers {
		ns = append(ns, withPort(s))
	}
	return &Client{
		nameservers: ns,
		udp:         &mdns.Client{Net: "udp", Timeout: timeout},
		tcp:         &mdns.Client{Net: "tcp", Timeout: timeout},
	}
}

func withPort(server string) string {
	server = strings.TrimSpace(server)
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.TrimSuffix(server, "."), "53")
}

// exchange sends a query to one server, retrying over TCP when truncated
func (c *Client) exchange(ctx context.Context, server, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(Fqdn(name), qtype)
	m.SetEdns0(4096, false)
	m.RecursionDesired = true

	r, _, err := c.udp.ExchangeContext(ctx, m, server)
	if err == nil && r != nil && r.Truncated {
		r, _, err = c.tcp.ExchangeContext(ctx, m, server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s %s @%s: %w", mdns.TypeToString[qtype], name, server, err)
	}
	return r, nil
}

// recursive tries every configured resolver until one answers
func (c *Client) recursive(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	var errs []error
	for _, server := range c.nameservers {
		r, err := c.exchange(ctx, server, name, qtype)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Rcode != mdns.RcodeSuccess && r.Rcode != mdns.RcodeNameError {
			errs = append(errs, fmt.Errorf("query %s @%s: %s", name, server, mdns.RcodeToString[r.Rcode]))
			continue
		}
		return r, nil
	}
	return nil, errors.Join(errs...)
}

// CNAME returns the CNAME target of name, if name is an alias
func (c *Client) CNAME(ctx context.Context, name string) (string, bool, error) {
	r, err := c.recursive(ctx, name, mdns.TypeCNAME)
	if err != nil {
		return "", false, err
	}
	for _, rr := range r.Answer {
		if cn, ok := rr.(*mdns.CNAME); ok && strings.EqualFold(cn.Hdr.Name, Fqdn(name)) {
			return strings.TrimSuffix(cn.Target, "."), true, nil
		}
	}
	return "", false, nil
}

// Nameservers returns the authoritative servers (host:53) of the closest
// enclosing zone of name, found by walking up the labels.
func (c *Client) Nameservers(ctx context.Context, name string) ([]string, error) {
	labels := mdns.SplitDomainName(name)
	for i := range labels {
		domain := strings.Join(labels[i:], ".")
		r, err := c.recursive(ctx, domain, mdns.TypeNS)
		if err != nil {
			return nil, err
		}
		var servers []string
		for _, rr := range r.Answer {
			if ns, ok := rr.(*mdns.NS); ok && strings.EqualFold(ns.Hdr.Name, Fqdn(domain)) {
				servers = append(servers, withPort(ns.Ns))
			}
		}
		if len(servers) > 0 {
			return servers, nil
		}
	}
	return nil, fmt.Errorf("no authoritative nameservers found for %s", name)
}

// TXT queries server directly for the TXT values at name
func (c *Client) TXT(ctx context.Context, server, name string) ([]string, error) {
	r, err := c.exchange(ctx, withPort(server), name, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}
	if r.Rcode == mdns.RcodeNameError {
		return nil, nil
	}
	if r.Rcode != mdns.RcodeSuccess {
		return nil, fmt.Errorf("query TXT %s @%s: %s", name, server, mdns.RcodeToString[r.Rcode])
	}
	var values []string
	for _, rr := range r.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values, nil
}
