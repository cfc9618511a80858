package target

import (
	"fmt"
	"sort"
	"strings"

	"go_certagent/internal/domainutil"
)

// IdentifierType is the ACME identifier type
type IdentifierType string

const (
	TypeDNS IdentifierType = "dns"
	TypeIP  IdentifierType = "ip"
)

// Identifier is a single name (or address) the certificate must cover
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// ParseIdentifier normalizes raw input into an Identifier.
// IP literals become ip identifiers, everything else must be a valid host name.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if domainutil.IsIP(raw) {
		ip := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		return Identifier{Type: TypeIP, Value: strings.ToLower(ip)}, nil
	}
	host, err := domainutil.Normalize(raw)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Type: TypeDNS, Value: host}, nil
}

// MustParse is ParseIdentifier for literals known to be valid
func MustParse(raw string) Identifier {
	id, err := ParseIdentifier(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (i Identifier) String() string {
	return i.Value
}

// IsWildcard reports whether the identifier is a *.name DNS identifier
func (i Identifier) IsWildcard() bool {
	return i.Type == TypeDNS && strings.HasPrefix(i.Value, "*.")
}

// Base strips the wildcard label, if any
func (i Identifier) Base() string {
	return strings.TrimPrefix(i.Value, "*.")
}

// Part groups identifiers that came from one source (an nginx server block, a manual list)
type Part struct {
	Name        string       `json:"name,omitempty"`
	Identifiers []Identifier `json:"identifiers"`
}

// Target is the set of identifiers a renewal must cover.
// It is rebuilt on every run by the target plugin and never persisted as such.
type Target struct {
	FriendlyName string      `json:"friendlyName,omitempty"`
	CommonName   *Identifier `json:"commonName,omitempty"`
	Parts        []Part      `json:"parts"`
}

// New builds a single-part target from raw host names
func New(friendlyName string, hosts []string, commonName string) (Target, error) {
	part := Part{Name: friendlyName}
	for _, h := range hosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		id, err := ParseIdentifier(h)
		if err != nil {
			return Target{}, fmt.Errorf("invalid identifier %q: %w", h, err)
		}
		part.Identifiers = append(part.Identifiers, id)
	}

	t := Target{FriendlyName: friendlyName, Parts: []Part{part}}
	if commonName != "" {
		cn, err := ParseIdentifier(commonName)
		if err != nil {
			return Target{}, fmt.Errorf("invalid common name %q: %w", commonName, err)
		}
		t.CommonName = &cn
	}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Identifiers returns all identifiers of all parts, de-duplicated, in first-seen order
func (t Target) Identifiers() []Identifier {
	seen := make(map[Identifier]struct{})
	var out []Identifier
	add := func(id Identifier) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if t.CommonName != nil {
		add(*t.CommonName)
	}
	for _, p := range t.Parts {
		for _, id := range p.Identifiers {
			add(id)
		}
	}
	return out
}

// HasWildcard reports whether any identifier is a wildcard
func (t Target) HasWildcard() bool {
	for _, id := range t.Identifiers() {
		if id.IsWildcard() {
			return true
		}
	}
	return false
}

// HasIP reports whether any identifier is an IP address
func (t Target) HasIP() bool {
	for _, id := range t.Identifiers() {
		if id.Type == TypeIP {
			return true
		}
	}
	return false
}

// Validate checks that the target has at least one identifier and that the
// common name, if set, is one of them.
func (t Target) Validate() error {
	ids := t.Identifiers()
	if len(ids) == 0 {
		return fmt.Errorf("target has no identifiers")
	}
	if t.CommonName != nil {
		if len(t.CommonName.Value) > 64 {
			return fmt.Errorf("common name %s exceeds 64 characters", t.CommonName.Value)
		}
		found := false
		for _, p := range t.Parts {
			for _, id := range p.Identifiers {
				if id == *t.CommonName {
					found = true
				}
			}
		}
		if !found {
			return fmt.Errorf("common name %s is not part of the target", t.CommonName.Value)
		}
	}
	return nil
}

// DisplayName is the friendly name, or the common name, or the first identifier
func (t Target) DisplayName() string {
	if t.FriendlyName != "" {
		return t.FriendlyName
	}
	if t.CommonName != nil {
		return t.CommonName.Value
	}
	if ids := t.Identifiers(); len(ids) > 0 {
		return ids[0].Value
	}
	return ""
}

// SetKey builds an order-independent, case-insensitive key for an identifier set
func SetKey(ids []Identifier) string {
	vals := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		v := string(id.Type) + ":" + strings.ToLower(strings.TrimSuffix(id.Value, "."))
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, ",")
}

// Values returns the identifier values as plain strings
func Values(ids []Identifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Value
	}
	return out
}
