package orders

import (
	"context"
	"fmt"

	"go_certagent/internal/domainutil"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"
)

const (
	SingleID = "b705fa7c-1152-4436-8913-e433d7f84c82"
	HostID   = "874a86e4-29c7-4294-9ab6-6908866847a0"
	DomainID = "d3f2a5c1-7e4b-4c8a-9f1d-2b6e8a0c4d17"

	// MaxIdentifiers is the usual CA limit of names per certificate
	MaxIdentifiers = 100
)

type SingleOptions struct{}

func (*SingleOptions) PluginID() string { return SingleID }

type HostOptions struct{}

func (*HostOptions) PluginID() string { return HostID }

type DomainOptions struct{}

func (*DomainOptions) PluginID() string { return DomainID }

// Single requests one certificate for the whole target
var Single = &plugin.Descriptor{
	ID:          SingleID,
	Name:        "single",
	Description: "Single certificate",
	Stage:       plugin.StageOrder,
	Sort:        0,
	Capability: func(rc plugin.RunContext) (bool, string) {
		if rc.Target != nil && len(rc.Target.Identifiers()) > MaxIdentifiers {
			return false, fmt.Sprintf("a single certificate cannot hold more than %d identifiers", MaxIdentifiers)
		}
		return true, ""
	},
	NewOptions: func() plugin.Options { return &SingleOptions{} },
	Build: func(context.Context, plugin.Options, *plugin.Env) (any, error) {
		return splitter(splitSingle), nil
	},
}

// Host requests one certificate per identifier
var Host = &plugin.Descriptor{
	ID:          HostID,
	Name:        "host",
	Description: "Separate certificate for each host",
	Stage:       plugin.StageOrder,
	Sort:        10,
	NewOptions:  func() plugin.Options { return &HostOptions{} },
	Build: func(context.Context, plugin.Options, *plugin.Env) (any, error) {
		return splitter(splitHost), nil
	},
}

// Domain requests one certificate per registrable domain
var Domain = &plugin.Descriptor{
	ID:          DomainID,
	Name:        "domain",
	Description: "Separate certificate for each registrable domain",
	Stage:       plugin.StageOrder,
	Sort:        20,
	NewOptions:  func() plugin.Options { return &DomainOptions{} },
	Build: func(context.Context, plugin.Options, *plugin.Env) (any, error) {
		return splitter(splitDomain), nil
	},
}

type splitter func(t target.Target) ([]target.Order, error)

func (s splitter) Split(t target.Target) ([]target.Order, error) {
	orders, err := s(t)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if n := len(o.Identifiers()); n > MaxIdentifiers {
			return nil, fmt.Errorf("order %s has %d identifiers, the limit is %d", o.DisplayName(), n, MaxIdentifiers)
		}
	}
	return orders, nil
}

func splitSingle(t target.Target) ([]target.Order, error) {
	return []target.Order{{Target: t}}, nil
}

func splitHost(t target.Target) ([]target.Order, error) {
	var out []target.Order
	for _, id := range t.Identifiers() {
		id := id
		out = append(out, target.Order{
			Name: id.Value,
			Target: target.Target{
				FriendlyName: t.FriendlyName,
				CommonName:   &id,
				Parts:        []target.Part{{Name: id.Value, Identifiers: []target.Identifier{id}}},
			},
		})
	}
	return out, nil
}

func splitDomain(t target.Target) ([]target.Order, error) {
	var keys []string
	groups := map[string][]target.Identifier{}
	for _, id := range t.Identifiers() {
		key := id.Value
		if id.Type == target.TypeDNS {
			apex, err := domainutil.EffectiveApex(id.Value)
			if err != nil {
				return nil, err
			}
			key = apex
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], id)
	}

	out := make([]target.Order, 0, len(keys))
	for _, key := range keys {
		ids := groups[key]
		sub := target.Target{
			FriendlyName: t.FriendlyName,
			Parts:        []target.Part{{Name: key, Identifiers: ids}},
		}
		if t.CommonName != nil {
			for _, id := range ids {
				if id == *t.CommonName {
					cn := id
					sub.CommonName = &cn
				}
			}
		}
		out = append(out, target.Order{Name: key, Target: sub})
	}
	return out, nil
}
