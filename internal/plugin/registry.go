package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// Registry is the fixed set of plugins known to the process
type Registry struct {
	byID    map[string]*Descriptor
	byStage map[Stage][]*Descriptor
}

// NewRegistry indexes descs together with the Null plugins of every stage
func NewRegistry(descs ...*Descriptor) (*Registry, error) {
	r := &Registry{
		byID:    map[string]*Descriptor{},
		byStage: map[Stage][]*Descriptor{},
	}
	for _, d := range append(nullDescriptors(), descs...) {
		if err := r.add(d); err != nil {
			return nil, err
		}
	}
	for _, list := range r.byStage {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Sort != list[j].Sort {
				return list[i].Sort < list[j].Sort
			}
			return list[i].Name < list[j].Name
		})
	}
	return r, nil
}

// MustRegistry is NewRegistry for static plugin sets
func MustRegistry(descs ...*Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) add(d *Descriptor) error {
	switch {
	case d == nil:
		return fmt.Errorf("nil plugin descriptor")
	case d.ID == "" || d.Name == "":
		return fmt.Errorf("plugin descriptor needs an id and a name")
	case d.NewOptions == nil || d.Build == nil:
		return fmt.Errorf("plugin %s has no options or builder", d.Name)
	}
	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("duplicate plugin id %s", d.ID)
	}
	if id := d.NewOptions().PluginID(); id != d.ID {
		return fmt.Errorf("options of plugin %s report id %q", d.Name, id)
	}
	if !d.Hidden {
		for _, other := range r.byStage[d.Stage] {
			if !other.Hidden && strings.EqualFold(other.Name, d.Name) {
				return fmt.Errorf("duplicate %s plugin name %s", d.Stage, d.Name)
			}
		}
	}
	r.byID[d.ID] = d
	r.byStage[d.Stage] = append(r.byStage[d.Stage], d)
	return nil
}

// FindByID returns the plugin with the given id
func (r *Registry) FindByID(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// FindByName returns the visible plugin of stage whose name equals name, ignoring case
func (r *Registry) FindByName(stage Stage, name string) (*Descriptor, bool) {
	for _, d := range r.byStage[stage] {
		if !d.Hidden && strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return nil, false
}

// List returns the visible plugins of a stage in menu order
func (r *Registry) List(stage Stage) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.byStage[stage] {
		if !d.Hidden {
			out = append(out, d)
		}
	}
	return out
}

// NullOf returns the Null plugin of a stage
func (r *Registry) NullOf(stage Stage) *Descriptor {
	return r.byID[nullIDs[stage]]
}

// All returns every plugin, hidden ones included
func (r *Registry) All() []*Descriptor {
	var out []*Descriptor
	for _, stage := range Stages {
		out = append(out, r.byStage[stage]...)
	}
	return out
}
