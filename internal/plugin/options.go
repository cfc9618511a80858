package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
)

// tagKey is the JSON key that names the owning plugin
const tagKey = "plugin"

// Options are the persisted settings of one plugin selection
type Options interface {
	PluginID() string
}

// Unresolved keeps options whose plugin is unknown, so they survive a load/save cycle
type Unresolved struct {
	ID  string
	Raw json.RawMessage
}

func (u *Unresolved) PluginID() string { return u.ID }

// MarshalOptions encodes options as a JSON object tagged with the plugin id
func MarshalOptions(o Options) (json.RawMessage, error) {
	if o == nil {
		return json.RawMessage("null"), nil
	}
	if u, ok := o.(*Unresolved); ok && len(u.Raw) > 0 {
		return u.Raw, nil
	}

	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s options: %w", o.PluginID(), err)
	}
	fields := map[string]json.RawMessage{}
	if string(body) != "null" && string(body) != "{}" {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("options of %s must encode as an object: %w", o.PluginID(), err)
		}
	}
	id, _ := json.Marshal(o.PluginID())
	fields[tagKey] = id
	return json.Marshal(fields)
}

// PeekID reads the plugin id of encoded options
func PeekID(raw json.RawMessage) (string, error) {
	var tag struct {
		Plugin string `json:"plugin"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", err
	}
	if tag.Plugin == "" {
		return "", errors.New("options have no plugin id")
	}
	return tag.Plugin, nil
}

// UnmarshalOptions decodes options of a stage. Unknown ids, ids of another
// stage and undecodable bodies yield *Unresolved together with a non-nil error
// describing why; callers may keep loading.
func (r *Registry) UnmarshalOptions(stage Stage, raw json.RawMessage) (Options, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	id, err := PeekID(raw)
	if err != nil {
		return &Unresolved{Raw: raw}, fmt.Errorf("invalid %s options: %w", stage, err)
	}

	d, ok := r.FindByID(id)
	if !ok {
		return &Unresolved{ID: id, Raw: raw}, fmt.Errorf("unknown %s plugin %s", stage, id)
	}
	if d.Stage != stage {
		return &Unresolved{ID: id, Raw: raw}, fmt.Errorf("plugin %s belongs to stage %s, not %s", d.Name, d.Stage, stage)
	}

	opts := d.NewOptions()
	if err := json.Unmarshal(raw, opts); err != nil {
		return &Unresolved{ID: id, Raw: raw}, fmt.Errorf("failed to decode %s options: %w", d.Name, err)
	}
	return opts, nil
}
