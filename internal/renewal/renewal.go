package renewal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go_certagent/internal/plugin"
	"go_certagent/internal/resolver"
	"go_certagent/internal/target"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound = errors.New("renewal not found")
	ErrLocked   = errors.New("renewal is already running")
)

// Renewal is a persisted certificate request that is repeated on a schedule
type Renewal struct {
	ID           string
	FriendlyName string
	NextDueDate  time.Time
	Options      resolver.Selection
	History      []RenewResult
}

// RenewResult is one attempt to obtain the certificate of a renewal
type RenewResult struct {
	Date        time.Time                 `json:"date"`
	Success     bool                      `json:"success"`
	Errors      []string                  `json:"errors,omitempty"`
	Identifiers []string                  `json:"identifiers,omitempty"`
	Thumbprint  string                    `json:"thumbprint,omitempty"`
	ExpiresAt   *time.Time                `json:"expiresAt,omitempty"`
	Plugins     map[plugin.Stage][]string `json:"plugins,omitempty"`
}

// Failed builds an unsuccessful result from errors
func Failed(date time.Time, errs ...error) RenewResult {
	r := RenewResult{Date: date}
	for _, err := range errs {
		if err != nil {
			r.Errors = append(r.Errors, err.Error())
		}
	}
	return r
}

// IsNew reports whether the renewal was never saved
func (r *Renewal) IsNew() bool {
	return r.ID == ""
}

// Last returns the most recent result
func (r *Renewal) Last() (RenewResult, bool) {
	if len(r.History) == 0 {
		return RenewResult{}, false
	}
	return r.History[len(r.History)-1], true
}

// LastSuccess returns the most recent successful result
func (r *Renewal) LastSuccess() (RenewResult, bool) {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Success {
			return r.History[i], true
		}
	}
	return RenewResult{}, false
}

// IsDue reports whether the renewal should run at now
func (r *Renewal) IsDue(now time.Time) bool {
	return !r.NextDueDate.After(now)
}

// identifierKey is the identifier set of the latest result that has one
func (r *Renewal) identifierKey() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if len(r.History[i].Identifiers) == 0 {
			continue
		}
		ids := make([]target.Identifier, 0, len(r.History[i].Identifiers))
		for _, v := range r.History[i].Identifiers {
			id, err := target.ParseIdentifier(v)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return target.SetKey(ids)
	}
	return ""
}

// Snapshot lists the plugin names of a selection per stage
func Snapshot(reg *plugin.Registry, sel resolver.Selection) map[plugin.Stage][]string {
	name := func(o plugin.Options) string {
		if o == nil {
			return ""
		}
		if d, ok := reg.FindByID(o.PluginID()); ok {
			return d.Name
		}
		return o.PluginID()
	}
	out := map[plugin.Stage][]string{}
	add := func(stage plugin.Stage, opts ...plugin.Options) {
		for _, o := range opts {
			if n := name(o); n != "" {
				out[stage] = append(out[stage], n)
			}
		}
	}
	add(plugin.StageTarget, sel.Target)
	add(plugin.StageOrder, sel.Order)
	add(plugin.StageCSR, sel.CSR)
	add(plugin.StageStore, sel.Stores...)
	add(plugin.StageValidation, sel.Validation)
	add(plugin.StageInstallation, sel.Installations...)
	return out
}

// document is the persisted shape of a renewal
type document struct {
	ID                        string            `json:"id"`
	FriendlyName              string            `json:"friendlyName,omitempty"`
	NextDueDate               time.Time         `json:"nextDueDate"`
	TargetPluginOptions       json.RawMessage   `json:"targetPluginOptions,omitempty"`
	OrderPluginOptions        json.RawMessage   `json:"orderPluginOptions,omitempty"`
	CSRPluginOptions          json.RawMessage   `json:"csrPluginOptions,omitempty"`
	StorePluginOptions        []json.RawMessage `json:"storePluginOptions"`
	ValidationPluginOptions   json.RawMessage   `json:"validationPluginOptions,omitempty"`
	InstallationPluginOptions []json.RawMessage `json:"installationPluginOptions"`
}

func marshalOne(o plugin.Options) (json.RawMessage, error) {
	if o == nil {
		return nil, nil
	}
	return plugin.MarshalOptions(o)
}

func marshalList(opts []plugin.Options) ([]json.RawMessage, error) {
	if opts == nil {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(opts))
	for _, o := range opts {
		raw, err := plugin.MarshalOptions(o)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Encode serializes a renewal and its history into two documents
func Encode(r *Renewal) (data, history []byte, err error) {
	doc := document{ID: r.ID, FriendlyName: r.FriendlyName, NextDueDate: r.NextDueDate.UTC()}
	sel := r.Options
	if doc.TargetPluginOptions, err = marshalOne(sel.Target); err != nil {
		return nil, nil, err
	}
	if doc.OrderPluginOptions, err = marshalOne(sel.Order); err != nil {
		return nil, nil, err
	}
	if doc.CSRPluginOptions, err = marshalOne(sel.CSR); err != nil {
		return nil, nil, err
	}
	if doc.ValidationPluginOptions, err = marshalOne(sel.Validation); err != nil {
		return nil, nil, err
	}
	if doc.StorePluginOptions, err = marshalList(sel.Stores); err != nil {
		return nil, nil, err
	}
	if doc.InstallationPluginOptions, err = marshalList(sel.Installations); err != nil {
		return nil, nil, err
	}

	if data, err = json.MarshalIndent(doc, "", "  "); err != nil {
		return nil, nil, fmt.Errorf("failed to encode renewal %s: %w", r.ID, err)
	}
	hist := r.History
	if hist == nil {
		hist = []RenewResult{}
	}
	if history, err = json.MarshalIndent(hist, "", "  "); err != nil {
		return nil, nil, fmt.Errorf("failed to encode history of renewal %s: %w", r.ID, err)
	}
	return data, history, nil
}

// Decode parses the documents written by Encode. Options of unknown plugins are
// kept as unresolved values and reported to log; only unreadable documents fail.
func Decode(reg *plugin.Registry, data, history []byte, log *logrus.Entry) (*Renewal, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed renewal: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("malformed renewal: missing id")
	}
	log = log.WithField("renewal", doc.ID)

	one := func(stage plugin.Stage, raw json.RawMessage) plugin.Options {
		opts, err := reg.UnmarshalOptions(stage, raw)
		if err != nil {
			log.WithField("stage", stage).WithError(err).Warn("[Store] Options cannot be resolved")
		}
		return opts
	}
	list := func(stage plugin.Stage, raws []json.RawMessage) []plugin.Options {
		if raws == nil {
			return nil
		}
		out := make([]plugin.Options, 0, len(raws))
		for _, raw := range raws {
			if o := one(stage, raw); o != nil {
				out = append(out, o)
			}
		}
		return out
	}

	r := &Renewal{
		ID:           doc.ID,
		FriendlyName: doc.FriendlyName,
		NextDueDate:  doc.NextDueDate,
		Options: resolver.Selection{
			Target:        one(plugin.StageTarget, doc.TargetPluginOptions),
			Order:         one(plugin.StageOrder, doc.OrderPluginOptions),
			CSR:           one(plugin.StageCSR, doc.CSRPluginOptions),
			Stores:        list(plugin.StageStore, doc.StorePluginOptions),
			Validation:    one(plugin.StageValidation, doc.ValidationPluginOptions),
			Installations: list(plugin.StageInstallation, doc.InstallationPluginOptions),
		},
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &r.History); err != nil {
			log.WithError(err).Warn("[Store] History is unreadable, starting a new one")
			r.History = nil
		}
	}
	return r, nil
}
