// Package all registers every built-in plugin
package all

import (
	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/csrs"
	"go_certagent/internal/plugins/installations"
	"go_certagent/internal/plugins/orders"
	"go_certagent/internal/plugins/stores"
	"go_certagent/internal/plugins/targets"
	"go_certagent/internal/plugins/validations"
)

// Descriptors lists the built-in plugins of every stage
func Descriptors() []*plugin.Descriptor {
	return []*plugin.Descriptor{
		targets.Manual,
		targets.Nginx,

		orders.Single,
		orders.Host,
		orders.Domain,

		csrs.EC,
		csrs.RSA,

		stores.PemFiles,
		stores.S3,

		validations.SelfHosting,
		validations.Webroot,
		validations.Cloudflare,
		validations.Route53,
		validations.ManualDNS,

		installations.Nginx,
		installations.Script,
	}
}

// Registry builds the registry of built-in plugins
func Registry() (*plugin.Registry, error) {
	return plugin.NewRegistry(Descriptors()...)
}
