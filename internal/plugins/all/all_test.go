package all

import (
	"encoding/json"
	"testing"

	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/csrs"
	"go_certagent/internal/plugins/installations"
	"go_certagent/internal/plugins/stores"
	"go_certagent/internal/plugins/targets"
	"go_certagent/internal/plugins/validations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samples fills options with non-zero values so every field takes part in the round trip
var samples = map[string]plugin.Options{
	targets.ManualID:          &targets.ManualOptions{Hosts: []string{"example.com", "www.example.com"}, CommonName: "example.com"},
	targets.NginxID:           &targets.NginxOptions{ConfDir: "/etc/nginx", Hosts: []string{"example.com"}},
	csrs.ECID:                 &csrs.ECOptions{Curve: "P384", MustStaple: true},
	csrs.RSAID:                &csrs.RSAOptions{Bits: 4096},
	stores.PemFilesID:         &stores.PemFilesOptions{Path: "/certs", Name: "site"},
	stores.S3ID:               &stores.S3Options{Bucket: "b", Region: "r", Prefix: "p", AccessKeyID: "id", SecretAccessKey: "enc:v1:xyz"},
	validations.SelfHostingID: &validations.SelfHostingOptions{Addr: ":8080"},
	validations.WebrootID:     &validations.WebrootOptions{Path: "/var/www"},
	validations.CloudflareID:  &validations.CloudflareOptions{Email: "a@example.com", APIToken: "enc:v1:abc"},
	validations.Route53ID:     &validations.Route53Options{Region: "us-east-1", WaitForSync: true},
	installations.NginxID:     &installations.NginxOptions{SnippetDir: "/etc/nginx/snippets", Binary: "/usr/sbin/nginx"},
	installations.ScriptID:    &installations.ScriptOptions{Script: "/bin/deploy", Arguments: "{CertFile}"},
}

func TestRegistryBuilds(t *testing.T) {
	r, err := Registry()
	require.NoError(t, err)

	for _, stage := range plugin.Stages {
		assert.NotEmpty(t, r.List(stage), stage)
	}
	d, ok := r.FindByName(plugin.StageValidation, "DNS-01-Route53")
	require.True(t, ok)
	assert.Equal(t, validations.Route53ID, d.ID)
}

func TestOptionsRoundTripEveryPlugin(t *testing.T) {
	r, err := Registry()
	require.NoError(t, err)

	for _, d := range r.All() {
		d := d
		t.Run(string(d.Stage)+"/"+d.Name, func(t *testing.T) {
			opts, ok := samples[d.ID]
			if !ok {
				opts = d.NewOptions()
			}
			require.Equal(t, d.ID, opts.PluginID())

			raw, err := plugin.MarshalOptions(opts)
			require.NoError(t, err)
			id, err := plugin.PeekID(raw)
			require.NoError(t, err)
			assert.Equal(t, d.ID, id)

			back, err := r.UnmarshalOptions(d.Stage, raw)
			require.NoError(t, err)
			assert.Equal(t, opts, back)

			again, err := plugin.MarshalOptions(back)
			require.NoError(t, err)
			assert.JSONEq(t, string(raw), string(again))
		})
	}
}

func TestUnknownPluginSurvivesRoundTrip(t *testing.T) {
	r, err := Registry()
	require.NoError(t, err)

	raw := json.RawMessage(`{"plugin":"retired-plugin","setting":42}`)
	opts, err := r.UnmarshalOptions(plugin.StageStore, raw)
	assert.Error(t, err)
	again, err := plugin.MarshalOptions(opts)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}
