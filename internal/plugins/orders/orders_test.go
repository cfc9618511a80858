package orders

import (
	"context"
	"fmt"
	"testing"

	"go_certagent/internal/plugin"
	"go_certagent/internal/target"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func split(t *testing.T, d *plugin.Descriptor, tg target.Target) []target.Order {
	exec, err := d.Build(context.Background(), d.NewOptions(), &plugin.Env{})
	require.NoError(t, err)
	orders, err := exec.(plugin.Order).Split(tg)
	require.NoError(t, err)
	return orders
}

func TestSplit(t *testing.T) {
	tg, err := target.New("site", []string{"www.example.com", "example.com", "*.example.co.uk", "10.0.0.1"}, "example.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		desc   *plugin.Descriptor
		names  []string
		counts []int
	}{
		{"single", Single, []string{""}, []int{4}},
		{"host", Host, []string{"example.com", "www.example.com", "*.example.co.uk", "10.0.0.1"}, []int{1, 1, 1, 1}},
		{"domain", Domain, []string{"example.com", "example.co.uk", "10.0.0.1"}, []int{2, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := split(t, tt.desc, tg)
			require.Len(t, orders, len(tt.names))
			for i, o := range orders {
				assert.Equal(t, tt.names[i], o.Name)
				assert.Len(t, o.Identifiers(), tt.counts[i])
				assert.NoError(t, o.Target.Validate())
			}
		})
	}
}

func TestDomainKeepsCommonName(t *testing.T) {
	tg, err := target.New("", []string{"a.example.com", "b.example.com", "a.example.net"}, "b.example.com")
	require.NoError(t, err)

	orders := split(t, Domain, tg)
	require.Len(t, orders, 2)
	require.NotNil(t, orders[0].Target.CommonName)
	assert.Equal(t, "b.example.com", orders[0].Target.CommonName.Value)
	assert.Nil(t, orders[1].Target.CommonName)
}

func TestSingleCapability(t *testing.T) {
	var hosts []string
	for i := 0; i <= MaxIdentifiers; i++ {
		hosts = append(hosts, fmt.Sprintf("h%d.example.com", i))
	}
	big, err := target.New("", hosts, "")
	require.NoError(t, err)

	ok, reason := plugin.Evaluate(Single, plugin.RunContext{Target: &big})
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	exec, err := Single.Build(context.Background(), &SingleOptions{}, &plugin.Env{})
	require.NoError(t, err)
	_, err = exec.(plugin.Order).Split(big)
	assert.Error(t, err)

	ok, _ = plugin.Evaluate(Single, plugin.RunContext{})
	assert.True(t, ok)

	assert.Len(t, split(t, Host, big), MaxIdentifiers+1)
}
