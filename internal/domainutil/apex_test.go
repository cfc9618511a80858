package domainutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "lower case and trailing dot", input: " WWW.Example.COM. ", want: "www.example.com"},
		{name: "port is stripped", input: "example.com:443", want: "example.com"},
		{name: "wildcard allowed", input: "*.example.com", want: "*.example.com"},
		{name: "empty rejected", input: "  ", wantErr: true},
		{name: "ip rejected", input: "10.0.0.1", wantErr: true},
		{name: "bracketed ipv6 rejected", input: "[::1]", wantErr: true},
		{name: "no dot rejected", input: "localhost", wantErr: true},
		{name: "inner wildcard rejected", input: "a.*.example.com", wantErr: true},
		{name: "invalid character rejected", input: "exa mple.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveApex(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "www.example.com", want: "example.com"},
		{input: "a.b.example.co.uk", want: "example.co.uk"},
		{input: "*.example.com", want: "example.com"},
		{input: "example.com", want: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := EffectiveApex(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsIP(t *testing.T) {
	assert.True(t, IsIP("192.0.2.1"))
	assert.True(t, IsIP("[2001:db8::1]"))
	assert.False(t, IsIP("example.com"))
}
