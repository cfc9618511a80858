package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelativeName(t *testing.T) {
	tests := []struct {
		name     string
		zone     string
		input    string
		expected string
	}{
		{name: "zone becomes @", zone: "example.com", input: "example.com.", expected: "@"},
		{name: "challenge name", zone: "example.com", input: "_acme-challenge.www.example.com", expected: "_acme-challenge.www"},
		{name: "mixed case", zone: "example.com", input: "_acme-challenge.Example.COM", expected: "_acme-challenge"},
		{name: "outside the zone", zone: "example.com", input: "_acme-challenge.example.org.", expected: "_acme-challenge.example.org"},
		{name: "empty is @", zone: "example.com", input: "", expected: "@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeRelativeName(tt.input, tt.zone))
		})
	}
}

func TestFqdn(t *testing.T) {
	assert.Equal(t, "example.com.", Fqdn("example.com"))
	assert.Equal(t, "example.com.", Fqdn("example.com."))
}
