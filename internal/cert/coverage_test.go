package cert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMatchDomain tests exact, wildcard and case-insensitive matching
func TestMatchDomain(t *testing.T) {
	tests := []struct {
		name      string
		certName  string
		requested string
		expected  bool
	}{
		{name: "exact", certName: "example.com", requested: "example.com", expected: true},
		{name: "case and trailing dot", certName: "WWW.Example.com.", requested: "www.example.com", expected: true},
		{name: "wildcard first level", certName: "*.example.com", requested: "api.example.com", expected: true},
		{name: "wildcard requested, same wildcard issued", certName: "*.example.com", requested: "*.example.com", expected: true},
		{name: "wildcard does not cover apex", certName: "*.example.com", requested: "example.com", expected: false},
		{name: "wildcard does not cover second level", certName: "*.example.com", requested: "a.b.example.com", expected: false},
		{name: "wildcard does not cover other base", certName: "*.example.com", requested: "a.example.org", expected: false},
		{name: "host does not cover wildcard", certName: "www.example.com", requested: "*.example.com", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MatchDomain(tt.certName, tt.requested)
			if result != tt.expected {
				t.Errorf("MatchDomain(%q, %q) = %v, want %v", tt.certName, tt.requested, result, tt.expected)
			}
		})
	}
}

// TestCalculateCoverage tests coverage calculation
func TestCalculateCoverage(t *testing.T) {
	tests := []struct {
		name            string
		certDomains     []string
		requested       []string
		expectedStatus  CoverageStatus
		expectedMissing []string
		expectedCovered []string
	}{
		{
			name:            "partial - apex missing",
			certDomains:     []string{"*.example.com"},
			requested:       []string{"example.com", "www.example.com"},
			expectedStatus:  CoverageStatusPartial,
			expectedMissing: []string{"example.com"},
			expectedCovered: []string{"www.example.com"},
		},
		{
			name:            "covered - wildcard plus apex",
			certDomains:     []string{"example.com", "*.example.com"},
			requested:       []string{"example.com", "www.example.com", "*.example.com"},
			expectedStatus:  CoverageStatusCovered,
			expectedCovered: []string{"example.com", "www.example.com", "*.example.com"},
		},
		{
			name:            "not covered - different domain",
			certDomains:     []string{"*.example.com"},
			requested:       []string{"example.org"},
			expectedStatus:  CoverageStatusNotCovered,
			expectedMissing: []string{"example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateCoverage(tt.certDomains, tt.requested)

			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.ElementsMatch(t, tt.expectedMissing, result.MissingDomains)
			assert.ElementsMatch(t, tt.expectedCovered, result.CoveredDomains)
			assert.Equal(t, tt.expectedStatus == CoverageStatusCovered, result.Complete())
		})
	}
}
