package cert

import "strings"

// CoverageStatus represents how well a certificate covers the requested identifiers
type CoverageStatus string

const (
	// CoverageStatusCovered means the certificate covers all identifiers
	CoverageStatusCovered CoverageStatus = "covered"

	// CoverageStatusPartial means the certificate covers some but not all identifiers
	CoverageStatusPartial CoverageStatus = "partial"

	// CoverageStatusNotCovered means the certificate covers none of the identifiers
	CoverageStatusNotCovered CoverageStatus = "not_covered"
)

// CoverageResult represents the result of coverage calculation
type CoverageResult struct {
	Status         CoverageStatus `json:"status"`
	MissingDomains []string       `json:"missingDomains,omitempty"`
	CoveredDomains []string       `json:"coveredDomains,omitempty"`
}

// Complete is true when nothing is missing
func (r CoverageResult) Complete() bool {
	return r.Status == CoverageStatusCovered
}

// CalculateCoverage compares certificate names against requested names
// Returns:
// - covered: certificate names completely cover the requested names
// - partial: at least one covered, but not all
// - not_covered: none covered
func CalculateCoverage(certDomains, requested []string) CoverageResult {
	covered := []string{}
	missing := []string{}

	for _, rd := range requested {
		if IsCoveredBy(rd, certDomains) {
			covered = append(covered, rd)
		} else {
			missing = append(missing, rd)
		}
	}

	switch {
	case len(missing) == 0:
		return CoverageResult{Status: CoverageStatusCovered, CoveredDomains: covered}
	case len(covered) > 0:
		return CoverageResult{Status: CoverageStatusPartial, CoveredDomains: covered, MissingDomains: missing}
	default:
		return CoverageResult{Status: CoverageStatusNotCovered, MissingDomains: missing}
	}
}

// IsCoveredBy checks if a requested name is covered by any of the certificate names
func IsCoveredBy(name string, certDomains []string) bool {
	for _, certDomain := range certDomains {
		if MatchDomain(certDomain, name) {
			return true
		}
	}
	return false
}

// MatchDomain checks if a certificate name matches a requested name.
// Comparison is case-insensitive. A requested wildcard is only covered by the
// identical wildcard.
func MatchDomain(certDomain, name string) bool {
	certDomain = strings.ToLower(strings.TrimSuffix(certDomain, "."))
	name = strings.ToLower(strings.TrimSuffix(name, "."))

	if certDomain == name {
		return true
	}

	if strings.HasPrefix(certDomain, "*.") && !strings.HasPrefix(name, "*.") {
		return MatchWildcard(certDomain, name)
	}

	return false
}

// MatchWildcard checks if a wildcard name matches a target name
// Rules:
// - *.example.com matches a.example.com, b.example.com
// - *.example.com does NOT match example.com (apex domain)
// - *.example.com does NOT match a.b.example.com (second-level subdomain)
func MatchWildcard(wildcardDomain, targetDomain string) bool {
	baseDomain := strings.TrimPrefix(wildcardDomain, "*.")

	if !strings.HasSuffix(targetDomain, "."+baseDomain) {
		return false
	}

	prefix := strings.TrimSuffix(targetDomain, "."+baseDomain)

	// empty prefix would match the apex
	if prefix == "" {
		return false
	}

	// a dot would match a deeper subdomain
	if strings.Contains(prefix, ".") {
		return false
	}

	return true
}
