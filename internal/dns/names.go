package dns

import "strings"

// NormalizeRelativeName returns name relative to zone, "@" for the zone apex.
// Names outside the zone are returned without their trailing dot.
func NormalizeRelativeName(name, zone string) string {
	zone = strings.TrimSuffix(strings.TrimSpace(zone), ".")
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")

	if name == "" || strings.EqualFold(name, zone) {
		return "@"
	}

	if InZone(name, zone) {
		return name[:len(name)-len(zone)-1]
	}

	return name
}

// Fqdn appends the root dot if missing, as the wire format expects
func Fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
