package dns

import (
	"errors"
	"sort"
	"strings"
)

// ErrZoneNotFound is returned when no candidate zone contains a record name
var ErrZoneNotFound = errors.New("no matching zone")

func canonical(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

func labelCount(name string) int {
	if name == "" {
		return 0
	}
	return strings.Count(name, ".") + 1
}

// InZone reports whether record equals zone or is a name below it.
// Both sides are compared case-insensitively with trailing dots ignored.
func InZone(record, zone string) bool {
	record, zone = canonical(record), canonical(zone)
	if zone == "" {
		return false
	}
	return record == zone || strings.HasSuffix(record, "."+zone)
}

// MatchZone returns the most specific zone (most labels) containing record.
// Ties between zones with the same label count keep the first one in input order.
func MatchZone(record string, zones []string) (string, bool) {
	best := ""
	bestLabels := -1
	for _, z := range zones {
		if !InZone(record, z) {
			continue
		}
		if n := labelCount(canonical(z)); n > bestLabels {
			best, bestLabels = z, n
		}
	}
	return best, bestLabels >= 0
}

// BestZone picks the most specific zone out of a candidate set keyed by zone name.
// Keys are visited in sorted order so ties resolve the same way on every call.
// The candidate map is not modified.
func BestZone[T any](record string, candidates map[string]T) (string, T, error) {
	names := make([]string, 0, len(candidates))
	for name := range candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	var zero T
	name, ok := MatchZone(record, names)
	if !ok {
		return "", zero, ErrZoneNotFound
	}
	return name, candidates[name], nil
}
