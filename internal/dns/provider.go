package dns

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by providers when a record to delete is already gone
var ErrRecordNotFound = errors.New("DNS record not found")

// Record is a resource record as handed to a provider
type Record struct {
	Type  string // TXT
	Name  string // FQDN without trailing dot
	Value string
	TTL   int
}

// RecordRef identifies a record created by a provider so it can be removed again
type RecordRef struct {
	ZoneID string
	ID     string
	Record Record
}

// Provider defines the interface for DNS hosting APIs used for DNS-01 records
type Provider interface {
	// Zones lists the zones the credentials can manage, keyed by zone name, valued by provider zone id
	Zones(ctx context.Context) (map[string]string, error)

	// CreateRecord creates a record in the given zone
	CreateRecord(ctx context.Context, zoneID string, record Record) (RecordRef, error)

	// DeleteRecord deletes a record created earlier
	// Returns ErrRecordNotFound if the record doesn't exist
	DeleteRecord(ctx context.Context, ref RecordRef) error
}

// Flusher is implemented by providers that queue changes and apply them in one batch
type Flusher interface {
	Flush(ctx context.Context) error
}
