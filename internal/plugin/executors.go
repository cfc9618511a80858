package plugin

import (
	"context"

	"go_certagent/internal/cert"
	"go_certagent/internal/target"
	"go_certagent/internal/validation"
)

// Store output types
const (
	OutputPemFiles = "pem-files"
	OutputS3Object = "s3-object"
)

// Target builds the identifiers to request, fresh on every run
type Target interface {
	Generate(ctx context.Context) (target.Target, error)
}

// Order splits a target into one or more certificate orders
type Order interface {
	Split(t target.Target) ([]target.Order, error)
}

// CSR creates the private key and DER encoded signing request of an order
type CSR interface {
	Generate(ctx context.Context, order target.Order) (csrDER []byte, keyPEM []byte, err error)
}

// Certificate is an issued bundle with the names used to store it
type Certificate struct {
	Bundle       *cert.Bundle
	RenewalID    string
	FriendlyName string
	Order        target.Order
}

// StoreResult tells installers where a store put the certificate
type StoreResult struct {
	PluginID string
	Type     string
	// Location is plugin specific, e.g. a directory or an s3:// url
	Location string
	Files    map[string]string
}

// Store persists an issued certificate
type Store interface {
	Save(ctx context.Context, c *Certificate) (StoreResult, error)
}

// Installation activates a stored certificate
type Installation interface {
	Install(ctx context.Context, c *Certificate, stored []StoreResult) error
}

// Validation is the executor of a validation plugin
type Validation = validation.Validator
