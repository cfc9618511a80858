package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// Bundle is an issued certificate together with its chain and private key
type Bundle struct {
	CertPEM  []byte
	ChainPEM []byte
	KeyPEM   []byte

	Leaf *x509.Certificate
}

// ParseBundle parses a PEM leaf (optionally followed by the chain) and the private key PEM.
// A separate chain may be passed in chainPEM; it is appended after any chain found in certPEM.
func ParseBundle(certPEM, chainPEM, keyPEM []byte) (*Bundle, error) {
	certs, err := certcrypto.ParsePEMBundle(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if len(certs) == 0 {
		return nil, errors.New("certificate PEM is empty")
	}

	leaf := certs[0]
	var chain []byte
	for _, c := range certs[1:] {
		chain = append(chain, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c.Raw))...)
	}
	chain = append(chain, chainPEM...)

	if len(keyPEM) > 0 {
		if _, err := certcrypto.ParsePEMPrivateKey(keyPEM); err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	return &Bundle{
		CertPEM:  certcrypto.PEMEncode(certcrypto.DERCertificateBytes(leaf.Raw)),
		ChainPEM: chain,
		KeyPEM:   keyPEM,
		Leaf:     leaf,
	}, nil
}

// FullChainPEM is the leaf followed by the chain
func (b *Bundle) FullChainPEM() []byte {
	out := make([]byte, 0, len(b.CertPEM)+len(b.ChainPEM))
	out = append(out, b.CertPEM...)
	return append(out, b.ChainPEM...)
}

// Thumbprint is the upper-case hex SHA-256 of the leaf DER
func (b *Bundle) Thumbprint() string {
	sum := sha256.Sum256(b.Leaf.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// NotAfter of the leaf
func (b *Bundle) NotAfter() time.Time {
	return b.Leaf.NotAfter
}

// Names lists the SAN entries of the leaf, DNS names first then IP addresses
func (b *Bundle) Names() []string {
	names := append([]string{}, b.Leaf.DNSNames...)
	for _, ip := range b.Leaf.IPAddresses {
		names = append(names, ip.String())
	}
	if len(names) == 0 && b.Leaf.Subject.CommonName != "" {
		names = append(names, b.Leaf.Subject.CommonName)
	}
	return names
}

// Covers checks the leaf against the requested names
func (b *Bundle) Covers(requested []string) CoverageResult {
	return CalculateCoverage(b.Names(), requested)
}
