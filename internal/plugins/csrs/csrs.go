package csrs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"

	"go_certagent/internal/input"
	"go_certagent/internal/plugin"
	"go_certagent/internal/target"

	"github.com/go-acme/lego/v4/certcrypto"
)

const (
	ECID  = "9aadcf71-5241-4c4f-aee6-bfac3b84c0c5"
	RSAID = "e3f8c8a4-7c0b-4d4e-8a57-4f5cbbd0f2a1"
)

// tlsFeature extension carrying status_request, i.e. OCSP must-staple
var (
	oidTLSFeature    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 24}
	mustStapleValue  = []byte{0x30, 0x03, 0x02, 0x01, 0x05}
	supportedCurves  = map[string]certcrypto.KeyType{"P256": certcrypto.EC256, "P384": certcrypto.EC384}
	supportedRSABits = map[int]certcrypto.KeyType{2048: certcrypto.RSA2048, 3072: certcrypto.RSA3072, 4096: certcrypto.RSA4096}
)

// ECOptions selects the curve of an EC key
type ECOptions struct {
	Curve      string `json:"curve,omitempty"`
	MustStaple bool   `json:"mustStaple,omitempty"`
}

func (*ECOptions) PluginID() string { return ECID }

// RSAOptions selects the size of an RSA key
type RSAOptions struct {
	Bits       int  `json:"bits,omitempty"`
	MustStaple bool `json:"mustStaple,omitempty"`
}

func (*RSAOptions) PluginID() string { return RSAID }

// EC generates elliptic curve keys
var EC = &plugin.Descriptor{
	ID:          ECID,
	Name:        "ec",
	Description: "Elliptic Curve key",
	Stage:       plugin.StageCSR,
	Sort:        0,
	NewOptions:  func() plugin.Options { return &ECOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		o := &ECOptions{Curve: args["curve"], MustStaple: args["muststaple"] == "true"}
		if _, err := o.keyType(); err != nil {
			return nil, err
		}
		return o, nil
	},
	Configure: func(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
		curve, err := input.Choose(ctx, env.Input, "Select curve", []input.Choice[string]{
			{Option: input.Option{Label: "P-256", Default: true}, Value: "P256"},
			{Option: input.Option{Label: "P-384"}, Value: "P384"},
		})
		if err != nil {
			return nil, err
		}
		return &ECOptions{Curve: curve}, nil
	},
	Build: func(_ context.Context, opts plugin.Options, _ *plugin.Env) (any, error) {
		o, ok := opts.(*ECOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		kt, err := o.keyType()
		if err != nil {
			return nil, err
		}
		return &generator{keyType: kt, mustStaple: o.MustStaple}, nil
	},
}

// RSA generates RSA keys
var RSA = &plugin.Descriptor{
	ID:          RSAID,
	Name:        "rsa",
	Description: "RSA key",
	Stage:       plugin.StageCSR,
	Sort:        10,
	NewOptions:  func() plugin.Options { return &RSAOptions{} },
	FromArgs: func(_ *plugin.Env, args plugin.Args) (plugin.Options, error) {
		o := &RSAOptions{MustStaple: args["muststaple"] == "true"}
		if v := args["bits"]; v != "" {
			if _, err := fmt.Sscanf(v, "%d", &o.Bits); err != nil {
				return nil, fmt.Errorf("invalid key size %q", v)
			}
		}
		if _, err := o.keyType(); err != nil {
			return nil, err
		}
		return o, nil
	},
	Build: func(_ context.Context, opts plugin.Options, _ *plugin.Env) (any, error) {
		o, ok := opts.(*RSAOptions)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		kt, err := o.keyType()
		if err != nil {
			return nil, err
		}
		return &generator{keyType: kt, mustStaple: o.MustStaple}, nil
	},
}

func (o *ECOptions) keyType() (certcrypto.KeyType, error) {
	if o.Curve == "" {
		return certcrypto.EC256, nil
	}
	kt, ok := supportedCurves[o.Curve]
	if !ok {
		return "", fmt.Errorf("unsupported curve %q", o.Curve)
	}
	return kt, nil
}

func (o *RSAOptions) keyType() (certcrypto.KeyType, error) {
	if o.Bits == 0 {
		return certcrypto.RSA3072, nil
	}
	kt, ok := supportedRSABits[o.Bits]
	if !ok {
		return "", fmt.Errorf("unsupported RSA key size %d", o.Bits)
	}
	return kt, nil
}

type generator struct {
	keyType    certcrypto.KeyType
	mustStaple bool
}

func (g *generator) Generate(_ context.Context, order target.Order) ([]byte, []byte, error) {
	key, err := certcrypto.GeneratePrivateKey(g.keyType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate %s key: %w", g.keyType, err)
	}
	der, err := CreateCSR(key, order.Target, g.mustStaple)
	if err != nil {
		return nil, nil, err
	}
	return der, certcrypto.PEMEncode(key), nil
}

// CreateCSR builds a DER signing request for every identifier of t
func CreateCSR(key crypto.PrivateKey, t target.Target, mustStaple bool) ([]byte, error) {
	tmpl := &x509.CertificateRequest{}
	if t.CommonName != nil {
		tmpl.Subject = pkix.Name{CommonName: t.CommonName.Value}
	}
	for _, id := range t.Identifiers() {
		switch id.Type {
		case target.TypeIP:
			tmpl.IPAddresses = append(tmpl.IPAddresses, net.ParseIP(id.Value))
		default:
			tmpl.DNSNames = append(tmpl.DNSNames, id.Value)
		}
	}
	if mustStaple {
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, pkix.Extension{Id: oidTLSFeature, Value: mustStapleValue})
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key of type %T cannot sign", key)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSR: %w", err)
	}
	return der, nil
}
