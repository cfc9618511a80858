package stores

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go_certagent/internal/plugin"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const S3ID = "4f1d6a2b-93c7-4e58-b0a6-7d2c5e8f1a39"

// S3Options locate a bucket and prefix for certificate objects
type S3Options struct {
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint,omitempty"`
	// ForcePathStyle is needed by MinIO and most S3 compatible services
	ForcePathStyle  bool   `json:"forcePathStyle,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
}

func (*S3Options) PluginID() string { return S3ID }

// S3Client is the part of the S3 API the store uses
type S3Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
}

// NewS3Client builds the client for o; tests replace it
var NewS3Client = func(ctx context.Context, o S3Options, secretKey string) (S3Client, error) {
	awsOptions := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.AccessKeyID != "" && secretKey != "" {
		awsOptions = append(awsOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, secretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3aws.NewFromConfig(awsConfig, func(so *s3aws.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.ForcePathStyle
	}), nil
}

// S3 uploads PEM objects to a bucket
var S3 = &plugin.Descriptor{
	ID:          S3ID,
	Name:        "s3",
	Description: "Upload PEM objects to S3 compatible storage",
	Stage:       plugin.StageStore,
	Sort:        20,
	Produces:    []string{plugin.OutputS3Object},
	NewOptions:  func() plugin.Options { return &S3Options{} },
	FromArgs: func(env *plugin.Env, args plugin.Args) (plugin.Options, error) {
		o := &S3Options{
			Bucket:          args["s3bucket"],
			Prefix:          args["s3prefix"],
			Region:          args["s3region"],
			Endpoint:        args["s3endpoint"],
			ForcePathStyle:  args["s3pathstyle"] == "true",
			AccessKeyID:     args["s3accesskeyid"],
			SecretAccessKey: args["s3secretaccesskey"],
		}
		if o.Bucket == "" || o.Region == "" {
			return nil, fmt.Errorf("missing --s3bucket or --s3region")
		}
		secret, err := env.Protect(o.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		o.SecretAccessKey = secret
		return o, nil
	},
	Configure: s3Configure,
	Build: func(ctx context.Context, opts plugin.Options, env *plugin.Env) (any, error) {
		o, ok := opts.(*S3Options)
		if !ok {
			return nil, fmt.Errorf("unexpected options %T", opts)
		}
		secret, err := env.Reveal(o.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		client, err := NewS3Client(ctx, *o, secret)
		if err != nil {
			return nil, err
		}
		return &s3Store{opts: *o, client: client, log: env.Logger().WithField("plugin", "s3")}, nil
	},
}

func s3Configure(ctx context.Context, env *plugin.Env, _ plugin.RunContext) (plugin.Options, error) {
	o := &S3Options{}
	var err error
	for _, q := range []struct {
		prompt string
		dst    *string
	}{
		{"Bucket", &o.Bucket},
		{"Region", &o.Region},
		{"Key prefix (optional)", &o.Prefix},
		{"Endpoint for S3 compatible services (optional)", &o.Endpoint},
		{"Access key id (empty to use the default credential chain)", &o.AccessKeyID},
	} {
		if *q.dst, err = env.Input.RequestString(ctx, q.prompt); err != nil {
			return nil, err
		}
	}
	if o.AccessKeyID != "" {
		secret, err := env.Input.ReadPassword(ctx, "Secret access key")
		if err != nil {
			return nil, err
		}
		if o.SecretAccessKey, err = env.Protect(secret); err != nil {
			return nil, err
		}
	}
	if o.Bucket == "" || o.Region == "" {
		return nil, fmt.Errorf("bucket and region are required")
	}
	return o, nil
}

type s3Store struct {
	opts   S3Options
	client S3Client
	log    *logrus.Entry
}

func (s *s3Store) key(name, suffix string) string {
	return path.Join(strings.Trim(s.opts.Prefix, "/"), name+suffix)
}

func (s *s3Store) Save(ctx context.Context, c *plugin.Certificate) (plugin.StoreResult, error) {
	name := BaseName(c)
	objects := []struct {
		file string
		key  string
		body []byte
	}{
		{FileCert, s.key(name, "-crt.pem"), c.Bundle.CertPEM},
		{FileChain, s.key(name, "-chain-only.pem"), c.Bundle.ChainPEM},
		{FileFullChain, s.key(name, "-chain.pem"), c.Bundle.FullChainPEM()},
		{FileKey, s.key(name, "-key.pem"), c.Bundle.KeyPEM},
	}

	files := make(map[string]string, len(objects))
	for _, obj := range objects {
		if len(obj.body) == 0 {
			continue
		}
		_, err := s.client.PutObject(ctx, &s3aws.PutObjectInput{
			Bucket:               aws.String(s.opts.Bucket),
			Key:                  aws.String(obj.key),
			Body:                 bytes.NewReader(obj.body),
			ContentType:          aws.String("application/x-pem-file"),
			ServerSideEncryption: types.ServerSideEncryptionAes256,
		})
		if err != nil {
			return plugin.StoreResult{}, fmt.Errorf("failed to upload s3://%s/%s: %w", s.opts.Bucket, obj.key, err)
		}
		files[obj.file] = "s3://" + s.opts.Bucket + "/" + obj.key
	}

	location := "s3://" + path.Join(s.opts.Bucket, strings.Trim(s.opts.Prefix, "/"))
	s.log.Infof("[Store] Uploaded %d objects for %s to %s", len(files), c.FriendlyName, location)
	return plugin.StoreResult{
		PluginID: S3ID,
		Type:     plugin.OutputS3Object,
		Location: location,
		Files:    files,
	}, nil
}
