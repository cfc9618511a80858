package stores

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go_certagent/internal/cert"
	"go_certagent/internal/cert/certtest"
	"go_certagent/internal/plugin"
	"go_certagent/internal/secret"
	"go_certagent/internal/target"

	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCertificate(t *testing.T, friendly string) *plugin.Certificate {
	certPEM, keyPEM := certtest.SelfSigned(t, 90*24*time.Hour, "*.example.com", "example.com")
	b, err := cert.ParseBundle(certPEM, nil, keyPEM)
	require.NoError(t, err)
	tg, err := target.New("", []string{"*.example.com", "example.com"}, "*.example.com")
	require.NoError(t, err)
	return &plugin.Certificate{Bundle: b, FriendlyName: friendly, Order: target.Order{Target: tg}}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		friendly string
		want     string
	}{
		{"my site", "my_site"},
		{"", "wildcard.example.com"},
		{"*.example.com [a/b]", "wildcard.example.com__a_b_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseName(testCertificate(t, tt.friendly)))
	}
}

func TestPemFilesSave(t *testing.T) {
	dir := t.TempDir()
	exec, err := PemFiles.Build(context.Background(), &PemFilesOptions{Path: dir}, &plugin.Env{})
	require.NoError(t, err)

	c := testCertificate(t, "site")
	res, err := exec.(plugin.Store).Save(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, plugin.OutputPemFiles, res.Type)
	assert.Equal(t, dir, res.Location)
	assert.Equal(t, filepath.Join(dir, "site-crt.pem"), res.Files[FileCert])

	data, err := os.ReadFile(res.Files[FileFullChain])
	require.NoError(t, err)
	assert.Equal(t, c.Bundle.FullChainPEM(), data)

	st, err := os.Stat(res.Files[FileKey])
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestPemFilesDefaults(t *testing.T) {
	_, err := PemFiles.Defaults(&plugin.Env{}, plugin.Args{})
	assert.Error(t, err)

	opts, err := PemFiles.Defaults(&plugin.Env{DataDir: "/var/lib/certagent"}, plugin.Args{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/certagent", "certificates"), opts.(*PemFilesOptions).Path)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3aws.PutObjectOutput{}, nil
}

func TestS3Save(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	var gotSecret string
	prev := NewS3Client
	NewS3Client = func(_ context.Context, _ S3Options, secretKey string) (S3Client, error) {
		gotSecret = secretKey
		return fake, nil
	}
	defer func() { NewS3Client = prev }()

	p, err := secret.NewProtector(make([]byte, 32))
	require.NoError(t, err)
	env := &plugin.Env{Secrets: p}

	opts, err := S3.Defaults(env, plugin.Args{
		"s3bucket": "certs", "s3region": "eu-west-1", "s3prefix": "/prod/",
		"s3accesskeyid": "AKID", "s3secretaccesskey": "shh",
	})
	require.NoError(t, err)
	assert.True(t, secret.IsProtected(opts.(*S3Options).SecretAccessKey))

	exec, err := S3.Build(context.Background(), opts, env)
	require.NoError(t, err)
	assert.Equal(t, "shh", gotSecret)

	res, err := exec.(plugin.Store).Save(context.Background(), testCertificate(t, "site"))
	require.NoError(t, err)
	assert.Equal(t, plugin.OutputS3Object, res.Type)
	assert.Equal(t, "s3://certs/prod", res.Location)
	assert.Equal(t, "s3://certs/prod/site-crt.pem", res.Files[FileCert])
	assert.Contains(t, fake.objects, "certs/prod/site-key.pem")
	assert.NotContains(t, fake.objects, "certs/prod/site-chain-only.pem")
}

func TestS3RequiresBucket(t *testing.T) {
	_, err := S3.Defaults(&plugin.Env{}, plugin.Args{"s3region": "eu-west-1"})
	assert.Error(t, err)
}
