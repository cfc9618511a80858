package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certagent.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/agent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreFile, cfg.Renewal.Store)
	assert.Equal(t, "/tmp/agent/renewals", cfg.Renewal.Dir)
	assert.Equal(t, 55*24*time.Hour, cfg.Renewal.Period())
	assert.Equal(t, "/tmp/agent/account.json", cfg.AccountPath())
	assert.Equal(t, "/tmp/agent/secret.key", cfg.Secret.KeyFile)
	assert.Equal(t, "P256", cfg.ACME.KeyType)
	assert.True(t, cfg.Validation.FollowCNAME)
	assert.Equal(t, 10, cfg.Validation.PropagationRetries)
	assert.Empty(t, cfg.Validation.Nameservers)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.False(t, cfg.API.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromINI(t *testing.T) {
	path := writeINI(t, `
[app]
data_dir = /srv/certagent
log_level = debug

[acme]
directory_url = https://acme-staging-v02.api.letsencrypt.org/directory
email = ops@example.com
key_type = 2048

[renewal]
period_days = 30
store = mysql

[mysql]
dsn = agent:pw@tcp(db:3306)/certagent

[redis]
enabled = true
addr = redis:6379
lock_ttl_sec = 600

[validation]
follow_cname = false
nameservers = 1.1.1.1, 8.8.8.8:53
http01_addr = :8081

[api]
enabled = true
jwt_secret = from-ini
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_DB", "3")

	cfg, err := LoadFromINI(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/certagent", cfg.App.DataDir)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "ops@example.com", cfg.ACME.Email)
	assert.Equal(t, "2048", cfg.ACME.KeyType)
	assert.Equal(t, 30*24*time.Hour, cfg.Renewal.Period())
	assert.Equal(t, StoreMySQL, cfg.Renewal.Store)
	assert.Equal(t, "/srv/certagent/renewals", cfg.Renewal.Dir)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 600, cfg.Redis.LockTTLSec)
	assert.False(t, cfg.Validation.FollowCNAME)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8:53"}, cfg.Validation.Nameservers)
	assert.Equal(t, ":8081", cfg.Validation.HTTP01Addr)
	assert.Equal(t, "from-env", cfg.JWT.Secret, "environment wins over the INI file")
}

func TestLoadFromINIMissingFile(t *testing.T) {
	_, err := LoadFromINI(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"mysql without dsn", map[string]string{"RENEWAL_STORE": "mysql"}, "MYSQL_DSN"},
		{"mysql with dsn", map[string]string{"RENEWAL_STORE": "mysql", "MYSQL_DSN": "u:p@tcp(h)/d"}, ""},
		{"unknown store", map[string]string{"RENEWAL_STORE": "etcd"}, "unknown renewal store"},
		{"api without secret", map[string]string{"API_ENABLED": "1"}, "JWT_SECRET"},
		{"api with secret", map[string]string{"API_ENABLED": "true", "JWT_SECRET": "s"}, ""},
		{"zero period", map[string]string{"RENEWAL_PERIOD_DAYS": "0"}, "period_days"},
		{"bad key type", map[string]string{"ACME_KEY_TYPE": "ed25519"}, "key type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{App: AppConfig{LogLevel: "debug", LogFormat: "json"}}
	log := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Logger.Formatter)

	cfg.App = AppConfig{LogLevel: "chatty"}
	log = cfg.NewLogger()
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Logger.Formatter)
}
