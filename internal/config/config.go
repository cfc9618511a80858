package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

const (
	StoreFile  = "file"
	StoreMySQL = "mysql"
)

// Config holds all configuration
type Config struct {
	App        AppConfig
	ACME       ACMEConfig
	Renewal    RenewalConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Validation ValidationConfig
	Scheduler  SchedulerConfig
	API        APIConfig
	JWT        JWTConfig
	Secret     SecretConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds general settings
type AppConfig struct {
	DataDir   string
	LogLevel  string
	LogFormat string
}

// ACMEConfig holds the certificate authority settings
type ACMEConfig struct {
	DirectoryURL string
	Email        string
	EabKid       string
	EabHmacKey   string
	KeyType      string
}

// AccountPath is where the ACME account is kept
func (c *Config) AccountPath() string {
	return filepath.Join(c.App.DataDir, "account.json")
}

// RenewalConfig holds renewal store configuration
type RenewalConfig struct {
	PeriodDays int
	Store      string
	Dir        string
}

// Period is the time between two successful renewals
func (r RenewalConfig) Period() time.Duration {
	return time.Duration(r.PeriodDays) * 24 * time.Hour
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled    bool
	Addr       string
	Password   string
	DB         int
	LockTTLSec int
}

// ValidationConfig holds dns-01 and http-01 settings
type ValidationConfig struct {
	FollowCNAME         bool
	PropagationRetries  int
	PropagationDelaySec int
	Nameservers         []string
	DNSTimeoutSec       int
	HTTP01Addr          string
}

// SchedulerConfig holds the renewal scheduler configuration
type SchedulerConfig struct {
	Enabled     bool
	IntervalSec int
}

// APIConfig holds the status API configuration
type APIConfig struct {
	Enabled bool
	Addr    string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// SecretConfig holds the key used to protect secrets in stored options
type SecretConfig struct {
	KeyFile string
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	OTLPEndpoint string
	Debug        bool
}

var keyTypes = map[string]bool{"P256": true, "P384": true, "2048": true, "3072": true, "4096": true, "8192": true}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
	return build(ini.Empty())
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	_ = godotenv.Load()

	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}
	return build(cfgFile)
}

// build reads every setting with priority ENV > INI > default
func build(cfgFile *ini.File) (*Config, error) {
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	dataDir := getValue("DATA_DIR", "app", "data_dir", "/var/lib/certagent")

	cfg := &Config{
		App: AppConfig{
			DataDir:   dataDir,
			LogLevel:  getValue("LOG_LEVEL", "app", "log_level", "info"),
			LogFormat: getValue("LOG_FORMAT", "app", "log_format", "text"),
		},
		ACME: ACMEConfig{
			DirectoryURL: getValue("ACME_DIRECTORY_URL", "acme", "directory_url", "https://acme-v02.api.letsencrypt.org/directory"),
			Email:        getValue("ACME_EMAIL", "acme", "email", ""),
			EabKid:       getValue("ACME_EAB_KID", "acme", "eab_kid", ""),
			EabHmacKey:   getValue("ACME_EAB_HMAC_KEY", "acme", "eab_hmac_key", ""),
			KeyType:      strings.ToUpper(getValue("ACME_KEY_TYPE", "acme", "key_type", "P256")),
		},
		Renewal: RenewalConfig{
			PeriodDays: getValueInt("RENEWAL_PERIOD_DAYS", "renewal", "period_days", 55),
			Store:      strings.ToLower(getValue("RENEWAL_STORE", "renewal", "store", StoreFile)),
			Dir:        getValue("RENEWAL_DIR", "renewal", "dir", filepath.Join(dataDir, "renewals")),
		},
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Enabled:    getValueBool("REDIS_ENABLED", "redis", "enabled", false),
			Addr:       getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password:   getValue("REDIS_PASS", "redis", "pass", ""),
			DB:         getValueInt("REDIS_DB", "redis", "db", 0),
			LockTTLSec: getValueInt("REDIS_LOCK_TTL_SEC", "redis", "lock_ttl_sec", 1800),
		},
		Validation: ValidationConfig{
			FollowCNAME:         getValueBool("DNS_FOLLOW_CNAME", "validation", "follow_cname", true),
			PropagationRetries:  getValueInt("DNS_PROPAGATION_RETRIES", "validation", "propagation_retries", 10),
			PropagationDelaySec: getValueInt("DNS_PROPAGATION_DELAY_SEC", "validation", "propagation_delay_sec", 15),
			Nameservers:         splitList(getValue("DNS_NAMESERVERS", "validation", "nameservers", "")),
			DNSTimeoutSec:       getValueInt("DNS_TIMEOUT_SEC", "validation", "dns_timeout_sec", 5),
			HTTP01Addr:          getValue("HTTP01_ADDR", "validation", "http01_addr", ":80"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getValueBool("SCHEDULER_ENABLED", "scheduler", "enabled", true),
			IntervalSec: getValueInt("SCHEDULER_INTERVAL_SEC", "scheduler", "interval_sec", 3600),
		},
		API: APIConfig{
			Enabled: getValueBool("API_ENABLED", "api", "enabled", false),
			Addr:    getValue("API_ADDR", "api", "addr", "127.0.0.1:8080"),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "api", "jwt_secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "api", "jwt_expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "api", "jwt_issuer", "certagent"),
		},
		Secret: SecretConfig{
			KeyFile: getValue("SECRET_KEY_FILE", "secret", "key_file", filepath.Join(dataDir, "secret.key")),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getValue("OTEL_EXPORTER_OTLP_ENDPOINT", "telemetry", "otlp_endpoint", ""),
			Debug:        getValueBool("TELEMETRY_DEBUG", "telemetry", "debug", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that depend on each other
func (c *Config) Validate() error {
	switch c.Renewal.Store {
	case StoreFile:
	case StoreMySQL:
		if c.MySQL.DSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when the renewal store is mysql")
		}
	default:
		return fmt.Errorf("unknown renewal store %q", c.Renewal.Store)
	}
	if c.Renewal.PeriodDays <= 0 {
		return fmt.Errorf("renewal period_days must be positive, got %d", c.Renewal.PeriodDays)
	}
	if c.API.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required when the API is enabled")
	}
	if !keyTypes[c.ACME.KeyType] {
		return fmt.Errorf("unsupported ACME account key type %q", c.ACME.KeyType)
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
