package main

import (
	"context"
	"fmt"
	"time"

	"go_certagent/internal/acme"
	"go_certagent/internal/cache"
	"go_certagent/internal/config"
	"go_certagent/internal/db"
	"go_certagent/internal/dns"
	"go_certagent/internal/plugin"
	"go_certagent/internal/plugins/all"
	"go_certagent/internal/renewal"
	"go_certagent/internal/runner"
	"go_certagent/internal/secret"
	"go_certagent/internal/telemetry"
	"go_certagent/internal/validation"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/sirupsen/logrus"
)

// app holds the services every command is built from
type app struct {
	cfg    *config.Config
	log    *logrus.Entry
	reg    *plugin.Registry
	env    *plugin.Env
	store  *renewal.Service
	locker renewal.Locker

	closers []func()
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromINI(cfgFile)
	}
	return config.Load()
}

// newApp loads the configuration and opens the renewal store
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a := &app{cfg: cfg, log: cfg.NewLogger()}

	if err := telemetry.Init(telemetry.Config{
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Debug:          cfg.Telemetry.Debug,
	}); err != nil {
		a.log.WithError(err).Warn("[Telemetry] Tracing disabled")
	} else {
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(ctx)
		})
	}

	protector, err := secret.NewProtectorFromKeyFile(cfg.Secret.KeyFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.reg, err = all.Registry(); err != nil {
		a.Close()
		return nil, err
	}

	v := cfg.Validation
	a.env = &plugin.Env{
		Log:     a.log,
		Secrets: protector,
		Lookup:  dns.NewClient(v.Nameservers, time.Duration(v.DNSTimeoutSec)*time.Second),
		DNS: validation.DNSOptions{
			FollowCNAME: v.FollowCNAME,
			Retries:     v.PropagationRetries,
			Delay:       time.Duration(v.PropagationDelaySec) * time.Second,
		},
		HTTP01Addr: v.HTTP01Addr,
		DataDir:    cfg.App.DataDir,
	}

	backend, err := a.backend()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = renewal.NewService(backend, a.reg, cfg.Renewal.Period(), a.log)

	if err := a.initLocker(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) backend() (renewal.Backend, error) {
	if a.cfg.Renewal.Store != config.StoreMySQL {
		return renewal.NewFileBackend(a.cfg.Renewal.Dir), nil
	}
	if err := db.InitMySQL(a.cfg.MySQL.DSN, a.log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := db.Migrate(db.DB, a.log); err != nil {
		return nil, err
	}
	return renewal.NewDBBackend(db.DB), nil
}

// initLocker shares run locks through Redis when enabled, so that several
// agents can work on one renewal store
func (a *app) initLocker() error {
	r := a.cfg.Redis
	if !r.Enabled {
		a.locker = renewal.NewLocalLocker()
		return nil
	}
	if err := cache.InitRedis(r.Addr, r.Password, r.DB, a.log); err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	locker := cache.NewLocker(cache.Client, "certagent:", time.Duration(r.LockTTLSec)*time.Second)
	a.locker = renewal.NewRedisLocker(locker, a.log)
	return nil
}

// runner connects to the certificate authority
func (a *app) runner() (*runner.Runner, error) {
	c := a.cfg.ACME
	client, err := acme.NewLegoClient(acme.Config{
		DirectoryURL: c.DirectoryURL,
		Email:        c.Email,
		EabKid:       c.EabKid,
		EabHmacKey:   c.EabHmacKey,
		AccountPath:  a.cfg.AccountPath(),
		KeyType:      certcrypto.KeyType(c.KeyType),
		UserAgent:    "certagent/" + Version,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the certificate authority: %w", err)
	}
	return runner.New(a.reg, a.store, client, a.locker, a.env), nil
}

// Close releases what newApp opened, in reverse order
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
