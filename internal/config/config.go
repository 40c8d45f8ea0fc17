package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/provenance/provenance-gateway/internal/address"
)

// Config captures runtime settings for the provenance gateway.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
		MaxBodyBytes           int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresDSN string `yaml:"postgres_dsn"`
		SQLitePath  string `yaml:"sqlite_path"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	Ledger struct {
		RPCURL                string `yaml:"rpc_url"`
		Commitment            string `yaml:"commitment"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
		ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
		SignerKeyPath         string `yaml:"signer_key_path"`
		ComputeUnitLimit      uint32 `yaml:"compute_unit_limit"`
		MaxPriorityFee        uint64 `yaml:"max_priority_fee"`
		ExplorerURL           string `yaml:"explorer_url"`
		Cluster               string `yaml:"cluster"`
		Programs              struct {
			Registration string `yaml:"registration"`
			Identity     string `yaml:"identity"`
			Staking      string `yaml:"staking"`
		} `yaml:"programs"`
	} `yaml:"ledger"`

	Custody struct {
		Enabled        *bool  `yaml:"enabled"`
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"custody"`

	Metadata struct {
		Backend        string `yaml:"backend"`
		PinningURL     string `yaml:"pinning_url"`
		PinningToken   string `yaml:"pinning_token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"metadata"`

	ActionLinks struct {
		BaseURL              string `yaml:"base_url"`
		TTLSeconds           int    `yaml:"ttl_seconds"`
		SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	} `yaml:"action_links"`

	Cache struct {
		ExistenceEntries int `yaml:"existence_entries"`
	} `yaml:"cache"`

	Security struct {
		BearerToken      string   `yaml:"bearer_token"`
		TrustedCIDRs     []string `yaml:"trusted_cidrs"`
		EnableIPAllow    *bool    `yaml:"enable_ip_allow_list"`
		EnableBearerAuth *bool    `yaml:"enable_bearer_auth"`
		EnforceSecureTLS *bool    `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ActionTokenTTL() time.Duration {
	return time.Duration(c.ActionLinks.TTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.ActionLinks.SweepIntervalSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		// Custodial registrations wait for confirmation.
		c.Server.WriteTimeoutSeconds = 90
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 12
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = "confirmed"
	}
	if c.Ledger.RequestTimeoutSeconds <= 0 {
		c.Ledger.RequestTimeoutSeconds = 15
	}
	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		c.Ledger.ConfirmTimeoutSeconds = 60
	}
	if c.Ledger.ExplorerURL == "" {
		c.Ledger.ExplorerURL = "https://explorer.solana.com/tx/"
	}
	if c.Custody.Enabled == nil {
		c.Custody.Enabled = boolPtr(c.Custody.BaseURL != "")
	}
	if c.Custody.TimeoutSeconds <= 0 {
		c.Custody.TimeoutSeconds = 20
	}
	if c.Metadata.Backend == "" {
		c.Metadata.Backend = "pinning"
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		c.Metadata.TimeoutSeconds = 30
	}
	if c.ActionLinks.TTLSeconds <= 0 {
		c.ActionLinks.TTLSeconds = 24 * 60 * 60
	}
	if c.ActionLinks.SweepIntervalSeconds <= 0 {
		c.ActionLinks.SweepIntervalSeconds = 300
	}
	if c.Cache.ExistenceEntries < 0 {
		c.Cache.ExistenceEntries = 0
	} else if c.Cache.ExistenceEntries == 0 {
		c.Cache.ExistenceEntries = 4096
	}
	if c.Security.EnableBearerAuth == nil {
		c.Security.EnableBearerAuth = boolPtr(false)
	}
	if c.Security.EnableIPAllow == nil {
		c.Security.EnableIPAllow = boolPtr(false)
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "provenance-gateway"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
			if !isLocalHost(dsnHost(c.Storage.PostgresDSN)) {
				return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full for non-local hosts when enforce_secure_transport is enabled")
			}
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	default:
		return errors.New("storage.driver must be one of postgres|sqlite")
	}

	if c.Ledger.RPCURL == "" {
		return errors.New("ledger.rpc_url is required")
	}
	if err := checkEndpoint("ledger.rpc_url", c.Ledger.RPCURL, *c.Security.EnforceSecureTLS); err != nil {
		return err
	}
	switch c.Ledger.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return errors.New("ledger.commitment must be one of processed|confirmed|finalized")
	}
	if c.Ledger.SignerKeyPath == "" {
		return errors.New("ledger.signer_key_path is required")
	}
	programs := map[string]string{
		"ledger.programs.registration": c.Ledger.Programs.Registration,
		"ledger.programs.identity":     c.Ledger.Programs.Identity,
		"ledger.programs.staking":      c.Ledger.Programs.Staking,
	}
	for _, name := range []string{"ledger.programs.registration", "ledger.programs.identity", "ledger.programs.staking"} {
		if _, err := address.Parse(programs[name]); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}

	if *c.Custody.Enabled {
		if c.Custody.BaseURL == "" {
			return errors.New("custody.base_url is required when custody is enabled")
		}
		if err := checkEndpoint("custody.base_url", c.Custody.BaseURL, *c.Security.EnforceSecureTLS); err != nil {
			return err
		}
	}

	switch c.Metadata.Backend {
	case "pinning":
		if c.Metadata.PinningURL == "" {
			return errors.New("metadata.pinning_url is required for the pinning backend")
		}
		if err := checkEndpoint("metadata.pinning_url", c.Metadata.PinningURL, *c.Security.EnforceSecureTLS); err != nil {
			return err
		}
	case "local":
	default:
		return errors.New("metadata.backend must be one of pinning|local")
	}

	if c.ActionLinks.BaseURL == "" {
		return errors.New("action_links.base_url is required")
	}
	if u, err := url.Parse(c.ActionLinks.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("action_links.base_url must be an absolute url")
	}

	if *c.Security.EnableBearerAuth && strings.TrimSpace(c.Security.BearerToken) == "" {
		return errors.New("security.bearer_token is required when bearer auth is enabled")
	}
	if *c.Security.EnableIPAllow && len(c.Security.TrustedCIDRs) == 0 {
		return errors.New("security.trusted_cidrs is required when ip allow list is enabled")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Storage.SQLitePath = os.ExpandEnv(strings.TrimSpace(c.Storage.SQLitePath))
	c.Ledger.RPCURL = os.ExpandEnv(strings.TrimSpace(c.Ledger.RPCURL))
	c.Ledger.SignerKeyPath = os.ExpandEnv(strings.TrimSpace(c.Ledger.SignerKeyPath))
	c.Custody.BaseURL = os.ExpandEnv(strings.TrimSpace(c.Custody.BaseURL))
	c.Custody.APIKey = os.ExpandEnv(strings.TrimSpace(c.Custody.APIKey))
	c.Metadata.PinningURL = os.ExpandEnv(strings.TrimSpace(c.Metadata.PinningURL))
	c.Metadata.PinningToken = os.ExpandEnv(strings.TrimSpace(c.Metadata.PinningToken))
	c.ActionLinks.BaseURL = os.ExpandEnv(strings.TrimSpace(c.ActionLinks.BaseURL))
	c.Security.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Security.BearerToken))
}

func boolPtr(v bool) *bool {
	return &v
}
