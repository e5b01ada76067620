// Package config loads service settings from a yaml file, ETLVERIFY_* env
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"etlverify/internal/credentials"
	"etlverify/internal/logging"
	"etlverify/internal/objectstore"
	"etlverify/internal/tracker"
)

const envPrefix = "ETLVERIFY"

type Config struct {
	Log         logging.Config     `mapstructure:"log"`
	Server      ServerConfig       `mapstructure:"server"`
	Ledger      LedgerConfig       `mapstructure:"ledger"`
	Remote      RemoteConfig       `mapstructure:"remote"`
	Source      SourceConfig       `mapstructure:"source"`
	Credentials CredentialsConfig  `mapstructure:"credentials"`
	ObjectStore objectstore.Config `mapstructure:"objectstore"`
	Snapshot    SnapshotConfig     `mapstructure:"snapshot"`
	Tracker     tracker.Config     `mapstructure:"tracker"`
}

// ServerConfig configures the HTTP API. AllowLocal lets submitted plans run
// their job on the server host and read files from its disk.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowLocal   bool          `mapstructure:"allow_local"`
	MaxRuns      int           `mapstructure:"max_runs"`
}

// LedgerConfig locates the evidence chain, its signing keys and the evidence
// files the blocks point at.
type LedgerConfig struct {
	Path        string `mapstructure:"path"`
	KeyDir      string `mapstructure:"key_dir"`
	EvidenceDir string `mapstructure:"evidence_dir"`
	AgentID     string `mapstructure:"agent_id"`
}

type RemoteConfig struct {
	Transport      string        `mapstructure:"transport"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHosts     string        `mapstructure:"known_hosts"`
}

type SourceConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// CredentialsConfig describes where database secrets come from. Env lookups
// are always consulted first; the properties file only when Environment is
// set.
type CredentialsConfig struct {
	EnvPrefix     string `mapstructure:"env_prefix"`
	PropertiesDir string `mapstructure:"properties_dir"`
	Environment   string `mapstructure:"environment"`
	Key           string `mapstructure:"key"`
}

type SnapshotConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Load reads path (or etlverify.yaml from the usual places when path is
// empty) over the defaults. Env variables win over both, e.g.
// ETLVERIFY_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("etlverify")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/etlverify")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatJSON)
	v.SetDefault("log.environment", "production")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.allow_local", false)
	v.SetDefault("server.max_runs", 1000)

	v.SetDefault("ledger.path", "data/ledger.jsonl")
	v.SetDefault("ledger.key_dir", "data/keys")
	v.SetDefault("ledger.evidence_dir", "data/evidence")
	v.SetDefault("ledger.agent_id", "etlverify")

	v.SetDefault("remote.transport", "ssh")
	v.SetDefault("remote.read_timeout", "1h")
	v.SetDefault("remote.connect_timeout", "30s")
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.known_hosts", "")

	v.SetDefault("source.connect_timeout", "30s")

	v.SetDefault("credentials.env_prefix", envPrefix)
	v.SetDefault("credentials.properties_dir", "config")
	v.SetDefault("credentials.environment", "")
	v.SetDefault("credentials.key", "")

	v.SetDefault("objectstore.endpoint", "")
	v.SetDefault("objectstore.access_key_id", "")
	v.SetDefault("objectstore.secret_access_key", "")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.use_ssl", true)

	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.prefix", "snapshots")

	v.SetDefault("tracker.base_url", "")
	v.SetDefault("tracker.user", "")
	v.SetDefault("tracker.token", "")
	v.SetDefault("tracker.requests_per_second", 5)
	v.SetDefault("tracker.timeout", "30s")
}

// Validate rejects settings that would only fail later, mid-run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Remote.Transport {
	case "ssh", "local":
	default:
		return fmt.Errorf("remote.transport must be ssh or local, got %q", c.Remote.Transport)
	}
	if c.Remote.ReadTimeout <= 0 {
		return errors.New("remote.read_timeout must be positive")
	}
	if k := len(c.Credentials.Key); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("credentials.key must be 16, 24 or 32 bytes, got %d", k)
	}
	if c.Ledger.Path == "" || c.Ledger.KeyDir == "" || c.Ledger.EvidenceDir == "" {
		return errors.New("ledger.path, ledger.key_dir and ledger.evidence_dir are required")
	}
	return nil
}

// Provider assembles the credential chain: env first, then the properties
// file.
func (c CredentialsConfig) Provider() (credentials.Provider, error) {
	chain := credentials.Chain{credentials.Env{Prefix: c.EnvPrefix}}
	if c.Environment != "" {
		props, err := credentials.LoadProperties(c.PropertiesDir, c.Environment, []byte(c.Key))
		if err != nil {
			return nil, err
		}
		chain = append(chain, props)
	}
	return chain, nil
}
