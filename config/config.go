package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sourabh10122002/talkie-server/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultListenAddr       = "localhost:5050"
	defaultLogLevel         = "INFO"
	defaultAuthType         = "jwt"
	defaultJWTIdClaim       = "id"
	defaultPersistenceType  = "buntdb"
	defaultPersistenceDSN   = ":memory:"
	defaultSendBuffer       = 256
	defaultMaxFrameSize     = 64 * 1024
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxContentLength = 4000
	defaultDedupCacheSize   = 4096
	defaultHistoryPageSize  = 50
	defaultHistoryMaxPage   = 100
	defaultSweepSpec        = "@every 1m"
)

// Config is the global configuration object which is filled via the configuration file, the environment (prefix
// TALKIE_) and command line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	ListenAddr        string            `mapstructure:"listen_addr"`
	TLSCert           string            `mapstructure:"tls_cert"`
	TLSKey            string            `mapstructure:"tls_key"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	GatewayConfig     GatewayConfig     `mapstructure:"gateway"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	MaintenanceConfig MaintenanceConfig `mapstructure:"maintenance"`
}

// AuthConfig selects how bearer credentials are verified. Type "jwt" verifies HMAC signed tokens with JWTSecret,
// type "oidc" verifies ID tokens against one of the OIDCConfigs.
type AuthConfig struct {
	Type        string       `mapstructure:"type"`
	JWTSecret   string       `mapstructure:"jwt_secret"`
	JWTIdClaim  string       `mapstructure:"jwt_id_claim"`
	OIDCConfigs []OIDCConfig `mapstructure:"oidc"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

// PersistenceConfig configures the message/channel/group store. Type is one of buntdb, sqlite or postgres.
// FlockPath is only used by buntdb file databases, it defaults to the DSN with a .lock suffix.
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	FlockPath string `mapstructure:"flock_path"`
}

type GatewayConfig struct {
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxFrameSize     int64         `mapstructure:"max_frame_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	DedupCacheSize   int           `mapstructure:"dedup_cache_size"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

// HistoryConfig configures the paging of fetch_history requests.
type HistoryConfig struct {
	PageSize    int `mapstructure:"page_size"`
	MaxPageSize int `mapstructure:"max_page_size"`
}

// MaintenanceConfig holds the cron spec of the periodic maintenance job (presence resync, gauges).
type MaintenanceConfig struct {
	SweepSpec string `mapstructure:"sweep_spec"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("listen-addr", "", "gateway listen address (including port)")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("tls-cert", "", "TLS cert for the websocket listener (optional)")
	flagSet.String("tls-key", "", "TLS key for the websocket listener (optional)")
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("auth.type", defaultAuthType)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_id_claim", defaultJWTIdClaim)
	v.SetDefault("persistence.type", defaultPersistenceType)
	v.SetDefault("persistence.dsn", defaultPersistenceDSN)
	v.SetDefault("persistence.flock_path", "")
	v.SetDefault("gateway.send_buffer", defaultSendBuffer)
	v.SetDefault("gateway.max_frame_size", defaultMaxFrameSize)
	v.SetDefault("gateway.handshake_timeout", defaultHandshakeTimeout)
	v.SetDefault("gateway.max_content_length", defaultMaxContentLength)
	v.SetDefault("gateway.dedup_cache_size", defaultDedupCacheSize)
	v.SetDefault("gateway.allowed_origins", []string{})
	v.SetDefault("history.page_size", defaultHistoryPageSize)
	v.SetDefault("history.max_page_size", defaultHistoryMaxPage)
	v.SetDefault("maintenance.sweep_spec", defaultSweepSpec)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Flags in flagSet that
// were set explicitly take precedence. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
			}
		})
	}
	v.SetEnvPrefix("TALKIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		contents := make([]byte, 0)
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			return nil, err
		}
	}
	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("config", "all", v.AllSettings())
	return &cfg, nil
}
