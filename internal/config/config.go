// Package config loads the emailprobe command configuration from an optional
// config.yaml, EMAILPROBE_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all command configuration.
type Config struct {
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	DNS      DNSConfig      `mapstructure:"dns"`
	Domain   DomainConfig   `mapstructure:"domain"`
	Gravatar GravatarConfig `mapstructure:"gravatar"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
	Workers        int           `mapstructure:"workers"`
}

// SMTPConfig holds the SMTP probe settings.
type SMTPConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	HelloName            string        `mapstructure:"hello_name"`
	ProbeSenderDomain    string        `mapstructure:"probe_sender_domain"`
	MailFrom             string        `mapstructure:"mail_from"`
	Port                 int           `mapstructure:"port"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout       time.Duration `mapstructure:"command_timeout"`
	MaxMXHosts           int           `mapstructure:"max_mx_hosts"`
	MaxRetriesOnGreylist int           `mapstructure:"max_retries_on_greylist"`
	GreylistBackoff      time.Duration `mapstructure:"greylist_backoff"`
	SkipCatchAllProbe    bool          `mapstructure:"skip_catch_all_probe"`
	TLSMode              string        `mapstructure:"tls_mode"`
	TLSSkipVerify        bool          `mapstructure:"tls_skip_verify"`
}

// ProxyConfig holds the optional SOCKS5 proxy. An empty address disables it.
type ProxyConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DNSConfig holds resolver and cache settings.
type DNSConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	RedisURL string        `mapstructure:"redis_url"`
}

// DomainConfig holds domain classification settings.
type DomainConfig struct {
	CheckDisposable bool `mapstructure:"check_disposable"`
	CheckTypos      bool `mapstructure:"check_typos"`
	TypoThreshold   int  `mapstructure:"typo_threshold"`
}

// GravatarConfig holds the Gravatar lookup settings.
type GravatarConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	BaseURL string        `mapstructure:"base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"hello-name":      "smtp.hello_name",
	"mail-from":       "smtp.mail_from",
	"sender-domain":   "smtp.probe_sender_domain",
	"smtp":            "smtp.enabled",
	"port":            "smtp.port",
	"proxy":           "proxy.address",
	"proxy-user":      "proxy.username",
	"proxy-pass":      "proxy.password",
	"tls":             "smtp.tls_mode",
	"skip-catch-all":  "smtp.skip_catch_all_probe",
	"overall-timeout": "overall_timeout",
	"gravatar":        "gravatar.enabled",
	"redis-url":       "dns.redis_url",
	"log-level":       "logging.level",
	"metrics-addr":    "metrics.addr",
	"workers":         "workers",
}

// Flags returns the command-line flag set understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("emailprobe", pflag.ContinueOnError)
	fs.String("config-dir", ".", "directory containing config.yaml")
	fs.String("hello-name", "", "host name sent in EHLO/HELO")
	fs.String("mail-from", "", "fixed MAIL FROM address (default: random per attempt)")
	fs.String("sender-domain", "", "domain of the random probe sender")
	fs.Bool("smtp", true, "probe mail servers over SMTP")
	fs.Int("port", 25, "SMTP port")
	fs.String("proxy", "", "SOCKS5 proxy host:port")
	fs.String("proxy-user", "", "SOCKS5 username")
	fs.String("proxy-pass", "", "SOCKS5 password")
	fs.String("tls", "opportunistic", "STARTTLS mode: none, opportunistic or required")
	fs.Bool("skip-catch-all", false, "skip the catch-all probe")
	fs.Duration("overall-timeout", 60*time.Second, "deadline for one verification")
	fs.Bool("gravatar", false, "look up a Gravatar for the address")
	fs.String("redis-url", "", "redis URL of the shared DNS cache")
	fs.String("log-level", "info", "log level")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.Int("workers", 5, "concurrent verifications")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("overall_timeout", 60*time.Second)
	v.SetDefault("workers", 5)

	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.hello_name", "localhost")
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.connect_timeout", 10*time.Second)
	v.SetDefault("smtp.command_timeout", 10*time.Second)
	v.SetDefault("smtp.max_retries_on_greylist", 2)
	v.SetDefault("smtp.greylist_backoff", 2*time.Second)
	v.SetDefault("smtp.tls_mode", "opportunistic")
	v.SetDefault("smtp.tls_skip_verify", false)
	v.SetDefault("smtp.mail_from", "")
	v.SetDefault("smtp.probe_sender_domain", "")
	v.SetDefault("smtp.max_mx_hosts", 0)
	v.SetDefault("smtp.skip_catch_all_probe", false)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("proxy.address", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")

	v.SetDefault("dns.timeout", 5*time.Second)
	v.SetDefault("dns.cache_ttl", 5*time.Minute)
	v.SetDefault("dns.redis_url", "")

	v.SetDefault("domain.check_disposable", true)
	v.SetDefault("domain.check_typos", true)
	v.SetDefault("domain.typo_threshold", 2)

	v.SetDefault("gravatar.timeout", 5*time.Second)
	v.SetDefault("gravatar.base_url", "https://www.gravatar.com")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 3)
	v.SetDefault("logging.file_path", "emailprobe.log")

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from config.yaml in configPath, if present.
// Environment variables with prefix EMAILPROBE_ override file values, and
// flags that were set explicitly override both. For example,
// EMAILPROBE_SMTP_HELLO_NAME overrides smtp.hello_name. fs may be nil.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("EMAILPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.SMTP.TLSMode {
	case "none", "opportunistic", "required":
	default:
		return fmt.Errorf("config: unknown smtp.tls_mode %q", c.SMTP.TLSMode)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	return nil
}
