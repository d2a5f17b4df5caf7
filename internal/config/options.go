package config

import (
	"github.com/optimode/emailprobe"
	"github.com/optimode/emailprobe/internal/logger"
)

// DNSOptions returns the library DNS options.
func (c *Config) DNSOptions() emailprobe.DNSOptions {
	return emailprobe.DNSOptions{
		Timeout:  c.DNS.Timeout,
		CacheTTL: c.DNS.CacheTTL,
		RedisURL: c.DNS.RedisURL,
	}
}

// DomainOptions returns the library domain options.
func (c *Config) DomainOptions() emailprobe.DomainOptions {
	return emailprobe.DomainOptions{
		CheckDisposable: c.Domain.CheckDisposable,
		CheckTypos:      c.Domain.CheckTypos,
		TypoThreshold:   c.Domain.TypoThreshold,
	}
}

// SMTPOptions returns the library SMTP options. A configured retry count of
// zero disables greylist retries.
func (c *Config) SMTPOptions() emailprobe.SMTPOptions {
	retries := c.SMTP.MaxRetriesOnGreylist
	if retries == 0 {
		retries = -1
	}
	opts := emailprobe.SMTPOptions{
		HeloDomain:           c.SMTP.HelloName,
		MailFrom:             c.SMTP.MailFrom,
		ProbeSenderDomain:    c.SMTP.ProbeSenderDomain,
		ConnectTimeout:       c.SMTP.ConnectTimeout,
		CommandTimeout:       c.SMTP.CommandTimeout,
		MaxMXHosts:           c.SMTP.MaxMXHosts,
		Port:                 c.SMTP.Port,
		MaxRetriesOnGreylist: retries,
		GreylistBackoff:      c.SMTP.GreylistBackoff,
		SkipCatchAllProbe:    c.SMTP.SkipCatchAllProbe,
		TLSMode:              emailprobe.TLSMode(c.SMTP.TLSMode),
		TLSSkipVerify:        c.SMTP.TLSSkipVerify,
	}
	if c.Proxy.Address != "" {
		opts.Proxy = &emailprobe.ProxyOptions{
			Address:  c.Proxy.Address,
			Username: c.Proxy.Username,
			Password: c.Proxy.Password,
		}
	}
	return opts
}

// GravatarOptions returns the library Gravatar options.
func (c *Config) GravatarOptions() emailprobe.GravatarOptions {
	return emailprobe.GravatarOptions{
		Timeout: c.Gravatar.Timeout,
		BaseURL: c.Gravatar.BaseURL,
	}
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		Output:    c.Logging.Output,
		FilePath:  c.Logging.FilePath,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
	}
}
