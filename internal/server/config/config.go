// Package config handles configuration for the gatekeeper server: defaults,
// a .env file, environment variables, an optional JSON file and
// command-line flags, applied in that order.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
)

const developmentSecret = "development-secret-change-me"

// Config holds runtime settings for the gatekeeper server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP API.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects the in-memory store.
//   - SecretKey: HMAC secret for signing tokens (HS256). Never logged.
//   - TokenValidityDuration: lifetime of issued tokens.
//   - CookieExpiresInDays: lifetime of the token cookie.
//   - PasswordHasher / PasswordHashCost: slow hash algorithm and its work factor.
//   - ResetTokenValidity: how long a password reset link stays usable.
//   - MinPasswordLength: minimum accepted password length.
//   - Production: secure cookies and JSON logs.
//   - PublicBaseURL: base used for reset links. Derived from the request
//     when empty, which production refuses.
//   - RedisURL / RateLimitRequests / RateLimitWindow: /api rate limiting.
//   - TrustedProxies: addresses or CIDRs whose forwarding headers name the
//     client. Empty keys rate limiting on the socket address.
//   - MaxBodyBytes: JSON body size limit.
//   - MailFrom / MailOutboxBucket: outbound mail; without a bucket mail is
//     printed to stdout, which production refuses.
//   - S3RootUser / S3RootPassword / S3Region / S3BaseEndpoint: S3-compatible backend for the outbox.
type Config struct {
	EndpointAddrHTTP      string        `env:"ADDR"`
	DatabaseDSN           string        `env:"DATABASE_DSN"`
	SecretKey             string        `env:"SECRET_KEY"`
	TokenValidityDuration time.Duration `env:"TOKEN_TTL"`
	CookieExpiresInDays   int           `env:"COOKIE_EXPIRES_IN_DAYS"`
	PasswordHasher        string        `env:"PASSWORD_HASHER"`
	PasswordHashCost      int           `env:"PASSWORD_HASH_COST"`
	ResetTokenValidity    time.Duration `env:"RESET_TOKEN_TTL"`
	MinPasswordLength     int           `env:"MIN_PASSWORD_LENGTH"`
	Production            bool          `env:"PRODUCTION"`
	PublicBaseURL         string        `env:"PUBLIC_BASE_URL"`
	RedisURL              string        `env:"REDIS_URL"`
	RateLimitRequests     int           `env:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow       time.Duration `env:"RATE_LIMIT_WINDOW"`
	TrustedProxies        []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	MaxBodyBytes          int64         `env:"MAX_BODY_BYTES"`
	MailFrom              string        `env:"MAIL_FROM"`
	MailOutboxBucket      string        `env:"MAIL_OUTBOX_BUCKET"`
	S3RootUser            string        `env:"S3_ROOT_USER"`
	S3RootPassword        string        `env:"S3_ROOT_PASSWORD"`
	S3Region              string        `env:"S3_REGION"`
	S3BaseEndpoint        string        `env:"S3_BASE_ENDPOINT"`
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret is insecure and Validate refuses it in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":3000"
	c.DatabaseDSN = ""
	c.SecretKey = developmentSecret
	c.TokenValidityDuration = 90 * 24 * time.Hour
	c.CookieExpiresInDays = 90
	c.PasswordHasher = "bcrypt"
	c.PasswordHashCost = 12
	c.ResetTokenValidity = 10 * time.Minute
	c.MinPasswordLength = 8
	c.Production = false
	c.PublicBaseURL = ""
	c.RedisURL = ""
	c.RateLimitRequests = 100
	c.RateLimitWindow = time.Hour
	c.TrustedProxies = nil
	c.MaxBodyBytes = 10 * 1024
	c.MailFrom = "Gatekeeper <no-reply@gatekeeper.local>"
	c.MailOutboxBucket = ""
	c.S3Region = "us-east-1"
}

// LoadConfig builds a Config by applying defaults, then the .env file and
// environment, then an optional JSON file and finally command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseJson(cfg)
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CookieMaxAge is the token cookie lifetime.
func (c *Config) CookieMaxAge() time.Duration {
	return time.Duration(c.CookieExpiresInDays) * 24 * time.Hour
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.Production && c.SecretKey == developmentSecret {
		errs = append(errs, errors.New("development secret key must not be used in production"))
	}
	if c.Production && c.MailOutboxBucket == "" {
		errs = append(errs, errors.New("mail outbox bucket is required in production"))
	}
	if c.Production && c.PublicBaseURL == "" {
		errs = append(errs, errors.New("public base URL is required in production"))
	}
	if c.TokenValidityDuration <= 0 {
		errs = append(errs, errors.New("token validity must be positive"))
	}
	if c.CookieExpiresInDays <= 0 {
		errs = append(errs, errors.New("cookie expiry must be positive"))
	}
	if c.ResetTokenValidity <= 0 {
		errs = append(errs, errors.New("reset token validity must be positive"))
	}
	if c.MinPasswordLength < 1 {
		errs = append(errs, errors.New("minimum password length must be positive"))
	}
	switch c.PasswordHasher {
	case "bcrypt":
		if c.PasswordHashCost < bcrypt.MinCost || c.PasswordHashCost > bcrypt.MaxCost {
			errs = append(errs, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
		}
	case "argon2id":
		if c.PasswordHashCost < 1 || c.PasswordHashCost > auth.Argon2MaxTime {
			errs = append(errs, fmt.Errorf("argon2id cost must be between 1 and %d", auth.Argon2MaxTime))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown password hasher %q", c.PasswordHasher))
	}
	if c.RateLimitRequests < 0 || (c.RateLimitRequests > 0 && c.RateLimitWindow <= 0) {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", v)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
