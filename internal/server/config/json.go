package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional JSON configuration file.
// Durations accept "10m", "90d" or integer nanoseconds. Absent fields keep
// the value configured by earlier layers.
type JsonConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	CookieExpiresInDays   int            `json:"cookie_expires_in_days"`
	PasswordHasher        string         `json:"password_hasher"`
	PasswordHashCost      int            `json:"password_hash_cost"`
	ResetTokenValidity    timex.Duration `json:"reset_token_validity"`
	MinPasswordLength     int            `json:"min_password_length"`
	Production            *bool          `json:"production"`
	PublicBaseURL         string         `json:"public_base_url"`
	RedisURL              string         `json:"redis_url"`
	RateLimitRequests     int            `json:"rate_limit_requests"`
	RateLimitWindow       timex.Duration `json:"rate_limit_window"`
	TrustedProxies        []string       `json:"trusted_proxies"`
	MaxBodyBytes          int64          `json:"max_body_bytes"`
	MailFrom              string         `json:"mail_from"`
	MailOutboxBucket      string         `json:"mail_outbox_bucket"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
}

// parseJson loads the file named by -c/-config into config. Without the flag
// nothing happens. An unreadable or invalid file panics, as a misconfigured
// server must not start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.TokenValidityDuration.Duration > 0 {
		config.TokenValidityDuration = c.TokenValidityDuration.Duration
	}
	setInt(&config.CookieExpiresInDays, c.CookieExpiresInDays)
	setString(&config.PasswordHasher, c.PasswordHasher)
	setInt(&config.PasswordHashCost, c.PasswordHashCost)
	if c.ResetTokenValidity.Duration > 0 {
		config.ResetTokenValidity = c.ResetTokenValidity.Duration
	}
	setInt(&config.MinPasswordLength, c.MinPasswordLength)
	if c.Production != nil {
		config.Production = *c.Production
	}
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setString(&config.RedisURL, c.RedisURL)
	setInt(&config.RateLimitRequests, c.RateLimitRequests)
	if c.RateLimitWindow.Duration > 0 {
		config.RateLimitWindow = c.RateLimitWindow.Duration
	}
	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}
	if c.MaxBodyBytes > 0 {
		config.MaxBodyBytes = c.MaxBodyBytes
	}
	setString(&config.MailFrom, c.MailFrom)
	setString(&config.MailOutboxBucket, c.MailOutboxBucket)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
