package config

import (
	"encoding/base64"
	"strings"
	"time"

	"warp2api-go/internal/constants"
)

// Config is the full runtime configuration, merged from defaults, an optional
// YAML file, and environment overrides (env wins).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Pool     PoolConfig     `yaml:"pool"`
	Auth     AuthConfig     `yaml:"auth"`
	Retry    RetryConfig    `yaml:"retry"`
	Warp     WarpConfig     `yaml:"warp"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds the management HTTP surface settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SecurityConfig holds auth and logging knobs.
type SecurityConfig struct {
	// APIToken protects the management surface. Empty disables auth and a
	// warning is logged at startup.
	APIToken string `yaml:"api_token"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`
}

// PoolConfig declares the credential sources and pool policy.
type PoolConfig struct {
	// PrimaryPersonalToken is the operator's own refresh secret.
	PrimaryPersonalToken string `yaml:"primary_personal_token"`
	// PersonalTokens are additional personal refresh secrets.
	PersonalTokens []string `yaml:"personal_tokens"`
	// SharedTokens are team-provided refresh secrets.
	SharedTokens []string `yaml:"shared_tokens"`
	// AnonymousToken is the fallback disposable secret. When empty, the
	// built-in default below is decoded instead.
	AnonymousToken string `yaml:"anonymous_token"`
	// BuiltinAnonymousTokenB64 is a base64 form-encoded default
	// ("grant_type=refresh_token&refresh_token=..."), matching the payload
	// shape the desktop client ships with.
	BuiltinAnonymousTokenB64 string `yaml:"builtin_anonymous_token_b64"`
	// FailureLimit deactivates a credential after this many consecutive
	// failed exchanges.
	FailureLimit int `yaml:"failure_limit"`
	// RecoveryIntervalMinutes re-enables deactivated credentials on a
	// timer; 0 disables periodic recovery.
	RecoveryIntervalMinutes int `yaml:"recovery_interval_minutes"`
}

// AuthConfig points at the identity endpoints.
type AuthConfig struct {
	TokenURL               string `yaml:"token_url"`
	IdentityToolkitURL     string `yaml:"identity_toolkit_url"`
	GraphQLURL             string `yaml:"graphql_url"`
	FirebaseAPIKey         string `yaml:"firebase_api_key"`
	RefreshSkewSeconds     int    `yaml:"refresh_skew_seconds"`
	IdentityTimeoutSeconds int    `yaml:"identity_timeout_seconds"`
	// ProvisionIntervalSeconds rate-limits anonymous signups.
	ProvisionIntervalSeconds int `yaml:"provision_interval_seconds"`
}

// RetryConfig bounds the per-call retry machinery.
type RetryConfig struct {
	MaxAttempts           int `yaml:"max_attempts"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// WarpConfig identifies the upstream AI endpoint and client headers.
type WarpConfig struct {
	URL           string `yaml:"url"`
	ClientVersion string `yaml:"client_version"`
	OSCategory    string `yaml:"os_category"`
	OSName        string `yaml:"os_name"`
	OSVersion     string `yaml:"os_version"`
	ProxyURL      string `yaml:"proxy_url"`
}

// RedisConfig enables the redis usage-stats backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns the baseline configuration before file/env merges.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8010},
		Pool: PoolConfig{
			FailureLimit: constants.DefaultFailureLimit,
		},
		Auth: AuthConfig{
			TokenURL:                 constants.DefaultTokenURL,
			IdentityToolkitURL:       constants.DefaultIdentityToolkitURL,
			GraphQLURL:               constants.DefaultGraphQLURL,
			FirebaseAPIKey:           constants.DefaultFirebaseAPIKey,
			RefreshSkewSeconds:       int(constants.DefaultRefreshSkew / time.Second),
			IdentityTimeoutSeconds:   int(constants.DefaultIdentityTimeout / time.Second),
			ProvisionIntervalSeconds: int(constants.DefaultProvisionInterval / time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:           constants.DefaultMaxAttempts,
			RequestTimeoutSeconds: int(constants.DefaultRequestTimeout / time.Second),
		},
		Warp: WarpConfig{
			URL:           constants.DefaultWarpURL,
			ClientVersion: constants.DefaultClientVersion,
			OSCategory:    constants.DefaultOSCategory,
			OSName:        constants.DefaultOSName,
			OSVersion:     constants.DefaultOSVersion,
		},
	}
}

// RefreshSkew returns the skew window as a duration.
func (c *Config) RefreshSkew() time.Duration {
	if c.Auth.RefreshSkewSeconds <= 0 {
		return constants.DefaultRefreshSkew
	}
	return time.Duration(c.Auth.RefreshSkewSeconds) * time.Second
}

// IdentityTimeout returns the identity-call timeout.
func (c *Config) IdentityTimeout() time.Duration {
	if c.Auth.IdentityTimeoutSeconds <= 0 {
		return constants.DefaultIdentityTimeout
	}
	return time.Duration(c.Auth.IdentityTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-attempt upstream timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Retry.RequestTimeoutSeconds <= 0 {
		return constants.DefaultRequestTimeout
	}
	return time.Duration(c.Retry.RequestTimeoutSeconds) * time.Second
}

// EffectiveAnonymousToken resolves the anonymous fallback secret: the
// configured one when present, otherwise the built-in default decoded from
// its base64 form-encoded shape. Empty result means no anonymous seed.
func (c *Config) EffectiveAnonymousToken() string {
	if tok := strings.TrimSpace(c.Pool.AnonymousToken); tok != "" {
		return tok
	}
	return decodeBuiltinToken(c.Pool.BuiltinAnonymousTokenB64)
}

func decodeBuiltinToken(b64 string) string {
	if b64 == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	decoded := string(raw)
	if idx := strings.Index(decoded, "refresh_token="); idx >= 0 {
		return decoded[idx+len("refresh_token="):]
	}
	return ""
}

// splitTokenList parses a comma-separated secret list, dropping empties and
// placeholder values.
func splitTokenList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
