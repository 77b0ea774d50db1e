package config

import (
	"os"
	"strconv"
	"strings"
)

// mergeEnvVars overlays environment variables onto the config. Environment
// always wins over the file so deployments can override without editing YAML.
func (c *Config) mergeEnvVars() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		c.Security.APIToken = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Security.LogFile = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Security.Debug = parseBool(v)
	}

	// Credential sources. Tier is fixed by the variable a secret arrives in.
	if v := strings.TrimSpace(os.Getenv("WARP_REFRESH_TOKEN")); v != "" && v != "your_warp_refresh_token_here" {
		c.Pool.PrimaryPersonalToken = v
	}
	if v := os.Getenv("WARP_PERSONAL_TOKENS"); v != "" {
		c.Pool.PersonalTokens = splitTokenList(v)
	}
	if v := os.Getenv("WARP_SHARED_TOKENS"); v != "" {
		c.Pool.SharedTokens = splitTokenList(v)
	}
	if v := strings.TrimSpace(os.Getenv("WARP_ANONYMOUS_TOKEN")); v != "" {
		c.Pool.AnonymousToken = v
	}

	if v := os.Getenv("WARP_FAILURE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pool.FailureLimit = n
		}
	}
	if v := os.Getenv("WARP_RECOVERY_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Pool.RecoveryIntervalMinutes = n
		}
	}
	if v := os.Getenv("WARP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("WARP_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retry.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("WARP_REFRESH_SKEW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Auth.RefreshSkewSeconds = n
		}
	}

	if v := os.Getenv("WARP_URL"); v != "" {
		c.Warp.URL = v
	}
	if v := os.Getenv("WARP_PROXY_URL"); v != "" {
		c.Warp.ProxyURL = v
	}
	if v := os.Getenv("WARP_CLIENT_VERSION"); v != "" {
		c.Warp.ClientVersion = v
	}

	if v := os.Getenv("WARP_TOKEN_URL"); v != "" {
		c.Auth.TokenURL = v
	}
	if v := os.Getenv("WARP_IDENTITY_TOOLKIT_URL"); v != "" {
		c.Auth.IdentityToolkitURL = v
	}
	if v := os.Getenv("WARP_GRAPHQL_URL"); v != "" {
		c.Auth.GraphQLURL = v
	}
	if v := os.Getenv("FIREBASE_API_KEY"); v != "" {
		c.Auth.FirebaseAPIKey = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Redis.DB = n
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
