package constants

import "time"

const (
	// DefaultRequestTimeout bounds a single upstream AI call.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultIdentityTimeout bounds identity exchange and provisioning calls.
	DefaultIdentityTimeout = 30 * time.Second
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second

	DefaultDialTimeout         = 10 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 256
	DefaultMaxIdleConnsPerHost = 32
)

// Pool policy defaults. All of them are tunables surfaced in configuration.
const (
	// DefaultFailureLimit deactivates a credential after this many
	// consecutive failed token exchanges.
	DefaultFailureLimit = 3
	// DefaultRefreshSkew refreshes cached access tokens this long before
	// their reported expiry.
	DefaultRefreshSkew = 120 * time.Second
	// DefaultMaxAttempts caps upstream attempts per caller request.
	DefaultMaxAttempts = 2
	// DefaultAccessTokenTTL is assumed when the identity endpoint omits
	// expires_in and the token carries no usable exp claim.
	DefaultAccessTokenTTL = 55 * time.Minute

	// DefaultProvisionInterval rate-limits anonymous signups.
	DefaultProvisionInterval = 30 * time.Second
	DefaultProvisionBurst    = 1
)
