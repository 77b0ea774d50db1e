package tokenpool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Tier classifies a credential by trust and scarcity. Selection drains tiers in
// declaration order: anonymous credentials are disposable and burned first,
// personal credentials are the operator's own quota and touched last.
type Tier int

const (
	TierAnonymous Tier = iota
	TierShared
	TierPersonal
)

// Tiers lists all tiers in selection priority order.
var Tiers = []Tier{TierAnonymous, TierShared, TierPersonal}

func (t Tier) String() string {
	switch t {
	case TierAnonymous:
		return "anonymous"
	case TierShared:
		return "shared"
	case TierPersonal:
		return "personal"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a tier label from configuration or the management API.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "anonymous":
		return TierAnonymous, nil
	case "shared":
		return TierShared, nil
	case "personal":
		return TierPersonal, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Credential is one long-lived refresh secret plus its runtime state. The
// access-token cache fields are guarded by the credential's own mutex so a
// slow token exchange on one credential never blocks the pool.
type Credential struct {
	ID           string
	Name         string
	Tier         Tier
	RefreshToken string

	mu                sync.Mutex
	active            bool
	failures          int
	lastUsed          time.Time
	accessToken       string
	accessTokenExpiry time.Time
}

// newCredential derives a stable ID and short display name from the secret.
func newCredential(secret string, tier Tier) *Credential {
	sum := sha256.Sum256([]byte(secret))
	id := hex.EncodeToString(sum[:])[:16]
	return &Credential{
		ID:           id,
		Name:         fmt.Sprintf("%s_%s", tier.String(), id[:4]),
		Tier:         tier,
		RefreshToken: secret,
		active:       true,
	}
}

// Active reports whether the credential may be selected.
func (c *Credential) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Failures returns the current consecutive-failure count.
func (c *Credential) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastUsed returns when the selector last handed out this credential.
func (c *Credential) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// CachedToken returns the cached access token when it is still valid at
// now+skew, or ("", false) when a fresh exchange is needed.
func (c *Credential) CachedToken(now time.Time, skew time.Duration) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" || c.accessTokenExpiry.IsZero() {
		return "", false
	}
	if now.After(c.accessTokenExpiry.Add(-skew)) {
		return "", false
	}
	return c.accessToken, true
}

// StoreToken replaces the cached token atomically (replace-on-success only)
// and clears the failure streak.
func (c *Credential) StoreToken(token string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.accessTokenExpiry = expiry
	c.failures = 0
}

// MarkExchangeFailure bumps the consecutive-failure streak and deactivates
// the credential once limit is reached. Returns the new count and whether
// this failure deactivated the credential.
func (c *Credential) MarkExchangeFailure(limit int) (failures int, deactivated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= limit && c.active {
		c.active = false
		return c.failures, true
	}
	return c.failures, false
}

// reactivate resets the failure streak and makes the credential selectable
// again. This is the only path by which active flips back to true.
func (c *Credential) reactivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	c.failures = 0
	return true
}

// Snapshot is a read-only copy of a credential's runtime state for
// diagnostics. The refresh secret is never included.
type Snapshot struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Tier           string    `json:"tier"`
	Active         bool      `json:"active"`
	Failures       int       `json:"failures"`
	LastUsed       time.Time `json:"last_used,omitempty"`
	HasCachedToken bool      `json:"has_cached_token"`
	TokenExpiresIn float64   `json:"token_expires_in_seconds,omitempty"`
}

// Snapshot captures the credential state at a point in time.
func (c *Credential) Snapshot(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:             c.ID,
		Name:           c.Name,
		Tier:           c.Tier.String(),
		Active:         c.active,
		Failures:       c.failures,
		LastUsed:       c.lastUsed,
		HasCachedToken: c.accessToken != "",
	}
	if c.accessToken != "" && !c.accessTokenExpiry.IsZero() {
		if remain := c.accessTokenExpiry.Sub(now).Seconds(); remain > 0 {
			s.TokenExpiresIn = remain
		}
	}
	return s
}
