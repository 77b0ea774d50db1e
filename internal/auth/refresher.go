package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/config"
	"warp2api-go/internal/constants"
	"warp2api-go/internal/monitoring"
	"warp2api-go/internal/tokenpool"
)

// Refresher exchanges refresh secrets for short-lived access tokens against
// the secure-token endpoint, caching the result on the credential. Concurrent
// callers for the same credential are coalesced into one exchange.
type Refresher struct {
	client       *http.Client
	tokenURL     string
	apiKey       string
	skew         time.Duration
	failureLimit int
	coord        *inflightCoordinator
	now          func() time.Time
}

// RefresherOption customizes Refresher creation.
type RefresherOption func(*Refresher)

// WithHTTPClient overrides the HTTP client used for token exchanges.
func WithHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) {
		if client != nil {
			r.client = client
		}
	}
}

// WithNowFunc overrides the clock (testing).
func WithNowFunc(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher builds a Refresher from configuration.
func NewRefresher(cfg *config.Config, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		client:       &http.Client{Timeout: cfg.IdentityTimeout()},
		tokenURL:     cfg.Auth.TokenURL,
		apiKey:       cfg.Auth.FirebaseAPIKey,
		skew:         cfg.RefreshSkew(),
		failureLimit: cfg.Pool.FailureLimit,
		coord:        newInflightCoordinator(),
		now:          time.Now,
	}
	if r.failureLimit <= 0 {
		r.failureLimit = constants.DefaultFailureLimit
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// EnsureAccessToken returns a valid access token for the credential,
// performing a network exchange only when the cached token is missing or
// inside the skew window. A failed exchange counts against the credential's
// failure streak and returns ErrAuthExchangeFailed.
func (r *Refresher) EnsureAccessToken(ctx context.Context, cred *tokenpool.Credential) (string, error) {
	if token, ok := cred.CachedToken(r.now(), r.skew); ok {
		return token, nil
	}

	err := r.coord.do(ctx, cred.ID, func(ctx context.Context) error {
		// Re-check under the flight: a concurrent exchange may have
		// refilled the cache while this caller waited.
		if _, ok := cred.CachedToken(r.now(), r.skew); ok {
			return nil
		}
		return r.exchange(ctx, cred)
	})
	if err != nil {
		return "", err
	}

	token, ok := cred.CachedToken(r.now(), r.skew)
	if !ok {
		// Exchange succeeded with an expiry inside the skew window.
		return "", fmt.Errorf("%w: token expired immediately for %s",
			apierrors.ErrAuthExchangeFailed, cred.Name)
	}
	return token, nil
}

func (r *Refresher) exchange(ctx context.Context, cred *tokenpool.Credential) error {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": cred.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrAuthExchangeFailed, err)
	}

	endpoint := r.tokenURL
	if r.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(r.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", apierrors.ErrAuthExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return r.fail(cred, fmt.Errorf("%w: %v", apierrors.ErrAuthExchangeFailed, err))
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return r.fail(cred, fmt.Errorf("%w: status %d: %s",
			apierrors.ErrAuthExchangeFailed, resp.StatusCode, apierrors.ExtractMessage(payload)))
	}

	token := gjson.GetBytes(payload, "id_token").String()
	if token == "" {
		token = gjson.GetBytes(payload, "access_token").String()
	}
	if token == "" {
		return r.fail(cred, fmt.Errorf("%w: response missing access token", apierrors.ErrAuthExchangeFailed))
	}

	// expires_in arrives as a string of seconds.
	expiresIn, _ := strconv.ParseInt(gjson.GetBytes(payload, "expires_in").String(), 10, 64)
	now := r.now()
	expiry := tokenExpiry(token, expiresIn, now, constants.DefaultAccessTokenTTL)

	cred.StoreToken(token, expiry)
	monitoring.RecordRefresh(cred.Tier.String(), true)
	log.WithFields(log.Fields{
		"credential": cred.Name,
		"expires_in": expiry.Sub(now).Round(time.Second).String(),
	}).Debug("access token refreshed")
	return nil
}

// fail records the failure on the credential, deactivating it at the limit.
func (r *Refresher) fail(cred *tokenpool.Credential, err error) error {
	failures, deactivated := cred.MarkExchangeFailure(r.failureLimit)
	monitoring.RecordRefresh(cred.Tier.String(), false)
	if deactivated {
		monitoring.CredentialDeactivations.WithLabelValues(cred.Tier.String()).Inc()
	}
	entry := log.WithFields(log.Fields{
		"credential": cred.Name,
		"failures":   failures,
		"limit":      r.failureLimit,
	})
	if deactivated {
		entry.Warn("credential deactivated after repeated exchange failures")
	} else {
		entry.Warn("token exchange failed")
	}
	return err
}
