package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/config"
	"warp2api-go/internal/constants"
	"warp2api-go/internal/monitoring"
	"warp2api-go/internal/tokenpool"
)

// GraphQL mutation that mints a feature-gated anonymous user. The inline
// fragments match the two result shapes the endpoint returns.
const createAnonymousUserQuery = `mutation CreateAnonymousUser($input: CreateAnonymousUserInput!, $requestContext: RequestContext!) {
  createAnonymousUser(input: $input, requestContext: $requestContext) {
    __typename
    ... on CreateAnonymousUserOutput {
      expiresAt
      anonymousUserType
      firebaseUid
      idToken
      isInviteValid
      responseContext { serverVersion }
    }
    ... on UserFacingError {
      error { __typename message }
      responseContext { serverVersion }
    }
  }
}`

// Provisioner mints anonymous credentials through the two-step signup flow:
// a GraphQL mutation producing a custom id token, then an identity-toolkit
// exchange trading it for a long-lived refresh secret. Signups are
// rate-limited locally because the endpoint throttles bursts aggressively.
type Provisioner struct {
	client        *http.Client
	graphqlURL    string
	identityURL   string
	apiKey        string
	clientVersion string
	osCategory    string
	osName        string
	osVersion     string
	limiter       *rate.Limiter
	now           func() time.Time
}

// ProvisionerOption customizes Provisioner creation.
type ProvisionerOption func(*Provisioner)

// WithProvisionerClient overrides the HTTP client used for signup calls.
func WithProvisionerClient(client *http.Client) ProvisionerOption {
	return func(p *Provisioner) {
		if client != nil {
			p.client = client
		}
	}
}

// WithProvisionerLimiter overrides the local signup rate limiter.
func WithProvisionerLimiter(limiter *rate.Limiter) ProvisionerOption {
	return func(p *Provisioner) {
		if limiter != nil {
			p.limiter = limiter
		}
	}
}

// NewProvisioner builds a Provisioner from configuration.
func NewProvisioner(cfg *config.Config, opts ...ProvisionerOption) *Provisioner {
	interval := constants.DefaultProvisionInterval
	if cfg.Auth.ProvisionIntervalSeconds > 0 {
		interval = time.Duration(cfg.Auth.ProvisionIntervalSeconds) * time.Second
	}
	p := &Provisioner{
		client:        &http.Client{Timeout: cfg.IdentityTimeout()},
		graphqlURL:    cfg.Auth.GraphQLURL,
		identityURL:   cfg.Auth.IdentityToolkitURL,
		apiKey:        cfg.Auth.FirebaseAPIKey,
		clientVersion: cfg.Warp.ClientVersion,
		osCategory:    cfg.Warp.OSCategory,
		osName:        cfg.Warp.OSName,
		osVersion:     cfg.Warp.OSVersion,
		limiter:       rate.NewLimiter(rate.Every(interval), constants.DefaultProvisionBurst),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Provision mints a fresh anonymous credential and adds it to the pool at
// the anonymous tier. Returns ErrProvisioningRateLimited when either the
// local limiter or the signup endpoint rejects the attempt.
func (p *Provisioner) Provision(ctx context.Context, pool *tokenpool.Pool) (*tokenpool.Credential, error) {
	if !p.limiter.Allow() {
		monitoring.ProvisioningTotal.WithLabelValues("rate_limited").Inc()
		return nil, fmt.Errorf("%w: local signup limiter", apierrors.ErrProvisioningRateLimited)
	}

	idToken, err := p.createAnonymousUser(ctx)
	if err != nil {
		monitoring.ProvisioningTotal.WithLabelValues(provisionOutcome(err)).Inc()
		return nil, err
	}

	refreshToken, err := p.exchangeCustomToken(ctx, idToken)
	if err != nil {
		monitoring.ProvisioningTotal.WithLabelValues(provisionOutcome(err)).Inc()
		return nil, err
	}

	monitoring.ProvisioningTotal.WithLabelValues("ok").Inc()
	cred := pool.Add(refreshToken, tokenpool.TierAnonymous)
	log.WithField("credential", cred.Name).Info("provisioned anonymous credential")
	return cred, nil
}

// createAnonymousUser runs the GraphQL mutation and returns the custom
// id token embedded in a successful output.
func (p *Provisioner) createAnonymousUser(ctx context.Context) (string, error) {
	payload, err := p.signupPayload()
	if err != nil {
		return "", fmt.Errorf("build signup payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("signup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Warp/"+p.clientVersion)
	req.Header.Set("x-warp-client-version", p.clientVersion)
	req.Header.Set("x-warp-os-category", p.osCategory)
	req.Header.Set("x-warp-os-name", p.osName)
	req.Header.Set("x-warp-os-version", p.osVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if kind := apierrors.ClassifyNetworkError(err); kind != apierrors.KindNone {
			return "", fmt.Errorf("%w: signup: %v", kind.Sentinel(), err)
		}
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if kind := apierrors.ClassifySignup(resp.StatusCode, resp.Header.Get("Content-Type"), body); kind != apierrors.KindNone {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"kind":   string(kind),
		}).Warn("anonymous signup rejected")
		return "", fmt.Errorf("%w: signup status %d: %s",
			kind.Sentinel(), resp.StatusCode, apierrors.ExtractMessage(body))
	}

	result := gjson.GetBytes(body, "data.createAnonymousUser")
	if result.Get("__typename").String() == "UserFacingError" {
		return "", fmt.Errorf("signup refused: %s", result.Get("error.message").String())
	}
	idToken := result.Get("idToken").String()
	if idToken == "" {
		return "", fmt.Errorf("signup response missing idToken: %s", apierrors.ExtractMessage(body))
	}
	return idToken, nil
}

// exchangeCustomToken trades the custom id token for a refresh secret via
// the identity toolkit.
func (p *Provisioner) exchangeCustomToken(ctx context.Context, idToken string) (string, error) {
	body, err := sjson.SetBytes([]byte(`{"returnSecureToken":true}`), "token", idToken)
	if err != nil {
		return "", fmt.Errorf("build exchange payload: %w", err)
	}

	endpoint := p.identityURL + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if kind := apierrors.ClassifyNetworkError(err); kind != apierrors.KindNone {
			return "", fmt.Errorf("%w: custom token exchange: %v", kind.Sentinel(), err)
		}
		return "", err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("custom token exchange status %d: %s",
			resp.StatusCode, apierrors.ExtractMessage(payload))
	}

	refreshToken := gjson.GetBytes(payload, "refreshToken").String()
	if refreshToken == "" {
		return "", fmt.Errorf("exchange response missing refreshToken")
	}
	return refreshToken, nil
}

func provisionOutcome(err error) string {
	if errors.Is(err, apierrors.ErrProvisioningRateLimited) {
		return "rate_limited"
	}
	return "error"
}

// signupPayload assembles the GraphQL request body.
func (p *Provisioner) signupPayload() ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value interface{}) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, value)
		}
	}
	set("query", createAnonymousUserQuery)
	set("operationName", "CreateAnonymousUser")
	set("variables.input.anonymousUserType", constants.AnonymousUserType)
	set("variables.input.expirationType", constants.AnonymousUserExpirationTag)
	set("variables.input.referralCode", nil)
	set("variables.requestContext.clientContext.version", p.clientVersion)
	set("variables.requestContext.osContext.category", p.osCategory)
	set("variables.requestContext.osContext.name", p.osName)
	set("variables.requestContext.osContext.version", p.osVersion)
	if err != nil {
		return nil, err
	}
	return body, nil
}
