package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/config"
	"warp2api-go/internal/tokenpool"
)

func newTestProvisioner(t *testing.T, graphql, identity http.HandlerFunc) *Provisioner {
	t.Helper()
	graphqlSrv := httptest.NewServer(graphql)
	t.Cleanup(graphqlSrv.Close)
	identitySrv := httptest.NewServer(identity)
	t.Cleanup(identitySrv.Close)

	cfg := config.Default()
	cfg.Auth.GraphQLURL = graphqlSrv.URL
	cfg.Auth.IdentityToolkitURL = identitySrv.URL
	cfg.Auth.FirebaseAPIKey = "test-key"
	return NewProvisioner(cfg, WithProvisionerLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func TestProvisionAddsAnonymousCredential(t *testing.T) {
	graphql := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "CreateAnonymousUser", gjson.GetBytes(body, "operationName").String())
		require.Equal(t, "NATIVE_CLIENT_ANONYMOUS_USER_FEATURE_GATED",
			gjson.GetBytes(body, "variables.input.anonymousUserType").String())
		require.Equal(t, "NO_EXPIRATION",
			gjson.GetBytes(body, "variables.input.expirationType").String())
		require.NotEmpty(t, r.Header.Get("x-warp-client-version"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"createAnonymousUser":{
			"__typename":"CreateAnonymousUserOutput",
			"idToken":"custom-id-token",
			"firebaseUid":"uid-123",
			"anonymousUserType":"NATIVE_CLIENT_ANONYMOUS_USER_FEATURE_GATED"
		}}}`))
	}
	identity := func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "custom-id-token", gjson.GetBytes(body, "token").String())
		require.True(t, gjson.GetBytes(body, "returnSecureToken").Bool())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"idToken":"fresh-access","refreshToken":"fresh-refresh","expiresIn":"3600"}`))
	}

	pool := tokenpool.New()
	prov := newTestProvisioner(t, graphql, identity)

	cred, err := prov.Provision(context.Background(), pool)
	require.NoError(t, err)
	require.Equal(t, tokenpool.TierAnonymous, cred.Tier)
	require.Equal(t, "fresh-refresh", cred.RefreshToken)
	require.True(t, cred.Active())

	stats := pool.Stats()
	require.Equal(t, 1, stats.Total)
}

func TestProvisionLocalLimiter(t *testing.T) {
	graphql := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"createAnonymousUser":{"__typename":"CreateAnonymousUserOutput","idToken":"tok"}}}`))
	}
	identity := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"refreshToken":"rt"}`))
	}

	prov := newTestProvisioner(t, graphql, identity)
	// One immediate signup, then a long wait.
	prov.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	pool := tokenpool.New()
	_, err := prov.Provision(context.Background(), pool)
	require.NoError(t, err)

	_, err = prov.Provision(context.Background(), pool)
	require.ErrorIs(t, err, apierrors.ErrProvisioningRateLimited)
}

func TestProvisionUpstreamRateLimited(t *testing.T) {
	graphql := func(w http.ResponseWriter, r *http.Request) {
		// Non-JSON 429 body marks the signup throttle, not quota depletion.
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("Too Many Requests"))
	}
	identity := func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("identity exchange must not run after a rejected signup")
	}

	pool := tokenpool.New()
	prov := newTestProvisioner(t, graphql, identity)

	_, err := prov.Provision(context.Background(), pool)
	require.ErrorIs(t, err, apierrors.ErrProvisioningRateLimited)
	require.Equal(t, 0, pool.Stats().Total)
}

func TestProvisionUserFacingError(t *testing.T) {
	graphql := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"createAnonymousUser":{
			"__typename":"UserFacingError",
			"error":{"__typename":"InvalidInput","message":"anonymous signups disabled"}
		}}}`))
	}
	identity := func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("identity exchange must not run after a refused signup")
	}

	pool := tokenpool.New()
	prov := newTestProvisioner(t, graphql, identity)

	_, err := prov.Provision(context.Background(), pool)
	require.Error(t, err)
	require.Contains(t, err.Error(), "anonymous signups disabled")
}

func TestProvisionMissingRefreshToken(t *testing.T) {
	graphql := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"createAnonymousUser":{"__typename":"CreateAnonymousUserOutput","idToken":"tok"}}}`))
	}
	identity := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"idToken":"only-access"}`))
	}

	pool := tokenpool.New()
	prov := newTestProvisioner(t, graphql, identity)

	_, err := prov.Provision(context.Background(), pool)
	require.Error(t, err)
	require.Contains(t, err.Error(), "refreshToken")
}
