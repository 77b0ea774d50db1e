package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyUpstream(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        Kind
	}{
		{"success", 200, "application/x-protobuf", "", KindNone},
		{"created", 201, "", "", KindNone},
		{"structured 429", 429, "application/json", `{"error":{"message":"No remaining quota"}}`, KindQuotaExhausted},
		{"json body without content type", 429, "text/plain", `{"message":"No AI requests remaining"}`, KindQuotaExhausted},
		{"plain body with quota marker", 429, "text/plain", "No remaining quota for this account", KindQuotaExhausted},
		{"unstructured 429", 429, "text/plain", "slow down", KindTransientUpstream},
		{"empty 429", 429, "", "", KindTransientUpstream},
		{"server error", 503, "text/html", "bad gateway", KindTransientUpstream},
		{"bad request", 400, "application/json", `{"message":"invalid payload"}`, KindMalformedRequest},
		{"unauthorized", 401, "", "", KindMalformedRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyUpstream(tc.status, tc.contentType, []byte(tc.body))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifySignup(t *testing.T) {
	// The signup endpoint signals its own rate limit with an unstructured
	// 429 body; a structured 429 there still means quota.
	assert.Equal(t, KindProvisioningRateLimited,
		ClassifySignup(429, "text/plain", []byte("Too Many Requests")))
	assert.Equal(t, KindQuotaExhausted,
		ClassifySignup(429, "application/json", []byte(`{"message":"No remaining quota"}`)))
	assert.Equal(t, KindNone, ClassifySignup(200, "application/json", []byte(`{}`)))
	assert.Equal(t, KindTransientUpstream, ClassifySignup(502, "", nil))
	assert.Equal(t, KindMalformedRequest, ClassifySignup(403, "", nil))
}

func TestIsQuotaBody(t *testing.T) {
	assert.True(t, IsQuotaBody([]byte(`{"error":"No remaining quota for this user"}`)))
	assert.True(t, IsQuotaBody([]byte(`No AI requests remaining`)))
	assert.False(t, IsQuotaBody([]byte(`{"error":"internal"}`)))
	assert.False(t, IsQuotaBody(nil))
}

func TestExtractMessage(t *testing.T) {
	assert.Equal(t, "No remaining quota",
		ExtractMessage([]byte(`{"error":{"message":"No remaining quota"}}`)))
	assert.Equal(t, "rate limited",
		ExtractMessage([]byte(`{"message":"rate limited"}`)))
	assert.Equal(t, "plain text body", ExtractMessage([]byte("plain text body")))
	assert.Equal(t, "", ExtractMessage(nil))

	long := strings.Repeat("x", 300)
	got := ExtractMessage([]byte(long))
	assert.Len(t, got, 203)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestClassifyNetworkError(t *testing.T) {
	assert.Equal(t, KindNone, ClassifyNetworkError(nil))
	assert.Equal(t, KindNone, ClassifyNetworkError(fmt.Errorf("do: %w", context.Canceled)))
	assert.Equal(t, KindTransientUpstream, ClassifyNetworkError(context.DeadlineExceeded))

	timeout := &net.OpError{Op: "dial", Err: &timeoutErr{}}
	assert.Equal(t, KindTransientUpstream, ClassifyNetworkError(timeout))
	assert.Equal(t, KindTransientUpstream, ClassifyNetworkError(errors.New("connection reset")))
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }

func TestTerminalErrorAndUnwrap(t *testing.T) {
	term := &Terminal{
		Kind:     KindQuotaExhausted,
		Attempts: 2,
		LastTier: "anonymous",
		Status:   429,
		Body:     `{"message":"No remaining quota"}`,
		Err:      ErrQuotaExhausted,
	}

	assert.Equal(t, "quota_exhausted after 2 attempt(s) (last tier anonymous, upstream 429)",
		term.Error())
	assert.True(t, errors.Is(term, ErrQuotaExhausted))

	wrapped := fmt.Errorf("call failed: %w", term)
	got, ok := AsTerminal(wrapped)
	require.True(t, ok)
	assert.Same(t, term, got)

	_, ok = AsTerminal(errors.New("plain"))
	assert.False(t, ok)

	noStatus := &Terminal{Kind: KindPoolExhausted, LastTier: "personal"}
	assert.Equal(t, "pool_exhausted after 0 attempt(s) (last tier personal)", noStatus.Error())
}

func TestKindSentinelRoundTrip(t *testing.T) {
	kinds := []Kind{
		KindAuthExchangeFailed,
		KindQuotaExhausted,
		KindProvisioningRateLimited,
		KindTransientUpstream,
		KindMalformedRequest,
		KindPoolExhausted,
	}
	for _, k := range kinds {
		require.Error(t, k.Sentinel(), k)
		assert.True(t, errors.Is(fmt.Errorf("%s: %w", k, k.Sentinel()), k.Sentinel()))
	}
	assert.NoError(t, KindNone.Sentinel())
}
