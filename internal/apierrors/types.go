package apierrors

import (
	"errors"
	"fmt"
)

// Kind labels the failure categories the rotation core distinguishes.
type Kind string

const (
	// KindAuthExchangeFailed: the identity endpoint rejected a refresh
	// secret, or the exchange itself failed on the network.
	KindAuthExchangeFailed Kind = "auth_exchange_failed"
	// KindQuotaExhausted: structured 429 from the AI endpoint on a live
	// credential.
	KindQuotaExhausted Kind = "quota_exhausted"
	// KindProvisioningRateLimited: 429 with a non-JSON body on anonymous
	// identity creation.
	KindProvisioningRateLimited Kind = "provisioning_rate_limited"
	// KindTransientUpstream: 5xx or timeout on the AI call.
	KindTransientUpstream Kind = "transient_upstream"
	// KindMalformedRequest: non-retryable 4xx; the request itself is bad.
	KindMalformedRequest Kind = "malformed_request"
	// KindPoolExhausted: no credential available and provisioning could not
	// supply one.
	KindPoolExhausted Kind = "pool_exhausted"
	// KindNone: not an error.
	KindNone Kind = ""
)

// Sentinels for errors.Is checks.
var (
	ErrAuthExchangeFailed      = errors.New("auth exchange failed")
	ErrQuotaExhausted          = errors.New("quota exhausted")
	ErrProvisioningRateLimited = errors.New("provisioning rate limited")
	ErrTransientUpstream       = errors.New("transient upstream error")
	ErrMalformedRequest        = errors.New("malformed request")
	ErrPoolExhausted           = errors.New("credential pool exhausted")
)

// Terminal is the single typed failure a caller receives after the retry
// machinery gives up. It carries enough to tell "every credential is out of
// quota" apart from "the request itself is invalid".
type Terminal struct {
	Kind     Kind
	Attempts int
	LastTier string
	Status   int
	Body     string
	Err      error
}

func (t *Terminal) Error() string {
	if t.Status > 0 {
		return fmt.Sprintf("%s after %d attempt(s) (last tier %s, upstream %d)",
			t.Kind, t.Attempts, t.LastTier, t.Status)
	}
	return fmt.Sprintf("%s after %d attempt(s) (last tier %s)", t.Kind, t.Attempts, t.LastTier)
}

func (t *Terminal) Unwrap() error { return t.Err }

// AsTerminal extracts a Terminal from an error chain.
func AsTerminal(err error) (*Terminal, bool) {
	var t *Terminal
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// Sentinel maps a kind back to its sentinel error.
func (k Kind) Sentinel() error {
	switch k {
	case KindAuthExchangeFailed:
		return ErrAuthExchangeFailed
	case KindQuotaExhausted:
		return ErrQuotaExhausted
	case KindProvisioningRateLimited:
		return ErrProvisioningRateLimited
	case KindTransientUpstream:
		return ErrTransientUpstream
	case KindMalformedRequest:
		return ErrMalformedRequest
	case KindPoolExhausted:
		return ErrPoolExhausted
	}
	return nil
}
