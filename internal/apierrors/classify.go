package apierrors

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Quota-depletion markers the AI endpoint embeds in structured 429 bodies.
// The 429-with-two-body-shapes split below is a heuristic tied to the current
// upstream behaviour; it lives here so the retry state machine never inspects
// bodies itself.
var quotaMarkers = []string{
	"No remaining quota",
	"No AI requests remaining",
}

// ClassifyUpstream maps an AI-call response to an error kind.
//
//	2xx                               -> KindNone
//	429 + structured or marker body   -> KindQuotaExhausted
//	429 + other unstructured body     -> KindTransientUpstream (plain rate limit, retryable)
//	5xx                               -> KindTransientUpstream
//	other 4xx                         -> KindMalformedRequest
func ClassifyUpstream(status int, contentType string, body []byte) Kind {
	switch {
	case status >= 200 && status < 300:
		return KindNone
	case status == 429:
		if isStructured(contentType, body) || IsQuotaBody(body) {
			return KindQuotaExhausted
		}
		return KindTransientUpstream
	case status >= 500:
		return KindTransientUpstream
	case status >= 400:
		return KindMalformedRequest
	}
	return KindTransientUpstream
}

// ClassifySignup maps an anonymous-signup response to an error kind. The
// signup endpoint reuses status 429 for its own rate limit but sends an
// unstructured body there, unlike the quota-exhausted shape.
func ClassifySignup(status int, contentType string, body []byte) Kind {
	switch {
	case status >= 200 && status < 300:
		return KindNone
	case status == 429 && !isStructured(contentType, body):
		return KindProvisioningRateLimited
	case status == 429:
		return KindQuotaExhausted
	case status >= 500:
		return KindTransientUpstream
	default:
		return KindMalformedRequest
	}
}

// IsQuotaBody reports whether a structured error body carries one of the
// known quota-depletion markers.
func IsQuotaBody(body []byte) bool {
	s := string(body)
	for _, marker := range quotaMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// isStructured treats a body as machine-readable when the content type says
// JSON or the payload parses as a JSON object/array.
func isStructured(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		return true
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return gjson.Valid(trimmed)
}

// ExtractMessage pulls a human-readable message out of an upstream error
// body, falling back to a truncated raw body.
func ExtractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
