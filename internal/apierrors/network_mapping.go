package apierrors

import (
	"context"
	"errors"
	"net"
)

// ClassifyNetworkError maps a transport-level failure of the AI call to an
// error kind. Timeouts count as transient per the retry policy; a caller
// cancellation is surfaced unchanged (KindNone) so it is not retried.
func ClassifyNetworkError(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientUpstream
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransientUpstream
	}
	return KindTransientUpstream
}
