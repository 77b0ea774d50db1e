package upstream

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/stats"
	"warp2api-go/internal/tokenpool"
)

// Facade is the narrow surface exposed to the streaming relay and other
// collaborators that drive their own upstream calls: obtain a token for the
// next attempt, report how the call went, and read pool stats.
type Facade struct {
	orch  *Orchestrator
	pool  *tokenpool.Pool
	usage *stats.UsageStats
}

func NewFacade(orch *Orchestrator, pool *tokenpool.Pool, usage *stats.UsageStats) *Facade {
	return &Facade{orch: orch, pool: pool, usage: usage}
}

// GetAccessTokenForNextAttempt selects the next credential not in excluding
// and returns a usable access token plus the credential's ID, rotating past
// credentials whose exchange fails and provisioning at most once. The caller
// threads the returned ID into its next exclusion set and into
// ReportOutcome.
func (f *Facade) GetAccessTokenForNextAttempt(ctx context.Context, excluding map[string]struct{}) (token, credentialID string, err error) {
	st := &attemptState{excluded: make(map[string]struct{}, len(excluding))}
	for id := range excluding {
		st.excluded[id] = struct{}{}
	}
	for {
		cred, err := f.orch.selectCredential(ctx, st)
		if err != nil {
			return "", "", err
		}
		token, err := f.orch.tokens.EnsureAccessToken(ctx, cred)
		if err != nil {
			if errors.Is(err, apierrors.ErrAuthExchangeFailed) {
				st.excluded[cred.ID] = struct{}{}
				continue
			}
			return "", "", err
		}
		return token, cred.ID, nil
	}
}

// ReportOutcome records how a relayed call ended. An empty credentialID is
// resolved through the pool's most recently used credential, kept for
// callers that did not track which credential was in flight.
func (f *Facade) ReportOutcome(ctx context.Context, credentialID string, outcome stats.Outcome) {
	if credentialID == "" {
		if cred := f.pool.LastUsed(); cred != nil {
			credentialID = cred.ID
		}
	}
	if credentialID == "" {
		log.WithField("outcome", string(outcome)).Debug("outcome reported with no attributable credential")
		return
	}
	f.usage.Record(ctx, credentialID, outcome)
}

// PoolStats returns read-only pool counters for banners and diagnostics.
func (f *Facade) PoolStats() tokenpool.Stats {
	return f.pool.Stats()
}
