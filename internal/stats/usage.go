package stats

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Outcome labels the result a relay reports after driving one call.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeQuotaExhausted Outcome = "quota_exhausted"
	OutcomeTransient      Outcome = "transient"
	OutcomeFatal          Outcome = "fatal"
)

// ParseOutcome converts an outcome label from the management API.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case OutcomeSuccess, OutcomeQuotaExhausted, OutcomeTransient, OutcomeFatal:
		return Outcome(s), true
	}
	return "", false
}

// UsageStats tracks per-credential request outcomes.
type UsageStats struct {
	backend Backend
}

// UsageRecord is the aggregated counters for one credential.
type UsageRecord struct {
	CredentialID   string `json:"credential_id"`
	TotalRequests  int64  `json:"total_requests"`
	Success        int64  `json:"success"`
	QuotaExhausted int64  `json:"quota_exhausted"`
	Transient      int64  `json:"transient"`
	Fatal          int64  `json:"fatal"`
	LastUsedUnix   int64  `json:"last_used_unix,omitempty"`
}

// SuccessRate returns the success percentage over all recorded requests.
func (r *UsageRecord) SuccessRate() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.Success) / float64(r.TotalRequests) * 100
}

// NewUsageStats creates a tracker over the given backend. A nil backend
// degrades to memory.
func NewUsageStats(backend Backend) *UsageStats {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &UsageStats{backend: backend}
}

// Record stores one outcome for a credential. Backend errors are logged,
// not surfaced; accounting never fails a live request.
func (u *UsageStats) Record(ctx context.Context, credentialID string, outcome Outcome) {
	if credentialID == "" {
		return
	}
	if err := u.backend.Increment(ctx, credentialID, "total_requests", 1); err != nil {
		log.WithError(err).WithField("credential", credentialID).Warn("usage increment failed")
		return
	}
	_ = u.backend.Increment(ctx, credentialID, string(outcome), 1)
	_ = u.backend.Set(ctx, credentialID, "last_used_unix", time.Now().Unix())
}

// Get returns the aggregated record for one credential.
func (u *UsageStats) Get(ctx context.Context, credentialID string) (*UsageRecord, error) {
	counters, err := u.backend.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	return recordFromCounters(credentialID, counters), nil
}

// All returns records for every credential seen so far.
func (u *UsageStats) All(ctx context.Context) (map[string]*UsageRecord, error) {
	entries, err := u.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*UsageRecord, len(entries))
	for key, counters := range entries {
		out[key] = recordFromCounters(key, counters)
	}
	return out, nil
}

// Reset clears the counters for one credential.
func (u *UsageStats) Reset(ctx context.Context, credentialID string) error {
	return u.backend.Reset(ctx, credentialID)
}

// Close releases the backend.
func (u *UsageStats) Close() error { return u.backend.Close() }

func recordFromCounters(id string, counters map[string]int64) *UsageRecord {
	return &UsageRecord{
		CredentialID:   id,
		TotalRequests:  counters["total_requests"],
		Success:        counters[string(OutcomeSuccess)],
		QuotaExhausted: counters[string(OutcomeQuotaExhausted)],
		Transient:      counters[string(OutcomeTransient)],
		Fatal:          counters[string(OutcomeFatal)],
		LastUsedUnix:   counters["last_used_unix"],
	}
}
