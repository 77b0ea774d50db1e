package tokenpool

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"warp2api-go/internal/monitoring"
)

// Pool holds every credential partitioned by tier, with an independent
// round-robin cursor per tier. The pool mutex guards only in-memory
// bookkeeping (membership and cursors); it is never held across network I/O.
// Each Pool instance is self-contained so independent pools can coexist.
type Pool struct {
	mu      sync.RWMutex
	byTier  map[Tier][]*Credential
	cursors map[Tier]int
	byID    map[string]*Credential
	now     func() time.Time
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		byTier:  make(map[Tier][]*Credential),
		cursors: make(map[Tier]int),
		byID:    make(map[string]*Credential),
		now:     time.Now,
	}
}

// SetNowFunc overrides the pool clock (testing).
func (p *Pool) SetNowFunc(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Add registers a refresh secret under the given tier and returns the
// credential. Adding the same secret twice is a no-op returning the existing
// entry; tier is taken from the declared source, never inferred.
func (p *Pool) Add(secret string, tier Tier) *Credential {
	cred := newCredential(secret, tier)

	p.mu.Lock()
	if existing, ok := p.byID[cred.ID]; ok {
		p.mu.Unlock()
		log.Debugf("credential %s already in pool", existing.Name)
		return existing
	}
	p.byTier[tier] = append(p.byTier[tier], cred)
	p.byID[cred.ID] = cred
	p.mu.Unlock()

	log.WithFields(log.Fields{"credential": cred.Name, "tier": tier.String()}).
		Debug("credential added to pool")
	return cred
}

// Get returns the credential with the given ID.
func (p *Pool) Get(id string) (*Credential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cred, ok := p.byID[id]
	return cred, ok
}

// SelectNext returns the next usable credential, or nil when every tier is
// exhausted. Tiers are visited in fixed priority order and never merged: a
// lower tier is considered only when the higher one has no active,
// non-excluded member. Within the winning tier the per-tier cursor advances
// round-robin over the filtered candidates.
func (p *Pool) SelectNext(exclude map[string]struct{}) *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tier := range Tiers {
		candidates := make([]*Credential, 0, len(p.byTier[tier]))
		for _, cred := range p.byTier[tier] {
			if !cred.Active() {
				continue
			}
			if _, skip := exclude[cred.ID]; skip {
				continue
			}
			candidates = append(candidates, cred)
		}
		if len(candidates) == 0 {
			continue
		}

		idx := p.cursors[tier] % len(candidates)
		cred := candidates[idx]
		p.cursors[tier] = (idx + 1) % len(candidates)

		now := p.now()
		cred.mu.Lock()
		cred.lastUsed = now
		cred.mu.Unlock()

		log.WithFields(log.Fields{"credential": cred.Name, "tier": tier.String()}).
			Debug("credential selected")
		return cred
	}
	return nil
}

// LastUsed returns the credential with the most recent selection timestamp, or
// nil when nothing has been selected yet. Callers that lost track of the
// in-flight credential use this to recover it.
func (p *Pool) LastUsed() *Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Credential
	var bestAt time.Time
	for _, cred := range p.byID {
		at := cred.LastUsed()
		if at.IsZero() {
			continue
		}
		if best == nil || at.After(bestAt) {
			best, bestAt = cred, at
		}
	}
	return best
}

// All returns every credential in no particular order.
func (p *Pool) All() []*Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Credential, 0, len(p.byID))
	for _, cred := range p.byID {
		out = append(out, cred)
	}
	return out
}

// TierStats summarizes one tier for Stats.
type TierStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// Stats summarizes the pool.
type Stats struct {
	Total  int                  `json:"total"`
	Active int                  `json:"active"`
	Failed int                  `json:"failed"`
	ByTier map[string]TierStats `json:"by_tier"`
}

// Stats returns per-tier counts for diagnostics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{ByTier: make(map[string]TierStats, len(Tiers))}
	for _, tier := range Tiers {
		ts := TierStats{}
		for _, cred := range p.byTier[tier] {
			ts.Total++
			if cred.Active() {
				ts.Active++
			} else {
				ts.Inactive++
			}
		}
		stats.ByTier[tier.String()] = ts
		stats.Total += ts.Total
		stats.Active += ts.Active
		stats.Failed += ts.Inactive
		monitoring.SetPoolGauges(tier.String(), ts.Active, ts.Inactive)
	}
	return stats
}

// Snapshots returns per-credential health snapshots.
func (p *Pool) Snapshots() []Snapshot {
	now := p.now()
	creds := p.All()
	out := make([]Snapshot, 0, len(creds))
	for _, cred := range creds {
		out = append(out, cred.Snapshot(now))
	}
	return out
}

// Reactivate makes a deactivated credential selectable again.
func (p *Pool) Reactivate(id string) bool {
	cred, ok := p.Get(id)
	if !ok {
		return false
	}
	if cred.reactivate() {
		log.WithField("credential", cred.Name).Info("credential reactivated")
		return true
	}
	return false
}

// RecoverFailed reactivates every deactivated credential, giving them another
// chance after their failure streak. Returns the number recovered.
func (p *Pool) RecoverFailed() int {
	recovered := 0
	for _, cred := range p.All() {
		if cred.reactivate() {
			recovered++
			log.WithField("credential", cred.Name).Info("credential recovered")
		}
	}
	if recovered > 0 {
		p.LogStatus()
	}
	return recovered
}

// LogStatus emits the pool banner with per-tier active counts.
func (p *Pool) LogStatus() {
	stats := p.Stats()
	fields := log.Fields{"active": stats.Active, "total": stats.Total}
	for _, tier := range Tiers {
		fields[tier.String()] = stats.ByTier[tier.String()].Active
	}
	log.WithFields(fields).Info("token pool status")
}
