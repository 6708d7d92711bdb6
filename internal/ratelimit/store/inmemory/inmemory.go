// Package inmemory provides a process-local CoordinationStore, used in
// tests and in single-node deployments that accept per-node rather than
// fleet-wide limits.
package inmemory

import (
	"context"
	"sync"
	"time"

	"llmratelimit/internal/ratelimit/core"
)

type event struct {
	id   string
	t    time.Time
	cost int64
}

type dimensionState struct {
	events []event
}

type keyState struct {
	dims map[core.Dimension]*dimensionState
}

// Store implements core.CoordinationStore with an in-process mutex-guarded
// map, mirroring the single-threaded-script semantics a Lua EVAL gives a
// real Redis deployment: AdmitBatch evicts, checks all three dimensions in
// order, and inserts under one lock, so no two callers ever interleave.
type Store struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	healthy bool
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{keys: make(map[string]*keyState), healthy: true}
}

// SetHealthy lets tests simulate a coordination-store outage.
func (s *Store) SetHealthy(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = v
}

func (s *Store) stateFor(apiKey string) *keyState {
	ks := s.keys[apiKey]
	if ks == nil {
		ks = &keyState{dims: make(map[core.Dimension]*dimensionState)}
		s.keys[apiKey] = ks
	}
	return ks
}

func evict(events []event, cutoff time.Time) ([]event, int64) {
	filtered := events[:0]
	var sum int64
	for _, e := range events {
		if e.t.After(cutoff) {
			filtered = append(filtered, e)
			sum += e.cost
		}
	}
	return filtered, sum
}

// AdmitBatch implements core.CoordinationStore. Dimensions are checked in
// the fixed input -> output -> request order (§4.1).
func (s *Store) AdmitBatch(ctx context.Context, p core.AdmitParams) (core.AdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return core.AdmitResult{}, core.ErrCoordinationUnavailable
	}

	ks := s.stateFor(p.APIKey)
	cutoff := p.Now.Add(-p.Window)

	type check struct {
		dim   core.Dimension
		cost  int64
		limit int64
	}
	checks := []check{
		{core.DimensionInputTPM, p.CostIn, p.Config.InputTPM},
		{core.DimensionOutputTPM, p.CostOut, p.Config.OutputTPM},
		{core.DimensionRPM, 1, p.Config.RPM},
	}

	sums := make(map[core.Dimension]int64, 3)
	survivors := make(map[core.Dimension][]event, 3)
	for _, c := range checks {
		ds := ks.dims[c.dim]
		var events []event
		if ds != nil {
			events = ds.events
		}
		filtered, sum := evict(events, cutoff)
		survivors[c.dim] = filtered
		sums[c.dim] = sum
		if sum+c.cost > c.limit {
			// Persist the eviction even on denial — expired events never
			// count again regardless of outcome.
			s.commitSurvivors(ks, survivors)
			oldest := time.Time{}
			if len(filtered) > 0 {
				oldest = filtered[0].t
			}
			return core.AdmitResult{Admitted: false, Dimension: c.dim, OldestSurvivor: oldest}, nil
		}
	}

	for _, c := range checks {
		survivors[c.dim] = append(survivors[c.dim], event{id: p.EventID, t: p.Now, cost: c.cost})
	}
	s.commitSurvivors(ks, survivors)
	return core.AdmitResult{Admitted: true}, nil
}

func (s *Store) commitSurvivors(ks *keyState, survivors map[core.Dimension][]event) {
	for dim, events := range survivors {
		ds := ks.dims[dim]
		if ds == nil {
			ds = &dimensionState{}
			ks.dims[dim] = ds
		}
		ds.events = events
	}
}

// Reconcile implements core.CoordinationStore. It is a no-op if the event
// has already been evicted from the output dimension's window.
func (s *Store) Reconcile(ctx context.Context, p core.ReconcileParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return core.ErrCoordinationUnavailable
	}
	ks := s.keys[p.APIKey]
	if ks == nil {
		return nil
	}
	ds := ks.dims[core.DimensionOutputTPM]
	if ds == nil {
		return nil
	}
	for i := range ds.events {
		if ds.events[i].id == p.EventID {
			ds.events[i].cost = p.NewCost
			return nil
		}
	}
	return nil
}

// Usage implements core.CoordinationStore.
func (s *Store) Usage(ctx context.Context, apiKey string, now time.Time, window time.Duration) (core.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return core.Usage{}, core.ErrCoordinationUnavailable
	}
	ks := s.keys[apiKey]
	if ks == nil {
		return core.Usage{WindowSeconds: int64(window.Seconds())}, nil
	}
	cutoff := now.Add(-window)
	_, in := evict(ks.dims[core.DimensionInputTPM].eventsOr(nil), cutoff)
	_, out := evict(ks.dims[core.DimensionOutputTPM].eventsOr(nil), cutoff)
	_, req := evict(ks.dims[core.DimensionRPM].eventsOr(nil), cutoff)
	return core.Usage{
		InputTokensUsed:  in,
		OutputTokensUsed: out,
		RequestsUsed:     req,
		WindowSeconds:    int64(window.Seconds()),
	}, nil
}

func (ds *dimensionState) eventsOr(fallback []event) []event {
	if ds == nil {
		return fallback
	}
	return ds.events
}

// Healthy implements core.CoordinationStore.
func (s *Store) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}
