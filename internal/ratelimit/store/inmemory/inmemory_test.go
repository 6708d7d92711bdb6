package inmemory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llmratelimit/internal/ratelimit/core"
)

func cfg() core.RateLimitConfig {
	return core.RateLimitConfig{InputTPM: 100, OutputTPM: 100, RPM: 2}
}

func TestAdmitBatch_AdmitsWithinLimits(t *testing.T) {
	s := NewStore()
	now := time.Now()
	result, err := s.AdmitBatch(context.Background(), core.AdmitParams{
		APIKey: "k1", Config: cfg(), CostIn: 10, CostOut: 10, Now: now, Window: time.Minute, EventID: "e1",
	})
	require.NoError(t, err)
	require.True(t, result.Admitted)
}

func TestAdmitBatch_DeniesOverRPM(t *testing.T) {
	s := NewStore()
	now := time.Now()
	ctx := context.Background()
	_, err := s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 1, CostOut: 1, Now: now, Window: time.Minute, EventID: "e1"})
	require.NoError(t, err)
	_, err = s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 1, CostOut: 1, Now: now, Window: time.Minute, EventID: "e2"})
	require.NoError(t, err)
	result, err := s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 1, CostOut: 1, Now: now, Window: time.Minute, EventID: "e3"})
	require.NoError(t, err)
	require.False(t, result.Admitted)
	require.Equal(t, core.DimensionRPM, result.Dimension)
}

func TestAdmitBatch_DeniesOverInputTPM(t *testing.T) {
	s := NewStore()
	now := time.Now()
	result, err := s.AdmitBatch(context.Background(), core.AdmitParams{
		APIKey: "k1", Config: cfg(), CostIn: 200, CostOut: 1, Now: now, Window: time.Minute, EventID: "e1",
	})
	require.NoError(t, err)
	require.False(t, result.Admitted)
	require.Equal(t, core.DimensionInputTPM, result.Dimension)
}

func TestAdmitBatch_EventsExpireOutOfWindow(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Now()
	_, err := s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 90, CostOut: 1, Now: base, Window: time.Minute, EventID: "e1"})
	require.NoError(t, err)

	result, err := s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 90, CostOut: 1, Now: base.Add(2 * time.Minute), Window: time.Minute, EventID: "e2"})
	require.NoError(t, err)
	require.True(t, result.Admitted)
}

func TestReconcile_AdjustsCostAndIsIdempotentOnMiss(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	_, err := s.AdmitBatch(ctx, core.AdmitParams{APIKey: "k1", Config: cfg(), CostIn: 10, CostOut: 50, Now: now, Window: time.Minute, EventID: "e1"})
	require.NoError(t, err)

	err = s.Reconcile(ctx, core.ReconcileParams{APIKey: "k1", EventID: "e1", OldCost: 50, NewCost: 20, Now: now, Window: time.Minute})
	require.NoError(t, err)

	usage, err := s.Usage(ctx, "k1", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(20), usage.OutputTokensUsed)

	err = s.Reconcile(ctx, core.ReconcileParams{APIKey: "k1", EventID: "missing", OldCost: 50, NewCost: 20, Now: now, Window: time.Minute})
	require.NoError(t, err)
}

func TestAdmitBatch_ConcurrentCallersNeverOverAdmitRPM(t *testing.T) {
	const limit = 10
	const callers = 50

	s := NewStore()
	config := core.RateLimitConfig{InputTPM: 1_000_000, OutputTPM: 1_000_000, RPM: limit}
	now := time.Now()

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.AdmitBatch(context.Background(), core.AdmitParams{
				APIKey:  "k1",
				Config:  config,
				CostIn:  1,
				CostOut: 1,
				Now:     now,
				Window:  time.Minute,
				EventID: fmt.Sprintf("e%d", i),
			})
			require.NoError(t, err)
			if result.Admitted {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(limit), admitted.Load())
}

func TestHealthy_ReflectsSetHealthy(t *testing.T) {
	s := NewStore()
	require.True(t, s.Healthy(context.Background()))
	s.SetHealthy(false)
	require.False(t, s.Healthy(context.Background()))
	_, err := s.AdmitBatch(context.Background(), core.AdmitParams{APIKey: "k1", Config: cfg(), Now: time.Now(), Window: time.Minute, EventID: "e1"})
	require.ErrorIs(t, err, core.ErrCoordinationUnavailable)
}
