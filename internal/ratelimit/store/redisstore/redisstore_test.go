package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"llmratelimit/internal/ratelimit/core"
)

func TestAdmitBatch_Admitted(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewStore(db)

	now := time.Unix(1000, 0)
	window := time.Minute
	keys := s.dimensionKeys("k1")

	mock.ExpectEvalSha(scriptAdmit.Hash(), keys,
		now.UnixMilli(), window.Milliseconds(), int64(10), int64(20), int64(1),
		int64(100), int64(100), int64(5), "e1", int64(61),
	).SetVal([]interface{}{int64(1), int64(0), int64(-1)})

	result, err := s.AdmitBatch(context.Background(), core.AdmitParams{
		APIKey:  "k1",
		Config:  core.RateLimitConfig{InputTPM: 100, OutputTPM: 100, RPM: 5},
		CostIn:  10,
		CostOut: 20,
		Now:     now,
		Window:  window,
		EventID: "e1",
	})
	require.NoError(t, err)
	require.True(t, result.Admitted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmitBatch_DeniedWithRetryAfter(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewStore(db)

	now := time.Unix(1000, 0)
	window := time.Minute
	keys := s.dimensionKeys("k1")
	oldestMs := now.Add(-30 * time.Second).UnixMilli()

	mock.ExpectEvalSha(scriptAdmit.Hash(), keys,
		now.UnixMilli(), window.Milliseconds(), int64(10), int64(20), int64(1),
		int64(100), int64(100), int64(5), "e1", int64(61),
	).SetVal([]interface{}{int64(0), int64(2), oldestMs})

	result, err := s.AdmitBatch(context.Background(), core.AdmitParams{
		APIKey:  "k1",
		Config:  core.RateLimitConfig{InputTPM: 100, OutputTPM: 100, RPM: 5},
		CostIn:  10,
		CostOut: 20,
		Now:     now,
		Window:  window,
		EventID: "e1",
	})
	require.NoError(t, err)
	require.False(t, result.Admitted)
	require.Equal(t, core.DimensionOutputTPM, result.Dimension)
	require.Equal(t, oldestMs, result.OldestSurvivor.UnixMilli())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcile_MissingEventIsNoError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewStore(db)

	keys := []string{
		s.keys.SortedSetKey("k1", core.DimensionOutputTPM),
		s.keys.CostKey("k1", core.DimensionOutputTPM),
	}
	mock.ExpectEvalSha(scriptReconcile.Hash(), keys, "e1", int64(42)).SetVal(int64(0))

	err := s.Reconcile(context.Background(), core.ReconcileParams{
		APIKey: "k1", EventID: "e1", NewCost: 42,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthy_PingFailureReturnsFalse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewStore(db)

	mock.ExpectPing().SetErr(context.DeadlineExceeded)
	require.False(t, s.Healthy(context.Background()))
}
