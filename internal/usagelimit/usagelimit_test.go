package usagelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solana-relay/kora/internal/kv"
)

func TestWindowedLimiterAllowsWithinBudget(t *testing.T) {
	l := NewWindowedLimiter(kv.NewMemoryStore(), 1000, time.Minute)
	require.NoError(t, l.CheckAndReserve("alice", 400))
	require.NoError(t, l.CheckAndReserve("alice", 400))
}

func TestWindowedLimiterRejectsOverBudget(t *testing.T) {
	l := NewWindowedLimiter(kv.NewMemoryStore(), 1000, time.Minute)
	require.NoError(t, l.CheckAndReserve("alice", 700))
	require.Error(t, l.CheckAndReserve("alice", 700))
}

func TestWindowedLimiterKeysAreIndependent(t *testing.T) {
	l := NewWindowedLimiter(kv.NewMemoryStore(), 1000, time.Minute)
	require.NoError(t, l.CheckAndReserve("alice", 900))
	require.NoError(t, l.CheckAndReserve("bob", 900))
}

func TestUnlimitedNeverRejects(t *testing.T) {
	var l Limiter = Unlimited{}
	require.NoError(t, l.CheckAndReserve("anyone", 1<<62))
}
