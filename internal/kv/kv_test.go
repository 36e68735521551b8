package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	s.Set("k", []byte("v"), time.Minute)
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	s.Set("k", []byte("v"), time.Second)
	fakeNow = fakeNow.Add(2 * time.Second)

	_, ok := s.Get("k")
	require.False(t, ok)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	s.Set("k", []byte("v"), time.Minute)
	s.Delete("k")
	_, ok := s.Get("k")
	require.False(t, ok)
}

func TestTokenAccountKeyFormat(t *testing.T) {
	require.Equal(t, "token_account:owner1:mint1", TokenAccountKey("owner1", "mint1"))
}
