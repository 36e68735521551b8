// Package signer implements the polymorphic Signer Pool described in
// spec.md §4.D: a façade over in-memory keypairs and remote
// HSM/KMS-style signing backends, selected by a pool strategy.
//
// The shape mirrors the teacher's polymorphic-client pattern in
// service/svmbase (one interface, several wire-protocol-specific
// implementations behind it) and resolves the open question in
// spec.md §9 by keeping a single synchronous-looking, context-first
// `Sign` method rather than the source's two divergent
// sync/async `TokenInterface`-style traits.
package signer

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Signature is the detached 64-byte signature produced by a backend.
type Signature struct {
	Bytes [64]byte
}

// BackendKind names the wire protocol of a signer backend.
type BackendKind string

const (
	BackendMemory  BackendKind = "memory"
	BackendVault   BackendKind = "vault_transit"
	BackendTurnkey BackendKind = "turnkey"
	BackendPrivy   BackendKind = "privy"
)

// Metadata is the signer's identity, fixed at pool construction time
// and never mutated afterward (spec.md §3, Signer Metadata lifetime).
type Metadata struct {
	Pubkey  solana.PublicKey
	Backend BackendKind
	Name    string
}

// Signer signs a detached Ed25519 signature over a serialized
// message. Implementations must be safe for concurrent use: the pool
// may hand the same backend to multiple in-flight requests.
type Signer interface {
	Sign(ctx context.Context, message []byte) (Signature, error)
	Pubkey() solana.PublicKey
	Metadata() Metadata
}
