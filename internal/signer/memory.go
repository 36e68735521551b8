package signer

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-relay/kora/internal/apperr"
)

// MemorySigner holds a raw Ed25519 keypair in process memory and
// signs synchronously. This is the CPU-bound, sub-millisecond path
// called out in spec.md §5 ("signing with in-memory key ... is inline
// and brief").
type MemorySigner struct {
	name string
	key  solana.PrivateKey
}

var _ Signer = (*MemorySigner)(nil)

// NewMemorySigner builds a signer from a base58-encoded Ed25519
// private key, the same encoding solana-keygen produces and the
// format the teacher's `solana.PrivateKeyFromBase58` already expects.
func NewMemorySigner(name, base58Key string) (*MemorySigner, error) {
	if base58Key == "" {
		return nil, apperr.Internal("memory signer %q: missing private_key", name)
	}
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, apperr.Internal("memory signer %q: invalid base58 private key: %v", name, err)
	}
	return &MemorySigner{name: name, key: key}, nil
}

func (s *MemorySigner) Sign(_ context.Context, message []byte) (Signature, error) {
	sig, err := s.key.Sign(message)
	if err != nil {
		return Signature{}, apperr.Signing("memory signer %q: %v", s.name, err)
	}
	var out Signature
	copy(out.Bytes[:], sig[:])
	return out, nil
}

func (s *MemorySigner) Pubkey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *MemorySigner) Metadata() Metadata {
	return Metadata{Pubkey: s.Pubkey(), Backend: BackendMemory, Name: s.name}
}
