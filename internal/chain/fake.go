package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solana-relay/kora/internal/apperr"
)

// Fake is an in-memory Client for tests of packages that depend on
// chain.Client without needing a live node.
type Fake struct {
	Accounts       map[solana.PublicKey]*rpc.Account
	Blockhash      solana.Hash
	BlockHeight    uint64
	SimulateResult *rpc.SimulateTransactionResult
	SimulateErr    error
	SendSignature  solana.Signature
	SendErr        error
	LookupTables   map[solana.PublicKey][]solana.PublicKey
}

func NewFake() *Fake {
	return &Fake{Accounts: map[solana.PublicKey]*rpc.Account{}, LookupTables: map[solana.PublicKey][]solana.PublicKey{}}
}

func (f *Fake) GetAccount(_ context.Context, pubkey solana.PublicKey) (*rpc.Account, error) {
	return f.Accounts[pubkey], nil
}

func (f *Fake) GetAccounts(_ context.Context, pubkeys []solana.PublicKey) ([]*rpc.Account, error) {
	out := make([]*rpc.Account, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = f.Accounts[k]
	}
	return out, nil
}

func (f *Fake) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (solana.Hash, uint64, error) {
	return f.Blockhash, f.BlockHeight, nil
}

func (f *Fake) Simulate(_ context.Context, _ *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	if f.SimulateErr != nil {
		return nil, f.SimulateErr
	}
	return f.SimulateResult, nil
}

func (f *Fake) SendAndConfirm(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
	if f.SendErr != nil {
		return solana.Signature{}, f.SendErr
	}
	return f.SendSignature, nil
}

func (f *Fake) ResolveLookupTables(_ context.Context, tableKeys []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error) {
	out := make(map[solana.PublicKey][]solana.PublicKey, len(tableKeys))
	for _, k := range tableKeys {
		addrs, ok := f.LookupTables[k]
		if !ok {
			return nil, apperr.Invalid("fake chain: lookup table %s not found", k.String())
		}
		out[k] = addrs
	}
	return out, nil
}

var _ Client = (*Fake)(nil)
