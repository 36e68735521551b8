// Package chain is the facade over the Solana JSON-RPC node, grounded
// in the teacher's SOLNodeService (service/solana/solana.go), which
// holds a *rpc.Client (sdkClient) and wraps every call with its own
// per-call context and structured logging via go-ethereum/log. This
// package narrows that facade to exactly what the relayer needs
// (spec.md §4.A): account lookups, blockhash, simulate, send, and
// lookup-table resolution — no retries at this layer, matching
// spec.md's explicit note that retry policy belongs to the oracle and
// RPC layers above it, not the chain client itself.
package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solana-relay/kora/internal/apperr"
)

const defaultCallTimeout = 90 * time.Second

// Client is the narrowed chain-access surface the rest of the relayer
// depends on, so validator/fee-estimator/resolver code can be tested
// against a fake instead of a live node.
type Client interface {
	GetAccount(ctx context.Context, pubkey solana.PublicKey) (*rpc.Account, error)
	GetAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([]*rpc.Account, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error)
	Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ResolveLookupTables(ctx context.Context, tableKeys []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error)
}

// RPCClient adapts *rpc.Client to Client, applying defaultCallTimeout
// to every call that does not already carry a deadline (the teacher's
// own per-call context pattern, e.g. solana.go's GetAccountInfo).
type RPCClient struct {
	sdk     *rpc.Client
	timeout time.Duration
}

func New(endpoint string) *RPCClient {
	return &RPCClient{sdk: rpc.New(endpoint), timeout: defaultCallTimeout}
}

func NewWithTimeout(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{sdk: rpc.New(endpoint), timeout: timeout}
}

func (c *RPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *RPCClient) GetAccount(ctx context.Context, pubkey solana.PublicKey) (*rpc.Account, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.sdk.GetAccountInfo(ctx, pubkey)
	if err != nil {
		log.Error("chain: get account failed", "account", pubkey.String(), "err", err)
		return nil, apperr.RPC("get account %s: %v", pubkey.String(), err)
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}
	return out.Value, nil
}

func (c *RPCClient) GetAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([]*rpc.Account, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.sdk.GetMultipleAccounts(ctx, pubkeys...)
	if err != nil {
		log.Error("chain: get accounts failed", "count", len(pubkeys), "err", err)
		return nil, apperr.RPC("get accounts: %v", err)
	}
	accounts := make([]*rpc.Account, len(pubkeys))
	if out != nil {
		for i, v := range out.Value {
			accounts[i] = v
		}
	}
	return accounts, nil
}

func (c *RPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.sdk.GetLatestBlockhash(ctx, commitment)
	if err != nil {
		log.Error("chain: get latest blockhash failed", "err", err)
		return solana.Hash{}, 0, apperr.RPC("get latest blockhash: %v", err)
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

func (c *RPCClient) Simulate(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.sdk.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  false,
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		log.Error("chain: simulate failed", "err", err)
		return nil, apperr.RPC("simulate transaction: %v", err)
	}
	if out.Value.Err != nil {
		return out.Value, apperr.Invalid("simulation failed: %v", out.Value.Err)
	}
	return out.Value, nil
}

func (c *RPCClient) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sig, err := c.sdk.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		log.Error("chain: send transaction failed", "err", err)
		return solana.Signature{}, apperr.RPC("send transaction: %v", err)
	}
	return sig, nil
}

// ResolveLookupTables reads each address-lookup-table account and
// returns its ordered address list, the data the Request-scoped
// Resolver needs to dereference a v0 message's compiled account
// indexes (GLOSSARY: "Lookup table").
func (c *RPCClient) ResolveLookupTables(ctx context.Context, tableKeys []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error) {
	accounts, err := c.GetAccounts(ctx, tableKeys)
	if err != nil {
		return nil, err
	}
	out := make(map[solana.PublicKey][]solana.PublicKey, len(tableKeys))
	for i, acc := range accounts {
		if acc == nil {
			return nil, apperr.Invalid("lookup table %s not found", tableKeys[i].String())
		}
		addrs, err := decodeLookupTableAddresses(acc.Data.GetBinary())
		if err != nil {
			return nil, apperr.Invalid("lookup table %s: %v", tableKeys[i].String(), err)
		}
		out[tableKeys[i]] = addrs
	}
	return out, nil
}

// lookupTableHeaderLen is the fixed-size header preceding the address
// list in an address-lookup-table account (discriminator, deactivation
// slot, last-extended slot + start index, authority option, padding).
const lookupTableHeaderLen = 56

func decodeLookupTableAddresses(data []byte) ([]solana.PublicKey, error) {
	if len(data) < lookupTableHeaderLen {
		return nil, apperr.Invalid("lookup table account too short: %d bytes", len(data))
	}
	body := data[lookupTableHeaderLen:]
	if len(body)%32 != 0 {
		return nil, apperr.Invalid("lookup table address section not a multiple of 32 bytes")
	}
	n := len(body) / 32
	addrs := make([]solana.PublicKey, n)
	for i := 0; i < n; i++ {
		copy(addrs[i][:], body[i*32:(i+1)*32])
	}
	return addrs, nil
}
