// Package resolver builds the fully-dereferenced account and
// instruction view the rest of the relayer operates on (spec.md §3's
// "Resolved Transaction" and §4.J's Request-scoped Resolver),
// dereferencing address-lookup-table entries through the chain
// client. Grounded in original_source/crates/lib/src/transaction.rs's
// uncompile_instructions, reimplemented against this module's own
// internal/txcodec decode and internal/chain facade rather than
// translated line-for-line.
package resolver

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/chain"
	"github.com/solana-relay/kora/internal/txcodec"
)

// ResolvedAccount is one account position in the final, flattened
// account list (static keys followed by lookup-table-loaded keys),
// carrying the signer/writable flags spec.md §3 requires per
// position.
type ResolvedAccount struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// ResolvedInstruction has its program ID and account list dereferenced
// from indexes into real pubkeys.
type ResolvedInstruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// ResolvedTransaction is the dereferenced view handed to the
// validator, fee estimator, and payment checker.
type ResolvedTransaction struct {
	FeePayer      solana.PublicKey
	Accounts      []ResolvedAccount
	Instructions  []ResolvedInstruction
	SignatureCount int
	IsVersioned   bool
}

// Resolve dereferences tx's accounts (including any v0 address-lookup
// table entries, fetched via chainClient) and returns the flattened,
// flag-annotated view.
func Resolve(ctx context.Context, tx *txcodec.Transaction, chainClient chain.Client) (*ResolvedTransaction, error) {
	msg := tx.Message
	if len(msg.AccountKeys) == 0 {
		return nil, apperr.Invalid("transaction message has no account keys")
	}

	accounts := staticAccounts(msg)

	if msg.IsVersioned() && len(msg.AddressTableLookups) > 0 {
		tableKeys := make([]solana.PublicKey, len(msg.AddressTableLookups))
		for i, lk := range msg.AddressTableLookups {
			tableKeys[i] = lk.AccountKey
		}
		resolved, err := chainClient.ResolveLookupTables(ctx, tableKeys)
		if err != nil {
			return nil, err
		}

		var writableLoaded, readonlyLoaded []ResolvedAccount
		for _, lk := range msg.AddressTableLookups {
			tableAddrs, ok := resolved[lk.AccountKey]
			if !ok {
				return nil, apperr.Invalid("lookup table %s missing from resolution", lk.AccountKey.String())
			}
			for _, idx := range lk.WritableIndexes {
				if int(idx) >= len(tableAddrs) {
					return nil, apperr.Invalid("lookup table %s: writable index %d out of range", lk.AccountKey.String(), idx)
				}
				writableLoaded = append(writableLoaded, ResolvedAccount{Pubkey: tableAddrs[idx], IsSigner: false, IsWritable: true})
			}
			for _, idx := range lk.ReadonlyIndexes {
				if int(idx) >= len(tableAddrs) {
					return nil, apperr.Invalid("lookup table %s: readonly index %d out of range", lk.AccountKey.String(), idx)
				}
				readonlyLoaded = append(readonlyLoaded, ResolvedAccount{Pubkey: tableAddrs[idx], IsSigner: false, IsWritable: false})
			}
		}
		accounts = append(accounts, writableLoaded...)
		accounts = append(accounts, readonlyLoaded...)
	}

	flatKeys := make([]solana.PublicKey, len(accounts))
	for i, a := range accounts {
		flatKeys[i] = a.Pubkey
	}

	instructions := make([]ResolvedInstruction, 0, len(msg.Instructions))
	for i, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(flatKeys) {
			return nil, apperr.Invalid("instruction %d: program id index %d out of range", i, ix.ProgramIDIndex)
		}
		accs := make([]solana.PublicKey, len(ix.AccountIndexes))
		for j, idx := range ix.AccountIndexes {
			if int(idx) >= len(flatKeys) {
				return nil, apperr.Invalid("instruction %d: account index %d out of range", i, idx)
			}
			accs[j] = flatKeys[idx]
		}
		instructions = append(instructions, ResolvedInstruction{
			ProgramID: flatKeys[ix.ProgramIDIndex],
			Accounts:  accs,
			Data:      ix.Data,
		})
	}

	return &ResolvedTransaction{
		FeePayer:       flatKeys[0],
		Accounts:       accounts,
		Instructions:   instructions,
		SignatureCount: len(tx.Signatures),
		IsVersioned:    msg.IsVersioned(),
	}, nil
}

// staticAccounts classifies the message's own account_keys by
// signer/writable using the three header counts (spec.md §3): the
// first NumRequiredSignatures keys are signers, the last
// NumReadonlySignedAccounts of those are read-only; of the remaining
// unsigned keys, the last NumReadonlyUnsignedAccounts are read-only.
func staticAccounts(msg txcodec.Message) []ResolvedAccount {
	n := len(msg.AccountKeys)
	numSigned := int(msg.Header.NumRequiredSignatures)
	numReadonlySigned := int(msg.Header.NumReadonlySignedAccounts)
	numReadonlyUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)

	out := make([]ResolvedAccount, n)
	for i, key := range msg.AccountKeys {
		isSigner := i < numSigned
		var isWritable bool
		if isSigner {
			isWritable = i < numSigned-numReadonlySigned
		} else {
			isWritable = i < n-numReadonlyUnsigned
		}
		out[i] = ResolvedAccount{Pubkey: key, IsSigner: isSigner, IsWritable: isWritable}
	}
	return out
}
