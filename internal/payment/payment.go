// Package payment computes the required token payment for a
// gasless-relayed transaction and checks whether the transaction
// itself already carries a matching payment to the configured
// destination (spec.md §4.G). Grounded in original_source's payment
// margin arithmetic and the teacher's token-transfer decoding style
// in service/solana/solana.go.
package payment

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/chain"
	"github.com/solana-relay/kora/internal/oracle"
	"github.com/solana-relay/kora/internal/resolver"
	"github.com/solana-relay/kora/internal/token"
)

// InsufficientPaymentError reports the shortfall so the caller can
// surface {required, found} verbatim in the JSON-RPC error response
// (spec.md §7's PaymentError detail is exempted from sanitization).
type InsufficientPaymentError struct {
	Required uint64
	Found    uint64
	Mint     solana.PublicKey
}

func (e *InsufficientPaymentError) Error() string {
	return apperr.Payment(e.Required, e.Found, e.Mint.String()).Error()
}

// Unwrap exposes the shortfall as an apperr PaymentError, so KindOf,
// JSONRPCCode and Sanitize treat it as one.
func (e *InsufficientPaymentError) Unwrap() error {
	return apperr.Payment(e.Required, e.Found, e.Mint.String())
}

// RequiredLamports computes the payment amount the requester owes:
// the estimated fee plus the configured margin (spec.md §4.G:
// "estimated_fee * (1 + margin)").
func RequiredLamports(estimatedFeeLamports uint64, marginBasisPoints uint64) uint64 {
	base := decimal.NewFromInt(int64(estimatedFeeLamports))
	margin := decimal.NewFromInt(int64(marginBasisPoints)).Div(decimal.NewFromInt(10_000))
	total := base.Mul(decimal.NewFromInt(1).Add(margin))
	return total.Ceil().BigInt().Uint64()
}

// RequiredTokenAmount converts a lamport requirement into an
// equivalent amount of paymentMint from prices of SOL and of the
// payment token quoted in one common currency (named USD in the
// parameters), scaled to the mint's decimals.
func RequiredTokenAmount(requiredLamports uint64, solPriceUSD, tokenPriceUSD decimal.Decimal, tokenDecimals uint8) (uint64, error) {
	if tokenPriceUSD.IsZero() {
		return 0, apperr.Internal("payment: token price is zero, cannot convert")
	}
	lamportsPerSOL := decimal.NewFromInt(1_000_000_000)
	solAmount := decimal.NewFromInt(int64(requiredLamports)).Div(lamportsPerSOL)
	usdValue := solAmount.Mul(solPriceUSD)
	tokenAmount := usdValue.Div(tokenPriceUSD)
	scale := decimal.NewFromInt(10).Pow(decimal.NewFromInt(int64(tokenDecimals)))
	return tokenAmount.Mul(scale).Ceil().BigInt().Uint64(), nil
}

// resolveTokenAccount looks up an SPL token account's owning wallet and
// mint (spec.md:126: "A payment is matching when its
// destination-account owner equals the payment address" — the
// instruction's destination field names a token account, a PDA
// distinct from the wallet that owns it, so the owner can only be
// learned by reading the account back from the chain).
func resolveTokenAccount(ctx context.Context, chainClient chain.Client, tokenAccount solana.PublicKey) (token.Account, error) {
	acct, err := chainClient.GetAccount(ctx, tokenAccount)
	if err != nil {
		return token.Account{}, err
	}
	if acct == nil {
		return token.Account{}, apperr.Invalid("payment: destination token account %s not found", tokenAccount)
	}
	prog, err := token.ForProgramID(acct.Owner)
	if err != nil {
		return token.Account{}, err
	}
	return prog.UnpackAccount(acct.Data.GetBinary())
}

// FindPayment scans tx's instructions for token transfers whose
// destination token account is owned by destinationOwner and sums
// their amounts for mint (multiple matching transfers in one
// transaction all count, per spec.md §4.G).
func FindPayment(ctx context.Context, chainClient chain.Client, tx *resolver.ResolvedTransaction, destinationOwner, mint solana.PublicKey) (uint64, error) {
	var total uint64
	for _, ix := range tx.Instructions {
		prog, err := token.ForProgramID(ix.ProgramID)
		if err != nil {
			continue
		}
		transfer, matched, err := prog.DecodeTransferInstruction(ix.Accounts, ix.Data)
		if err != nil {
			return 0, err
		}
		if !matched {
			continue
		}
		if transfer.Mint != nil && !transfer.Mint.Equals(mint) {
			continue
		}
		dest, err := resolveTokenAccount(ctx, chainClient, transfer.Destination)
		if err != nil {
			continue
		}
		if !dest.Owner.Equals(destinationOwner) || !dest.Mint.Equals(mint) {
			continue
		}
		total += transfer.Amount
	}
	return total, nil
}

// Check verifies tx pays at least requiredAmount of mint to a token
// account owned by destinationOwner, returning
// *InsufficientPaymentError (unwrap-matchable) if it falls short.
func Check(ctx context.Context, chainClient chain.Client, tx *resolver.ResolvedTransaction, destinationOwner, mint solana.PublicKey, requiredAmount uint64) error {
	found, err := FindPayment(ctx, chainClient, tx, destinationOwner, mint)
	if err != nil {
		return err
	}
	if found < requiredAmount {
		return &InsufficientPaymentError{Required: requiredAmount, Found: found, Mint: mint}
	}
	return nil
}

// EstimateTokenPrice is a narrow seam onto the price oracle so this
// package's signature doesn't leak oracle.ConsensusOracle's full
// multi-source API to callers that only need one price.
type EstimateTokenPrice func(mint string) (oracle.PricePoint, error)
