// Package feeest estimates the total lamport cost of landing a
// transaction (spec.md §4.E): the base signature fee, any
// compute-budget priority fee, new-ATA rent, and the relayer's own
// surcharge. Grounded in original_source's fee estimation constants
// and in the teacher's own lamport/compute-unit arithmetic style in
// service/solana/solana.go (math.Pow10-based scaling for on-chain
// amounts).
package feeest

import (
	"encoding/binary"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-relay/kora/internal/resolver"
)

const (
	// LamportsPerSignature is the base fee Solana charges per
	// transaction signature.
	LamportsPerSignature uint64 = 5000

	// AssociatedTokenAccountRentLamports is the rent-exempt minimum
	// for a new SPL token account (165-byte account at the standard
	// rent rate).
	AssociatedTokenAccountRentLamports uint64 = 2_039_280

	computeBudgetSetComputeUnitLimit = 2
	computeBudgetSetComputeUnitPrice = 3
)

var computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Estimate is the itemized fee breakdown of spec.md §4.E; the
// estimateTransactionFee response carries only TotalLamports.
type Estimate struct {
	BaseFeeLamports       uint64
	PriorityFeeLamports   uint64
	ATARentLamports       uint64
	SurchargeLamports     uint64
	TotalLamports         uint64
}

// Options parameterizes the parts of the estimate that depend on
// context the resolved transaction alone doesn't carry.
type Options struct {
	NewATACount    int
	SurchargeBasis uint32 // basis points, e.g. 50 = 0.5%
}

// Compute computes the itemized fee for tx.
func Compute(tx *resolver.ResolvedTransaction, opts Options) Estimate {
	base := uint64(tx.SignatureCount) * LamportsPerSignature
	unitLimit, unitPrice := computeBudgetParams(tx)
	priority := priorityFeeLamports(unitLimit, unitPrice)
	rent := uint64(opts.NewATACount) * AssociatedTokenAccountRentLamports

	subtotal := base + priority + rent
	surcharge := subtotal * uint64(opts.SurchargeBasis) / 10_000

	return Estimate{
		BaseFeeLamports:     base,
		PriorityFeeLamports: priority,
		ATARentLamports:     rent,
		SurchargeLamports:   surcharge,
		TotalLamports:       subtotal + surcharge,
	}
}

// priorityFeeLamports converts a compute-unit-price (micro-lamports
// per CU) and a compute-unit limit into a lamport fee, rounding up
// per spec.md's "ceil(limit * price / 1_000_000)".
func priorityFeeLamports(unitLimit uint32, unitPriceMicroLamports uint64) uint64 {
	if unitLimit == 0 || unitPriceMicroLamports == 0 {
		return 0
	}
	num := uint64(unitLimit) * unitPriceMicroLamports
	return uint64(math.Ceil(float64(num) / 1_000_000))
}

// computeBudgetParams scans tx's instructions for ComputeBudget
// program calls, returning the last-seen SetComputeUnitLimit and
// SetComputeUnitPrice values (Solana applies only the final
// occurrence of each if a transaction carries more than one).
func computeBudgetParams(tx *resolver.ResolvedTransaction) (unitLimit uint32, unitPriceMicroLamports uint64) {
	for _, ix := range tx.Instructions {
		if !ix.ProgramID.Equals(computeBudgetProgramID) {
			continue
		}
		if len(ix.Data) == 0 {
			continue
		}
		switch ix.Data[0] {
		case computeBudgetSetComputeUnitLimit:
			if len(ix.Data) >= 5 {
				unitLimit = binary.LittleEndian.Uint32(ix.Data[1:5])
			}
		case computeBudgetSetComputeUnitPrice:
			if len(ix.Data) >= 9 {
				unitPriceMicroLamports = binary.LittleEndian.Uint64(ix.Data[1:9])
			}
		}
	}
	return unitLimit, unitPriceMicroLamports
}
