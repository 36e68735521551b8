// Package validator runs the ordered policy checks every transaction
// must pass before the relayer will estimate fees or co-sign it
// (spec.md §4.F). Grounded in
// original_source/crates/lib/src/validator/account_validator.rs's
// AccountType classification and in the teacher's own instruction
// dispatch-by-discriminator style (service/solana/solana.go's
// `data[0]` switches for SPL instructions), reimplemented against
// this module's resolver.ResolvedTransaction rather than translated.
package validator

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/gagliardetto/solana-go"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/config"
	"github.com/solana-relay/kora/internal/resolver"
	"github.com/solana-relay/kora/internal/token"
)

var (
	systemProgramID = solana.SystemProgramID

	systemInstructionTransfer             byte = 2
	systemInstructionAdvanceNonceAccount  byte = 4
)

// Policy bundles the config state a single validation run needs,
// separated from config.Config so tests can build it directly.
type Policy struct {
	MaxSignatures        int
	AllowedPrograms       map[solana.PublicKey]bool
	AllowedInstructions   map[solana.PublicKey]map[string]bool // program -> allowed first-byte discriminators (hex), or "*" for any
	AllowedTokenMints      map[solana.PublicKey]bool
	DisallowedAccounts    map[solana.PublicKey]bool
	MaxAllowedLamports    uint64
	FeePayer              solana.PublicKey
	FeePayerPolicy        config.FeePayerPolicy
}

// PolicyFromConfig builds a Policy from the loaded Config, resolving
// base58 strings to solana.PublicKey once per validation setup rather
// than per check.
func PolicyFromConfig(cfg *config.Config, feePayer solana.PublicKey) (Policy, error) {
	p := Policy{
		MaxSignatures:      cfg.Validation.MaxSignatures,
		MaxAllowedLamports: cfg.Validation.MaxAllowedLamports,
		FeePayer:           feePayer,
		FeePayerPolicy:     cfg.Validation.FeePayerPolicy,
		AllowedPrograms:     map[solana.PublicKey]bool{},
		AllowedTokenMints:   map[solana.PublicKey]bool{},
		DisallowedAccounts: map[solana.PublicKey]bool{},
		AllowedInstructions: map[solana.PublicKey]map[string]bool{},
	}
	for _, s := range cfg.Validation.AllowedPrograms {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return Policy{}, apperr.Internal("invalid allowed program %q: %v", s, err)
		}
		p.AllowedPrograms[key] = true
	}
	for _, s := range cfg.Validation.AllowedTokens {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return Policy{}, apperr.Internal("invalid allowed token %q: %v", s, err)
		}
		p.AllowedTokenMints[key] = true
	}
	for _, s := range cfg.Validation.AllowedSplPaidTokens {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return Policy{}, apperr.Internal("invalid allowed paid token %q: %v", s, err)
		}
		p.AllowedTokenMints[key] = true
	}
	for _, s := range cfg.Validation.DisallowedAccounts {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return Policy{}, apperr.Internal("invalid disallowed account %q: %v", s, err)
		}
		p.DisallowedAccounts[key] = true
	}
	for program, discriminators := range cfg.Validation.AllowedInstructions {
		key, err := solana.PublicKeyFromBase58(program)
		if err != nil {
			return Policy{}, apperr.Internal("invalid allowed-instruction program %q: %v", program, err)
		}
		set := map[string]bool{}
		for _, d := range discriminators {
			set[d] = true
		}
		p.AllowedInstructions[key] = set
	}
	return p, nil
}

// Validate runs every check in the fixed order spec.md §4.F lists,
// returning the first failure (fail-fast; later checks never mask an
// earlier violation).
func Validate(tx *resolver.ResolvedTransaction, policy Policy) error {
	checks := []func(*resolver.ResolvedTransaction, Policy) error{
		checkSignatureCount,
		checkNoDurableNonce,
		checkProgramAllowList,
		checkInstructionAllowList,
		checkAccountAllowList,
		checkTokenMintAllowList,
		checkLamportCap,
		checkFeePayerProtection,
	}
	for _, check := range checks {
		if err := check(tx, policy); err != nil {
			return err
		}
	}
	return nil
}

func checkSignatureCount(tx *resolver.ResolvedTransaction, policy Policy) error {
	if policy.MaxSignatures > 0 && tx.SignatureCount > policy.MaxSignatures {
		return apperr.Validation("transaction requires %d signatures, exceeding the %d maximum", tx.SignatureCount, policy.MaxSignatures)
	}
	return nil
}

// checkNoDurableNonce rejects any transaction containing a System
// Program AdvanceNonceAccount instruction: the relayer estimates fees
// against the blockhash it reads at validation time, and a durable
// nonce transaction can be replayed or held indefinitely, breaking
// that assumption (spec.md §4.F: "durable nonce transactions are
// always rejected").
func checkNoDurableNonce(tx *resolver.ResolvedTransaction, _ Policy) error {
	for _, ix := range tx.Instructions {
		if ix.ProgramID.Equals(systemProgramID) && len(ix.Data) >= 4 {
			tag := binary.LittleEndian.Uint32(ix.Data[0:4])
			if tag == uint32(systemInstructionAdvanceNonceAccount) {
				return apperr.Validation("durable nonce transactions are not accepted")
			}
		}
	}
	return nil
}

func checkProgramAllowList(tx *resolver.ResolvedTransaction, policy Policy) error {
	if len(policy.AllowedPrograms) == 0 {
		return nil
	}
	for _, ix := range tx.Instructions {
		if !policy.AllowedPrograms[ix.ProgramID] {
			return apperr.Validation("program %s is not on the allow list", ix.ProgramID.String())
		}
	}
	return nil
}

func checkInstructionAllowList(tx *resolver.ResolvedTransaction, policy Policy) error {
	for _, ix := range tx.Instructions {
		allowed, ok := policy.AllowedInstructions[ix.ProgramID]
		if !ok || len(ix.Data) == 0 || allowed["*"] {
			continue
		}
		disc := hex.EncodeToString(ix.Data[:1])
		if !allowed[disc] {
			return apperr.Validation("instruction discriminator %s for program %s is not on the allow list", disc, ix.ProgramID.String())
		}
	}
	return nil
}

func checkAccountAllowList(tx *resolver.ResolvedTransaction, policy Policy) error {
	for _, acc := range tx.Accounts {
		if policy.DisallowedAccounts[acc.Pubkey] {
			return apperr.Validation("account %s is disallowed", acc.Pubkey.String())
		}
	}
	return nil
}

func checkTokenMintAllowList(tx *resolver.ResolvedTransaction, policy Policy) error {
	if len(policy.AllowedTokenMints) == 0 {
		return nil
	}
	for _, ix := range tx.Instructions {
		prog, err := token.ForProgramID(ix.ProgramID)
		if err != nil {
			continue // not a token program instruction
		}
		transfer, matched, err := prog.DecodeTransferInstruction(ix.Accounts, ix.Data)
		if err != nil || !matched || transfer.Mint == nil {
			continue
		}
		if !policy.AllowedTokenMints[*transfer.Mint] {
			return apperr.Validation("token mint %s is not on the allow list", transfer.Mint.String())
		}
	}
	return nil
}

func checkLamportCap(tx *resolver.ResolvedTransaction, policy Policy) error {
	if policy.MaxAllowedLamports == 0 {
		return nil
	}
	var total uint64
	for _, ix := range tx.Instructions {
		if !ix.ProgramID.Equals(systemProgramID) || len(ix.Data) < 12 {
			continue
		}
		tag := binary.LittleEndian.Uint32(ix.Data[0:4])
		if tag != uint32(systemInstructionTransfer) {
			continue
		}
		total += binary.LittleEndian.Uint64(ix.Data[4:12])
	}
	if total > policy.MaxAllowedLamports {
		return apperr.Validation("transaction moves %d lamports, exceeding the %d maximum", total, policy.MaxAllowedLamports)
	}
	return nil
}

// checkFeePayerProtection enforces the four default-deny flags
// (spec.md §9's resolved open question): the fee payer may not be
// used as a token transfer source/destination, may not be the target
// of a close-account instruction, and may not be the authority on a
// burn instruction, unless the corresponding flag is explicitly
// enabled.
func checkFeePayerProtection(tx *resolver.ResolvedTransaction, policy Policy) error {
	for _, ix := range tx.Instructions {
		prog, err := token.ForProgramID(ix.ProgramID)
		if err != nil {
			continue
		}
		transfer, matched, err := prog.DecodeTransferInstruction(ix.Accounts, ix.Data)
		if err == nil && matched {
			if !policy.FeePayerPolicy.AllowFeePayerAsSource && transfer.Source.Equals(policy.FeePayer) {
				return apperr.Validation("fee payer may not be used as a transfer source")
			}
			if !policy.FeePayerPolicy.AllowFeePayerAsDestination && transfer.Destination.Equals(policy.FeePayer) {
				return apperr.Validation("fee payer may not be used as a transfer destination")
			}
		}
		if len(ix.Data) == 0 {
			continue
		}
		switch ix.Data[0] {
		case tokenInstructionCloseAccount:
			if !policy.FeePayerPolicy.AllowCloseToFeePayer && len(ix.Accounts) >= 2 && ix.Accounts[1].Equals(policy.FeePayer) {
				return apperr.Validation("fee payer may not be the destination of a close-account instruction")
			}
		case tokenInstructionBurn, tokenInstructionBurnChecked:
			if !policy.FeePayerPolicy.AllowBurnByFeePayer && len(ix.Accounts) >= 3 && ix.Accounts[2].Equals(policy.FeePayer) {
				return apperr.Validation("fee payer may not be the authority on a burn instruction")
			}
		}
	}
	return nil
}

const (
	tokenInstructionCloseAccount  = 9
	tokenInstructionBurn          = 8
	tokenInstructionBurnChecked   = 15
)
