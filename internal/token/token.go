// Package token adapts the two SPL token program families (the
// original "Tokenkeg" program and Token-2022) behind a single
// interface, grounded in the teacher's own token-transfer
// construction in service/solana/solana.go (NewTransferInstruction,
// FindAssociatedTokenAddress, associatedtokenaccount.NewCreateInstruction)
// and in original_source/crates/lib/src/token/program.rs's TokenBase
// trait, which this package's Program interface mirrors.
package token

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	splToken "github.com/gagliardetto/solana-go/programs/token"

	"github.com/solana-relay/kora/internal/apperr"
)

// token2022ProgramID is not exported by gagliardetto/solana-go, so it
// is declared here from its well-known mainnet address.
var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpAXo")

// Account is the decoded subset of an SPL token account relevant to
// validation and payment checking (original_source's Account struct).
type Account struct {
	Mint     solana.PublicKey
	Owner    solana.PublicKey
	Amount   uint64
	IsNative bool
}

// Mint is the decoded subset of an SPL mint account.
type Mint struct {
	Decimals        uint8
	Supply          uint64
	MintAuthority   *solana.PublicKey
	FreezeAuthority *solana.PublicKey
}

// TransferInstruction is a decoded, program-agnostic view of a
// transfer or transferChecked instruction, the shape the Payment
// Checker and Validator consume (spec.md §4.F, §4.G).
type TransferInstruction struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Mint        *solana.PublicKey // only set for transferChecked
	Amount      uint64
}

// Program is the per-family adapter. Classic and V2022 both implement
// it; callers select the right one by inspecting the owning program
// of a mint or token account (spec.md §4.B: "classic SPL Token and
// Token-2022, selected by owning program").
type Program interface {
	ProgramID() solana.PublicKey

	UnpackAccount(data []byte) (Account, error)
	UnpackMint(data []byte) (Mint, error)

	DeriveAssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error)

	MakeTransfer(source, destination, authority solana.PublicKey, amount uint64) solana.Instruction
	MakeTransferChecked(source, destination, mint, authority solana.PublicKey, amount uint64, decimals uint8) solana.Instruction
	MakeAssociatedAccount(payer, owner, mint solana.PublicKey) solana.Instruction

	// DecodeTransferInstruction recognizes transfer/transferChecked by
	// instruction discriminator and decodes its accounts/amount.
	DecodeTransferInstruction(accounts []solana.PublicKey, data []byte) (*TransferInstruction, bool, error)
}

// Classic adapts the original SPL Token program (Tokenkeg...).
type Classic struct{}

func (Classic) ProgramID() solana.PublicKey { return solana.TokenProgramID }

func (Classic) UnpackAccount(data []byte) (Account, error) { return unpackAccount(data) }
func (Classic) UnpackMint(data []byte) (Mint, error)       { return unpackMint(data) }

func (Classic) DeriveAssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return addr, err
}

func (Classic) MakeTransfer(source, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	return splToken.NewTransferInstruction(amount, source, destination, authority, nil).Build()
}

func (Classic) MakeTransferChecked(source, destination, mint, authority solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	return splToken.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, authority, nil).Build()
}

func (Classic) MakeAssociatedAccount(payer, owner, mint solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build()
}

func (c Classic) DecodeTransferInstruction(accounts []solana.PublicKey, data []byte) (*TransferInstruction, bool, error) {
	return decodeTransfer(accounts, data)
}

// V2022 adapts the Token-2022 program. Extensions (transfer fees,
// interest-bearing mints, etc.) are explicitly out of scope
// (SPEC_FULL.md §9 Open Questions); this adapter handles the
// extension-free subset shared with Classic, probing for the presence
// of TLV extension data so callers can reject what they cannot
// reason about instead of silently mis-parsing it.
type V2022 struct{}

func (V2022) ProgramID() solana.PublicKey { return token2022ProgramID }

func (V2022) UnpackAccount(data []byte) (Account, error) { return unpackAccount(data) }
func (V2022) UnpackMint(data []byte) (Mint, error)       { return unpackMint(data) }

func (V2022) DeriveAssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	seeds := [][]byte{owner[:], token2022ProgramID[:], mint[:]}
	addr, _, err := solana.FindProgramAddress(seeds, solana.SPLAssociatedTokenAccountProgramID)
	return addr, err
}

func (V2022) MakeTransfer(source, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	return splToken.NewTransferInstruction(amount, source, destination, authority, nil).
		Build()
}

func (V2022) MakeTransferChecked(source, destination, mint, authority solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	return splToken.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, authority, nil).Build()
}

func (V2022) MakeAssociatedAccount(payer, owner, mint solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build()
}

func (v V2022) DecodeTransferInstruction(accounts []solana.PublicKey, data []byte) (*TransferInstruction, bool, error) {
	return decodeTransfer(accounts, data)
}

// ExtensionProbe reports whether a Token-2022 mint or account carries
// TLV extension data beyond the classic 82/165-byte base layout
// (original_source treats any Token-2022 account as "extended" once
// its length exceeds the base account size).
func ExtensionProbe(data []byte) bool {
	return len(data) > accountLen
}

const (
	accountLen = 165
	mintLen    = 82

	instructionTransfer        = 3
	instructionTransferChecked = 12
)

func unpackAccount(data []byte) (Account, error) {
	if len(data) < accountLen {
		return Account{}, apperr.Invalid("token account data too short: got %d bytes, want at least %d", len(data), accountLen)
	}
	var mint, owner solana.PublicKey
	copy(mint[:], data[0:32])
	copy(owner[:], data[32:64])
	amount := binary.LittleEndian.Uint64(data[64:72])
	isNative := data[109] != 0 // COption<u64> native rent-exempt reserve discriminant
	return Account{Mint: mint, Owner: owner, Amount: amount, IsNative: isNative}, nil
}

func unpackMint(data []byte) (Mint, error) {
	if len(data) < mintLen {
		return Mint{}, apperr.Invalid("token mint data too short: got %d bytes, want at least %d", len(data), mintLen)
	}
	m := Mint{Decimals: data[44]}
	m.Supply = binary.LittleEndian.Uint64(data[36:44])
	if data[0] != 0 {
		var authority solana.PublicKey
		copy(authority[:], data[4:36])
		m.MintAuthority = &authority
	}
	if data[46] != 0 {
		var freeze solana.PublicKey
		copy(freeze[:], data[50:82])
		m.FreezeAuthority = &freeze
	}
	return m, nil
}

// decodeTransfer recognizes a transfer (tag 3, accounts
// [source, destination, authority]) or transferChecked (tag 12,
// accounts [source, mint, destination, authority]) instruction and
// decodes its amount, matching original_source's TokenInstruction
// unpack for these two variants only — every other SPL instruction
// is left to the caller to ignore.
func decodeTransfer(accounts []solana.PublicKey, data []byte) (*TransferInstruction, bool, error) {
	if len(data) == 0 {
		return nil, false, nil
	}
	switch data[0] {
	case instructionTransfer:
		if len(data) < 9 {
			return nil, false, apperr.Invalid("transfer instruction data too short")
		}
		if len(accounts) < 3 {
			return nil, false, apperr.Invalid("transfer instruction: expected at least 3 accounts, got %d", len(accounts))
		}
		amount := binary.LittleEndian.Uint64(data[1:9])
		return &TransferInstruction{
			Source:      accounts[0],
			Destination: accounts[1],
			Authority:   accounts[2],
			Amount:      amount,
		}, true, nil
	case instructionTransferChecked:
		if len(data) < 10 {
			return nil, false, apperr.Invalid("transferChecked instruction data too short")
		}
		if len(accounts) < 4 {
			return nil, false, apperr.Invalid("transferChecked instruction: expected at least 4 accounts, got %d", len(accounts))
		}
		amount := binary.LittleEndian.Uint64(data[1:9])
		mint := accounts[1]
		return &TransferInstruction{
			Source:      accounts[0],
			Destination: accounts[2],
			Authority:   accounts[3],
			Mint:        &mint,
			Amount:      amount,
		}, true, nil
	default:
		return nil, false, nil
	}
}

// ForProgramID returns the Classic or V2022 adapter matching id, or
// an error if id names neither known token program (spec.md §4.F:
// unknown program IDs are rejected by the allow-list check upstream,
// but this keeps the adapter lookup itself total).
func ForProgramID(id solana.PublicKey) (Program, error) {
	switch {
	case id.Equals(solana.TokenProgramID):
		return Classic{}, nil
	case id.Equals(token2022ProgramID):
		return V2022{}, nil
	default:
		return nil, apperr.Invalid("unrecognized token program id %s", id.String())
	}
}
