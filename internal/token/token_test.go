package token

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func buildAccountBytes(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, accountLen)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func TestUnpackAccount(t *testing.T) {
	mint := solana.NewWallet().PrivateKey.PublicKey()
	owner := solana.NewWallet().PrivateKey.PublicKey()
	data := buildAccountBytes(mint, owner, 1_500_000)

	acc, err := Classic{}.UnpackAccount(data)
	require.NoError(t, err)
	require.True(t, acc.Mint.Equals(mint))
	require.True(t, acc.Owner.Equals(owner))
	require.EqualValues(t, 1_500_000, acc.Amount)
}

func TestUnpackAccountTooShort(t *testing.T) {
	_, err := Classic{}.UnpackAccount(make([]byte, 10))
	require.Error(t, err)
}

func TestUnpackMint(t *testing.T) {
	data := make([]byte, mintLen)
	data[0] = 1 // mint authority present
	authority := solana.NewWallet().PrivateKey.PublicKey()
	copy(data[4:36], authority[:])
	binary.LittleEndian.PutUint64(data[36:44], 1_000_000_000)
	data[44] = 6 // decimals

	m, err := Classic{}.UnpackMint(data)
	require.NoError(t, err)
	require.EqualValues(t, 6, m.Decimals)
	require.EqualValues(t, 1_000_000_000, m.Supply)
	require.NotNil(t, m.MintAuthority)
	require.True(t, m.MintAuthority.Equals(authority))
	require.Nil(t, m.FreezeAuthority)
}

func TestDecodeTransferInstruction(t *testing.T) {
	source := solana.NewWallet().PrivateKey.PublicKey()
	dest := solana.NewWallet().PrivateKey.PublicKey()
	authority := solana.NewWallet().PrivateKey.PublicKey()

	data := make([]byte, 9)
	data[0] = instructionTransfer
	binary.LittleEndian.PutUint64(data[1:9], 42)

	ti, matched, err := Classic{}.DecodeTransferInstruction([]solana.PublicKey{source, dest, authority}, data)
	require.NoError(t, err)
	require.True(t, matched)
	require.EqualValues(t, 42, ti.Amount)
	require.True(t, ti.Source.Equals(source))
	require.True(t, ti.Destination.Equals(dest))
	require.True(t, ti.Authority.Equals(authority))
	require.Nil(t, ti.Mint)
}

func TestDecodeTransferCheckedInstruction(t *testing.T) {
	source := solana.NewWallet().PrivateKey.PublicKey()
	mint := solana.NewWallet().PrivateKey.PublicKey()
	dest := solana.NewWallet().PrivateKey.PublicKey()
	authority := solana.NewWallet().PrivateKey.PublicKey()

	data := make([]byte, 10)
	data[0] = instructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], 7)
	data[9] = 6 // decimals

	ti, matched, err := V2022{}.DecodeTransferInstruction([]solana.PublicKey{source, mint, dest, authority}, data)
	require.NoError(t, err)
	require.True(t, matched)
	require.NotNil(t, ti.Mint)
	require.True(t, ti.Mint.Equals(mint))
	require.True(t, ti.Destination.Equals(dest))
}

func TestDecodeTransferInstructionIgnoresOtherTags(t *testing.T) {
	_, matched, err := Classic{}.DecodeTransferInstruction(nil, []byte{9})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestForProgramID(t *testing.T) {
	p, err := ForProgramID(solana.TokenProgramID)
	require.NoError(t, err)
	require.IsType(t, Classic{}, p)

	p, err = ForProgramID(token2022ProgramID)
	require.NoError(t, err)
	require.IsType(t, V2022{}, p)

	_, err = ForProgramID(solana.SystemProgramID)
	require.Error(t, err)
}

func TestExtensionProbe(t *testing.T) {
	require.False(t, ExtensionProbe(make([]byte, accountLen)))
	require.True(t, ExtensionProbe(make([]byte, accountLen+32)))
}
