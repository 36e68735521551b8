package txcodec

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func sampleLegacyTransaction() *Transaction {
	payer := solana.NewWallet().PrivateKey.PublicKey()
	dest := solana.NewWallet().PrivateKey.PublicKey()
	programID := solana.SystemProgramID

	var blockhash solana.Hash
	copy(blockhash[:], []byte("11111111111111111111111111111111"))

	var sig solana.Signature
	copy(sig[:], []byte("sig-bytes-padded-to-sixty-four-bytes-xxxxxxxxxxxxxxxxxxxxxxxxx"))

	return &Transaction{
		Signatures: []solana.Signature{sig},
		Message: Message{
			Version: VersionLegacy,
			Header: MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlySignedAccounts:   0,
				NumReadonlyUnsignedAccounts: 1,
			},
			AccountKeys:     []solana.PublicKey{payer, dest, programID},
			RecentBlockhash: blockhash,
			Instructions: []CompiledInstruction{
				{
					ProgramIDIndex: 2,
					AccountIndexes: []uint8{0, 1},
					Data:           []byte{2, 0, 0, 0, 100, 0, 0, 0, 0, 0, 0, 0},
				},
			},
		},
	}
}

func sampleV0Transaction() *Transaction {
	tx := sampleLegacyTransaction()
	tx.Message.Version = VersionV0
	lutKey := solana.NewWallet().PrivateKey.PublicKey()
	tx.Message.AddressTableLookups = []AddressTableLookup{
		{
			AccountKey:      lutKey,
			WritableIndexes: []uint8{0, 2},
			ReadonlyIndexes: []uint8{1},
		},
	}
	return tx
}

func TestRoundTripBase58Legacy(t *testing.T) {
	tx := sampleLegacyTransaction()
	encoded, err := EncodeBase58(tx)
	require.NoError(t, err)

	decoded, err := DecodeBase58(encoded)
	require.NoError(t, err)
	require.Equal(t, tx, decoded)
}

func TestRoundTripBase64V0(t *testing.T) {
	tx := sampleV0Transaction()
	encoded, err := EncodeBase64(tx)
	require.NoError(t, err)

	decoded, err := DecodeBase64(encoded)
	require.NoError(t, err)
	require.Equal(t, tx, decoded)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	tx := sampleLegacyTransaction()
	raw, err := Encode(tx)
	require.NoError(t, err)

	sigSectionLen := 1 + 64
	raw[sigSectionLen] = 0x80 | 5 // version 5, not supported

	_, err = Decode(raw)
	require.Error(t, err)
}

func TestDecodeTruncatedInputErrors(t *testing.T) {
	tx := sampleLegacyTransaction()
	raw, err := Encode(tx)
	require.NoError(t, err)

	_, err = Decode(raw[:len(raw)-5])
	require.Error(t, err)
}

func TestShortVecLenRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 129, 16383, 16384, 65535} {
		encoded := writeShortVecLen(n)
		decoded, next, err := readShortVecLen(encoded, 0)
		require.NoError(t, err)
		require.Equal(t, n, decoded)
		require.Equal(t, len(encoded), next)
	}
}

func TestIsVersioned(t *testing.T) {
	require.False(t, sampleLegacyTransaction().Message.IsVersioned())
	require.True(t, sampleV0Transaction().Message.IsVersioned())
}
