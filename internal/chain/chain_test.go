package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestDecodeLookupTableAddresses(t *testing.T) {
	a := solana.NewWallet().PrivateKey.PublicKey()
	b := solana.NewWallet().PrivateKey.PublicKey()

	data := make([]byte, lookupTableHeaderLen+64)
	copy(data[lookupTableHeaderLen:], a[:])
	copy(data[lookupTableHeaderLen+32:], b[:])

	addrs, err := decodeLookupTableAddresses(data)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.True(t, addrs[0].Equals(a))
	require.True(t, addrs[1].Equals(b))
}

func TestDecodeLookupTableAddressesTooShort(t *testing.T) {
	_, err := decodeLookupTableAddresses(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeLookupTableAddressesMisaligned(t *testing.T) {
	_, err := decodeLookupTableAddresses(make([]byte, lookupTableHeaderLen+10))
	require.Error(t, err)
}
