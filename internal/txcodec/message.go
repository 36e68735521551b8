package txcodec

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// MessageVersion distinguishes a legacy message from a v0 message
// (spec.md §3: "message version (legacy or v0)").
type MessageVersion int

const (
	VersionLegacy MessageVersion = -1
	VersionV0     MessageVersion = 0
)

// versionPrefixMask is the high bit that, when set on the first byte
// of a message, signals a versioned (v0+) message rather than a
// legacy one (whose first byte is instead the small
// num_required_signatures count).
const versionPrefixMask = 0x80

// MessageHeader carries the three counts needed to classify accounts
// as signer/writable without external state (spec.md §3: "for each
// position: {pubkey, is_writable, is_signer}").
type MessageHeader struct {
	NumRequiredSignatures      uint8
	NumReadonlySignedAccounts  uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts and the program by index
// into the message's flat account-key array, pre-lookup-table
// resolution.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// AddressTableLookup names a lookup table account and which of its
// writable/readonly entries this message pulls in, by index
// (GLOSSARY: "Lookup table").
type AddressTableLookup struct {
	AccountKey      solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is the decoded, not-yet-lookup-resolved message body.
type Message struct {
	Version             MessageVersion
	Header               MessageHeader
	AccountKeys           []solana.PublicKey
	RecentBlockhash       solana.Hash
	Instructions          []CompiledInstruction
	AddressTableLookups   []AddressTableLookup
}

// Transaction is the decoded wire transaction: signatures plus the
// message they cover.
type Transaction struct {
	Signatures []solana.Signature
	Message    Message
}

// IsVersioned reports whether the message is a v0 (or later) message
// carrying address-table lookups.
func (m Message) IsVersioned() bool { return m.Version != VersionLegacy }

// Decode parses raw wire bytes into a Transaction.
func Decode(raw []byte) (*Transaction, error) {
	offset := 0
	sigCount, next, err := readShortVecLen(raw, offset)
	if err != nil {
		return nil, fmt.Errorf("decode signatures length: %w", err)
	}
	offset = next

	sigs := make([]solana.Signature, 0, sigCount)
	for i := 0; i < sigCount; i++ {
		if offset+64 > len(raw) {
			return nil, fmt.Errorf("decode signature %d: unexpected end of input", i)
		}
		var sig solana.Signature
		copy(sig[:], raw[offset:offset+64])
		sigs = append(sigs, sig)
		offset += 64
	}

	msg, _, err := decodeMessage(raw, offset)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	return &Transaction{Signatures: sigs, Message: *msg}, nil
}

func decodeMessage(raw []byte, offset int) (*Message, int, error) {
	if offset >= len(raw) {
		return nil, 0, fmt.Errorf("unexpected end of input before message")
	}

	version := VersionLegacy
	first := raw[offset]
	if first&versionPrefixMask != 0 {
		version = MessageVersion(first &^ versionPrefixMask)
		if version != VersionV0 {
			return nil, 0, fmt.Errorf("unsupported message version %d", version)
		}
		offset++
	}

	if offset+3 > len(raw) {
		return nil, 0, fmt.Errorf("unexpected end of input reading message header")
	}
	header := MessageHeader{
		NumRequiredSignatures:       raw[offset],
		NumReadonlySignedAccounts:  raw[offset+1],
		NumReadonlyUnsignedAccounts: raw[offset+2],
	}
	offset += 3

	keyCount, next, err := readShortVecLen(raw, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("decode account keys length: %w", err)
	}
	offset = next

	keys := make([]solana.PublicKey, 0, keyCount)
	for i := 0; i < keyCount; i++ {
		if offset+32 > len(raw) {
			return nil, 0, fmt.Errorf("decode account key %d: unexpected end of input", i)
		}
		var key solana.PublicKey
		copy(key[:], raw[offset:offset+32])
		keys = append(keys, key)
		offset += 32
	}

	if offset+32 > len(raw) {
		return nil, 0, fmt.Errorf("decode recent blockhash: unexpected end of input")
	}
	var blockhash solana.Hash
	copy(blockhash[:], raw[offset:offset+32])
	offset += 32

	ixCount, next, err := readShortVecLen(raw, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("decode instructions length: %w", err)
	}
	offset = next

	instructions := make([]CompiledInstruction, 0, ixCount)
	for i := 0; i < ixCount; i++ {
		if offset >= len(raw) {
			return nil, 0, fmt.Errorf("decode instruction %d: unexpected end of input", i)
		}
		programIdx := raw[offset]
		offset++

		accCount, n2, err := readShortVecLen(raw, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("decode instruction %d account count: %w", i, err)
		}
		offset = n2
		if offset+accCount > len(raw) {
			return nil, 0, fmt.Errorf("decode instruction %d accounts: unexpected end of input", i)
		}
		accIdx := make([]uint8, accCount)
		copy(accIdx, raw[offset:offset+accCount])
		offset += accCount

		dataLen, n3, err := readShortVecLen(raw, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("decode instruction %d data length: %w", i, err)
		}
		offset = n3
		if offset+dataLen > len(raw) {
			return nil, 0, fmt.Errorf("decode instruction %d data: unexpected end of input", i)
		}
		data := make([]byte, dataLen)
		copy(data, raw[offset:offset+dataLen])
		offset += dataLen

		instructions = append(instructions, CompiledInstruction{
			ProgramIDIndex: programIdx,
			AccountIndexes: accIdx,
			Data:           data,
		})
	}

	var lookups []AddressTableLookup
	if version == VersionV0 {
		lookupCount, n4, err := readShortVecLen(raw, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("decode address table lookups length: %w", err)
		}
		offset = n4
		for i := 0; i < lookupCount; i++ {
			if offset+32 > len(raw) {
				return nil, 0, fmt.Errorf("decode lookup %d account key: unexpected end of input", i)
			}
			var key solana.PublicKey
			copy(key[:], raw[offset:offset+32])
			offset += 32

			wCount, n5, err := readShortVecLen(raw, offset)
			if err != nil {
				return nil, 0, fmt.Errorf("decode lookup %d writable indexes length: %w", i, err)
			}
			offset = n5
			if offset+wCount > len(raw) {
				return nil, 0, fmt.Errorf("decode lookup %d writable indexes: unexpected end of input", i)
			}
			writable := make([]uint8, wCount)
			copy(writable, raw[offset:offset+wCount])
			offset += wCount

			rCount, n6, err := readShortVecLen(raw, offset)
			if err != nil {
				return nil, 0, fmt.Errorf("decode lookup %d readonly indexes length: %w", i, err)
			}
			offset = n6
			if offset+rCount > len(raw) {
				return nil, 0, fmt.Errorf("decode lookup %d readonly indexes: unexpected end of input", i)
			}
			readonly := make([]uint8, rCount)
			copy(readonly, raw[offset:offset+rCount])
			offset += rCount

			lookups = append(lookups, AddressTableLookup{
				AccountKey:      key,
				WritableIndexes: writable,
				ReadonlyIndexes: readonly,
			})
		}
	}

	return &Message{
		Version:             version,
		Header:              header,
		AccountKeys:         keys,
		RecentBlockhash:     blockhash,
		Instructions:        instructions,
		AddressTableLookups: lookups,
	}, offset, nil
}

// Encode serializes a Transaction back to wire bytes.
func Encode(tx *Transaction) ([]byte, error) {
	var out []byte
	out = append(out, writeShortVecLen(len(tx.Signatures))...)
	for _, sig := range tx.Signatures {
		out = append(out, sig[:]...)
	}

	msgBytes, err := EncodeMessage(&tx.Message)
	if err != nil {
		return nil, err
	}
	out = append(out, msgBytes...)
	return out, nil
}

// EncodeMessage serializes just the message body (used to produce the
// bytes that get signed).
func EncodeMessage(m *Message) ([]byte, error) {
	var out []byte
	if m.IsVersioned() {
		out = append(out, byte(m.Version)|versionPrefixMask)
	}
	out = append(out, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)

	out = append(out, writeShortVecLen(len(m.AccountKeys))...)
	for _, k := range m.AccountKeys {
		out = append(out, k[:]...)
	}

	out = append(out, m.RecentBlockhash[:]...)

	out = append(out, writeShortVecLen(len(m.Instructions))...)
	for _, ix := range m.Instructions {
		out = append(out, ix.ProgramIDIndex)
		out = append(out, writeShortVecLen(len(ix.AccountIndexes))...)
		out = append(out, ix.AccountIndexes...)
		out = append(out, writeShortVecLen(len(ix.Data))...)
		out = append(out, ix.Data...)
	}

	if m.IsVersioned() {
		out = append(out, writeShortVecLen(len(m.AddressTableLookups))...)
		for _, lk := range m.AddressTableLookups {
			out = append(out, lk.AccountKey[:]...)
			out = append(out, writeShortVecLen(len(lk.WritableIndexes))...)
			out = append(out, lk.WritableIndexes...)
			out = append(out, writeShortVecLen(len(lk.ReadonlyIndexes))...)
			out = append(out, lk.ReadonlyIndexes...)
		}
	}

	return out, nil
}

// DecodeBase58 matches original_source's decode_b58_transaction.
func DecodeBase58(s string) (*Transaction, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base58: %w", err)
	}
	return Decode(raw)
}

// DecodeBase64 is the wire format spec.md §6 specifies for JSON-RPC
// transaction params ("base64-encoded bincode-serialized versioned
// transactions").
func DecodeBase64(s string) (*Transaction, error) {
	raw, err := base64Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return Decode(raw)
}

// EncodeBase58 / EncodeBase64 mirror the two accepted wire encodings.
func EncodeBase58(tx *Transaction) (string, error) {
	raw, err := Encode(tx)
	if err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

func EncodeBase64(tx *Transaction) (string, error) {
	raw, err := Encode(tx)
	if err != nil {
		return "", err
	}
	return base64Encode(raw), nil
}

// ToSDK re-encodes tx and hands the bytes to gagliardetto/solana-go's
// own decoder, producing the *solana.Transaction the chain facade's
// Simulate/SendAndConfirm calls expect. Mirrors the teacher's own
// decode idiom in service/solana/solana.go's DecodeTransaction
// (bin.NewBinDecoder + UnmarshalWithDecoder) rather than hand-rolling
// a second wire encoder for the SDK type.
func (tx *Transaction) ToSDK() (*solana.Transaction, error) {
	raw, err := Encode(tx)
	if err != nil {
		return nil, err
	}
	sdkTx := &solana.Transaction{}
	if err := sdkTx.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return nil, fmt.Errorf("decode into sdk transaction: %w", err)
	}
	return sdkTx, nil
}
