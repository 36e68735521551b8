// Package txcodec implements the Solana wire transaction format: the
// compact-u16 ("short-vec") length prefix, the legacy and v0 message
// layouts, and base58/base64 transaction encode/decode. This is the
// `decode_b58_transaction` / `uncompile_instructions` concern from
// original_source/crates/lib/src/transaction.rs, reimplemented in Go
// from the documented wire format (spec.md §3's Resolved Transaction
// and the GLOSSARY's "Lookup table" entry) rather than translated
// line-for-line, and styled after the teacher's own decode helpers in
// service/solana/solana.go (DecodeTransaction, CreateUnSignTransaction).
package txcodec

import (
	"fmt"
)

// readShortVecLen decodes a compact-u16 length prefix: up to three
// bytes, 7 payload bits each with the high bit as a continuation
// flag, representing values in [0, 65535].
func readShortVecLen(buf []byte, offset int) (int, int, error) {
	var value int
	for i := 0; i < 3; i++ {
		if offset+i >= len(buf) {
			return 0, 0, fmt.Errorf("short-vec length: unexpected end of input")
		}
		b := buf[offset+i]
		value |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, offset + i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("short-vec length: more than 3 continuation bytes")
}

// writeShortVecLen encodes n as a compact-u16 length prefix.
func writeShortVecLen(n int) []byte {
	if n < 0 || n > 0xFFFF {
		panic(fmt.Sprintf("short-vec length %d out of range", n))
	}
	var out []byte
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}
