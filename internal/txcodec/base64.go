package txcodec

import "encoding/base64"

// base64Decode/base64Encode wrap the standard encoding: transaction
// bytes sent over JSON-RPC are plain std-alphabet base64 (spec.md §6),
// unlike the base58 wire encoding where the pack's teacher and sibling
// examples all reach for mr-tron/base58 instead of hand-rolling it.
func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func base64Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// EncodeBase64Bytes exposes the same encoding for raw byte blobs that
// aren't a full Transaction, such as an unsigned message body
// returned alongside transferTransaction's unsigned transaction.
func EncodeBase64Bytes(raw []byte) string {
	return base64Encode(raw)
}
