// Package rpcserver is the JSON-RPC 2.0 Handler Set (spec.md §4.H)
// that composes the chain facade, token adapter, price oracle, signer
// pool, validator, fee estimator, and payment checker into the
// relayer's public surface. The wire envelope is hand-rolled against
// encoding/json: the teacher and the rest of the pack only ever
// consume JSON-RPC as a *client* (service/svmbase/solrpc.go wraps
// gagliardetto/solana-go/rpc/jsonrpc to call out to a node), never
// serve it, so there is no pack library for the server side of this
// envelope to ground on (see DESIGN.md).
package rpcserver

import "encoding/json"

const jsonRPCVersion = "2.0"

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Signed transaction / message params and results, matching spec.md
// §6's table.

type signRequestParams struct {
	Transaction string `json:"transaction"`
	SignerKey   string `json:"signer_key,omitempty"`
}

type signResult struct {
	Signature         string `json:"signature"`
	SignedTransaction string `json:"signed_transaction"`
	SignerPubkey      string `json:"signer_pubkey"`
}

type ifPaidRequestParams struct {
	Transaction string `json:"transaction"`
}

type ifPaidResult struct {
	Transaction       string `json:"transaction"`
	SignedTransaction string `json:"signed_transaction"`
}

type transferRequestParams struct {
	Amount      uint64 `json:"amount"`
	Token       string `json:"token"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type transferResult struct {
	Transaction  string `json:"transaction"`
	Message      string `json:"message"`
	Blockhash    string `json:"blockhash"`
	SignerPubkey string `json:"signer_pubkey"`
}

type estimateFeeResult struct {
	FeeInLamports uint64 `json:"fee_in_lamports"`
}

type blockhashResult struct {
	Blockhash string `json:"blockhash"`
}

type configResult struct {
	FeePayer         string          `json:"fee_payer"`
	ValidationConfig json.RawMessage `json:"validation_config"`
	EnabledMethods   map[string]bool `json:"enabled_methods"`
}

type supportedTokensResult struct {
	Tokens []string `json:"tokens"`
}

type payerSignerResult struct {
	Signer             string `json:"signer"`
	PaymentDestination string `json:"payment_destination"`
}

type versionResult struct {
	Version string `json:"version"`
}

type updateConfigRequestParams struct {
	Validation json.RawMessage `json:"validation,omitempty"`
	Kora       json.RawMessage `json:"kora,omitempty"`
}

type updateConfigResult struct {
	Applied bool `json:"applied"`
}
