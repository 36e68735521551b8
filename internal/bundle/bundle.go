// Package bundle submits a group of transactions to a Jito block
// engine as an atomic bundle, the supplemented feature named in
// SPEC_FULL.md's component K (grounded in
// original_source/crates/lib/src/bundle/*). Built with the teacher's
// resty JSON-RPC-over-HTTP idiom (service/svmbase/svm.go's
// *resty.Client posting a {"jsonrpc","method","params"} envelope).
package bundle

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/solana-relay/kora/internal/apperr"
)

// Submitter sends a set of base58-encoded signed transactions as one
// atomic bundle and returns the bundle ID the block engine assigned.
type Submitter interface {
	Submit(ctx context.Context, signedTxsBase58 []string) (string, error)
	Status(ctx context.Context, bundleID string) (string, error)
}

// NoopSubmitter rejects every call, the default when no Jito block
// engine endpoint is configured (bundling is opt-in, not a silent
// fallback to individual sends).
type NoopSubmitter struct{}

func (NoopSubmitter) Submit(context.Context, []string) (string, error) {
	return "", apperr.New(apperr.KindBundleError, "bundle submission is not configured")
}

func (NoopSubmitter) Status(context.Context, string) (string, error) {
	return "", apperr.New(apperr.KindBundleError, "bundle submission is not configured")
}

// JitoSubmitter posts to a Jito block-engine JSON-RPC endpoint.
type JitoSubmitter struct {
	client *resty.Client
}

func NewJitoSubmitter(blockEngineURL string, timeout time.Duration) *JitoSubmitter {
	client := resty.New().SetBaseURL(blockEngineURL).SetTimeout(timeout)
	return &JitoSubmitter{client: client}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result interface{} `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *JitoSubmitter) Submit(ctx context.Context, signedTxsBase58 []string) (string, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "sendBundle", Params: []interface{}{signedTxsBase58}}
	var resp jsonRPCResponse
	httpResp, err := s.client.R().SetContext(ctx).SetBody(req).SetResult(&resp).Post("/api/v1/bundles")
	if err != nil {
		return "", apperr.Wrap(apperr.KindJitoError, "bundle submission request failed", err)
	}
	if httpResp.IsError() {
		return "", apperr.New(apperr.KindJitoError, "bundle submission returned status "+httpResp.Status())
	}
	if resp.Error != nil {
		return "", apperr.New(apperr.KindBundleError, resp.Error.Message)
	}
	bundleID, _ := resp.Result.(string)
	if bundleID == "" {
		return "", apperr.New(apperr.KindBundleError, "block engine returned no bundle id")
	}
	return bundleID, nil
}

func (s *JitoSubmitter) Status(ctx context.Context, bundleID string) (string, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "getBundleStatuses", Params: []interface{}{[]string{bundleID}}}
	var resp jsonRPCResponse
	httpResp, err := s.client.R().SetContext(ctx).SetBody(req).SetResult(&resp).Post("/api/v1/bundles")
	if err != nil {
		return "", apperr.Wrap(apperr.KindJitoError, "bundle status request failed", err)
	}
	if httpResp.IsError() {
		return "", apperr.New(apperr.KindJitoError, "bundle status returned status "+httpResp.Status())
	}
	if resp.Error != nil {
		return "", apperr.New(apperr.KindBundleError, resp.Error.Message)
	}
	return "pending", nil
}

var (
	_ Submitter = NoopSubmitter{}
	_ Submitter = (*JitoSubmitter)(nil)
)
