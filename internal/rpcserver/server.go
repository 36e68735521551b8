package rpcserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/bundle"
	"github.com/solana-relay/kora/internal/chain"
	"github.com/solana-relay/kora/internal/config"
	"github.com/solana-relay/kora/internal/metrics"
	"github.com/solana-relay/kora/internal/oracle"
	"github.com/solana-relay/kora/internal/state"
	"github.com/solana-relay/kora/internal/usagelimit"
	"github.com/solana-relay/kora/internal/webhook"
)

// Deps bundles every collaborator a handler may need. Handlers never
// reach for a global; everything arrives through this struct, the
// same discipline the teacher's own service structs use (a
// *rpc.Client and logger field set once at construction).
type Deps struct {
	State      *state.Handle
	Chain      chain.Client
	Oracle     *oracle.ConsensusOracle
	Metrics    metrics.Recorder
	Webhook    webhook.Notifier
	UsageLimit usagelimit.Limiter
	Bundle     bundle.Submitter
	Version    string
}

// Server dispatches JSON-RPC 2.0 requests over HTTP to the method
// table built from handlerFuncs.
type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.Webhook == nil {
		deps.Webhook = webhook.NoopNotifier{}
	}
	if deps.UsageLimit == nil {
		deps.UsageLimit = usagelimit.Unlimited{}
	}
	if deps.Bundle == nil {
		deps.Bundle = bundle.NoopSubmitter{}
	}
	return &Server{deps: deps}
}

// handlerFunc is the shape every JSON-RPC method implements: decode
// its own params from raw, do its work, return a JSON-marshalable
// result or an *apperr.KoraError.
type handlerFunc func(ctx *requestContext, raw json.RawMessage) (interface{}, error)

func (s *Server) methodTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"liveness":                handleLiveness,
		"getVersion":              handleGetVersion,
		"getBlockhash":            handleGetBlockhash,
		"getConfig":               handleGetConfig,
		"getSupportedTokens":      handleGetSupportedTokens,
		"getPayerSigner":          handleGetPayerSigner,
		"estimateTransactionFee":  handleEstimateTransactionFee,
		"signTransaction":         handleSignTransaction,
		"signAndSendTransaction":  handleSignAndSendTransaction,
		"signTransactionIfPaid":   handleSignTransactionIfPaid,
		"transferTransaction":     handleTransferTransaction,
		"updateConfig":            handleUpdateConfig,
	}
}

// requestContext is passed to every handler: the deps plus the
// config snapshot taken once at the top of the request (spec.md §5:
// "readers hold the returned reference only for the duration of one
// request").
type requestContext struct {
	deps *Deps
	cfg  *config.Config
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeEnvelopeError(w, nil, -32700, "could not read request body")
		return
	}

	var req request
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		writeEnvelopeError(w, nil, -32700, "invalid json-rpc request")
		return
	}

	cfg, err := s.deps.State.Config()
	if err != nil {
		writeEnvelopeError(w, req.ID, apperr.JSONRPCCode(apperr.KindInternalServerError), "relayer is not initialized")
		return
	}

	if authErr := authenticate(cfg, req.Method,
		r.Header.Get("x-api-key"), r.Header.Get("x-hmac-signature"), r.Header.Get("x-timestamp"),
		string(bodyBytes)); authErr != nil {
		writeEnvelopeError(w, req.ID, apperr.JSONRPCCode(apperr.KindOf(authErr)), apperr.Sanitize(authErr, cfg.Kora.UnsafeDebugErrors, apperr.Privacy{RedactAccountAddresses: cfg.Privacy.RedactAccountAddresses, RedactAmounts: cfg.Privacy.RedactAmounts}))
		return
	}

	fn, ok := s.methodTable()[req.Method]
	if !ok {
		writeEnvelopeError(w, req.ID, -32601, "method not found: "+req.Method)
		return
	}

	if req.Method != "liveness" && req.Method != "getVersion" && !cfg.IsMethodEnabled(req.Method) {
		writeEnvelopeError(w, req.ID, apperr.JSONRPCCode(apperr.KindValidationError), "method "+req.Method+" is disabled")
		return
	}

	start := time.Now()
	result, err := fn(&requestContext{deps: &s.deps, cfg: cfg}, req.Params)
	success := err == nil
	s.deps.Metrics.RecordRequest(req.Method, time.Since(start), success)

	if err != nil {
		log.Warn("rpc handler error", "method", req.Method, "err", err)
		writeEnvelopeError(w, req.ID, apperr.JSONRPCCode(apperr.KindOf(err)), apperr.Sanitize(err, cfg.Kora.UnsafeDebugErrors, apperr.Privacy{RedactAccountAddresses: cfg.Privacy.RedactAccountAddresses, RedactAmounts: cfg.Privacy.RedactAmounts}))
		return
	}

	writeEnvelopeResult(w, req.ID, result)
}

func writeEnvelopeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	resp := response{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeEnvelopeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	resp := response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeParams unmarshals raw into v, accepting either a JSON object
// or a single-element/array form so handlers like
// estimateTransactionFee (spec.md §6: `[tx_b64, fee_token]`) can share
// the same plumbing as the object-shaped handlers.
func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Invalid("invalid params: %v", err)
	}
	return nil
}
