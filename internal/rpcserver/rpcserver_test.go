package rpcserver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/solana-relay/kora/internal/chain"
	"github.com/solana-relay/kora/internal/config"
	"github.com/solana-relay/kora/internal/oracle"
	"github.com/solana-relay/kora/internal/signer"
	"github.com/solana-relay/kora/internal/state"
	"github.com/solana-relay/kora/internal/txcodec"
)

// stubSigner is a minimal in-test Signer: it "signs" by copying the
// message into the signature bytes, which is all the handlers under
// test need (they never verify the signature against the wire
// format, only that one was produced).
type stubSigner struct {
	pubkey solana.PublicKey
}

func (s *stubSigner) Sign(_ context.Context, msg []byte) (signer.Signature, error) {
	var out signer.Signature
	copy(out.Bytes[:], msg)
	return out, nil
}
func (s *stubSigner) Pubkey() solana.PublicKey { return s.pubkey }
func (s *stubSigner) Metadata() signer.Metadata {
	return signer.Metadata{Pubkey: s.pubkey, Backend: signer.BackendMemory, Name: "test"}
}

func newWallet() solana.PublicKey {
	return solana.NewWallet().PrivateKey.PublicKey()
}

// buildTx assembles a minimal legacy-message transaction directly
// from txcodec types, the same way resolver_test.go builds sample
// transactions, rather than round-tripping through the SDK's own
// transaction builder.
func buildTx(feePayer solana.PublicKey, accountKeys []solana.PublicKey, numReadonlyUnsigned uint8, instructions []txcodec.CompiledInstruction) *txcodec.Transaction {
	keys := append([]solana.PublicKey{feePayer}, accountKeys...)
	return &txcodec.Transaction{
		Signatures: []solana.Signature{{}},
		Message: txcodec.Message{
			Version: txcodec.VersionLegacy,
			Header: txcodec.MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlyUnsignedAccounts: numReadonlyUnsigned,
			},
			AccountKeys:     keys,
			RecentBlockhash: solana.Hash{1, 2, 3},
			Instructions:    instructions,
		},
	}
}

func encodeTx(t *testing.T, tx *txcodec.Transaction) string {
	t.Helper()
	b64, err := txcodec.EncodeBase64(tx)
	require.NoError(t, err)
	return b64
}

func splTransferData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return data
}

// mintAccount builds a *rpc.Account whose Data decodes as an SPL mint
// with the given decimals, using the same [base64, "base64"] envelope
// the JSON-RPC getAccountInfo response carries on the wire.
func mintAccount(t *testing.T, owner solana.PublicKey, decimals uint8) *rpc.Account {
	t.Helper()
	raw := make([]byte, 82)
	raw[44] = decimals
	var data rpc.DataBytesOrJSON
	envelope, err := json.Marshal([2]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(envelope, &data))
	return &rpc.Account{Owner: owner, Data: &data}
}

// tokenAccount builds a *rpc.Account whose Data decodes as an SPL
// token account owned by owner, holding mint, using the same
// [base64, "base64"] wire envelope as mintAccount.
func tokenAccount(t *testing.T, mint, owner solana.PublicKey) *rpc.Account {
	t.Helper()
	raw := make([]byte, 165)
	copy(raw[0:32], mint[:])
	copy(raw[32:64], owner[:])
	var data rpc.DataBytesOrJSON
	envelope, err := json.Marshal([2]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(envelope, &data))
	return &rpc.Account{Owner: solana.TokenProgramID, Data: &data}
}

// testServer wires a Server with a single stub signer, a
// fake chain, and a mock price oracle, configured to allow the
// system program, the classic SPL token program, and one payable
// mint.
type testServer struct {
	server   *Server
	cfg      *config.Config
	fake     *chain.Fake
	feePayer solana.PublicKey
	mint     solana.PublicKey
	handle   *state.Handle
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	feePayer := newWallet()
	mint := newWallet()

	cfg := &config.Config{}
	cfg.Validation.MaxSignatures = 12
	cfg.Validation.MaxAllowedLamports = 10_000_000_000
	cfg.Validation.AllowedTokens = []string{mint.String()}
	cfg.Validation.AllowedSplPaidTokens = []string{mint.String()}
	cfg.Validation.AllowedPrograms = []string{
		solana.SystemProgramID.String(),
		solana.TokenProgramID.String(),
	}
	cfg.Validation.PaymentAddressOverride = newWallet().String()
	require.NoError(t, cfg.Validate())

	pool, err := signer.NewPool(signer.StrategyRoundRobin, []signer.Signer{&stubSigner{pubkey: feePayer}}, nil)
	require.NoError(t, err)

	h := state.New(cfg, pool)

	fake := chain.NewFake()
	fake.Blockhash = solana.Hash{9, 9, 9}
	fake.Accounts[mint] = mintAccount(t, solana.TokenProgramID, 6)

	// 1 token == 0.01 SOL, matching payment.RequiredTokenAmount's
	// degenerate solPriceUSD=1 usage (see checkPaymentAgainstAllowedMints).
	ora := oracle.NewConsensusOracle(oracle.NewMockSource(map[string]decimal.Decimal{
		mint.String(): decimal.NewFromFloat(0.01),
	}))

	srv := New(Deps{State: h, Chain: fake, Oracle: ora, Version: "test"})

	return &testServer{server: srv, cfg: cfg, fake: fake, feePayer: feePayer, mint: mint, handle: h}
}

// envelope mirrors the wire shape of response, except Result stays a
// json.RawMessage so the test can decode it into whatever concrete
// result type the method under test returns.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func (ts *testServer) do(t *testing.T, method string, params interface{}, headers map[string]string) (*envelope, *httptest.ResponseRecorder) {
	t.Helper()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		rawParams = b
	}

	req := request{JSONRPC: jsonRPCVersion, ID: json.RawMessage(`1`), Method: method, Params: rawParams}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httpReq)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return &env, rec
}

func TestLivenessBypassesAuth(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Auth.Enabled = true
	ts.cfg.Auth.APIKey = "secret"

	env, _ := ts.do(t, "liveness", nil, nil)
	require.Nil(t, env.Error)
}

func TestUpdateConfigRequiresAdminKeyEvenWithAuthDisabled(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Kora.AllowConfigHotReload = true
	ts.cfg.Kora.AdminAPIKey = "admin-secret"
	ts.cfg.Auth.Enabled = false

	env, _ := ts.do(t, "updateConfig", updateConfigRequestParams{}, nil)
	require.NotNil(t, env.Error, "updateConfig must never be reachable without the admin key, even with general auth off")

	env2, _ := ts.do(t, "updateConfig", updateConfigRequestParams{}, map[string]string{"x-api-key": "admin-secret"})
	require.Nil(t, env2.Error)
}

func TestAuthRejectsBadHMACSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Auth.Enabled = true
	ts.cfg.Auth.HMACSecret = "shh"

	env, _ := ts.do(t, "getVersion", nil, map[string]string{
		"x-timestamp":      strconv.FormatInt(time.Now().Unix(), 10),
		"x-hmac-signature": "deadbeef",
	})
	require.NotNil(t, env.Error)
}

func TestAuthAcceptsValidHMACSignature(t *testing.T) {
	ts := newTestServer(t)
	ts.cfg.Auth.Enabled = true
	ts.cfg.Auth.HMACSecret = "shh"

	body, err := json.Marshal(request{JSONRPC: jsonRPCVersion, ID: json.RawMessage(`1`), Method: "getVersion"})
	require.NoError(t, err)

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(timestamp + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.Header.Set("x-timestamp", timestamp)
	httpReq.Header.Set("x-hmac-signature", sig)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httpReq)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Nil(t, env.Error)
}

func TestSignTransactionBasicSPLTransfer(t *testing.T) {
	ts := newTestServer(t)

	source, _, err := solana.FindAssociatedTokenAddress(ts.feePayer, ts.mint)
	require.NoError(t, err)
	dest, _, err := solana.FindAssociatedTokenAddress(newWallet(), ts.mint)
	require.NoError(t, err)

	tx := buildTx(ts.feePayer, []solana.PublicKey{source, dest, solana.TokenProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 3, AccountIndexes: []uint8{1, 2, 0}, Data: splTransferData(100)},
	})

	env, _ := ts.do(t, "signTransaction", signRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.Nil(t, env.Error, "expected a clean SPL transfer to be signed")

	var result signResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.NotEmpty(t, result.Signature)
	require.Equal(t, ts.feePayer.String(), result.SignerPubkey)
}

func TestSignTransactionRejectsDisallowedProgram(t *testing.T) {
	ts := newTestServer(t)
	other := newWallet()

	tx := buildTx(ts.feePayer, []solana.PublicKey{other}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 1, AccountIndexes: []uint8{0}, Data: []byte{1}},
	})

	env, _ := ts.do(t, "signTransaction", signRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.NotNil(t, env.Error)
}

func TestSignTransactionRejectsDurableNonce(t *testing.T) {
	ts := newTestServer(t)
	nonce := newWallet()

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 4) // AdvanceNonceAccount
	tx := buildTx(ts.feePayer, []solana.PublicKey{nonce, solana.SystemProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 2, AccountIndexes: []uint8{1}, Data: data},
	})

	env, _ := ts.do(t, "signTransaction", signRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.NotNil(t, env.Error, "durable-nonce transactions must be rejected")
}

func TestEstimateTransactionFeeWithComputeBudget(t *testing.T) {
	ts := newTestServer(t)
	computeBudget := solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

	limitData := make([]byte, 5)
	limitData[0] = 2
	binary.LittleEndian.PutUint32(limitData[1:5], 200_000)

	priceData := make([]byte, 9)
	priceData[0] = 3
	binary.LittleEndian.PutUint64(priceData[1:9], 1000)

	tx := buildTx(ts.feePayer, []solana.PublicKey{computeBudget}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 1, AccountIndexes: []uint8{}, Data: limitData},
		{ProgramIDIndex: 1, AccountIndexes: []uint8{}, Data: priceData},
	})

	env, _ := ts.do(t, "estimateTransactionFee", []string{encodeTx(t, tx), ""}, nil)
	require.Nil(t, env.Error)

	var result estimateFeeResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Greater(t, result.FeeInLamports, uint64(5000), "priority fee should be added on top of the base signature fee")
}

func TestSignTransactionIfPaidRejectsShortfallByOneUnit(t *testing.T) {
	ts := newTestServer(t)
	dest, err := solana.PublicKeyFromBase58(func() string { d, _ := ts.cfg.PaymentAddress(); return d }())
	require.NoError(t, err)

	source, _, err := solana.FindAssociatedTokenAddress(ts.feePayer, ts.mint)
	require.NoError(t, err)
	destATA, _, err := solana.FindAssociatedTokenAddress(dest, ts.mint)
	require.NoError(t, err)
	ts.fake.Accounts[destATA] = tokenAccount(t, ts.mint, dest)

	// estimatedFee (base sig fee 5000 lamports) -> required token
	// amount at 0.01 SOL/token, 6 decimals; pay exactly one unit short.
	estimatedLamports := uint64(5000)
	priceSOLPerToken := decimal.NewFromFloat(0.01)
	requiredUnits := estimatedLamports * 1_000_000 / uint64(priceSOLPerToken.Mul(decimal.NewFromInt(1_000_000_000)).IntPart())

	tx := buildTx(ts.feePayer, []solana.PublicKey{source, destATA, solana.TokenProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 3, AccountIndexes: []uint8{1, 2, 0}, Data: splTransferData(requiredUnits - 1)},
	})

	env, _ := ts.do(t, "signTransactionIfPaid", ifPaidRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.NotNil(t, env.Error, "a payment short by one unit must be rejected")
}

// TestSignTransactionIfPaidSucceedsWithSufficientSPLPayment exercises
// the genuine SPL payment path end to end: the instruction pays into
// the payment destination's real associated token account (a PDA
// distinct from the configured wallet address), which the handler
// must resolve back to its owner to recognize the payment
// (spec.md:126).
func TestSignTransactionIfPaidSucceedsWithSufficientSPLPayment(t *testing.T) {
	ts := newTestServer(t)
	dest, err := solana.PublicKeyFromBase58(func() string { d, _ := ts.cfg.PaymentAddress(); return d }())
	require.NoError(t, err)

	source, _, err := solana.FindAssociatedTokenAddress(ts.feePayer, ts.mint)
	require.NoError(t, err)
	destATA, _, err := solana.FindAssociatedTokenAddress(dest, ts.mint)
	require.NoError(t, err)
	require.False(t, destATA.Equals(dest), "an ATA must not equal the wallet it belongs to")
	ts.fake.Accounts[destATA] = tokenAccount(t, ts.mint, dest)

	estimatedLamports := uint64(5000)
	priceSOLPerToken := decimal.NewFromFloat(0.01)
	requiredUnits := estimatedLamports * 1_000_000 / uint64(priceSOLPerToken.Mul(decimal.NewFromInt(1_000_000_000)).IntPart())

	tx := buildTx(ts.feePayer, []solana.PublicKey{source, destATA, solana.TokenProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 3, AccountIndexes: []uint8{1, 2, 0}, Data: splTransferData(requiredUnits)},
	})

	env, _ := ts.do(t, "signTransactionIfPaid", ifPaidRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.Nil(t, env.Error, "a sufficient SPL payment into the destination's ATA must be accepted")

	var result ifPaidResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.NotEmpty(t, result.SignedTransaction)
}

func nativeTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

// TestSignTransactionIfPaidAcceptsNativeSOLPaymentWithoutOracleCall
// covers spec.md:131's "a native-sol transfer to the payment address
// counts directly (no oracle call)" path: the only allowed payment
// mint is deliberately unpriceable, so the request can only succeed
// by recognizing the native-SOL transfer directly rather than falling
// through to the SPL mint loop.
func TestSignTransactionIfPaidAcceptsNativeSOLPaymentWithoutOracleCall(t *testing.T) {
	ts := newTestServer(t)
	dest, err := solana.PublicKeyFromBase58(func() string { d, _ := ts.cfg.PaymentAddress(); return d }())
	require.NoError(t, err)

	unpriceableMint := newWallet()
	ts.cfg.Validation.AllowedSplPaidTokens = []string{unpriceableMint.String()}

	tx := buildTx(ts.feePayer, []solana.PublicKey{dest, solana.SystemProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 2, AccountIndexes: []uint8{0, 1}, Data: nativeTransferData(1_000_000)},
	})

	env, _ := ts.do(t, "signTransactionIfPaid", ifPaidRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.Nil(t, env.Error, "a sufficient native-SOL transfer to the payment address must be accepted directly")
}

func TestSignTransactionIfPaidRejectsWrongDestination(t *testing.T) {
	ts := newTestServer(t)
	wrongDest := newWallet()

	source, _, err := solana.FindAssociatedTokenAddress(ts.feePayer, ts.mint)
	require.NoError(t, err)
	wrongDestATA, _, err := solana.FindAssociatedTokenAddress(wrongDest, ts.mint)
	require.NoError(t, err)
	ts.fake.Accounts[wrongDestATA] = tokenAccount(t, ts.mint, wrongDest)

	tx := buildTx(ts.feePayer, []solana.PublicKey{source, wrongDestATA, solana.TokenProgramID}, 1, []txcodec.CompiledInstruction{
		{ProgramIDIndex: 3, AccountIndexes: []uint8{1, 2, 0}, Data: splTransferData(1_000_000_000)},
	})

	env, _ := ts.do(t, "signTransactionIfPaid", ifPaidRequestParams{Transaction: encodeTx(t, tx)}, nil)
	require.NotNil(t, env.Error, "payment to any account other than the configured destination must not satisfy the check")
}

func TestHandleTransferTransactionNativeSOL(t *testing.T) {
	ts := newTestServer(t)
	dest := newWallet()

	env, _ := ts.do(t, "transferTransaction", transferRequestParams{
		Amount:      1_000_000,
		Source:      ts.feePayer.String(),
		Destination: dest.String(),
	}, nil)
	require.Nil(t, env.Error)

	var result transferResult
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.NotEmpty(t, result.Transaction)
	require.NotEmpty(t, result.Blockhash)
	require.Equal(t, ts.feePayer.String(), result.SignerPubkey)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ts := newTestServer(t)
	env, _ := ts.do(t, "notAMethod", nil, nil)
	require.NotNil(t, env.Error)
	require.Equal(t, -32601, env.Error.Code)
}
