package rpcserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/feeest"
	"github.com/solana-relay/kora/internal/payment"
	"github.com/solana-relay/kora/internal/resolver"
	"github.com/solana-relay/kora/internal/signer"
	"github.com/solana-relay/kora/internal/token"
	"github.com/solana-relay/kora/internal/txcodec"
	"github.com/solana-relay/kora/internal/validator"
	"github.com/solana-relay/kora/internal/webhook"
)

const requestTimeout = 30 * time.Second

func handleLiveness(*requestContext, json.RawMessage) (interface{}, error) {
	return nil, nil
}

func handleGetVersion(ctx *requestContext, _ json.RawMessage) (interface{}, error) {
	v := ctx.deps.Version
	if v == "" {
		v = "dev"
	}
	return versionResult{Version: v}, nil
}

func handleGetBlockhash(ctx *requestContext, _ json.RawMessage) (interface{}, error) {
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	hash, _, err := ctx.deps.Chain.GetLatestBlockhash(c, rpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}
	return blockhashResult{Blockhash: hash.String()}, nil
}

func handleGetConfig(ctx *requestContext, _ json.RawMessage) (interface{}, error) {
	pool, err := ctx.deps.State.Signers()
	if err != nil {
		return nil, err
	}
	validationJSON, err := json.Marshal(ctx.cfg.Validation)
	if err != nil {
		return nil, apperr.Internal("marshal validation config: %v", err)
	}
	feePayer := pool.Next().Pubkey()
	return configResult{
		FeePayer:         feePayer.String(),
		ValidationConfig: validationJSON,
		EnabledMethods:   ctx.cfg.Validation.EnabledMethods,
	}, nil
}

func handleGetSupportedTokens(ctx *requestContext, _ json.RawMessage) (interface{}, error) {
	tokens := ctx.cfg.Validation.AllowedTokens
	if len(tokens) == 0 {
		return nil, apperr.Validation("no tokens are configured")
	}
	return supportedTokensResult{Tokens: tokens}, nil
}

func handleGetPayerSigner(ctx *requestContext, _ json.RawMessage) (interface{}, error) {
	pool, err := ctx.deps.State.Signers()
	if err != nil {
		return nil, err
	}
	s := pool.Next()
	dest, ok := ctx.cfg.PaymentAddress()
	if !ok {
		dest = s.Pubkey().String()
	}
	return payerSignerResult{Signer: s.Pubkey().String(), PaymentDestination: dest}, nil
}

func handleEstimateTransactionFee(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	var arr []string
	if err := decodeParams(raw, &arr); err != nil || len(arr) < 1 {
		return nil, apperr.Invalid("estimateTransactionFee expects [tx_b64, fee_token]")
	}

	tx, err := txcodec.DecodeBase64(arr[0])
	if err != nil {
		return nil, apperr.Invalid("decode transaction: %v", err)
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resolved, err := resolver.Resolve(c, tx, ctx.deps.Chain)
	if err != nil {
		return nil, err
	}

	estimate := feeest.Compute(resolved, feeest.Options{NewATACount: countNewATAInstructions(resolved)})
	ctx.deps.Metrics.RecordFeeEstimate(estimate.TotalLamports)
	return estimateFeeResult{FeeInLamports: estimate.TotalLamports}, nil
}

func handleSignTransaction(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	var params signRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	signed, signerUsed, resolved, err := prepareAndSign(c, ctx, params.Transaction, params.SignerKey)
	if err != nil {
		return nil, err
	}

	encoded, err := txcodec.EncodeBase64(signed)
	if err != nil {
		return nil, apperr.Internal("encode signed transaction: %v", err)
	}

	ctx.deps.Webhook.Notify(c, webhook.Event{
		Type:         "transaction_signed",
		Signature:    signed.Signatures[0].String(),
		FeePayer:     resolved.FeePayer.String(),
		EstimatedFee: 0,
	})

	return signResult{
		Signature:         signed.Signatures[0].String(),
		SignedTransaction: encoded,
		SignerPubkey:      signerUsed.Pubkey().String(),
	}, nil
}

func handleSignAndSendTransaction(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	var params signRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	signed, signerUsed, resolved, err := prepareAndSign(c, ctx, params.Transaction, params.SignerKey)
	if err != nil {
		return nil, err
	}

	sdkTx, err := signed.ToSDK()
	if err != nil {
		return nil, apperr.Internal("convert signed transaction: %v", err)
	}
	sig, err := ctx.deps.Chain.SendAndConfirm(c, sdkTx)
	if err != nil {
		return nil, err
	}

	encoded, err := txcodec.EncodeBase64(signed)
	if err != nil {
		return nil, apperr.Internal("encode signed transaction: %v", err)
	}

	ctx.deps.Webhook.Notify(c, webhook.Event{Type: "transaction_signed", Signature: sig.String(), FeePayer: resolved.FeePayer.String()})
	ctx.deps.Webhook.Notify(c, webhook.Event{Type: "transaction_broadcast", Signature: sig.String(), FeePayer: resolved.FeePayer.String()})

	return signResult{
		Signature:         sig.String(),
		SignedTransaction: encoded,
		SignerPubkey:      signerUsed.Pubkey().String(),
	}, nil
}

func handleSignTransactionIfPaid(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	var params ifPaidRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	tx, err := txcodec.DecodeBase64(params.Transaction)
	if err != nil {
		return nil, apperr.Invalid("decode transaction: %v", err)
	}

	pool, err := ctx.deps.State.Signers()
	if err != nil {
		return nil, err
	}
	feePayerSigner := pool.Next()
	ensureFeePayer(tx, feePayerSigner.Pubkey())

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resolved, err := resolver.Resolve(c, tx, ctx.deps.Chain)
	if err != nil {
		return nil, err
	}

	policy, err := validator.PolicyFromConfig(ctx.cfg, resolved.FeePayer)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(resolved, policy); err != nil {
		return nil, err
	}

	estimate := feeest.Compute(resolved, feeest.Options{NewATACount: countNewATAInstructions(resolved)})
	if err := ctx.deps.UsageLimit.CheckAndReserve(resolved.FeePayer.String(), estimate.TotalLamports); err != nil {
		return nil, err
	}

	dest, ok := ctx.cfg.PaymentAddress()
	if !ok {
		dest = resolved.FeePayer.String()
	}
	destPubkey, err := solana.PublicKeyFromBase58(dest)
	if err != nil {
		return nil, apperr.Internal("invalid configured payment address %q: %v", dest, err)
	}

	required := payment.RequiredLamports(estimate.TotalLamports, ctx.cfg.Validation.PaymentMarginBasisPoint)
	if err := checkPaymentAgainstAllowedMints(c, ctx, resolved, destPubkey, required); err != nil {
		return nil, err
	}

	sig, err := signMessage(c, tx, feePayerSigner)
	if err != nil {
		return nil, err
	}
	tx.Signatures[0] = solana.SignatureFromBytes(sig.Bytes[:])

	rawB64, err := txcodec.EncodeBase64(tx)
	if err != nil {
		return nil, apperr.Internal("encode transaction: %v", err)
	}

	ctx.deps.Webhook.Notify(c, webhook.Event{Type: "transaction_signed", Signature: tx.Signatures[0].String(), FeePayer: resolved.FeePayer.String(), EstimatedFee: estimate.TotalLamports})

	return ifPaidResult{Transaction: rawB64, SignedTransaction: rawB64}, nil
}

// checkPaymentAgainstAllowedMints tries every allowed payment mint in
// turn and succeeds if any carries a sufficient payment to dest
// (spec.md §4.G: a matching payment can be in any allowed mint).
func checkPaymentAgainstAllowedMints(ctx context.Context, rc *requestContext, resolved *resolver.ResolvedTransaction, dest solana.PublicKey, requiredLamports uint64) error {
	// A native-SOL transfer straight to the payment address counts
	// directly, with no oracle call (spec.md:131).
	if nativeFound := findNativeTransferLamports(resolved, dest); nativeFound >= requiredLamports {
		return nil
	}

	mints := rc.cfg.Validation.AllowedSplPaidTokens
	if len(mints) == 0 {
		mints = rc.cfg.Validation.AllowedTokens
	}

	var lastErr error
	for _, m := range mints {
		mintKey, err := solana.PublicKeyFromBase58(m)
		if err != nil {
			continue
		}
		price, err := rc.deps.Oracle.Price(ctx, m)
		if err != nil {
			lastErr = err
			continue
		}
		mintAccount, err := rc.deps.Chain.GetAccount(ctx, mintKey)
		if err != nil || mintAccount == nil {
			lastErr = apperr.Invalid("mint %s not found", m)
			continue
		}
		prog, err := token.ForProgramID(mintAccount.Owner)
		if err != nil {
			continue
		}
		mintView, err := prog.UnpackMint(mintAccount.Data.GetBinary())
		if err != nil {
			continue
		}
		// The oracle returns price in native (SOL) units per whole
		// token (spec.md §4.G step 2); passing solPriceUSD=1 makes
		// RequiredTokenAmount's USD-denominated formula degenerate
		// into the spec's direct SOL/token conversion.
		requiredTokenAmount, err := payment.RequiredTokenAmount(requiredLamports, decimal.NewFromInt(1), price.PriceUSD, mintView.Decimals)
		if err != nil {
			continue
		}
		if err := payment.Check(ctx, rc.deps.Chain, resolved, dest, mintKey, requiredTokenAmount); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = apperr.Payment(requiredLamports, 0, "none")
	}
	return lastErr
}

// findNativeTransferLamports sums System Program transfer
// instructions (tag 2) whose destination is dest, the native-SOL
// counterpart of payment.FindPayment.
func findNativeTransferLamports(tx *resolver.ResolvedTransaction, dest solana.PublicKey) uint64 {
	var total uint64
	for _, ix := range tx.Instructions {
		if !ix.ProgramID.Equals(solana.SystemProgramID) {
			continue
		}
		if len(ix.Data) < 12 || binary.LittleEndian.Uint32(ix.Data[0:4]) != 2 {
			continue
		}
		if len(ix.Accounts) < 2 || !ix.Accounts[1].Equals(dest) {
			continue
		}
		total += binary.LittleEndian.Uint64(ix.Data[4:12])
	}
	return total
}

func handleTransferTransaction(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	var params transferRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	source, err := solana.PublicKeyFromBase58(params.Source)
	if err != nil {
		return nil, apperr.Invalid("invalid source: %v", err)
	}
	destination, err := solana.PublicKeyFromBase58(params.Destination)
	if err != nil {
		return nil, apperr.Invalid("invalid destination: %v", err)
	}

	pool, err := ctx.deps.State.Signers()
	if err != nil {
		return nil, err
	}
	feePayer := pool.Next()

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	blockhash, _, err := ctx.deps.Chain.GetLatestBlockhash(c, rpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}

	var ix solana.Instruction
	if params.Token == "" {
		ix = newSystemTransferInstruction(source, destination, params.Amount)
	} else {
		mintKey, err := solana.PublicKeyFromBase58(params.Token)
		if err != nil {
			return nil, apperr.Invalid("invalid token mint: %v", err)
		}
		mintAccount, err := ctx.deps.Chain.GetAccount(c, mintKey)
		if err != nil || mintAccount == nil {
			return nil, apperr.TokenOp("mint %s not found", params.Token)
		}
		prog, err := token.ForProgramID(mintAccount.Owner)
		if err != nil {
			return nil, err
		}
		sourceATA, err := prog.DeriveAssociatedAddress(source, mintKey)
		if err != nil {
			return nil, apperr.Internal("derive source ata: %v", err)
		}
		destATA, err := prog.DeriveAssociatedAddress(destination, mintKey)
		if err != nil {
			return nil, apperr.Internal("derive destination ata: %v", err)
		}
		ix = prog.MakeTransfer(sourceATA, destATA, source, params.Amount)
	}

	builder := solana.NewTransactionBuilder().
		SetFeePayer(feePayer.Pubkey()).
		SetRecentBlockHash(blockhash).
		AddInstruction(ix)
	sdkTx, err := builder.Build()
	if err != nil {
		return nil, apperr.Internal("build transfer transaction: %v", err)
	}

	raw2, err := sdkTx.MarshalBinary()
	if err != nil {
		return nil, apperr.Internal("marshal transfer transaction: %v", err)
	}
	tx, err := txcodec.Decode(raw2)
	if err != nil {
		return nil, apperr.Internal("decode freshly built transaction: %v", err)
	}

	resolved, err := resolver.Resolve(c, tx, ctx.deps.Chain)
	if err != nil {
		return nil, err
	}
	policy, err := validator.PolicyFromConfig(ctx.cfg, resolved.FeePayer)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(resolved, policy); err != nil {
		return nil, err
	}

	encoded, err := txcodec.EncodeBase64(tx)
	if err != nil {
		return nil, apperr.Internal("encode transfer transaction: %v", err)
	}
	msgBytes, err := txcodec.EncodeMessage(&tx.Message)
	if err != nil {
		return nil, apperr.Internal("encode transfer message: %v", err)
	}

	return transferResult{
		Transaction:  encoded,
		Message:      txcodec.EncodeBase64Bytes(msgBytes),
		Blockhash:    blockhash.String(),
		SignerPubkey: feePayer.Pubkey().String(),
	}, nil
}

func handleUpdateConfig(ctx *requestContext, raw json.RawMessage) (interface{}, error) {
	if !ctx.cfg.Kora.AllowConfigHotReload {
		return nil, apperr.Validation("config hot-reload is disabled (kora.allow_config_hot_reload=false)")
	}

	var params updateConfigRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	next := *ctx.cfg
	if len(params.Validation) > 0 {
		if err := json.Unmarshal(params.Validation, &next.Validation); err != nil {
			return nil, apperr.Invalid("invalid validation config: %v", err)
		}
	}
	if len(params.Kora) > 0 {
		if err := json.Unmarshal(params.Kora, &next.Kora); err != nil {
			return nil, apperr.Invalid("invalid kora config: %v", err)
		}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	ctx.deps.State.SwapConfig(&next)
	return updateConfigResult{Applied: true}, nil
}

// prepareAndSign decodes a user-supplied transaction, rewrites the
// fee payer if necessary, resolves, validates, checks the usage
// limit, and signs at the fee-payer position (spec.md §4.H:
// "signTransaction ... Applies F, then D at the fee-payer position").
func prepareAndSign(ctx context.Context, rc *requestContext, txB64, signerKeyOverride string) (*txcodec.Transaction, signer.Signer, *resolver.ResolvedTransaction, error) {
	tx, err := txcodec.DecodeBase64(txB64)
	if err != nil {
		return nil, nil, nil, apperr.Invalid("decode transaction: %v", err)
	}

	pool, err := rc.deps.State.Signers()
	if err != nil {
		return nil, nil, nil, err
	}

	var chosen signer.Signer
	if signerKeyOverride != "" {
		key, err := solana.PublicKeyFromBase58(signerKeyOverride)
		if err != nil {
			return nil, nil, nil, apperr.Invalid("invalid signer_key: %v", err)
		}
		chosen, err = pool.ByPubkey(key)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		chosen = pool.Next()
	}
	rc.deps.Metrics.RecordSignerSelection(string(chosen.Metadata().Backend))

	ensureFeePayer(tx, chosen.Pubkey())

	resolved, err := resolver.Resolve(ctx, tx, rc.deps.Chain)
	if err != nil {
		return nil, nil, nil, err
	}

	policy, err := validator.PolicyFromConfig(rc.cfg, resolved.FeePayer)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := validator.Validate(resolved, policy); err != nil {
		return nil, nil, nil, err
	}

	estimate := feeest.Compute(resolved, feeest.Options{NewATACount: countNewATAInstructions(resolved)})
	if err := rc.deps.UsageLimit.CheckAndReserve(resolved.FeePayer.String(), estimate.TotalLamports); err != nil {
		return nil, nil, nil, err
	}

	sig, err := signMessage(ctx, tx, chosen)
	if err != nil {
		return nil, nil, nil, err
	}
	tx.Signatures[0] = solana.SignatureFromBytes(sig.Bytes[:])

	return tx, chosen, resolved, nil
}

// ensureFeePayer rewrites the message's position-0 account to feePayer
// when it does not already name it, discarding any existing
// signature at that position (spec.md §4.H: "the handler must also
// ensure the resolved transaction either already names the correct
// fee payer at index 0 or rewrites index 0 accordingly").
func ensureFeePayer(tx *txcodec.Transaction, feePayer solana.PublicKey) {
	if len(tx.Message.AccountKeys) == 0 {
		tx.Message.AccountKeys = []solana.PublicKey{feePayer}
	} else if !tx.Message.AccountKeys[0].Equals(feePayer) {
		tx.Message.AccountKeys[0] = feePayer
	} else {
		prepareSignatureSlots(tx)
		return
	}
	prepareSignatureSlots(tx)
	if len(tx.Signatures) > 0 {
		tx.Signatures[0] = solana.Signature{}
	}
}

func prepareSignatureSlots(tx *txcodec.Transaction) {
	need := int(tx.Message.Header.NumRequiredSignatures)
	if need == 0 {
		need = 1
	}
	for len(tx.Signatures) < need {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
}

func signMessage(ctx context.Context, tx *txcodec.Transaction, s signer.Signer) (signer.Signature, error) {
	msgBytes, err := txcodec.EncodeMessage(&tx.Message)
	if err != nil {
		return signer.Signature{}, apperr.Internal("encode message for signing: %v", err)
	}
	return s.Sign(ctx, msgBytes)
}

// newSystemTransferInstruction builds a raw native-SOL transfer
// instruction (System Program tag 2, u64 LE lamports), the same
// manual discriminator encoding validator.go already reads back
// (checkLamportCap), rather than depending on an unverified
// system-program instruction-builder package.
func newSystemTransferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return solana.NewInstruction(
		solana.SystemProgramID,
		solana.AccountMetaSlice{
			solana.Meta(from).WRITE().SIGNER(),
			solana.Meta(to).WRITE(),
		},
		data,
	)
}

// countNewATAInstructions counts associated-token-account creation
// instructions naming the fee payer as funder, the K term in
// feeest.Compute's ATA-rent line (spec.md §4.E).
func countNewATAInstructions(tx *resolver.ResolvedTransaction) int {
	count := 0
	for _, ix := range tx.Instructions {
		if ix.ProgramID.Equals(solana.SPLAssociatedTokenAccountProgramID) && len(ix.Accounts) > 0 && ix.Accounts[0].Equals(tx.FeePayer) {
			count++
		}
	}
	return count
}
