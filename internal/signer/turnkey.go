package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"github.com/solana-relay/kora/internal/apperr"
)

// TurnkeySigner talks to a Turnkey-style REST signing API: requests
// are authenticated with an ECDSA-P256 "stamp" (a JWS-like header
// carrying a signature over the request body), matching spec.md
// §4.D's "ECDSA-P256 JWS-like for one backend". The remote key itself
// is Ed25519; Turnkey returns a detached (r, s) pair over the raw
// message which is reassembled here into a 64-byte signature,
// right-padding each half to 32 bytes as spec.md §4.D specifies.
type TurnkeySigner struct {
	name        string
	client      *resty.Client
	organizationID string
	privateKeyID   string
	stampKey    *ecdsa.PrivateKey
	pubkey      solana.PublicKey
}

var _ Signer = (*TurnkeySigner)(nil)

type TurnkeySignerConfig struct {
	Name           string
	BaseURL        string // e.g. https://api.turnkey.com
	OrganizationID string
	PrivateKeyID   string // the remote signing key's Turnkey ID
	StampKeyPEM    string // PKCS8 PEM of the API stamping key (ECDSA P-256)
	PublicKey      string // base58 Ed25519 pubkey of the remote signing key
	Timeout        time.Duration
}

func NewTurnkeySigner(cfg TurnkeySignerConfig) (*TurnkeySigner, error) {
	if cfg.Name == "" {
		return nil, apperr.Internal("turnkey signer: missing name")
	}
	if cfg.BaseURL == "" {
		return nil, apperr.Internal("turnkey signer %q: missing base_url", cfg.Name)
	}
	if cfg.OrganizationID == "" {
		return nil, apperr.Internal("turnkey signer %q: missing organization_id", cfg.Name)
	}
	if cfg.PrivateKeyID == "" {
		return nil, apperr.Internal("turnkey signer %q: missing private_key_id", cfg.Name)
	}
	if cfg.StampKeyPEM == "" {
		return nil, apperr.Internal("turnkey signer %q: missing stamp_key_pem", cfg.Name)
	}
	if cfg.PublicKey == "" {
		return nil, apperr.Internal("turnkey signer %q: missing public_key", cfg.Name)
	}
	pub, err := solana.PublicKeyFromBase58(cfg.PublicKey)
	if err != nil {
		return nil, apperr.Internal("turnkey signer %q: invalid public_key: %v", cfg.Name, err)
	}
	stampKey, err := parseECDSAP256PEM(cfg.StampKeyPEM)
	if err != nil {
		return nil, apperr.Internal("turnkey signer %q: invalid stamp_key_pem: %v", cfg.Name, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).SetTimeout(timeout)
	return &TurnkeySigner{
		name:           cfg.Name,
		client:         client,
		organizationID: cfg.OrganizationID,
		privateKeyID:   cfg.PrivateKeyID,
		stampKey:       stampKey,
		pubkey:         pub,
	}, nil
}

func parseECDSAP256PEM(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok || ecKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("stamp key must be ECDSA P-256")
	}
	return ecKey, nil
}

type turnkeySignRequest struct {
	Type           string `json:"type"`
	OrganizationID string `json:"organizationId"`
	Parameters     struct {
		SignWith string `json:"signWith"`
		Payload  string `json:"payload"`
		Encoding string `json:"encoding"`
		HashFunction string `json:"hashFunction"`
	} `json:"parameters"`
	TimestampMs string `json:"timestampMs"`
}

type turnkeySignResponse struct {
	Activity struct {
		Result struct {
			SignRawPayloadResult struct {
				R string `json:"r"`
				S string `json:"s"`
			} `json:"signRawPayloadResult"`
		} `json:"result"`
	} `json:"activity"`
}

// stamp computes the X-Stamp header: base64url(JSON{publicKey, signature, scheme})
// over an ECDSA-SHA256 signature of the request body, a JWS-like
// construction per spec.md §4.D.
func (s *TurnkeySigner) stamp(body []byte) (string, error) {
	digest := sha256.Sum256(body)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.stampKey, digest[:])
	if err != nil {
		return "", err
	}
	type stampEnvelope struct {
		PublicKey string `json:"publicKey"`
		Signature string `json:"signature"`
		Scheme    string `json:"scheme"`
	}
	sigHex := fmt.Sprintf("%064x%064x", r, sVal)
	pubBytes := elliptic.MarshalCompressed(s.stampKey.Curve, s.stampKey.PublicKey.X, s.stampKey.PublicKey.Y)
	env := stampEnvelope{
		PublicKey: hex.EncodeToString(pubBytes),
		Signature: sigHex,
		Scheme:    "SIGNATURE_SCHEME_TK_API_P256",
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (s *TurnkeySigner) Sign(ctx context.Context, message []byte) (Signature, error) {
	req := turnkeySignRequest{
		Type:           "ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2",
		OrganizationID: s.organizationID,
		TimestampMs:    fmt.Sprintf("%d", timeNowMillis()),
	}
	req.Parameters.SignWith = s.privateKeyID
	req.Parameters.Payload = hex.EncodeToString(message)
	req.Parameters.Encoding = "PAYLOAD_ENCODING_HEXADECIMAL"
	req.Parameters.HashFunction = "HASH_FUNCTION_NOT_APPLICABLE"

	body, err := json.Marshal(req)
	if err != nil {
		return Signature{}, apperr.Signing("turnkey signer %q: marshal request: %v", s.name, err)
	}
	stampHeader, err := s.stamp(body)
	if err != nil {
		return Signature{}, apperr.Signing("turnkey signer %q: stamp request: %v", s.name, err)
	}

	resp := &turnkeySignResponse{}
	httpResp, err := s.client.R().SetContext(ctx).
		SetHeader("X-Stamp", stampHeader).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(resp).
		Post("/public/v1/submit/sign_raw_payload")
	if err != nil {
		return Signature{}, apperr.Signing("turnkey signer %q: request failed: %v", s.name, err)
	}
	if httpResp.IsError() {
		return Signature{}, apperr.Signing("turnkey signer %q: http status %d", s.name, httpResp.StatusCode())
	}

	rHex := resp.Activity.Result.SignRawPayloadResult.R
	sHex := resp.Activity.Result.SignRawPayloadResult.S
	if rHex == "" || sHex == "" {
		return Signature{}, apperr.Signing("turnkey signer %q: empty r/s in response", s.name)
	}
	rBytes, err := decodeHexPadded(rHex, 32)
	if err != nil {
		return Signature{}, apperr.Signing("turnkey signer %q: bad r: %v", s.name, err)
	}
	sBytes, err := decodeHexPadded(sHex, 32)
	if err != nil {
		return Signature{}, apperr.Signing("turnkey signer %q: bad s: %v", s.name, err)
	}
	var out Signature
	copy(out.Bytes[0:32], rBytes)
	copy(out.Bytes[32:64], sBytes)
	return out, nil
}

// decodeHexPadded decodes a hex string and right-pads (zero-extends
// on the left, i.e. big-endian semantic padding) to width bytes, per
// spec.md §4.D: "decode a detached (r, s) signature into 64 bytes
// (right-padded to 32 each)".
func decodeHexPadded(h string, width int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return nil, err
	}
	if len(raw) > width {
		return nil, fmt.Errorf("value wider than %d bytes", width)
	}
	out := make([]byte, width)
	copy(out[width-len(raw):], raw)
	return out, nil
}

func (s *TurnkeySigner) Pubkey() solana.PublicKey { return s.pubkey }

func (s *TurnkeySigner) Metadata() Metadata {
	return Metadata{Pubkey: s.pubkey, Backend: BackendTurnkey, Name: s.name}
}

// timeNowMillis is a var so tests can stub Turnkey's request timestamp.
var timeNowMillis = func() int64 {
	return time.Now().UnixMilli()
}
