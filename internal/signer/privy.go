package signer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"github.com/solana-relay/kora/internal/apperr"
)

// PrivySigner talks to the Privy wallet-API's raw-sign endpoint,
// authenticated with a static app-id/secret token header pair
// (spec.md §4.D: "token-header for others").
type PrivySigner struct {
	name     string
	client   *resty.Client
	walletID string
	pubkey   solana.PublicKey
}

var _ Signer = (*PrivySigner)(nil)

type PrivySignerConfig struct {
	Name      string
	BaseURL   string
	AppID     string
	AppSecret string
	WalletID  string
	PublicKey string
	Timeout   time.Duration
}

func NewPrivySigner(cfg PrivySignerConfig) (*PrivySigner, error) {
	if cfg.Name == "" {
		return nil, apperr.Internal("privy signer: missing name")
	}
	if cfg.BaseURL == "" {
		return nil, apperr.Internal("privy signer %q: missing base_url", cfg.Name)
	}
	if cfg.AppID == "" {
		return nil, apperr.Internal("privy signer %q: missing app_id", cfg.Name)
	}
	if cfg.AppSecret == "" {
		return nil, apperr.Internal("privy signer %q: missing app_secret", cfg.Name)
	}
	if cfg.WalletID == "" {
		return nil, apperr.Internal("privy signer %q: missing wallet_id", cfg.Name)
	}
	if cfg.PublicKey == "" {
		return nil, apperr.Internal("privy signer %q: missing public_key", cfg.Name)
	}
	pub, err := solana.PublicKeyFromBase58(cfg.PublicKey)
	if err != nil {
		return nil, apperr.Internal("privy signer %q: invalid public_key: %v", cfg.Name, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	basicAuth := base64.StdEncoding.EncodeToString([]byte(cfg.AppID + ":" + cfg.AppSecret))
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("privy-app-id", cfg.AppID).
		SetHeader("Authorization", "Basic "+basicAuth)
	return &PrivySigner{name: cfg.Name, client: client, walletID: cfg.WalletID, pubkey: pub}, nil
}

type privySignRequest struct {
	Method string `json:"method"`
	Params struct {
		Message  string `json:"message"`
		Encoding string `json:"encoding"`
	} `json:"params"`
}

type privySignResponse struct {
	Data struct {
		Signature string `json:"signature"`
	} `json:"data"`
}

func (s *PrivySigner) Sign(ctx context.Context, message []byte) (Signature, error) {
	req := privySignRequest{Method: "signMessage"}
	req.Params.Message = base64.StdEncoding.EncodeToString(message)
	req.Params.Encoding = "base64"

	resp := &privySignResponse{}
	path := fmt.Sprintf("/v1/wallets/%s/rpc", s.walletID)
	httpResp, err := s.client.R().SetContext(ctx).
		SetBody(req).
		SetResult(resp).
		Post(path)
	if err != nil {
		return Signature{}, apperr.Signing("privy signer %q: request failed: %v", s.name, err)
	}
	if httpResp.IsError() {
		return Signature{}, apperr.Signing("privy signer %q: http status %d", s.name, httpResp.StatusCode())
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data.Signature)
	if err != nil {
		return Signature{}, apperr.Signing("privy signer %q: bad signature encoding: %v", s.name, err)
	}
	if len(raw) != 64 {
		return Signature{}, apperr.Signing("privy signer %q: expected 64-byte signature, got %d", s.name, len(raw))
	}
	var out Signature
	copy(out.Bytes[:], raw)
	return out, nil
}

func (s *PrivySigner) Pubkey() solana.PublicKey { return s.pubkey }

func (s *PrivySigner) Metadata() Metadata {
	return Metadata{Pubkey: s.pubkey, Backend: BackendPrivy, Name: s.name}
}
