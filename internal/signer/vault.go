package signer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"

	"github.com/solana-relay/kora/internal/apperr"
)

// VaultSigner signs through a HashiCorp Vault Transit backend's
// Ed25519 key. Authentication is a static token header (X-Vault-Token),
// matching spec.md §4.D's "token-header for others".
//
// Wire shape follows the same "build request, SetResult, check
// IsError" idiom as the teacher's service/svmbase/svm.go RPC client.
type VaultSigner struct {
	name      string
	client    *resty.Client
	keyName   string
	transitMP string // transit mount path, e.g. "transit"
	pubkey    solana.PublicKey
}

var _ Signer = (*VaultSigner)(nil)

// VaultSignerConfig is the subset of config needed to construct a
// VaultSigner. Missing required fields fail fast per spec.md §4.D
// ("each backend's missing-required-field fails fast with a
// config-validation error that names the missing field").
type VaultSignerConfig struct {
	Name         string
	Address      string // e.g. https://vault.internal:8200
	Token        string
	TransitMount string // defaults to "transit"
	KeyName      string
	PublicKey    string // base58 Ed25519 pubkey, known up front from Vault key metadata
	Timeout      time.Duration
}

func NewVaultSigner(cfg VaultSignerConfig) (*VaultSigner, error) {
	if cfg.Name == "" {
		return nil, apperr.Internal("vault signer: missing name")
	}
	if cfg.Address == "" {
		return nil, apperr.Internal("vault signer %q: missing address", cfg.Name)
	}
	if cfg.Token == "" {
		return nil, apperr.Internal("vault signer %q: missing token", cfg.Name)
	}
	if cfg.KeyName == "" {
		return nil, apperr.Internal("vault signer %q: missing key_name", cfg.Name)
	}
	if cfg.PublicKey == "" {
		return nil, apperr.Internal("vault signer %q: missing public_key", cfg.Name)
	}
	pub, err := solana.PublicKeyFromBase58(cfg.PublicKey)
	if err != nil {
		return nil, apperr.Internal("vault signer %q: invalid public_key: %v", cfg.Name, err)
	}
	mount := cfg.TransitMount
	if mount == "" {
		mount = "transit"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Address, "/")).
		SetTimeout(timeout).
		SetHeader("X-Vault-Token", cfg.Token)
	return &VaultSigner{
		name:      cfg.Name,
		client:    client,
		keyName:   cfg.KeyName,
		transitMP: mount,
		pubkey:    pub,
	}, nil
}

type vaultSignRequest struct {
	Input             string `json:"input"`
	SignatureAlgorithm string `json:"signature_algorithm,omitempty"`
}

type vaultSignResponse struct {
	Data struct {
		Signature string `json:"signature"`
	} `json:"data"`
	Errors []string `json:"errors"`
}

func (s *VaultSigner) Sign(ctx context.Context, message []byte) (Signature, error) {
	path := fmt.Sprintf("/v1/%s/sign/%s", s.transitMP, s.keyName)
	body := vaultSignRequest{Input: base64.StdEncoding.EncodeToString(message)}

	resp := &vaultSignResponse{}
	httpResp, err := s.client.R().SetContext(ctx).
		SetBody(body).
		SetResult(resp).
		Post(path)
	if err != nil {
		return Signature{}, apperr.Signing("vault signer %q: request failed: %v", s.name, err)
	}
	if httpResp.IsError() {
		return Signature{}, apperr.Signing("vault signer %q: http status %d", s.name, httpResp.StatusCode())
	}
	if len(resp.Errors) > 0 {
		return Signature{}, apperr.Signing("vault signer %q: %s", s.name, strings.Join(resp.Errors, "; "))
	}

	// Vault's ciphertext/signature marker format is "vault:v<version>:<base64>".
	parts := strings.SplitN(resp.Data.Signature, ":", 3)
	if len(parts) != 3 {
		return Signature{}, apperr.Signing("vault signer %q: malformed signature marker %q", s.name, resp.Data.Signature)
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return Signature{}, apperr.Signing("vault signer %q: bad signature encoding: %v", s.name, err)
	}
	if len(raw) != 64 {
		return Signature{}, apperr.Signing("vault signer %q: expected 64-byte signature, got %d", s.name, len(raw))
	}
	var out Signature
	copy(out.Bytes[:], raw)
	log.Debug("vault transit signature produced", "signer", s.name, "key", s.keyName)
	return out, nil
}

func (s *VaultSigner) Pubkey() solana.PublicKey { return s.pubkey }

func (s *VaultSigner) Metadata() Metadata {
	return Metadata{Pubkey: s.pubkey, Backend: BackendVault, Name: s.name}
}
