package signer

import (
	"time"

	"github.com/solana-relay/kora/internal/apperr"
)

// PoolConfig enumerates named signers and the selection strategy, the
// shape loaded from the `signers` section of the config file.
type PoolConfig struct {
	Strategy Strategy       `yaml:"strategy"`
	Signers  []SignerConfig `yaml:"signers"`
}

// SignerConfig is a tagged-union entry: Type selects which backend
// fields apply. Exactly one backend's required fields must be set.
type SignerConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // "memory" | "vault_transit" | "turnkey" | "privy"
	Weight int    `yaml:"weight"`

	// memory
	PrivateKey string `yaml:"private_key"`

	// vault_transit
	VaultAddress string `yaml:"vault_address"`
	VaultToken   string `yaml:"vault_token"`
	TransitMount string `yaml:"transit_mount"`
	KeyName      string `yaml:"key_name"`

	// turnkey
	TurnkeyBaseURL      string `yaml:"turnkey_base_url"`
	OrganizationID      string `yaml:"organization_id"`
	PrivateKeyID        string `yaml:"private_key_id"`
	StampKeyPEM         string `yaml:"stamp_key_pem"`

	// privy
	PrivyBaseURL string `yaml:"privy_base_url"`
	AppID        string `yaml:"app_id"`
	AppSecret    string `yaml:"app_secret"`
	WalletID     string `yaml:"wallet_id"`

	// shared across remote backends
	PublicKey string        `yaml:"public_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// BuildPool constructs every configured signer backend and assembles
// a Pool. Each backend constructor fails fast naming its first
// missing required field (spec.md §4.D).
func BuildPool(cfg PoolConfig) (*Pool, error) {
	if len(cfg.Signers) == 0 {
		return nil, apperr.Internal("signer pool config: no signers configured")
	}
	signers := make([]Signer, 0, len(cfg.Signers))
	weights := make([]int, 0, len(cfg.Signers))
	for _, sc := range cfg.Signers {
		s, err := buildOne(sc)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
		w := sc.Weight
		if w <= 0 {
			w = 1
		}
		weights = append(weights, w)
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return NewPool(strategy, signers, weights)
}

func buildOne(sc SignerConfig) (Signer, error) {
	switch sc.Type {
	case string(BackendMemory), "":
		return NewMemorySigner(sc.Name, sc.PrivateKey)
	case string(BackendVault):
		return NewVaultSigner(VaultSignerConfig{
			Name:         sc.Name,
			Address:      sc.VaultAddress,
			Token:        sc.VaultToken,
			TransitMount: sc.TransitMount,
			KeyName:      sc.KeyName,
			PublicKey:    sc.PublicKey,
			Timeout:      sc.Timeout,
		})
	case string(BackendTurnkey):
		return NewTurnkeySigner(TurnkeySignerConfig{
			Name:           sc.Name,
			BaseURL:        sc.TurnkeyBaseURL,
			OrganizationID: sc.OrganizationID,
			PrivateKeyID:   sc.PrivateKeyID,
			StampKeyPEM:    sc.StampKeyPEM,
			PublicKey:      sc.PublicKey,
			Timeout:        sc.Timeout,
		})
	case string(BackendPrivy):
		return NewPrivySigner(PrivySignerConfig{
			Name:      sc.Name,
			BaseURL:   sc.PrivyBaseURL,
			AppID:     sc.AppID,
			AppSecret: sc.AppSecret,
			WalletID:  sc.WalletID,
			PublicKey: sc.PublicKey,
			Timeout:   sc.Timeout,
		})
	default:
		return nil, apperr.Internal("signer pool config: unknown signer type %q for %q", sc.Type, sc.Name)
	}
}
