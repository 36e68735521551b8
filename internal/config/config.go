// Package config holds the process-wide relayer configuration: the
// validation policy, the Kora-specific knobs, and the external
// collaborators that are specified only at interface level (metrics,
// auth, webhook, usage limits, recaptcha, privacy).
package config

import (
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v2"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/signer"
)

// WireProtocolSignatureCap is the maximum number of signatures a
// Solana wire-format transaction can carry (the short-vec length byte
// caps out well below this, but the practical protocol limit used by
// validators is this value).
const WireProtocolSignatureCap = 255

// Config is the top-level, hot-swappable configuration handle.
type Config struct {
	Validation ValidationConfig `yaml:"validation"`
	Kora       KoraConfig       `yaml:"kora"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Auth       AuthConfig       `yaml:"auth"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	UsageLimit UsageLimitConfig `yaml:"usage_limit"`
	Recaptcha  RecaptchaConfig  `yaml:"recaptcha"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
	Bundle     BundleConfig     `yaml:"bundle"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Signers    signer.PoolConfig `yaml:"signers"`
	Server     ServerConfig     `yaml:"server"`
}

// ServerConfig holds the process's own network and chain-access
// settings, as opposed to the relaying policy in ValidationConfig.
type ServerConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	RPCEndpoint   string `yaml:"rpc_endpoint"`
	CallTimeoutMs uint32 `yaml:"call_timeout_ms"`
}

// OracleConfig selects and parameterizes the price sources behind
// component C (spec.md §4.C).
type OracleConfig struct {
	JupiterBaseURL   string            `yaml:"jupiter_base_url"`
	PythBaseURL      string            `yaml:"pyth_base_url"`
	PythFeedIDs      map[string]string `yaml:"pyth_feed_ids"`
	MockPrices       map[string]string `yaml:"mock_prices"` // mint -> decimal string, price_source: mock
	FetchTimeoutMs   uint32            `yaml:"fetch_timeout_ms"`
	RetryMaxRetries  int               `yaml:"retry_max_retries"`
	RetryBaseDelayMs int               `yaml:"retry_base_delay_ms"`
}

// ValidationConfig is the allow/deny policy enforced by the validator
// (component F) and consulted by the payment checker (component G).
type ValidationConfig struct {
	MaxAllowedLamports      uint64              `yaml:"max_allowed_lamports"`
	MaxSignatures           int                 `yaml:"max_signatures"`
	AllowedPrograms         []string            `yaml:"allowed_programs"`
	AllowedInstructions     map[string][]string `yaml:"allowed_instructions"` // program -> discriminators, or ["*"]
	AllowedTokens           []string            `yaml:"allowed_tokens"`
	AllowedSplPaidTokens    []string            `yaml:"allowed_spl_paid_tokens"`
	DisallowedAccounts      []string            `yaml:"disallowed_accounts"`
	PriceSource             string              `yaml:"price_source"` // "jupiter" | "pyth" | "mock"
	FeePayerPolicy          FeePayerPolicy      `yaml:"fee_payer_policy"`
	EnabledMethods          map[string]bool     `yaml:"enabled_methods"`
	PaymentAddressOverride  string              `yaml:"payment_address"`
	PaymentMarginBasisPoint uint64              `yaml:"payment_margin_bps"` // optional margin, default 0
}

// FeePayerPolicy enumerates the fee-payer-protection flags named in
// spec.md §9's open question. All default to deny.
type FeePayerPolicy struct {
	AllowFeePayerAsSource      bool `yaml:"allow_fee_payer_as_source"`
	AllowFeePayerAsDestination bool `yaml:"allow_fee_payer_as_destination"`
	AllowCloseToFeePayer       bool `yaml:"allow_close_to_fee_payer"`
	AllowBurnByFeePayer        bool `yaml:"allow_burn_by_fee_payer"`
}

// KoraConfig holds relayer-identity and rate-limit knobs.
type KoraConfig struct {
	RateLimitPerSecond     int    `yaml:"rate_limit_per_second"`
	PaymentAddress         string `yaml:"payment_address"`
	EnabledMethods         uint64 `yaml:"enabled_methods_bitmap"`
	AllowConfigHotReload   bool   `yaml:"allow_config_hot_reload"`
	AdminAPIKey            string `yaml:"admin_api_key"`
	UnsafeDebugErrors      bool   `yaml:"unsafe_debug_errors"`
	MaxPriceRetries        uint32 `yaml:"max_price_retries"`
	PriceRetryBaseDelayMs  uint32 `yaml:"price_retry_base_delay_ms"`
	BlockhashCacheTTLMs    uint32 `yaml:"blockhash_cache_ttl_ms"`
	TokenAccountCacheTTLHr uint32 `yaml:"token_account_cache_ttl_hours"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type AuthConfig struct {
	Enabled         bool   `yaml:"enabled"`
	APIKey          string `yaml:"api_key"`
	HMACSecret      string `yaml:"hmac_secret"`
	MaxTimestampAge int64  `yaml:"max_timestamp_age_seconds"`
}

type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type UsageLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	MaxLamportsPerWindow uint64 `yaml:"max_lamports_per_window"`
	WindowSeconds     int64  `yaml:"window_seconds"`
}

type RecaptchaConfig struct {
	Enabled   bool    `yaml:"enabled"`
	SecretKey string  `yaml:"secret_key"`
	MinScore  float64 `yaml:"min_score"`
}

type PrivacyConfig struct {
	RedactAccountAddresses bool `yaml:"redact_account_addresses"`
	RedactAmounts          bool `yaml:"redact_amounts"`
}

// BundleConfig enables submitting signed transactions as a Jito
// bundle instead of a direct broadcast (internal/bundle, spec.md §1's
// "out of scope except through interfaces").
type BundleConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BlockEngineURL string `yaml:"block_engine_url"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants from spec.md §3:
//   - allowed_tokens non-empty
//   - each mint is a valid curve point
//   - max_signatures <= wire protocol cap
//   - payment_address, if present, parses as a pubkey (whether the
//     account is executable is not checked, here or elsewhere)
func (c *Config) Validate() error {
	if len(c.Validation.AllowedTokens) == 0 {
		return apperr.Internal("config: validation.allowed_tokens must be non-empty")
	}
	for _, mint := range c.Validation.AllowedTokens {
		key, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return apperr.Internal("config: allowed_tokens entry %q is not a valid pubkey: %v", mint, err)
		}
		if !solana.IsOnCurve(key[:]) {
			return apperr.Internal("config: allowed_tokens entry %q is not on the ed25519 curve", mint)
		}
	}
	for _, mint := range c.Validation.AllowedSplPaidTokens {
		key, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return apperr.Internal("config: allowed_spl_paid_tokens entry %q is not a valid pubkey: %v", mint, err)
		}
		if !solana.IsOnCurve(key[:]) {
			return apperr.Internal("config: allowed_spl_paid_tokens entry %q is not on the ed25519 curve", mint)
		}
	}
	if c.Validation.MaxSignatures <= 0 || c.Validation.MaxSignatures > WireProtocolSignatureCap {
		return apperr.Internal("config: validation.max_signatures must be in (0, %d]", WireProtocolSignatureCap)
	}
	addr := c.Validation.PaymentAddressOverride
	if addr == "" {
		addr = c.Kora.PaymentAddress
	}
	if addr != "" {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return apperr.Internal("config: payment_address %q is not a valid pubkey: %v", addr, err)
		}
	}
	for _, acct := range c.Validation.DisallowedAccounts {
		if _, err := solana.PublicKeyFromBase58(acct); err != nil {
			return apperr.Internal("config: disallowed_accounts entry %q is not a valid pubkey: %v", acct, err)
		}
	}
	for _, prog := range c.Validation.AllowedPrograms {
		if _, err := solana.PublicKeyFromBase58(prog); err != nil {
			return apperr.Internal("config: allowed_programs entry %q is not a valid pubkey: %v", prog, err)
		}
	}
	return nil
}

// PaymentAddress resolves the override-or-default payment destination
// pubkey used by the payment checker (component G, step 1).
func (c *Config) PaymentAddress() (string, bool) {
	if c.Validation.PaymentAddressOverride != "" {
		return c.Validation.PaymentAddressOverride, true
	}
	if c.Kora.PaymentAddress != "" {
		return c.Kora.PaymentAddress, true
	}
	return "", false
}

// IsMethodEnabled reports whether the given JSON-RPC method name is
// enabled. Absence from the map means enabled by default.
func (c *Config) IsMethodEnabled(method string) bool {
	if c.Validation.EnabledMethods == nil {
		return true
	}
	enabled, ok := c.Validation.EnabledMethods[method]
	if !ok {
		return true
	}
	return enabled
}
