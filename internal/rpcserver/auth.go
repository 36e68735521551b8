package rpcserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/solana-relay/kora/internal/apperr"
	"github.com/solana-relay/kora/internal/config"
)

// authenticate checks the x-api-key / x-hmac-signature / x-timestamp
// headers per spec.md §6. liveness always bypasses auth. updateConfig
// additionally requires x-api-key to match kora.admin_api_key even
// when general auth is disabled (SPEC_FULL.md §6's admin auth note) —
// it is never reachable unauthenticated.
func authenticate(cfg *config.Config, method string, apiKey, hmacSig, timestamp, body string) error {
	if method == "liveness" {
		return nil
	}

	if method == "updateConfig" {
		if cfg.Kora.AdminAPIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.Kora.AdminAPIKey)) != 1 {
			return apperr.New(apperr.KindRecaptchaError, "updateConfig requires a valid admin api key")
		}
	}

	if !cfg.Auth.Enabled {
		return nil
	}

	if cfg.Auth.APIKey != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.Auth.APIKey)) != 1 {
		return apperr.New(apperr.KindRecaptchaError, "invalid api key")
	}

	if cfg.Auth.HMACSecret != "" {
		if err := checkTimestamp(timestamp, cfg.Auth.MaxTimestampAge); err != nil {
			return err
		}
		expected := hmac.New(sha256.New, []byte(cfg.Auth.HMACSecret))
		expected.Write([]byte(timestamp + "." + body))
		want := hex.EncodeToString(expected.Sum(nil))
		if subtle.ConstantTimeCompare([]byte(hmacSig), []byte(want)) != 1 {
			return apperr.New(apperr.KindRecaptchaError, "invalid hmac signature")
		}
	}

	return nil
}

func checkTimestamp(raw string, maxAge int64) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return apperr.New(apperr.KindRecaptchaError, "missing or malformed x-timestamp header")
	}
	if maxAge <= 0 {
		maxAge = 300
	}
	age := time.Now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > maxAge {
		return apperr.New(apperr.KindRecaptchaError, "x-timestamp is outside the allowed window")
	}
	return nil
}
