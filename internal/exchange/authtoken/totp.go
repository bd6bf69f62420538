// Package authtoken mints the bearer token wsfeed needs to open a signed
// WebSocket subscription, grounded on the teacher's cmd/mdengine login
// loop: a TOTP code generated from an operator-provisioned secret, traded
// for a session token with exponential backoff on failure. Generalized
// from Angel One's clientcode/password/TOTP three-factor login to a
// single TOTP-gated token exchange, since Coinbase-shaped key auth needs
// only the second factor to mint a streaming token.
package authtoken

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-systemv1/internal/apperr"
	"trading-systemv1/internal/exchange"
)

// Exchanger trades a freshly generated TOTP code for a bearer token. A
// concrete Coinbase/CDP implementation posts the code (plus API key/secret)
// to the exchange's token endpoint; kept as an interface here so this
// package never imports net/http.
type Exchanger interface {
	ExchangeCode(ctx context.Context, totpCode string) (token string, expiresAt time.Time, err error)
}

// Config configures the minter.
type Config struct {
	TOTPSecret   string
	InitialBackoff time.Duration // default 30s
	MaxBackoff     time.Duration // default 5m
	MaxAttempts    int           // default 5, 0 means "use default"
}

// Minter implements exchange.TokenMinter by generating a TOTP code and
// exchanging it via an Exchanger, retrying with exponential backoff.
type Minter struct {
	cfg Config
	ex  Exchanger
}

var _ exchange.TokenMinter = (*Minter)(nil)

func New(cfg Config, ex Exchanger) *Minter {
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	return &Minter{cfg: cfg, ex: ex}
}

// Mint generates a TOTP code and exchanges it via ex, retrying on apperr.New
// Kind by apperr.Backoff.Retry: a code-generation failure is a local bug
// (Validation, not retried) while an exchange failure is assumed transient
// network trouble unless ex classifies it otherwise.
func (m *Minter) Mint(ctx context.Context) (string, time.Time, error) {
	backoff := apperr.Backoff{Base: m.cfg.InitialBackoff, Max: m.cfg.MaxBackoff, MaxRetries: m.cfg.MaxAttempts - 1}
	var token string
	var expiresAt time.Time
	err := backoff.Retry(ctx, func() error {
		code, err := totp.GenerateCode(m.cfg.TOTPSecret, time.Now())
		if err != nil {
			return apperr.Validation("authtoken.generate_code", err)
		}
		tok, exp, err := m.ex.ExchangeCode(ctx, code)
		if err != nil {
			return fmt.Errorf("authtoken: exchange code: %w", err)
		}
		token, expiresAt = tok, exp
		return nil
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("authtoken: mint failed: %w", err)
	}
	return token, expiresAt, nil
}
