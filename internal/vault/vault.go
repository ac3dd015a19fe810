package vault

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nordledger/gateway/internal/core"
)

// TokenStore is the slice of the database adapter the vault needs.
type TokenStore interface {
	StoreConsentTokens(ctx context.Context, tokens *core.ConsentTokens) error
	GetConsentTokens(ctx context.Context, consentID string) (*core.ConsentTokens, error)
}

// Refresher performs the vendor-specific credential refresh. OAuth vendors
// run a refresh grant, client-credentials vendors run a fresh grant, and
// static-token vendors return the tokens unchanged.
type Refresher interface {
	Refresh(ctx context.Context, provider core.Provider, tokens *core.ConsentTokens) (*core.ConsentTokens, error)
}

// Vault persists consent tokens with the cipher applied and returns plaintext
// to request-path callers. A nil cipher is plaintext mode, permitted only for
// development.
type Vault struct {
	cipher *Cipher
	store  TokenStore
	logger *log.Logger
}

// New creates a vault over the given store. cipher may be nil.
func New(cipher *Cipher, store TokenStore) *Vault {
	return &Vault{
		cipher: cipher,
		store:  store,
		logger: log.New(log.Writer(), "[VAULT] ", log.LstdFlags),
	}
}

// Encrypting reports whether at-rest encryption is active.
func (v *Vault) Encrypting() bool { return v.cipher != nil }

// Store upserts the tokens for a consent, ciphering secrets when a key is
// configured and recording the encryption time.
func (v *Vault) Store(ctx context.Context, tokens *core.ConsentTokens) error {
	stored := *tokens
	if v.cipher != nil {
		var err error
		if stored.AccessToken, err = v.cipher.Encrypt(tokens.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if tokens.RefreshToken != "" {
			if stored.RefreshToken, err = v.cipher.Encrypt(tokens.RefreshToken); err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}
		now := time.Now().UTC()
		stored.EncryptedAt = &now
	}
	stored.UpdatedAt = time.Now().UTC()
	return v.store.StoreConsentTokens(ctx, &stored)
}

// Load returns the plaintext tokens for a consent, or nil when none are
// stored. A ciphertext failure is returned as-is so the pipeline can map it
// to a 500-class response; there is no plaintext fallback.
func (v *Vault) Load(ctx context.Context, consentID string) (*core.ConsentTokens, error) {
	stored, err := v.store.GetConsentTokens(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	if v.cipher == nil || stored.EncryptedAt == nil {
		return stored, nil
	}

	plain := *stored
	if plain.AccessToken, err = v.cipher.Decrypt(stored.AccessToken); err != nil {
		return nil, err
	}
	if stored.RefreshToken != "" {
		if plain.RefreshToken, err = v.cipher.Decrypt(stored.RefreshToken); err != nil {
			return nil, err
		}
	}
	return &plain, nil
}

// RefreshIfExpired checks the token expiry and, when past due, runs the
// vendor refresh flow and persists the new pair. The refreshed plaintext
// tokens are returned; callers already holding fresh tokens get them back
// unchanged.
func (v *Vault) RefreshIfExpired(ctx context.Context, provider core.Provider, tokens *core.ConsentTokens, r Refresher) (*core.ConsentTokens, error) {
	if !tokens.Expired(time.Now()) {
		return tokens, nil
	}
	refreshed, err := r.Refresh(ctx, provider, tokens)
	if err != nil {
		return nil, fmt.Errorf("refresh %s tokens for consent %s: %w", provider, tokens.ConsentID, err)
	}
	refreshed.ConsentID = tokens.ConsentID
	refreshed.Provider = provider
	if refreshed.CompanyID == "" {
		refreshed.CompanyID = tokens.CompanyID
	}
	if err := v.Store(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	v.logger.Printf("refreshed %s tokens for consent %s", provider, tokens.ConsentID)
	return refreshed, nil
}
