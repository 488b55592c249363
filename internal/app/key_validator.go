/**
 * @description
 * KeyValidator turns a presented API key into a SubscriberContext. It enforces the key
 * format before touching the credential store, compares digests in constant time, and
 * derives the caller's tier from the subscription and trial fields.
 *
 * @dependencies
 * - crypto/subtle: Constant-time digest comparison.
 * - internal/store: CredentialStore lookups by key digest.
 */

package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
)

// AuthMode selects whether calls must present a subscriber key.
type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

// ParseAuthMode parses the configured auth mode. Empty means required.
func ParseAuthMode(raw string) (AuthMode, error) {
	switch AuthMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AuthModeRequired:
		return AuthModeRequired, nil
	case AuthModeDisabled:
		return AuthModeDisabled, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (want required or disabled)", raw)
	}
}

// KeyValidator authenticates and entitles callers.
type KeyValidator struct {
	store store.CredentialStore
	mode  AuthMode
	now   func() time.Time
}

// NewKeyValidator creates a validator. In disabled mode the store is never consulted.
func NewKeyValidator(credentials store.CredentialStore, mode AuthMode) *KeyValidator {
	if mode == "" {
		mode = AuthModeRequired
	}
	return &KeyValidator{store: credentials, mode: mode, now: time.Now}
}

// Mode returns the configured auth mode.
func (v *KeyValidator) Mode() AuthMode {
	return v.mode
}

// Validate resolves presentedKey to the caller's context.
func (v *KeyValidator) Validate(ctx context.Context, presentedKey string) (domain.SubscriberContext, error) {
	if v.mode == AuthModeDisabled {
		return domain.SubscriberContext{SubscriberID: domain.AnonymousSubscriberID, Tier: domain.TierFree}, nil
	}

	key := strings.TrimSpace(presentedKey)
	if key == "" {
		return domain.SubscriberContext{}, domain.ErrMissingCredential
	}
	if !ValidAPIKeyFormat(key) {
		return domain.SubscriberContext{}, domain.ErrMalformedCredential
	}

	digest := HashAPIKey(key)
	sub, err := v.store.FindSubscriberByKeyHash(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrSubscriberNotFound) {
			return domain.SubscriberContext{}, domain.ErrInvalidCredential
		}
		log.Printf("level=warn component=auth msg=\"credential store lookup failed\" err=%v", err)
		return domain.SubscriberContext{}, domain.ErrStoreUnavailable.WithCause(err)
	}
	if sub == nil || subtle.ConstantTimeCompare([]byte(sub.APIKeyHash), []byte(digest)) != 1 {
		return domain.SubscriberContext{}, domain.ErrInvalidCredential
	}

	now := v.now()
	if !sub.Entitled(now) {
		return domain.SubscriberContext{}, domain.ErrEntitlementExpired
	}

	return domain.SubscriberContext{SubscriberID: sub.ID, Tier: sub.TierAt(now)}, nil
}
