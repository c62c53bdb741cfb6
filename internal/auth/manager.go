package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tronrun/agentruntime/internal/providers"
)

// refreshLeeway refreshes tokens slightly before their actual expiry
// so an in-flight request never carries a token that dies mid-call.
const refreshLeeway = 60 * time.Second

// TokenRefresher exchanges a refresh token for a new token set at the
// provider's token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (OAuthTokenSet, error)
}

// CredentialManager implements providers.CredentialSource for one
// provider, resolving with the documented precedence: env-var override
// -> named account (explicit or first) -> legacy oauth -> apiKey. A
// per-provider mutex with a double-checked expiry comparison ensures
// at most one refresh is in flight.
type CredentialManager struct {
	store      *Store
	providerID string
	account    string // explicit account label; empty picks the first
	envVar     string // e.g. ANTHROPIC_API_KEY
	refresher  TokenRefresher

	refreshMu sync.Mutex
}

// NewCredentialManager wires a manager. refresher may be nil for
// providers without OAuth.
func NewCredentialManager(store *Store, providerID, account, envVar string, refresher TokenRefresher) *CredentialManager {
	return &CredentialManager{
		store:      store,
		providerID: providerID,
		account:    account,
		envVar:     envVar,
		refresher:  refresher,
	}
}

// Credential resolves the current credential, refreshing OAuth tokens
// when they are about to expire.
func (m *CredentialManager) Credential(ctx context.Context) (providers.Credential, error) {
	if m.envVar != "" {
		if key := os.Getenv(m.envVar); key != "" {
			return providers.Credential{APIKey: key}, nil
		}
	}

	creds, ok := m.store.Provider(m.providerID)
	if !ok {
		return providers.Credential{}, fmt.Errorf("auth: no credentials for provider %q", m.providerID)
	}

	label, tokens := m.pickOAuth(creds)
	if tokens != nil {
		current, err := m.ensureFresh(ctx, label, *tokens)
		if err != nil {
			// Refresh failures fall back to the API key when one exists.
			if creds.APIKey != "" {
				slog.Warn("auth: oauth refresh failed, falling back to api key",
					"provider", m.providerID, "error", err)
				return providers.Credential{APIKey: creds.APIKey}, nil
			}
			return providers.Credential{}, err
		}
		return providers.Credential{AccessToken: current.AccessToken}, nil
	}

	if creds.APIKey != "" {
		return providers.Credential{APIKey: creds.APIKey}, nil
	}
	return providers.Credential{}, fmt.Errorf("auth: provider %q has neither oauth nor api key", m.providerID)
}

// pickOAuth applies the account-selection precedence.
func (m *CredentialManager) pickOAuth(creds ProviderCredentials) (string, *OAuthTokenSet) {
	if m.account != "" {
		for _, acct := range creds.Accounts {
			if acct.Label == m.account {
				t := acct.OAuth
				return acct.Label, &t
			}
		}
		return "", nil // explicit account not found: no silent fallback
	}
	if len(creds.Accounts) > 0 {
		t := creds.Accounts[0].OAuth
		return creds.Accounts[0].Label, &t
	}
	if creds.OAuth != nil {
		t := *creds.OAuth
		return "", &t
	}
	return "", nil
}

// ensureFresh refreshes the token set when it is close to expiry. The
// double-check inside the lock makes concurrent callers piggyback on a
// single refresh.
func (m *CredentialManager) ensureFresh(ctx context.Context, label string, tokens OAuthTokenSet) (OAuthTokenSet, error) {
	if !tokens.ExpiresWithin(refreshLeeway) || tokens.RefreshToken == "" || m.refresher == nil {
		return tokens, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	creds, _ := m.store.Provider(m.providerID)
	if _, current := m.pickOAuth(creds); current != nil && !current.ExpiresWithin(refreshLeeway) {
		return *current, nil
	}

	refreshed, err := m.refresher.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return OAuthTokenSet{}, fmt.Errorf("auth: refresh %s: %w", m.providerID, err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if err := m.store.SetProviderOAuth(m.providerID, label, refreshed); err != nil {
		return OAuthTokenSet{}, err
	}
	slog.Info("auth: refreshed oauth token", "provider", m.providerID, "account", label)
	return refreshed, nil
}
