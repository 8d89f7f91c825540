package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TokenBundle is the persisted OAuth token state for one provider.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExpiresAt returns the absolute expiry instant. Bundles without expiry
// never expire.
func (t *TokenBundle) ExpiresAt() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ExpiresWithin reports whether the bundle expires within d of now.
func (t *TokenBundle) ExpiresWithin(d time.Duration) bool {
	exp := t.ExpiresAt()
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) < d
}

// tokenPath returns the token file location for a provider.
func tokenPath(stateDir, provider string) string {
	return filepath.Join(stateDir, provider+".json")
}

// loadTokenBundle reads a provider's token file. A missing file returns
// (nil, nil).
func loadTokenBundle(stateDir, provider string) (*TokenBundle, error) {
	raw, err := os.ReadFile(tokenPath(stateDir, provider))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file for %s: %w", provider, err)
	}
	var bundle TokenBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parsing token file for %s: %w", provider, err)
	}
	return &bundle, nil
}

// saveTokenBundle writes the bundle with owner-only permissions using a
// temp-file rename so readers never observe a partial file.
func saveTokenBundle(stateDir, provider string, bundle *TokenBundle) error {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("creating auth state dir: %w", err)
	}

	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token bundle for %s: %w", provider, err)
	}

	path := tokenPath(stateDir, provider)
	tmp, err := os.CreateTemp(stateDir, provider+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp token file for %s: %w", provider, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting token file mode for %s: %w", provider, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing token file for %s: %w", provider, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing token file for %s: %w", provider, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("installing token file for %s: %w", provider, err)
	}
	return nil
}

// removeTokenBundle deletes a provider's token file.
func removeTokenBundle(stateDir, provider string) error {
	err := os.Remove(tokenPath(stateDir, provider))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file for %s: %w", provider, err)
	}
	return nil
}
