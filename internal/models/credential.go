package models

import (
	"path/filepath"
	"strings"
	"time"
)

// CredentialType is the discriminator a record must carry to be recognized.
const CredentialType = "antigravity"

// CredentialFilePrefix is the file name prefix for on-disk credential records.
const CredentialFilePrefix = "antigravity-"

// Credential is one account's on-disk OAuth record.
type Credential struct {
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	Expired      string `json:"expired,omitempty"`
	Type         string `json:"type"`
}

// Usable reports whether the record belongs to the working set.
// A record without a refresh token or with a foreign type tag is skipped
// entirely, it is not an error.
func (c *Credential) Usable() bool {
	return c != nil && strings.TrimSpace(c.RefreshToken) != "" && c.Type == CredentialType
}

// Identity returns the account identity: the stored email, or the backing
// file's base name when the email field is absent.
func (c *Credential) Identity(path string) string {
	if c != nil && c.Email != "" {
		return c.Email
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ExpiresAt resolves the record's expiry marker. The derived ISO field wins;
// otherwise the issued-at timestamp plus lifetime is used. ok is false when
// the record carries no expiry information at all.
func (c *Credential) ExpiresAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	if c.Expired != "" {
		if t, err := time.Parse(time.RFC3339, c.Expired); err == nil {
			return t, true
		}
	}
	if c.Timestamp > 0 && c.ExpiresIn > 0 {
		return time.UnixMilli(c.Timestamp).Add(time.Duration(c.ExpiresIn) * time.Second), true
	}
	return time.Time{}, false
}

// SanitizeIdentity maps an identity to a filesystem-safe file name fragment.
func SanitizeIdentity(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CredentialFileName builds the canonical file name for an identity.
func CredentialFileName(identity string) string {
	return CredentialFilePrefix + SanitizeIdentity(identity) + ".json"
}

// StoredCredential pairs a parsed record with its backing file location.
type StoredCredential struct {
	Path       string
	Credential *Credential
}
