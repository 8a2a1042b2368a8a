package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/wingdesk/internal/api"
)

// TokenFile is the single fixed name the bearer token is stored under.
const TokenFile = "token.yaml"

// Credentials is what a successful login leaves on disk.
type Credentials struct {
	Token   string   `yaml:"token"`
	User    api.User `yaml:"user"`
	SavedAt int64    `yaml:"saved_at"`
}

// Expired reports whether the token's exp claim is in the past. Tokens without
// a readable exp never expire locally; the server still gets the final say.
func (c *Credentials) Expired(now time.Time) bool {
	exp, ok := TokenExpiry(c.Token)
	if !ok {
		return false
	}
	return !now.Before(exp)
}

type TokenStore struct {
	Dir string
}

func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{Dir: dir}
}

func (s *TokenStore) tokenPath() string {
	return filepath.Join(s.Dir, TokenFile)
}

func (s *TokenStore) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if creds.SavedAt == 0 {
		creds.SavedAt = time.Now().Unix()
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(s.tokenPath(), data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Load returns nil, nil when no token is stored.
func (s *TokenStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.tokenPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if creds.Token == "" {
		return nil, nil
	}
	return &creds, nil
}

func (s *TokenStore) Delete() error {
	err := os.Remove(s.tokenPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
