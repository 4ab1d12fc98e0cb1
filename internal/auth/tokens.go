package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lalith-99/crosstalk/internal/models"
)

// TokenStore persists credentials, one entry per team, in a single JSON
// file. The file holds an array rather than an object because entry order
// matters: it is authorization order, which the Session Manager uses as the
// default team ordering.
//
// Credentials are stored as-is. The store knows nothing about what an
// access token means; that's the driver's business.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// LoadAll reads every stored credential in file order. A missing file is
// an empty store, not an error.
func (s *TokenStore) LoadAll() ([]*models.Credential, error) {
	dat, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	var creds []*models.Credential
	if err := json.Unmarshal(dat, &creds); err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}
	return creds, nil
}

// Load returns the credential for one team key, or nil if absent.
func (s *TokenStore) Load(key string) (*models.Credential, error) {
	creds, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		if c.Key() == key {
			return c, nil
		}
	}
	return nil, nil
}

// Save inserts or replaces the credential for its team key, preserving the
// position of an existing entry.
func (s *TokenStore) Save(cred *models.Credential) error {
	creds, err := s.LoadAll()
	if err != nil {
		return err
	}
	replaced := false
	for i, c := range creds {
		if c.Key() == cred.Key() {
			creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, cred)
	}
	return s.write(creds)
}

// Delete removes the credential for a team key. Removing an absent key is
// a no-op.
func (s *TokenStore) Delete(key string) error {
	creds, err := s.LoadAll()
	if err != nil {
		return err
	}
	out := creds[:0]
	for _, c := range creds {
		if c.Key() != key {
			out = append(out, c)
		}
	}
	return s.write(out)
}

// write replaces the token file atomically: temp file in the same
// directory, then rename. A crash mid-write leaves the old file intact.
func (s *TokenStore) write(creds []*models.Credential) error {
	dat, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(dat); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close token file: %w", err)
	}
	// Tokens are secrets; keep the file owner-only.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
