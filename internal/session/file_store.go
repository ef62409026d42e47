package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes the credential to a JSON file on disk.
type FileStore struct {
	path string
}

// NewFileStore builds a FileStore rooted at the provided path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the credential from disk. A missing file resolves to an empty
// credential.
func (s *FileStore) Load() (Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credential{}, nil
		}
		return Credential{}, fmt.Errorf("read credential cache: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("decode credential cache: %w", err)
	}
	return cred, nil
}

// Save persists the credential with owner-only permissions.
func (s *FileStore) Save(cred Credential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure credential cache directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential cache: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential cache: %w", err)
	}
	return nil
}
