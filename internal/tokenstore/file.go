package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/teemow/jarvis/internal/google"
)

// FileStore keeps one token file per account in a private directory.
// Files are written atomically (temp file and rename) with mode 0600.
type FileStore struct {
	dir string
	enc *Encryptor
}

// DefaultDir returns the default token directory, $XDG_CACHE_HOME/jarvis or
// the platform equivalent.
func DefaultDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine cache directory: %w", err)
	}
	return filepath.Join(cacheDir, "jarvis"), nil
}

// NewFileStore creates a file store rooted at dir. enc may be nil.
func NewFileStore(dir string, enc *Encryptor) *FileStore {
	return &FileStore{dir: dir, enc: enc}
}

// Path returns the token file path for account.
func (s *FileStore) Path(account string) string {
	return filepath.Join(s.dir, fmt.Sprintf("google-%s.token", account))
}

// Load implements google.TokenStore.
func (s *FileStore) Load(_ context.Context, account string) (*google.TokenRecord, error) {
	if err := google.ValidateAccountName(account); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(account))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, google.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return decode(data, s.enc)
}

// Save implements google.TokenStore.
func (s *FileStore) Save(_ context.Context, account string, rec *google.TokenRecord) error {
	if err := google.ValidateAccountName(account); err != nil {
		return err
	}
	data, err := encode(rec, s.enc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".google-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(account)); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Delete implements google.TokenStore. Deleting a missing file is not an error.
func (s *FileStore) Delete(_ context.Context, account string) error {
	if err := google.ValidateAccountName(account); err != nil {
		return err
	}
	if err := os.Remove(s.Path(account)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
