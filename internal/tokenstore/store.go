// Package tokenstore provides persistence backends for Google token records.
package tokenstore

import (
	"fmt"
	"io"

	"github.com/teemow/jarvis/internal/google"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Dir     string
	// EncryptionKey enables AES-256-GCM at rest when set (32 bytes).
	EncryptionKey []byte
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open creates the configured token store. The returned closer releases
// backend resources and must be called when the store is no longer used.
func Open(opts Options) (google.TokenStore, io.Closer, error) {
	enc, err := NewEncryptor(opts.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}

	dir := opts.Dir
	if dir == "" && opts.Backend != BackendMemory {
		if dir, err = DefaultDir(); err != nil {
			return nil, nil, err
		}
	}

	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(dir, enc), nopCloser{}, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(dir, enc)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendMemory:
		return NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store %q, must be one of: file, sqlite, memory", opts.Backend)
	}
}
