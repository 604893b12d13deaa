package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const backendFile = "file"

// FileStore keeps the token in a small JSON file readable only by the
// current user (0600). Writes go to a temporary file in the same directory
// and are renamed into place, so a crash never leaves a half-written token.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// NewFileStore returns a FileStore at path. The file and its directory are
// created on the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the token file location.
func (f *FileStore) Path() string {
	return f.path
}

// Get reads the stored token. A missing file means no token.
func (f *FileStore) Get(_ context.Context) (token string, err error) {
	start := time.Now()
	defer func() { observe(backendFile, "get", start, err) }()
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read()
}

func (f *FileStore) read() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("failed to decode token file %s: %w", f.path, err)
	}
	return tf.AccessToken, nil
}

// Set replaces the stored token.
func (f *FileStore) Set(_ context.Context, token string) (err error) {
	start := time.Now()
	defer func() { observe(backendFile, "set", start, err) }()
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(tokenFile{AccessToken: token, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear deletes the token file. Clearing an empty store is not an error.
func (f *FileStore) Clear(_ context.Context) (err error) {
	start := time.Now()
	defer func() { observe(backendFile, "clear", start, err) }()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// IsPresent reports whether a non-empty token is stored.
func (f *FileStore) IsPresent(ctx context.Context) (bool, error) {
	token, err := f.Get(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// Ping checks that the token directory exists or can be created.
func (f *FileStore) Ping(_ context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("token directory unavailable: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
