// Package storage provides the object store used for downloaded media,
// synthesized audio and raw webhook payload audit.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ObjectStore is a content-addressed write interface. Put returns a stable
// location for the stored bytes.
type ObjectStore interface {
	Put(key string, data []byte) (string, error)
	PutJSON(key string, v any) (string, error)
	Get(key string) ([]byte, error)
}

// FileStore writes objects under a base directory. Keys are relative paths;
// ContentKey derives collision-free names from the payload hash.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// ContentKey builds a content-addressed key under a logical prefix.
func ContentKey(prefix string, data []byte, ext string) string {
	sum := sha256.Sum256(data)
	return filepath.Join(prefix, hex.EncodeToString(sum[:])+ext)
}

// RawPayloadKey builds the audit key for a raw webhook payload, keyed by
// account, contact and message identifiers.
func RawPayloadKey(businessAccountID, phoneNumberID, contactPhone, messageID string) string {
	return filepath.Join("webhooks", businessAccountID, phoneNumberID, contactPhone, messageID+".json")
}

// Put writes data at key and returns the absolute location.
func (f *FileStore) Put(key string, data []byte) (string, error) {
	path := filepath.Join(f.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write %s: %w", key, err)
	}
	return path, nil
}

// PutJSON marshals v and writes it at key.
func (f *FileStore) PutJSON(key string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: marshal %s: %w", key, err)
	}
	return f.Put(key, data)
}

// Get reads the object at key.
func (f *FileStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, key))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}
