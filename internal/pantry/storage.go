package pantry

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage keeps the original receipt images
type Storage interface {
	// Save stores data under name and returns the name to retrieve it by
	Save(name string, data []byte) (string, error)

	// Get retrieves a stored file
	Get(name string) ([]byte, error)

	// Delete removes a stored file
	Delete(name string) error
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the storage directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path resolves name inside the base directory. Names with directory parts are rejected.
func (l *LocalStorage) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save writes a file to local storage
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := l.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads a file from local storage
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
