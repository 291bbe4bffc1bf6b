package proof

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes proofs under a directory. Demo and single-node use.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create proof dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, accountID, contentType string, r io.Reader) (string, error) {
	obj, err := prepare(accountID, contentType, r)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(obj.key))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, obj.data, 0o640); err != nil {
		return "", fmt.Errorf("write proof: %w", err)
	}
	if s.baseURL != "" {
		return s.baseURL + "/" + obj.key, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
