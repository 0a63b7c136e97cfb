// Package storage keeps uploaded files (CVs) on disk, one directory per
// namespace.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrTooLarge    = errors.New("file too large")
)

type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) namespaceDir(namespace string) string {
	return filepath.Join(s.baseDir, namespace)
}

func (s *Store) filePath(namespace, path string) (string, error) {
	if path == "" || strings.Contains(path, "..") || filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	nsDir := s.namespaceDir(namespace)
	full := filepath.Join(nsDir, path)
	rel, err := filepath.Rel(nsDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return full, nil
}

func (s *Store) Put(namespace, path string, content []byte) error {
	full, err := s.filePath(namespace, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return os.WriteFile(full, content, 0644)
}

// PutReader copies at most limit bytes from r. Anything longer is rejected
// with ErrTooLarge and nothing is left on disk.
func (s *Store) PutReader(namespace, path string, r io.Reader, limit int64) (int64, error) {
	full, err := s.filePath(namespace, path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err != nil {
		os.Remove(full)
		return 0, err
	}
	return n, nil
}

func (s *Store) Get(namespace, path string) ([]byte, error) {
	full, err := s.filePath(namespace, path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

func (s *Store) Delete(namespace, path string) error {
	full, err := s.filePath(namespace, path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// List returns the files of namespace whose relative path starts with
// prefix, sorted. A missing namespace lists nothing.
func (s *Store) List(namespace, prefix string) ([]string, error) {
	nsDir := s.namespaceDir(namespace)

	var files []string
	err := filepath.Walk(nsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(nsDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(rel, prefix) {
			files = append(files, rel)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Strings(files)
	return files, err
}

// SafeName reduces an uploaded file name to its base name with anything
// outside [A-Za-z0-9._-] replaced.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
