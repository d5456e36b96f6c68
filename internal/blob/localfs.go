package blob

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid blob key")

// LocalFS stores blobs under Root, addressed by slash-separated relative keys.
type LocalFS struct {
	Root string
}

func (l LocalFS) Put(relPath string, r io.Reader) (string, error) {
	clean, abs, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return clean, f.Close()
}

func (l LocalFS) Open(relPath string) (*os.File, error) {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) ReadAll(relPath string) ([]byte, error) {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (l LocalFS) Exists(relPath string) bool {
	_, abs, err := l.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// PublicPath is the URL path under which the file server exposes key.
func PublicPath(key string) string {
	return "/files/" + strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(key)), "/")
}

// Key joins path elements into a blob key.
func Key(elem ...string) string {
	return path.Join(elem...)
}

func (l LocalFS) resolve(relPath string) (string, string, error) {
	clean := path.Clean(filepath.ToSlash(relPath))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", "", ErrInvalidKey
	}
	return clean, filepath.Join(l.Root, filepath.FromSlash(clean)), nil
}
