package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// DirStore keeps images on the local filesystem, for development and single-node deployments.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{root: abs}, nil
}

func (d *DirStore) path(ref string) (string, error) {
	ref = strings.TrimPrefix(ref, "file://")
	p := filepath.Join(d.root, filepath.Clean("/"+ref))
	if !strings.HasPrefix(p, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("image reference %q escapes the image directory", ref)
	}
	return p, nil
}

// Put writes r below the root and returns the key as reference.
func (d *DirStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	p, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return key, nil
}

// Open implements classifier.ImageSource.
func (d *DirStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := d.path(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diagnosis.ErrDecode, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", diagnosis.ErrDecode, err)
	}
	return f, nil
}

// Check implements middleware.HealthChecker.
func (d *DirStore) Check(context.Context) error {
	_, err := os.Stat(d.root)
	return err
}
