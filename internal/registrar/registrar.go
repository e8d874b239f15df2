// Package registrar writes and removes descriptor files under the user's home
// directory. Every path it touches must resolve inside that root.
package registrar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

// ErrOutsideRoot is returned for any path that does not resolve under the
// registrar's root.
var ErrOutsideRoot = errors.New("path outside registrar root")

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Registrar performs descriptor file operations confined to a root directory.
type Registrar struct {
	root     string
	realRoot string // root with symlinks resolved
	logger   *zap.Logger
}

// New returns a Registrar rooted at root, usually the user's home directory.
func New(root string, logger *zap.Logger) (*Registrar, error) {
	if root == "" {
		return nil, fmt.Errorf("registrar root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving registrar root: %w", err)
	}
	abs = filepath.Clean(abs)
	realRoot, err := resolve(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving registrar root: %w", err)
	}
	return &Registrar{
		root:     abs,
		realRoot: realRoot,
		logger:   logger.Named("registrar"),
	}, nil
}

// Root returns the directory every path is confined to.
func (r *Registrar) Root() string { return r.root }

// confine validates that path lies under the root, lexically and after
// following symlinks, and returns its cleaned absolute form. Symlinks that
// stay inside the root are allowed.
func (r *Registrar) confine(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	path = filepath.Clean(path)
	if !within(r.root, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	resolved, err := resolve(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if !within(r.realRoot, resolved) {
		return "", fmt.Errorf("%w: %s is redirected to %s by a symlink", ErrOutsideRoot, path, resolved)
	}
	return path, nil
}

// resolve follows every symlink in path, including in components that do
// not exist yet.
func resolve(path string) (string, error) {
	fsRoot := filepath.VolumeName(path) + string(filepath.Separator)
	return securejoin.SecureJoin(fsRoot, path)
}

// within reports whether path is strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Exists reports whether path is present. Paths outside the root are errors.
func (r *Registrar) Exists(path string) (bool, error) {
	p, err := r.confine(path)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", p, err)
	}
	return true, nil
}

// WriteDescriptor creates or replaces the file at path with content. Missing
// parent directories are created. The replacement is atomic: readers see
// either the old content or the new one.
func (r *Registrar) WriteDescriptor(path string, content []byte) error {
	p, err := r.confine(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(p), err)
	}
	if err := writeFileAtomic(p, content); err != nil {
		return err
	}
	r.logger.Debug("descriptor written", zap.String("path", p), zap.Int("bytes", len(content)))
	return nil
}

// DeleteDescriptor removes the file at path. A missing file is not an error.
func (r *Registrar) DeleteDescriptor(path string) error {
	p, err := r.confine(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	r.logger.Debug("descriptor removed", zap.String("path", p))
	return nil
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	tmpPath = ""
	return nil
}
