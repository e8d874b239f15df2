package registrar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// BundleState classifies a bundle directory on disk.
type BundleState int

const (
	BundleAbsent BundleState = iota
	BundleComplete
	// BundleInconsistent means the directory exists but some expected files
	// are missing.
	BundleInconsistent
)

func (s BundleState) String() string {
	switch s {
	case BundleAbsent:
		return "absent"
	case BundleComplete:
		return "complete"
	case BundleInconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// WriteBundle creates or replaces the directory dir so that it holds exactly
// files, keyed by dir-relative path. All files are staged in a hidden sibling
// directory first and swapped in with renames, so dir never holds a partial
// set. On failure the previous bundle, if any, is left in place.
func (r *Registrar) WriteBundle(dir string, files map[string][]byte) error {
	d, err := r.confine(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("bundle %s has no files", d)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: bundle entry %q", ErrOutsideRoot, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	parent := filepath.Dir(d)
	if err := os.MkdirAll(parent, dirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", parent, err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(d)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating staging directory for %s: %w", d, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()
	if err := os.Chmod(staging, dirPerm); err != nil {
		return fmt.Errorf("chmod %s: %w", staging, err)
	}

	for _, name := range names {
		target := filepath.Join(staging, name)
		if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := os.WriteFile(target, files[name], filePerm); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Join(d, name), err)
		}
	}

	if err := swapDir(staging, d); err != nil {
		return err
	}
	committed = true
	r.logger.Debug("bundle written", zap.String("path", d), zap.Strings("files", names))
	return nil
}

// swapDir moves staging to dst, replacing any directory already there.
func swapDir(staging, dst string) error {
	var old string
	if _, err := os.Lstat(dst); err == nil {
		old = graveyardName(dst)
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("moving aside %s: %w", dst, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", dst, err)
	}

	if err := os.Rename(staging, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("installing %s: %w", dst, err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func graveyardName(path string) string {
	return filepath.Join(filepath.Dir(path),
		"."+filepath.Base(path)+".old-"+strconv.FormatInt(time.Now().UnixNano(), 36))
}

// DeleteBundle removes dir and everything in it. The directory is renamed
// away before removal so it disappears from its well-known path in one step.
// A missing directory is not an error.
func (r *Registrar) DeleteBundle(dir string) error {
	d, err := r.confine(dir)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(d); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("checking %s: %w", d, err)
	}

	old := graveyardName(d)
	if err := os.Rename(d, old); err != nil {
		return fmt.Errorf("moving aside %s: %w", d, err)
	}
	if err := os.RemoveAll(old); err != nil {
		// The bundle is already gone from its path; only the hidden copy remains.
		r.logger.Warn("leftover bundle copy", zap.String("path", old), zap.Error(err))
	}
	r.logger.Debug("bundle removed", zap.String("path", d))
	return nil
}

// BundleStateOf reports whether dir holds all of names, none of them, or a
// partial set.
func (r *Registrar) BundleStateOf(dir string, names ...string) (BundleState, error) {
	ok, err := r.Exists(dir)
	if err != nil || !ok {
		return BundleAbsent, err
	}
	for _, name := range names {
		ok, err := r.Exists(filepath.Join(dir, name))
		if err != nil {
			return BundleInconsistent, err
		}
		if !ok {
			return BundleInconsistent, nil
		}
	}
	return BundleComplete, nil
}
