package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePersister persists verification artifacts. It abstracts away the
// where and how of writing files to their destination.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) error
}

// LocalFilePersister persists files to the local disk.
type LocalFilePersister struct{}

// Persist writes the contents of data to path on the local disk, creating
// missing parent directories. The data goes to a temporary file next to
// path which then replaces path, so a failed write leaves any earlier file
// at path untouched.
func (l *LocalFilePersister) Persist(ctx context.Context, path string, data io.Reader) (err error) {
	if err = ctx.Err(); err != nil {
		return fmt.Errorf("persisting %q: %w", path, err)
	}

	cp := filepath.Clean(path)
	dir := filepath.Dir(cp)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(cp)+".*")
	if err != nil {
		return fmt.Errorf("creating a temporary file in %q: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, data); err != nil {
		return fmt.Errorf("writing %q: %w", cp, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("writing %q: %w", cp, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), cp); err != nil {
		return fmt.Errorf("replacing %q: %w", cp, err)
	}

	return nil
}
