package storage

import (
	"fmt"
	"os"
)

// Dir is a browser user data directory. A temporary one is removed by
// Cleanup, a user supplied one is left untouched.
type Dir struct {
	Dir    string
	remove bool
}

// Make creates a temporary directory under tmpDir (os.TempDir when empty)
// unless dir is already set.
func (d *Dir) Make(tmpDir string, dir string) error {
	if dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, "dashcheck-browser-data-*"); err != nil {
		return fmt.Errorf("creating a temporary user data directory: %w", err)
	}
	d.remove = true

	return nil
}

// Cleanup removes the directory if it was created by Make.
func (d *Dir) Cleanup() error {
	if !d.remove || d.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("removing user data directory %q: %w", d.Dir, err)
	}
	d.remove = false

	return nil
}
