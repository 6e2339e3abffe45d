// Package fileutil writes files so that readers never observe a partial content.
package fileutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteAtomic writes the content produced by fn to a temporary file next to path and renames it
// into place. path is left untouched when fn fails.
func WriteAtomic(path string, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "unable to create temporary file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fn(buf); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return errors.Wrap(err, "unable to flush")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "unable to sync")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "unable to close")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "unable to rename to %s", path)
	}

	return nil
}
