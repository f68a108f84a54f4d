package implementation

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Backup copies the live store file to <path>.backup, replacing any earlier
// backup. The copy works on the file rather than through the pool, so it is
// only consistent when no insert is in progress.
func (r *SQLiteReadingRepository) Backup() error {
	dst := r.backupPath()
	if err := copyFile(r.path, dst); err != nil {
		err = fmt.Errorf("%w: %w", ErrBackupFailed, err)
		r.logger.ErrorWithError(err, "Error creating backup")
		return err
	}

	r.logger.Logger.Info().Str("backup", dst).Msg("Database backup created")
	return nil
}

// Restore copies <path>.backup over the live store file. A missing backup
// is logged and otherwise ignored. The pool is closed first and reopens on
// next use.
func (r *SQLiteReadingRepository) Restore() error {
	src := r.backupPath()
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Logger.Warn().Str("backup", src).Msg("Backup file not found, nothing to restore")
			return nil
		}
		err = fmt.Errorf("%w: %w", ErrRestoreFailed, err)
		r.logger.ErrorWithError(err, "Error restoring database")
		return err
	}

	if err := r.Close(); err != nil {
		r.logger.ErrorWithError(err, "Error closing the connection pool before restore")
	}

	if err := copyFile(src, r.path); err != nil {
		err = fmt.Errorf("%w: %w", ErrRestoreFailed, err)
		r.logger.ErrorWithError(err, "Error restoring database")
		return err
	}

	r.logger.Logger.Info().Str("backup", src).Msg("Database restored from backup")
	return nil
}

// copyFile writes src to a temporary file next to dst and renames it into
// place, so dst is never left half-written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return err
	}

	return os.Rename(tmpName, dst)
}
