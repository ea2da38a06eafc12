package spill

import (
	"os"
	"path/filepath"
)

// defaultSubdir is the fallback directory created under the user's home or
// working directory when neither the OS temp directory nor an explicit
// configuration value is usable.
const defaultSubdir = ".extsort-tmp"

// resolveDir picks the directory spilled run files are created in. A
// non-empty dir is used as-is if it is usable; otherwise resolveDir falls
// back to the OS default temp directory, and finally to a subdirectory of
// the user's home or working directory.
func resolveDir(dir string) string {
	if dir != "" && isDirectoryUsable(dir) {
		return dir
	}

	osTemp := os.TempDir()
	if isDirectoryUsable(osTemp) {
		return osTemp
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, defaultSubdir)
		if isDirectoryUsable(candidate) {
			return candidate
		}
	}

	if wd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(wd, defaultSubdir)
		if isDirectoryUsable(candidate) {
			return candidate
		}
	}

	return osTemp
}

// isDirectoryUsable reports whether dir already exists as a directory, or
// does not exist yet and could plausibly be created on first use.
func isDirectoryUsable(dir string) bool {
	stat, err := os.Stat(dir)
	if err != nil {
		return os.IsNotExist(err)
	}
	return stat.IsDir()
}
