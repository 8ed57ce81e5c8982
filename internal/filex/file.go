// Package filex holds client-side file helpers: the download directory,
// collision-free output names and fixed-size chunk planning.
package filex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxNameAttempts bounds the "name (n).ext" search in FreeName.
const maxNameAttempts = 1000

// DownloadDir resolves dir against the working directory unless it is
// absolute, and creates it.
func DownloadDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("download dir is empty")
	}
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// FreeName returns dir/name, or dir/"base (n).ext" for the first n that does
// not exist yet, so a download never replaces an earlier one.
func FreeName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; n <= maxNameAttempts; n++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
