// Package inventory lists the files currently present in the target directory.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Inventory is the set of filenames found directly inside a directory.
type Inventory map[string]struct{}

// Has reports whether name was present at scan time.
func (inv Inventory) Has(name string) bool {
	_, ok := inv[name]
	return ok
}

// Sorted returns the filenames in lexical order.
func (inv Inventory) Sorted() []string {
	names := make([]string, 0, len(inv))
	for name := range inv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scan returns the regular files that are direct children of dir.
// Subdirectories are not descended into. A missing dir is created and
// yields an empty inventory.
func Scan(fs afero.Fs, dir string) (Inventory, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	inv := make(Inventory, len(infos))
	for _, info := range infos {
		if isRegular(fs, filepath.Join(dir, info.Name()), info) {
			inv[info.Name()] = struct{}{}
		}
	}
	return inv, nil
}

// isRegular treats a symlink as a file when its target is a regular file.
func isRegular(fs afero.Fs, path string, info os.FileInfo) bool {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := fs.Stat(path)
		if err != nil {
			return false
		}
		return target.Mode().IsRegular()
	}
	return info.Mode().IsRegular()
}
