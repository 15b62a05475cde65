// Package comfyenv locates a local ComfyUI installation and the model folders it
// would search, so a pipeline's model references can be checked before queueing.
package comfyenv

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when FindPath reaches the filesystem root without a match
var ErrNotFound = errors.New("not found")

// FindPath looks for an entry called name in start and then in each of its parents.
// An empty start means the working directory.
func FindPath(name string, start string) (string, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = wd
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Lstat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}
