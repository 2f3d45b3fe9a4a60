package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for paths that resolve to a network mount.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem reports ErrNetworkFilesystem when path, or its
// nearest existing parent, lives on a network mount. Paths that do not exist
// yet are checked through the directory they would be created in.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %s", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := absPath; ; {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
