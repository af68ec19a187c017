package utils

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FileExists returns true if path exists
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var ErrFileNoExecutablePermissions = errors.New("no executable permissions, chmod +x is required to run this program")

func CheckExecutablePermissions(f os.FileInfo) error {
	if f.Mode()&0o111 == 0 {
		return ErrFileNoExecutablePermissions
	}

	return nil
}

// ResolveProgram returns an absolute path to the program.
// A name with a slash is relative to dir, other names are searched in PATH.
func ResolveProgram(dir string, name string) (string, error) {
	if !strings.Contains(name, "/") {
		return exec.LookPath(name)
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	f, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if f.IsDir() {
		return "", fmt.Errorf("'%s' is a directory", path)
	}
	if err := CheckExecutablePermissions(f); err != nil {
		return "", fmt.Errorf("'%s': %w", path, err)
	}

	return path, nil
}
