// Package session resolves, hardens and locks Telegram session files.
// Session state is stored as gotd JSON files under the sessions
// directory; one file per account.
package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Locator resolves the session file used by a process.
type Locator struct {
	// Dir is the sessions directory.
	Dir string
	// Name is the session name, stored as <Name>.json under Dir.
	Name string
	// ExplicitPath points at a session file directly and wins over
	// Dir and Name when set.
	ExplicitPath string
}

// Path returns the resolved session file path.
func (l Locator) Path() string {
	if l.ExplicitPath != "" {
		return normalizePath(l.ExplicitPath)
	}
	return filepath.Join(l.Dir, normalizePath(l.Name))
}

func normalizePath(path string) string {
	if strings.HasSuffix(path, ".json") {
		return path
	}
	return path + ".json"
}

// Harden restricts the session directory to 0700 and the session file
// to 0600. The directory is created when missing; the file is left
// alone until the client writes it. Modes are only changed when they
// differ from the target.
func Harden(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "create sessions dir")
		}
	case err != nil:
		return errors.Wrap(err, "stat sessions dir")
	default:
		if mode := info.Mode().Perm(); mode != 0o700 {
			if err := os.Chmod(dir, 0o700); err != nil {
				return errors.Wrap(err, "chmod sessions dir")
			}
		}
	}

	info, err = os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "stat session file")
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return errors.Wrap(err, "chmod session file")
		}
	}
	return nil
}

// Info describes one stored session file.
type Info struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// List returns the session files under dir sorted by name. A missing
// directory yields an empty list.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read sessions dir")
	}
	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:     strings.TrimSuffix(entry.Name(), ".json"),
			Path:     filepath.Join(dir, entry.Name()),
			Modified: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// SameAccount reports whether two usernames refer to the same account.
// A leading @ is ignored and the comparison is case-insensitive.
func SameAccount(a, b string) bool {
	return strings.EqualFold(trimHandle(a), trimHandle(b))
}

func trimHandle(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}
