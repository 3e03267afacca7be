package refstore

import (
	"os"
	"strings"
)

// IsIgnored implements the ignore-file contract (§6): a path is ignored
// if any non-empty line of .gitignore.txt is a prefix of it. This is
// deliberately a thin contract surface — the real matcher is an
// external collaborator out of this system's scope (§1).
func (s *Store) IsIgnored(path string) (bool, error) {
	data, err := os.ReadFile(s.Paths.IgnoreFile())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(path, line) {
			return true, nil
		}
	}
	return false, nil
}
