package refstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
)

// ResolveRef reads a ref file and returns the commit hash it names, or
// "" if the branch exists but has never been committed to (§4.2 —
// "empty string is legal for a never-committed branch"). Returns
// NotFound if the ref file itself doesn't exist.
func (s *Store) ResolveRef(refPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Paths.MetaDir(), refPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", gerr.New(gerr.NotFound, "ref not found: "+refPath)
		}
		return "", gerr.Wrap(gerr.IOError, err, "read ref")
	}
	hash := strings.TrimSpace(string(data))
	if hash == "" {
		return "", nil
	}
	if !objects.ValidHex(hash) {
		return "", gerr.New(gerr.Corrupt, "ref contains invalid hash: "+refPath)
	}
	return hash, nil
}

// UpdateRef atomically rewrites a ref file to point at hash.
func (s *Store) UpdateRef(refPath, hash string) error {
	full := filepath.Join(s.Paths.MetaDir(), refPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return gerr.Wrap(gerr.IOError, err, "create ref directory")
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(hash+"\n"), 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write ref")
	}
	if err := os.Rename(tmp, full); err != nil {
		return gerr.Wrap(gerr.IOError, err, "rename ref into place")
	}
	return nil
}

// DeleteRef removes a ref file.
func (s *Store) DeleteRef(refPath string) error {
	if err := os.Remove(filepath.Join(s.Paths.MetaDir(), refPath)); err != nil {
		if os.IsNotExist(err) {
			return gerr.New(gerr.NotFound, "ref not found: "+refPath)
		}
		return gerr.Wrap(gerr.IOError, err, "delete ref")
	}
	return nil
}

// ListBranches returns every local branch name under refs/heads/.
func (s *Store) ListBranches() ([]string, error) {
	return s.listRefNames(s.Paths.RefsHeads())
}

// ListTags returns every tag name under refs/tags/.
func (s *Store) ListTags() ([]string, error) {
	return s.listRefNames(s.Paths.RefsTags())
}

func (s *Store) listRefNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gerr.Wrap(gerr.IOError, err, "list refs")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// HeadRef returns the branch name HEAD currently points to, e.g. "main".
func (s *Store) HeadRef() (string, error) {
	data, err := os.ReadFile(s.Paths.Head())
	if err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "read HEAD")
	}
	line := strings.TrimSpace(string(data))
	const prefix = "ref: refs/heads/"
	if !strings.HasPrefix(line, prefix) {
		return "", gerr.New(gerr.Corrupt, "HEAD is not a branch reference")
	}
	return strings.TrimPrefix(line, prefix), nil
}

// SetHeadRef rewrites HEAD to point at the given local branch.
func (s *Store) SetHeadRef(branch string) error {
	return os.WriteFile(s.Paths.Head(), []byte("ref: refs/heads/"+branch+"\n"), 0o644)
}

// HeadCommit resolves HEAD all the way to a commit hash (possibly "").
func (s *Store) HeadCommit() (string, error) {
	branch, err := s.HeadRef()
	if err != nil {
		return "", err
	}
	hash, err := s.ResolveRef(filepath.Join("refs", "heads", branch))
	if err != nil && gerr.Of(err) == gerr.NotFound {
		return "", nil
	}
	return hash, err
}

// BranchExists reports whether a local branch ref file exists.
func (s *Store) BranchExists(name string) bool {
	_, err := os.Stat(filepath.Join(s.Paths.MetaDir(), "refs", "heads", name))
	return err == nil
}

// CollectHistory walks ancestry (both parents, to also surface merge
// commits) from tip backward, stopping at any commit hash present in
// stopAt or at a root commit, and returns every new commit hash found
// (tip included), each listed exactly once. This is the orchestration
// the push/pack-objects commands use to turn "a tip commit" into "the
// full set of commits the pack builder should run enumerate-reachable
// over" (§4.2's enumerate-reachable deliberately stops at a single
// commit's own tree closure and does not itself walk parents).
func (s *Store) CollectHistory(tip string, stopAt map[string]bool) ([]string, error) {
	if tip == "" {
		return nil, nil
	}
	var order []string
	visited := map[string]bool{}
	var walk func(hash string) error
	walk = func(hash string) error {
		if hash == "" || visited[hash] || stopAt[hash] {
			return nil
		}
		visited[hash] = true
		commit, err := s.ReadCommit(hash)
		if err != nil {
			return err
		}
		order = append(order, hash)
		for _, p := range commit.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tip); err != nil {
		return nil, err
	}
	return order, nil
}
