package refstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pkgs/cache"
)

// objectCacheSize bounds the read-object LRU (§4.2 expansion: objects
// are immutable, so a cache keyed by hash never needs invalidation).
const objectCacheSize = 4096

type cachedObject struct {
	kind    objects.Kind
	payload []byte
}

// Store is the content-addressed object store and reference graph
// rooted at a single repository (§4.2). It implements pack.Source and
// pack.Sink directly so the pack codec can read and write through it
// without a dependency cycle.
type Store struct {
	Paths *Paths
	cache *cache.Cache
}

// Open returns a Store for the repository rooted at root. It does not
// require the repository to already be initialised; operations that do
// will fail NotFound/IOError as appropriate.
func Open(root string) *Store {
	return &Store{Paths: NewPaths(root), cache: cache.NewCache(objectCacheSize)}
}

// Exists reports whether a repository has been initialised at this
// Store's root (the metadata directory is present).
func (s *Store) Exists() bool {
	info, err := os.Stat(s.Paths.MetaDir())
	return err == nil && info.IsDir()
}

// Init creates the metadata directory layout described in §6, with an
// empty (never-committed) ref for defaultBranch, and returns
// AlreadyExists if it is already present, per the init command's
// contract in §4.5.
func (s *Store) Init(defaultBranch string) error {
	if s.Exists() {
		return gerr.New(gerr.AlreadyExists, "repository already initialised")
	}
	dirs := []string{
		s.Paths.Objects(),
		s.Paths.RefsHeads(),
		s.Paths.RefsTags(),
		s.Paths.RefsRemotes(),
		s.Paths.Pack(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return gerr.Wrap(gerr.IOError, err, "create repository directory")
		}
	}
	if err := os.WriteFile(s.Paths.Index(), nil, 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "create index")
	}
	if err := os.WriteFile(s.Paths.Config(), nil, 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "create config")
	}
	if err := os.WriteFile(s.Paths.RefHead(defaultBranch), nil, 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "create default branch ref")
	}
	if err := os.WriteFile(s.Paths.Head(), []byte("ref: refs/heads/"+defaultBranch+"\n"), 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "create HEAD")
	}
	return nil
}

// WriteObject writes an object by content hash. Idempotent: a second
// write of the same (kind, payload) is a no-op (§4.2, §8 property 2).
func (s *Store) WriteObject(kind objects.Kind, payload []byte) (string, error) {
	hash := objects.Hash(kind, payload)
	path := s.Paths.ObjectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "create object bucket directory")
	}
	raw := append(objects.Header(kind, len(payload)), payload...)
	compressed, err := objects.Deflate(raw)
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o444); err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "write object")
	}
	if err := os.Rename(tmp, path); err != nil {
		// Another writer won the race for the same content-addressed
		// path; both writes are identical by construction, so this is
		// still a no-op from the caller's perspective.
		os.Remove(tmp)
		if _, statErr := os.Stat(path); statErr != nil {
			return "", gerr.Wrap(gerr.IOError, err, "finalize object write")
		}
	}
	s.cache.Add(hash, cachedObject{kind: kind, payload: payload})
	return hash, nil
}

// ReadObject reads an object by hash (§4.2). Fails NotFound if missing,
// Corrupt if the header is unparseable or the size doesn't match.
func (s *Store) ReadObject(hash string) (objects.Kind, []byte, error) {
	if v := s.cache.Get(hash); v != nil {
		c := v.(cachedObject)
		return c.kind, c.payload, nil
	}

	path := s.Paths.ObjectPath(hash)
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return objects.KindInvalid, nil, gerr.New(gerr.NotFound, "object not found: "+hash)
		}
		return objects.KindInvalid, nil, gerr.Wrap(gerr.IOError, err, "read object")
	}
	raw, err := objects.Inflate(compressed)
	if err != nil {
		return objects.KindInvalid, nil, gerr.Wrap(gerr.Corrupt, err, "inflate object")
	}

	nul := strings.IndexByte(string(raw), 0)
	if nul == -1 {
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "object header missing NUL terminator")
	}
	header := string(raw[:nul])
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "malformed object header")
	}
	kind, ok := objects.ParseKind(parts[0])
	if !ok {
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "unknown object kind: "+parts[0])
	}
	payload := raw[nul+1:]
	if fmtSize(len(payload)) != parts[1] {
		return objects.KindInvalid, nil, gerr.New(gerr.Corrupt, "object size mismatch")
	}

	s.cache.Add(hash, cachedObject{kind: kind, payload: payload})
	return kind, payload, nil
}

func fmtSize(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// ReadTree reads a tree object's entries. Fails NotATree (surfaced as
// InvalidArgument) if the object's kind is not tree.
func (s *Store) ReadTree(hash string) (*Tree, error) {
	kind, payload, err := s.ReadObject(hash)
	if err != nil {
		return nil, err
	}
	if kind != objects.KindTree {
		return nil, gerr.New(gerr.InvalidArgument, "object is not a tree: "+hash)
	}
	return DecodeTree(payload)
}

// ReadCommit reads and decodes a commit object.
func (s *Store) ReadCommit(hash string) (*Commit, error) {
	kind, payload, err := s.ReadObject(hash)
	if err != nil {
		return nil, err
	}
	if kind != objects.KindCommit {
		return nil, gerr.New(gerr.InvalidArgument, "object is not a commit: "+hash)
	}
	return DecodeCommit(payload)
}

// TreeVisitor is called once per blob or subtree visited by WalkTree.
type TreeVisitor func(path string, entry TreeEntry) error

// WalkTree performs a depth-first walk of a tree, visiting every blob
// and subtree exactly once (§4.2, §8 property 3). path is the entry's
// path relative to the tree root.
func (s *Store) WalkTree(hash string, visit TreeVisitor) error {
	return s.walkTree(hash, "", make(map[string]bool), visit)
}

func (s *Store) walkTree(hash, prefix string, seen map[string]bool, visit TreeVisitor) error {
	tree, err := s.ReadTree(hash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		p := e.Name
		if prefix != "" {
			p = prefix + "/" + e.Name
		}
		if seen[e.Hash] {
			continue
		}
		seen[e.Hash] = true
		if err := visit(p, e); err != nil {
			return err
		}
		if e.Mode == ModeSubtree {
			if err := s.walkTree(e.Hash, p, seen, visit); err != nil {
				return err
			}
		} else if _, _, err := s.ReadObject(e.Hash); err != nil {
			return err
		}
	}
	return nil
}

// EnumerateReachable returns the transitive closure of object hashes
// referenced from commit (the commit itself plus its tree closure; no
// parent traversal — §4.2). Used by the pack builder.
func (s *Store) EnumerateReachable(commitHash string) (map[string]bool, error) {
	set := map[string]bool{commitHash: true}
	commit, err := s.ReadCommit(commitHash)
	if err != nil {
		return nil, err
	}
	set[commit.Tree] = true
	err = s.WalkTree(commit.Tree, func(_ string, e TreeEntry) error {
		set[e.Hash] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}
