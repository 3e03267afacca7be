package refstore

import (
	"os"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
)

// ReadIndex parses the index file (§3, §6): one entry per line,
// "<path>;<blob-hash>;<state>".
func (s *Store) ReadIndex() ([]IndexEntry, error) {
	data, err := os.ReadFile(s.Paths.Index())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gerr.Wrap(gerr.IOError, err, "read index")
	}
	var entries []IndexEntry
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		e, err := parseIndexLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WriteIndex atomically rewrites the index file from entries.
func (s *Store) WriteIndex(entries []IndexEntry) error {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(encodeIndexLine(e))
	}
	tmp := s.Paths.Index() + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write index")
	}
	if err := os.Rename(tmp, s.Paths.Index()); err != nil {
		return gerr.Wrap(gerr.IOError, err, "rename index into place")
	}
	return nil
}

// TruncateIndex empties the index (init, checkout).
func (s *Store) TruncateIndex() error {
	return s.WriteIndex(nil)
}

// UpsertIndexEntry adds or replaces the entry for path, preserving the
// invariant that paths are unique (§3).
func UpsertIndexEntry(entries []IndexEntry, e IndexEntry) []IndexEntry {
	for i, existing := range entries {
		if existing.Path == e.Path {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

// RemoveIndexEntry drops the entry for path, if present.
func RemoveIndexEntry(entries []IndexEntry, path string) []IndexEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Path != path {
			out = append(out, e)
		}
	}
	return out
}

// FindIndexEntry returns the entry for path, if present.
func FindIndexEntry(entries []IndexEntry, path string) (IndexEntry, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e, true
		}
	}
	return IndexEntry{}, false
}

// treeDirNode is the scratch tree shape BuildTreeFromIndex assembles
// staged index entries into before writing tree objects bottom-up.
type treeDirNode struct {
	files map[string]string // name -> blob hash
	dirs  map[string]*treeDirNode
}

func newTreeDirNode() *treeDirNode {
	return &treeDirNode{files: map[string]string{}, dirs: map[string]*treeDirNode{}}
}

// BuildTreeFromIndex builds (and writes) the tree object hierarchy
// that mirrors the index's tracked entries — everything except
// deletions — the way commit does (§4.5). Returns the root tree's
// hash.
func (s *Store) BuildTreeFromIndex(entries []IndexEntry) (string, error) {
	root := newTreeDirNode()
	for _, e := range entries {
		if e.State == StateDeleted {
			continue
		}
		parts := strings.Split(e.Path, "/")
		cur := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur.dirs[part]
			if !ok {
				next = newTreeDirNode()
				cur.dirs[part] = next
			}
			cur = next
		}
		cur.files[parts[len(parts)-1]] = e.Hash
	}
	return s.writeTreeNode(root)
}

func (s *Store) writeTreeNode(n *treeDirNode) (string, error) {
	var entries []TreeEntry
	for name, hash := range n.files {
		entries = append(entries, TreeEntry{Mode: ModeFile, Name: name, Hash: hash})
	}
	for name, sub := range n.dirs {
		hash, err := s.writeTreeNode(sub)
		if err != nil {
			return "", err
		}
		entries = append(entries, TreeEntry{Mode: ModeSubtree, Name: name, Hash: hash})
	}
	return s.WriteObject(objects.KindTree, EncodeTree(entries))
}
