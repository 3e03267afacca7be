package refstore

import (
	"os"
	"path/filepath"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
)

// CleanWorkingTree removes every file under the repository root except
// the metadata directory (§4.2).
func (s *Store) CleanWorkingTree() error {
	entries, err := os.ReadDir(s.Paths.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return gerr.Wrap(gerr.IOError, err, "read working tree root")
	}
	for _, e := range entries {
		if e.Name() == MetaDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Paths.Root, e.Name())); err != nil {
			return gerr.Wrap(gerr.IOError, err, "clean working tree")
		}
	}
	return nil
}

// Materialise writes the tree's files into the working tree, recursing
// into subtrees (§4.2). It does not clean first — callers that need a
// pristine checkout call CleanWorkingTree first.
func (s *Store) Materialise(treeHash string) error {
	return s.materialise(treeHash, s.Paths.Root)
}

func (s *Store) materialise(treeHash, dir string) error {
	tree, err := s.ReadTree(treeHash)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		target := filepath.Join(dir, e.Name)
		switch e.Mode {
		case ModeSubtree:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return gerr.Wrap(gerr.IOError, err, "create subtree directory")
			}
			if err := s.materialise(e.Hash, target); err != nil {
				return err
			}
		default:
			_, payload, err := s.ReadObject(e.Hash)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return gerr.Wrap(gerr.IOError, err, "create parent directory")
			}
			if err := os.WriteFile(target, payload, 0o644); err != nil {
				return gerr.Wrap(gerr.IOError, err, "materialise file")
			}
		}
	}
	return nil
}

// WalkWorkingTree visits every regular file under the repository root
// except the metadata directory, passing paths relative to the root.
func (s *Store) WalkWorkingTree(visit func(path string) error) error {
	var walk func(dir, prefix string) error
	walk = func(dir, prefix string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return gerr.Wrap(gerr.IOError, err, "read working tree directory")
		}
		for _, e := range entries {
			if prefix == "" && e.Name() == MetaDirName {
				continue
			}
			rel := e.Name()
			if prefix != "" {
				rel = prefix + "/" + e.Name()
			}
			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name()), rel); err != nil {
					return err
				}
				continue
			}
			if err := visit(rel); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(s.Paths.Root, "")
}

// StageWorkingTree writes a blob for every file in the working tree
// and returns the resulting staged index entries. Merge and rebase
// continuation use it to re-scan the working tree before committing,
// so the index stays in sync with what the user resolved by hand.
func (s *Store) StageWorkingTree() ([]IndexEntry, error) {
	var entries []IndexEntry
	err := s.WalkWorkingTree(func(path string) error {
		data, err := os.ReadFile(filepath.Join(s.Paths.Root, path))
		if err != nil {
			return gerr.Wrap(gerr.IOError, err, "read working tree file")
		}
		hash, err := s.WriteObject(objects.KindBlob, data)
		if err != nil {
			return err
		}
		entries = append(entries, IndexEntry{Path: path, Hash: hash, State: StateStaged})
		return nil
	})
	return entries, err
}

// IndexFromTree rebuilds a set of unstaged index entries that mirror a
// tree's file contents, used after checkout (§4.5) to keep the index in
// sync with the newly materialised working tree.
func (s *Store) IndexFromTree(treeHash string) ([]IndexEntry, error) {
	var entries []IndexEntry
	err := s.WalkTree(treeHash, func(path string, e TreeEntry) error {
		if e.Mode == ModeFile {
			entries = append(entries, IndexEntry{Path: path, Hash: e.Hash, State: StateUnstaged})
		}
		return nil
	})
	return entries, err
}
