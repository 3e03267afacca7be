package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

// AddCmd stages a file: writes a fresh blob and records it in the
// index with state staged. Ignored paths are rejected (§6 ignore-file
// contract).
type AddCmd struct{}

func (c *AddCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) < 1 {
		return "", gerr.New(gerr.InvalidArgument, "add: path required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	entries, err := store.ReadIndex()
	if err != nil {
		return "", err
	}
	for _, arg := range args {
		path := filepath.ToSlash(arg)
		ignored, err := store.IsIgnored(path)
		if err != nil {
			return "", gerr.Wrap(gerr.IOError, err, "check ignore file")
		}
		if ignored {
			return "", gerr.New(gerr.InvalidArgument, "path is ignored: "+path)
		}
		data, err := os.ReadFile(filepath.Join(paths.Root, path))
		if err != nil {
			if os.IsNotExist(err) {
				return "", gerr.New(gerr.NotFound, "no such file: "+path)
			}
			return "", gerr.Wrap(gerr.IOError, err, "read file to add")
		}
		hash, err := store.WriteObject(objects.KindBlob, data)
		if err != nil {
			return "", err
		}
		entries = refstore.UpsertIndexEntry(entries, refstore.IndexEntry{
			Path: path, Hash: hash, State: refstore.StateStaged,
		})
	}
	if err := store.WriteIndex(entries); err != nil {
		return "", err
	}
	return "", nil
}

// RmCmd marks an index entry deleted; the next commit drops the path
// from the tree.
type RmCmd struct{}

func (c *RmCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) < 1 {
		return "", gerr.New(gerr.InvalidArgument, "rm: path required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	entries, err := store.ReadIndex()
	if err != nil {
		return "", err
	}
	for _, arg := range args {
		path := filepath.ToSlash(arg)
		e, found := refstore.FindIndexEntry(entries, path)
		if !found {
			return "", gerr.New(gerr.NotFound, "path not tracked: "+path)
		}
		e.State = refstore.StateDeleted
		entries = refstore.UpsertIndexEntry(entries, e)
	}
	if err := store.WriteIndex(entries); err != nil {
		return "", err
	}
	return "", nil
}

// StatusCmd reports each index entry's standing relative to the
// current commit's tree.
type StatusCmd struct{}

func (c *StatusCmd) Execute(_ context.Context, _ []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	entries, err := store.ReadIndex()
	if err != nil {
		return "", err
	}

	// Blob hashes per path in the current commit's tree, if any.
	committed := map[string]string{}
	if head, err := store.HeadCommit(); err == nil && head != "" {
		commit, err := store.ReadCommit(head)
		if err != nil {
			return "", err
		}
		err = store.WalkTree(commit.Tree, func(path string, e refstore.TreeEntry) error {
			if e.Mode == refstore.ModeFile {
				committed[path] = e.Hash
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	var lines []string
	for _, e := range entries {
		treeHash, inTree := committed[e.Path]
		switch {
		case e.State == refstore.StateDeleted:
			lines = append(lines, fmt.Sprintf("    deleted: %s", e.Path))
		case !inTree && e.State == refstore.StateStaged:
			lines = append(lines, fmt.Sprintf("    new file (staged): %s", e.Path))
		case inTree && treeHash != e.Hash && e.State == refstore.StateStaged:
			lines = append(lines, fmt.Sprintf("    modified (staged): %s", e.Path))
		case inTree && workingCopyDiffers(store, e):
			lines = append(lines, fmt.Sprintf("    modified (unstaged): %s", e.Path))
		}
	}
	if len(lines) == 0 {
		return "nothing to commit", nil
	}
	return strings.Join(lines, "\n"), nil
}

// workingCopyDiffers hashes the working file and compares it to the
// index entry. A missing file does not count as modified here; rm
// handles deletions explicitly.
func workingCopyDiffers(store *refstore.Store, e refstore.IndexEntry) bool {
	data, err := os.ReadFile(filepath.Join(store.Paths.Root, e.Path))
	if err != nil {
		return false
	}
	return objects.Hash(objects.KindBlob, data) != e.Hash
}

// LsFilesCmd prints index paths. With no flags every tracked entry is
// listed; -c narrows to clean (cached) entries, -s to staged, -d to
// deleted, and -m to entries whose working copy differs from the
// index. -i lists the ignore file's patterns instead.
type LsFilesCmd struct{}

func (c *LsFilesCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	if len(args) > 0 && args[0] == "-i" {
		data, err := os.ReadFile(store.Paths.IgnoreFile())
		if err != nil {
			if os.IsNotExist(err) {
				return "", nil
			}
			return "", gerr.Wrap(gerr.IOError, err, "read ignore file")
		}
		return strings.TrimRight(string(data), "\n"), nil
	}

	entries, err := store.ReadIndex()
	if err != nil {
		return "", err
	}
	var flag string
	if len(args) > 0 {
		flag = args[0]
	}
	var lines []string
	for _, e := range entries {
		switch flag {
		case "-c":
			if e.State != refstore.StateUnstaged {
				continue
			}
		case "-s":
			if e.State != refstore.StateStaged {
				continue
			}
		case "-d":
			if e.State != refstore.StateDeleted {
				continue
			}
		case "-m":
			if !workingCopyDiffers(store, e) {
				continue
			}
		}
		lines = append(lines, e.Path)
	}
	return strings.Join(lines, "\n"), nil
}

// CheckIgnoreCmd prints each argument path that the ignore file
// matches.
type CheckIgnoreCmd struct{}

func (c *CheckIgnoreCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	var ignored []string
	for _, arg := range args {
		ok, err := store.IsIgnored(filepath.ToSlash(arg))
		if err != nil {
			return "", gerr.Wrap(gerr.IOError, err, "check ignore file")
		}
		if ok {
			ignored = append(ignored, arg)
		}
	}
	return strings.Join(ignored, "\n"), nil
}
