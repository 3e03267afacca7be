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

// HashObjectCmd computes an object hash for a file's content; -w also
// writes the object, -t <kind> overrides the default blob kind.
type HashObjectCmd struct{}

func (c *HashObjectCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	kind := objects.KindBlob
	write := false
	var file string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-w":
			write = true
		case "-t":
			if i+1 >= len(args) {
				return "", gerr.New(gerr.InvalidArgument, "hash-object: -t requires a type")
			}
			k, ok := objects.ParseKind(args[i+1])
			if !ok {
				return "", gerr.New(gerr.InvalidArgument, "hash-object: unknown type: "+args[i+1])
			}
			kind = k
			i++
		default:
			file = args[i]
		}
	}
	if file == "" {
		return "", gerr.New(gerr.InvalidArgument, "hash-object: path required")
	}

	data, err := os.ReadFile(filepath.Join(paths.Root, file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", gerr.New(gerr.NotFound, "no such file: "+file)
		}
		return "", gerr.Wrap(gerr.IOError, err, "read file to hash")
	}
	if !write {
		return objects.Hash(kind, data), nil
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	return store.WriteObject(kind, data)
}

// CatFileCmd inspects a stored object: -t prints the kind, -s the
// size, -p the payload.
type CatFileCmd struct{}

func (c *CatFileCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) != 2 {
		return "", gerr.New(gerr.InvalidArgument, "cat-file: flag and object hash required")
	}
	flag, hash := args[0], args[1]
	if !objects.ValidHex(hash) {
		return "", gerr.New(gerr.InvalidArgument, "cat-file: invalid object hash: "+hash)
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	kind, payload, err := store.ReadObject(hash)
	if err != nil {
		return "", err
	}
	switch flag {
	case "-t":
		return kind.String(), nil
	case "-s":
		return fmt.Sprintf("%d", len(payload)), nil
	case "-p":
		return string(payload), nil
	default:
		return "", gerr.New(gerr.InvalidArgument, "cat-file: unknown flag: "+flag)
	}
}

// LsTreeCmd prints a tree object's entries; -r recurses into subtrees
// printing blob entries with their full path, -d lists only subtree
// entries, -l appends each blob's payload size.
type LsTreeCmd struct{}

func (c *LsTreeCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	recurse := false
	direct := false
	long := false
	var target string
	for _, a := range args {
		switch a {
		case "-r":
			recurse = true
		case "-d":
			direct = true
		case "-l":
			long = true
		default:
			target = a
		}
	}
	if target == "" {
		return "", gerr.New(gerr.InvalidArgument, "ls-tree: tree-ish required")
	}

	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	// Accept a commit-ish as well as a raw tree hash.
	treeHash := target
	if hash, err := resolveCommitIsh(store, target); err == nil {
		if kind, _, rerr := store.ReadObject(hash); rerr == nil && kind == objects.KindCommit {
			commit, cerr := store.ReadCommit(hash)
			if cerr != nil {
				return "", cerr
			}
			treeHash = commit.Tree
		} else {
			treeHash = hash
		}
	}

	formatEntry := func(e refstore.TreeEntry, name string) (string, error) {
		kind := "blob"
		if e.Mode == refstore.ModeSubtree {
			kind = "tree"
		}
		if long && e.Mode == refstore.ModeFile {
			_, payload, err := store.ReadObject(e.Hash)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s %s %d\t%s", e.Mode, kind, e.Hash, len(payload), name), nil
		}
		return fmt.Sprintf("%s %s %s\t%s", e.Mode, kind, e.Hash, name), nil
	}

	var lines []string
	if recurse {
		err = store.WalkTree(treeHash, func(path string, e refstore.TreeEntry) error {
			if e.Mode != refstore.ModeFile {
				return nil
			}
			line, err := formatEntry(e, path)
			if err != nil {
				return err
			}
			lines = append(lines, line)
			return nil
		})
		if err != nil {
			return "", err
		}
	} else {
		tree, err := store.ReadTree(treeHash)
		if err != nil {
			return "", err
		}
		for _, e := range tree.Entries {
			if direct && e.Mode != refstore.ModeSubtree {
				continue
			}
			line, err := formatEntry(e, e.Name)
			if err != nil {
				return "", err
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
