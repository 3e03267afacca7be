package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/refstore"
)

// BranchCmd lists, creates, deletes (-d) and renames (-m) local
// branches (§4.5).
type BranchCmd struct{}

func (c *BranchCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	current, err := store.HeadRef()
	if err != nil {
		return "", err
	}

	if len(args) == 0 {
		branches, err := store.ListBranches()
		if err != nil {
			return "", err
		}
		var lines []string
		for _, b := range branches {
			if b == current {
				lines = append(lines, "* "+b)
			} else {
				lines = append(lines, "  "+b)
			}
		}
		return strings.Join(lines, "\n"), nil
	}

	switch args[0] {
	case "-d":
		if len(args) != 2 {
			return "", gerr.New(gerr.InvalidArgument, "branch: -d requires a branch name")
		}
		name := args[1]
		if name == current {
			return "", gerr.New(gerr.InvalidArgument, "cannot delete the current branch: "+name)
		}
		if err := store.DeleteRef("refs/heads/" + name); err != nil {
			return "", err
		}
		return "Deleted branch " + name, nil

	case "-m":
		if len(args) != 3 {
			return "", gerr.New(gerr.InvalidArgument, "branch: -m requires old and new names")
		}
		oldName, newName := args[1], args[2]
		if !store.BranchExists(oldName) {
			return "", gerr.New(gerr.NotFound, "no such branch: "+oldName)
		}
		if store.BranchExists(newName) {
			return "", gerr.New(gerr.AlreadyExists, "branch already exists: "+newName)
		}
		hash, err := store.ResolveRef("refs/heads/" + oldName)
		if err != nil {
			return "", err
		}
		if err := store.UpdateRef("refs/heads/"+newName, hash); err != nil {
			return "", err
		}
		if err := store.DeleteRef("refs/heads/" + oldName); err != nil {
			return "", err
		}
		if current == oldName {
			if err := store.SetHeadRef(newName); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("Renamed %s to %s", oldName, newName), nil

	default:
		name := args[0]
		if store.BranchExists(name) {
			return "", gerr.New(gerr.AlreadyExists, "branch already exists: "+name)
		}
		tip, err := store.HeadCommit()
		if err != nil {
			return "", err
		}
		if err := store.UpdateRef("refs/heads/"+name, tip); err != nil {
			return "", err
		}
		return "", nil
	}
}

// CheckoutCmd switches HEAD to a branch: clean the working tree,
// truncate the index, materialise the branch's tree, then rebuild the
// index from it (§4.5).
type CheckoutCmd struct{}

func (c *CheckoutCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) != 1 {
		return "", gerr.New(gerr.InvalidArgument, "checkout: branch name required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	name := args[0]
	if !store.BranchExists(name) {
		return "", gerr.New(gerr.NotFound, "no such branch: "+name)
	}
	if err := store.SetHeadRef(name); err != nil {
		return "", err
	}
	if err := store.CleanWorkingTree(); err != nil {
		return "", err
	}
	if err := store.TruncateIndex(); err != nil {
		return "", err
	}

	tip, err := store.ResolveRef("refs/heads/" + name)
	if err != nil {
		return "", err
	}
	if tip == "" {
		return "Switched to branch " + name, nil
	}
	commit, err := store.ReadCommit(tip)
	if err != nil {
		return "", err
	}
	if err := store.Materialise(commit.Tree); err != nil {
		return "", err
	}
	entries, err := store.IndexFromTree(commit.Tree)
	if err != nil {
		return "", err
	}
	if err := store.WriteIndex(entries); err != nil {
		return "", err
	}
	return "Switched to branch " + name, nil
}

// TagCmd lists tags, creates a lightweight tag at the current commit,
// or deletes one with -d. Tags are ref files only; there is no tag
// object on disk (§3).
type TagCmd struct{}

func (c *TagCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	if len(args) == 0 {
		tags, err := store.ListTags()
		if err != nil {
			return "", err
		}
		return strings.Join(tags, "\n"), nil
	}

	if args[0] == "-d" {
		if len(args) != 2 {
			return "", gerr.New(gerr.InvalidArgument, "tag: -d requires a tag name")
		}
		if err := store.DeleteRef("refs/tags/" + args[1]); err != nil {
			return "", err
		}
		return "Deleted tag " + args[1], nil
	}

	name := args[0]
	if _, err := os.Stat(store.Paths.RefTag(name)); err == nil {
		return "", gerr.New(gerr.AlreadyExists, "tag already exists: "+name)
	}
	tip, err := store.HeadCommit()
	if err != nil {
		return "", err
	}
	if tip == "" {
		return "", gerr.New(gerr.InvalidArgument, "cannot tag: no commits yet")
	}
	if err := store.UpdateRef("refs/tags/"+name, tip); err != nil {
		return "", err
	}
	return "", nil
}

// ShowRefCmd lists refs as "<hash> <refname>" lines; --heads and
// --tags narrow the namespaces shown.
type ShowRefCmd struct{}

func (c *ShowRefCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	headsOnly := false
	tagsOnly := false
	for _, a := range args {
		switch a {
		case "--heads":
			headsOnly = true
		case "--tags":
			tagsOnly = true
		default:
			return "", gerr.New(gerr.InvalidArgument, "show-ref: unknown flag: "+a)
		}
	}

	var lines []string
	appendRefs := func(prefix string, names []string) error {
		for _, n := range names {
			hash, err := store.ResolveRef(prefix + n)
			if err != nil || hash == "" {
				continue
			}
			lines = append(lines, hash+" "+prefix+n)
		}
		return nil
	}

	if !tagsOnly {
		branches, err := store.ListBranches()
		if err != nil {
			return "", err
		}
		if err := appendRefs("refs/heads/", branches); err != nil {
			return "", err
		}
	}
	if !headsOnly {
		tags, err := store.ListTags()
		if err != nil {
			return "", err
		}
		if err := appendRefs("refs/tags/", tags); err != nil {
			return "", err
		}
	}
	return strings.Join(lines, "\n"), nil
}
