// Package commands implements the user-facing operations of §4.5 as
// orchestrations over the object store, pack codec and transfer
// protocol. Each command is a pure function of (args, path resolver):
// the CLI front end is a thin dispatch table over the Registry, and
// tests (and the HTTP API's server-side merge) instantiate commands
// directly.
package commands

import (
	"context"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

// Command is one user-facing operation. Execute returns the command's
// output text or a typed error; the front end maps error kinds to exit
// codes and messages (§7).
type Command interface {
	Execute(ctx context.Context, args []string, paths *refstore.Paths) (string, error)
}

// Registry maps command names to their implementations.
type Registry map[string]Command

// NewRegistry builds the full command table.
func NewRegistry(log logger.Logger) Registry {
	log = log.Module("commands")
	return Registry{
		"init":           &InitCmd{},
		"add":            &AddCmd{},
		"rm":             &RmCmd{},
		"commit":         &CommitCmd{},
		"status":         &StatusCmd{},
		"branch":         &BranchCmd{},
		"checkout":       &CheckoutCmd{},
		"log":            &LogCmd{},
		"tag":            &TagCmd{},
		"show-ref":       &ShowRefCmd{},
		"ls-tree":        &LsTreeCmd{},
		"ls-files":       &LsFilesCmd{},
		"remote":         &RemoteCmd{},
		"hash-object":    &HashObjectCmd{},
		"cat-file":       &CatFileCmd{},
		"check-ignore":   &CheckIgnoreCmd{},
		"merge":          &MergeCmd{},
		"rebase":         &RebaseCmd{},
		"pack-objects":   &PackObjectsCmd{},
		"unpack-objects": &UnpackObjectsCmd{},
		"fetch":          &FetchCmd{Log: log},
		"push":           &PushCmd{Log: log},
		"pull":           &PullCmd{Log: log},
		"clone":          &CloneCmd{Log: log},
	}
}

// Dispatch runs the named command, failing InvalidArgument for names
// not in the table.
func (r Registry) Dispatch(ctx context.Context, name string, args []string, paths *refstore.Paths) (string, error) {
	cmd, ok := r[name]
	if !ok {
		return "", gerr.New(gerr.InvalidArgument, "unknown command: "+name)
	}
	return cmd.Execute(ctx, args, paths)
}

// openRepo opens the store at paths and fails NotFound when no
// repository has been initialised there.
func openRepo(paths *refstore.Paths) (*refstore.Store, error) {
	store := refstore.Open(paths.Root)
	if !store.Exists() {
		return nil, gerr.New(gerr.NotFound, "not a repository: "+paths.Root)
	}
	return store, nil
}

// resolveCommitIsh resolves an argument that may be a branch name, a
// tag name, a remote-tracking ref ("<remote>/<branch>"), or a raw
// commit hash, in that order.
func resolveCommitIsh(store *refstore.Store, arg string) (string, error) {
	if store.BranchExists(arg) {
		return store.ResolveRef("refs/heads/" + arg)
	}
	if hash, err := store.ResolveRef("refs/tags/" + arg); err == nil {
		return hash, nil
	}
	if hash, err := store.ResolveRef("refs/remotes/" + arg); err == nil {
		return hash, nil
	}
	if objects.ValidHex(arg) {
		return arg, nil
	}
	return "", gerr.New(gerr.NotFound, "unknown revision: "+arg)
}
