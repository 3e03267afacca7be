package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pkgs/queue"
	"github.com/makeos-kit/gitd/refstore"
)

// CommitCmd turns the index into a tree object and advances the
// current branch (§4.5).
type CommitCmd struct{}

func (c *CommitCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	var message string
	for i := 0; i < len(args); i++ {
		if args[i] == "-m" {
			if i+1 >= len(args) {
				return "", gerr.New(gerr.InvalidArgument, "commit: -m requires a message")
			}
			message = args[i+1]
			i++
		}
	}
	if message == "" {
		return "", gerr.New(gerr.InvalidArgument, "commit: message required")
	}

	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	entries, err := store.ReadIndex()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", gerr.New(gerr.InvalidArgument, "nothing to commit")
	}

	treeHash, err := store.BuildTreeFromIndex(entries)
	if err != nil {
		return "", err
	}

	var parents []string
	tip, err := store.HeadCommit()
	if err != nil {
		return "", err
	}
	if tip != "" {
		parents = append(parents, tip)
	}

	commitHash, err := store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
		Tree: treeHash, Parents: parents, Message: message,
	}))
	if err != nil {
		return "", err
	}

	branch, err := store.HeadRef()
	if err != nil {
		return "", err
	}
	if err := store.UpdateRef("refs/heads/"+branch, commitHash); err != nil {
		return "", err
	}

	// Commit consumes the staging states: staged entries become clean,
	// deletions leave the index entirely.
	var next []refstore.IndexEntry
	for _, e := range entries {
		if e.State == refstore.StateDeleted {
			continue
		}
		e.State = refstore.StateUnstaged
		next = append(next, e)
	}
	if err := store.WriteIndex(next); err != nil {
		return "", err
	}
	return commitHash, nil
}

// logSeed is a pending commit in the log walk; UniqueQueue keys it by
// hash so a commit reachable from two seeds enters the walk once.
type logSeed struct{ hash string }

func (s logSeed) GetID() interface{} { return s.hash }

// LogCmd walks first-parent chains from each given ref (or HEAD),
// accumulating unique commits; refs prefixed with "^" seed an
// exclusion set subtracted from the output (§4.5).
type LogCmd struct{}

func (c *LogCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	var include, exclude []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "^") {
			exclude = append(exclude, strings.TrimPrefix(arg, "^"))
		} else {
			include = append(include, arg)
		}
	}
	if len(include) == 0 {
		tip, err := store.HeadCommit()
		if err != nil {
			return "", err
		}
		if tip == "" {
			return "", nil
		}
		include = append(include, tip)
	}

	excluded := map[string]bool{}
	for _, ref := range exclude {
		tip, err := resolveCommitIsh(store, ref)
		if err != nil {
			return "", err
		}
		if err := c.walkFirstParent(store, tip, func(hash string, _ *refstore.Commit) {
			excluded[hash] = true
		}); err != nil {
			return "", err
		}
	}

	pending := queue.NewUnique()
	for _, ref := range include {
		tip, err := resolveCommitIsh(store, ref)
		if err != nil {
			return "", err
		}
		if tip != "" {
			pending.Append(logSeed{hash: tip})
		}
	}

	seen := map[string]bool{}
	var lines []string
	for {
		item := pending.Head()
		if item == nil {
			break
		}
		seed := item.(logSeed)
		err := c.walkFirstParent(store, seed.hash, func(hash string, commit *refstore.Commit) {
			if seen[hash] || excluded[hash] {
				return
			}
			seen[hash] = true
			lines = append(lines, fmt.Sprintf("commit %s\n\n    %s\n", hash, commit.Message))
		})
		if err != nil {
			return "", err
		}
	}
	return strings.Join(lines, "\n"), nil
}

// walkFirstParent follows the mainline chain from tip down to the root
// commit.
func (c *LogCmd) walkFirstParent(store *refstore.Store, tip string, visit func(hash string, commit *refstore.Commit)) error {
	for hash := tip; hash != ""; {
		commit, err := store.ReadCommit(hash)
		if err != nil {
			return err
		}
		visit(hash, commit)
		if len(commit.Parents) == 0 {
			return nil
		}
		hash = commit.Parents[0]
	}
	return nil
}
