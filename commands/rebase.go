package commands

import (
	"context"
	"os"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

// RebaseCmd re-applies the commits of a branch that are not in the
// current one, oldest first, onto the current branch. On conflict the
// commit being applied is parked in REBASE_HEAD and the rebase stops;
// "rebase --continue" commits the user's resolution in place of the
// parked commit and clears REBASE_HEAD. Commits after the parked one
// are not applied by --continue.
type RebaseCmd struct{}

func (c *RebaseCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) == 0 {
		return "", gerr.New(gerr.InvalidArgument, "rebase: branch name required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	if args[0] == "--continue" {
		return continueRebase(store)
	}

	branch := args[0]
	if !store.BranchExists(branch) {
		return "", gerr.New(gerr.NotFound, "no such branch: "+branch)
	}
	branchTip, err := store.ResolveRef("refs/heads/" + branch)
	if err != nil {
		return "", err
	}
	if branchTip == "" {
		return "", nil
	}

	head, err := store.HeadCommit()
	if err != nil {
		return "", err
	}

	// Commits reachable from the branch but not from HEAD.
	inHead := map[string]bool{}
	walkAncestry(store, head, func(hash string) bool {
		inHead[hash] = true
		return true
	})
	pending, err := store.CollectHistory(branchTip, inHead)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "Current branch is up to date.", nil
	}

	// CollectHistory returns tip-first; apply oldest first.
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return applyCommits(store, pending)
}

// applyCommits replays each commit onto the current HEAD, stopping on
// the first conflict.
func applyCommits(store *refstore.Store, pending []string) (string, error) {
	var last string
	for _, commitHash := range pending {
		head, err := store.HeadCommit()
		if err != nil {
			return "", err
		}
		base := commonAncestor(store, head, commitHash)
		merged, conflicts, err := mergeTrees(store, base, head, commitHash)
		if err != nil {
			return "", err
		}
		if len(conflicts) > 0 {
			if err := materialiseMergeResult(store, merged, conflicts); err != nil {
				return "", err
			}
			if err := os.WriteFile(store.Paths.RebaseHead(), []byte(commitHash+"\n"), 0o644); err != nil {
				return "", gerr.Wrap(gerr.IOError, err, "write REBASE_HEAD")
			}
			return "", gerr.New(gerr.ConflictingRef, "could not apply "+commitHash+"; fix conflicts and run rebase --continue")
		}

		original, err := store.ReadCommit(commitHash)
		if err != nil {
			return "", err
		}
		var parents []string
		if head != "" {
			parents = append(parents, head)
		}
		newCommit, err := commitMergedFiles(store, merged, original.Message, parents)
		if err != nil {
			return "", err
		}
		branch, err := store.HeadRef()
		if err != nil {
			return "", err
		}
		if err := store.UpdateRef("refs/heads/"+branch, newCommit); err != nil {
			return "", err
		}
		if err := checkOutCommit(store, newCommit); err != nil {
			return "", err
		}
		last = newCommit
	}
	return last, nil
}

// continueRebase commits the resolved working tree as the parked
// commit's replacement and clears REBASE_HEAD. Remaining commits, if
// any, were never reached by the stopped run and stay unapplied, the
// way the original stop-on-conflict behaviour leaves them.
func continueRebase(store *refstore.Store) (string, error) {
	parkedBytes, err := os.ReadFile(store.Paths.RebaseHead())
	if err != nil {
		if os.IsNotExist(err) {
			return "", gerr.New(gerr.InvalidArgument, "no rebase in progress")
		}
		return "", gerr.Wrap(gerr.IOError, err, "read REBASE_HEAD")
	}
	parked := strings.TrimSpace(string(parkedBytes))

	if err := rejectUnresolvedConflicts(store); err != nil {
		return "", err
	}

	entries, err := store.StageWorkingTree()
	if err != nil {
		return "", err
	}
	if err := store.WriteIndex(entries); err != nil {
		return "", err
	}
	treeHash, err := store.BuildTreeFromIndex(entries)
	if err != nil {
		return "", err
	}

	original, err := store.ReadCommit(parked)
	if err != nil {
		return "", err
	}
	head, err := store.HeadCommit()
	if err != nil {
		return "", err
	}
	var parents []string
	if head != "" {
		parents = append(parents, head)
	}
	newCommit, err := store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
		Tree: treeHash, Parents: parents, Message: original.Message,
	}))
	if err != nil {
		return "", err
	}
	branch, err := store.HeadRef()
	if err != nil {
		return "", err
	}
	if err := store.UpdateRef("refs/heads/"+branch, newCommit); err != nil {
		return "", err
	}
	if err := os.Remove(store.Paths.RebaseHead()); err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "remove REBASE_HEAD")
	}
	if err := markIndexClean(store, entries); err != nil {
		return "", err
	}
	return newCommit, nil
}
