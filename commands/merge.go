package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

// Conflict marker lines (§4.5).
const (
	conflictStart = "<<<<<<< HEAD"
	conflictMid   = "======="
	conflictEnd   = ">>>>>>>"
)

// MergeCmd merges a branch into the current one (or "into <other>"):
// fast-forward when possible, otherwise a three-way merge that either
// commits with two parents or stops on conflicts, recording the
// incoming tip in MERGE_HEAD until "merge --continue" (§4.5).
type MergeCmd struct{}

func (c *MergeCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) == 0 {
		return "", gerr.New(gerr.InvalidArgument, "merge: branch name required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	if args[0] == "--continue" {
		return continueMerge(store)
	}

	source := args[0]
	target, err := store.HeadRef()
	if err != nil {
		return "", err
	}
	if len(args) == 3 && args[1] == "into" {
		target = args[2]
		if !store.BranchExists(target) {
			return "", gerr.New(gerr.NotFound, "no such branch: "+target)
		}
	}
	if source == target {
		return "", gerr.New(gerr.InvalidArgument, "cannot merge a branch into itself")
	}

	sourceTip, err := resolveCommitIsh(store, source)
	if err != nil {
		return "", err
	}
	if sourceTip == "" {
		return "", gerr.New(gerr.InvalidArgument, "branch has no commits: "+source)
	}
	targetTip, err := store.ResolveRef("refs/heads/" + target)
	if err != nil {
		return "", err
	}

	current, err := store.HeadRef()
	if err != nil {
		return "", err
	}
	syncWorktree := current == target

	// Fast-forward: the target tip (possibly absent) is an ancestor of
	// the source tip. Advance the ref with no new commit (§ GLOSSARY).
	if targetTip == "" || isAncestor(store, targetTip, sourceTip) {
		if targetTip == sourceTip {
			return "Already up to date.", nil
		}
		if err := store.UpdateRef("refs/heads/"+target, sourceTip); err != nil {
			return "", err
		}
		if syncWorktree {
			if err := checkOutCommit(store, sourceTip); err != nil {
				return "", err
			}
		}
		return "Fast-forward", nil
	}
	if isAncestor(store, sourceTip, targetTip) {
		return "Already up to date.", nil
	}

	base := commonAncestor(store, targetTip, sourceTip)
	merged, conflicts, err := mergeTrees(store, base, targetTip, sourceTip)
	if err != nil {
		return "", err
	}

	if len(conflicts) > 0 {
		// Project the half-merged result into the working tree so the
		// user can edit the conflicts out, and park the incoming tip.
		if err := materialiseMergeResult(store, merged, conflicts); err != nil {
			return "", err
		}
		if err := os.WriteFile(store.Paths.MergeHead(), []byte(sourceTip+"\n"), 0o644); err != nil {
			return "", gerr.Wrap(gerr.IOError, err, "write MERGE_HEAD")
		}
		return "", gerr.New(gerr.ConflictingRef, "Automatic merge failed; fix conflicts and commit")
	}

	commitHash, err := commitMergedFiles(store, merged, "Merge branch '"+source+"'", []string{targetTip, sourceTip})
	if err != nil {
		return "", err
	}
	if err := store.UpdateRef("refs/heads/"+target, commitHash); err != nil {
		return "", err
	}
	if syncWorktree {
		if err := checkOutCommit(store, commitHash); err != nil {
			return "", err
		}
	}
	return commitHash, nil
}

// continueMerge finishes a conflicted merge after the user edited the
// markers out: re-scan the working tree, refuse if markers remain,
// then commit with both parents and clear MERGE_HEAD.
func continueMerge(store *refstore.Store) (string, error) {
	mergeHeadBytes, err := os.ReadFile(store.Paths.MergeHead())
	if err != nil {
		if os.IsNotExist(err) {
			return "", gerr.New(gerr.InvalidArgument, "no merge in progress")
		}
		return "", gerr.Wrap(gerr.IOError, err, "read MERGE_HEAD")
	}
	mergeHead := strings.TrimSpace(string(mergeHeadBytes))

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

	head, err := store.HeadCommit()
	if err != nil {
		return "", err
	}
	commitHash, err := store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
		Tree: treeHash, Parents: []string{head, mergeHead}, Message: "Merge",
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
	if err := os.Remove(store.Paths.MergeHead()); err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "remove MERGE_HEAD")
	}
	if err := markIndexClean(store, entries); err != nil {
		return "", err
	}
	return commitHash, nil
}

// rejectUnresolvedConflicts fails ConflictingRef if any working-tree
// file still opens a conflict hunk.
func rejectUnresolvedConflicts(store *refstore.Store) error {
	return store.WalkWorkingTree(func(path string) error {
		data, err := os.ReadFile(filepath.Join(store.Paths.Root, path))
		if err != nil {
			return gerr.Wrap(gerr.IOError, err, "read working tree file")
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, conflictStart) {
				return gerr.New(gerr.ConflictingRef, "unresolved conflict in "+path)
			}
		}
		return nil
	})
}

// markIndexClean rewrites entries with state unstaged after a commit.
func markIndexClean(store *refstore.Store, entries []refstore.IndexEntry) error {
	for i := range entries {
		entries[i].State = refstore.StateUnstaged
	}
	return store.WriteIndex(entries)
}

// treeFiles flattens a commit's tree into path → blob hash. An empty
// commit hash yields an empty map, standing in for a missing merge
// base.
func treeFiles(store *refstore.Store, commitHash string) (map[string]string, error) {
	files := map[string]string{}
	if commitHash == "" {
		return files, nil
	}
	commit, err := store.ReadCommit(commitHash)
	if err != nil {
		return nil, err
	}
	err = store.WalkTree(commit.Tree, func(path string, e refstore.TreeEntry) error {
		if e.Mode == refstore.ModeFile {
			files[path] = e.Hash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// conflictPair carries both sides' blob hashes for a conflicted path.
type conflictPair struct {
	Ours   string
	Theirs string
}

// mergeTrees performs the three-way file-level merge of two commits
// against their common ancestor. merged maps every cleanly resolved
// path to its blob hash; conflicts holds the paths where both sides
// changed the same file with no common origin in the base (§4.5).
func mergeTrees(store *refstore.Store, base, ours, theirs string) (merged map[string]string, conflicts map[string]conflictPair, err error) {
	baseFiles, err := treeFiles(store, base)
	if err != nil {
		return nil, nil, err
	}
	ourFiles, err := treeFiles(store, ours)
	if err != nil {
		return nil, nil, err
	}
	theirFiles, err := treeFiles(store, theirs)
	if err != nil {
		return nil, nil, err
	}

	paths := map[string]bool{}
	for p := range ourFiles {
		paths[p] = true
	}
	for p := range theirFiles {
		paths[p] = true
	}

	merged = map[string]string{}
	conflicts = map[string]conflictPair{}
	for p := range paths {
		b, o, t := baseFiles[p], ourFiles[p], theirFiles[p]
		switch {
		case o == t:
			merged[p] = o
		case t == b:
			// Only our side touched it.
			if o != "" {
				merged[p] = o
			}
		case o == b:
			// Only their side touched it.
			if t != "" {
				merged[p] = t
			}
		case o == "":
			merged[p] = t
		case t == "":
			merged[p] = o
		default:
			conflicts[p] = conflictPair{Ours: o, Theirs: t}
		}
	}
	return merged, conflicts, nil
}

// conflictContent renders a conflicted file with three-way markers.
func conflictContent(store *refstore.Store, pair conflictPair) ([]byte, error) {
	_, ours, err := store.ReadObject(pair.Ours)
	if err != nil {
		return nil, err
	}
	_, theirs, err := store.ReadObject(pair.Theirs)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	sb.WriteString(conflictStart + "\n")
	sb.Write(ensureNewline(ours))
	sb.WriteString(conflictMid + "\n")
	sb.Write(ensureNewline(theirs))
	sb.WriteString(conflictEnd + "\n")
	return []byte(sb.String()), nil
}

func ensureNewline(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] == '\n' {
		return b
	}
	return append(append([]byte{}, b...), '\n')
}

// materialiseMergeResult rewrites the working tree with the resolved
// files plus marker-annotated conflict files.
func materialiseMergeResult(store *refstore.Store, merged map[string]string, conflicts map[string]conflictPair) error {
	if err := store.CleanWorkingTree(); err != nil {
		return err
	}
	writeFile := func(path string, content []byte) error {
		full := filepath.Join(store.Paths.Root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return gerr.Wrap(gerr.IOError, err, "create merge result directory")
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return gerr.Wrap(gerr.IOError, err, "write merge result file")
		}
		return nil
	}
	for path, hash := range merged {
		_, payload, err := store.ReadObject(hash)
		if err != nil {
			return err
		}
		if err := writeFile(path, payload); err != nil {
			return err
		}
	}
	for path, pair := range conflicts {
		content, err := conflictContent(store, pair)
		if err != nil {
			return err
		}
		if err := writeFile(path, content); err != nil {
			return err
		}
	}
	return nil
}

// commitMergedFiles builds a tree from resolved path→blob pairs and
// writes a commit over it.
func commitMergedFiles(store *refstore.Store, merged map[string]string, message string, parents []string) (string, error) {
	var entries []refstore.IndexEntry
	for path, hash := range merged {
		entries = append(entries, refstore.IndexEntry{Path: path, Hash: hash, State: refstore.StateStaged})
	}
	treeHash, err := store.BuildTreeFromIndex(entries)
	if err != nil {
		return "", err
	}
	return store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
		Tree: treeHash, Parents: parents, Message: message,
	}))
}

// checkOutCommit projects a commit's tree onto the working tree and
// rebuilds the index, the way checkout does.
func checkOutCommit(store *refstore.Store, commitHash string) error {
	commit, err := store.ReadCommit(commitHash)
	if err != nil {
		return err
	}
	if err := store.CleanWorkingTree(); err != nil {
		return err
	}
	if err := store.Materialise(commit.Tree); err != nil {
		return err
	}
	entries, err := store.IndexFromTree(commit.Tree)
	if err != nil {
		return err
	}
	return store.WriteIndex(entries)
}

// isAncestor reports whether anc is reachable from tip by parent
// traversal (tip counts as its own ancestor).
func isAncestor(store *refstore.Store, anc, tip string) bool {
	found := false
	walkAncestry(store, tip, func(hash string) bool {
		if hash == anc {
			found = true
			return false
		}
		return true
	})
	return found
}

// commonAncestor returns the first commit reachable from both tips, or
// "" when the histories are unrelated. Ancestors of a are collected
// first; b's ancestry is then walked breadth-first until it hits one.
func commonAncestor(store *refstore.Store, a, b string) string {
	inA := map[string]bool{}
	walkAncestry(store, a, func(hash string) bool {
		inA[hash] = true
		return true
	})
	var match string
	walkAncestry(store, b, func(hash string) bool {
		if inA[hash] {
			match = hash
			return false
		}
		return true
	})
	return match
}

// walkAncestry visits tip and every ancestor (both parents),
// breadth-first; the visitor returns false to stop early.
func walkAncestry(store *refstore.Store, tip string, visit func(hash string) bool) {
	if tip == "" {
		return
	}
	seen := map[string]bool{tip: true}
	frontier := []string{tip}
	for len(frontier) > 0 {
		hash := frontier[0]
		frontier = frontier[1:]
		if !visit(hash) {
			return
		}
		commit, err := store.ReadCommit(hash)
		if err != nil {
			continue
		}
		for _, p := range commit.Parents {
			if !seen[p] {
				seen[p] = true
				frontier = append(frontier, p)
			}
		}
	}
}
