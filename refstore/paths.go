// Package refstore implements the object store, reference graph, index
// and working-tree operations of §4.2 on top of the pure codec in
// package objects. It is the stateful layer: every exported method
// touches the filesystem under a repository root.
package refstore

import "path/filepath"

// MetaDirName is the name of the metadata directory at a repository
// root, analogous to ".git" (§6).
const MetaDirName = ".git"

// Paths resolves every well-known location under a repository root.
// Stateless beyond its root, per §2 ("Path resolver"). Grounded on the
// teacher's path-building helpers in remote/repo — generalized here to
// our on-disk layout (§6) instead of delegating to go-git.
type Paths struct {
	Root string // repository root (the working tree's top-level directory)
}

// NewPaths returns a Paths resolver rooted at root.
func NewPaths(root string) *Paths { return &Paths{Root: root} }

func (p *Paths) meta() string { return filepath.Join(p.Root, MetaDirName) }

// Objects returns the objects/ directory.
func (p *Paths) Objects() string { return filepath.Join(p.meta(), "objects") }

// ObjectPath returns the on-disk path for an object hash: the first two
// hex characters bucket the remaining 38 (§6).
func (p *Paths) ObjectPath(hash string) string {
	return filepath.Join(p.Objects(), hash[:2], hash[2:])
}

// RefsHeads returns the refs/heads/ directory (local branches).
func (p *Paths) RefsHeads() string { return filepath.Join(p.meta(), "refs", "heads") }

// RefHead returns the ref file path for local branch name.
func (p *Paths) RefHead(name string) string { return filepath.Join(p.RefsHeads(), name) }

// RefsTags returns the refs/tags/ directory.
func (p *Paths) RefsTags() string { return filepath.Join(p.meta(), "refs", "tags") }

// RefTag returns the ref file path for tag name.
func (p *Paths) RefTag(name string) string { return filepath.Join(p.RefsTags(), name) }

// RefsRemotes returns the refs/remotes/ directory.
func (p *Paths) RefsRemotes() string { return filepath.Join(p.meta(), "refs", "remotes") }

// RefRemote returns the ref file path for branch name under remote.
func (p *Paths) RefRemote(remote, name string) string {
	return filepath.Join(p.RefsRemotes(), remote, name)
}

// Head returns the HEAD file path.
func (p *Paths) Head() string { return filepath.Join(p.meta(), "HEAD") }

// Index returns the index file path.
func (p *Paths) Index() string { return filepath.Join(p.meta(), "index") }

// Config returns the config file path.
func (p *Paths) Config() string { return filepath.Join(p.meta(), "config") }

// Pack returns the pack/ directory.
func (p *Paths) Pack() string { return filepath.Join(p.meta(), "pack") }

// MergeHead returns the transient MERGE_HEAD file path.
func (p *Paths) MergeHead() string { return filepath.Join(p.meta(), "MERGE_HEAD") }

// RebaseHead returns the transient REBASE_HEAD file path.
func (p *Paths) RebaseHead() string { return filepath.Join(p.meta(), "REBASE_HEAD") }

// IgnoreFile returns the path of the ignore-file contract (§6).
func (p *Paths) IgnoreFile() string { return filepath.Join(p.Root, ".gitignore.txt") }

// MetaDir returns the metadata directory itself, used to test for
// repository existence and to exclude it when walking the working tree.
func (p *Paths) MetaDir() string { return p.meta() }
