package commands

import (
	"context"
	"path/filepath"

	"github.com/makeos-kit/gitd/refstore"
)

// DefaultBranch is the branch HEAD points at after init (§4.5).
const DefaultBranch = "main"

// InitCmd creates the repository metadata layout. With an argument, it
// initialises a repository named <arg> under the resolver's root — the
// form the hosting server uses to provision repositories.
type InitCmd struct{}

func (c *InitCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	root := paths.Root
	if len(args) > 0 && args[0] != "" {
		root = filepath.Join(root, args[0])
	}
	store := refstore.Open(root)
	if err := store.Init(DefaultBranch); err != nil {
		return "", err
	}
	return "Initialized empty repository in " + store.Paths.MetaDir(), nil
}
