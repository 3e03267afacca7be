package commands

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
	"github.com/makeos-kit/gitd/transfer"
)

// DefaultRemote is the remote name fetch/push/pull fall back to.
const DefaultRemote = "origin"

// dialRemote resolves a remote declaration and opens a connection to
// its host.
func dialRemote(ctx context.Context, store *refstore.Store, name string) (net.Conn, string, error) {
	addr, repo, err := lookupRemote(store, name)
	if err != nil {
		return nil, "", err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, "", gerr.Wrap(gerr.IOError, err, "dial remote "+addr)
	}
	return conn, repo, nil
}

// FetchCmd downloads the remote's objects and updates remote-tracking
// refs (§4.5).
type FetchCmd struct {
	Log logger.Logger
}

func (c *FetchCmd) Execute(ctx context.Context, args []string, paths *refstore.Paths) (string, error) {
	remote := DefaultRemote
	if len(args) > 0 {
		remote = args[0]
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	conn, repo, err := dialRemote(ctx, store, remote)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	refs, err := transfer.NewClient(store, hostOf(conn), c.Log).Fetch(conn, repo, remote)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Fetched %d refs from %s", len(refs), remote), nil
}

// PushCmd uploads local branches the remote is missing (§4.5).
type PushCmd struct {
	Log logger.Logger
}

func (c *PushCmd) Execute(ctx context.Context, args []string, paths *refstore.Paths) (string, error) {
	remote := DefaultRemote
	if len(args) > 0 {
		remote = args[0]
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	conn, repo, err := dialRemote(ctx, store, remote)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	updates, err := transfer.NewClient(store, hostOf(conn), c.Log).Push(conn, repo)
	if err != nil {
		return "", err
	}
	if len(updates) == 0 {
		return "Everything up to date", nil
	}
	var lines []string
	for _, u := range updates {
		lines = append(lines, fmt.Sprintf("  %s -> %s", u.New[:8], u.Name))
	}
	return strings.Join(lines, "\n"), nil
}

// PullCmd is fetch followed by a merge of the current branch's
// remote-tracking ref (§4.5).
type PullCmd struct {
	Log logger.Logger
}

func (c *PullCmd) Execute(ctx context.Context, args []string, paths *refstore.Paths) (string, error) {
	remote := DefaultRemote
	if len(args) > 0 {
		remote = args[0]
	}
	if _, err := (&FetchCmd{Log: c.Log}).Execute(ctx, []string{remote}, paths); err != nil {
		return "", err
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	branch, err := store.HeadRef()
	if err != nil {
		return "", err
	}
	tracking := remote + "/" + branch
	if _, err := store.ResolveRef("refs/remotes/" + tracking); err != nil {
		// The remote has no counterpart of this branch yet.
		return "Already up to date.", nil
	}
	return (&MergeCmd{}).Execute(ctx, []string{tracking}, paths)
}

// CloneCmd initialises a fresh repository from a remote URL: init,
// remote add, fetch, then create local branches from the advertised
// heads and check out the default one (§4.5).
type CloneCmd struct {
	Log logger.Logger
}

func (c *CloneCmd) Execute(ctx context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) == 0 {
		return "", gerr.New(gerr.InvalidArgument, "clone: url required")
	}
	url := args[0]
	slash := strings.Index(url, "/")
	if slash == -1 {
		return "", gerr.New(gerr.InvalidArgument, "malformed remote url: "+url)
	}
	addr, repo := url[:slash], url[slash+1:]

	dir := filepath.Base(repo)
	if len(args) > 1 {
		dir = args[1]
	}
	root := filepath.Join(paths.Root, dir)
	store := refstore.Open(root)
	if err := store.Init(DefaultBranch); err != nil {
		return "", err
	}
	if err := writeRemotes(store, []remote{{Name: DefaultRemote, URL: url}}); err != nil {
		return "", err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "dial remote "+addr)
	}
	defer conn.Close()

	refs, err := transfer.NewClient(store, hostOf(conn), c.Log).Fetch(conn, repo, DefaultRemote)
	if err != nil {
		return "", err
	}

	for _, ad := range refs {
		if !strings.HasPrefix(ad.Name, "refs/heads/") {
			continue
		}
		if err := store.UpdateRef(ad.Name, ad.Hash); err != nil {
			return "", err
		}
	}

	// Check out the default branch when the remote has it; otherwise
	// the first advertised branch.
	target := ""
	for _, ad := range refs {
		branch := strings.TrimPrefix(ad.Name, "refs/heads/")
		if branch == ad.Name {
			continue
		}
		if target == "" || branch == DefaultBranch {
			target = branch
		}
	}
	if target != "" {
		clonePaths := refstore.NewPaths(root)
		if _, err := (&CheckoutCmd{}).Execute(ctx, []string{target}, clonePaths); err != nil {
			return "", err
		}
	}
	return "Cloned into " + dir, nil
}

// hostOf extracts the peer host for the command frame's host field.
func hostOf(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
