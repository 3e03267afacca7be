package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/refstore"
)

// RemoteCmd manages remote declarations in the repository config file
// (§6): sections of the form
//
//	[remote 'origin']
//	url=127.0.0.1:9418/my-repo
//
// With no args it lists remotes; "add <name> <url>" declares one,
// "remove <name>" deletes it.
type RemoteCmd struct{}

func (c *RemoteCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}
	remotes, err := readRemotes(store)
	if err != nil {
		return "", err
	}

	if len(args) == 0 {
		var lines []string
		for _, r := range remotes {
			lines = append(lines, fmt.Sprintf("%s\t%s", r.Name, r.URL))
		}
		return strings.Join(lines, "\n"), nil
	}

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return "", gerr.New(gerr.InvalidArgument, "remote add: name and url required")
		}
		name, url := args[1], args[2]
		for _, r := range remotes {
			if r.Name == name {
				return "", gerr.New(gerr.AlreadyExists, "remote already exists: "+name)
			}
		}
		remotes = append(remotes, remote{Name: name, URL: url})
		return "", writeRemotes(store, remotes)

	case "remove":
		if len(args) != 2 {
			return "", gerr.New(gerr.InvalidArgument, "remote remove: name required")
		}
		name := args[1]
		kept := remotes[:0]
		found := false
		for _, r := range remotes {
			if r.Name == name {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		if !found {
			return "", gerr.New(gerr.NotFound, "no such remote: "+name)
		}
		return "", writeRemotes(store, kept)

	default:
		return "", gerr.New(gerr.InvalidArgument, "remote: unknown subcommand: "+args[0])
	}
}

type remote struct {
	Name string
	URL  string
}

// readRemotes parses the INI-ish config file's remote sections.
func readRemotes(store *refstore.Store) ([]remote, error) {
	data, err := os.ReadFile(store.Paths.Config())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gerr.Wrap(gerr.IOError, err, "read config")
	}
	var remotes []remote
	var cur *remote
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "[remote '") && strings.HasSuffix(line, "']"):
			name := strings.TrimSuffix(strings.TrimPrefix(line, "[remote '"), "']")
			remotes = append(remotes, remote{Name: name})
			cur = &remotes[len(remotes)-1]
		case strings.HasPrefix(line, "["):
			cur = nil
		case cur != nil && strings.HasPrefix(line, "url="):
			cur.URL = strings.TrimPrefix(line, "url=")
		}
	}
	return remotes, nil
}

// writeRemotes rewrites the config file from the remote list.
func writeRemotes(store *refstore.Store, remotes []remote) error {
	var sb strings.Builder
	for _, r := range remotes {
		fmt.Fprintf(&sb, "[remote '%s']\nurl=%s\n", r.Name, r.URL)
	}
	if err := os.WriteFile(store.Paths.Config(), []byte(sb.String()), 0o644); err != nil {
		return gerr.Wrap(gerr.IOError, err, "write config")
	}
	return nil
}

// lookupRemote resolves a remote's URL into its dial address and
// repository name. URLs have the form "host:port/repo".
func lookupRemote(store *refstore.Store, name string) (addr, repo string, err error) {
	remotes, err := readRemotes(store)
	if err != nil {
		return "", "", err
	}
	for _, r := range remotes {
		if r.Name != name {
			continue
		}
		slash := strings.Index(r.URL, "/")
		if slash == -1 {
			return "", "", gerr.New(gerr.InvalidArgument, "malformed remote url: "+r.URL)
		}
		return r.URL[:slash], r.URL[slash+1:], nil
	}
	return "", "", gerr.New(gerr.NotFound, "no such remote: "+name)
}
