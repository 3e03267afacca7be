package transfer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pack"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

// RefUpdate is one branch update a push proposes: old may be the
// all-zero hash to signal creation (§4.4).
type RefUpdate struct {
	Old  string
	New  string
	Name string
}

// halfCloser is satisfied by *net.TCPConn. Push half-closes its write
// side after the pack so the server's pack reader sees EOF while the
// confirmation frame can still flow back.
type halfCloser interface {
	CloseWrite() error
}

// Client drives the fetch and push state machines against a remote
// repository server over an established byte stream.
type Client struct {
	Store *refstore.Store
	Host  string
	Log   logger.Logger
}

// NewClient returns a Client reading and writing objects through store.
func NewClient(store *refstore.Store, host string, log logger.Logger) *Client {
	return &Client{Store: store, Host: host, Log: log.Module("transfer.client")}
}

// Fetch runs the client side of the fetch handshake (§4.4): request,
// advertisement, wants, done, NAK, pack. Every advertised ref is
// wanted (negotiation simplification). The received pack is decoded
// into the store and remote-tracking refs under remote are updated.
// The advertised refs are returned for the caller's own bookkeeping
// (clone uses them to create local branches).
func (c *Client) Fetch(conn io.ReadWriter, repo, remote string) ([]RefAd, error) {
	if err := WriteFrame(conn, commandFrame(UploadPackService, repo, c.Host)); err != nil {
		return nil, err
	}

	refs, err := readAdvertisement(conn)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		c.Log.Debug("Remote repository is empty", "Repo", repo)
		return nil, nil
	}

	for _, ad := range refs {
		if ad.Name == "HEAD" {
			continue
		}
		if err := WriteFrame(conn, fmt.Sprintf("want %s\n", ad.Hash)); err != nil {
			return nil, err
		}
	}
	if err := WriteFlush(conn); err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, "done\n"); err != nil {
		return nil, err
	}

	resp, flush, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if flush || resp != nak {
		return nil, gerr.New(gerr.ProtocolError, "expected NAK, got: "+strings.TrimSpace(resp))
	}

	// The pack follows with no further framing; it runs to EOF.
	packBytes, err := io.ReadAll(conn)
	if err != nil {
		return nil, gerr.Wrap(gerr.IOError, err, "read pack stream")
	}
	written, err := pack.Decode(bytes.NewReader(packBytes), c.Store)
	if err != nil {
		return nil, err
	}
	c.Log.Debug("Fetched pack", "Repo", repo, "Objects", len(written))

	for _, ad := range refs {
		switch {
		case ad.Name == "HEAD":
			// Advertised optionally on fetch; never tracked (§9).
		case strings.HasPrefix(ad.Name, "refs/heads/"):
			branch := strings.TrimPrefix(ad.Name, "refs/heads/")
			if err := c.Store.UpdateRef("refs/remotes/"+remote+"/"+branch, ad.Hash); err != nil {
				return nil, err
			}
		case strings.HasPrefix(ad.Name, "refs/tags/"):
			if err := c.Store.UpdateRef(ad.Name, ad.Hash); err != nil {
				return nil, err
			}
		}
	}
	return refs, nil
}

// Push runs the client side of the push handshake (§4.4): request,
// advertisement, ref updates, pack, confirmation. Every local branch
// whose tip differs from the advertised hash is updated; the pack
// carries the closure of the commits the server is not known to have.
func (c *Client) Push(conn io.ReadWriter, repo string) ([]RefUpdate, error) {
	if err := WriteFrame(conn, commandFrame(ReceivePackService, repo, c.Host)); err != nil {
		return nil, err
	}

	refs, err := readAdvertisement(conn)
	if err != nil {
		return nil, err
	}
	advertised := map[string]string{}
	stopAt := map[string]bool{}
	for _, ad := range refs {
		if ad.Name == "HEAD" {
			// Always ignored for push (§9).
			continue
		}
		advertised[ad.Name] = ad.Hash
		stopAt[ad.Hash] = true
	}

	branches, err := c.Store.ListBranches()
	if err != nil {
		return nil, err
	}
	var updates []RefUpdate
	var tips []string
	for _, b := range branches {
		tip, err := c.Store.ResolveRef("refs/heads/" + b)
		if err != nil || tip == "" {
			continue
		}
		name := "refs/heads/" + b
		old, ok := advertised[name]
		if !ok {
			old = objects.ZeroHash
		}
		if old == tip {
			continue
		}
		updates = append(updates, RefUpdate{Old: old, New: tip, Name: name})
		tips = append(tips, tip)
	}

	if len(updates) == 0 {
		c.Log.Debug("Nothing to push", "Repo", repo)
		return nil, WriteFlush(conn)
	}

	for _, u := range updates {
		if err := WriteFrame(conn, fmt.Sprintf("%s %s %s\n", u.Old, u.New, u.Name)); err != nil {
			return nil, err
		}
	}
	if err := WriteFlush(conn); err != nil {
		return nil, err
	}

	hashes, err := packSetFor(c.Store, tips, stopAt)
	if err != nil {
		return nil, err
	}
	if err := pack.Encode(conn, hashes, c.Store); err != nil {
		return nil, err
	}
	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return nil, gerr.Wrap(gerr.IOError, err, "half-close push stream")
		}
	}

	resp, flush, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if flush || resp != unpackOK {
		return nil, gerr.New(gerr.ProtocolError, "push not confirmed by server")
	}
	c.Log.Debug("Pushed pack", "Repo", repo, "Refs", len(updates), "Objects", len(hashes))
	return updates, nil
}
