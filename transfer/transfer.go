package transfer

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

// Service names carried in the opening command frame.
const (
	UploadPackService  = "git-upload-pack"  // fetch (client pulls)
	ReceivePackService = "git-receive-pack" // push (client sends)
)

// unpackOK is the confirmation frame the server sends after a push's
// pack has been ingested and its ref updates applied.
const unpackOK = "unpack ok\n"

// nak is the response that precedes the pack stream on fetch. With the
// negotiation simplification of §4.4 (no have lines), it is
// unconditional.
const nak = "NAK\n"

// RefAd is one advertised ref: a commit hash and the full ref name
// (e.g. "refs/heads/main", or "HEAD").
type RefAd struct {
	Hash string
	Name string
}

// commandFrame formats the opening request: the service name, the repo
// path, and the host, NUL-separated (§4.4).
func commandFrame(service, repo, host string) string {
	return fmt.Sprintf("%s /%s/%s\x00host=%s\x00", service, repo, refstore.MetaDirName, host)
}

// parseCommandFrame is the inverse of commandFrame, returning the
// service name and repository name.
func parseCommandFrame(payload string) (service, repo string, err error) {
	nul := strings.IndexByte(payload, 0)
	if nul == -1 {
		return "", "", gerr.New(gerr.ProtocolError, "command frame missing NUL terminator")
	}
	head := payload[:nul]
	parts := strings.SplitN(head, " ", 2)
	if len(parts) != 2 {
		return "", "", gerr.New(gerr.ProtocolError, "malformed command frame")
	}
	service = parts[0]
	if service != UploadPackService && service != ReceivePackService {
		return "", "", gerr.New(gerr.ProtocolError, "unknown service: "+service)
	}
	repoPath := strings.TrimSuffix(strings.TrimPrefix(parts[1], "/"), "/"+refstore.MetaDirName)
	repo = path.Clean(repoPath)
	if repo == "" || repo == "." || strings.Contains(repo, "..") {
		return "", "", gerr.New(gerr.ProtocolError, "invalid repository path")
	}
	return service, repo, nil
}

// writeAdvertisement emits one framed "<hash> <refname>" line per ref
// followed by a flush. Empty repositories (no resolvable refs) emit
// only the flush (§4.4).
func writeAdvertisement(w io.Writer, refs []RefAd) error {
	for _, ad := range refs {
		if err := WriteFrame(w, fmt.Sprintf("%s %s\n", ad.Hash, ad.Name)); err != nil {
			return err
		}
	}
	return WriteFlush(w)
}

// readAdvertisement consumes the server's ref advertisement up to its
// flush marker.
func readAdvertisement(r io.Reader) ([]RefAd, error) {
	frames, err := ReadFramesUntilFlush(r)
	if err != nil {
		return nil, err
	}
	var refs []RefAd
	for _, f := range frames {
		parts := strings.SplitN(strings.TrimSuffix(f, "\n"), " ", 2)
		if len(parts) != 2 || !objects.ValidHex(parts[0]) {
			return nil, gerr.New(gerr.ProtocolError, "malformed ref advertisement line: "+f)
		}
		refs = append(refs, RefAd{Hash: parts[0], Name: parts[1]})
	}
	return refs, nil
}

// advertisedRefs enumerates a store's branches and tags as RefAds,
// skipping never-committed refs (their hash is empty and there is
// nothing to transfer). When withHead is true and HEAD resolves, it is
// emitted first; push sessions always omit it (§9).
func advertisedRefs(store *refstore.Store, withHead bool) ([]RefAd, error) {
	var refs []RefAd
	if withHead {
		if hash, err := store.HeadCommit(); err == nil && hash != "" {
			refs = append(refs, RefAd{Hash: hash, Name: "HEAD"})
		}
	}
	branches, err := store.ListBranches()
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		hash, err := store.ResolveRef("refs/heads/" + b)
		if err != nil || hash == "" {
			continue
		}
		refs = append(refs, RefAd{Hash: hash, Name: "refs/heads/" + b})
	}
	tags, err := store.ListTags()
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		hash, err := store.ResolveRef("refs/tags/" + t)
		if err != nil || hash == "" {
			continue
		}
		refs = append(refs, RefAd{Hash: hash, Name: "refs/tags/" + t})
	}
	return refs, nil
}

// packSetFor computes the object set for a pack: the union, over every
// tip commit, of its history (stopping at any commit in stopAt) and
// each reached commit's tree closure.
func packSetFor(store *refstore.Store, tips []string, stopAt map[string]bool) ([]string, error) {
	set := map[string]bool{}
	for _, tip := range tips {
		commits, err := store.CollectHistory(tip, stopAt)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			reachable, err := store.EnumerateReachable(c)
			if err != nil {
				return nil, err
			}
			for h := range reachable {
				set[h] = true
			}
		}
	}
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	return hashes, nil
}
