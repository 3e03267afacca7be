package transfer

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/lockmgr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pack"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

// RepoOpener maps a repository name from a command frame to its object
// store. Returning a NotFound error aborts the session.
type RepoOpener func(repo string) (*refstore.Store, error)

// Server runs the server side of the transfer protocol for one
// repository host. One ServeConn call per accepted connection; the
// caller owns the connection's lifetime and closes it when ServeConn
// returns (§4.4 — there is no in-band error channel, a failed session
// is simply closed).
type Server struct {
	Open  RepoOpener
	Locks *lockmgr.Manager
	Log   logger.Logger
}

// NewServer constructs a transfer protocol server.
func NewServer(open RepoOpener, locks *lockmgr.Manager, log logger.Logger) *Server {
	return &Server{Open: open, Locks: locks, Log: log.Module("transfer.server")}
}

// ServeConn drives one session to completion: command frame, then the
// fetch or push state machine.
func (s *Server) ServeConn(conn io.ReadWriter) error {
	payload, flush, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if flush {
		return gerr.New(gerr.ProtocolError, "unexpected flush before command")
	}
	service, repo, err := parseCommandFrame(payload)
	if err != nil {
		return err
	}
	store, err := s.Open(repo)
	if err != nil {
		return err
	}
	s.Log.Debug("Session started", "Service", service, "Repo", repo)

	switch service {
	case UploadPackService:
		return s.serveUploadPack(conn, store)
	default:
		return s.serveReceivePack(conn, repo, store)
	}
}

// serveUploadPack handles a fetch: advertise (HEAD first when it
// resolves), collect wants, then NAK and stream the pack.
func (s *Server) serveUploadPack(conn io.ReadWriter, store *refstore.Store) error {
	refs, err := advertisedRefs(store, true)
	if err != nil {
		return err
	}
	if err := writeAdvertisement(conn, refs); err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	wantFrames, err := ReadFramesUntilFlush(conn)
	if err != nil {
		return err
	}
	done, flush, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if flush || done != "done\n" {
		return gerr.New(gerr.ProtocolError, "expected done, got: "+strings.TrimSpace(done))
	}

	var wants []string
	for _, f := range wantFrames {
		line := strings.TrimSuffix(f, "\n")
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 || parts[0] != "want" || !objects.ValidHex(parts[1]) {
			return gerr.New(gerr.ProtocolError, "malformed want line: "+line)
		}
		wants = append(wants, parts[1])
	}

	if err := WriteFrame(conn, nak); err != nil {
		return err
	}
	hashes, err := packSetFor(store, wants, nil)
	if err != nil {
		return err
	}
	return pack.Encode(conn, hashes, store)
}

// serveReceivePack handles a push: advertise (no HEAD), read ref
// updates and the pack, then serialise through the per-branch locks:
// CAS-check each old hash, ingest, verify closure, update refs (§4.4).
func (s *Server) serveReceivePack(conn io.ReadWriter, repo string, store *refstore.Store) error {
	refs, err := advertisedRefs(store, false)
	if err != nil {
		return err
	}
	if err := writeAdvertisement(conn, refs); err != nil {
		return err
	}

	updateFrames, err := ReadFramesUntilFlush(conn)
	if err != nil {
		return err
	}
	if len(updateFrames) == 0 {
		return nil
	}
	var updates []RefUpdate
	for _, f := range updateFrames {
		line := strings.TrimSuffix(f, "\n")
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 || !objects.ValidHex(parts[0]) || !objects.ValidHex(parts[1]) ||
			!strings.HasPrefix(parts[2], "refs/heads/") {
			return gerr.New(gerr.ProtocolError, "malformed ref update line: "+line)
		}
		updates = append(updates, RefUpdate{Old: parts[0], New: parts[1], Name: parts[2]})
	}

	// The pack follows the flush and runs to the peer's half-close.
	// Buffer it fully before taking any locks so a slow client cannot
	// hold a branch hostage.
	packBytes, err := io.ReadAll(conn)
	if err != nil {
		return gerr.Wrap(gerr.IOError, err, "read pack stream")
	}

	owner := s.Locks.NewOwner()
	defer owner.Release()
	// Fixed acquisition order (§4.7): branches sorted by name.
	sorted := append([]RefUpdate{}, updates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, u := range sorted {
		branch := strings.TrimPrefix(u.Name, "refs/heads/")
		owner.Lock(lockmgr.BranchLockName(repo, branch))
	}

	// CAS check: the stored hash must still equal the one the client
	// saw advertised. The loser of a concurrent push fails here (§5).
	stopAt := map[string]bool{}
	for _, u := range updates {
		stored, err := store.ResolveRef(u.Name)
		if err != nil && gerr.Of(err) != gerr.NotFound {
			return err
		}
		if stored == "" {
			stored = objects.ZeroHash
		}
		if stored != u.Old {
			return gerr.New(gerr.ConflictingRef, "non-fast-forward update of "+u.Name)
		}
		if u.Old != objects.ZeroHash {
			stopAt[u.Old] = true
		}
	}

	written, err := pack.Decode(bytes.NewReader(packBytes), store)
	if err != nil {
		return err
	}

	// Closure check: every object referenced from each new tip down to
	// a known base must now exist; packSetFor fails NotFound otherwise.
	var tips []string
	for _, u := range updates {
		tips = append(tips, u.New)
	}
	if _, err := packSetFor(store, tips, stopAt); err != nil {
		return gerr.Wrap(gerr.Corrupt, err, "pack does not close over pushed refs")
	}

	for _, u := range updates {
		if err := store.UpdateRef(u.Name, u.New); err != nil {
			return err
		}
	}
	s.Log.Debug("Push applied", "Repo", repo, "Refs", len(updates), "Objects", len(written))
	return WriteFrame(conn, unpackOK)
}
