package commands

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pack"
	"github.com/makeos-kit/gitd/refstore"
)

// PackObjectsCmd serialises the transitive closure of the given
// commits into .git/pack/pack-<checksum>.pack, where the checksum is
// the pack's own trailing content hash (§4.5).
type PackObjectsCmd struct{}

func (c *PackObjectsCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) == 0 {
		return "", gerr.New(gerr.InvalidArgument, "pack-objects: commit required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	set := map[string]bool{}
	for _, arg := range args {
		commitHash, err := resolveCommitIsh(store, arg)
		if err != nil {
			return "", err
		}
		reachable, err := store.EnumerateReachable(commitHash)
		if err != nil {
			return "", err
		}
		for h := range reachable {
			set[h] = true
		}
	}
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}

	var buf bytes.Buffer
	if err := pack.Encode(&buf, hashes, store); err != nil {
		return "", err
	}
	// The final 20 bytes are the pack's content checksum and double as
	// its filename component.
	raw := buf.Bytes()
	checksum := hex.EncodeToString(raw[len(raw)-objects.HashSize:])
	name := fmt.Sprintf("pack-%s.pack", checksum)
	path := filepath.Join(store.Paths.Pack(), name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", gerr.Wrap(gerr.IOError, err, "write pack file")
	}
	return path, nil
}

// stagingSink buffers decoded objects in memory so a corrupt pack
// leaves no partial state in the store (§8 scenario F); reads fall
// back to the store for hash-delta bases.
type stagingSink struct {
	store *refstore.Store
	objs  map[string]struct {
		kind    objects.Kind
		payload []byte
	}
	order []string
}

func newStagingSink(store *refstore.Store) *stagingSink {
	return &stagingSink{
		store: store,
		objs: map[string]struct {
			kind    objects.Kind
			payload []byte
		}{},
	}
}

func (s *stagingSink) WriteObject(kind objects.Kind, payload []byte) (string, error) {
	hash := objects.Hash(kind, payload)
	if _, ok := s.objs[hash]; !ok {
		s.objs[hash] = struct {
			kind    objects.Kind
			payload []byte
		}{kind, payload}
		s.order = append(s.order, hash)
	}
	return hash, nil
}

func (s *stagingSink) ReadObject(hash string) (objects.Kind, []byte, error) {
	if o, ok := s.objs[hash]; ok {
		return o.kind, o.payload, nil
	}
	return s.store.ReadObject(hash)
}

// flush writes every staged object through to the store.
func (s *stagingSink) flush() error {
	for _, hash := range s.order {
		o := s.objs[hash]
		if _, err := s.store.WriteObject(o.kind, o.payload); err != nil {
			return err
		}
	}
	return nil
}

// UnpackObjectsCmd decodes a pack file and materialises each object in
// the store. Decoding is staged in memory first: a checksum or format
// failure adds nothing to the store.
type UnpackObjectsCmd struct{}

func (c *UnpackObjectsCmd) Execute(_ context.Context, args []string, paths *refstore.Paths) (string, error) {
	if len(args) != 1 {
		return "", gerr.New(gerr.InvalidArgument, "unpack-objects: pack path required")
	}
	store, err := openRepo(paths)
	if err != nil {
		return "", err
	}

	packPath := args[0]
	if !filepath.IsAbs(packPath) {
		packPath = filepath.Join(paths.Root, packPath)
	}
	f, err := os.Open(packPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", gerr.New(gerr.NotFound, "no such pack: "+args[0])
		}
		return "", gerr.Wrap(gerr.IOError, err, "open pack file")
	}
	defer f.Close()

	sink := newStagingSink(store)
	hashes, err := pack.Decode(f, sink)
	if err != nil {
		return "", err
	}
	if err := sink.flush(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unpacked %d objects", len(hashes)), nil
}
