package transfer_test

import (
	"net"
	"os"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/lockmgr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/pack"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
	"github.com/makeos-kit/gitd/transfer"
)

// mustTempDir works around github.com/onsi/ginkgo v1.16.5's GinkgoT().TempDir,
// which is a no-op that always returns "".
func mustTempDir() string {
	dir, err := os.MkdirTemp("", "gitd-test-*")
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return dir
}

// writeCommit stores a single-file snapshot as blob+tree+commit and
// points refs/heads/main at the commit.
func writeCommit(store *refstore.Store, file, content, message string, parents []string) string {
	blob, err := store.WriteObject(objects.KindBlob, []byte(content))
	Expect(err).ToNot(HaveOccurred())
	tree, err := store.WriteObject(objects.KindTree, refstore.EncodeTree([]refstore.TreeEntry{
		{Mode: refstore.ModeFile, Name: file, Hash: blob},
	}))
	Expect(err).ToNot(HaveOccurred())
	commit, err := store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
		Tree: tree, Parents: parents, Message: message,
	}))
	Expect(err).ToNot(HaveOccurred())
	Expect(store.UpdateRef("refs/heads/main", commit)).To(Succeed())
	return commit
}

// startServer runs a transfer server accept loop on a loopback
// listener, reporting each session's outcome on errs.
func startServer(srv *transfer.Server) (addr string, errs chan error, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	errs = make(chan error, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer GinkgoRecover()
				errs <- srv.ServeConn(c)
				c.Close()
			}(conn)
		}
	}()
	return ln.Addr().String(), errs, func() { ln.Close() }
}

var _ = Describe("Transfer", func() {
	var (
		log       = logger.NewNoOp()
		locks     *lockmgr.Manager
		serverDir string
		serverSt  *refstore.Store
		srv       *transfer.Server
	)

	BeforeEach(func() {
		locks = lockmgr.New()
		serverDir = mustTempDir()
		serverSt = refstore.Open(serverDir)
		Expect(serverSt.Init("main")).To(Succeed())
		srv = transfer.NewServer(func(repo string) (*refstore.Store, error) {
			if repo != "origin-repo" {
				return nil, gerr.New(gerr.NotFound, "unknown repository: "+repo)
			}
			return serverSt, nil
		}, locks, log)
	})

	Describe("push then fetch round trip", func() {
		It("should transfer the commit, tree and blob and sync refs", func() {
			addr, errs, stop := startServer(srv)
			defer stop()

			clientSt := refstore.Open(mustTempDir())
			Expect(clientSt.Init("main")).To(Succeed())
			commit := writeCommit(clientSt, "hello.txt", "hi\n", "first", nil)

			conn, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			updates, err := transfer.NewClient(clientSt, "127.0.0.1", log).Push(conn, "origin-repo")
			conn.Close()
			Expect(err).ToNot(HaveOccurred())
			Expect(updates).To(HaveLen(1))
			Expect(updates[0].Old).To(Equal(objects.ZeroHash))
			Expect(updates[0].New).To(Equal(commit))
			Expect(<-errs).ToNot(HaveOccurred())

			// The server store now holds the full closure.
			serverTip, err := serverSt.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			Expect(serverTip).To(Equal(commit))
			reachable, err := serverSt.EnumerateReachable(commit)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(reachable)).To(Equal(3)) // commit + tree + blob

			// A fresh client fetches the same state.
			otherSt := refstore.Open(mustTempDir())
			Expect(otherSt.Init("main")).To(Succeed())
			conn2, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			refs, err := transfer.NewClient(otherSt, "127.0.0.1", log).Fetch(conn2, "origin-repo", "origin")
			conn2.Close()
			Expect(err).ToNot(HaveOccurred())
			Expect(<-errs).ToNot(HaveOccurred())

			var mainAd string
			for _, ad := range refs {
				if ad.Name == "refs/heads/main" {
					mainAd = ad.Hash
				}
			}
			Expect(mainAd).To(Equal(commit))

			tracking, err := otherSt.ResolveRef("refs/remotes/origin/main")
			Expect(err).ToNot(HaveOccurred())
			Expect(tracking).To(Equal(commit))

			gotCommit, err := otherSt.ReadCommit(commit)
			Expect(err).ToNot(HaveOccurred())
			Expect(gotCommit.Message).To(Equal("first"))
		})
	})

	Describe("fetch from an empty repository", func() {
		It("should see only a flush and transfer nothing", func() {
			addr, errs, stop := startServer(srv)
			defer stop()

			clientSt := refstore.Open(mustTempDir())
			Expect(clientSt.Init("main")).To(Succeed())

			conn, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			refs, err := transfer.NewClient(clientSt, "127.0.0.1", log).Fetch(conn, "origin-repo", "origin")
			conn.Close()
			Expect(err).ToNot(HaveOccurred())
			Expect(refs).To(BeEmpty())
			Expect(<-errs).ToNot(HaveOccurred())
		})
	})

	Describe("unknown repository", func() {
		It("should abort the session", func() {
			addr, errs, stop := startServer(srv)
			defer stop()

			clientSt := refstore.Open(mustTempDir())
			Expect(clientSt.Init("main")).To(Succeed())
			writeCommit(clientSt, "a.txt", "a\n", "c", nil)

			conn, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			_, pushErr := transfer.NewClient(clientSt, "127.0.0.1", log).Push(conn, "no-such-repo")
			conn.Close()
			Expect(pushErr).To(HaveOccurred())
			Expect(gerr.Of(<-errs)).To(Equal(gerr.NotFound))
		})
	})

	Describe("concurrent pushes to the same branch", func() {
		It("should commit exactly one update and fail the other with ConflictingRef", func() {
			addr, errs, stop := startServer(srv)
			defer stop()

			mkClient := func(content string) *refstore.Store {
				st := refstore.Open(mustTempDir())
				Expect(st.Init("main")).To(Succeed())
				writeCommit(st, "f.txt", content, "commit "+content, nil)
				return st
			}
			st1 := mkClient("one\n")
			st2 := mkClient("two\n")

			var wg sync.WaitGroup
			clientErrs := make(chan error, 2)
			for _, st := range []*refstore.Store{st1, st2} {
				wg.Add(1)
				go func(st *refstore.Store) {
					defer GinkgoRecover()
					defer wg.Done()
					conn, err := net.Dial("tcp", addr)
					Expect(err).ToNot(HaveOccurred())
					defer conn.Close()
					_, err = transfer.NewClient(st, "127.0.0.1", log).Push(conn, "origin-repo")
					clientErrs <- err
				}(st)
			}
			wg.Wait()

			serverResults := []error{<-errs, <-errs}
			var conflicts, successes int
			for _, e := range serverResults {
				if e == nil {
					successes++
				} else if gerr.Of(e) == gerr.ConflictingRef {
					conflicts++
				}
			}
			Expect(successes).To(Equal(1))
			Expect(conflicts).To(Equal(1))

			// The surviving tip is one of the two pushed commits.
			tip, err := serverSt.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			t1, _ := st1.ResolveRef("refs/heads/main")
			t2, _ := st2.ResolveRef("refs/heads/main")
			Expect([]string{t1, t2}).To(ContainElement(tip))
		})
	})

	Describe("stale push", func() {
		It("should fail a client whose advertised base has moved with ConflictingRef", func() {
			addr, errs, stop := startServer(srv)
			defer stop()

			st1 := refstore.Open(mustTempDir())
			Expect(st1.Init("main")).To(Succeed())
			writeCommit(st1, "f.txt", "one\n", "first", nil)

			st2 := refstore.Open(mustTempDir())
			Expect(st2.Init("main")).To(Succeed())
			rival := writeCommit(st2, "f.txt", "two\n", "rival", nil)

			// Session B reads its advertisement (empty repo) first,
			// then pauses while client A's push lands.
			connB, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			defer connB.Close()
			Expect(transfer.WriteFrame(connB,
				"git-receive-pack /origin-repo/.git\x00host=127.0.0.1\x00")).To(Succeed())
			adB, err := transfer.ReadFramesUntilFlush(connB)
			Expect(err).ToNot(HaveOccurred())
			Expect(adB).To(BeEmpty())

			connA, err := net.Dial("tcp", addr)
			Expect(err).ToNot(HaveOccurred())
			_, err = transfer.NewClient(st1, "127.0.0.1", log).Push(connA, "origin-repo")
			connA.Close()
			Expect(err).ToNot(HaveOccurred())
			Expect(<-errs).ToNot(HaveOccurred())

			// B now completes its push against the stale (zero) base.
			Expect(transfer.WriteFrame(connB,
				objects.ZeroHash+" "+rival+" refs/heads/main\n")).To(Succeed())
			Expect(transfer.WriteFlush(connB)).To(Succeed())
			reachable, err := st2.EnumerateReachable(rival)
			Expect(err).ToNot(HaveOccurred())
			var hashes []string
			for h := range reachable {
				hashes = append(hashes, h)
			}
			Expect(pack.Encode(connB, hashes, st2)).To(Succeed())
			Expect(connB.(*net.TCPConn).CloseWrite()).To(Succeed())

			Expect(gerr.Of(<-errs)).To(Equal(gerr.ConflictingRef))

			// The winner's update is untouched.
			tip, err := serverSt.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			t1, _ := st1.ResolveRef("refs/heads/main")
			Expect(tip).To(Equal(t1))
		})
	})
})
