package refstore_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

// mustTempDir works around github.com/onsi/ginkgo v1.16.5's GinkgoT().TempDir,
// which is a no-op that always returns "".
func mustTempDir() string {
	dir, err := os.MkdirTemp("", "gitd-test-*")
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return dir
}

var _ = Describe("Store", func() {
	var (
		dir   string
		store *refstore.Store
	)

	BeforeEach(func() {
		dir = mustTempDir()
		store = refstore.Open(dir)
		Expect(store.Init("main")).To(Succeed())
	})

	Describe(".Init", func() {
		It("should fail AlreadyExists on a second call", func() {
			err := store.Init("main")
			Expect(err).To(HaveOccurred())
			Expect(gerr.Of(err)).To(Equal(gerr.AlreadyExists))
		})

		It("should point HEAD at the default branch", func() {
			branch, err := store.HeadRef()
			Expect(err).ToNot(HaveOccurred())
			Expect(branch).To(Equal("main"))
		})
	})

	Describe(".WriteObject / .ReadObject", func() {
		It("should round-trip kind and payload (property 1)", func() {
			payload := []byte("hello, world\n")
			hash, err := store.WriteObject(objects.KindBlob, payload)
			Expect(err).ToNot(HaveOccurred())

			kind, got, err := store.ReadObject(hash)
			Expect(err).ToNot(HaveOccurred())
			Expect(kind).To(Equal(objects.KindBlob))
			Expect(got).To(Equal(payload))
		})

		It("should be idempotent on a second write (property 2)", func() {
			payload := []byte("idempotent\n")
			h1, err := store.WriteObject(objects.KindBlob, payload)
			Expect(err).ToNot(HaveOccurred())
			h2, err := store.WriteObject(objects.KindBlob, payload)
			Expect(err).ToNot(HaveOccurred())
			Expect(h1).To(Equal(h2))

			path := filepath.Join(dir, refstore.MetaDirName, "objects", h1[:2], h1[2:])
			Expect(path).To(BeAnExistingFile())
		})

		It("should fail NotFound for a missing object", func() {
			_, _, err := store.ReadObject(objects.ZeroHash)
			Expect(gerr.Of(err)).To(Equal(gerr.NotFound))
		})
	})

	Describe("tree and commit round trip", func() {
		It("should write a tree and resolve it back to the same entries", func() {
			blobHash, err := store.WriteObject(objects.KindBlob, []byte("hi\n"))
			Expect(err).ToNot(HaveOccurred())

			treeHash, err := store.WriteObject(objects.KindTree, refstore.EncodeTree([]refstore.TreeEntry{
				{Mode: refstore.ModeFile, Name: "hello.txt", Hash: blobHash},
			}))
			Expect(err).ToNot(HaveOccurred())

			tree, err := store.ReadTree(treeHash)
			Expect(err).ToNot(HaveOccurred())
			Expect(tree.Entries).To(HaveLen(1))
			Expect(tree.Entries[0].Name).To(Equal("hello.txt"))
			Expect(tree.Entries[0].Hash).To(Equal(blobHash))
		})

		It("should reject reading a non-tree object as a tree", func() {
			blobHash, _ := store.WriteObject(objects.KindBlob, []byte("x"))
			_, err := store.ReadTree(blobHash)
			Expect(gerr.Of(err)).To(Equal(gerr.InvalidArgument))
		})
	})

	Describe(".EnumerateReachable (property 4)", func() {
		It("should return a closed set under 'refers to'", func() {
			blobHash, _ := store.WriteObject(objects.KindBlob, []byte("content\n"))
			treeHash, _ := store.WriteObject(objects.KindTree, refstore.EncodeTree([]refstore.TreeEntry{
				{Mode: refstore.ModeFile, Name: "f.txt", Hash: blobHash},
			}))
			commitHash, _ := store.WriteObject(objects.KindCommit, refstore.EncodeCommit(&refstore.Commit{
				Tree: treeHash, Message: "first",
			}))

			set, err := store.EnumerateReachable(commitHash)
			Expect(err).ToNot(HaveOccurred())
			Expect(set).To(HaveKey(commitHash))
			Expect(set).To(HaveKey(treeHash))
			Expect(set).To(HaveKey(blobHash))

			for hash := range set {
				_, _, err := store.ReadObject(hash)
				Expect(err).ToNot(HaveOccurred())
			}
		})
	})

	Describe(".Materialise / .CleanWorkingTree (checkout inverse, property 9)", func() {
		It("should restore working-tree contents for a given tree", func() {
			blobHash, _ := store.WriteObject(objects.KindBlob, []byte("hi\n"))
			treeHash, _ := store.WriteObject(objects.KindTree, refstore.EncodeTree([]refstore.TreeEntry{
				{Mode: refstore.ModeFile, Name: "hello.txt", Hash: blobHash},
			}))

			Expect(store.Materialise(treeHash)).To(Succeed())
			Expect(filepath.Join(dir, "hello.txt")).To(BeAnExistingFile())

			Expect(store.CleanWorkingTree()).To(Succeed())
			Expect(filepath.Join(dir, "hello.txt")).ToNot(BeAnExistingFile())
			Expect(filepath.Join(dir, refstore.MetaDirName)).To(BeADirectory())
		})
	})
})
