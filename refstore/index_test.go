package refstore_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/objects"
	"github.com/makeos-kit/gitd/refstore"
)

var _ = Describe("Index", func() {
	var (
		dir   string
		store *refstore.Store
	)

	BeforeEach(func() {
		dir = mustTempDir()
		store = refstore.Open(dir)
		Expect(store.Init("main")).To(Succeed())
	})

	Describe(".ReadIndex / .WriteIndex", func() {
		It("should round-trip entries, including missing-file-as-empty", func() {
			entries, err := store.ReadIndex()
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())

			want := []refstore.IndexEntry{
				{Path: "a.txt", Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", State: refstore.StateStaged},
				{Path: "dir/b.txt", Hash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", State: refstore.StateUnstaged},
			}
			Expect(store.WriteIndex(want)).To(Succeed())

			got, err := store.ReadIndex()
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(want))
		})

		It("should empty the index on TruncateIndex", func() {
			Expect(store.WriteIndex([]refstore.IndexEntry{
				{Path: "a.txt", Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", State: refstore.StateStaged},
			})).To(Succeed())
			Expect(store.TruncateIndex()).To(Succeed())
			entries, err := store.ReadIndex()
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("entry helpers", func() {
		It("should upsert by path, replacing an existing entry", func() {
			entries := []refstore.IndexEntry{
				{Path: "a.txt", Hash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", State: refstore.StateUnstaged},
			}
			entries = refstore.UpsertIndexEntry(entries, refstore.IndexEntry{
				Path: "a.txt", Hash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", State: refstore.StateStaged,
			})
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Hash).To(Equal("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))

			entries = refstore.UpsertIndexEntry(entries, refstore.IndexEntry{
				Path: "c.txt", Hash: "cccccccccccccccccccccccccccccccccccccccc", State: refstore.StateStaged,
			})
			Expect(entries).To(HaveLen(2))

			entries = refstore.RemoveIndexEntry(entries, "a.txt")
			Expect(entries).To(HaveLen(1))
			_, found := refstore.FindIndexEntry(entries, "a.txt")
			Expect(found).To(BeFalse())
			e, found := refstore.FindIndexEntry(entries, "c.txt")
			Expect(found).To(BeTrue())
			Expect(e.Hash).To(Equal("cccccccccccccccccccccccccccccccccccccccc"))
		})
	})

	Describe(".BuildTreeFromIndex", func() {
		It("should build nested subtrees from tracked entries, excluding deletions", func() {
			blobA, _ := store.WriteObject(objects.KindBlob, []byte("a"))
			blobB, _ := store.WriteObject(objects.KindBlob, []byte("b"))
			blobC, _ := store.WriteObject(objects.KindBlob, []byte("c"))
			blobD, _ := store.WriteObject(objects.KindBlob, []byte("d"))

			entries := []refstore.IndexEntry{
				{Path: "a.txt", Hash: blobA, State: refstore.StateStaged},
				{Path: "dir/b.txt", Hash: blobB, State: refstore.StateStaged},
				{Path: "dir/c.txt", Hash: blobC, State: refstore.StateUnstaged},
				{Path: "dir/d.txt", Hash: blobD, State: refstore.StateDeleted},
			}

			rootHash, err := store.BuildTreeFromIndex(entries)
			Expect(err).ToNot(HaveOccurred())

			root, err := store.ReadTree(rootHash)
			Expect(err).ToNot(HaveOccurred())
			Expect(root.Entries).To(HaveLen(2))

			var dirEntry *refstore.TreeEntry
			for i := range root.Entries {
				if root.Entries[i].Name == "dir" {
					dirEntry = &root.Entries[i]
				}
			}
			Expect(dirEntry).ToNot(BeNil())
			Expect(dirEntry.Mode).To(Equal(refstore.ModeSubtree))

			sub, err := store.ReadTree(dirEntry.Hash)
			Expect(err).ToNot(HaveOccurred())
			Expect(sub.Entries).To(HaveLen(2))
			Expect(sub.Entries[0].Name).To(Equal("b.txt"))
			Expect(sub.Entries[1].Name).To(Equal("c.txt"))
		})
	})
})
