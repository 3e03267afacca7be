package commands_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/commands"
	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

var _ = Describe("Pack commands", func() {
	var (
		ctx   = context.Background()
		reg   commands.Registry
		dir   string
		paths *refstore.Paths
		store *refstore.Store
	)

	run := func(name string, args ...string) (string, error) {
		return reg.Dispatch(ctx, name, args, paths)
	}

	mustRun := func(name string, args ...string) string {
		out, err := run(name, args...)
		ExpectWithOffset(1, err).ToNot(HaveOccurred(), "command %s failed", name)
		return out
	}

	write := func(rel, content string) {
		full := filepath.Join(dir, rel)
		ExpectWithOffset(1, os.MkdirAll(filepath.Dir(full), 0o755)).To(Succeed())
		ExpectWithOffset(1, os.WriteFile(full, []byte(content), 0o644)).To(Succeed())
	}

	countObjects := func(st *refstore.Store) int {
		count := 0
		buckets, err := os.ReadDir(st.Paths.Objects())
		if err != nil {
			return 0
		}
		for _, b := range buckets {
			files, _ := os.ReadDir(filepath.Join(st.Paths.Objects(), b.Name()))
			count += len(files)
		}
		return count
	}

	BeforeEach(func() {
		reg = commands.NewRegistry(logger.NewNoOp())
		dir = mustTempDir()
		paths = refstore.NewPaths(dir)
		store = refstore.Open(dir)

		mustRun("init")
		write("a.txt", "alpha\n")
		write("dir/b.txt", "beta\n")
		mustRun("add", "a.txt", "dir/b.txt")
		mustRun("commit", "-m", "packed")
	})

	Describe("pack-objects / unpack-objects round trip (property 5)", func() {
		It("should reproduce the exact object set in a fresh repository", func() {
			tip, err := store.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			packPath := mustRun("pack-objects", tip)
			Expect(filepath.Base(packPath)).To(MatchRegexp(`^pack-[0-9a-f]{40}\.pack$`))

			otherDir := mustTempDir()
			otherPaths := refstore.NewPaths(otherDir)
			otherStore := refstore.Open(otherDir)
			_, err = reg.Dispatch(ctx, "init", nil, otherPaths)
			Expect(err).ToNot(HaveOccurred())

			_, err = reg.Dispatch(ctx, "unpack-objects", []string{packPath}, otherPaths)
			Expect(err).ToNot(HaveOccurred())

			want, err := store.EnumerateReachable(tip)
			Expect(err).ToNot(HaveOccurred())
			for hash := range want {
				_, _, err := otherStore.ReadObject(hash)
				Expect(err).ToNot(HaveOccurred(), "object %s missing after unpack", hash)
			}
		})
	})

	Describe("pack corruption (scenario F)", func() {
		It("should fail Corrupt and add no objects to the store", func() {
			tip, err := store.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			packPath := mustRun("pack-objects", tip)

			raw, err := os.ReadFile(packPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(raw)).To(BeNumerically(">", 100))
			raw[99] ^= 0xff
			corrupted := filepath.Join(mustTempDir(), "corrupt.pack")
			Expect(os.WriteFile(corrupted, raw, 0o644)).To(Succeed())

			otherDir := mustTempDir()
			otherPaths := refstore.NewPaths(otherDir)
			otherStore := refstore.Open(otherDir)
			_, err = reg.Dispatch(ctx, "init", nil, otherPaths)
			Expect(err).ToNot(HaveOccurred())
			before := countObjects(otherStore)

			_, err = reg.Dispatch(ctx, "unpack-objects", []string{corrupted}, otherPaths)
			Expect(gerr.Of(err)).To(Equal(gerr.Corrupt))
			Expect(countObjects(otherStore)).To(Equal(before))
		})
	})
})
