package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/commands"
	"github.com/makeos-kit/gitd/gerr"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

// mustTempDir works around github.com/onsi/ginkgo v1.16.5's GinkgoT().TempDir,
// which is a no-op that always returns "".
func mustTempDir() string {
	dir, err := os.MkdirTemp("", "gitd-test-*")
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return dir
}

var _ = Describe("Commands", func() {
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

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		return string(data)
	}

	BeforeEach(func() {
		reg = commands.NewRegistry(logger.NewNoOp())
		dir = mustTempDir()
		paths = refstore.NewPaths(dir)
		store = refstore.Open(dir)
	})

	Describe("init", func() {
		It("should create the metadata layout and fail AlreadyExists the second time", func() {
			mustRun("init")
			Expect(store.Exists()).To(BeTrue())
			head, err := store.HeadRef()
			Expect(err).ToNot(HaveOccurred())
			Expect(head).To(Equal("main"))

			_, err = run("init")
			Expect(gerr.Of(err)).To(Equal(gerr.AlreadyExists))
		})
	})

	Describe("init + add + commit (scenario A)", func() {
		It("should advance main and record the single staged file", func() {
			mustRun("init")
			write("hello.txt", "hi\n")
			mustRun("add", "hello.txt")
			commitHash := mustRun("commit", "-m", "first")

			tip, err := store.ResolveRef("refs/heads/main")
			Expect(err).ToNot(HaveOccurred())
			Expect(tip).To(Equal(commitHash))

			commit, err := store.ReadCommit(tip)
			Expect(err).ToNot(HaveOccurred())
			Expect(commit.Parents).To(BeEmpty())
			tree, err := store.ReadTree(commit.Tree)
			Expect(err).ToNot(HaveOccurred())
			Expect(tree.Entries).To(HaveLen(1))
			Expect(tree.Entries[0].Name).To(Equal("hello.txt"))
			Expect(tree.Entries[0].Mode).To(Equal(refstore.ModeFile))

			out := mustRun("log")
			Expect(strings.Count(out, "commit ")).To(Equal(1))
			Expect(out).To(ContainSubstring("first"))
		})

		It("should refuse to commit an empty index", func() {
			mustRun("init")
			_, err := run("commit", "-m", "empty")
			Expect(gerr.Of(err)).To(Equal(gerr.InvalidArgument))
		})

		It("should reject adding an ignored path", func() {
			mustRun("init")
			write(".gitignore.txt", "build/\n")
			write("build/out.bin", "binary")
			_, err := run("add", "build/out.bin")
			Expect(gerr.Of(err)).To(Equal(gerr.InvalidArgument))
		})

		It("should keep previously committed files in the next commit's tree", func() {
			mustRun("init")
			write("a.txt", "a\n")
			mustRun("add", "a.txt")
			mustRun("commit", "-m", "one")

			write("b.txt", "b\n")
			mustRun("add", "b.txt")
			second := mustRun("commit", "-m", "two")

			commit, err := store.ReadCommit(second)
			Expect(err).ToNot(HaveOccurred())
			tree, err := store.ReadTree(commit.Tree)
			Expect(err).ToNot(HaveOccurred())
			Expect(tree.Entries).To(HaveLen(2))
		})
	})

	Describe("rm", func() {
		It("should drop the path from the next commit's tree", func() {
			mustRun("init")
			write("a.txt", "a\n")
			write("b.txt", "b\n")
			mustRun("add", "a.txt", "b.txt")
			mustRun("commit", "-m", "both")

			mustRun("rm", "b.txt")
			write("a.txt", "a2\n")
			mustRun("add", "a.txt")
			second := mustRun("commit", "-m", "drop b")

			commit, err := store.ReadCommit(second)
			Expect(err).ToNot(HaveOccurred())
			tree, err := store.ReadTree(commit.Tree)
			Expect(err).ToNot(HaveOccurred())
			Expect(tree.Entries).To(HaveLen(1))
			Expect(tree.Entries[0].Name).To(Equal("a.txt"))
		})
	})

	Describe("status", func() {
		It("should report staged, unstaged and clean states", func() {
			mustRun("init")
			Expect(mustRun("status")).To(Equal("nothing to commit"))

			write("f.txt", "one\n")
			mustRun("add", "f.txt")
			Expect(mustRun("status")).To(ContainSubstring("new file (staged): f.txt"))

			mustRun("commit", "-m", "one")
			Expect(mustRun("status")).To(Equal("nothing to commit"))

			write("f.txt", "two\n")
			Expect(mustRun("status")).To(ContainSubstring("modified (unstaged): f.txt"))

			mustRun("add", "f.txt")
			Expect(mustRun("status")).To(ContainSubstring("modified (staged): f.txt"))
		})
	})

	Describe("branch", func() {
		BeforeEach(func() {
			mustRun("init")
			write("f.txt", "base\n")
			mustRun("add", "f.txt")
			mustRun("commit", "-m", "base")
		})

		It("should list branches highlighting the current one", func() {
			mustRun("branch", "feature")
			out := mustRun("branch")
			Expect(out).To(ContainSubstring("* main"))
			Expect(out).To(ContainSubstring("  feature"))
		})

		It("should refuse deleting the current branch", func() {
			_, err := run("branch", "-d", "main")
			Expect(gerr.Of(err)).To(Equal(gerr.InvalidArgument))
		})

		It("should fail AlreadyExists on a duplicate create", func() {
			mustRun("branch", "feature")
			_, err := run("branch", "feature")
			Expect(gerr.Of(err)).To(Equal(gerr.AlreadyExists))
		})

		It("should rename and rewrite HEAD when renaming the current branch", func() {
			mustRun("branch", "-m", "main", "trunk")
			head, err := store.HeadRef()
			Expect(err).ToNot(HaveOccurred())
			Expect(head).To(Equal("trunk"))
			Expect(store.BranchExists("main")).To(BeFalse())
		})
	})

	Describe("checkout", func() {
		It("should restore each branch's tree and index (property 9)", func() {
			mustRun("init")
			write("f.txt", "main content\n")
			mustRun("add", "f.txt")
			mustRun("commit", "-m", "on main")

			mustRun("branch", "other")
			mustRun("checkout", "other")
			write("f.txt", "other content\n")
			write("extra.txt", "extra\n")
			mustRun("add", "f.txt", "extra.txt")
			mustRun("commit", "-m", "on other")

			mustRun("checkout", "main")
			Expect(read("f.txt")).To(Equal("main content\n"))
			_, err := os.Stat(filepath.Join(dir, "extra.txt"))
			Expect(os.IsNotExist(err)).To(BeTrue())

			mustRun("checkout", "other")
			Expect(read("f.txt")).To(Equal("other content\n"))
			Expect(read("extra.txt")).To(Equal("extra\n"))
		})

		It("should fail NotFound for an unknown branch", func() {
			mustRun("init")
			_, err := run("checkout", "nope")
			Expect(gerr.Of(err)).To(Equal(gerr.NotFound))
		})
	})

	Describe("tag / show-ref", func() {
		It("should create, list and delete lightweight tags", func() {
			mustRun("init")
			write("f.txt", "x\n")
			mustRun("add", "f.txt")
			commit := mustRun("commit", "-m", "x")

			mustRun("tag", "v1")
			Expect(mustRun("tag")).To(Equal("v1"))

			out := mustRun("show-ref")
			Expect(out).To(ContainSubstring(commit + " refs/heads/main"))
			Expect(out).To(ContainSubstring(commit + " refs/tags/v1"))

			Expect(mustRun("show-ref", "--heads")).ToNot(ContainSubstring("refs/tags"))
			Expect(mustRun("show-ref", "--tags")).ToNot(ContainSubstring("refs/heads"))

			_, err := run("tag", "v1")
			Expect(gerr.Of(err)).To(Equal(gerr.AlreadyExists))

			mustRun("tag", "-d", "v1")
			Expect(mustRun("tag")).To(Equal(""))
		})
	})

	Describe("hash-object / cat-file", func() {
		It("should round-trip content through the object store (property 1)", func() {
			mustRun("init")
			write("f.txt", "payload\n")
			hash := mustRun("hash-object", "-w", "f.txt")

			Expect(mustRun("cat-file", "-t", hash)).To(Equal("blob"))
			Expect(mustRun("cat-file", "-s", hash)).To(Equal("8"))
			Expect(mustRun("cat-file", "-p", hash)).To(Equal("payload\n"))
		})

		It("should compute without writing when -w is absent", func() {
			mustRun("init")
			write("f.txt", "payload\n")
			hash := mustRun("hash-object", "f.txt")
			_, err := run("cat-file", "-t", hash)
			Expect(gerr.Of(err)).To(Equal(gerr.NotFound))
		})
	})

	Describe("ls-tree / ls-files", func() {
		It("should list tree entries and index paths", func() {
			mustRun("init")
			write("a.txt", "a\n")
			write("dir/b.txt", "b\n")
			mustRun("add", "a.txt", "dir/b.txt")
			commit := mustRun("commit", "-m", "two files")

			out := mustRun("ls-tree", commit)
			Expect(out).To(ContainSubstring("a.txt"))
			Expect(out).To(ContainSubstring("dir"))

			recursed := mustRun("ls-tree", "-r", commit)
			Expect(recursed).To(ContainSubstring("dir/b.txt"))

			files := mustRun("ls-files")
			Expect(files).To(ContainSubstring("a.txt"))
			Expect(files).To(ContainSubstring("dir/b.txt"))
		})
	})

	Describe("remote", func() {
		It("should add, list and reject duplicate remotes", func() {
			mustRun("init")
			mustRun("remote", "add", "origin", "127.0.0.1:9418/my-repo")
			Expect(mustRun("remote")).To(ContainSubstring("origin\t127.0.0.1:9418/my-repo"))

			_, err := run("remote", "add", "origin", "127.0.0.1:9418/other")
			Expect(gerr.Of(err)).To(Equal(gerr.AlreadyExists))

			mustRun("remote", "remove", "origin")
			Expect(mustRun("remote")).To(Equal(""))
		})
	})

	Describe("check-ignore", func() {
		It("should print only matching paths", func() {
			mustRun("init")
			write(".gitignore.txt", "vendor/\n")
			out := mustRun("check-ignore", "vendor/lib.go", "src/main.go")
			Expect(out).To(Equal("vendor/lib.go"))
		})
	})

	Describe("log exclusions", func() {
		It("should subtract commits reachable from ^refs", func() {
			mustRun("init")
			write("f.txt", "one\n")
			mustRun("add", "f.txt")
			first := mustRun("commit", "-m", "one")

			write("f.txt", "two\n")
			mustRun("add", "f.txt")
			second := mustRun("commit", "-m", "two")

			out := mustRun("log", second, "^"+first)
			Expect(out).To(ContainSubstring(second))
			Expect(out).ToNot(ContainSubstring(first))
		})
	})
})
