package lockmgr_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/lockmgr"
)

var _ = Describe("Manager", func() {
	var mgr *lockmgr.Manager

	BeforeEach(func() {
		mgr = lockmgr.New()
	})

	Describe(".Lock / .Unlock", func() {
		It("should allow two owners to hold different branch locks concurrently", func() {
			a := mgr.NewOwner()
			b := mgr.NewOwner()
			a.Lock(lockmgr.BranchLockName("repo1", "main"))
			b.Lock(lockmgr.BranchLockName("repo1", "feature"))
			Expect(a.Holds("repo1/main")).To(BeTrue())
			Expect(b.Holds("repo1/feature")).To(BeTrue())
			a.Release()
			b.Release()
		})

		It("should be a no-op to re-lock a held name", func() {
			a := mgr.NewOwner()
			a.Lock("repo1/main")
			a.Lock("repo1/main")
			a.Unlock("repo1/main")
			Expect(a.Holds("repo1/main")).To(BeFalse())
		})

		It("should block a second owner until the first releases", func() {
			a := mgr.NewOwner()
			a.Lock("repo1/main")

			acquired := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				b := mgr.NewOwner()
				b.Lock("repo1/main")
				close(acquired)
				b.Release()
			}()

			Consistently(acquired, "100ms").ShouldNot(BeClosed())
			a.Release()
			Eventually(acquired, "2s").Should(BeClosed())
		})
	})

	Describe("all-branches sentinel", func() {
		It("should block per-branch acquisition while another owner holds the sentinel", func() {
			holder := mgr.NewOwner()
			holder.Lock(lockmgr.AllBranchesLockName("repo1"))

			acquired := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				o := mgr.NewOwner()
				o.Lock(lockmgr.BranchLockName("repo1", "main"))
				close(acquired)
				o.Release()
			}()

			Consistently(acquired, "100ms").ShouldNot(BeClosed())
			holder.Release()
			Eventually(acquired, "2s").Should(BeClosed())
		})

		It("should let the sentinel holder acquire branches in the same repo", func() {
			o := mgr.NewOwner()
			o.Lock(lockmgr.AllBranchesLockName("repo1"))

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				o.Lock(lockmgr.BranchLockName("repo1", "main"))
				close(done)
			}()
			Eventually(done, "2s").Should(BeClosed())
			o.Release()
		})

		It("should not block branches of other repositories", func() {
			holder := mgr.NewOwner()
			holder.Lock(lockmgr.AllBranchesLockName("repo1"))

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				o := mgr.NewOwner()
				o.Lock(lockmgr.BranchLockName("repo2", "main"))
				close(done)
				o.Release()
			}()
			Eventually(done, "2s").Should(BeClosed())
			holder.Release()
		})
	})

	Describe(".Release", func() {
		It("should release every held name", func() {
			a := mgr.NewOwner()
			a.Lock("repo1/main")
			a.Lock("repo1/feature")
			a.Lock(lockmgr.AllBranchesLockName("repo2"))
			a.Release()

			b := mgr.NewOwner()
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				b.Lock("repo1/main")
				b.Lock("repo1/feature")
				b.Lock(lockmgr.AllBranchesLockName("repo2"))
				close(done)
			}()
			Eventually(done, "2s").Should(BeClosed())
			b.Release()
		})

		It("should release on behalf of a panicking worker", func() {
			func() {
				defer func() { _ = recover() }()
				o := mgr.NewOwner()
				defer o.Release()
				o.Lock("repo1/main")
				panic("worker died")
			}()

			o := mgr.NewOwner()
			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				o.Lock("repo1/main")
				close(done)
			}()
			Eventually(done, "2s").Should(BeClosed())
			o.Release()
		})
	})

	Describe("serialisation", func() {
		It("should totally order competing critical sections on the same name", func() {
			var mu sync.Mutex
			var inCritical int
			var maxInCritical int

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					o := mgr.NewOwner()
					defer o.Release()
					o.Lock("repo1/main")

					mu.Lock()
					inCritical++
					if inCritical > maxInCritical {
						maxInCritical = inCritical
					}
					mu.Unlock()

					time.Sleep(time.Millisecond)

					mu.Lock()
					inCritical--
					mu.Unlock()
				}()
			}
			wg.Wait()
			Expect(maxInCritical).To(Equal(1))
		})
	})
})
