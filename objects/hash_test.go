package objects_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/makeos-kit/gitd/objects"
)

var _ = Describe("Hash", func() {
	Describe(".Hash", func() {
		It("should be stable for the same kind+payload", func() {
			h1 := objects.Hash(objects.KindBlob, []byte("hi\n"))
			h2 := objects.Hash(objects.KindBlob, []byte("hi\n"))
			Expect(h1).To(Equal(h2))
			Expect(h1).To(HaveLen(40))
		})

		It("should differ for different payloads", func() {
			h1 := objects.Hash(objects.KindBlob, []byte("hi\n"))
			h2 := objects.Hash(objects.KindBlob, []byte("bye\n"))
			Expect(h1).ToNot(Equal(h2))
		})

		It("should differ for different kinds with the same payload", func() {
			h1 := objects.Hash(objects.KindBlob, []byte("x"))
			h2 := objects.Hash(objects.KindTree, []byte("x"))
			Expect(h1).ToNot(Equal(h2))
		})
	})

	Describe(".ValidHex", func() {
		It("should accept 40 lowercase hex chars", func() {
			Expect(objects.ValidHex(objects.ZeroHash)).To(BeTrue())
		})
		It("should reject the wrong length", func() {
			Expect(objects.ValidHex("abcd")).To(BeFalse())
		})
		It("should reject non-hex characters", func() {
			Expect(objects.ValidHex("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")).To(BeFalse())
		})
	})
})
