package receipt

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = filepath.Join(GinkgoT().TempDir(), "receipts")
		var err error
		storage, err = NewLocalStorage(tmpDir, "http://localhost:8080/")
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the storage directory", func() {
		Expect(tmpDir).To(BeADirectory())
	})

	Describe("Save", func() {
		var (
			key string
			url string
			err error
		)

		BeforeEach(func() {
			key = "id-1_test.jpg"
		})

		JustBeforeEach(func() {
			url, err = storage.Save(ctx, key, []byte("test file content"), "image/jpeg")
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file URL", func() {
				Expect(url).To(Equal("http://localhost:8080/api/files/id-1_test.jpg"))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, key)).To(BeAnExistingFile())
			})
		})

		DescribeTable("rejects keys that escape the directory",
			func(bad string) {
				_, err := storage.Save(ctx, bad, []byte("x"), "")
				Expect(errors.Is(err, ErrInvalid)).To(BeTrue())
			},
			Entry("parent", ".."),
			Entry("nested", "a/b.jpg"),
			Entry("windows", `a\b.jpg`),
			Entry("empty", ""),
		)
	})

	Describe("Get", func() {
		When("the file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save(ctx, "test.jpg", []byte("test file content"), "image/jpeg")
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file data", func() {
				data, err := storage.Get(ctx, "test.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("test file content"))
			})
		})

		When("the file does not exist", func() {
			It("should return not found", func() {
				_, err := storage.Get(ctx, "missing.jpg")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save(ctx, "test.jpg", []byte("x"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(ctx, "test.jpg")).To(Succeed())
			Expect(filepath.Join(tmpDir, "test.jpg")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete(ctx, "missing.jpg")).NotTo(Succeed())
		})
	})
})
