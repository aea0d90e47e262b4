package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/ocr"
	"github.com/zombor/expense-tracker/internal/receipt"
	"github.com/zombor/expense-tracker/internal/scanning"
)

const opetText = `OPET PETROLCULUK A.Ş.
ATAŞEHİR İSTASYONU
VD: 6490050021
TARİH: 02.04.2024
TOPKDV *10,00
TOPLAM *60,00`

// stubRecognizer returns fixed text for every image
type stubRecognizer struct {
	text string
}

func (s *stubRecognizer) Recognize(_ context.Context, _ []byte, _ string) (*ocr.Result, error) {
	return &ocr.Result{Text: s.text}, nil
}

// stubScanner records whether it was called
type stubScanner struct {
	calls int
}

func (s *stubScanner) Extract(_ context.Context, _ scanning.Request) (*expense.Candidate, error) {
	s.calls++
	return &expense.Candidate{}, nil
}

func (s *stubScanner) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		db       receipt.DB
		store    receipt.Storage
		scanner  *stubScanner
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()
		ghServer = ghttp.NewServer()

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "receipts"), ghServer.URL())
		Expect(err).NotTo(HaveOccurred())

		scanner = &stubScanner{}
		service := receipt.NewService(db, store, &stubRecognizer{text: opetText}, scanner, receipt.DefaultConfig())
		server := receipt.NewServer(service, receipt.BasicAuth{}, "")
		for _, method := range []string{"GET", "POST", "DELETE"} {
			ghServer.RouteToHandler(method, regexp.MustCompile(`^/api/`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	It("extracts a receipt, saves the reviewed draft, serves its image and deletes it", func() {
		fileContent := []byte("%PDF-1.4 ... fake pdf content ...")
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "Fuel Receipt.PDF")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(fileContent)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		// Step 1: extract
		resp, err := http.Post(ghServer.URL()+"/api/extract?ai=false", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var draft receipt.Draft
		Expect(json.NewDecoder(resp.Body).Decode(&draft)).To(Succeed())
		resp.Body.Close()

		Expect(scanner.calls).To(BeZero())
		Expect(draft.Receipt.ContentType).To(Equal("application/pdf"))
		Expect(draft.Receipt.ImageKey).To(HaveSuffix("_Fuel_Receipt.pdf"))
		amount, ok := draft.Receipt.Amount.Get()
		Expect(ok).To(BeTrue())
		Expect(amount.StringFixed(2)).To(Equal("60.00"))
		Expect(draft.Receipt.Category).To(Equal(expense.Predefined(expense.Transport)))

		// Step 2: save the reviewed draft
		reviewed := draft.Receipt
		reviewed.Notes = "client visit"
		payload, err := json.Marshal(reviewed)
		Expect(err).NotTo(HaveOccurred())
		resp, err = http.Post(ghServer.URL()+"/api/receipts", "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var saved expense.Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&saved)).To(Succeed())
		resp.Body.Close()
		Expect(saved.ID).NotTo(BeEmpty())
		Expect(saved.OwnerID).To(Equal(receipt.DefaultOwner))

		// Step 3: it is persisted
		stored, err := db.GetReceipt(receipt.DefaultOwner, saved.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Notes).To(Equal("client visit"))
		Expect(stored.ImageKey).To(Equal(draft.Receipt.ImageKey))

		// Step 4: the image is served from its public URL
		resp, err = http.Get(stored.ImageURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(fileContent))

		// Step 5: delete removes the record and the file
		req, err := http.NewRequest("DELETE", ghServer.URL()+"/api/receipts/"+saved.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		resp.Body.Close()

		_, err = db.GetReceipt(receipt.DefaultOwner, saved.ID)
		Expect(errors.Is(err, receipt.ErrNotFound)).To(BeTrue())
		_, err = store.Get(context.Background(), stored.ImageKey)
		Expect(errors.Is(err, receipt.ErrNotFound)).To(BeTrue())
	})
})
