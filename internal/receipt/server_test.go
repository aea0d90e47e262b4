package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/expense"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, storage, recognizer, scanner, DefaultConfig(), &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, "", http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	do := func(method, path, contentType string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.enabled() {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	doJSON := func(method, path string, v any) *http.Response {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return do(method, path, "application/json", bytes.NewReader(data))
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	errorOf := func(resp *http.Response) string {
		var body map[string]string
		decode(resp, &body)
		return body["error"]
	}

	upload := func(field string, names ...string) (*bytes.Buffer, string) {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for _, name := range names {
			part, err := writer.CreateFormFile(field, name)
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("fake image data"))
		}
		Expect(writer.Close()).To(Succeed())
		return &b, writer.FormDataContentType()
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = &mockRecognizer{text: migrosText}
		scanner = &mockScanner{candidate: &expense.Candidate{}}
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("authentication", func() {
		When("credentials are configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: owner, Password: "secret"}
				setupServer()
				db.receipts["mine"] = &expense.Receipt{ID: "mine", OwnerID: owner}
				db.receipts["theirs"] = &expense.Receipt{ID: "theirs", OwnerID: "bob"}
			})

			It("rejects requests without credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})

			It("rejects a wrong password", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(owner+":wrong")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})

			It("scopes data to the authenticated user", func() {
				resp := do("GET", "/api/receipts", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipts []*expense.Receipt
				decode(resp, &receipts)
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].ID).To(Equal("mine"))
			})
		})

		When("credentials are not configured", func() {
			It("stores records under the default owner", func() {
				resp := doJSON("POST", "/api/clients", map[string]string{"name": "Acme"})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var c expense.Client
				decode(resp, &c)
				Expect(c.OwnerID).To(Equal(DefaultOwner))
			})
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			rec := httptest.NewRecorder()
			server.corsMiddleware(server).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/receipts", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("POST /api/extract", func() {
		When("a file is uploaded", func() {
			It("returns a draft without saving it", func() {
				body, contentType := upload("file", "receipt.jpg")
				resp := do("POST", "/api/extract?ai=false", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var draft Draft
				decode(resp, &draft)
				Expect(amountString(draft.Receipt.Amount)).To(Equal("118.00"))
				Expect(draft.Receipt.Category).To(Equal(expense.Predefined(expense.Food)))
				Expect(draft.Receipt.ContentType).To(Equal("image/jpeg"))
				Expect(draft.Receipt.ImageURL).To(HavePrefix("https://files.test/"))
				Expect(draft.Bands).To(HaveKey(expense.FieldAmount))
				Expect(db.receipts).To(BeEmpty())
				Expect(scanner.requests).To(BeEmpty())
			})
		})

		When("AI is left on", func() {
			It("consults the scanner", func() {
				body, contentType := upload("file", "receipt.jpg")
				resp := do("POST", "/api/extract", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
				Expect(scanner.requests).To(HaveLen(1))
			})
		})

		When("no file is sent", func() {
			It("returns bad request", func() {
				body, contentType := upload("other", "receipt.jpg")
				resp := do("POST", "/api/extract", contentType, body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("No file"))
			})
		})

		When("the body is not a form", func() {
			It("returns bad request", func() {
				resp := do("POST", "/api/extract", "text/plain", strings.NewReader("hello"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("POST /api/qr", func() {
		It("returns a draft for a valid payload", func() {
			resp := doJSON("POST", "/api/qr", map[string]string{
				"payload": `{"tarih":"2024-03-15","odenecek":"118.00","kdv":"18.00","vkntckn":"1234567890"}`,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var draft Draft
			decode(resp, &draft)
			Expect(amountString(draft.Receipt.Amount)).To(Equal("118.00"))
		})

		It("asks for manual entry when the payload is unreadable", func() {
			resp := doJSON("POST", "/api/qr", map[string]string{"payload": "not a qr"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var draft Draft
			decode(resp, &draft)
			Expect(draft.Receipt.Amount.IsSet()).To(BeFalse())
			Expect(draft.Receipt.Notes).To(ContainSubstring("manually"))
		})

		It("rejects a body that is not JSON", func() {
			resp := do("POST", "/api/qr", "application/json", strings.NewReader("{"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("batches", func() {
		It("extracts every file and commits the reviewed batch", func() {
			body, contentType := upload("files", "one.jpg", "two.jpg")
			resp := do("POST", "/api/batches?ai=false", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var batch PendingBatch
			decode(resp, &batch)
			Expect(batch.Items).To(HaveLen(2))
			Expect(batch.Ready()).To(HaveLen(2))

			Expect(batch.Remove(1)).To(Succeed())
			resp = doJSON("POST", "/api/batches/commit", batch)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var results []CommitResult
			decode(resp, &results)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Error).To(BeEmpty())
			Expect(db.receipts).To(HaveLen(1))
		})

		It("requires files", func() {
			body, contentType := upload("files")
			resp := do("POST", "/api/batches", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("receipts", func() {
		var rec map[string]any

		BeforeEach(func() {
			rec = map[string]any{
				"date":        "2024-03-15",
				"amount":      "100",
				"vat_amount":  "10",
				"vendor_name": "Migros",
				"category":    "Food",
			}
		})

		When("creating a new receipt", func() {
			It("returns created", func() {
				resp := doJSON("POST", "/api/receipts", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var saved expense.Receipt
				decode(resp, &saved)
				Expect(saved.ID).NotTo(BeEmpty())
				Expect(db.receipts).To(HaveKey(saved.ID))
			})
		})

		When("the receipt is invalid", func() {
			It("returns bad request", func() {
				rec["vat_amount"] = "500"
				resp := doJSON("POST", "/api/receipts", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("vat_amount"))
			})
		})

		When("a likely duplicate exists", func() {
			BeforeEach(func() {
				db.receipts["old"] = &expense.Receipt{ID: "old", OwnerID: DefaultOwner, Date: day(2024, 3, 15), Amount: expense.Some(dec("101"))}
			})

			It("returns conflict with the warning", func() {
				resp := doJSON("POST", "/api/receipts", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				var body struct {
					Duplicate struct {
						Existing expense.Receipt `json:"existing"`
					} `json:"duplicate"`
				}
				decode(resp, &body)
				Expect(body.Duplicate.Existing.ID).To(Equal("old"))
				Expect(db.receipts).To(HaveLen(1))
			})

			It("saves anyway when forced", func() {
				resp := doJSON("POST", "/api/receipts?force=true", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
				Expect(db.receipts).To(HaveLen(2))
			})
		})

		When("listing with filters", func() {
			BeforeEach(func() {
				db.receipts["a"] = &expense.Receipt{ID: "a", OwnerID: DefaultOwner, Date: day(2024, 3, 1), Category: expense.Predefined(expense.Food)}
				db.receipts["b"] = &expense.Receipt{ID: "b", OwnerID: DefaultOwner, Date: day(2024, 4, 1), Category: expense.Predefined(expense.Transport)}
			})

			It("applies them", func() {
				resp := do("GET", "/api/receipts?from=2024-03-15&category=transport", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipts []*expense.Receipt
				decode(resp, &receipts)
				Expect(receipts).To(HaveLen(1))
				Expect(receipts[0].ID).To(Equal("b"))
			})

			It("rejects a bad date", func() {
				resp := do("GET", "/api/receipts?from=15.03.2024", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})

			It("rejects an unknown order", func() {
				resp := do("GET", "/api/receipts?order=vendor", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the receipt is missing", func() {
			It("returns not found for get, update and delete", func() {
				resp := do("GET", "/api/receipts/missing", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()

				resp = doJSON("PUT", "/api/receipts/missing", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()

				resp = do("DELETE", "/api/receipts/missing", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the receipt exists", func() {
			BeforeEach(func() {
				db.receipts["r1"] = &expense.Receipt{
					ID:          "r1",
					OwnerID:     DefaultOwner,
					Amount:      expense.Some(dec("118")),
					VATAmount:   expense.Some(dec("18")),
					ImageKey:    "r1_receipt.jpg",
					ContentType: "image/jpeg",
				}
				storage.files["r1_receipt.jpg"] = []byte("jpeg bytes")
			})

			It("updates it", func() {
				resp := doJSON("PUT", "/api/receipts/r1", rec)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var updated expense.Receipt
				decode(resp, &updated)
				Expect(updated.VendorName).To(Equal("Migros"))
				Expect(updated.ImageKey).To(Equal("r1_receipt.jpg"))
			})

			It("recomputes the VAT rate", func() {
				resp := do("POST", "/api/receipts/r1/vat", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var updated expense.Receipt
				decode(resp, &updated)
				Expect(updated.VATRate.OrElse(expense.NeedsManualReview).String()).To(Equal("18"))
			})

			It("serves its file", func() {
				resp := do("GET", "/api/receipts/r1/file", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("jpeg bytes"))
			})

			It("deletes it with its file", func() {
				resp := do("DELETE", "/api/receipts/r1", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
				Expect(db.receipts).NotTo(HaveKey("r1"))
				Expect(storage.files).NotTo(HaveKey("r1_receipt.jpg"))
			})
		})
	})

	Describe("files", func() {
		It("serves an image the caller uploaded", func() {
			body, contentType := upload("file", "receipt.jpg")
			resp := do("POST", "/api/extract?ai=false", contentType, body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var draft Draft
			decode(resp, &draft)

			resp = do("GET", "/api/files/"+draft.Receipt.ImageKey, "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("fake image data"))
		})

		It("does not serve another owner's image", func() {
			key := ownerPrefix("bob") + "id-1_receipt.jpg"
			storage.files[key] = []byte("bob's receipt")

			resp := do("GET", "/api/files/"+key, "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("budgets", func() {
		It("defaults an omitted alert threshold", func() {
			resp := doJSON("POST", "/api/budgets", map[string]any{"category": "Food", "monthly_limit": "500"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var b expense.Budget
			decode(resp, &b)
			Expect(b.AlertThreshold).To(Equal(expense.DefaultAlertThreshold))
		})

		It("keeps an explicit zero threshold", func() {
			resp := doJSON("POST", "/api/budgets", map[string]any{"category": "Food", "monthly_limit": "500", "alert_threshold": 0})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var b expense.Budget
			decode(resp, &b)
			Expect(b.AlertThreshold).To(BeZero())
		})

		It("rejects an unknown client", func() {
			resp := doJSON("POST", "/api/budgets", map[string]any{"category": "Food", "monthly_limit": "500", "client_id": "nobody"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("reports the month's status", func() {
			db.budgets["b1"] = &expense.Budget{ID: "b1", OwnerID: DefaultOwner, Category: expense.Predefined(expense.Food), MonthlyLimit: dec("100"), AlertThreshold: 80}
			db.receipts["r1"] = &expense.Receipt{ID: "r1", OwnerID: DefaultOwner, Date: day(2024, 3, 5), Amount: expense.Some(dec("90")), Category: expense.Predefined(expense.Food)}

			resp := do("GET", "/api/budgets/status", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var statuses []map[string]any
			decode(resp, &statuses)
			Expect(statuses).To(HaveLen(1))
		})
	})

	Describe("reports", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &expense.Receipt{ID: "r1", OwnerID: DefaultOwner, Date: day(2024, 3, 2), Amount: expense.Some(dec("50")), VendorName: "Migros"}
		})

		It("serves the dashboard", func() {
			resp := do("GET", "/api/dashboard", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("serves analytics", func() {
			resp := do("GET", "/api/analytics?from=2024-01-01", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var report map[string]any
			decode(resp, &report)
			Expect(report).To(HaveKey("categories"))
		})

		It("serves duplicates and outliers", func() {
			resp := do("GET", "/api/duplicates", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = do("GET", "/api/outliers", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("downloads a workbook", func() {
			resp := do("GET", "/api/export", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts.xlsx"))
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body[:2])).To(Equal("PK"))
		})
	})
})
