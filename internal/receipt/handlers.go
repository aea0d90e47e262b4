package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/dedupe"
	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/imaging"
)

// Maximum upload size; high-resolution phone photos run to tens of MB.
const maxFormSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps service errors to status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		corsError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		corsError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("request body: %v: %w", err, ErrInvalid)
	}
	return nil
}

func boolParam(values url.Values, name string, fallback bool) bool {
	v := values.Get(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// contentTypeOf reads the part's declared type, falling back to the extension.
func contentTypeOf(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = imaging.MimeByExtension(header.Filename)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	return imaging.NormalizeMime(contentType)
}

func readUpload(header *multipart.FileHeader) (Upload, error) {
	if header.Size > maxFormSize {
		return Upload{}, fmt.Errorf("%s is too large, maximum size is 50MB: %w", header.Filename, ErrInvalid)
	}
	f, err := header.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("reading %s: %w", header.Filename, err)
	}
	return Upload{Filename: header.Filename, Data: data, ContentType: contentTypeOf(header)}, nil
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		corsError(w, msg, http.StatusBadRequest)
		return false
	}
	return true
}

// handleExtract runs the extraction pipeline on one uploaded file
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	up, err := readUpload(header)
	if err != nil {
		writeError(w, r, err)
		return
	}

	useAI := boolParam(r.URL.Query(), "ai", boolParam(r.MultipartForm.Value, "ai", true))
	draft, err := s.service.Extract(r.Context(), ownerFrom(r.Context()), up, useAI)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleExtractQR parses an e-invoice QR payload
func (s *Server) handleExtractQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := s.service.ExtractQR(r.Context(), ownerFrom(r.Context()), req.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleExtractBatch extracts every uploaded file into a pending batch
func (s *Server) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		corsError(w, "No files were selected.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, h := range headers {
		up, err := readUpload(h)
		if err != nil {
			writeError(w, r, err)
			return
		}
		uploads = append(uploads, up)
	}

	useAI := boolParam(r.URL.Query(), "ai", boolParam(r.MultipartForm.Value, "ai", true))
	batch := s.service.ExtractBatch(r.Context(), ownerFrom(r.Context()), uploads, useAI, nil)
	writeJSON(w, http.StatusOK, batch)
}

// handleCommitBatch saves a reviewed batch
func (s *Server) handleCommitBatch(w http.ResponseWriter, r *http.Request) {
	var batch PendingBatch
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.service.CommitBatch(r.Context(), ownerFrom(r.Context()), &batch, boolParam(r.URL.Query(), "force", false))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// parseQuery reads receipt filters from the URL
func parseQuery(owner string, values url.Values) (Query, error) {
	q := Query{
		OwnerID:  owner,
		Category: values.Get("category"),
		ClientID: values.Get("client"),
		Search:   values.Get("q"),
		OrderBy:  OrderDate,
		Desc:     boolParam(values, "desc", true),
	}
	for name, dst := range map[string]*expense.Optional[civil.Date]{"from": &q.From, "to": &q.To} {
		if v := values.Get(name); v != "" {
			d, err := civil.ParseDate(v)
			if err != nil {
				return Query{}, fmt.Errorf("%s: %v: %w", name, err, ErrInvalid)
			}
			*dst = expense.Some(d)
		}
	}
	for name, dst := range map[string]*expense.Optional[decimal.Decimal]{"min": &q.MinAmount, "max": &q.MaxAmount} {
		if v := values.Get(name); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return Query{}, fmt.Errorf("%s: %v: %w", name, err, ErrInvalid)
			}
			*dst = expense.Some(d)
		}
	}
	if v := values.Get("type"); v != "" {
		t, err := expense.ParseType(v)
		if err != nil {
			return Query{}, err
		}
		q.Type = t
	}
	switch Order(values.Get("order")) {
	case "", OrderDate:
	case OrderCreated:
		q.OrderBy = OrderCreated
	default:
		return Query{}, fmt.Errorf("order must be date or created: %w", ErrInvalid)
	}
	return q, nil
}

// handleListReceipts returns the owner's receipts matching the filters
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(ownerFrom(r.Context()), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	receipts, err := s.service.QueryReceipts(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleCreateReceipt saves a reviewed receipt. A likely duplicate answers
// 409 with the warning unless force is set.
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var rec expense.Receipt
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, r, err)
		return
	}
	saved, warning, err := s.service.SaveReceipt(r.Context(), ownerFrom(r.Context()), &rec, boolParam(r.URL.Query(), "force", false))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if warning != nil {
		writeJSON(w, http.StatusConflict, struct {
			Duplicate *dedupe.Warning `json:"duplicate"`
		}{warning})
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetReceipt(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateReceipt replaces a receipt's fields
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var rec expense.Receipt
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.service.UpdateReceipt(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), &rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleRecomputeVAT infers the VAT rate again from stored amounts
func (s *Server) handleRecomputeVAT(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.RecomputeVAT(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetFile serves one of the caller's stored images by key
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetFile(r.Context(), ownerFrom(r.Context()), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), ownerFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.service.ListClients(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var c expense.Client
	if err := decodeBody(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.service.CreateClient(r.Context(), ownerFrom(r.Context()), &c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetClient(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	var c expense.Client
	if err := decodeBody(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.service.UpdateClient(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), &c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteClient(r.Context(), ownerFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// budgetRequest keeps an omitted threshold apart from an explicit 0.
type budgetRequest struct {
	ClientID       string           `json:"client_id"`
	Category       expense.Category `json:"category"`
	MonthlyLimit   decimal.Decimal  `json:"monthly_limit"`
	AlertThreshold *int             `json:"alert_threshold"`
}

func (b budgetRequest) budget() *expense.Budget {
	threshold := expense.DefaultAlertThreshold
	if b.AlertThreshold != nil {
		threshold = *b.AlertThreshold
	}
	return &expense.Budget{
		ClientID:       b.ClientID,
		Category:       b.Category,
		MonthlyLimit:   b.MonthlyLimit,
		AlertThreshold: threshold,
	}
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.service.ListBudgets(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.service.CreateBudget(r.Context(), ownerFrom(r.Context()), req.budget())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBudget(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.service.UpdateBudget(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.budget())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBudget(r.Context(), ownerFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.service.BudgetStatuses(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Dashboard(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(ownerFrom(r.Context()), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.service.Analytics(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.service.Duplicates(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleOutliers(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(ownerFrom(r.Context()), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.service.Outliers(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleExport downloads the matching receipts as a workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(ownerFrom(r.Context()), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.service.ExportXLSX(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(data)
}
