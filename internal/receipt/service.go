package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/analytics"
	"github.com/zombor/expense-tracker/internal/dedupe"
	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/export"
	"github.com/zombor/expense-tracker/internal/extraction"
	"github.com/zombor/expense-tracker/internal/ocr"
	"github.com/zombor/expense-tracker/internal/reconcile"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for records and stored files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the tunables of the extraction pipeline and reports.
type Config struct {
	Engine             extraction.Config
	DuplicateTolerance decimal.Decimal
	OutlierSigma       float64
	Vendors            expense.VendorCategories
}

// DefaultConfig returns the values observed on real receipts.
func DefaultConfig() Config {
	return Config{
		Engine:             extraction.DefaultConfig(),
		DuplicateTolerance: dedupe.DefaultTolerance,
		OutlierSigma:       analytics.DefaultSigma,
		Vendors:            expense.DefaultVendorCategories,
	}
}

// Upload is one submitted receipt file.
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Service handles receipt operations
type Service struct {
	db          DB
	storage     Storage
	recognizer  ocr.Recognizer
	scanner     scanning.Scanner
	engine      *extraction.Engine
	detector    *dedupe.Detector
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// recognizer and scanner may be nil.
func NewService(db DB, storage Storage, recognizer ocr.Recognizer, scanner scanning.Scanner, cfg Config) *Service {
	return NewServiceWithDeps(db, storage, recognizer, scanner, cfg, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, recognizer ocr.Recognizer, scanner scanning.Scanner, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.Vendors == nil {
		cfg.Vendors = expense.DefaultVendorCategories
	}
	return &Service{
		db:          db,
		storage:     storage,
		recognizer:  recognizer,
		scanner:     scanner,
		engine:      extraction.NewEngine(cfg.Engine),
		detector:    dedupe.NewDetector(cfg.DuplicateTolerance),
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, " ")
	base = strings.ReplaceAll(strings.TrimSpace(base), " ", "_")

	// Phone cameras produce long names; 50 chars is plenty to recognize one.
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

func (s *Service) today() civil.Date {
	return civil.DateOf(s.timeSource.Now())
}

// Extract uploads an image and runs OCR, the heuristic engine and (when
// useAI is set) the AI scanner, returning an unsaved draft. Only a failed
// upload is an error; OCR and AI failures become notes.
func (s *Service) Extract(ctx context.Context, ownerID string, up Upload, useAI bool) (*Draft, error) {
	key := ownerPrefix(ownerID) + s.idGenerator.Generate() + "_" + sanitizeFilename(up.Filename)
	url, err := s.storage.Save(ctx, key, up.Data, up.ContentType)
	if err != nil {
		slog.Error("Failed to upload receipt image",
			"filename", up.Filename,
			"content_type", up.ContentType,
			"file_size", len(up.Data),
			"error", err,
		)
		return nil, fmt.Errorf("uploading image: %w", err)
	}

	var (
		text   string
		tokens extraction.TokenConfidence
		notes  []string
	)
	if s.recognizer != nil {
		res, err := s.recognizer.Recognize(ctx, up.Data, up.ContentType)
		if err != nil {
			slog.Warn("OCR failed", "filename", up.Filename, "error", err)
			notes = append(notes, fmt.Sprintf("text recognition failed (%v)", err))
		} else {
			text, tokens = res.Text, res.Tokens
		}
	}

	ex := s.engine.Analyze(text, tokens)
	cand := ex.Candidate
	cand.Notes = append(notes, cand.Notes...)

	if useAI && s.scanner != nil {
		req := scanning.Request{Text: text}
		if strings.TrimSpace(text) == "" {
			req = scanning.Request{Image: up.Data, ContentType: up.ContentType}
		}
		cand = s.reconcileAI(ctx, cand, req)
	}

	r := s.finish(cand)
	r.OwnerID = ownerID
	r.RawText = text
	r.ImageKey = key
	r.ImageURL = url
	r.ContentType = up.ContentType

	return s.draft(ownerID, r)
}

// reconcileAI merges the scanner's answer into the heuristic candidate,
// falling back to the heuristic one when the scanner fails.
func (s *Service) reconcileAI(ctx context.Context, heuristic expense.Candidate, req scanning.Request) expense.Candidate {
	ai, err := s.scanner.Extract(ctx, req)
	if err != nil {
		slog.Warn("AI extraction failed, using heuristic fields", "error", err)
		return reconcile.Fallback(heuristic, err)
	}
	if rate, ok := ai.VATRate.Get(); ok {
		if v, numeric := rate.Value(); numeric && !s.cfg.Engine.InVATWindow(v) {
			ai.VATRate = expense.None[expense.VATRate]()
			delete(ai.Confidence, expense.FieldVATRate)
		}
	}
	return reconcile.Reconcile(heuristic, ai)
}

// finish infers a missing or undecided VAT rate from the merged amounts and
// fills the category from the vendor.
func (s *Service) finish(c expense.Candidate) expense.Receipt {
	rate, ok := c.VATRate.Get()
	if !ok || rate.IsManualReview() {
		inferred := s.engine.VAT().Infer(c.Amount, c.VATAmount)
		c.VATRate = expense.Some(inferred)
		if c.Confidence == nil {
			c.Confidence = expense.Confidence{}
		}
		if inferred.IsManualReview() {
			c.Confidence[expense.FieldVATRate] = 0
		} else {
			c.Confidence[expense.FieldVATRate] = extraction.ComputedVATConfidence
		}
	}
	return expense.FromCandidate(reconcile.Categorize(c, s.cfg.Vendors))
}

func (s *Service) draft(ownerID string, r expense.Receipt) (*Draft, error) {
	d := newDraft(r)
	w, err := s.checkDuplicate(ownerID, &r, nil)
	if err != nil {
		return nil, err
	}
	d.Duplicate = w
	return d, nil
}

// ExtractQR builds a draft from an e-invoice QR payload.
func (s *Service) ExtractQR(ctx context.Context, ownerID, payload string) (*Draft, error) {
	c := s.engine.AnalyzeQR(payload)
	r := expense.FromCandidate(reconcile.Categorize(c, s.cfg.Vendors))
	r.OwnerID = ownerID
	return s.draft(ownerID, r)
}

// ExtractBatch extracts every upload in order, one at a time. A failing item
// is recorded in the batch and does not stop the rest. progress, when set, is
// called after each item.
func (s *Service) ExtractBatch(ctx context.Context, ownerID string, uploads []Upload, useAI bool, progress func(done, total int)) *PendingBatch {
	batch := &PendingBatch{
		ID:        s.idGenerator.Generate(),
		OwnerID:   ownerID,
		CreatedAt: s.timeSource.Now(),
		Items:     make([]BatchItem, 0, len(uploads)),
	}
	for i, up := range uploads {
		item := BatchItem{Index: i, Filename: up.Filename}
		d, err := s.Extract(ctx, ownerID, up, useAI)
		if err != nil {
			slog.Error("Batch item failed", "batch_id", batch.ID, "filename", up.Filename, "error", err)
			item.Error = err.Error()
		} else {
			item.Draft = d
		}
		batch.Items = append(batch.Items, item)
		if progress != nil {
			progress(i+1, len(uploads))
		}
	}
	slog.Info("Batch extracted", "batch_id", batch.ID, "items", len(batch.Items), "failed", batch.Failed())
	return batch
}

// checkDuplicate looks for a saved receipt on the same date within the
// tolerance, then among pending ones.
func (s *Service) checkDuplicate(ownerID string, r *expense.Receipt, pending []*expense.Receipt) (*dedupe.Warning, error) {
	if !r.Date.IsSet() || !r.Amount.IsSet() {
		return nil, nil
	}
	existing, err := s.db.QueryReceipts(Query{OwnerID: ownerID, From: r.Date, To: r.Date})
	if err != nil {
		return nil, fmt.Errorf("checking duplicates: %w", err)
	}
	candidates := make([]*expense.Receipt, 0, len(existing)+len(pending))
	for _, e := range existing {
		if e.ID != r.ID {
			candidates = append(candidates, e)
		}
	}
	candidates = append(candidates, pending...)
	return s.detector.Check(r.Date, r.Amount, candidates), nil
}

// validateReceipt checks r before it is stored. keptClientID is the client
// already on the stored receipt; it may name a deleted client and is not
// looked up again.
func (s *Service) validateReceipt(ownerID string, r *expense.Receipt, keptClientID string) error {
	r.OwnerID = ownerID
	r.Type = r.Type.OrExpense()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating receipt: %w", err)
	}
	if rate, ok := r.VATRate.Get(); ok {
		if v, numeric := rate.Value(); numeric && !s.cfg.Engine.InVATWindow(v) {
			return fmt.Errorf("vat rate %s outside (%s, %s): %w", v, s.cfg.Engine.VATMin, s.cfg.Engine.VATMax, ErrInvalid)
		}
	}
	if r.ClientID != "" && r.ClientID != keptClientID {
		if _, err := s.db.GetClient(ownerID, r.ClientID); err != nil {
			return fmt.Errorf("client %s: %w", r.ClientID, ErrInvalid)
		}
	}
	return nil
}

// SaveReceipt stores a new receipt. Unless force is set, a likely duplicate
// is returned as a warning and nothing is saved.
func (s *Service) SaveReceipt(ctx context.Context, ownerID string, r *expense.Receipt, force bool) (*expense.Receipt, *dedupe.Warning, error) {
	r.ID = ""
	if err := s.validateReceipt(ownerID, r, ""); err != nil {
		return nil, nil, err
	}
	if !force {
		w, err := s.checkDuplicate(ownerID, r, nil)
		if err != nil {
			return nil, nil, err
		}
		if w != nil {
			return nil, w, nil
		}
	}

	now := s.timeSource.Now()
	r.ID = s.idGenerator.Generate()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.db.SaveReceipt(r); err != nil {
		return nil, nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	slog.Info("Receipt saved", "receipt_id", r.ID, "owner_id", ownerID)
	return r, nil, nil
}

// CommitBatch saves the ready items of a reviewed batch together. Duplicates
// are checked against saved receipts and earlier items of the same batch.
func (s *Service) CommitBatch(ctx context.Context, ownerID string, batch *PendingBatch, force bool) ([]CommitResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch is required: %w", ErrInvalid)
	}

	now := s.timeSource.Now()
	results := make([]CommitResult, 0, len(batch.Items))
	var toSave []*expense.Receipt
	for _, it := range batch.Items {
		res := CommitResult{Index: it.Index}
		if it.Draft == nil || it.Error != "" {
			res.Error = it.Error
			if res.Error == "" {
				res.Error = "no draft to save"
			}
			results = append(results, res)
			continue
		}

		r := it.Draft.Receipt
		r.ID = ""
		if err := s.validateReceipt(ownerID, &r, ""); err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		if !force {
			w, err := s.checkDuplicate(ownerID, &r, toSave)
			if err != nil {
				return nil, err
			}
			if w != nil {
				res.Duplicate = w
				results = append(results, res)
				continue
			}
		}

		r.ID = s.idGenerator.Generate()
		r.CreatedAt = now
		r.UpdatedAt = now
		toSave = append(toSave, &r)
		res.Receipt = &r
		results = append(results, res)
	}

	if len(toSave) > 0 {
		if err := s.db.SaveReceipts(toSave); err != nil {
			return nil, fmt.Errorf("saving batch: %w", err)
		}
	}
	slog.Info("Batch committed", "batch_id", batch.ID, "saved", len(toSave), "items", len(batch.Items))
	return results, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, ownerID, id string) (*expense.Receipt, error) {
	r, err := s.db.GetReceipt(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return r, nil
}

// QueryReceipts returns the owner's receipts matching q
func (s *Service) QueryReceipts(ctx context.Context, q Query) ([]*expense.Receipt, error) {
	receipts, err := s.db.QueryReceipts(q)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// UpdateReceipt replaces the editable fields of a receipt. The image and
// creation time are kept.
func (s *Service) UpdateReceipt(ctx context.Context, ownerID, id string, r *expense.Receipt) (*expense.Receipt, error) {
	existing, err := s.db.GetReceipt(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	r.ID = id
	if err := s.validateReceipt(ownerID, r, existing.ClientID); err != nil {
		return nil, err
	}
	r.CreatedAt = existing.CreatedAt
	r.ImageKey = existing.ImageKey
	r.ImageURL = existing.ImageURL
	r.ContentType = existing.ContentType
	if r.RawText == "" {
		r.RawText = existing.RawText
	}
	if r.FieldConfidence == nil {
		r.FieldConfidence = existing.FieldConfidence
	}
	r.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return r, nil
}

// RecomputeVAT infers the VAT rate again from the stored amounts.
func (s *Service) RecomputeVAT(ctx context.Context, ownerID, id string) (*expense.Receipt, error) {
	r, err := s.db.GetReceipt(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	rate := s.engine.VAT().Infer(r.Amount, r.VATAmount)
	r.VATRate = expense.Some(rate)
	if r.FieldConfidence == nil {
		r.FieldConfidence = expense.Confidence{}
	}
	if rate.IsManualReview() {
		r.FieldConfidence[expense.FieldVATRate] = 0
	} else {
		r.FieldConfidence[expense.FieldVATRate] = extraction.ComputedVATConfidence
	}
	r.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return r, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(ctx context.Context, ownerID, id string) error {
	r, err := s.db.GetReceipt(ownerID, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if r.ImageKey != "" {
		if err := s.storage.Delete(ctx, r.ImageKey); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete file", "image_key", r.ImageKey, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(ownerID, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the image of a receipt
func (s *Service) GetReceiptFile(ctx context.Context, ownerID, id string) ([]byte, string, error) {
	r, err := s.db.GetReceipt(ownerID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if r.ImageKey == "" {
		return nil, "", notFound("file for receipt", id)
	}

	data, err := s.storage.Get(ctx, r.ImageKey)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, r.ContentType, nil
}

// ownerPrefix starts every file key stored for ownerID. Draft images have no
// receipt yet, so the key itself records who may read it.
func ownerPrefix(ownerID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ownerID)).String() + "_"
}

// GetFile reads a stored file by key. Keys of other owners are not found.
func (s *Service) GetFile(ctx context.Context, ownerID, key string) ([]byte, error) {
	if !strings.HasPrefix(key, ownerPrefix(ownerID)) {
		return nil, notFound("file", key)
	}
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return data, nil
}

// CreateClient stores a new client
func (s *Service) CreateClient(ctx context.Context, ownerID string, c *expense.Client) (*expense.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating client: %w", err)
	}
	now := s.timeSource.Now()
	c.ID = s.idGenerator.Generate()
	c.OwnerID = ownerID
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.db.SaveClient(c); err != nil {
		return nil, fmt.Errorf("saving client: %w", err)
	}
	return c, nil
}

// UpdateClient replaces a client's details
func (s *Service) UpdateClient(ctx context.Context, ownerID, id string, c *expense.Client) (*expense.Client, error) {
	existing, err := s.db.GetClient(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating client: %w", err)
	}
	c.ID = id
	c.OwnerID = ownerID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveClient(c); err != nil {
		return nil, fmt.Errorf("saving client: %w", err)
	}
	return c, nil
}

// GetClient retrieves a client by ID
func (s *Service) GetClient(ctx context.Context, ownerID, id string) (*expense.Client, error) {
	c, err := s.db.GetClient(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}
	return c, nil
}

// ListClients returns the owner's clients
func (s *Service) ListClients(ctx context.Context, ownerID string) ([]*expense.Client, error) {
	clients, err := s.db.ListClients(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return clients, nil
}

// DeleteClient removes a client
func (s *Service) DeleteClient(ctx context.Context, ownerID, id string) error {
	if err := s.db.DeleteClient(ownerID, id); err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}
	return nil
}

func (s *Service) validateBudget(ownerID string, b *expense.Budget) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validating budget: %w", err)
	}
	if b.ClientID != "" {
		if _, err := s.db.GetClient(ownerID, b.ClientID); err != nil {
			return fmt.Errorf("client %s: %w", b.ClientID, ErrInvalid)
		}
	}
	return nil
}

// CreateBudget stores a new budget
func (s *Service) CreateBudget(ctx context.Context, ownerID string, b *expense.Budget) (*expense.Budget, error) {
	if err := s.validateBudget(ownerID, b); err != nil {
		return nil, err
	}
	now := s.timeSource.Now()
	b.ID = s.idGenerator.Generate()
	b.OwnerID = ownerID
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := s.db.SaveBudget(b); err != nil {
		return nil, fmt.Errorf("saving budget: %w", err)
	}
	return b, nil
}

// UpdateBudget replaces a budget
func (s *Service) UpdateBudget(ctx context.Context, ownerID, id string, b *expense.Budget) (*expense.Budget, error) {
	existing, err := s.db.GetBudget(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting budget: %w", err)
	}
	if err := s.validateBudget(ownerID, b); err != nil {
		return nil, err
	}
	b.ID = id
	b.OwnerID = ownerID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBudget(b); err != nil {
		return nil, fmt.Errorf("saving budget: %w", err)
	}
	return b, nil
}

// GetBudget retrieves a budget by ID
func (s *Service) GetBudget(ctx context.Context, ownerID, id string) (*expense.Budget, error) {
	b, err := s.db.GetBudget(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns the owner's budgets
func (s *Service) ListBudgets(ctx context.Context, ownerID string) ([]*expense.Budget, error) {
	budgets, err := s.db.ListBudgets(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing budgets: %w", err)
	}
	return budgets, nil
}

// DeleteBudget removes a budget
func (s *Service) DeleteBudget(ctx context.Context, ownerID, id string) error {
	if err := s.db.DeleteBudget(ownerID, id); err != nil {
		return fmt.Errorf("deleting budget: %w", err)
	}
	return nil
}

// BudgetStatuses evaluates every budget against this month's spending.
func (s *Service) BudgetStatuses(ctx context.Context, ownerID string) ([]analytics.BudgetStatus, error) {
	budgets, err := s.db.ListBudgets(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing budgets: %w", err)
	}
	today := s.today()
	first := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
	records, err := s.db.QueryReceipts(Query{OwnerID: ownerID, From: expense.Some(first)})
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return analytics.EvaluateBudgets(budgets, records, today), nil
}

// Dashboard summarizes all of the owner's receipts.
func (s *Service) Dashboard(ctx context.Context, ownerID string) (analytics.Dashboard, error) {
	records, err := s.db.QueryReceipts(Query{OwnerID: ownerID})
	if err != nil {
		return analytics.Dashboard{}, fmt.Errorf("listing receipts: %w", err)
	}
	clients, err := s.db.ListClients(ownerID)
	if err != nil {
		return analytics.Dashboard{}, fmt.Errorf("listing clients: %w", err)
	}
	return analytics.Summarize(records, len(clients)), nil
}

// AnalyticsReport is the analytics page: month over month, categories, duplicates
// and outliers.
type AnalyticsReport struct {
	Comparison analytics.Comparison      `json:"comparison"`
	Categories []analytics.CategoryTotal `json:"categories"`
	Monthly    []analytics.MonthTotals   `json:"monthly"`
	Duplicates []dedupe.Cluster          `json:"duplicates"`
	Outliers   analytics.OutlierReport   `json:"outliers"`
}

// Analytics builds the report over the receipts matching q.
func (s *Service) Analytics(ctx context.Context, q Query) (*AnalyticsReport, error) {
	records, err := s.db.QueryReceipts(q)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return &AnalyticsReport{
		Comparison: analytics.CompareMonths(records, s.today()),
		Categories: analytics.CategoryRollup(records),
		Monthly:    analytics.MonthlyRollup(records),
		Duplicates: dedupe.Clusters(records),
		Outliers:   analytics.Outliers(records, s.cfg.OutlierSigma),
	}, nil
}

// Duplicates groups the owner's receipts sharing a date and amount.
func (s *Service) Duplicates(ctx context.Context, ownerID string) ([]dedupe.Cluster, error) {
	records, err := s.db.QueryReceipts(Query{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return dedupe.Clusters(records), nil
}

// Outliers flags unusually large amounts among the receipts matching q.
func (s *Service) Outliers(ctx context.Context, q Query) (analytics.OutlierReport, error) {
	records, err := s.db.QueryReceipts(q)
	if err != nil {
		return analytics.OutlierReport{}, fmt.Errorf("listing receipts: %w", err)
	}
	return analytics.Outliers(records, s.cfg.OutlierSigma), nil
}

// ExportXLSX renders the receipts matching q as a workbook.
func (s *Service) ExportXLSX(ctx context.Context, q Query) ([]byte, error) {
	records, err := s.db.QueryReceipts(q)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	clients, err := s.db.ListClients(q.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}
	data, err := export.WriteXLSX(records, names)
	if err != nil {
		return nil, fmt.Errorf("exporting receipts: %w", err)
	}
	slog.Info("Receipts exported", "owner_id", q.OwnerID, "rows", len(records))
	return data, nil
}
