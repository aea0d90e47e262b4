package receipt

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultOwner owns every record when authentication is disabled.
const DefaultOwner = "default"

// Server handles HTTP requests for receipts
type Server struct {
	service      *Service
	basicAuth    BasicAuth
	defaultOwner string
	mux          *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, defaultOwner string) *Server {
	return NewServerWithMux(service, basicAuth, defaultOwner, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, defaultOwner string, mux *http.ServeMux) *Server {
	if defaultOwner == "" {
		defaultOwner = DefaultOwner
	}
	s := &Server{
		service:      service,
		basicAuth:    basicAuth,
		defaultOwner: defaultOwner,
		mux:          mux,
	}
	s.registerRoutes()
	return s
}

type ownerKey struct{}

// ownerFrom returns the owner stored by requireAuth.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// authenticate checks basic auth credentials and returns the owner id
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.basicAuth.enabled() {
		return s.defaultOwner, true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", false
	}

	if credentials[0] != s.basicAuth.Username || credentials[1] != s.basicAuth.Password {
		return "", false
	}
	return credentials[0], true
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := s.authenticate(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Expense Tracker"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Extraction
	s.mux.HandleFunc("POST /api/extract", s.requireAuth(s.handleExtract))
	s.mux.HandleFunc("POST /api/qr", s.requireAuth(s.handleExtractQR))
	s.mux.HandleFunc("POST /api/batches/commit", s.requireAuth(s.handleCommitBatch))
	s.mux.HandleFunc("POST /api/batches", s.requireAuth(s.handleExtractBatch))

	// Receipts
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("POST /api/receipts/{id}/vat", s.requireAuth(s.handleRecomputeVAT))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("PUT /api/receipts/{id}", s.requireAuth(s.handleUpdateReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleCreateReceipt))
	s.mux.HandleFunc("GET /api/files/{key}", s.requireAuth(s.handleGetFile))

	// Clients
	s.mux.HandleFunc("GET /api/clients/{id}", s.requireAuth(s.handleGetClient))
	s.mux.HandleFunc("PUT /api/clients/{id}", s.requireAuth(s.handleUpdateClient))
	s.mux.HandleFunc("DELETE /api/clients/{id}", s.requireAuth(s.handleDeleteClient))
	s.mux.HandleFunc("GET /api/clients", s.requireAuth(s.handleListClients))
	s.mux.HandleFunc("POST /api/clients", s.requireAuth(s.handleCreateClient))

	// Budgets
	s.mux.HandleFunc("GET /api/budgets/status", s.requireAuth(s.handleBudgetStatus))
	s.mux.HandleFunc("GET /api/budgets/{id}", s.requireAuth(s.handleGetBudget))
	s.mux.HandleFunc("PUT /api/budgets/{id}", s.requireAuth(s.handleUpdateBudget))
	s.mux.HandleFunc("DELETE /api/budgets/{id}", s.requireAuth(s.handleDeleteBudget))
	s.mux.HandleFunc("GET /api/budgets", s.requireAuth(s.handleListBudgets))
	s.mux.HandleFunc("POST /api/budgets", s.requireAuth(s.handleCreateBudget))

	// Reports
	s.mux.HandleFunc("GET /api/dashboard", s.requireAuth(s.handleDashboard))
	s.mux.HandleFunc("GET /api/analytics", s.requireAuth(s.handleAnalytics))
	s.mux.HandleFunc("GET /api/duplicates", s.requireAuth(s.handleDuplicates))
	s.mux.HandleFunc("GET /api/outliers", s.requireAuth(s.handleOutliers))
	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, s.corsMiddleware(s.mux))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
