package pantry

import (
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles HTTP requests for receipts and items
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

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
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Expiry Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Unauthenticated so probes and scrapers work without credentials
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Receipts
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleCreateReceipt))

	// Items
	s.mux.HandleFunc("GET /api/items/expiring", s.requireAuth(s.handleExpiringItems))
	s.mux.HandleFunc("GET /api/items/{id}", s.requireAuth(s.handleGetItem))
	s.mux.HandleFunc("PUT /api/items/{id}", s.requireAuth(s.handleUpdateItem))
	s.mux.HandleFunc("DELETE /api/items/{id}", s.requireAuth(s.handleDeleteItem))
	s.mux.HandleFunc("GET /api/items", s.requireAuth(s.handleListItems))
	s.mux.HandleFunc("POST /api/items", s.requireAuth(s.handleCreateItem))

	s.mux.HandleFunc("GET /api/analytics", s.requireAuth(s.handleAnalytics))
	s.mux.HandleFunc("POST /api/probe", s.requireAuth(s.handleProbe))

	// Static HTML interface (catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
