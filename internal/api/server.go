// Package api exposes the presale engine over HTTP: public read views,
// purchase/claim commands, and key-guarded owner administration.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/saadverse/presale-engine/internal/engine"
	"github.com/saadverse/presale-engine/internal/store"
	"github.com/saadverse/presale-engine/internal/view"
)

const ownerKeyHeader = "X-Owner-Key"

// Server is the HTTP API server.
type Server struct {
	eng      *engine.Engine
	cache    *view.Cache
	store    *store.Store
	ownerKey string
	log      *slog.Logger
	mux      *http.ServeMux
}

// NewServer wires the API over an engine and its store. ownerKey guards the
// admin routes; an empty key disables them.
func NewServer(eng *engine.Engine, cache *view.Cache, st *store.Store, ownerKey string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		eng:      eng,
		cache:    cache,
		store:    st,
		ownerKey: ownerKey,
		log:      log,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.corsMiddleware(s.health))

	// Read views
	s.mux.HandleFunc("/api/v1/status", s.corsMiddleware(s.getStatus))
	s.mux.HandleFunc("/api/v1/phases", s.corsMiddleware(s.listPhases))
	s.mux.HandleFunc("/api/v1/phase", s.corsMiddleware(s.getPhase))
	s.mux.HandleFunc("/api/v1/vesting", s.corsMiddleware(s.getVesting))
	s.mux.HandleFunc("/api/v1/ethusd", s.corsMiddleware(s.getEthUsd))
	s.mux.HandleFunc("/api/v1/audit", s.corsMiddleware(s.listAudit))

	// Buyer commands
	s.mux.HandleFunc("/api/v1/buy/eth", s.corsMiddleware(s.buyWithETH))
	s.mux.HandleFunc("/api/v1/buy/usdt", s.corsMiddleware(s.buyWithUSDT))
	s.mux.HandleFunc("/api/v1/claim", s.corsMiddleware(s.claim))

	// Owner commands
	s.mux.HandleFunc("/api/v1/admin/pause", s.ownerOnly(s.adminPause))
	s.mux.HandleFunc("/api/v1/admin/resume", s.ownerOnly(s.adminResume))
	s.mux.HandleFunc("/api/v1/admin/advance", s.ownerOnly(s.adminAdvance))
	s.mux.HandleFunc("/api/v1/admin/whitelist-required", s.ownerOnly(s.adminWhitelistRequired))
	s.mux.HandleFunc("/api/v1/admin/whitelist", s.ownerOnly(s.adminWhitelist))
	s.mux.HandleFunc("/api/v1/admin/receivers", s.ownerOnly(s.adminReceivers))
	s.mux.HandleFunc("/api/v1/admin/phase-deadline", s.ownerOnly(s.adminPhaseDeadline))
	s.mux.HandleFunc("/api/v1/admin/phase-cap", s.ownerOnly(s.adminPhaseCap))
	s.mux.HandleFunc("/api/v1/admin/phase-price", s.ownerOnly(s.adminPhasePrice))
	s.mux.HandleFunc("/api/v1/admin/withdraw", s.ownerOnly(s.adminWithdraw))
	s.mux.HandleFunc("/api/v1/admin/end", s.ownerOnly(s.adminEnd))
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.mux)
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ownerKeyHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// ownerOnly guards the admin routes with the configured API key. The engine
// separately checks the acting address against the owner.
func (s *Server) ownerOnly(next http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.errorResponse(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		if s.ownerKey == "" || r.Header.Get(ownerKeyHeader) != s.ownerKey {
			s.errorResponse(w, http.StatusUnauthorized, "invalid owner key")
			return
		}
		next(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("http", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, ErrorResponse{Error: message})
}

func (s *Server) decode(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}
