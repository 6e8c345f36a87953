// Package http exposes the JSON API over the domain services.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"limit/internal/cache"
	"limit/internal/engine"
	"limit/internal/ledger"
	"limit/internal/log"
	"limit/internal/policy"
	"limit/internal/records"
	"limit/internal/vault"
)

type Server struct {
	http.Server

	records *records.Service
	ledger  *ledger.Service
	policy  *policy.Service
	engine  *engine.Service
	vaults  *vault.Service

	rateLimiter *rateLimiter
	metrics     *securityMetrics

	// statusCache keeps the read-mostly account status endpoint cheap; every
	// mutating account operation invalidates the entry.
	statusCache *cache.LRUCache[records.Status]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, rec *records.Service, led *ledger.Service, pol *policy.Service, eng *engine.Service, vlt *vault.Service) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		records:          rec,
		ledger:           led,
		policy:           pol,
		engine:           eng,
		vaults:           vlt,
		rateLimiter:      newRateLimiter(),
		metrics:          &securityMetrics{},
		statusCache:      cache.NewLRUCache[records.Status](500, time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /accounts", s.withSecurityHeaders(s.handleRegister))
	mux.HandleFunc("GET /accounts/{account}/status", s.withSecurityHeaders(s.handleStatus))
	mux.HandleFunc("GET /accounts/{account}/records/{period}", s.withSecurityHeaders(s.handleHistory))
	mux.HandleFunc("POST /accounts/{account}/budget", s.withSecurityHeaders(s.handleSetBudget))
	mux.HandleFunc("POST /accounts/{account}/spending", s.withSecurityHeaders(s.handleRecordSpending))
	mux.HandleFunc("POST /accounts/{account}/transactions", s.withSecurityHeaders(s.handleRecordTransactions))
	mux.HandleFunc("POST /accounts/{account}/emergency-fund", s.withSecurityHeaders(s.handleSetEmergencyFund))
	mux.HandleFunc("POST /accounts/{account}/emergency-use", s.withSecurityHeaders(s.handleUseEmergency))
	mux.HandleFunc("POST /accounts/{account}/evaluate", s.withSecurityHeaders(s.handleEvaluate))
	mux.HandleFunc("GET /accounts/{account}/proofs/{period}", s.withSecurityHeaders(s.handleProof))
	mux.HandleFunc("GET /accounts/{account}/ledger", s.withSecurityHeaders(s.handleLedgerEntry))

	mux.HandleFunc("POST /ledger/{account}/credit", s.withSecurityHeaders(s.handleCredit))
	mux.HandleFunc("POST /ledger/{account}/debit", s.withSecurityHeaders(s.handleDebit))
	mux.HandleFunc("POST /ledger/{account}/tier", s.withSecurityHeaders(s.handleSetTier))
	mux.HandleFunc("POST /ledger/{account}/streak", s.withSecurityHeaders(s.handleSetStreak))
	mux.HandleFunc("POST /ledger/callers/grant", s.withSecurityHeaders(s.handleGrant))
	mux.HandleFunc("POST /ledger/callers/revoke", s.withSecurityHeaders(s.handleRevoke))

	mux.HandleFunc("GET /policy/tiers", s.withSecurityHeaders(s.handleTiers))
	mux.HandleFunc("PUT /policy/tiers/{rank}", s.withSecurityHeaders(s.handleUpdateTier))

	mux.HandleFunc("GET /accounts/{account}/vaults", s.withSecurityHeaders(s.handleListVaults))
	mux.HandleFunc("POST /accounts/{account}/vaults", s.withSecurityHeaders(s.handleCreateVault))
	mux.HandleFunc("POST /accounts/{account}/vaults/{id}/deposit", s.withSecurityHeaders(s.handleVaultDeposit))

	return s
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.statusCache.CleanExpired(); cleaned > 0 {
				slog.Debug("status cache cleanup", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting and request
// logging around a handler.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		if detectSuspiciousRequest(r, s.metrics) {
			slog.WarnContext(ctx, "suspicious request",
				log.FieldRequestID, requestID,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, clientIP,
				log.FieldComponent, log.ComponentSecurity)
		}

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP, s.metrics) {
			slog.WarnContext(ctx, "rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path,
				log.FieldComponent, log.ComponentRateLimit)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) invalidateStatus(account string) {
	s.statusCache.Delete(account)
}
