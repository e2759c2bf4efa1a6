// Package api exposes the outcome engine over HTTP: public verification and
// pay table routes, the authenticated bet ledger, the live feed and health
// probes.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/bets"
	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/livefeed"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
	"github.com/MJE43/pf-outcome-engine/internal/store"
	"github.com/MJE43/pf-outcome-engine/internal/verify"
)

const (
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

// Deps are the components a Server routes to. Hub, Scanner and Auth are
// optional.
type Deps struct {
	Store       store.Store
	Coordinator *bets.Coordinator
	Scanner     *scan.Scanner
	Hub         *livefeed.Hub
	Auth        *Authenticator
	Logger      logrus.FieldLogger
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store          store.Store
	coordinator    *bets.Coordinator
	resolver       *games.Resolver
	verifier       *verify.Verifier
	scanner        *scan.Scanner
	hub            *livefeed.Hub
	auth           *Authenticator
	errorHandler   *ErrorHandler
	logger         logrus.FieldLogger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	resolver := d.Coordinator.Resolver()
	scanner := d.Scanner
	if scanner == nil {
		scanner = scan.NewScanner(resolver, logger)
	}
	securityLogger := NewSecurityLogger(logger)

	return &Server{
		store:          d.Store,
		coordinator:    d.Coordinator,
		resolver:       resolver,
		verifier:       verify.New(resolver),
		scanner:        scanner,
		hub:            d.Hub,
		auth:           d.Auth,
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		startTime:      time.Now(),
	}
}

// StartTime reports when the server was created.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// SecurityLogger returns the server's security logger.
func (s *Server) SecurityLogger() *SecurityLogger {
	return s.securityLogger
}

// Routes sets up the HTTP routes with comprehensive middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/health", s.handleHealthCheck)
		r.Get("/health/ready", s.handleReadiness)
		r.Get("/health/live", s.handleLiveness)
		r.Get("/metrics", s.handleMetrics)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Websocket upgrades outlive the request timeout.
		if s.hub != nil {
			r.Get("/live", s.hub.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(s.CORSMiddleware)

			r.Get("/games", s.handleGames)
			r.Get("/tables", s.handleTables)
			r.Get("/tables/{version}", s.handleTable)
			r.Post("/verify", s.handleVerify)
			r.Post("/seed/hash", s.handleSeedHash)
			r.Post("/scan", s.handleScan)
			if s.hub != nil {
				r.Get("/live/tail", s.handleLiveTail)
			}

			r.Group(func(r chi.Router) {
				r.Use(s.RequireToken)
				r.Get("/bets/{betID}", s.handleGetBet)

				r.Route("/users/{userID}", func(r chi.Router) {
					r.Use(s.RequireSubject)
					r.Post("/bets", s.handlePlaceBet)
					r.Get("/bets", s.handleListBets)
					r.Get("/bets/export.csv", s.handleExportBets)
					r.Get("/seed", s.handleCurrentSeed)
					r.Post("/seed/rotate", s.handleRotate)
					r.Put("/seed/client", s.handleSetClientSeed)
					r.Get("/seed/history", s.handleSeedHistory)
				})
			})
		})
	})

	return r
}

// handleGames returns the list of available games
func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GamesResponse{
		Games:          s.resolver.Specs(),
		CurrentVersion: s.resolver.Catalog().Current,
		EngineVersion:  EngineVersion,
	})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	catalog := s.resolver.Catalog()
	s.writeJSON(w, http.StatusOK, TablesResponse{
		Current:           catalog.Current,
		Versions:          catalog.VersionNames(),
		RotationThreshold: catalog.RotationThreshold,
		EngineVersion:     EngineVersion,
	})
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	tables, err := s.resolver.Catalog().Tables(chi.URLParam(r, "version"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TableResponse{
		Tables:        tables,
		ExpectedRTP:   tables.ExpectedRTP(),
		EngineVersion: EngineVersion,
	})
}

// handleVerify recomputes one bet from revealed seeds
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req verify.Request
	if !s.decode(w, r, &req) {
		return
	}
	if err := ValidateVerifyRequest(&req); err != nil {
		s.errorHandler.HandleValidationError(w, r, err.Field, err.Message)
		return
	}

	report, err := s.verifier.Verify(req)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.securityLogger.LogVerifyOperation(requestID, req, report)
	s.writeJSON(w, http.StatusOK, VerifyResponse{Report: report, EngineVersion: EngineVersion})
}

// handleSeedHash returns the SHA-256 commitment of a server seed
func (s *Server) handleSeedHash(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req SeedHashRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ServerSeed == "" {
		s.errorHandler.HandleValidationError(w, r, "server_seed", "server_seed is required")
		return
	}

	hash := engine.HashServerSeed(req.ServerSeed)
	s.securityLogger.LogSeedHashOperation(requestID, req.ServerSeed, hash)
	s.writeJSON(w, http.StatusOK, SeedHashResponse{Hash: hash, EngineVersion: EngineVersion})
}

// handleScan searches a nonce range of known seeds for a target metric
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req ScanRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := ValidateScanRequest(&req); err != nil {
		s.errorHandler.HandleValidationError(w, r, err.Field, err.Message)
		return
	}

	s.securityLogger.LogScanOperation(requestID, &req)
	result, err := s.scanner.Scan(r.Context(), convertToScanRequest(&req))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ScanResponse{Result: result, EngineVersion: EngineVersion})
}

func (s *Server) handleLiveTail(w http.ResponseWriter, r *http.Request) {
	since := qUint64(r, "since_id", 0)
	limit := clampInt(qInt(r, "limit", 100), 1, livefeed.DefaultBacklog)

	messages, last := s.hub.Tail(since, r.URL.Query().Get("user"), limit)
	if messages == nil {
		messages = []livefeed.Message{}
	}
	s.writeJSON(w, http.StatusOK, TailResponse{Messages: messages, LastID: last})
}

// decode reads a JSON body and reports malformed input. It returns false
// when a response was already written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeBody(w, r, v, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeBody(w, r, v, true)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorHandler.HandleValidationError(w, r, "body", "request body too large")
			return false
		}
		s.errorHandler.HandleValidationError(w, r, "body", "Invalid JSON in request body")
		return false
	}
	return true
}

// writeJSON writes a JSON response with engine version header
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Warn("response_write_failed")
	}
}
