package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/bets"
	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
	"github.com/MJE43/pf-outcome-engine/internal/seeds"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	var ctx map[string]any
	if len(eb.context) > 0 {
		ctx = eb.context
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// errorMapping pairs a domain sentinel with its response type and status.
type errorMapping struct {
	target  error
	errType string
	status  int
}

// Order matters: wrapped errors may match more than one sentinel and the
// first hit wins.
var errorMappings = []errorMapping{
	{seeds.ErrInvalidSeedMaterial, ErrTypeInvalidSeed, http.StatusBadRequest},
	{games.ErrGameNotFound, ErrTypeGameNotFound, http.StatusNotFound},
	{games.ErrUnknownVersion, ErrTypeUnknownVersion, http.StatusBadRequest},
	{games.ErrInvalidParams, ErrTypeInvalidParams, http.StatusBadRequest},
	{bets.ErrInvalidStake, ErrTypeValidation, http.StatusBadRequest},
	{bets.ErrInvalidRequest, ErrTypeValidation, http.StatusBadRequest},
	{scan.ErrInvalidRange, ErrTypeValidation, http.StatusBadRequest},
	{seeds.ErrSeedLocked, ErrTypeSeedLocked, http.StatusConflict},
	{seeds.ErrNoActiveSeed, ErrTypeNoActiveSeed, http.StatusConflict},
	{seeds.ErrPairExists, ErrTypeConflict, http.StatusConflict},
	{seeds.ErrRotationRaceDetected, ErrTypeRotationRace, http.StatusServiceUnavailable},
	{seeds.ErrHashIntegrity, ErrTypeHashIntegrity, http.StatusInternalServerError},
	{store.ErrNotFound, ErrTypeNotFound, http.StatusNotFound},
	{store.ErrConflict, ErrTypeConflict, http.StatusConflict},
	{store.ErrStale, ErrTypeConflict, http.StatusConflict},
	{scan.ErrTimeout, ErrTypeTimeout, http.StatusRequestTimeout},
	{context.DeadlineExceeded, ErrTypeTimeout, http.StatusGatewayTimeout},
}

// classify maps an error onto an EngineError type and HTTP status.
func classify(err error) (string, int) {
	var engineErr EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type, http.StatusBadRequest
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.errType, m.status
		}
	}
	return ErrTypeInternal, http.StatusInternalServerError
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         logrus.FieldLogger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger logrus.FieldLogger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// HandleError classifies err and writes the matching structured response.
// Internal errors never echo their cause to the client.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())
	errType, status := classify(err)

	var engineErr EngineError
	if errors.As(err, &engineErr) {
		engineErr.RequestID = requestID
	} else {
		message := err.Error()
		if status >= http.StatusInternalServerError && errType == ErrTypeInternal {
			message = "Internal server error"
		}
		engineErr = NewError(errType, message).
			WithRequestID(requestID).
			WithContext("path", r.URL.Path).
			WithContext("method", r.Method).
			Build()
	}

	eh.logError(r, engineErr, status, err)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(requestID, "validation_failure", message, map[string]any{
		"field": field,
		"path":  r.URL.Path,
	}, r.RemoteAddr)

	eh.logError(r, engineErr, http.StatusBadRequest, nil)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// HandleAuthError rejects a request on the ledger routes.
func (eh *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, status int, reason string) {
	requestID := middleware.GetReqID(r.Context())
	errType := ErrTypeUnauthorized
	if status == http.StatusForbidden {
		errType = ErrTypeForbidden
	}
	engineErr := NewError(errType, reason).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		Build()

	eh.securityLogger.LogSecurityEvent(requestID, "auth_failure", reason, map[string]any{
		"path": r.URL.Path,
	}, r.RemoteAddr)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="pf"`)
	}
	eh.writeErrorResponse(w, status, engineErr)
}

// logError logs the error with appropriate level and context
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int, cause error) {
	category := GetErrorCategory(engineErr.Type)

	fields := logrus.Fields{
		"type":       engineErr.Type,
		"category":   category,
		"status":     status,
		"request_id": engineErr.RequestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote_ip":  r.RemoteAddr,
	}
	for key, value := range engineErr.Context {
		// Never log raw seeds - only hashes
		if key == "server_seed" || key == "client_seed" {
			continue
		}
		fields[key] = value
	}
	entry := eh.logger.WithFields(fields)
	if cause != nil {
		entry = entry.WithError(cause)
	}

	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("error_occurred")
	case category == CategoryValidation:
		entry.Warn("error_occurred")
	default:
		entry.Info("error_occurred")
	}
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.WithError(err).Warn("error_response_write_failed")
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			requestID := middleware.GetReqID(r.Context())

			eh.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"path":       r.URL.Path,
				"method":     r.Method,
				"panic":      fmt.Sprintf("%v", rvr),
			}).Error("panic_recovered")

			engineErr := NewError(ErrTypeInternal, "Internal server error").
				WithRequestID(requestID).
				WithContext("path", r.URL.Path).
				WithContext("method", r.Method).
				Build()

			eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
		}()

		next.ServeHTTP(w, r)
	})
}
