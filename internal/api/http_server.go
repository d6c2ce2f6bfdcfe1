package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"mobibook/internal/config"
	"mobibook/internal/logging"
	"mobibook/internal/metrics"
	"mobibook/internal/models"
	"mobibook/internal/slots"

	"github.com/rs/zerolog"
)

const (
	idempotencyHeader = "Idempotency-Key"
	healthPath        = "/healthz"
	maxBodyBytes      = 1 << 20
)

// HTTPServer exposes the booking API as JSON over HTTP.
type HTTPServer struct {
	cfg     *config.APIConfig
	backend *Backend
	authn   *Authenticator
	limiter *rateLimiter
	server  *http.Server
	log     *zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, backend *Backend, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		backend: backend,
		authn:   NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
		log:     logging.Component(logger, "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv.route(mux, "GET /api/v1/slots", permReadSlots, srv.handleListSlots)
	srv.route(mux, "POST /api/v1/slots/generate", permWriteSlots, srv.handleGenerateSlots)
	srv.route(mux, "DELETE /api/v1/slots/{id}", permWriteSlots, srv.handleDeleteSlot)

	srv.route(mux, "POST /api/v1/bookings", permWriteBookings, srv.handleReserve)
	srv.route(mux, "GET /api/v1/bookings", permReadBookings, srv.handleListBookings)
	srv.route(mux, "GET /api/v1/bookings/{id}", permReadBookings, srv.handleGetBooking)
	srv.route(mux, "GET /api/v1/references/{ref}", permReadBookings, srv.handleGetByReference)
	srv.route(mux, "GET /api/v1/bookings/{id}/audit", permReadBookings, srv.handleAudit)
	srv.route(mux, "POST /api/v1/bookings/{id}/transition", permWriteBookings, srv.handleTransition)
	srv.route(mux, "POST /api/v1/bookings/{id}/override", permOverride, srv.handleOverride)
	srv.route(mux, "POST /api/v1/bookings/{id}/reschedule", permManageBookings, srv.handleReschedule)
	srv.route(mux, "POST /api/v1/bookings/{id}/{action}", permWriteBookings, srv.handleAction)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// wrap puts logging, panic recovery, authentication and the per-client
// limiter in front of mux.
func (s *HTTPServer) wrap(mux http.Handler) http.Handler {
	return s.loggingMiddleware(s.recoverMiddleware(s.authMiddleware(mux)))
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// route registers h under pattern behind a permission check.
func (s *HTTPServer) route(mux *http.ServeMux, pattern, perm string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		if p, ok := principalFrom(r.Context()); ok && !p.can(perm) {
			writeError(w, http.StatusForbidden, "forbidden", errPermissionDenied.Error())
			return
		}
		h(w, r)
	})
}

func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := slotQuery{
		DateFrom:  strings.TrimSpace(q.Get("date_from")),
		DateTo:    strings.TrimSpace(q.Get("date_to")),
		Available: q.Get("available") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}

	list, err := s.backend.listSlots(r.Context(), query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": list})
}

func (s *HTTPServer) handleGenerateSlots(w http.ResponseWriter, r *http.Request) {
	var plan slots.Plan
	if !decodeBody(w, r, &plan, false) {
		return
	}
	res, err := s.backend.generateSlots(r.Context(), plan)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.backend.deleteSlot(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		req.IdempotencyKey = key
	}

	booking, err := s.backend.reserve(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{CustomerID: strings.TrimSpace(q.Get("customer_id"))}
	for _, raw := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, models.Status(raw))
	}
	if raw := q.Get("slot_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "slot_id must be an integer")
			return
		}
		filter.SlotID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	list, err := s.backend.listBookings(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.backend.booking(r.Context(), bookingQuery{BookingID: id})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleGetByReference(w http.ResponseWriter, r *http.Request) {
	booking, err := s.backend.booking(r.Context(), bookingQuery{Reference: r.PathValue("ref")})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := s.backend.auditTrail(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
		Notes  string `json:"notes"`
	}
	if !decodeBody(w, r, &body, false) {
		return
	}
	s.writeBooking(w, r)(s.backend.transition(r.Context(), transitionRequest{
		BookingID: id,
		Status:    body.Status,
		Reason:    body.Reason,
		Notes:     body.Notes,
	}))
}

func (s *HTTPServer) handleOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status        string `json:"status"`
		Justification string `json:"justification"`
		Notes         string `json:"notes"`
	}
	if !decodeBody(w, r, &body, false) {
		return
	}
	s.writeBooking(w, r)(s.backend.transition(r.Context(), transitionRequest{
		BookingID:     id,
		Status:        body.Status,
		Notes:         body.Notes,
		Override:      true,
		Justification: body.Justification,
	}))
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		SlotID int64  `json:"slot_id"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body, false) {
		return
	}
	s.writeBooking(w, r)(s.backend.reschedule(r.Context(), rescheduleRequest{BookingID: id, SlotID: body.SlotID, Reason: body.Reason}))
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body, true) {
		return
	}
	s.writeBooking(w, r)(s.backend.act(r.Context(), id, r.PathValue("action"), body.Reason))
}

func (s *HTTPServer) writeBooking(w http.ResponseWriter, r *http.Request) func(*models.Booking, error) {
	return func(b *models.Booking, err error) {
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.HTTPStatus >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("code", e.Code).Msg("request failed")
	}
	writeError(w, e.HTTPStatus, e.Code, e.Message)
}

func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}

		p := anonymous(clientHost(r))
		if s.authn.Enabled() {
			var err error
			p, err = s.authn.authenticate(
				r.Header.Get(s.authn.apiKeyHeader),
				r.Header.Get(s.authn.extraHeader),
				r.Header.Get(authorizationHeader),
			)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
		}

		if !s.limiter.allow(p.key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// decodeBody decodes a JSON body into dst, writing a 400 on failure. An
// empty body is accepted when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message, "code": code})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
