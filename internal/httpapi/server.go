package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/MuhammadDanishgtr/AI-Employee/internal/vault"
)

type ServerConfig struct {
	Addr              string
	AuthToken         string
	ReadHeaderTimeout time.Duration
	ShutdownGrace     time.Duration
	RateLimitMax      int
	RateLimitWindow   time.Duration
	MaxBodyBytes      int64
}

// ServerOptions wires the API to the rest of the system. Store and Audit
// are required; Gate and Aggregator are built on the store when omitted.
// Drafts is optional, the draft routes answer 503 without it.
type ServerOptions struct {
	Store      *vault.Store
	Audit      *vault.AuditLog
	Gate       *vault.Gate
	Aggregator *vault.Aggregator
	Drafts     vault.DraftStore
	Config     ServerConfig
}

type Server struct {
	store         *vault.Store
	audit         *vault.AuditLog
	gate          *vault.Gate
	aggregator    *vault.Aggregator
	drafts        vault.DraftStore
	cfg           ServerConfig
	rateLimiter   *rateLimiter
	requestSchema *jsonschema.Schema
	draftSchema   *jsonschema.Schema
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store *vault.Store, audit *vault.AuditLog) (*Server, error) {
	return NewServerWithOptions(ServerOptions{Store: store, Audit: audit})
}

func NewServerWithOptions(opts ServerOptions) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", vault.ErrInvalidInput)
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("%w: audit log is required", vault.ErrInvalidInput)
	}
	cfg := opts.Config
	if cfg.Addr == "" {
		cfg.Addr = ":8780"
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = "dev-token"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	gate := opts.Gate
	if gate == nil {
		var err error
		gate, err = vault.NewGate(opts.Store, opts.Audit, nil)
		if err != nil {
			return nil, err
		}
	}
	aggregator := opts.Aggregator
	if aggregator == nil {
		var err error
		aggregator, err = vault.NewAggregator(vault.AggregatorOptions{
			Store: opts.Store,
			Audit: opts.Audit,
		})
		if err != nil {
			return nil, err
		}
	}

	requestSchema, err := compileSchema("create_request.json", createRequestSchema)
	if err != nil {
		return nil, err
	}
	draftSchema, err := compileSchema("create_draft.json", createDraftSchema)
	if err != nil {
		return nil, err
	}

	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:         opts.Store,
		audit:         opts.Audit,
		gate:          gate,
		aggregator:    aggregator,
		drafts:        opts.Drafts,
		cfg:           cfg,
		rateLimiter:   limiter,
		requestSchema: requestSchema,
		draftSchema:   draftSchema,
	}, nil
}

// Serve runs the HTTP listener until ctx is cancelled, then drains with
// a bounded graceful shutdown. No write timeout is set on the underlying
// server because the events route holds connections open indefinitely.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-errCh
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" || r.URL.Path == "/dashboard" {
		s.handleDashboard(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var route string
	switch {
	case len(parts) == 3 && parts[2] == "requests" && r.Method == http.MethodPost:
		route = "create_request"
	case len(parts) == 3 && parts[2] == "drafts" && r.Method == http.MethodPost:
		route = "create_draft"
	case len(parts) == 3 && parts[2] == "drafts" && r.Method == http.MethodGet:
		route = "list_drafts"
	case len(parts) == 3 && parts[2] == "records" && r.Method == http.MethodGet:
		route = "list_records"
	case len(parts) == 4 && parts[2] == "records" && r.Method == http.MethodGet:
		route = "read_record"
	case len(parts) == 3 && parts[2] == "status" && r.Method == http.MethodGet:
		route = "status"
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet:
		route = "events"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.AuthToken); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "create_request":
		s.handleCreateRequest(w, r, correlationID)
	case "create_draft":
		s.handleCreateDraft(w, r, correlationID)
	case "list_drafts":
		s.handleListDrafts(w, r, correlationID)
	case "list_records":
		s.handleListRecords(w, r, correlationID)
	case "read_record":
		s.handleReadRecord(w, r, parts[3], correlationID)
	case "status":
		s.handleStatus(w, r, correlationID)
	case "events":
		s.handleEvents(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

type recordLocation struct {
	Name     string `json:"name"`
	Stage    string `json:"stage"`
	Location string `json:"location"`
}

type recordView struct {
	Name         string `json:"name"`
	Stage        string `json:"stage"`
	Type         string `json:"type"`
	Action       string `json:"action,omitempty"`
	Source       string `json:"source,omitempty"`
	Status       string `json:"status"`
	Priority     string `json:"priority,omitempty"`
	Subject      string `json:"subject,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	CC           string `json:"cc,omitempty"`
	Created      string `json:"created,omitempty"`
	Received     string `json:"received,omitempty"`
	Expires      string `json:"expires,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
	StoredAs     string `json:"stored_as,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	Size         string `json:"size,omitempty"`
}

type recordDetail struct {
	recordView
	Body string `json:"body"`
}

type recordFeed struct {
	Stage string       `json:"stage"`
	Items []recordView `json:"items"`
}

type draftFeed struct {
	Items []vault.Draft `json:"items"`
}

func newRecordView(rec *vault.Record) recordView {
	return recordView{
		Name:         rec.Name,
		Stage:        string(rec.Stage),
		Type:         rec.Meta.Type,
		Action:       rec.Meta.Action,
		Source:       rec.Meta.Source,
		Status:       rec.Meta.Status,
		Priority:     rec.Meta.Priority,
		Subject:      rec.Meta.Subject,
		From:         rec.Meta.From,
		To:           rec.Meta.To,
		CC:           rec.Meta.CC,
		Created:      rec.Meta.Created,
		Received:     rec.Meta.Received,
		Expires:      rec.Meta.Expires,
		OriginalName: rec.Meta.OriginalName,
		StoredAs:     rec.Meta.StoredAs,
		FileType:     rec.Meta.FileType,
		Size:         rec.Meta.Size,
	}
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if !s.validateBody(w, body, s.requestSchema, correlationID) {
		return
	}
	var payload struct {
		Kind   string `json:"kind"`
		Title  string `json:"title"`
		To     string `json:"to"`
		CC     string `json:"cc"`
		Body   string `json:"body"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	rec, err := s.gate.CreateRequest(vault.ApprovalRequest{
		Kind:   payload.Kind,
		Title:  payload.Title,
		To:     payload.To,
		CC:     payload.CC,
		Body:   payload.Body,
		Source: payload.Source,
	})
	if err != nil {
		if errors.Is(err, vault.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	location := "/api/v1/records/" + rec.Name + "?stage=" + string(rec.Stage)
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusCreated, recordLocation{
		Name:     rec.Name,
		Stage:    string(rec.Stage),
		Location: location,
	})
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "draft store is not configured", correlationID)
		return
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if !s.validateBody(w, body, s.draftSchema, correlationID) {
		return
	}
	var payload struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}
	created, err := s.drafts.CreateDraft(r.Context(), vault.Draft{
		To:      payload.To,
		Subject: payload.Subject,
		Body:    payload.Body,
	})
	if err != nil {
		if errors.Is(err, vault.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusBadGateway, "bridge_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.drafts == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "draft store is not configured", correlationID)
		return
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), vault.DraftListingCap, 1, vault.DraftListingCap)
	items, err := s.drafts.ListDrafts(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "bridge_error", err.Error(), correlationID)
		return
	}
	if items == nil {
		items = []vault.Draft{}
	}
	writeJSON(w, http.StatusOK, draftFeed{Items: items})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request, correlationID string) {
	stage, ok := parseStage(r.URL.Query().Get("stage"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or unknown stage query parameter", correlationID)
		return
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 100, 1, 500)
	recs, err := s.store.ListRecords(stage)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	items := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, recordFeed{Stage: string(stage), Items: items})
}

func (s *Server) handleReadRecord(w http.ResponseWriter, r *http.Request, name, correlationID string) {
	stage, ok := parseStage(r.URL.Query().Get("stage"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or unknown stage query parameter", correlationID)
		return
	}
	rec, err := s.store.ReadRecord(stage, name)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
			return
		}
		if errors.Is(err, vault.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, recordDetail{recordView: newRecordView(rec), Body: rec.Body})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, correlationID string) {
	snap, err := s.aggregator.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func parseStage(raw string) (vault.Stage, bool) {
	candidate := vault.Stage(strings.TrimSpace(raw))
	for _, stage := range vault.Stages {
		if stage == candidate {
			return stage, true
		}
	}
	return "", false
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) validateBody(w http.ResponseWriter, body []byte, schema *jsonschema.Schema, correlationID string) bool {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	if err := schema.Validate(doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "schema_violation", err.Error(), correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":           code,
			"message":        message,
			"correlation_id": correlationID,
		},
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
