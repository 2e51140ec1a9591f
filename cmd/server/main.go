package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrokb/resolver/catalog"
	"github.com/hydrokb/resolver/internal/config"
	"github.com/hydrokb/resolver/internal/logger"
	"github.com/hydrokb/resolver/knowledgebase"
	"github.com/hydrokb/resolver/pipeline"
	"github.com/hydrokb/resolver/rules"
)

const maxBodyBytes = 4 << 20

type Server struct {
	db             *sql.DB
	manager        *knowledgebase.Manager
	router         *chi.Mux
	requestTimeout time.Duration
}

// NewServer connects to the database when one is configured, loads every
// knowledge base and registers the configured knowledge base file
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	manager := knowledgebase.NewManager(db, knowledgebase.Options{
		Cache: rules.CacheConfig{TTL: cfg.Resolver.CacheTTL},
		Resolver: []pipeline.Option{
			pipeline.WithMaxCombinations(cfg.Resolver.MaxCombinations),
			pipeline.WithWorkers(cfg.Resolver.Workers),
			pipeline.WithExemptComponents(cfg.Resolver.ExemptComponents),
			pipeline.WithDataKeys(cfg.Resolver.DataKeys),
		},
	})

	if db != nil {
		logger.Info("loading knowledge bases from database")
		if err := manager.LoadAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to load knowledge bases: %w", err)
		}
	}
	if cfg.KnowledgeBase.File != "" {
		if _, err := manager.RegisterFile(ctx, cfg.KnowledgeBase.File); err != nil {
			return nil, fmt.Errorf("failed to register knowledge base file: %w", err)
		}
	}

	names := make([]string, 0)
	for _, kb := range manager.List() {
		names = append(names, kb.Name)
	}
	logger.Info("knowledge bases ready", "count", len(names), "names", names)

	return NewServerWithManager(db, manager, cfg.Server.RequestTimeout), nil
}

// NewServerWithDB builds a server over an open database with default resolver settings
func NewServerWithDB(db *sql.DB) (*Server, error) {
	manager := knowledgebase.NewManager(db, knowledgebase.Options{Cache: rules.DefaultCacheConfig()})
	if err := manager.LoadAll(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load knowledge bases: %w", err)
	}
	return NewServerWithManager(db, manager, 0), nil
}

// NewServerWithManager wires the routes over an existing manager. db may be nil.
func NewServerWithManager(db *sql.DB, manager *knowledgebase.Manager, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	s := &Server{
		db:             db,
		manager:        manager,
		requestTimeout: requestTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Resolution
	r.Post("/api/v1/resolve", s.handleResolve)

	// Knowledge base management
	r.Route("/api/v1/kbs", func(r chi.Router) {
		r.Get("/", s.handleListKnowledgeBases)
		r.Post("/", s.handleCreateKnowledgeBase)
		r.Post("/import", s.handleImportKnowledgeBase)

		r.Route("/{kb}", func(r chi.Router) {
			r.Get("/", s.handleGetKnowledgeBase)
			r.Delete("/", s.handleDeleteKnowledgeBase)
			r.Post("/reload", s.handleReloadKnowledgeBase)
			r.Post("/evaluate", s.handleEvaluate)

			// Catalog management
			r.Get("/algorithms", s.handleListAlgorithms)
			r.Put("/algorithms/{algorithmId}", s.handlePutAlgorithm)
			r.Get("/components/{componentId}", s.handleGetComponent)
			r.Put("/components/{componentId}", s.handlePutComponent)
			r.Get("/overrides", s.handleListOverrides)
			r.Post("/overrides", s.handleAddOverride)
			r.Put("/overrides", s.handleReplaceOverrides)

			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the 4xx/5xx counters
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.HTTPStatus(status)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:             "healthy",
		KnowledgeBases:     len(s.manager.List()),
		ResolutionFailures: logger.ResolutionFailures.Load(),
		RuleErrors:         logger.RuleErrors.Load(),
		ClientErrors:       logger.Total4xxErrors.Load(),
		ServerErrors:       logger.Total5xxErrors.Load(),
	}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		resp.Database = "ok"
	}
	respondJSON(w, http.StatusOK, resp)
}

// Resolution handler
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.KnowledgeBase == "" {
		respondError(w, http.StatusBadRequest, "kb is required", nil)
		return
	}
	if req.Conditions == nil {
		respondError(w, http.StatusBadRequest, "conditions are required", nil)
		return
	}
	if err := knowledgebase.ValidateScenario(req.Conditions, req.ExistingData); err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario", err)
		return
	}

	resolver, err := s.manager.Resolver(req.KnowledgeBase)
	if err != nil {
		respondError(w, http.StatusNotFound, "knowledge base not found", err)
		return
	}

	start := time.Now()
	p, err := resolver.Resolve(r.Context(), pipeline.Request{
		Conditions:   req.Conditions,
		Processes:    req.Processes,
		ExistingData: req.ExistingData,
		Purpose:      req.Purpose,
	})
	if err != nil {
		respondResolutionError(w, err)
		return
	}
	if !req.Trace {
		p.Trace = nil
	}

	respondJSON(w, http.StatusOK, ResolveResponse{
		Pipeline:       p,
		ResolutionTime: time.Since(start).String(),
	})
}

// Rule evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Conditions == nil {
		respondError(w, http.StatusBadRequest, "conditions are required", nil)
		return
	}
	if req.Category != rules.CategoryProcess && req.Category != rules.CategoryAlgorithm {
		respondError(w, http.StatusBadRequest, "category must be process or algorithm", nil)
		return
	}
	if err := knowledgebase.ValidateScenario(req.Conditions, nil); err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario", err)
		return
	}

	engine := kb.Engine()
	scenario := rules.NewScenario(req.Conditions)
	start := time.Now()

	var results []*rules.EvaluationResult
	if len(req.Rules) > 0 {
		results = make([]*rules.EvaluationResult, 0, len(req.Rules))
		for _, ruleID := range req.Rules {
			result, err := engine.EvaluateRule(ruleID, scenario)
			if result == nil {
				// Continue on error (might be rule not found)
				logger.Warn("rule evaluation skipped", "kb", kb.Name, "rule", ruleID, "error", err)
				continue
			}
			results = append(results, result)
		}
	} else {
		var err error
		results, err = engine.EvaluateAll(req.Category, scenario)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
			return
		}
	}

	resp := EvaluateResponse{Results: results}
	if req.Category == rules.CategoryProcess {
		resp.Selected = rules.SelectProcesses(results)
	}
	resp.EvaluationTime = time.Since(start).String()
	respondJSON(w, http.StatusOK, resp)
}

// List knowledge bases handler
func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	resp := KnowledgeBasesListResponse{KnowledgeBases: []KnowledgeBaseResponse{}}
	for _, kb := range s.manager.List() {
		resp.KnowledgeBases = append(resp.KnowledgeBases, toKnowledgeBaseResponse(kb))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create knowledge base handler
func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req CreateKnowledgeBaseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := knowledgebase.ValidateName(req.Name); err != nil {
		respondError(w, http.StatusBadRequest, "invalid knowledge base name", err)
		return
	}
	if _, err := s.manager.Get(req.Name); err == nil {
		respondError(w, http.StatusConflict, "knowledge base already exists", nil)
		return
	}

	kb, err := s.manager.Create(r.Context(), req.Name, req.Purpose)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create knowledge base", err)
		return
	}
	respondJSON(w, http.StatusCreated, toKnowledgeBaseResponse(kb))
}

// Import handler: the body is a YAML knowledge base document
func (s *Server) handleImportKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	doc, err := catalog.ParseDocument(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid knowledge base document", err)
		return
	}
	if err := knowledgebase.ValidateDocument(doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid knowledge base document", err)
		return
	}
	if _, err := s.manager.Get(doc.Name); err == nil {
		respondError(w, http.StatusConflict, "knowledge base already exists", nil)
		return
	}

	var kb *knowledgebase.KnowledgeBase
	if s.db != nil {
		kb, err = s.manager.Import(r.Context(), doc)
	} else {
		kb, err = s.manager.Register(r.Context(), doc, "")
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to import knowledge base", err)
		return
	}
	respondJSON(w, http.StatusCreated, toKnowledgeBaseResponse(kb))
}

// Get knowledge base handler
func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toKnowledgeBaseResponse(kb))
}

// Delete knowledge base handler
func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "kb")
	if err := s.manager.Delete(r.Context(), name); err != nil {
		if errors.Is(err, knowledgebase.ErrNotFound) {
			respondError(w, http.StatusNotFound, "knowledge base not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete knowledge base", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload handler: rebuilds the knowledge base from its source and swaps it in
func (s *Server) handleReloadKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "kb")
	kb, err := s.manager.Reload(r.Context(), name)
	if err != nil {
		if errors.Is(err, knowledgebase.ErrNotFound) {
			respondError(w, http.StatusNotFound, "knowledge base not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to reload knowledge base", err)
		return
	}
	respondJSON(w, http.StatusOK, toKnowledgeBaseResponse(kb))
}

// List algorithms handler
func (s *Server) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"algorithms": kb.Resolver.Algorithms().Records(),
	})
}

// Put algorithm handler: binds an algorithm id to a process and a component
func (s *Server) handlePutAlgorithm(w http.ResponseWriter, r *http.Request) {
	var req AlgorithmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rec := catalog.AlgorithmRecord{
		ID:          chi.URLParam(r, "algorithmId"),
		ShortName:   req.ShortName,
		ProcessName: req.ProcessName,
		ComponentID: req.ComponentID,
	}
	if _, err := s.manager.PutAlgorithm(r.Context(), chi.URLParam(r, "kb"), rec); err != nil {
		respondCatalogError(w, "failed to store algorithm", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Get component handler
func (s *Server) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	meta, err := kb.Resolver.Components().Component(r.Context(), chi.URLParam(r, "componentId"))
	if err != nil {
		respondCatalogError(w, "failed to load component", err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// Put component handler
func (s *Server) handlePutComponent(w http.ResponseWriter, r *http.Request) {
	var req ComponentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	meta := catalog.ComponentMeta{
		ComponentID:    chi.URLParam(r, "componentId"),
		Role:           req.Role,
		Inputs:         req.Inputs,
		OptionalInputs: req.OptionalInputs,
		Outputs:        req.Outputs,
	}
	if _, err := s.manager.PutComponent(r.Context(), chi.URLParam(r, "kb"), meta); err != nil {
		respondCatalogError(w, "failed to store component", err)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// List overrides handler
func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	overrides, err := kb.Resolver.Components().EdgeOverrides(r.Context())
	if err != nil {
		respondCatalogError(w, "failed to load edge overrides", err)
		return
	}
	respondJSON(w, http.StatusOK, EdgeOverridesRequest{Overrides: overrides})
}

// Add override handler
func (s *Server) handleAddOverride(w http.ResponseWriter, r *http.Request) {
	var o catalog.EdgeOverride
	if err := decodeJSON(r, &o); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if _, err := s.manager.PutEdgeOverride(r.Context(), chi.URLParam(r, "kb"), o); err != nil {
		respondCatalogError(w, "failed to store edge override", err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// Replace overrides handler: an empty list disables overrides, null restores the defaults
func (s *Server) handleReplaceOverrides(w http.ResponseWriter, r *http.Request) {
	var req EdgeOverridesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	kb, err := s.manager.SetEdgeOverrides(r.Context(), chi.URLParam(r, "kb"), req.Overrides)
	if err != nil {
		respondCatalogError(w, "failed to replace edge overrides", err)
		return
	}
	overrides, err := kb.Resolver.Components().EdgeOverrides(r.Context())
	if err != nil {
		respondCatalogError(w, "failed to load edge overrides", err)
		return
	}
	respondJSON(w, http.StatusOK, EdgeOverridesRequest{Overrides: overrides})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = "rule-" + uuid.New().String()
	}

	rule, err := ruleFromRequest(req.ID, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	// Add rule (this validates and compiles it)
	if err := kb.Engine().AddRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	all, err := kb.Engine().AllRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: all}
	if resp.Rules == nil {
		resp.Rules = []*rules.Rule{}
	}
	if compileErrs := kb.Engine().CompileErrors(); len(compileErrs) > 0 {
		resp.CompileErrors = make(map[string]string, len(compileErrs))
		for id, err := range compileErrs {
			resp.CompileErrors[id] = err.Error()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	rule, err := kb.Engine().Rule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := ruleFromRequest(chi.URLParam(r, "ruleId"), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := kb.Engine().UpdateRule(rule); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.knowledgeBase(w, r)
	if !ok {
		return
	}

	if err := kb.Engine().DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) knowledgeBase(w http.ResponseWriter, r *http.Request) (*knowledgebase.KnowledgeBase, bool) {
	kb, err := s.manager.Get(chi.URLParam(r, "kb"))
	if err != nil {
		respondError(w, http.StatusNotFound, "knowledge base not found", err)
		return nil, false
	}
	return kb, true
}

func ruleFromRequest(id string, req RuleRequest) (*rules.Rule, error) {
	if err := knowledgebase.ValidateRuleID(id); err != nil {
		return nil, err
	}
	for _, atom := range req.Conditions {
		if err := knowledgebase.ValidateConditionName(atom.Variable); err != nil {
			return nil, err
		}
	}

	rule := &rules.Rule{
		ID:         id,
		Name:       req.Name,
		Category:   req.Category,
		Combinator: req.Combinator,
		Conditions: req.Conditions,
		Conclusion: req.Conclusion,
		Active:     true,
	}
	if rule.Name == "" {
		rule.Name = id
	}
	if rule.Combinator == "" && len(rule.Conditions) == 1 {
		rule.Combinator = rules.CombinatorNone
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	return rule, nil
}

func toKnowledgeBaseResponse(kb *knowledgebase.KnowledgeBase) KnowledgeBaseResponse {
	return KnowledgeBaseResponse{
		ID:         kb.ID,
		Name:       kb.Name,
		Purpose:    kb.Purpose,
		Source:     string(kb.Source),
		RuleCount:  kb.RuleCount,
		Algorithms: kb.Resolver.Algorithms().Len(),
		LoadedAt:   kb.LoadedAt,
	}
}

// Helper functions
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondCatalogError maps catalog write and lookup failures
func respondCatalogError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, knowledgebase.ErrNotFound):
		respondError(w, http.StatusNotFound, "knowledge base not found", err)
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, knowledgebase.ErrInvalid):
		respondError(w, http.StatusBadRequest, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// respondResolutionError maps a failed resolution to 422 with its stage.
// A bad request or a canceled context is not a resolution outcome.
func respondResolutionError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		respondError(w, http.StatusServiceUnavailable, "resolution interrupted", err)
		return
	}

	var rerr *pipeline.ResolutionError
	if !errors.As(err, &rerr) {
		respondError(w, http.StatusInternalServerError, "resolution failed", err)
		return
	}

	status := http.StatusUnprocessableEntity
	switch rerr.Stage {
	case pipeline.StageRequest:
		status = http.StatusBadRequest
	case pipeline.StageMetadata:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, ErrorResponse{
		Error:   "resolution failed",
		Details: rerr.Err.Error(),
		Stage:   string(rerr.Stage),
	})
}

func main() {
	configPath := flag.String("config", os.Getenv("RESOLVER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.ErrorSampleRate); err != nil {
		logger.Fatal("invalid log configuration", "error", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	server, err := NewServer(startCtx, cfg)
	cancelStart()
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	port := fmt.Sprintf("%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
