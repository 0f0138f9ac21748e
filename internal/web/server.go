package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/yieldloop/engine/internal/logger"
	"github.com/yieldloop/engine/internal/state"
	"github.com/yieldloop/engine/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read endpoints over the engine's tables plus strategy
// registration. Execution itself never goes through HTTP; the scheduler is
// the only writer of execution rows.
type WebServer struct {
	router        *mux.Router
	store         *state.Store
	opportunities *state.OpportunityStore
	port          string
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, store *state.Store) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:        mux.NewRouter(),
		store:         store,
		opportunities: state.NewOpportunityStore(),
		port:          port,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/strategies", ws.handleListStrategies).Methods("GET")
	api.HandleFunc("/strategies", ws.handleCreateStrategy).Methods("POST")
	api.HandleFunc("/strategies/{id}", ws.handleGetStrategy).Methods("GET")
	api.HandleFunc("/strategies/{id}/executions", ws.handleListExecutions).Methods("GET")
	api.HandleFunc("/executions/recent", ws.handleRecentExecutions).Methods("GET")
	api.HandleFunc("/opportunities", ws.handleUpsertOpportunity).Methods("POST")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status including database reachability.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "yieldloop-engine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleListStrategies returns registered strategies
func (ws *WebServer) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 50)

	strategies, err := ws.store.ListStrategies(r.Context(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list strategies")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve strategies")
		return
	}

	response := map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleCreateStrategy registers a new strategy. Validation happens at the
// store boundary; an invalid strategy never reaches the table.
func (ws *WebServer) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var strategy types.Strategy
	if err := json.NewDecoder(r.Body).Decode(&strategy); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid strategy payload")
		return
	}

	id, err := ws.store.InsertStrategy(r.Context(), &strategy)
	if err != nil {
		webLogger.Warn().Err(err).Str("name", strategy.Name).Msg("Strategy registration rejected")
		ws.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	webLogger.Info().Int64("strategyID", id).Str("name", strategy.Name).Msg("Strategy registered")
	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"strategy_id": id,
	})
}

// handleGetStrategy returns a specific strategy by ID
func (ws *WebServer) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.parseID(w, r)
	if !ok {
		return
	}

	strategy, err := ws.store.GetStrategy(r.Context(), id)
	if err != nil {
		webLogger.Error().Err(err).Int64("strategyID", id).Msg("Failed to get strategy")
		ws.writeErrorResponse(w, http.StatusNotFound, "Strategy not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, strategy)
}

// handleListExecutions returns the execution log of one strategy
func (ws *WebServer) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := ws.parseID(w, r)
	if !ok {
		return
	}
	limit := ws.parseLimit(r, 20)

	executions, err := ws.store.ListExecutions(r.Context(), id, limit)
	if err != nil {
		webLogger.Error().Err(err).Int64("strategyID", id).Msg("Failed to list executions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve executions")
		return
	}

	response := map[string]interface{}{
		"strategy_id": id,
		"executions":  executions,
		"count":       len(executions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleRecentExecutions returns the most recent executions across strategies
func (ws *WebServer) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	executions, err := ws.store.ListRecentExecutions(r.Context(), limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list recent executions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve executions")
		return
	}

	response := map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleUpsertOpportunity refreshes one opportunity row. This is the feed
// endpoint the external indexer posts snapshots through.
func (ws *WebServer) handleUpsertOpportunity(w http.ResponseWriter, r *http.Request) {
	var opp types.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid opportunity payload")
		return
	}
	if opp.Protocol == "" || opp.Network == "" || opp.Asset == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "protocol, network and asset are required")
		return
	}

	id, err := ws.opportunities.UpsertOpportunity(r.Context(), opp)
	if err != nil {
		webLogger.Error().Err(err).Str("protocol", opp.Protocol).Msg("Failed to upsert opportunity")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to store opportunity")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"opportunity_id": id,
	})
}

// handleGetSummary returns engine-wide summary statistics
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetEngineSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get engine summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve engine summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid strategy ID")
		return 0, false
	}
	return id, true
}

func (ws *WebServer) parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
