// Package httpapi serves the backtest results API: stored results, on-demand
// per-symbol runs, and the symbol universe.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/domain"
	"kestrel/internal/store"
	"kestrel/internal/validate"
)

// Server serves the results HTTP API. It runs backtests and historical
// validations on demand and reads stored artifacts through the store
// interfaces.
type Server struct {
	engine     *backtest.Engine
	source     backtest.FrameSource
	results    store.ResultStore
	bars       store.BarStore
	validator  *validate.Validator
	summaryDir string
	log        *slog.Logger
}

// NewServer creates a results API server. summaryDir is where validation
// summaries are written and listed.
func NewServer(engine *backtest.Engine, source backtest.FrameSource, results store.ResultStore, bars store.BarStore, validator *validate.Validator, summaryDir string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:     engine,
		source:     source,
		results:    results,
		bars:       bars,
		validator:  validator,
		summaryDir: summaryDir,
		log:        log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/results", s.handleLatestResults)
	mux.HandleFunc("GET /api/results/{symbol}", s.handleSymbolResults)
	mux.HandleFunc("POST /api/backtest/{symbol}", s.handleBacktest)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/historical/status", s.handleValidationStatus)
	mux.HandleFunc("POST /api/historical/run", s.handleValidationRun)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.results.LatestResults(r.Context())
	if err != nil {
		s.log.Error("listing latest results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []backtest.SymbolResult{}
	}
	writeJSON(w, http.StatusOK, ResultsResponse{Results: results})
}

func (s *Server) handleSymbolResults(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	results, err := s.results.ListResults(r.Context(), symbol)
	if err != nil {
		s.log.Error("listing results", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no results for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, ResultsResponse{Results: results})
}

// handleBacktest runs a fresh backtest for one symbol, stores the result,
// and returns it. A failed run is still stored and returned, with an
// unprocessable-entity status.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))

	results := s.engine.RunBatch(r.Context(), []string{symbol}, s.source)
	res, ok := results[symbol]
	if !ok {
		writeError(w, http.StatusInternalServerError, "backtest produced no result")
		return
	}

	if err := s.results.SaveResult(r.Context(), res); err != nil {
		s.log.Error("saving result", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save result")
		return
	}

	status := http.StatusOK
	if res.Status != backtest.StatusOK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// handleValidationStatus reports the newest stored validation summary and the
// total summary count.
func (s *Server) handleValidationStatus(w http.ResponseWriter, r *http.Request) {
	latest, count, err := validate.LatestSummary(s.summaryDir)
	if err != nil {
		s.log.Error("listing validation summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list validation summaries")
		return
	}
	writeJSON(w, http.StatusOK, ValidationStatusResponse{
		LatestValidation: latest,
		ValidationCount:  count,
	})
}

// handleValidationRun grades the model over a held-out window for the
// requested symbols (defaulting to every stored symbol), persists the batch
// summary, and returns it.
func (s *Server) handleValidationRun(w http.ResponseWriter, r *http.Request) {
	var req ValidationRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var start, end time.Time
	var err error
	if req.StartDate != "" {
		if start, err = time.Parse("2006-01-02", req.StartDate); err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
	}
	if req.EndDate != "" {
		if end, err = time.Parse("2006-01-02", req.EndDate); err != nil {
			writeError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		if symbols, err = s.bars.ListSymbols(r.Context(), domain.MarketUS); err != nil {
			s.log.Error("listing symbols for validation", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list symbols")
			return
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no symbols to validate")
		return
	}

	summary := s.validator.ValidateBatch(r.Context(), symbols, start, end)
	if _, err := validate.WriteSummary(s.summaryDir, summary); err != nil {
		s.log.Error("writing validation summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write validation summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.bars.ListSymbols(r.Context(), domain.MarketUS)
	if err != nil {
		s.log.Error("listing symbols", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, SymbolsResponse{Symbols: symbols})
}
