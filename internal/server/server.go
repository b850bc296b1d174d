// Package server exposes the agent over HTTP: detection, order runs with
// checkout confirmation, history CRUD, preferences, and reorder suggestions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/detect"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
	"github.com/atakdnz/fridge-order-agent/internal/order"
	"github.com/atakdnz/fridge-order-agent/internal/policy"
	"github.com/atakdnz/fridge-order-agent/internal/store"
)

// runTimeout bounds a background order run end to end, including the wait
// for checkout confirmation.
const runTimeout = 30 * time.Minute

// Server wires the HTTP surface to the agent components.
type Server struct {
	cfg     config.Config
	store   *store.Store
	engine  *policy.Engine
	detect  *detect.Service
	tracker *order.Tracker
	flight  *order.Flight
	router  chi.Router
}

// New builds the server and its routes.
func New(cfg config.Config, st *store.Store, engine *policy.Engine, det *detect.Service) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		detect:  det,
		tracker: order.NewTracker(),
		flight:  order.NewFlight(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/detect", s.handleDetect)
		r.Post("/order", s.handleOrder)
		r.Get("/order/{id}", s.handleOrderStatus)
		r.Post("/order/{id}/confirm", s.handleOrderConfirm)
		r.Get("/history", s.handleHistoryList)
		r.Post("/history", s.handleHistoryAdd)
		r.Delete("/history", s.handleHistoryClear)
		r.Delete("/history/{id}", s.handleHistoryDelete)
		r.Get("/preferences", s.handlePreferencesGet)
		r.Put("/preferences", s.handlePreferencesPut)
		r.Get("/translations", s.handleTranslations)
		r.Get("/suggestions", s.handleSuggestions)
	})
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDetect accepts a multipart fridge image and returns the missing
// items. Without an image part the static development list is returned.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	imagePath := ""
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("image")
		if err == nil {
			defer file.Close()
			tmp, err := os.CreateTemp("", "fridge-*"+filepath.Ext(header.Filename))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			defer tmp.Close()
			if _, err := io.Copy(tmp, file); err != nil {
				os.Remove(tmp.Name())
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			imagePath = tmp.Name()
			defer os.Remove(imagePath)
		}
	}

	items, err := s.detect.MissingProducts(r.Context(), imagePath, prefs.DetectionThreshold)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing": items})
}

type orderRequest struct {
	Provider   string                `json:"provider"`
	Mode       string                `json:"mode"`
	Preference string                `json:"preference"`
	Items      []catalog.DesiredItem `json:"items"`
}

// handleOrder starts a background order run and returns 202 with its id.
// A run already in flight for the provider yields 409.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	prefs, err := s.store.GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = prefs.PreferredProvider
	}
	provider, err := catalog.ParseProvider(providerName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = prefs.DefaultMode
	}
	if mode != "smart" && mode != "simple" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid mode %q", mode))
		return
	}

	items := req.Items
	if len(items) == 0 {
		items, err = s.detect.MissingProducts(r.Context(), "", prefs.DetectionThreshold)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("nothing to order"))
		return
	}

	if !s.flight.TryAcquire(provider) {
		writeError(w, http.StatusConflict, fmt.Errorf("an order is already running for %s", provider))
		return
	}

	adapter, err := catalog.New(provider, s.cfg, s.engine, s.store)
	if err != nil {
		s.flight.Release(provider)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.engine.SetInstructions(prefs.CustomInstructions)

	orch := order.New(adapter)
	id := s.tracker.Create(provider, orch)
	orch.OnAwaitConfirm = func() {
		s.tracker.SetStatus(id, order.StatusAwaiting)
	}

	go s.runOrder(id, provider, adapter, orch, items, mode == "smart", req.Preference)

	logging.Server("order run %s started for %s (%d items)", id, provider, len(items))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": order.StatusRunning})
}

func (s *Server) runOrder(id string, provider catalog.Provider, adapter catalog.Adapter, orch *order.Orchestrator, items []catalog.DesiredItem, smart bool, preference string) {
	defer s.flight.Release(provider)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if err := adapter.Start(ctx); err != nil {
		s.tracker.Finish(id, nil, fmt.Errorf("start browser: %w", err))
		return
	}
	defer adapter.Close()

	results, err := orch.Run(ctx, items, smart, preference)
	s.tracker.Finish(id, results, err)
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.tracker.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown order run"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleOrderConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown order run"))
		return
	}
	if run.Status != order.StatusAwaiting {
		writeError(w, http.StatusConflict, fmt.Errorf("run is %s, not awaiting confirmation", run.Status))
		return
	}
	s.tracker.Confirm(id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "confirmed"})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.store.GetHistory(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

type historyAddRequest struct {
	Date  string         `json:"date"`
	Items map[string]int `json:"items"`
}

func (s *Server) handleHistoryAdd(w http.ResponseWriter, r *http.Request) {
	var req historyAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Date == "" {
		req.Date = time.Now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q, want YYYY-MM-DD", req.Date))
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("items must not be empty"))
		return
	}

	id, err := s.store.AddHistory(req.Date, req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearHistory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid history id"))
		return
	}
	deleted, err := s.store.DeleteHistory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errors.New("no such history record"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
}

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	current, err := s.store.GetPreferences()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Decode over the current row so omitted fields keep their values.
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if current.PreferredProvider != "" {
		if _, err := catalog.ParseProvider(current.PreferredProvider); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if current.DetectionThreshold < 0 || current.DetectionThreshold > 1 {
		writeError(w, http.StatusBadRequest, errors.New("detection_threshold must be in [0,1]"))
		return
	}
	if err := s.store.SetPreferences(current); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, detect.SearchTerms)
}

// handleSuggestions runs history analysis and returns reorder proposals.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetHistory(1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusOK, policy.Analysis{Suggestions: []policy.Suggestion{}})
		return
	}

	contextBlock := s.store.HistoryContext(10)
	analysis := s.engine.AnalyzeHistory(r.Context(), contextBlock, detect.SearchTerms)
	if analysis.Suggestions == nil {
		analysis.Suggestions = []policy.Suggestion{}
	}
	writeJSON(w, http.StatusOK, analysis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Server("write response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
