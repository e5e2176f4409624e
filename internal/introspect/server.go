// Package introspect provides a read-only HTTP server for inspecting engine
// state: loaded accounts, per-task trading stats, recent bus events, and
// process health. It never accepts a request that mutates engine state.
package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stfutures/engine/internal/eventstore"
	"github.com/stfutures/engine/internal/pm"
	"github.com/stfutures/engine/internal/tr"
)

// AccountView is the subset of an account's fields safe to expose over HTTP
// (notably, no API secret).
type AccountView struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	StrategyName string `json:"strategy_name"`
	IsTestnet    bool   `json:"is_testnet"`
	Enabled      bool   `json:"enabled"`
}

// TaskView is one task's reported state.
type TaskView struct {
	UserID      string  `json:"user_id"`
	Symbol      string  `json:"symbol"`
	Mode        string  `json:"mode"`
	Position    string  `json:"position"`
	TotalProfit float64 `json:"total_profit"`
	WinCount    int     `json:"win_count"`
	LossCount   int     `json:"loss_count"`
	WinRate     float64 `json:"win_rate"`
}

// Server is the read-only introspection HTTP server: chi router, zerolog
// request logging, permissive CORS, and a gopsutil-backed health snapshot.
type Server struct {
	router   *chi.Mux
	http     *http.Server
	log      zerolog.Logger
	accounts *pm.Manager
	tasks    *tr.Manager
	store    eventstore.Store
	started  time.Time
}

// New builds the introspection server. accounts/tasks/store may be nil; each
// affected endpoint degrades to an empty/zero response rather than panicking.
func New(port int, accounts *pm.Manager, tasks *tr.Manager, store eventstore.Store, log zerolog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      log.With().Str("component", "introspect_server").Logger(),
		accounts: accounts,
		tasks:    tasks,
		store:    store,
		started:  time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(15 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.handleAccounts)
		r.Get("/tasks", s.handleTasks)
		r.Get("/events/recent", s.handleRecentEvents)
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving; it blocks until the server stops, mirroring
// net/http.Server.ListenAndServe's contract.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("starting introspection server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("introspection request")
	})
}

type healthResponse struct {
	Status       string  `json:"status"`
	UptimeSec    float64 `json:"uptime_seconds"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemPercent   float64 `json:"mem_percent"`
	AccountCount int     `json:"account_count"`
	TaskCount    int     `json:"task_count"`
}

// handleHealth reports process-level health (cpu.Percent + mem.VirtualMemory)
// alongside engine-level counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read cpu percent")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	memPercent := 0.0
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read memory stats")
	} else {
		memPercent = memStat.UsedPercent
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	accountCount, taskCount := 0, 0
	if s.accounts != nil {
		accountCount = len(s.accounts.Accounts())
	}
	if s.tasks != nil {
		taskCount = len(s.tasks.Tasks())
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		UptimeSec:    time.Since(s.started).Seconds(),
		CPUPercent:   cpuAvg,
		MemPercent:   memPercent,
		AccountCount: accountCount,
		TaskCount:    taskCount,
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	views := []AccountView{}
	if s.accounts != nil {
		for _, a := range s.accounts.Accounts() {
			views = append(views, AccountView{
				UserID:       a.UserID,
				Name:         a.Name,
				StrategyName: a.StrategyName,
				IsTestnet:    a.IsTestnet,
				Enabled:      a.Enabled(),
			})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	views := []TaskView{}
	if s.tasks != nil {
		for _, t := range s.tasks.Tasks() {
			views = append(views, TaskView{
				UserID:      t.UserID,
				Symbol:      t.Symbol,
				Mode:        string(t.Mode),
				Position:    string(t.Position),
				TotalProfit: t.Stats.TotalProfit,
				WinCount:    t.Stats.WinCount,
				LossCount:   t.Stats.LossCount,
				WinRate:     t.Stats.WinRate,
			})
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	events, err := s.store.QueryRecent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to query recent events")
		http.Error(w, "failed to query events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func parsePositiveInt(v string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err
	}
}
