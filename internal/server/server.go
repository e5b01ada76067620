// Package server exposes validation runs and the evidence ledger over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"etlverify/internal/core"
	"etlverify/internal/ledger"
	"etlverify/internal/metrics"
)

// Run states.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
)

const maxPlanBytes = 1 << 20

// DefaultMaxRuns is the number of run records kept when no limit is set.
const DefaultMaxRuns = 1000

type run struct {
	ID        string          `json:"id"`
	Plan      string          `json:"plan"`
	Status    string          `json:"status"`
	Submitted time.Time       `json:"submitted"`
	Result    *core.RunResult `json:"result,omitempty"`

	seq uint64
}

func (r *run) finished() bool {
	switch r.Status {
	case StatusPassed, StatusFailed, StatusError:
		return true
	}
	return false
}

type Server struct {
	runner  *core.Runner
	ledger  *ledger.Ledger
	metrics *metrics.Metrics
	logger  *zap.Logger

	allowLocal bool
	maxRuns    int

	mu      sync.RWMutex
	runs    map[string]*run
	nextSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLocalAccess accepts plans that run their job on the server host or read
// files from its disk. Without it such plans are refused with 403.
func WithLocalAccess() Option {
	return func(s *Server) { s.allowLocal = true }
}

// WithMaxRuns bounds the number of run records kept in memory. When the bound
// is exceeded the oldest finished runs are dropped; pending and running ones
// are kept. n <= 0 means DefaultMaxRuns.
func WithMaxRuns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRuns = n
		}
	}
}

// New creates a server. ledger and metrics may be nil; their routes then
// answer 503.
func New(runner *core.Runner, l *ledger.Ledger, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		ledger:  l,
		metrics: m,
		logger:  logger,
		maxRuns: DefaultMaxRuns,
		runs:    make(map[string]*run),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
	})
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/verify", s.handleVerifyLedger)
		r.Get("/blocks", s.handleLedgerBlocks)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Shutdown stops accepting the results of new runs, cancels the running ones
// and waits for them until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// POST /runs -> submit a YAML plan; the run executes in the background.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPlanBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if len(data) > maxPlanBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "plan too large")
		return
	}
	plan, err := core.ParsePlanFor(data, s.runner.DefaultTransport)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan: "+err.Error())
		return
	}
	if !s.allowLocal && plan.UsesLocalHost() {
		writeError(w, http.StatusForbidden, "plan runs on or reads from the server host; local access is disabled")
		return
	}
	if s.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	rn := &run{ID: uuid.NewString(), Plan: plan.Name, Status: StatusPending, Submitted: time.Now().UTC()}
	s.mu.Lock()
	s.nextSeq++
	rn.seq = s.nextSeq
	s.runs[rn.ID] = rn
	s.evictLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(rn.ID, plan)

	writeJSON(w, http.StatusAccepted, map[string]string{"id": rn.ID, "status": StatusPending})
}

// evictLocked drops the oldest finished runs until at most maxRuns remain.
func (s *Server) evictLocked() {
	excess := len(s.runs) - s.maxRuns
	if excess <= 0 {
		return
	}
	var done []*run
	for _, rn := range s.runs {
		if rn.finished() {
			done = append(done, rn)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].seq < done[j].seq })
	for i := 0; i < excess && i < len(done); i++ {
		delete(s.runs, done[i].ID)
	}
}

func (s *Server) execute(id string, plan *core.Plan) {
	defer s.wg.Done()
	s.setStatus(id, StatusRunning, nil)

	res, err := s.runner.RunWithID(s.ctx, id, plan)
	status := StatusFailed
	switch {
	case err != nil:
		status = StatusError
	case res.Passed:
		status = StatusPassed
	}
	s.setStatus(id, status, res)
}

func (s *Server) setStatus(id, status string, res *core.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rn, ok := s.runs[id]; ok {
		rn.Status = status
		if res != nil {
			rn.Result = res
		}
	}
}

// GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.RLock()
	rn, ok := s.runs[id]
	var snapshot run
	if ok {
		snapshot = *rn
	}
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GET /runs
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := make([]run, 0, len(s.runs))
	for _, rn := range s.runs {
		list = append(list, run{ID: rn.ID, Plan: rn.Plan, Status: rn.Status, Submitted: rn.Submitted, seq: rn.seq})
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	writeJSON(w, http.StatusOK, list)
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "no ledger configured")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "blocks": s.ledger.Len()})
}

// GET /ledger/blocks[?run=<id>]
func (s *Server) handleLedgerBlocks(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "no ledger configured")
		return
	}
	runID := r.URL.Query().Get("run")
	blocks := s.ledger.Blocks()
	out := make([]ledger.Block, 0, len(blocks))
	for _, b := range blocks {
		if runID == "" || b.RunID == runID {
			out = append(out, b)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return s.Shutdown(shutdownCtx)
}
