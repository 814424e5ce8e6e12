package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/rulechain/pkg/cache"
	"github.com/orneryd/rulechain/pkg/fact"
	"github.com/orneryd/rulechain/pkg/graph"
	"github.com/orneryd/rulechain/pkg/inference"
	"github.com/orneryd/rulechain/pkg/pool"
	"github.com/orneryd/rulechain/pkg/rules"
	"github.com/orneryd/rulechain/pkg/storage"
)

// Modes label metrics and cache keys.
const (
	modeForward  = "forward"
	modeBackward = "backward"
	modeTrace    = "trace"
	modeAnalyze  = "analyze"
)

// =============================================================================
// Response Types
// =============================================================================

// ForwardResponse is the forward engine result plus its conclusion text.
type ForwardResponse struct {
	*inference.ForwardResult
	Conclusion string `json:"conclusion"`
}

// BackwardResponse is the backward engine result plus its conclusion text.
type BackwardResponse struct {
	*inference.BackwardResult
	Conclusion string `json:"conclusion"`
}

// GraphResponse carries the graph model and its DOT rendering, base64
// encoded in Image.
type GraphResponse struct {
	Success      bool         `json:"success"`
	Kind         graph.Kind   `json:"kind"`
	Nodes        []graph.Node `json:"nodes"`
	Edges        []graph.Edge `json:"edges"`
	NodeCount    int          `json:"node_count"`
	EdgeCount    int          `json:"edge_count"`
	LayoutMethod string       `json:"layout_method"`
	LayoutEngine string       `json:"layout_engine"`
	Format       string       `json:"format"`
	Image        string       `json:"image"`
}

// AnalyzeResponse bundles both engines and both graphs.
type AnalyzeResponse struct {
	Success  bool              `json:"success"`
	Forward  *ForwardResponse  `json:"forward"`
	Backward *BackwardResponse `json:"backward"`
	FPG      *GraphResponse    `json:"fpg"`
	RPG      *GraphResponse    `json:"rpg"`
}

// =============================================================================
// Inference Handlers
// =============================================================================

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	s.runInference(w, r, modeForward, func(ctx context.Context, store *rules.Store, initial, goals fact.Set) (any, string, error) {
		res, err := inference.Forward(ctx, store, initial, goals)
		if err != nil {
			return nil, "", err
		}
		return &ForwardResponse{ForwardResult: res, Conclusion: res.Summary()}, outcome(res.Success, res.Failure), nil
	})
}

func (s *Server) handleBackward(w http.ResponseWriter, r *http.Request) {
	s.runInference(w, r, modeBackward, func(ctx context.Context, store *rules.Store, initial, goals fact.Set) (any, string, error) {
		res, err := inference.Backward(ctx, store, initial, goals)
		if err != nil {
			return nil, "", err
		}
		return &BackwardResponse{BackwardResult: res, Conclusion: res.Summary()}, outcome(res.Success, res.Failure), nil
	})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	s.runInference(w, r, modeTrace, func(ctx context.Context, store *rules.Store, initial, goals fact.Set) (any, string, error) {
		res, err := inference.Trace(ctx, store, initial, goals)
		if err != nil {
			return nil, "", err
		}
		return res, outcome(res.Success, res.Failure), nil
	})
}

type inferenceFunc func(ctx context.Context, store *rules.Store, initial, goals fact.Set) (resp any, outcome string, err error)

// runInference is the shared request path of the three engine endpoints:
// decode, resolve rules, consult the cache, run under the call timeout.
func (s *Server) runInference(w http.ResponseWriter, r *http.Request, mode string, run inferenceFunc) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req InferenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	store, ok := s.resolveStore(w, req.RuleSource)
	if !ok {
		return
	}
	initial, goals, ok := s.factSets(w, req.InitialFacts, req.Goals, true)
	if !ok {
		return
	}

	key := cacheKey(mode, store, initial, goals, "")
	if s.serveCached(w, key) {
		return
	}

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	start := time.Now()
	resp, result, err := run(ctx, store, initial, goals)
	if err != nil {
		s.metrics.observeInference(mode, "error", time.Since(start))
		s.writeEngineError(w, r, mode, err)
		return
	}
	s.metrics.observeInference(mode, result, time.Since(start))

	s.cache.Put(key, resp)
	s.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Graph Handlers
// =============================================================================

func (s *Server) handleFPG(w http.ResponseWriter, r *http.Request) {
	s.runGraph(w, r, graph.KindFPG)
}

func (s *Server) handleRPG(w http.ResponseWriter, r *http.Request) {
	s.runGraph(w, r, graph.KindRPG)
}

func (s *Server) runGraph(w http.ResponseWriter, r *http.Request, kind graph.Kind) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req GraphRequest
	if !s.decode(w, r, &req) {
		return
	}
	store, ok := s.resolveStore(w, req.RuleSource)
	if !ok {
		return
	}
	initial, goals, ok := s.factSets(w, req.InitialFacts, req.TargetGoals, false)
	if !ok {
		return
	}
	layout := req.LayoutMethod
	if layout == "" {
		layout = graph.DefaultLayout
	}

	mode := string(kind)
	key := cacheKey(mode, store, initial, goals, layout)
	if s.serveCached(w, key) {
		return
	}

	start := time.Now()
	resp, err := buildGraph(kind, store, initial, goals, layout)
	if err != nil {
		s.metrics.observeInference(mode, "error", time.Since(start))
		s.writeEngineError(w, r, mode, err)
		return
	}
	s.metrics.observeInference(mode, "success", time.Since(start))

	s.cache.Put(key, resp)
	s.writeJSON(w, http.StatusOK, resp)
}

// buildGraph builds and renders one graph.
func buildGraph(kind graph.Kind, store *rules.Store, initial, goals fact.Set, layout string) (*GraphResponse, error) {
	var g *graph.Graph
	switch kind {
	case graph.KindFPG:
		g = graph.BuildFPG(store, initial, goals)
	case graph.KindRPG:
		g = graph.BuildRPG(store)
	default:
		return nil, fmt.Errorf("unknown graph kind %q", kind)
	}

	engine, err := graph.LayoutEngine(layout)
	if err != nil {
		return nil, err
	}

	renderer := graph.DOTRenderer{}
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)
	if err := renderer.Render(sb, g, layout); err != nil {
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}

	return &GraphResponse{
		Success:      true,
		Kind:         g.Kind,
		Nodes:        g.Nodes,
		Edges:        g.Edges,
		NodeCount:    g.NodeCount(),
		EdgeCount:    g.EdgeCount(),
		LayoutMethod: layout,
		LayoutEngine: engine,
		Format:       renderer.Format(),
		Image:        base64.StdEncoding.EncodeToString(sb.Bytes()),
	}, nil
}

// =============================================================================
// Analyze
// =============================================================================

// handleAnalyze runs forward, backward and both graphs concurrently. The
// Store is immutable, so the four goroutines share it.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	store, ok := s.resolveStore(w, req.RuleSource)
	if !ok {
		return
	}
	initial, goals, ok := s.factSets(w, req.InitialFacts, req.Goals, true)
	if !ok {
		return
	}
	layout := req.LayoutMethod
	if layout == "" {
		layout = graph.DefaultLayout
	}

	key := cacheKey(modeAnalyze, store, initial, goals, layout)
	if s.serveCached(w, key) {
		return
	}

	ctx, cancel := s.callContext(r.Context())
	defer cancel()

	start := time.Now()
	resp, err := analyze(ctx, store, initial, goals, layout)
	if err != nil {
		s.metrics.observeInference(modeAnalyze, "error", time.Since(start))
		s.writeEngineError(w, r, modeAnalyze, err)
		return
	}
	s.metrics.observeInference(modeAnalyze, outcome(resp.Success, nil), time.Since(start))

	s.cache.Put(key, resp)
	s.writeJSON(w, http.StatusOK, resp)
}

func analyze(ctx context.Context, store *rules.Store, initial, goals fact.Set, layout string) (*AnalyzeResponse, error) {
	resp := &AnalyzeResponse{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := inference.Forward(ctx, store, initial, goals)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		resp.Forward = &ForwardResponse{ForwardResult: res, Conclusion: res.Summary()}
		return nil
	})
	g.Go(func() error {
		res, err := inference.Backward(ctx, store, initial, goals)
		if err != nil {
			return fmt.Errorf("backward: %w", err)
		}
		resp.Backward = &BackwardResponse{BackwardResult: res, Conclusion: res.Summary()}
		return nil
	})
	g.Go(func() error {
		var err error
		resp.FPG, err = buildGraph(graph.KindFPG, store, initial, goals, layout)
		return err
	})
	g.Go(func() error {
		var err error
		resp.RPG, err = buildGraph(graph.KindRPG, store, initial, goals, layout)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	resp.Success = resp.Forward.Success && resp.Backward.Success
	return resp, nil
}

// =============================================================================
// Shared Steps
// =============================================================================

// decode reads and validates a request envelope, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := s.readJSON(r, v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request", problemsOf(err)...)
		return false
	}
	return true
}

// resolveStore builds the call's rule store from inline records or from the
// named rulebook.
func (s *Server) resolveStore(w http.ResponseWriter, src RuleSource) (*rules.Store, bool) {
	records := src.Rules
	if src.Rulebook != "" {
		book, err := s.books.Get(src.Rulebook)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("rulebook %q not found", src.Rulebook))
			return nil, false
		}
		if err != nil {
			s.logger.Error("load rulebook", zap.String("rulebook", src.Rulebook), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to load rulebook")
			return nil, false
		}
		records = book.Rules
	}

	if limit := s.config.Engine.MaxRules; limit > 0 && len(records) > limit {
		s.writeError(w, http.StatusBadRequest, "invalid rules",
			fmt.Sprintf("rules: at most %d rules allowed, got %d", limit, len(records)))
		return nil, false
	}

	store, err := rules.ParseRecords(records)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid rules", problemsOf(err)...)
		return nil, false
	}
	return store, true
}

// factSets normalizes the fact lists. With needGoals set an empty goal set
// (after dropping blanks) is rejected.
func (s *Server) factSets(w http.ResponseWriter, rawInitial, rawGoals []string, needGoals bool) (fact.Set, fact.Set, bool) {
	initial := fact.FromStrings(rawInitial)
	goals := fact.FromStrings(rawGoals)

	var problems []string
	if needGoals && goals.Len() == 0 {
		problems = append(problems, "goals: needs at least one non-blank fact")
	}
	if limit := s.config.Engine.MaxFacts; limit > 0 && initial.Len()+goals.Len() > limit {
		problems = append(problems, fmt.Sprintf("facts: at most %d facts allowed, got %d", limit, initial.Len()+goals.Len()))
	}
	if len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, "invalid facts", problems...)
		return nil, nil, false
	}
	return initial, goals, true
}

// callContext applies the per-call engine timeout.
func (s *Server) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.Engine.Timeout > 0 {
		return context.WithTimeout(parent, s.config.Engine.Timeout)
	}
	return context.WithCancel(parent)
}

// writeEngineError maps an engine error to a status. ErrInconsistent means an
// engine invariant broke and is logged loudly.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, mode string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("inference timed out",
			zap.String("mode", mode),
			zap.Duration("timeout", s.config.Engine.Timeout),
			zap.String("request_id", requestID(r)))
		s.writeError(w, http.StatusGatewayTimeout,
			fmt.Sprintf("%s timed out after %s", mode, s.config.Engine.Timeout))
	case errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, graph.ErrUnknownLayout):
		s.writeError(w, http.StatusBadRequest, "invalid request", "layout_method: "+err.Error())
	case errors.Is(err, inference.ErrInconsistent):
		s.logger.Error("engine invariant violated",
			zap.String("mode", mode),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal inference error", err.Error())
	default:
		s.logger.Error("inference failed",
			zap.String("mode", mode),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// serveCached answers from the result cache when it holds key.
func (s *Server) serveCached(w http.ResponseWriter, key string) bool {
	if !s.cache.Enabled() {
		return false
	}
	if v, ok := s.cache.Get(key); ok {
		s.metrics.cacheHits.Inc()
		w.Header().Set("X-Cache", "HIT")
		s.writeJSON(w, http.StatusOK, v)
		return true
	}
	s.metrics.cacheMisses.Inc()
	return false
}

func cacheKey(mode string, store *rules.Store, initial, goals fact.Set, layout string) string {
	return cache.Key(mode,
		rules.ContentFingerprint(store.Rules()),
		strings.Join(initial.Strings(), "\x00"),
		strings.Join(goals.Strings(), "\x00"),
		layout)
}

// outcome labels a result for metrics.
func outcome(success bool, failure *inference.Failure) string {
	switch {
	case success:
		return "success"
	case failure != nil:
		return string(failure.Kind)
	default:
		return "failure"
	}
}
