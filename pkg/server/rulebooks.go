package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/rulechain/pkg/audit"
	"github.com/orneryd/rulechain/pkg/rules"
	"github.com/orneryd/rulechain/pkg/storage"
)

// RulebookSummary describes a stored rule set without its rules.
type RulebookSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RuleCount   int       `json:"rule_count"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func summarizeRulebook(rs *storage.RuleSet) RulebookSummary {
	return RulebookSummary{
		Name:        rs.Name,
		Description: rs.Description,
		RuleCount:   len(rs.Rules),
		Checksum:    rs.Checksum,
		CreatedAt:   rs.CreatedAt,
		UpdatedAt:   rs.UpdatedAt,
	}
}

// handleRulebooks serves GET (list) and POST (create or replace) /rulebooks.
func (s *Server) handleRulebooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.books.List()
		if err != nil {
			s.logger.Error("list rulebooks", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to list rulebooks")
			return
		}
		out := make([]RulebookSummary, 0, len(books))
		for _, b := range books {
			out = append(out, summarizeRulebook(b))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"rulebooks": out,
			"count":     len(out),
		})

	case http.MethodPost:
		s.saveRulebook(w, r)

	default:
		w.Header().Set("Allow", "GET, POST")
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

func (s *Server) saveRulebook(w http.ResponseWriter, r *http.Request) {
	var req RulebookRequest
	if !s.decode(w, r, &req) {
		return
	}
	if limit := s.config.Engine.MaxRules; limit > 0 && len(req.Rules) > limit {
		s.writeError(w, http.StatusBadRequest, "invalid rules",
			fmt.Sprintf("rules: at most %d rules allowed, got %d", limit, len(req.Rules)))
		return
	}
	// Only rule sets that would build are stored.
	if _, err := rules.ParseRecords(req.Rules); err != nil {
		s.logAudit(r, audit.Change{
			Type:      audit.EventRulebookRejected,
			Rulebook:  req.Name,
			RuleCount: len(req.Rules),
			Err:       err,
		})
		s.writeError(w, http.StatusBadRequest, "invalid rules", problemsOf(err)...)
		return
	}

	status := http.StatusCreated
	event := audit.EventRulebookCreated
	var previous string
	if old, err := s.books.Get(req.Name); err == nil {
		status = http.StatusOK
		event = audit.EventRulebookReplaced
		previous = old.Checksum
	}

	err := s.books.Put(&storage.RuleSet{
		Name:        req.Name,
		Description: req.Description,
		Rules:       req.Rules,
	})
	if errors.Is(err, storage.ErrInvalidName) {
		s.writeError(w, http.StatusBadRequest, "invalid rulebook name", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("save rulebook", zap.String("rulebook", req.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save rulebook")
		return
	}

	saved, err := s.books.Get(req.Name)
	if err != nil {
		s.logger.Error("reload rulebook", zap.String("rulebook", req.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save rulebook")
		return
	}
	s.logger.Info("rulebook saved",
		zap.String("rulebook", saved.Name),
		zap.Int("rules", len(saved.Rules)),
		zap.String("checksum", saved.Checksum))
	s.logAudit(r, audit.Change{
		Type:             event,
		Rulebook:         saved.Name,
		Checksum:         saved.Checksum,
		PreviousChecksum: previous,
		RuleCount:        len(saved.Rules),
	})
	s.writeJSON(w, status, summarizeRulebook(saved))
}

// handleRulebook serves GET and DELETE /rulebooks/{name}.
func (s *Server) handleRulebook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	switch r.Method {
	case http.MethodGet:
		book, err := s.books.Get(name)
		if err != nil {
			s.writeStorageError(w, name, err)
			return
		}
		s.writeJSON(w, http.StatusOK, book)

	case http.MethodDelete:
		old, err := s.books.Get(name)
		if err != nil {
			s.writeStorageError(w, name, err)
			return
		}
		if err := s.books.Delete(name); err != nil {
			s.writeStorageError(w, name, err)
			return
		}
		s.logger.Info("rulebook deleted", zap.String("rulebook", name))
		s.logAudit(r, audit.Change{
			Type:             audit.EventRulebookDeleted,
			Rulebook:         name,
			PreviousChecksum: old.Checksum,
			RuleCount:        len(old.Rules),
		})
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"deleted": name,
		})

	default:
		w.Header().Set("Allow", "GET, DELETE")
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// logAudit journals a change made through the API. Journal failures are
// logged and never fail the request.
func (s *Server) logAudit(r *http.Request, c audit.Change) {
	if s.audit == nil {
		return
	}
	c.Source = audit.SourceHTTP
	c.IPAddress = getClientIP(r)
	c.RequestID = requestID(r)
	if err := s.audit.LogChange(c); err != nil {
		s.logger.Warn("audit journal write failed", zap.String("rulebook", c.Rulebook), zap.Error(err))
	}
}

// getClientIP prefers proxy headers over the socket address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); first != "" {
			return strings.TrimSpace(first)
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) writeStorageError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("rulebook %q not found", name))
	case errors.Is(err, storage.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, "invalid rulebook name", err.Error())
	default:
		s.logger.Error("rulebook storage", zap.String("rulebook", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "rulebook storage error")
	}
}
