// Package audit keeps an append-only journal of rulebook changes.
//
// Every create, replace, rejected save and delete of a stored rulebook is
// written as one JSON line, with the rule checksum before and after, so the
// history of a shared rule set can be reconstructed even after the rulebook
// itself is gone. Inference calls are not journaled: they never change state.
//
// Example Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//		Enabled: true,
//		LogPath: "./data/audit.log",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.LogChange(audit.Change{
//		Type:      audit.EventRulebookCreated,
//		Rulebook:  "triangle",
//		Checksum:  book.Checksum,
//		RuleCount: len(book.Rules),
//		Source:    audit.SourceHTTP,
//	})
//
//	// Later: everything that happened to "triangle"
//	history, _ := audit.NewReader("./data/audit.log").History("triangle")
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit logger is closed")

// EventType categorizes journal entries.
type EventType string

const (
	EventRulebookCreated  EventType = "RULEBOOK_CREATED"
	EventRulebookReplaced EventType = "RULEBOOK_REPLACED"
	EventRulebookDeleted  EventType = "RULEBOOK_DELETED"
	// EventRulebookRejected records a save refused because the rules did
	// not validate.
	EventRulebookRejected EventType = "RULEBOOK_REJECTED"
)

// Sources of a change.
const (
	SourceHTTP = "http"
	SourceCLI  = "cli"
)

// Event is one journal entry. Entries are never rewritten.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	Rulebook         string `json:"rulebook"`
	Checksum         string `json:"checksum,omitempty"`
	PreviousChecksum string `json:"previous_checksum,omitempty"`
	RuleCount        int    `json:"rule_count"`

	// Actor information
	Source    string `json:"source"`
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether journaling is active
	Enabled bool

	// LogPath is the journal file, created with its directory if missing
	LogPath string

	// SyncWrites forces fsync after each entry
	SyncWrites bool
}

// Logger appends events to the journal. It is safe for concurrent use.
//
// A disabled Logger (or a nil *Logger) accepts and drops every event, so
// callers never need to check whether journaling is on.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger opens the journal at config.LogPath in append mode.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	if config.LogPath == "" {
		return nil, errors.New("audit log path required")
	}

	if err := os.MkdirAll(filepath.Dir(config.LogPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}

	return &Logger{
		writer: file,
		file:   file,
		config: config,
	}, nil
}

// NewLoggerWithWriter creates a logger with a custom writer (for testing).
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{
		writer: writer,
		config: config,
	}
}

// Log stamps event with a time and an id, when missing, and appends it.
func (l *Logger) Log(event Event) error {
	if l == nil || !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}
	return nil
}

// Change describes a rulebook change for LogChange.
type Change struct {
	Type             EventType
	Rulebook         string
	Checksum         string
	PreviousChecksum string
	RuleCount        int
	Source           string
	IPAddress        string
	RequestID        string
	// Err, when set, marks the change as failed and becomes the reason.
	Err error
}

// LogChange logs a rulebook change with the standard fields.
func (l *Logger) LogChange(c Change) error {
	event := Event{
		Type:             c.Type,
		Rulebook:         c.Rulebook,
		Checksum:         c.Checksum,
		PreviousChecksum: c.PreviousChecksum,
		RuleCount:        c.RuleCount,
		Source:           c.Source,
		IPAddress:        c.IPAddress,
		RequestID:        c.RequestID,
		Success:          c.Err == nil,
	}
	if c.Err != nil {
		event.Reason = c.Err.Error()
	}
	return l.Log(event)
}

// Close closes the journal file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// =============================================================================
// Reading
// =============================================================================

// Query selects journal entries. Zero fields match everything.
type Query struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []EventType
	Rulebook   string
	Success    *bool
	Limit      int
	Offset     int
}

// QueryResult holds audit query results.
type QueryResult struct {
	Events     []Event
	TotalCount int
	HasMore    bool
}

// Reader reads a journal file.
type Reader struct {
	path string
}

// NewReader creates an audit log reader.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the journal in write order. A missing file is an empty
// journal. Entries with mistyped fields are skipped and reading stops at
// a torn final line.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &QueryResult{Events: []Event{}}, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	events := []Event{}
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				continue
			}
			var syntaxErr *json.SyntaxError
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &syntaxErr) {
				// End of journal, or a torn last write. The decoder cannot
				// resync past either.
				break
			}
			return nil, fmt.Errorf("reading audit log: %w", err)
		}
		if q.matches(event) {
			events = append(events, event)
		}
	}

	total := len(events)
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			events = []Event{}
		} else {
			events = events[q.Offset:]
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}

	return &QueryResult{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}

func (q Query) matches(event Event) bool {
	if !q.StartTime.IsZero() && event.Timestamp.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && event.Timestamp.After(q.EndTime) {
		return false
	}
	if len(q.EventTypes) > 0 && !containsEventType(q.EventTypes, event.Type) {
		return false
	}
	if q.Rulebook != "" && event.Rulebook != q.Rulebook {
		return false
	}
	if q.Success != nil && event.Success != *q.Success {
		return false
	}
	return true
}

// History returns every entry for one rulebook, oldest first.
func (r *Reader) History(rulebook string) ([]Event, error) {
	res, err := r.Query(Query{Rulebook: rulebook})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

func containsEventType(types []EventType, t EventType) bool {
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}
