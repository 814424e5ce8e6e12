// Package storage persists named rule sets ("rulebooks").
//
// The engines never run inference. They keep the rule records a caller may
// reference by name instead of sending the rules inline, so the server and
// CLI can share one rule set across many calls. Each call still builds its
// own immutable rules.Store from the stored records.
//
// Two engines implement Engine:
//   - MemoryEngine: in-process map, for tests and ephemeral servers
//   - BadgerEngine: persistent BadgerDB storage
//
// Example Usage:
//
//	engine, err := storage.NewBadgerEngine("./data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	err = engine.Put(&storage.RuleSet{
//		Name:  "triangle",
//		Rules: records,
//	})
//
//	book, err := engine.Get("triangle")
//	if errors.Is(err, storage.ErrNotFound) {
//		// 404
//	}
package storage

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/orneryd/rulechain/pkg/rules"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidName   = errors.New("invalid rule set name")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
)

// RuleSet is a named, stored list of rule records.
type RuleSet struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Rules       []rules.Record `json:"rules"`
	// Checksum is the rules.ContentFingerprint of Rules, set on Put, so
	// a note-only edit changes it.
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine stores rule sets by name.
type Engine interface {
	// Put creates or replaces a rule set. CreatedAt is kept on replace.
	Put(rs *RuleSet) error
	Get(name string) (*RuleSet, error)
	// List returns every rule set sorted by name.
	List() ([]*RuleSet, error)
	Delete(name string) error
	Close() error
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateName checks that name can be used as a rule set key.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// prepare validates rs and stamps checksum and times. prev is the stored
// version being replaced, if any.
func prepare(rs *RuleSet, prev *RuleSet, now time.Time) (*RuleSet, error) {
	if rs == nil {
		return nil, ErrInvalidData
	}
	if err := ValidateName(rs.Name); err != nil {
		return nil, err
	}
	out := rs.clone()
	out.Checksum = rules.ContentFingerprint(rules.ToRules(out.Rules))
	out.CreatedAt = now
	if prev != nil {
		out.CreatedAt = prev.CreatedAt
	}
	out.UpdatedAt = now
	return out, nil
}

func (rs *RuleSet) clone() *RuleSet {
	out := *rs
	out.Rules = make([]rules.Record, len(rs.Rules))
	for i, r := range rs.Rules {
		r.Premise = append([]string(nil), r.Premise...)
		out.Rules[i] = r
	}
	return &out
}
