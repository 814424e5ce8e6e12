package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Record is the rule shape exchanged with clients and rule files.
//
// The premise is normally a single delimited expression in VeTrai
// ("A, B", "A ∧ B", "A AND B"). A structured Premise list, when present,
// takes precedence. VePhai holds the conclusion; Conclusion is accepted as
// an alias.
type Record struct {
	ID         string   `json:"id" yaml:"id"`
	VeTrai     string   `json:"veTrai,omitempty" yaml:"veTrai,omitempty"`
	VePhai     string   `json:"vePhai,omitempty" yaml:"vePhai,omitempty"`
	Note       string   `json:"note,omitempty" yaml:"note,omitempty"`
	Premise    []string `json:"premise,omitempty" yaml:"premise,omitempty"`
	Conclusion string   `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
}

// premiseSeparator matches every conjunction spelling found in rule sheets.
// "AND"/"and" only count as whole words so facts like "BAND" survive.
var premiseSeparator = regexp.MustCompile(`\s+(?:AND|and)\s+|∧|&&|&|\^|;|\||,`)

// SplitPremise splits a premise expression into its fact names.
func SplitPremise(expr string) []string {
	parts := premiseSeparator.Split(expr, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Rule converts the record into a Rule.
func (r Record) Rule() Rule {
	premise := r.Premise
	if len(premise) == 0 {
		premise = SplitPremise(r.VeTrai)
	}
	conclusion := r.VePhai
	if strings.TrimSpace(conclusion) == "" {
		conclusion = r.Conclusion
	}
	return New(r.ID, premise, conclusion, r.Note)
}

// ParseRecords converts records to rules and validates them as a set.
func ParseRecords(records []Record) (*Store, error) {
	return Build(ToRules(records))
}

// ToRules converts records to rules without validating.
func ToRules(records []Record) []Rule {
	out := make([]Rule, len(records))
	for i, rec := range records {
		out[i] = rec.Rule()
	}
	return out
}

// FromRule converts a rule back to its boundary shape.
func FromRule(r Rule) Record {
	premise := make([]string, len(r.Premise))
	for i, p := range r.Premise {
		premise[i] = string(p)
	}
	return Record{
		ID:     string(r.ID),
		VeTrai: strings.Join(premise, ", "),
		VePhai: string(r.Conclusion),
		Note:   r.Note,
	}
}

// UnmarshalJSON accepts numeric ids and the legacy spreadsheet keys
// "Ve Trai", "Ve Phai" and "Note".
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(keys ...string) (string, error) {
		for _, k := range keys {
			v, ok := raw[k]
			if !ok {
				continue
			}
			s, err := scalarString(v)
			if err != nil {
				return "", fmt.Errorf("field %q: %w", k, err)
			}
			return s, nil
		}
		return "", nil
	}

	var err error
	if r.ID, err = str("id", "ID", "Id"); err != nil {
		return err
	}
	if r.VeTrai, err = str("veTrai", "Ve Trai"); err != nil {
		return err
	}
	if r.VePhai, err = str("vePhai", "Ve Phai"); err != nil {
		return err
	}
	if r.Note, err = str("note", "Note"); err != nil {
		return err
	}
	if r.Conclusion, err = str("conclusion"); err != nil {
		return err
	}
	if v, ok := raw["premise"]; ok {
		if err := json.Unmarshal(v, &r.Premise); err != nil {
			return fmt.Errorf("field %q: %w", "premise", err)
		}
	}
	return nil
}

// scalarString renders a JSON string, number or null as a Go string.
func scalarString(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		err := json.Unmarshal(v, &s)
		return s, err
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return n.String(), nil
}
