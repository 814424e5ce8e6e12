package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ruleFile is the document shape of a rule file. A bare list of records is
// accepted as well.
type ruleFile struct {
	Rules []Record `json:"rules" yaml:"rules"`
}

// LoadFile reads rule records from a JSON or YAML file. The format is
// picked from the extension; anything other than .yaml/.yml is read as JSON.
func LoadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	records, err := DecodeRecords(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

// DecodeRecords decodes either a {"rules": [...]} document or a bare list.
func DecodeRecords(data []byte, isYAML bool) ([]Record, error) {
	if isYAML {
		var list []Record
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		var doc ruleFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return doc.Rules, nil
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var list []Record
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var doc ruleFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}
