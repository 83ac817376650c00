package suppress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IDList accepts either a single string or a list of strings.
type IDList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = compact([]string{one})
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("resource ids must be a string or a list of strings")
	}
	*l = compact(many)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IDList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = compact([]string{node.Value})
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = compact(many)
		return nil
	}
	return fmt.Errorf("line %d: resource ids must be a string or a list of strings", node.Line)
}

func compact(ids []string) IDList {
	var out IDList
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Entry is one suppression. Without resource ids it suppresses the whole
// rule for the service.
type Entry struct {
	Service    string `json:"service" yaml:"service"`
	Rule       string `json:"rule" yaml:"rule"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
	ResourceID IDList `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	Resources  IDList `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ResourceIDs returns the union of resource_id and resources.
func (e Entry) ResourceIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range append(append([]string(nil), e.ResourceID...), e.Resources...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ServiceLevel reports whether the entry suppresses the rule as a whole.
func (e Entry) ServiceLevel() bool {
	return len(e.ResourceID) == 0 && len(e.Resources) == 0
}

// File is the on-disk suppression file.
type File struct {
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Suppressions []Entry        `json:"suppressions" yaml:"suppressions"`
}

// Load reads a suppression file. The format is YAML for .yaml and .yml
// files and JSON otherwise. An empty path yields an empty file.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suppression file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	f, err := Parse(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("parse suppression file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates suppression file content.
func Parse(data []byte, isYAML bool) (*File, error) {
	var f File
	var err error
	if isYAML {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every entry names a service and a rule.
func (f *File) Validate() error {
	var errs []error
	for i, e := range f.Suppressions {
		if strings.TrimSpace(e.Service) == "" {
			errs = append(errs, fmt.Errorf("suppression %d: service is required", i))
		}
		if strings.TrimSpace(e.Rule) == "" {
			errs = append(errs, fmt.Errorf("suppression %d: rule is required", i))
		}
	}
	return errors.Join(errs...)
}
