// Package rules loads the embedded rule catalog of every supported service.
package rules

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/awsscreener/internal/scan"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

var (
	loadOnce sync.Once
	catalog  map[string]map[string]scan.RuleMeta
	loadErr  error
)

func load() {
	entries, err := dataFS.ReadDir("data")
	if err != nil {
		loadErr = fmt.Errorf("read rule catalog: %w", err)
		return
	}
	catalog = make(map[string]map[string]scan.RuleMeta, len(entries))
	for _, e := range entries {
		name := e.Name()
		data, err := dataFS.ReadFile(path.Join("data", name))
		if err != nil {
			loadErr = fmt.Errorf("read rules %s: %w", name, err)
			return
		}
		var rules map[string]scan.RuleMeta
		if err := yaml.Unmarshal(data, &rules); err != nil {
			loadErr = fmt.Errorf("parse rules %s: %w", name, err)
			return
		}
		catalog[strings.TrimSuffix(name, ".yaml")] = rules
	}
}

// For returns a copy of the rule metadata of a service.
func For(service string) (map[string]scan.RuleMeta, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	rules, ok := catalog[service]
	if !ok {
		return nil, fmt.Errorf("no rules for service %q", service)
	}
	out := make(map[string]scan.RuleMeta, len(rules))
	for id, m := range rules {
		out[id] = m
	}
	return out, nil
}

// Services returns the services with a rule catalog, sorted.
func Services() []string {
	loadOnce.Do(load)
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
