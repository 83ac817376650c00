package scan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LoadFiles reads saved scan results matching a doublestar pattern such as
// "scans/**/*.json". A file that cannot be read or parsed is returned as a
// result carrying Err, so aggregation can skip it without aborting.
func LoadFiles(pattern string) ([]*ScanResult, error) {
	base, rel := doublestar.SplitPattern(filepath.ToSlash(pattern))
	matches, err := doublestar.Glob(os.DirFS(base), rel)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scan files match %s", pattern)
	}
	sort.Strings(matches)

	results := make([]*ScanResult, 0, len(matches))
	for _, m := range matches {
		path := filepath.Join(base, filepath.FromSlash(m))
		results = append(results, loadFile(path))
	}
	return results, nil
}

func loadFile(path string) *ScanResult {
	service := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return &ScanResult{Service: service, Err: fmt.Errorf("read %s: %w", path, err)}
	}

	var r ScanResult
	if err := json.Unmarshal(data, &r); err != nil {
		return &ScanResult{Service: service, Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	if r.Service == "" {
		r.Service = service
	}
	slog.Debug("Loaded scan result", "path", path, "service", r.Service, "observations", len(r.Observations))
	return &r
}

// WriteFile saves a result so it can be re-reported later with LoadFiles.
func WriteFile(dir string, r *ScanResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scan result %s: %w", r.Service, err)
	}
	return os.WriteFile(filepath.Join(dir, r.Service+".json"), data, 0o644)
}
