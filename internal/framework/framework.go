// Package framework maps screener rules onto compliance framework controls.
package framework

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/awsscreener/internal/finding"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Control is one framework control backed by service.rule references.
type Control struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title"`
	Rules []string `yaml:"rules"`
}

// Framework is a set of controls.
type Framework struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Controls    []Control `yaml:"controls"`
}

var (
	loadOnce sync.Once
	builtin  map[string]Framework
	loadErr  error
)

func load() {
	builtin = make(map[string]Framework)
	loadErr = fs.WalkDir(dataFS, "data", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := dataFS.ReadFile(path)
		if err != nil {
			return err
		}
		var fw Framework
		if err := yaml.Unmarshal(data, &fw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := fw.validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		builtin[fw.ID] = fw
		return nil
	})
}

func (fw Framework) validate() error {
	if fw.ID == "" {
		return fmt.Errorf("framework id is required")
	}
	for _, c := range fw.Controls {
		for _, ref := range c.Rules {
			if _, _, ok := splitRef(ref); !ok {
				return fmt.Errorf("control %s: rule reference %q must be service.Rule", c.ID, ref)
			}
		}
	}
	return nil
}

func splitRef(ref string) (service, rule string, ok bool) {
	service, rule, ok = strings.Cut(ref, ".")
	return service, rule, ok && service != "" && rule != ""
}

// IDs returns the built-in framework ids, sorted.
func IDs() ([]string, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	ids := make([]string, 0, len(builtin))
	for id := range builtin {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a built-in framework by id.
func Get(id string) (Framework, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return Framework{}, loadErr
	}
	fw, ok := builtin[strings.ToLower(id)]
	if !ok {
		return Framework{}, fmt.Errorf("unknown framework %q", id)
	}
	return fw, nil
}

// Select resolves a list of framework ids. An empty list selects all.
func Select(ids []string) ([]Framework, error) {
	if len(ids) == 0 {
		all, err := IDs()
		if err != nil {
			return nil, err
		}
		ids = all
	}
	out := make([]Framework, 0, len(ids))
	for _, id := range ids {
		fw, err := Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, fw)
	}
	return out, nil
}

// Evaluate computes the control statuses of fw against the active view of
// doc. A control whose services were not scanned is NotAvailable; one with
// any active placement is NotCompliant.
func Evaluate(doc *finding.Document, fw Framework) finding.FrameworkReport {
	report := finding.FrameworkReport{ID: fw.ID, Name: fw.Name, Description: fw.Description}
	for _, c := range fw.Controls {
		res := finding.ControlResult{ID: c.ID, Title: c.Title, Rules: append([]string(nil), c.Rules...)}
		scanned := false
		for _, ref := range c.Rules {
			service, rule, _ := splitRef(ref)
			svc, ok := doc.Services[service]
			if !ok {
				continue
			}
			scanned = true
			if f, ok := svc.Summary[rule]; ok {
				res.Resources += f.Weight(finding.ViewActive)
			}
		}
		switch {
		case !scanned:
			res.Status = finding.ControlNotAvailable
			report.Summary.NotAvailable++
		case res.Resources > 0:
			res.Status = finding.ControlNotCompliant
			report.Summary.NotCompliant++
		default:
			res.Status = finding.ControlCompliant
			report.Summary.Compliant++
		}
		report.Controls = append(report.Controls, res)
	}
	return report
}
