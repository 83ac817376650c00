package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/awsscreener/internal/aggregate"
	"github.com/ppiankov/awsscreener/internal/aws"
	"github.com/ppiankov/awsscreener/internal/config"
	"github.com/ppiankov/awsscreener/internal/report"
	"github.com/ppiankov/awsscreener/internal/rules"
	"github.com/ppiankov/awsscreener/internal/scan"
	"github.com/ppiankov/awsscreener/internal/suppress"
)

func s3Results(t *testing.T) []*scan.ScanResult {
	t.Helper()
	meta, err := rules.For("s3")
	if err != nil {
		t.Fatalf("load s3 rules: %v", err)
	}
	return []*scan.ScanResult{{
		Service: "s3",
		Rules:   meta,
		Observations: []scan.Observation{
			{Region: aws.GlobalRegion, ResourceID: "logs", RuleID: "BucketVersioning", Value: "Disabled"},
			{Region: aws.GlobalRegion, ResourceID: "data", RuleID: "BucketEncryption", Value: "none"},
		},
		ResourcesScanned: 2,
	}}
}

func TestProduce_WritesReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	outFlags = outputOptions{
		format:    "json",
		outputDir: filepath.Join(dir, "out"),
		historyDB: filepath.Join(dir, "history.db"),
	}
	t.Cleanup(func() { outFlags = outputOptions{} })
	info := runInfo{AccountID: "123456789012", Regions: []string{"us-east-1"}, Services: []string{"s3"}}

	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if err := produce(context.Background(), cmd, s3Results(t), info); err != nil {
		t.Fatalf("produce: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "out", report.APIFile)); err != nil {
		t.Fatalf("expected %s: %v", report.APIFile, err)
	}
	var env struct {
		Tool     string `json:"tool"`
		Findings []struct {
			ID string `json:"id"`
		} `json:"findings"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if env.Tool != "awsscreener" || len(env.Findings) != 2 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if stderr.Len() != 0 {
		t.Fatalf("first run should not print a delta, got %q", stderr.String())
	}

	stdout.Reset()
	if err := produce(context.Background(), cmd, s3Results(t)[:1], info); err != nil {
		t.Fatalf("second produce: %v", err)
	}
	if !strings.Contains(stderr.String(), "Since run") {
		t.Fatalf("expected history delta on second run, got %q", stderr.String())
	}
}

func TestProduce_SuppressionsApplied(t *testing.T) {
	dir := t.TempDir()
	sf := filepath.Join(dir, "suppress.yaml")
	content := "suppressions:\n  - service: s3\n    rule: BucketVersioning\n    resources: [logs]\n"
	if err := os.WriteFile(sf, []byte(content), 0o644); err != nil {
		t.Fatalf("write suppressions: %v", err)
	}
	outFlags = outputOptions{format: "json", outputDir: filepath.Join(dir, "out"), suppressFile: sf}
	t.Cleanup(func() { outFlags = outputOptions{} })

	var stdout bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	if err := produce(context.Background(), cmd, s3Results(t), runInfo{AccountID: "1"}); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if strings.Contains(stdout.String(), "BucketVersioning") {
		t.Fatalf("suppressed rule still reported: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "BucketEncryption") {
		t.Fatalf("active rule missing: %s", stdout.String())
	}
}

func TestProduce_NoUsableInput(t *testing.T) {
	outFlags = outputOptions{format: "none", outputDir: t.TempDir()}
	t.Cleanup(func() { outFlags = outputOptions{} })

	broken := []*scan.ScanResult{{Service: "s3"}}
	if err := produce(context.Background(), &cobra.Command{}, broken, runInfo{}); err == nil {
		t.Fatal("expected error when no result is usable")
	}
}

func TestProduce_TextFilter(t *testing.T) {
	outFlags = outputOptions{format: "text", outputDir: t.TempDir(), filter: "severity=High"}
	t.Cleanup(func() { outFlags = outputOptions{} })

	var stdout bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	if err := produce(context.Background(), cmd, s3Results(t), runInfo{AccountID: "1"}); err != nil {
		t.Fatalf("produce: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "Findings (1 of 2, #/findings?severity=High)") {
		t.Fatalf("expected filtered findings table, got:\n%s", out)
	}
	if strings.Contains(out, "BucketVersioning") {
		t.Fatalf("filtered rule still listed:\n%s", out)
	}
}

func TestProduce_InvalidFilter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	outFlags = outputOptions{format: "none", outputDir: dir, filter: "severity=Urgent"}
	t.Cleanup(func() { outFlags = outputOptions{} })

	if err := produce(context.Background(), &cobra.Command{}, s3Results(t), runInfo{}); err == nil {
		t.Fatal("expected error for unknown severity")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("report written despite invalid filter: %v", err)
	}
}

func TestBundleSource(t *testing.T) {
	if _, ok := bundleSource(outputOptions{}, nil).(report.EmbeddedBundle); !ok {
		t.Fatal("expected embedded bundle by default")
	}
	if b, ok := bundleSource(outputOptions{spaBundle: "web/dist"}, nil).(report.DirBundle); !ok || b.Path != "web/dist" {
		t.Fatalf("expected dir bundle, got %#v", b)
	}
	b, ok := bundleSource(outputOptions{spaBundle: "build", spaBuildCmd: "make web"}, nil).(report.CommandBundle)
	if !ok || b.Command != "make web" || b.Output != "build" {
		t.Fatalf("expected command bundle, got %#v", b)
	}
}

func TestRenderers_BetaAddsSPA(t *testing.T) {
	if n := len(renderers(outputOptions{}, aggregate.DefaultPolicy, nil)); n != 2 {
		t.Fatalf("expected 2 renderers, got %d", n)
	}
	if legacy := renderers(outputOptions{}, aggregate.DefaultPolicy, nil)[1].(*report.LegacyHTMLRenderer); legacy.SPA != "" {
		t.Fatalf("dashboard links into a report that is not written: %q", legacy.SPA)
	}
	rs := renderers(outputOptions{beta: true}, aggregate.DefaultPolicy, nil)
	if len(rs) != 3 || rs[2].Name() != "spa" {
		t.Fatalf("expected spa renderer last, got %d renderers", len(rs))
	}
	if legacy := rs[1].(*report.LegacyHTMLRenderer); legacy.SPA != report.SPAPath {
		t.Fatalf("expected dashboard links into %s, got %q", report.SPAPath, legacy.SPA)
	}
}

func TestTaskCount(t *testing.T) {
	checkers := aws.DefaultCheckers(aws.ScanConfig{})
	got := taskCount(checkers, []string{"us-east-1", "eu-west-1"})
	// s3 runs once, the seven regional services run per region.
	if got != 15 {
		t.Fatalf("expected 15 tasks, got %d", got)
	}
}

func TestObservedRegions(t *testing.T) {
	results := []*scan.ScanResult{
		{Service: "ec2", Observations: []scan.Observation{{Region: "eu-west-1"}, {Region: "us-east-1"}, {Region: "eu-west-1"}}},
		{Service: "bad", Err: os.ErrNotExist, Observations: []scan.Observation{{Region: "ap-south-1"}}},
		{Service: "s3", Observations: []scan.Observation{{Region: "global"}, {Region: ""}}},
	}
	got := strings.Join(observedRegions(results), ",")
	if got != "eu-west-1,us-east-1,global" {
		t.Fatalf("unexpected regions %q", got)
	}
}

func TestApplyScanDefaults(t *testing.T) {
	saved, savedCfg := scanFlags, cfg
	t.Cleanup(func() { scanFlags, cfg = saved, savedCfg })
	cmd := &cobra.Command{}
	addScanFlags(cmd)

	cfg = config.Config{IdleDays: 30, Concurrency: 9, Services: []string{"s3"}, Timeout: "2m"}
	if err := cmd.Flags().Set("idle-days", "3"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	applyScanDefaults(cmd)

	if scanFlags.idleDays != 3 {
		t.Fatalf("explicit flag overridden by config: %d", scanFlags.idleDays)
	}
	if scanFlags.concurrency != 9 || len(scanFlags.services) != 1 || scanFlags.timeout.Minutes() != 2 {
		t.Fatalf("config defaults not applied: %+v", scanFlags)
	}
}

func TestRunInit_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	initFlags.dir, initFlags.force = dir, false
	t.Cleanup(func() { initFlags.dir, initFlags.force = ".", false })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	for _, name := range []string{configFile, policyFile, suppressFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	if _, err := config.Load(dir); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	sf, err := suppress.Load(filepath.Join(dir, suppressFile))
	if err != nil {
		t.Fatalf("sample suppressions do not load: %v", err)
	}
	if len(sf.Suppressions) != 1 {
		t.Fatalf("expected 1 sample suppression, got %d", len(sf.Suppressions))
	}
	var policy map[string]any
	if err := json.Unmarshal([]byte(sampleIAMPolicy), &policy); err != nil {
		t.Fatalf("sample policy is not JSON: %v", err)
	}

	out.Reset()
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("second runInit: %v", err)
	}
	if strings.Count(out.String(), "Skipping") != 3 || strings.Contains(out.String(), "Created") {
		t.Fatalf("expected all files skipped, got %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(out.String(), "awsscreener dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
