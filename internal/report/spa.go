package report

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ppiankov/awsscreener/internal/finding"
)

// ErrBundleUnavailable means no SPA bundle could be loaded or built.
var ErrBundleUnavailable = errors.New("SPA bundle unavailable")

// DataGlobal is the window property holding the embedded document.
const DataGlobal = "__REPORT_DATA__"

// SPAPath is where the single-file report is written.
const SPAPath = "beta/index.html"

// MaxSPASize is the size above which the single-file report triggers a
// warning.
const MaxSPASize = 5 << 20

// Asset is one bundle file.
type Asset struct {
	Path string
	Data []byte
}

// Bundle is a prebuilt SPA: an HTML shell plus the scripts and styles to
// inline into it.
type Bundle struct {
	Shell   []byte
	Scripts []Asset
	Styles  []Asset
}

// BundleSource provides a Bundle.
type BundleSource interface {
	Load(ctx context.Context) (*Bundle, error)
}

//go:embed spa
var spaFS embed.FS

// EmbeddedBundle is the viewer compiled into the binary.
type EmbeddedBundle struct{}

// Load implements BundleSource.
func (EmbeddedBundle) Load(_ context.Context) (*Bundle, error) {
	sub, err := fs.Sub(spaFS, "spa")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleUnavailable, err)
	}
	return loadBundle(sub)
}

// DirBundle reads a prebuilt bundle directory such as a dist/ folder.
type DirBundle struct {
	Path string
}

// Load implements BundleSource.
func (b DirBundle) Load(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(b.Path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: bundle directory %s not found", ErrBundleUnavailable, b.Path)
	}
	return loadBundle(os.DirFS(b.Path))
}

// CommandBundle runs a build command, then reads its output directory.
type CommandBundle struct {
	Command string
	// Dir is the working directory of the command.
	Dir string
	// Output is the bundle directory, relative to Dir unless absolute.
	Output  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Load implements BundleSource.
func (b CommandBundle) Load(ctx context.Context) (*Bundle, error) {
	if b.Command == "" {
		return nil, fmt.Errorf("%w: no build command", ErrBundleUnavailable)
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if b.Logger != nil {
		b.Logger.Info("Building SPA bundle", "command", b.Command, "dir", b.Dir)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", b.Command)
	cmd.Dir = b.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: build command failed: %v: %s", ErrBundleUnavailable, err, tail(out, 512))
	}

	output := b.Output
	if output == "" {
		output = "dist"
	}
	if !filepath.IsAbs(output) {
		output = filepath.Join(b.Dir, output)
	}
	return DirBundle{Path: output}.Load(ctx)
}

func tail(b []byte, n int) []byte {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}

func loadBundle(fsys fs.FS) (*Bundle, error) {
	shell, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("%w: read index.html: %v", ErrBundleUnavailable, err)
	}
	b := &Bundle{Shell: shell}
	if b.Scripts, err = readAssets(fsys, "**/*.js"); err != nil {
		return nil, err
	}
	if b.Styles, err = readAssets(fsys, "**/*.css"); err != nil {
		return nil, err
	}
	if len(b.Scripts) == 0 {
		return nil, fmt.Errorf("%w: bundle has no scripts", ErrBundleUnavailable)
	}
	return b, nil
}

func readAssets(fsys fs.FS, pattern string) ([]Asset, error) {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: glob %s: %v", ErrBundleUnavailable, pattern, err)
	}
	sort.Strings(matches)
	assets := make([]Asset, 0, len(matches))
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrBundleUnavailable, m, err)
		}
		assets = append(assets, Asset{Path: m, Data: data})
	}
	return assets, nil
}

// EmbedJSON makes JSON safe to place inside an inline script element. The
// characters <, > and & and the line separators U+2028 and U+2029 are
// rewritten as \u escapes, which is only valid because they can only occur
// inside JSON strings.
func EmbedJSON(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		switch r {
		case '<':
			buf.WriteString(`\u003c`)
		case '>':
			buf.WriteString(`\u003e`)
		case '&':
			buf.WriteString(`\u0026`)
		case '\u2028':
			buf.WriteString(`\u2028`)
		case '\u2029':
			buf.WriteString(`\u2029`)
		default:
			buf.Write(data[i : i+size])
		}
		i += size
	}
	return buf.Bytes()
}

var (
	externalScript = regexp.MustCompile(`(?is)<script\b[^>]*\bsrc\s*=[^>]*>\s*</script\s*>`)
	stylesheetLink = regexp.MustCompile(`(?is)<link\b[^>]*\brel\s*=\s*["']?stylesheet["']?[^>]*>`)
	closeScript    = regexp.MustCompile(`(?i)</(script)`)
	closeStyle     = regexp.MustCompile(`(?i)</(style)`)
)

// SPARenderer writes a single self-contained HTML file: the bundle's
// scripts and styles inlined and the document embedded as a global.
type SPARenderer struct {
	Bundle BundleSource
	Logger *slog.Logger
	// Path overrides SPAPath.
	Path string
}

// Name implements Renderer.
func (r *SPARenderer) Name() string { return "spa" }

// Render implements Renderer.
func (r *SPARenderer) Render(ctx context.Context, doc *finding.Document) (Artifact, error) {
	src := r.Bundle
	if src == nil {
		src = EmbeddedBundle{}
	}
	bundle, err := src.Load(ctx)
	if err != nil {
		return Artifact{}, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode document: %w", err)
	}
	page := Assemble(bundle, raw)

	path := r.Path
	if path == "" {
		path = SPAPath
	}
	if len(page) > MaxSPASize && r.Logger != nil {
		r.Logger.Warn("Single-file report exceeds size budget", "bytes", len(page), "budget", MaxSPASize)
	}
	return Artifact{Files: []File{{Path: path, Data: page}}}, nil
}

// Assemble inlines bundle assets into its shell and embeds docJSON.
func Assemble(bundle *Bundle, docJSON []byte) []byte {
	shell := externalScript.ReplaceAll(bundle.Shell, nil)
	shell = stylesheetLink.ReplaceAll(shell, nil)

	var head bytes.Buffer
	for _, s := range bundle.Styles {
		head.WriteString("<style>\n")
		head.Write(closeStyle.ReplaceAll(s.Data, []byte(`<\/$1`)))
		head.WriteString("\n</style>\n")
	}

	var body bytes.Buffer
	body.WriteString("<script>window." + DataGlobal + " = ")
	body.Write(EmbedJSON(docJSON))
	body.WriteString(";</script>\n")
	for _, s := range bundle.Scripts {
		body.WriteString(`<script type="module">` + "\n")
		body.Write(closeScript.ReplaceAll(s.Data, []byte(`<\/$1`)))
		body.WriteString("\n</script>\n")
	}

	shell = insertBefore(shell, "</head>", head.Bytes())
	return insertBefore(shell, "</body>", body.Bytes())
}

func insertBefore(doc []byte, marker string, content []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(doc), []byte(marker))
	if i < 0 {
		if marker == "</head>" {
			return append(append([]byte(nil), content...), doc...)
		}
		return append(append([]byte(nil), doc...), content...)
	}
	out := make([]byte, 0, len(doc)+len(content))
	out = append(out, doc[:i]...)
	out = append(out, content...)
	return append(out, doc[i:]...)
}
