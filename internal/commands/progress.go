package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"

	"github.com/ppiankov/awsscreener/internal/aws"
)

// progress shows scan progress on a spinner when stderr is a terminal and
// as debug log records otherwise.
type progress struct {
	mu    sync.Mutex
	sp    *spinner.Spinner
	total int
	done  int
	fails int
}

func newProgress(w io.Writer, total int, enabled bool) *progress {
	p := &progress{total: total}
	if enabled && isTerminal(w) {
		p.sp = spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(w))
		p.sp.Suffix = fmt.Sprintf(" Scanning 0/%d", total)
		p.sp.Start()
	}
	return p
}

func (p *progress) update(ev aws.ScanProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Message {
	case "done":
		p.done++
	case "failed":
		p.done++
		p.fails++
	}
	slog.Debug("Scan progress", "service", ev.Service, "region", ev.Region, "status", ev.Message)
	if p.sp == nil {
		return
	}
	suffix := fmt.Sprintf(" Scanning %d/%d  %s %s", p.done, p.total, ev.Service, ev.Region)
	if p.fails > 0 {
		suffix += fmt.Sprintf("  (%d failed)", p.fails)
	}
	p.sp.Lock()
	p.sp.Suffix = suffix
	p.sp.Unlock()
}

func (p *progress) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sp != nil {
		p.sp.Stop()
		p.sp = nil
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
