package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output without verbose: %q", buf.String())
	}
	New(&buf, true).Debug("shown", "service", "ec2")
	if !strings.Contains(buf.String(), "service=ec2") {
		t.Fatalf("expected debug record, got %q", buf.String())
	}
}
