package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestDebugf_GatedByVerbose(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	defer SetVerbose(false)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	SetVerbose(false)
	Debugf("raw reply %q", "=563412")
	if len(lines) != 0 {
		t.Fatalf("Debugf logged while quiet: %v", lines)
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("raw reply %q", "=563412")
	if len(lines) != 1 || lines[0] != `[debug] raw reply "=563412"` {
		t.Errorf("lines = %v", lines)
	}
}
