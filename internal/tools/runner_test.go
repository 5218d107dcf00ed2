package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/debugrelay/internal/testutil/testlog"
)

func TestExecRunnerReportsOutputAndExitCode(t *testing.T) {
	testlog.Start(t)
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "printf out; printf err >&2; exit 3")
	if err == nil || res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got code=%d err=%v", res.ExitCode, err)
	}
	if string(res.Stdout) != "out" || string(res.Stderr) != "err" {
		t.Fatalf("unexpected output stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if !strings.HasSuffix(err.Error(), ": err") {
		t.Fatalf("stderr not in error: %v", err)
	}

	res, err = ExecRunner{}.Run(context.Background(), "sh", "-c", "printf ok")
	if err != nil || res.ExitCode != 0 || string(res.Stdout) != "ok" {
		t.Fatalf("unexpected success result %+v err=%v", res, err)
	}
}

func TestExecRunnerMissingProgram(t *testing.T) {
	testlog.Start(t)
	res, err := ExecRunner{}.Run(context.Background(), "debugrelay-no-such-program")
	if err == nil || res.ExitCode != ExitNotStarted {
		t.Fatalf("expected %d, got code=%d err=%v", ExitNotStarted, res.ExitCode, err)
	}
}

func TestExecRunnerHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := (ExecRunner{}).Run(ctx, "sleep", "5"); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("command outlived its context")
	}
}
