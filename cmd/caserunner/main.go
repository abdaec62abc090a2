// caserunner executes a single phase of a test case. The orchestrator
// invokes it once per phase with --case and --phase; the phase body is a
// shell script inside the case directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/hpcweave/launchtest/pkg/cases"
)

const (
	exitOK          = 0
	exitPhaseFailed = 1
	exitInvalidArgs = 2
)

var (
	flagCaseDir string
	flagPhase   string
	flagTimeout time.Duration
)

func init() {
	pflag.StringVar(&flagCaseDir, "case", "", "path to the case directory")
	pflag.StringVar(&flagPhase, "phase", "", "phase to run (setup, build, run)")
	pflag.DurationVar(&flagTimeout, "timeout", 0, "abort the phase after this long; the run phase defaults to the case walltime")
}

func main() {
	pflag.Parse()
	os.Exit(run())
}

func run() int {
	if flagCaseDir == "" || flagPhase == "" {
		fmt.Fprintln(os.Stderr, "both --case and --phase are required")
		return exitInvalidArgs
	}
	switch flagPhase {
	case "setup", "build", "run":
	default:
		fmt.Fprintf(os.Stderr, "unknown phase %q\n", flagPhase)
		return exitInvalidArgs
	}

	c, err := cases.Open(flagCaseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "opening case:", err)
		return exitInvalidArgs
	}

	script := filepath.Join(c.Dir, flagPhase+".sh")
	if _, err := os.Stat(script); err != nil {
		fmt.Printf("case %s: no %s script, nothing to do\n", c.State.Name, flagPhase)
		return exitOK
	}

	timeout := flagTimeout
	if timeout == 0 && flagPhase == "run" {
		timeout = c.State.RunWalltime.Std()
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fmt.Printf("case %s: running %s phase\n", c.State.Name, flagPhase)
	cmd := exec.CommandContext(ctx, "bash", script)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s phase failed: %v\n", flagPhase, err)
		return exitPhaseFailed
	}
	return exitOK
}
