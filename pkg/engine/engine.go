// Package engine defines the build/run delegate consumed by the
// orchestrator and provides a local implementation that creates case
// directories and drives per-case phases with bounded parallelism.
package engine

import (
	"context"
	"time"
)

// Flags carries the per-invocation options the orchestrator hands to the
// delegate. The delegate is a black box: the orchestrator only sees the
// boolean outcome of Run.
type Flags struct {
	UseExisting            bool
	AllowBaselineOverwrite bool
	SuppressInjectedFaults bool

	NoSetup bool
	NoBuild bool
	NoRun   bool

	Compare      bool
	Generate     bool
	BaselineName string
	BaselineRoot string

	ForceProcs   int
	ForceThreads int
	Walltime     time.Duration
	ParallelJobs int

	TestRoot string
	TestID   string
	Machine  string
	Compiler string
}

// Delegate builds and runs every test, reporting overall success.
type Delegate interface {
	Run(ctx context.Context, tests []string, flags Flags) bool
}
