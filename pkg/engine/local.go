package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hpcweave/launchtest/pkg/cases"
	"github.com/hpcweave/launchtest/pkg/suites"
	"github.com/hpcweave/launchtest/pkg/types"
)

// Test types that fail a phase on purpose. They exist to exercise the
// retry machinery; SuppressInjectedFaults makes them pass.
const (
	faultBuildTest = "TESTBUILDFAIL"
	faultRunTest   = "TESTRUNFAIL"
)

// Local creates case directories under the test root and runs the
// setup/build/run phases for each test, at most ParallelJobs at a time.
// Phases are delegated to an external runner binary when one is
// configured; without one a phase only maintains case state.
type Local struct {
	Catalog    *suites.Catalog
	RunnerPath string
	Log        *zap.Logger

	mu      sync.Mutex
	results map[string]types.TestStatus
}

func NewLocal(catalog *suites.Catalog, runnerPath string, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{Catalog: catalog, RunnerPath: runnerPath, Log: log}
}

// Results reports the per-test status of the most recent Run call.
func (e *Local) Results() map[string]types.TestStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]types.TestStatus, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

func (e *Local) setResult(test string, status types.TestStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[test] = status
}

func (e *Local) Run(ctx context.Context, tests []string, flags Flags) bool {
	e.mu.Lock()
	e.results = make(map[string]types.TestStatus, len(tests))
	e.mu.Unlock()

	jobs := flags.ParallelJobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(tests) {
		jobs = len(tests)
	}
	if jobs < 1 {
		jobs = 1
	}

	sem := semaphore.NewWeighted(int64(jobs))
	g, ctx := errgroup.WithContext(ctx)

	for _, test := range tests {
		test := test
		if err := sem.Acquire(ctx, 1); err != nil {
			return false
		}
		g.Go(func() error {
			defer sem.Release(1)
			status := e.runOne(ctx, test, flags)
			e.setResult(test, status)
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range e.Results() {
		if status != types.StatusPass {
			return false
		}
	}
	return true
}

func (e *Local) runOne(ctx context.Context, test string, flags Flags) types.TestStatus {
	log := e.Log.With(zap.String("test", test))

	dir := filepath.Join(flags.TestRoot, cases.CaseDirName(test, flags.TestID))
	c, status := e.prepareCase(dir, test, flags, log)
	if status != types.StatusUnknown {
		return status
	}

	tn, err := types.ParseTestName(test)
	if err != nil {
		log.Error("unparseable test name reached the engine", zap.Error(err))
		return types.StatusSetupFail
	}

	if !flags.NoSetup {
		e.advance(c, types.StateSetup, log)
		if !e.phase(ctx, c, "setup", log) {
			return e.finish(c, types.StatusSetupFail, log)
		}
	}
	if !flags.NoBuild {
		e.advance(c, types.StateBuild, log)
		if tn.Test == faultBuildTest && !flags.SuppressInjectedFaults {
			log.Info("injected build failure")
			return e.finish(c, types.StatusBuildFail, log)
		}
		if !e.phase(ctx, c, "build", log) {
			return e.finish(c, types.StatusBuildFail, log)
		}
	}
	if !flags.NoRun {
		e.advance(c, types.StateRun, log)
		if tn.Test == faultRunTest && !flags.SuppressInjectedFaults {
			log.Info("injected run failure")
			return e.finish(c, types.StatusRunFail, log)
		}
		if !e.phase(ctx, c, "run", log) {
			return e.finish(c, types.StatusRunFail, log)
		}
	}

	if flags.Compare || flags.Generate {
		if status := e.baselineOp(tn, flags, log); status != types.StatusUnknown {
			return e.finish(c, status, log)
		}
	}

	return e.finish(c, types.StatusPass, log)
}

// prepareCase opens or creates the case directory. A non-Unknown status
// short-circuits the run.
func (e *Local) prepareCase(dir, test string, flags Flags, log *zap.Logger) (*cases.Case, types.TestStatus) {
	if _, err := os.Stat(filepath.Join(dir, cases.StateFile)); err == nil {
		if !flags.UseExisting {
			log.Error("case directory already exists; pass --use-existing to pick it up", zap.String("dir", dir))
			return nil, types.StatusSetupFail
		}
		c, err := cases.Open(dir)
		if err != nil {
			log.Error("opening existing case", zap.Error(err))
			return nil, types.StatusSetupFail
		}
		return c, types.StatusUnknown
	}

	cost := e.Catalog.CostOf(test)
	state := cases.State{
		Name:        test,
		Machine:     flags.Machine,
		Compiler:    flags.Compiler,
		TestID:      flags.TestID,
		RunProcs:    cost.Procs,
		RunThreads:  1,
		RunWalltime: cost.Walltime,
		Phase:       types.StatePending.String(),
	}
	if flags.ForceProcs > 0 {
		state.RunProcs = flags.ForceProcs
	}
	if flags.ForceThreads > 0 {
		state.RunThreads = flags.ForceThreads
	}
	if flags.Walltime > 0 {
		state.RunWalltime = types.Duration(flags.Walltime)
	}

	c, err := cases.Create(dir, state)
	if err != nil {
		log.Error("creating case", zap.Error(err))
		return nil, types.StatusSetupFail
	}
	return c, types.StatusUnknown
}

// phase runs one case phase through the external runner, capturing its
// output into a per-phase log in the case directory.
func (e *Local) phase(ctx context.Context, c *cases.Case, name string, log *zap.Logger) bool {
	if e.RunnerPath == "" {
		return true
	}

	cmd := exec.CommandContext(ctx, e.RunnerPath, "--case", c.Dir, "--phase", name)
	output, err := cmd.CombinedOutput()

	outPath := filepath.Join(c.Dir, name+".log")
	if werr := os.WriteFile(outPath, output, 0644); werr != nil {
		log.Warn("unable to write phase log", zap.String("path", outPath), zap.Error(werr))
	}

	if err != nil {
		log.Error("phase failed", zap.String("phase", name), zap.Error(err))
		return false
	}
	return true
}

func (e *Local) baselineOp(tn types.TestName, flags Flags, log *zap.Logger) types.TestStatus {
	dir := filepath.Join(flags.BaselineRoot, flags.BaselineName, tn.BaseName())

	if flags.Generate {
		if _, err := os.Stat(dir); err == nil && !flags.AllowBaselineOverwrite {
			log.Error("baseline already exists; use --allow-baseline-overwrite", zap.String("dir", dir))
			return types.StatusCompareFail
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("creating baseline dir", zap.Error(err))
			return types.StatusCompareFail
		}
		marker := fmt.Sprintf("generated by %s for %s\n", flags.TestID, tn.String())
		if err := os.WriteFile(filepath.Join(dir, "baseline.txt"), []byte(marker), 0644); err != nil {
			log.Error("writing baseline", zap.Error(err))
			return types.StatusCompareFail
		}
		return types.StatusUnknown
	}

	if _, err := os.Stat(dir); err != nil {
		log.Error("baseline missing for comparison", zap.String("dir", dir))
		return types.StatusCompareFail
	}
	return types.StatusUnknown
}

// advance records the phase the case is entering, so an interrupted run
// leaves behind where it got to.
func (e *Local) advance(c *cases.Case, state types.TestState, log *zap.Logger) {
	c.State.Phase = state.String()
	if err := c.Save(); err != nil {
		log.Warn("persisting case phase", zap.Error(err))
	}
}

func (e *Local) finish(c *cases.Case, status types.TestStatus, log *zap.Logger) types.TestStatus {
	if c != nil {
		if status == types.StatusPass {
			c.State.Phase = types.StateDone.String()
		}
		c.State.Status = status.String()
		if err := c.Save(); err != nil {
			log.Warn("persisting case status", zap.Error(err))
		}
	}
	return status
}
