// Package batch consolidates the resource demands of already-created test
// cases into a single shared allocation and resubmits the orchestrator
// under it.
package batch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpcweave/launchtest/pkg/cases"
	"github.com/hpcweave/launchtest/pkg/machines"
	"github.com/hpcweave/launchtest/pkg/types"
)

// SubmitFunc delivers the generated script to the batch system. Split out
// so tests can capture the submission instead of shelling out.
type SubmitFunc func(command string, args []string, script string) error

type Planner struct {
	Machines   *machines.Config
	Estimator  cases.TotalTimeEstimator
	Submit     SubmitFunc
	EntryPoint string // orchestrator binary re-invoked by the script
	Log        *zap.Logger
}

type Request struct {
	Machine          string
	TestRoot         string
	TestID           string
	Tests            []string
	ExplicitProcPool int           // 0 = derive from footprints
	ExplicitWalltime time.Duration // 0 = use the packing estimate
	ExplicitQueue    string        // "" = select the best fitting queue
	Project          string
	InvocationArgs   []string // original argv tail, rewritten for the child
}

// PlanAndSubmit aggregates every case's resource footprint, selects a
// queue, renders a submission script and hands it to the batch system.
// It runs only after a fully successful pass; callers supplying a pool
// smaller than the largest single test get what they asked for.
func (p *Planner) PlanAndSubmit(req Request) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	estimator := p.Estimator
	if estimator == nil {
		estimator = cases.GreedyPackingEstimate
	}
	submit := p.Submit
	if submit == nil {
		submit = execSubmit
	}

	mach, err := p.Machines.Get(req.Machine)
	if err != nil {
		return err
	}
	if !p.Machines.HasBatchSystem(req.Machine) {
		return fmt.Errorf("single submission does not make sense on non-batch machine %q", req.Machine)
	}

	if _, err := cases.Discover(req.TestRoot, req.TestID); err != nil {
		return err
	}

	costs := make(map[string]types.Footprint, len(req.Tests))
	maxProcs := 0
	for _, test := range req.Tests {
		dir := filepath.Join(req.TestRoot, cases.CaseDirName(test, req.TestID))
		c, err := cases.Open(dir)
		if err != nil {
			return fmt.Errorf("case for %s: %w", test, err)
		}
		fp := c.ResourceFootprint()
		costs[test] = fp
		if fp.Procs > maxProcs {
			maxProcs = fp.Procs
		}
	}

	procPool := req.ExplicitProcPool
	if procPool == 0 {
		// generous default so the packed schedule is not starved
		procPool = 2 * maxProcs
	}

	nodeCount := (procPool + mach.TasksPerNode - 1) / mach.TasksPerNode

	walltime := req.ExplicitWalltime
	if walltime == 0 {
		walltime = estimator(costs, procPool)
	}

	env := cases.NewBatchEnv(mach)
	var queue machines.Queue
	if req.ExplicitQueue != "" {
		q, ok := mach.Queue(req.ExplicitQueue)
		if !ok {
			return fmt.Errorf("machine %q has no queue %q", mach.Name, req.ExplicitQueue)
		}
		queue = q
	} else {
		queue, err = env.SelectBestQueue(nodeCount, procPool, walltime)
		if err != nil {
			return err
		}
	}
	if max := queue.MaxWalltime.Std(); max > 0 && walltime > max {
		log.Info("clamping walltime to queue limit",
			zap.Duration("computed", walltime),
			zap.Duration("queue_max", max),
			zap.String("queue", queue.Name))
		walltime = max
	}

	directives, err := env.RenderDirectives(cases.JobSpec{
		JobName:      "launchtest_single_submit_" + req.TestID,
		Nodes:        nodeCount,
		TasksPerNode: mach.TasksPerNode,
		TotalTasks:   nodeCount * mach.TasksPerNode,
		Walltime:     walltime,
		Queue:        queue.Name,
		Project:      req.Project,
	})
	if err != nil {
		return err
	}

	newArgs := RewriteArgs(req.InvocationArgs, req.TestID, procPool, mach.Name)
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	script := BuildScript(directives, cwd, p.EntryPoint, newArgs)

	log.Info("submitting consolidated batch job",
		zap.String("queue", queue.Name),
		zap.Int("proc_pool", procPool),
		zap.Int("nodes", nodeCount),
		zap.Duration("walltime", walltime))
	log.Debug("submission script", zap.String("script", script))

	if err := submit(env.SubmitCommand(), env.SubmitArgs(), script); err != nil {
		return fmt.Errorf("batch submission failed: %w", err)
	}
	return nil
}

// BuildScript assembles the submission script: shebang, directives, a
// working-directory change and the orchestrator re-invocation.
func BuildScript(directives, workDir, entryPoint string, args []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString(directives)
	b.WriteString("\n\n")
	b.WriteString("cd " + workDir + "\n")
	b.WriteString(entryPoint + " " + strings.Join(args, " ") + "\n")
	return b.String()
}

// execSubmit pipes the script to the submit command's stdin, the way
// sbatch and qsub accept scripts.
func execSubmit(command string, args []string, script string) error {
	cmd := exec.Command(command, args...)
	cmd.Stdin = strings.NewReader(script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
