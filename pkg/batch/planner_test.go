package batch

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcweave/launchtest/pkg/cases"
	"github.com/hpcweave/launchtest/pkg/machines"
	"github.com/hpcweave/launchtest/pkg/types"
)

type capturedSubmit struct {
	command string
	args    []string
	script  string
	calls   int
}

func (c *capturedSubmit) submit(command string, args []string, script string) error {
	c.command = command
	c.args = args
	c.script = script
	c.calls++
	return nil
}

func plannerMachines() *machines.Config {
	return &machines.Config{Machines: map[string]machines.Machine{
		"summit": {
			Name:         "summit",
			TasksPerNode: 32,
			BatchSystem:  "slurm",
			Queues: []machines.Queue{
				{Name: "batch", MaxNodes: 256, MaxWalltime: types.Duration(2 * time.Hour)},
			},
		},
		"workstation": {
			Name:         "workstation",
			TasksPerNode: 8,
		},
	}}
}

func makeCases(t *testing.T, root, testID string, procs map[string]int) []string {
	t.Helper()
	var tests []string
	for name, p := range procs {
		_, err := cases.Create(filepath.Join(root, cases.CaseDirName(name, testID)), cases.State{
			Name:        name,
			TestID:      testID,
			RunProcs:    p,
			RunWalltime: types.Duration(30 * time.Minute),
		})
		require.NoError(t, err)
		tests = append(tests, name)
	}
	return tests
}

func TestPlanAndSubmitDefaults(t *testing.T) {
	root := t.TempDir()
	testID := "20260830_abcd1234"
	tests := makeCases(t, root, testID, map[string]int{
		"ERS.f19_g16.B1850.summit_gnu": 64,
		"SMS.f19_g16.B1850.summit_gnu": 16,
	})

	sub := &capturedSubmit{}
	p := &Planner{
		Machines:   plannerMachines(),
		Submit:     sub.submit,
		EntryPoint: "/opt/bin/launchtest",
	}

	err := p.PlanAndSubmit(Request{
		Machine:        "summit",
		TestRoot:       root,
		TestID:         testID,
		Tests:          tests,
		InvocationArgs: []string{"e3sm_dev", "--single-submit"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, sub.calls)

	// maxProcs 64, no explicit pool: pool=128, nodes=ceil(128/32)=4
	assert.Equal(t, "sbatch", sub.command)
	assert.Contains(t, sub.script, "#!/bin/bash\n")
	assert.Contains(t, sub.script, "#SBATCH --nodes=4")
	assert.Contains(t, sub.script, "#SBATCH --ntasks-per-node=32")
	assert.Contains(t, sub.script, "#SBATCH --partition=batch")
	assert.Contains(t, sub.script, "--job-name=launchtest_single_submit_"+testID)
	assert.Contains(t, sub.script, "/opt/bin/launchtest e3sm_dev --no-batch --use-existing")
	assert.Contains(t, sub.script, "--proc-pool 128")
	assert.Contains(t, sub.script, "--machine summit")
	assert.NotContains(t, sub.script, "--single-submit")
	assert.Contains(t, sub.script, "\ncd ")
}

func TestPlanExplicitProcPool(t *testing.T) {
	root := t.TempDir()
	testID := "id2"
	tests := makeCases(t, root, testID, map[string]int{"ERS.f19_g16.B1850.summit_gnu": 64})

	sub := &capturedSubmit{}
	p := &Planner{Machines: plannerMachines(), Submit: sub.submit, EntryPoint: "launchtest"}

	err := p.PlanAndSubmit(Request{
		Machine:          "summit",
		TestRoot:         root,
		TestID:           testID,
		Tests:            tests,
		ExplicitProcPool: 50,
	})
	require.NoError(t, err)

	// ceil(50/32) = 2 nodes, pool passed through unvalidated
	assert.Contains(t, sub.script, "#SBATCH --nodes=2")
	assert.Contains(t, sub.script, "--proc-pool 50")
}

func TestPlanWalltimeClampedToQueueMax(t *testing.T) {
	root := t.TempDir()
	testID := "id3"
	tests := makeCases(t, root, testID, map[string]int{"ERS.f19_g16.B1850.summit_gnu": 64})

	sub := &capturedSubmit{}
	p := &Planner{Machines: plannerMachines(), Submit: sub.submit, EntryPoint: "launchtest"}

	err := p.PlanAndSubmit(Request{
		Machine:          "summit",
		TestRoot:         root,
		TestID:           testID,
		Tests:            tests,
		ExplicitWalltime: 6 * time.Hour, // queue max is 2h
	})
	require.NoError(t, err)
	assert.Contains(t, sub.script, "#SBATCH --time=02:00:00")
	assert.NotContains(t, sub.script, "06:00:00")
}

func TestPlanExplicitQueue(t *testing.T) {
	root := t.TempDir()
	testID := "id4"
	tests := makeCases(t, root, testID, map[string]int{"ERS.f19_g16.B1850.summit_gnu": 64})

	cfg := &machines.Config{Machines: map[string]machines.Machine{
		"summit": {
			Name:         "summit",
			TasksPerNode: 32,
			BatchSystem:  "slurm",
			Queues: []machines.Queue{
				{Name: "batch", MaxNodes: 256, MaxWalltime: types.Duration(2 * time.Hour)},
				{Name: "debug", MaxNodes: 8, MaxWalltime: types.Duration(30 * time.Minute)},
			},
		},
	}}

	sub := &capturedSubmit{}
	p := &Planner{Machines: cfg, Submit: sub.submit, EntryPoint: "launchtest"}

	err := p.PlanAndSubmit(Request{
		Machine:          "summit",
		TestRoot:         root,
		TestID:           testID,
		Tests:            tests,
		ExplicitQueue:    "debug",
		ExplicitWalltime: time.Hour, // clamped to the forced queue's 30m
	})
	require.NoError(t, err)
	assert.Contains(t, sub.script, "#SBATCH --partition=debug")
	assert.Contains(t, sub.script, "#SBATCH --time=00:30:00")

	err = p.PlanAndSubmit(Request{
		Machine:       "summit",
		TestRoot:      root,
		TestID:        testID,
		Tests:         tests,
		ExplicitQueue: "nope",
	})
	assert.ErrorContains(t, err, `no queue "nope"`)
}

func TestPlanNonBatchMachineIsFatal(t *testing.T) {
	p := &Planner{Machines: plannerMachines(), Submit: (&capturedSubmit{}).submit}
	err := p.PlanAndSubmit(Request{Machine: "workstation", TestRoot: t.TempDir(), TestID: "x"})
	assert.ErrorContains(t, err, "non-batch machine")
}

func TestPlanNoCaseDirsIsFatal(t *testing.T) {
	p := &Planner{Machines: plannerMachines(), Submit: (&capturedSubmit{}).submit}
	err := p.PlanAndSubmit(Request{Machine: "summit", TestRoot: t.TempDir(), TestID: "x"})
	assert.ErrorContains(t, err, "no test case directories found")
}

func TestBuildScriptShape(t *testing.T) {
	script := BuildScript("#SBATCH --nodes=1", "/work", "/bin/launchtest", []string{"suite", "--no-batch"})
	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	assert.Equal(t, "#!/bin/bash", lines[0])
	assert.Equal(t, "#SBATCH --nodes=1", lines[1])
	assert.Equal(t, "cd /work", lines[3])
	assert.Equal(t, "/bin/launchtest suite --no-batch", lines[4])
}
