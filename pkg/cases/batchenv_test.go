package cases

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcweave/launchtest/pkg/machines"
	"github.com/hpcweave/launchtest/pkg/types"
)

func slurmMachine() machines.Machine {
	return machines.Machine{
		Name:         "summit",
		TasksPerNode: 32,
		BatchSystem:  "slurm",
		Queues: []machines.Queue{
			{Name: "debug", MaxNodes: 8, MaxWalltime: types.Duration(30 * time.Minute)},
			{Name: "batch", MaxNodes: 256, MaxWalltime: types.Duration(2 * time.Hour), Default: true},
			{Name: "long", MaxWalltime: types.Duration(24 * time.Hour)},
		},
	}
}

func TestSelectBestQueue(t *testing.T) {
	env := NewBatchEnv(slurmMachine())

	q, err := env.SelectBestQueue(4, 128, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "debug", q.Name)

	q, err = env.SelectBestQueue(4, 128, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "batch", q.Name)

	q, err = env.SelectBestQueue(300, 9600, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "long", q.Name)

	// nothing fits: fall back to the default queue
	q, err = env.SelectBestQueue(500, 16000, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "batch", q.Name)
}

func TestSelectBestQueueNoDefaultFallsBackToLargest(t *testing.T) {
	env := NewBatchEnv(machines.Machine{
		Name:        "nodefault",
		BatchSystem: "slurm",
		Queues: []machines.Queue{
			{Name: "short", MaxNodes: 4, MaxWalltime: types.Duration(time.Hour)},
			{Name: "long", MaxNodes: 8, MaxWalltime: types.Duration(12 * time.Hour)},
		},
	})
	q, err := env.SelectBestQueue(100, 3200, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "long", q.Name)
}

func TestSelectBestQueueNoQueues(t *testing.T) {
	env := NewBatchEnv(machines.Machine{Name: "bare", BatchSystem: "slurm"})
	_, err := env.SelectBestQueue(1, 1, time.Minute)
	assert.ErrorContains(t, err, "no queues")
}

func TestSubmitCommandDefaults(t *testing.T) {
	assert.Equal(t, "sbatch", NewBatchEnv(machines.Machine{BatchSystem: "slurm"}).SubmitCommand())
	assert.Equal(t, "qsub", NewBatchEnv(machines.Machine{BatchSystem: "pbs"}).SubmitCommand())
	assert.Equal(t, "llsubmit", NewBatchEnv(machines.Machine{BatchSystem: "pbs", SubmitCommand: "llsubmit"}).SubmitCommand())
}

func TestRenderDirectivesSlurm(t *testing.T) {
	env := NewBatchEnv(slurmMachine())

	out, err := env.RenderDirectives(JobSpec{
		JobName:      "launchtest_single_submit_20260830_abcd1234",
		Nodes:        4,
		TasksPerNode: 32,
		TotalTasks:   128,
		Walltime:     90 * time.Minute,
		Queue:        "batch",
		Project:      "cli115",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "#SBATCH --job-name=launchtest_single_submit_20260830_abcd1234")
	assert.Contains(t, out, "#SBATCH --nodes=4")
	assert.Contains(t, out, "#SBATCH --ntasks-per-node=32")
	assert.Contains(t, out, "#SBATCH --time=01:30:00")
	assert.Contains(t, out, "#SBATCH --partition=batch")
	assert.Contains(t, out, "#SBATCH --account=cli115")
}

func TestRenderDirectivesTruncatesJobName(t *testing.T) {
	env := NewBatchEnv(machines.Machine{BatchSystem: "pbs"})
	out, err := env.RenderDirectives(JobSpec{
		JobName:  "launchtest_single_submit_20260830_abcd1234",
		Nodes:    1,
		Walltime: time.Minute,
		Queue:    "acme",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "#PBS -N launchtest_sing\n")
}

func TestRenderDirectivesNoProject(t *testing.T) {
	env := NewBatchEnv(slurmMachine())
	out, err := env.RenderDirectives(JobSpec{JobName: "j", Nodes: 1, TasksPerNode: 32, Walltime: time.Minute, Queue: "debug"})
	require.NoError(t, err)
	assert.NotContains(t, out, "--account")
}

func TestRenderDirectivesUnknownBatchSystem(t *testing.T) {
	env := NewBatchEnv(machines.Machine{BatchSystem: "cobalt"})
	_, err := env.RenderDirectives(JobSpec{})
	assert.ErrorContains(t, err, "no directive template")
}

func TestFormatHMS(t *testing.T) {
	assert.Equal(t, "00:05:00", formatHMS(5*time.Minute))
	assert.Equal(t, "26:00:30", formatHMS(26*time.Hour+30*time.Second))
}
