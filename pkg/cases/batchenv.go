package cases

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/hpcweave/launchtest/pkg/machines"
)

// JobSpec describes the synthetic consolidated job whose directives are
// rendered into the submission script.
type JobSpec struct {
	JobName      string
	Nodes        int
	TasksPerNode int
	TotalTasks   int
	Walltime     time.Duration
	Queue        string
	Project      string
}

// BatchEnv answers batch-system questions for a case's target machine.
type BatchEnv struct {
	Machine machines.Machine
}

func NewBatchEnv(m machines.Machine) *BatchEnv {
	return &BatchEnv{Machine: m}
}

func (e *BatchEnv) SubmitCommand() string {
	if e.Machine.SubmitCommand != "" {
		return e.Machine.SubmitCommand
	}
	switch e.Machine.BatchSystem {
	case "slurm":
		return "sbatch"
	case "pbs":
		return "qsub"
	default:
		return ""
	}
}

func (e *BatchEnv) SubmitArgs() []string {
	return e.Machine.SubmitArgs
}

// SelectBestQueue returns the first declared queue that fits the requested
// nodes and walltime. When nothing fits, the machine's default queue is
// used, or failing that the queue with the largest walltime limit.
func (e *BatchEnv) SelectBestQueue(nodes, procs int, walltime time.Duration) (machines.Queue, error) {
	if len(e.Machine.Queues) == 0 {
		return machines.Queue{}, fmt.Errorf("machine %q has no queues defined", e.Machine.Name)
	}

	for _, q := range e.Machine.Queues {
		if q.MaxNodes > 0 && nodes > q.MaxNodes {
			continue
		}
		if q.MaxWalltime > 0 && walltime > q.MaxWalltime.Std() {
			continue
		}
		return q, nil
	}

	for _, q := range e.Machine.Queues {
		if q.Default {
			return q, nil
		}
	}

	best := e.Machine.Queues[0]
	for _, q := range e.Machine.Queues[1:] {
		if q.MaxWalltime.Std() > best.MaxWalltime.Std() {
			best = q
		}
	}
	return best, nil
}

func (e *BatchEnv) QueueMaxWalltime(queue string) time.Duration {
	return e.Machine.QueueMaxWalltime(queue)
}

// Job names are truncated to the scheduler's limit: 64 for slurm, 15 for
// qsub -N.
var directiveTemplates = map[string]string{
	"slurm": `#SBATCH --job-name={{ .JobName | trunc 64 }}
#SBATCH --nodes={{ .Nodes }}
#SBATCH --ntasks-per-node={{ .TasksPerNode }}
#SBATCH --time={{ hms .Walltime }}
#SBATCH --partition={{ .Queue }}
{{- if .Project }}
#SBATCH --account={{ .Project }}
{{- end }}`,
	"pbs": `#PBS -N {{ .JobName | trunc 15 }}
#PBS -l nodes={{ .Nodes }}:ppn={{ .TasksPerNode }}
#PBS -l walltime={{ hms .Walltime }}
#PBS -q {{ .Queue }}
{{- if .Project }}
#PBS -A {{ .Project }}
{{- end }}`,
}

// RenderDirectives renders the batch directives block for the machine's
// batch system.
func (e *BatchEnv) RenderDirectives(spec JobSpec) (string, error) {
	text, ok := directiveTemplates[e.Machine.BatchSystem]
	if !ok {
		return "", fmt.Errorf("no directive template for batch system %q", e.Machine.BatchSystem)
	}

	funcs := sprig.TxtFuncMap()
	funcs["hms"] = formatHMS

	tmpl, err := template.New("directives").Funcs(funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing directive template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("rendering directives: %w", err)
	}
	return buf.String(), nil
}

// formatHMS renders a duration the way batch schedulers expect: HH:MM:SS.
func formatHMS(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
