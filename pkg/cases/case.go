// Package cases reads and writes the per-test persisted case state and
// exposes the batch-environment view of a case's target machine.
package cases

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hpcweave/launchtest/pkg/types"
)

// StateFile is the persisted case state file inside each case directory.
const StateFile = "case.yaml"

type State struct {
	Name        string         `yaml:"name"`
	Machine     string         `yaml:"machine"`
	Compiler    string         `yaml:"compiler"`
	TestID      string         `yaml:"test_id"`
	RunProcs    int            `yaml:"run_procs"`
	RunThreads  int            `yaml:"run_threads"`
	RunWalltime types.Duration `yaml:"run_walltime"`
	Phase       string         `yaml:"phase"`
	Status      string         `yaml:"status"`
}

type Case struct {
	Dir   string
	State State
}

func Open(dir string) (*Case, error) {
	path := filepath.Join(dir, StateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case state: %w", err)
	}
	c := &Case{Dir: dir}
	if err := yaml.Unmarshal(data, &c.State); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

func Create(dir string, state State) (*Case, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating case dir: %w", err)
	}
	c := &Case{Dir: dir, State: state}
	if err := c.Save(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Case) Save() error {
	data, err := yaml.Marshal(c.State)
	if err != nil {
		return fmt.Errorf("encoding case state: %w", err)
	}
	path := filepath.Join(c.Dir, StateFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ResourceFootprint is the run-phase resource requirement recorded in the
// case state.
func (c *Case) ResourceFootprint() types.Footprint {
	return types.Footprint{
		Procs:    c.State.RunProcs,
		Walltime: c.State.RunWalltime.Std(),
	}
}

// Discover lists the case directories under testRoot whose names contain
// testID. An empty result is an error: the caller expects already-created
// cases to exist.
func Discover(testRoot, testID string) ([]string, error) {
	pattern := filepath.Join(testRoot, "*"+testID+"*", StateFile)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing case dirs: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no test case directories found under %s for test id %q", testRoot, testID)
	}
	dirs := make([]string, len(matches))
	for i, m := range matches {
		dirs[i] = filepath.Dir(m)
	}
	return dirs, nil
}

// CaseDirName is the canonical directory name for one resolved test.
func CaseDirName(test, testID string) string {
	return test + "." + testID
}
