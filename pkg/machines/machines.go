// Package machines answers capability questions about the compute machines
// tests can target: default and supported compilers, per-node task capacity,
// batch system and queue definitions. Backed by a YAML config file.
package machines

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpcweave/launchtest/pkg/types"
)

type Queue struct {
	Name        string         `yaml:"name"`
	MaxNodes    int            `yaml:"max_nodes"`    // 0 = unbounded
	MaxWalltime types.Duration `yaml:"max_walltime"` // 0 = unenforced
	Default     bool           `yaml:"default"`
}

type Machine struct {
	Name            string   `yaml:"-"`
	HostPattern     string   `yaml:"host_pattern"`
	DefaultCompiler string   `yaml:"default_compiler"`
	Compilers       []string `yaml:"compilers"`
	TasksPerNode    int      `yaml:"tasks_per_node"`
	BatchSystem     string   `yaml:"batch_system"` // empty = no batch system
	SubmitCommand   string   `yaml:"submit_command"`
	SubmitArgs      []string `yaml:"submit_args"`
	Queues          []Queue  `yaml:"queues"`
}

type Config struct {
	Machines map[string]Machine `yaml:"machines"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading machine config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing machine config %s: %w", path, err)
	}
	for name, m := range cfg.Machines {
		m.Name = name
		if m.TasksPerNode <= 0 {
			return nil, fmt.Errorf("machine %q: tasks_per_node must be positive", name)
		}
		cfg.Machines[name] = m
	}
	return cfg, nil
}

func (c *Config) Get(name string) (Machine, error) {
	m, ok := c.Machines[name]
	if !ok {
		return Machine{}, fmt.Errorf("unknown machine %q", name)
	}
	return m, nil
}

// HostMachine matches the current hostname against each machine's
// host_pattern and returns the first match.
func (c *Config) HostMachine() (string, bool) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", false
	}
	return c.MachineForHost(hostname)
}

func (c *Config) MachineForHost(hostname string) (string, bool) {
	for name, m := range c.Machines {
		if m.HostPattern == "" {
			continue
		}
		re, err := regexp.Compile(m.HostPattern)
		if err != nil {
			continue
		}
		if re.MatchString(hostname) {
			return name, true
		}
	}
	return "", false
}

func (c *Config) DefaultCompiler(machine string) (string, error) {
	m, err := c.Get(machine)
	if err != nil {
		return "", err
	}
	if m.DefaultCompiler == "" {
		return "", fmt.Errorf("machine %q has no default compiler", machine)
	}
	return m.DefaultCompiler, nil
}

func (c *Config) IsValidCompiler(machine, compiler string) bool {
	m, err := c.Get(machine)
	if err != nil {
		return false
	}
	for _, known := range m.Compilers {
		if known == compiler {
			return true
		}
	}
	return false
}

func (c *Config) PerNodeTaskCapacity(machine string) (int, error) {
	m, err := c.Get(machine)
	if err != nil {
		return 0, err
	}
	return m.TasksPerNode, nil
}

func (c *Config) HasBatchSystem(machine string) bool {
	m, err := c.Get(machine)
	if err != nil {
		return false
	}
	return m.BatchSystem != ""
}

// Queue looks up a declared queue by name.
func (m Machine) Queue(name string) (Queue, bool) {
	for _, q := range m.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return Queue{}, false
}

// MaxWalltime of a named queue; zero when the queue does not enforce one.
func (m Machine) QueueMaxWalltime(queue string) time.Duration {
	q, ok := m.Queue(queue)
	if !ok {
		return 0
	}
	return q.MaxWalltime.Std()
}
