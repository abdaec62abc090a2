// Package suites loads the suite catalog: named groups of test identifiers,
// possibly referencing other suites, plus the per-test cost table used for
// walltime ordering and for seeding new case state.
package suites

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpcweave/launchtest/pkg/types"
)

type Suite struct {
	Tests  []string `yaml:"tests"`
	Suites []string `yaml:"suites"`
}

type Cost struct {
	Procs    int            `yaml:"procs"`
	Walltime types.Duration `yaml:"walltime"`
}

type Catalog struct {
	Suites      map[string]Suite `yaml:"suites"`
	Costs       map[string]Cost  `yaml:"costs"`
	DefaultCost Cost             `yaml:"default_cost"`
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite catalog: %w", err)
	}
	cat := &Catalog{}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("parsing suite catalog %s: %w", path, err)
	}
	if cat.DefaultCost.Procs == 0 {
		cat.DefaultCost.Procs = 16
	}
	if cat.DefaultCost.Walltime == 0 {
		cat.DefaultCost.Walltime = types.Duration(10 * time.Minute)
	}
	return cat, nil
}

// IsSuite reports whether name refers to a catalog suite.
func (c *Catalog) IsSuite(name string) bool {
	_, ok := c.Suites[name]
	return ok
}

// MembersOf expands a suite into its member test identifiers, following
// nested suite references. A suite appearing anywhere on its own expansion
// chain is a configuration error.
func (c *Catalog) MembersOf(name string) ([]string, error) {
	return c.expand(name, nil)
}

func (c *Catalog) expand(name string, chain []string) ([]string, error) {
	for _, seen := range chain {
		if seen == name {
			return nil, fmt.Errorf("suite %q references itself (expansion chain %v)", name, append(chain, name))
		}
	}
	suite, ok := c.Suites[name]
	if !ok {
		return nil, fmt.Errorf("unknown suite %q", name)
	}

	members := append([]string(nil), suite.Tests...)
	chain = append(chain, name)
	for _, sub := range suite.Suites {
		nested, err := c.expand(sub, chain)
		if err != nil {
			return nil, err
		}
		members = append(members, nested...)
	}
	return members, nil
}

// CostOf returns the catalog cost for a test, keyed by its base name so
// machine-bound identifiers share the entry of their unbound form.
func (c *Catalog) CostOf(test string) Cost {
	if cost, ok := c.Costs[test]; ok {
		return cost
	}
	if tn, err := types.ParseTestName(test); err == nil {
		if cost, ok := c.Costs[tn.BaseName()]; ok {
			return cost
		}
	}
	return c.DefaultCost
}

// PredictedDuration is the expected run time used for longest-first ordering.
func (c *Catalog) PredictedDuration(test string) time.Duration {
	return c.CostOf(test).Walltime.Std()
}
