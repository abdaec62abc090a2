// Package resolver turns raw user test specifiers (test names, suite names,
// ^exclusions) into an ordered, deduplicated list of canonical test
// identifiers bound to a single machine and compiler.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hpcweave/launchtest/pkg/machines"
	"github.com/hpcweave/launchtest/pkg/suites"
	"github.com/hpcweave/launchtest/pkg/types"
)

// ExclusionPrefix marks a specifier that removes tests from the accumulated set.
const ExclusionPrefix = "^"

var (
	ErrSyntax                 = errors.New("malformed test specifier")
	ErrAmbiguousMachine       = errors.New("ambiguity in machine, please use the --machine option")
	ErrHeterogeneousCompilers = errors.New("baseline operations with a heterogeneous compiler set are not safe")
	ErrInvalidName            = errors.New("invalid test name")
	ErrUnsupportedCompiler    = errors.New("compiler not valid for machine")
	ErrNoMachine              = errors.New("cannot determine machine")
)

type Options struct {
	Machine          string // explicit --machine flag, wins over inference
	Compiler         string // explicit --compiler flag, wins over inference
	BaselineOps      bool   // a compare or generate operation was requested
	SortByWalltime   bool   // order the final list longest-first
	ExplicitWalltime bool   // a global walltime override was given
	Log              *zap.Logger
}

type Result struct {
	Tests    []string
	Machine  string
	Compiler string
}

// Resolve applies the full resolution pipeline: partition, suite expansion,
// machine/compiler determination, binding, then dedup and exclusion over
// the canonical identifiers.
func Resolve(specifiers []string, catalog *suites.Catalog, cfg *machines.Config, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	var inclusions, exclusions []string
	for _, tok := range specifiers {
		if strings.HasPrefix(tok, ExclusionPrefix) {
			exclusions = append(exclusions, strings.TrimPrefix(tok, ExclusionPrefix))
		} else {
			inclusions = append(inclusions, tok)
		}
	}

	raw, err := expandTokens(inclusions, catalog)
	if err != nil {
		return nil, err
	}

	machine, err := determineMachine(raw, cfg, opts)
	if err != nil {
		return nil, err
	}
	compiler, err := determineCompiler(raw, machine, cfg, opts)
	if err != nil {
		return nil, err
	}

	// dedup and exclusion happen on canonical identifiers, so an unbound
	// suite member and its explicitly bound twin collapse to one entry
	accumulated := newOrderedSet()
	for _, name := range raw {
		bound := bind(name, machine, compiler)
		if dots := types.DotCount(bound); dots <= 1 || dots > 4 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		accumulated.add(bound)
	}

	excluded, err := expandTokens(exclusions, catalog)
	if err != nil {
		return nil, err
	}
	// excluding an absent test is a no-op
	for _, name := range excluded {
		accumulated.remove(bind(name, machine, compiler))
	}

	tests := accumulated.order

	if !cfg.IsValidCompiler(machine, compiler) {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCompiler, compiler, machine)
	}

	if opts.SortByWalltime {
		orderByWalltime(tests, catalog, opts.ExplicitWalltime)
	}

	log.Debug("resolved test list",
		zap.Strings("tests", tests),
		zap.String("machine", machine),
		zap.String("compiler", compiler))

	return &Result{Tests: tests, Machine: machine, Compiler: compiler}, nil
}

// orderedSet preserves first-seen insertion order.
type orderedSet struct {
	order []string
	seen  map[string]bool
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(name string) {
	if s.seen[name] {
		return
	}
	s.seen[name] = true
	s.order = append(s.order, name)
}

func (s *orderedSet) remove(name string) {
	if !s.seen[name] {
		return
	}
	delete(s.seen, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// expandTokens flattens suite references into their member tests, keeping
// order and duplicates. Callers canonicalize before any set operations.
func expandTokens(tokens []string, catalog *suites.Catalog) ([]string, error) {
	var names []string
	for _, tok := range tokens {
		switch {
		case catalog.IsSuite(tok):
			members, err := catalog.MembersOf(tok)
			if err != nil {
				return nil, err
			}
			names = append(names, members...)
		case strings.Contains(tok, "."):
			names = append(names, tok)
		default:
			return nil, fmt.Errorf("%w: %q is neither a known suite nor a dotted test name", ErrSyntax, tok)
		}
	}
	return names, nil
}

func determineMachine(names []string, cfg *machines.Config, opts Options) (string, error) {
	if opts.Machine != "" {
		return opts.Machine, nil
	}

	inferred := ""
	for _, name := range names {
		tn, err := types.ParseTestName(name)
		if err != nil || !tn.HasMachine() {
			continue
		}
		if inferred == "" {
			inferred = tn.Machine
		} else if inferred != tn.Machine {
			return "", fmt.Errorf("%w: %q conflicts with %q", ErrAmbiguousMachine, tn.Machine, inferred)
		}
	}
	if inferred != "" {
		return inferred, nil
	}

	if host, ok := cfg.HostMachine(); ok {
		return host, nil
	}
	return "", ErrNoMachine
}

func determineCompiler(names []string, machine string, cfg *machines.Config, opts Options) (string, error) {
	if opts.Compiler != "" {
		return opts.Compiler, nil
	}

	var inferred []string
	seen := map[string]bool{}
	for _, name := range names {
		tn, err := types.ParseTestName(name)
		if err != nil || tn.Compiler == "" || seen[tn.Compiler] {
			continue
		}
		seen[tn.Compiler] = true
		inferred = append(inferred, tn.Compiler)
	}

	switch len(inferred) {
	case 0:
		return cfg.DefaultCompiler(machine)
	case 1:
		return inferred[0], nil
	default:
		if opts.BaselineOps {
			return "", fmt.Errorf("%w: %v", ErrHeterogeneousCompilers, inferred)
		}
		return inferred[0], nil
	}
}

// bind appends the machine/compiler component to identifiers that lack one.
func bind(name, machine, compiler string) string {
	tn, err := types.ParseTestName(name)
	if err != nil {
		return name // final dot-count validation rejects it
	}
	if tn.HasMachine() {
		return tn.String()
	}
	return tn.WithMachine(machine, compiler).String()
}

func orderByWalltime(tests []string, catalog *suites.Catalog, explicitWalltime bool) {
	if explicitWalltime {
		sort.Strings(tests)
		return
	}
	// longest tests run first
	sort.SliceStable(tests, func(i, j int) bool {
		return catalog.PredictedDuration(tests[i]) > catalog.PredictedDuration(tests[j])
	})
}
