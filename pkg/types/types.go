package types

import (
	"fmt"
	"strings"
	"time"
)

// TestName is the parsed form of a canonical test identifier:
// TEST.GRID.COMPSET[.MACHINE_COMPILER[.TESTMODS]]
type TestName struct {
	Test     string
	Grid     string
	Compset  string
	Machine  string
	Compiler string
	Mods     string
}

// ParseTestName splits a dotted test identifier. The machine/compiler
// component is optional; when present it must be MACHINE_COMPILER.
func ParseTestName(name string) (TestName, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 || len(parts) > 5 {
		return TestName{}, fmt.Errorf("invalid test name %q: expected TEST.GRID.COMPSET[.MACHINE_COMPILER[.TESTMODS]]", name)
	}
	for _, p := range parts {
		if p == "" {
			return TestName{}, fmt.Errorf("invalid test name %q: empty component", name)
		}
	}

	tn := TestName{Test: parts[0], Grid: parts[1], Compset: parts[2]}
	if len(parts) >= 4 {
		mc := strings.SplitN(parts[3], "_", 2)
		if len(mc) != 2 || mc[0] == "" || mc[1] == "" {
			return TestName{}, fmt.Errorf("invalid test name %q: fourth component must be MACHINE_COMPILER", name)
		}
		tn.Machine = mc[0]
		tn.Compiler = mc[1]
	}
	if len(parts) == 5 {
		tn.Mods = parts[4]
	}
	return tn, nil
}

// HasMachine reports whether the identifier embeds a machine/compiler pair.
func (t TestName) HasMachine() bool {
	return t.Machine != ""
}

// BaseName is the identifier without machine/compiler or testmods.
func (t TestName) BaseName() string {
	return t.Test + "." + t.Grid + "." + t.Compset
}

func (t TestName) String() string {
	s := t.BaseName()
	if t.HasMachine() {
		s += "." + t.Machine + "_" + t.Compiler
	}
	if t.Mods != "" {
		s += "." + t.Mods
	}
	return s
}

// WithMachine returns a copy bound to the given machine and compiler.
func (t TestName) WithMachine(machine, compiler string) TestName {
	t.Machine = machine
	t.Compiler = compiler
	return t
}

// DotCount counts the separators in a raw identifier. Valid identifiers
// have more than one and no more than four.
func DotCount(name string) int {
	return strings.Count(name, ".")
}

// Footprint is the run-phase resource requirement of one test case.
type Footprint struct {
	Procs    int
	Walltime time.Duration
}

type TestState int

const (
	StatePending TestState = iota
	StateSetup
	StateBuild
	StateRun
	StateDone
)

type TestStatus int

const (
	StatusUnknown TestStatus = iota
	StatusSetupFail
	StatusBuildFail
	StatusRunFail
	StatusCompareFail
	StatusSkipped
	StatusPass
)

// kept at 5 chars for status text alignment
func (s TestState) String() string {
	strings := [...]string{"Pend", "Setup", "Build", "Run", "Done"}

	if s < StatePending || s > StateDone {
		return "Unkn"
	}
	return strings[s]
}

func (s TestStatus) String() string {
	strings := [...]string{"Unknown", "SetupFail", "BuildFail", "RunFail",
		"CompareFail", "Skipped", "Pass"}

	if s < StatusUnknown || s > StatusPass {
		return "Unknown"
	}
	return strings[s]
}
