package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/hpcweave/launchtest/pkg/types"
)

// printSummary renders the per-test outcome table and the overall verdict.
func printSummary(w io.Writer, tests []string, results map[string]types.TestStatus, success bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Test", "Status"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	passed := 0
	for _, test := range tests {
		status, ok := results[test]
		if !ok {
			status = types.StatusUnknown
		}
		if status == types.StatusPass {
			passed++
		}
		table.Append([]string{test, status.String()})
	}
	table.Render()

	failed := len(tests) - passed
	if success {
		fmt.Fprintf(w, "%s %d tests, %d passed\n", color.GreenString("PASS"), len(tests), passed)
	} else {
		fmt.Fprintf(w, "%s %d tests, %d passed, %d failed\n", color.RedString("FAIL"), len(tests), passed, failed)
	}
}
