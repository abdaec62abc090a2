package batch

import (
	"strconv"
	"strings"
)

// RewriteArgs derives the resubmission argument list from the original
// invocation arguments: the single-submission flag is stripped, the child
// is told to run locally against the existing cases, and the test-id,
// processor-pool and machine flags are guaranteed present exactly once.
func RewriteArgs(args []string, testID string, procPool int, machine string) []string {
	var out []string
	haveTestID := false
	haveProcPool := false
	haveMachine := false

	for _, arg := range args {
		switch {
		case arg == "--single-submit", strings.HasPrefix(arg, "--single-submit="):
			continue
		case arg == "-t", arg == "--test-id",
			strings.HasPrefix(arg, "--test-id="), isShortWithValue(arg, "-t"):
			haveTestID = true
		case arg == "--proc-pool", strings.HasPrefix(arg, "--proc-pool="):
			haveProcPool = true
		case arg == "-m", arg == "--machine",
			strings.HasPrefix(arg, "--machine="), isShortWithValue(arg, "-m"):
			haveMachine = true
		case arg == "--no-batch", strings.HasPrefix(arg, "--no-batch="),
			arg == "--use-existing", strings.HasPrefix(arg, "--use-existing="),
			arg == "-u", strings.HasPrefix(arg, "-u="):
			continue // re-added below
		}
		out = append(out, arg)
	}

	out = append(out, "--no-batch", "--use-existing")
	if !haveTestID {
		out = append(out, "--test-id", testID)
	}
	if !haveProcPool {
		out = append(out, "--proc-pool", strconv.Itoa(procPool))
	}
	if !haveMachine {
		out = append(out, "--machine", machine)
	}
	return out
}

// isShortWithValue matches a shorthand flag with a joined value, the
// -tVALUE and -t=VALUE spellings.
func isShortWithValue(arg, short string) bool {
	return len(arg) > len(short) && !strings.HasPrefix(arg, "--") && strings.HasPrefix(arg, short)
}
