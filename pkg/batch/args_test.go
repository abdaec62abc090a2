package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteArgsInsertsMissingFlags(t *testing.T) {
	got := RewriteArgs([]string{"e3sm_dev", "--single-submit", "-r", "/scratch/tests"},
		"20260830_abcd1234", 128, "summit")

	assert.NotContains(t, got, "--single-submit")
	assert.Equal(t, []string{
		"e3sm_dev", "-r", "/scratch/tests",
		"--no-batch", "--use-existing",
		"--test-id", "20260830_abcd1234",
		"--proc-pool", "128",
		"--machine", "summit",
	}, got)
}

func TestRewriteArgsKeepsExistingFlags(t *testing.T) {
	got := RewriteArgs([]string{
		"e3sm_dev", "--single-submit",
		"-t", "myid",
		"--proc-pool=64",
		"--machine", "cori",
	}, "otherid", 128, "summit")

	assert.Equal(t, []string{
		"e3sm_dev",
		"-t", "myid",
		"--proc-pool=64",
		"--machine", "cori",
		"--no-batch", "--use-existing",
	}, got)
}

func TestRewriteArgsJoinedSpellings(t *testing.T) {
	got := RewriteArgs([]string{
		"e3sm_dev", "--single-submit=true",
		"-tmyid",
		"-m=cori",
	}, "otherid", 128, "summit")

	assert.Equal(t, []string{
		"e3sm_dev",
		"-tmyid",
		"-m=cori",
		"--no-batch", "--use-existing",
		"--proc-pool", "128",
	}, got)
}

func TestRewriteArgsNoDuplicateLocalFlags(t *testing.T) {
	got := RewriteArgs([]string{"suite", "--no-batch", "--use-existing", "--single-submit"},
		"id", 32, "summit")

	count := func(flag string) int {
		n := 0
		for _, a := range got {
			if a == flag {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count("--no-batch"))
	assert.Equal(t, 1, count("--use-existing"))
}
