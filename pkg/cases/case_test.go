package cases

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcweave/launchtest/pkg/types"
)

func TestCreateOpenRoundtrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ERS.f19_g16.B1850.summit_gnu.20260830_abcd1234")

	_, err := Create(dir, State{
		Name:        "ERS.f19_g16.B1850.summit_gnu",
		Machine:     "summit",
		Compiler:    "gnu",
		TestID:      "20260830_abcd1234",
		RunProcs:    64,
		RunWalltime: types.Duration(30 * time.Minute),
	})
	require.NoError(t, err)

	c, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "summit", c.State.Machine)

	fp := c.ResourceFootprint()
	assert.Equal(t, 64, fp.Procs)
	assert.Equal(t, 30*time.Minute, fp.Walltime)
}

func TestOpenMissingState(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	testID := "20260830_abcd1234"

	for _, name := range []string{"ERS.f19_g16.B1850.summit_gnu", "SMS.f19_g16.B1850.summit_gnu"} {
		_, err := Create(filepath.Join(root, CaseDirName(name, testID)), State{Name: name, TestID: testID})
		require.NoError(t, err)
	}
	// a dir without case.yaml must not match
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stray."+testID), 0755))
	// a case from a different test id must not match
	_, err := Create(filepath.Join(root, "ERS.f19_g16.B1850.summit_gnu.other_id"), State{})
	require.NoError(t, err)

	dirs, err := Discover(root, testID)
	require.NoError(t, err)
	assert.Len(t, dirs, 2)
}

func TestDiscoverNoMatchesIsFatal(t *testing.T) {
	_, err := Discover(t.TempDir(), "nosuchid")
	assert.ErrorContains(t, err, "no test case directories found")
}
