package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_PackageUpgrade(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/package_upgrade.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, s))
}

func TestAssertGolden_MatchesRun(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/package_upgrade.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, s.Name, result))
}
