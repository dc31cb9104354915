package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/snitch/internal/propval"
)

// Snapshot is the golden form of a scenario execution.
type Snapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Observations []Observation `json:"observations"`
}

// RunWithGolden executes a scenario, fails the test if any assertion does
// not hold, and compares the observations against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares a result's observations against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := propval.MarshalCanonical(Snapshot{
		ScenarioName: scenarioName,
		Observations: result.Observations,
	})
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
