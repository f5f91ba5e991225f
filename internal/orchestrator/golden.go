package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGolden compares a report against a golden file in testdata/golden.
// Durations are stripped before comparison so wall-clock jitter never
// touches the snapshot; pair with WithRunIDs for a fixed run id.
//
// To regenerate golden files, run:
//
//	go test ./internal/orchestrator -update
func AssertGolden(t *testing.T, name string, rep *Report) {
	t.Helper()

	snapshot := *rep
	snapshot.Steps = make([]StepResult, len(rep.Steps))
	copy(snapshot.Steps, rep.Steps)
	for i := range snapshot.Steps {
		snapshot.Steps[i].Duration = 0
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
