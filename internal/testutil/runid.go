package testutil

// FixedRunID returns a generator that always yields the same run id.
//
// Golden report comparison needs byte-identical output across runs; pair
// with orchestrator.WithRunIDs:
//
//	orchestrator.WithRunIDs(testutil.FixedRunID("run-00000000-0000-0000-0000-000000000001"))
func FixedRunID(id string) func() string {
	if id == "" {
		id = "run-test-default"
	}
	return func() string { return id }
}
