package selftest

import "testing"

func TestScenarioS1WriteReadRoundTrip(t *testing.T) {
	if err := scenarioS1(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioS2RelativeWatchFiresWithStrippedPrefix(t *testing.T) {
	if err := scenarioS2(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioS3AbsoluteWatchFiresWithFullPath(t *testing.T) {
	if err := scenarioS3(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioS4SelfSuppression(t *testing.T) {
	if err := scenarioS4(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioS5RecursiveRemove(t *testing.T) {
	if err := scenarioS5(); err != nil {
		t.Fatal(err)
	}
}

func TestScenarioS6RingCorruptionRecovery(t *testing.T) {
	if err := scenarioS6(); err != nil {
		t.Fatal(err)
	}
}

func TestRunReportsAllScenarios(t *testing.T) {
	results := Run()
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s failed: %s", r.Name, r.Reason)
		}
	}
}
