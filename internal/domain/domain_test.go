package domain_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"guardrails/internal/domain"
)

func TestPriorityExamples(t *testing.T) {
	cases := []struct {
		impact  float64
		urgency int
		want    int
	}{
		{600, 90, 100},
		{50, 10, 60},
		{0, 0, 0},
		{99.9, 0, 99},
		{-20, 30, 30},
		{40, -5, 40},
		{100, 100, 100},
	}
	for _, c := range cases {
		if got := domain.Priority(c.impact, c.urgency); got != c.want {
			t.Fatalf("Priority(%v, %d) = %d, want %d", c.impact, c.urgency, got, c.want)
		}
	}
}

// Property: 0 <= Priority(impact, urgency) <= 100 for any inputs.
func TestPriorityBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("priority stays within 0..100", prop.ForAll(
		func(impact float64, urgency int) bool {
			p := domain.Priority(impact, urgency)
			return p >= 0 && p <= domain.ScoreCap
		},
		gen.Float64Range(-1e9, 1e9),
		gen.IntRange(-1_000_000, 1_000_000),
	))

	properties.Property("priority is monotonic in impact", prop.ForAll(
		func(impact, extra float64, urgency int) bool {
			return domain.Priority(impact+extra, urgency) >= domain.Priority(impact, urgency)
		},
		gen.Float64Range(0, 1e6),
		gen.Float64Range(0, 1e6),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"approved", "rejected", "modified"} {
		if _, err := domain.ParseDecision(s); err != nil {
			t.Fatalf("ParseDecision(%q): %v", s, err)
		}
	}
	for _, s := range []string{"pending", "", "APPROVED"} {
		if _, err := domain.ParseDecision(s); err == nil {
			t.Fatalf("ParseDecision(%q) should fail", s)
		}
	}
}

func TestGroupKeys(t *testing.T) {
	want := []string{"high_value_deals", "strategic_decisions", "client_communications", "resource_reallocations", "emergency_responses"}
	for i, vt := range domain.ValidationTypes {
		if vt.GroupKey() != want[i] {
			t.Fatalf("GroupKey(%s) = %s, want %s", vt, vt.GroupKey(), want[i])
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if domain.StatusPending.Terminal() || !domain.StatusModified.Terminal() {
		t.Fatalf("validation terminal states wrong")
	}
	if domain.WorkflowInProgress.Terminal() || !domain.WorkflowEscalated.Terminal() {
		t.Fatalf("workflow terminal states wrong")
	}
}
