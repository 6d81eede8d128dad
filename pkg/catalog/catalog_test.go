package catalog

import (
	"testing"

	"github.com/petrijr/stepflow/pkg/api"
)

func TestDefault_ShapeAndEndpoints(t *testing.T) {
	table := Default()

	if table.Len() != 28 {
		t.Fatalf("expected 28 steps, got %d", table.Len())
	}
	if table.First() != StepConsent {
		t.Fatalf("expected first step %q, got %q", StepConsent, table.First())
	}
	if table.Terminal() != StepComplete {
		t.Fatalf("expected terminal step %q, got %q", StepComplete, table.Terminal())
	}
}

func TestNext_IsDeterministic(t *testing.T) {
	table := Default()

	payload := map[string]any{"choice": "confirm", "amount": 4200}
	first, ok := table.Next(StepIncomeCapture, payload)
	if !ok {
		t.Fatalf("expected a successor for %q", StepIncomeCapture)
	}
	for i := 0; i < 100; i++ {
		next, ok := table.Next(StepIncomeCapture, payload)
		if !ok || next != first {
			t.Fatalf("iteration %d: expected %q, got %q (ok=%v)", i, first, next, ok)
		}
	}
}

func TestNext_CatalogOrder(t *testing.T) {
	table := Default()

	next, ok := table.Next(StepConsent, nil)
	if !ok || next != StepWelcome {
		t.Fatalf("expected %q after %q, got %q (ok=%v)", StepWelcome, StepConsent, next, ok)
	}
}

func TestNext_IncomeBranches(t *testing.T) {
	table := Default()

	cases := []struct {
		choice string
		want   api.StepID
	}{
		{"confirm", StepIncomeConfirm},
		{"manual", StepIncomeManual},
		{"retry", StepIncomeCapture},
		{"something-else", StepIncomeConfirm}, // falls back to catalog order
		{"", StepIncomeConfirm},
	}
	for _, tc := range cases {
		next, ok := table.Next(StepIncomeCapture, map[string]any{"choice": tc.choice})
		if !ok {
			t.Fatalf("choice %q: expected a successor", tc.choice)
		}
		if next != tc.want {
			t.Fatalf("choice %q: expected %q, got %q", tc.choice, tc.want, next)
		}
	}
}

func TestNext_FixedBranchesIgnorePayload(t *testing.T) {
	table := Default()

	next, ok := table.Next(StepIncomeConfirm, map[string]any{"choice": "manual"})
	if !ok || next != StepExpensesHousing {
		t.Fatalf("expected %q after income-confirm, got %q (ok=%v)", StepExpensesHousing, next, ok)
	}

	next, ok = table.Next(StepBankConnect, map[string]any{"connected": false})
	if !ok || next != StepHousehold {
		t.Fatalf("expected %q after bank-connect, got %q (ok=%v)", StepHousehold, next, ok)
	}
}

func TestNext_TerminalHasNoSuccessor(t *testing.T) {
	table := Default()

	if next, ok := table.Next(StepComplete, nil); ok {
		t.Fatalf("expected no successor for terminal step, got %q", next)
	}
}

func TestProgress_FirstStep(t *testing.T) {
	table := Default()

	p := table.Progress(StepConsent)
	if p.Index != 1 {
		t.Fatalf("expected index 1, got %d", p.Index)
	}
	if p.Total != 28 {
		t.Fatalf("expected total 28, got %d", p.Total)
	}
	if p.Percentage != 4 {
		t.Fatalf("expected 4%%, got %d%%", p.Percentage)
	}
	if p.NextStep != StepWelcome || p.NextLabel == "" {
		t.Fatalf("unexpected next step %q (%q)", p.NextStep, p.NextLabel)
	}
}

func TestProgress_TerminalStep(t *testing.T) {
	table := Default()

	p := table.Progress(StepComplete)
	if p.Index != 28 || p.Percentage != 100 {
		t.Fatalf("expected 28/100%%, got %d/%d%%", p.Index, p.Percentage)
	}
	if p.NextStep != "" {
		t.Fatalf("terminal step should have no next, got %q", p.NextStep)
	}
}

func TestProgress_NonDecreasingAlongCatalogOrder(t *testing.T) {
	table := Default()

	prev := -1
	for _, d := range table.Steps() {
		p := table.Progress(d.ID)
		if p.Percentage < prev {
			t.Fatalf("percentage dropped from %d to %d at %q", prev, p.Percentage, d.ID)
		}
		prev = p.Percentage
	}
	if prev != 100 {
		t.Fatalf("expected the walk to end at 100%%, got %d%%", prev)
	}
}

func TestNew_PanicsOnDuplicateStep(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for duplicate step")
		}
	}()
	New([]api.StepDescriptor{
		{ID: "a", Label: "A"},
		{ID: "a", Label: "A again"},
	}, nil)
}

func TestNew_PanicsOnBranchForUnknownStep(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown branch step")
		}
	}()
	New([]api.StepDescriptor{{ID: "a", Label: "A"}}, map[api.StepID]BranchFunc{
		"missing": fixed("a"),
	})
}

func TestSteps_ReturnsACopy(t *testing.T) {
	table := Default()

	steps := table.Steps()
	steps[0].ID = "mutated"

	if table.First() != StepConsent {
		t.Fatalf("mutating the returned slice changed the table")
	}
}
