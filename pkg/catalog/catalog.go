package catalog

import (
	"fmt"
	"math"

	"github.com/petrijr/stepflow/pkg/api"
)

// Step identifiers for the default onboarding catalog, in catalog order.
const (
	StepConsent         api.StepID = "consent"
	StepWelcome         api.StepID = "welcome"
	StepProfileName     api.StepID = "profile-name"
	StepBirthYear       api.StepID = "birth-year"
	StepRegion          api.StepID = "region"
	StepEmployment      api.StepID = "employment"
	StepIncomeCapture   api.StepID = "income-capture"
	StepIncomeConfirm   api.StepID = "income-confirm"
	StepIncomeManual    api.StepID = "income-manual"
	StepExpensesHousing api.StepID = "expenses-housing"
	StepExpensesUtility api.StepID = "expenses-utilities"
	StepExpensesTransit api.StepID = "expenses-transport"
	StepExpensesFood    api.StepID = "expenses-food"
	StepExpensesSubs    api.StepID = "expenses-subscriptions"
	StepBankConnect     api.StepID = "bank-connect"
	StepHousehold       api.StepID = "household"
	StepDependents      api.StepID = "dependents"
	StepDebts           api.StepID = "debts"
	StepDebtDetail      api.StepID = "debt-detail"
	StepSavings         api.StepID = "savings"
	StepEmergencyFund   api.StepID = "emergency-fund"
	StepGoals           api.StepID = "goals"
	StepGoalPriority    api.StepID = "goal-priority"
	StepRiskProfile     api.StepID = "risk-profile"
	StepNotifications   api.StepID = "notifications"
	StepSummary         api.StepID = "summary"
	StepReviewConfirm   api.StepID = "review-confirm"
	StepComplete        api.StepID = "complete"
)

// BranchFunc resolves a non-default successor for a step. It is evaluated
// against the submission payload; returning ok=false falls back to catalog
// order.
type BranchFunc func(payload map[string]any) (api.StepID, bool)

// Table is the single source of truth for step order, display metadata, and
// branch resolution. It is immutable after construction and safe for
// concurrent use.
type Table struct {
	steps    []api.StepDescriptor
	index    map[api.StepID]int
	branches map[api.StepID]BranchFunc
}

// Default returns the standard 28-step onboarding catalog, from the initial
// consent step to the terminal complete step.
func Default() *Table {
	steps := []api.StepDescriptor{
		{ID: StepConsent, Label: "Terms & consent", Kind: api.KindConsent},
		{ID: StepWelcome, Label: "Welcome", Kind: api.KindInfo},
		{ID: StepProfileName, Label: "Your name", Kind: api.KindForm},
		{ID: StepBirthYear, Label: "Year of birth", Kind: api.KindForm},
		{ID: StepRegion, Label: "Where you live", Kind: api.KindForm},
		{ID: StepEmployment, Label: "Employment", Kind: api.KindChoice},
		{ID: StepIncomeCapture, Label: "Your income", Kind: api.KindChoice},
		{ID: StepIncomeConfirm, Label: "Confirm income", Kind: api.KindReview},
		{ID: StepIncomeManual, Label: "Enter income manually", Kind: api.KindForm, Skippable: true},
		{ID: StepExpensesHousing, Label: "Housing costs", Kind: api.KindForm},
		{ID: StepExpensesUtility, Label: "Utilities", Kind: api.KindForm},
		{ID: StepExpensesTransit, Label: "Transport", Kind: api.KindForm},
		{ID: StepExpensesFood, Label: "Food & groceries", Kind: api.KindForm},
		{ID: StepExpensesSubs, Label: "Subscriptions", Kind: api.KindForm, Skippable: true},
		{ID: StepBankConnect, Label: "Connect your bank", Kind: api.KindConnect},
		{ID: StepHousehold, Label: "Household", Kind: api.KindForm},
		{ID: StepDependents, Label: "Dependents", Kind: api.KindForm, Skippable: true},
		{ID: StepDebts, Label: "Debts", Kind: api.KindChoice},
		{ID: StepDebtDetail, Label: "Debt details", Kind: api.KindForm, Skippable: true},
		{ID: StepSavings, Label: "Savings", Kind: api.KindForm},
		{ID: StepEmergencyFund, Label: "Emergency fund", Kind: api.KindForm},
		{ID: StepGoals, Label: "Your goals", Kind: api.KindChoice},
		{ID: StepGoalPriority, Label: "Prioritize goals", Kind: api.KindForm},
		{ID: StepRiskProfile, Label: "Risk profile", Kind: api.KindChoice},
		{ID: StepNotifications, Label: "Notifications", Kind: api.KindChoice, Skippable: true},
		{ID: StepSummary, Label: "Summary", Kind: api.KindReview},
		{ID: StepReviewConfirm, Label: "Confirm & finish", Kind: api.KindReview},
		{ID: StepComplete, Label: "All set", Kind: api.KindDone},
	}

	branches := map[api.StepID]BranchFunc{
		// Income capture branches on the user's choice: confirm a detected
		// figure, fall back to manual entry, or retry the step itself.
		StepIncomeCapture: func(payload map[string]any) (api.StepID, bool) {
			switch choiceOf(payload) {
			case "confirm":
				return StepIncomeConfirm, true
			case "manual":
				return StepIncomeManual, true
			case "retry":
				return StepIncomeCapture, true
			}
			return "", false
		},

		// Confirming income skips the manual-entry step.
		StepIncomeConfirm: fixed(StepExpensesHousing),

		// The bank connection step always lands on the household step,
		// whatever the payload says.
		StepBankConnect: fixed(StepHousehold),
	}

	return New(steps, branches)
}

// New builds a Table from an ordered descriptor list and a branch table.
// The descriptor order is the catalog order; branches may be nil.
func New(steps []api.StepDescriptor, branches map[api.StepID]BranchFunc) *Table {
	if len(steps) == 0 {
		panic("catalog: empty step list")
	}
	index := make(map[api.StepID]int, len(steps))
	for i, d := range steps {
		if _, dup := index[d.ID]; dup {
			panic(fmt.Sprintf("catalog: duplicate step %q", d.ID))
		}
		index[d.ID] = i
	}
	for id := range branches {
		if _, ok := index[id]; !ok {
			panic(fmt.Sprintf("catalog: branch for unknown step %q", id))
		}
	}
	return &Table{steps: steps, index: index, branches: branches}
}

// ordinal returns the 0-based position of id, panicking on unknown steps.
// An unknown StepID can only come from a programming error, never from a
// client: submissions are matched against the live instance first.
func (t *Table) ordinal(id api.StepID) int {
	i, ok := t.index[id]
	if !ok {
		panic(fmt.Sprintf("catalog: unknown step %q", id))
	}
	return i
}

// Descriptor returns the display metadata for a step.
func (t *Table) Descriptor(id api.StepID) api.StepDescriptor {
	return t.steps[t.ordinal(id)]
}

// Next resolves the successor of current for the given submission payload.
// Branch predicates win over catalog order; the terminal step has no
// successor and returns ok=false.
func (t *Table) Next(current api.StepID, payload map[string]any) (api.StepID, bool) {
	i := t.ordinal(current)
	if branch, ok := t.branches[current]; ok {
		if next, resolved := branch(payload); resolved {
			// Branch targets must themselves be catalog members.
			t.ordinal(next)
			return next, true
		}
	}
	if i+1 >= len(t.steps) {
		return "", false
	}
	return t.steps[i+1].ID, true
}

// Progress computes the client-facing position summary for current.
// Index is 1-based; the denominator is always the full catalog length.
func (t *Table) Progress(current api.StepID) api.Progress {
	i := t.ordinal(current)
	p := api.Progress{
		Index:      i + 1,
		Total:      len(t.steps),
		Percentage: int(math.Round(100 * float64(i+1) / float64(len(t.steps)))),
	}
	if next, ok := t.Next(current, nil); ok {
		p.NextStep = next
		p.NextLabel = t.Descriptor(next).Label
	}
	return p
}

// First returns the catalog's initial step.
func (t *Table) First() api.StepID {
	return t.steps[0].ID
}

// Terminal returns the catalog's final, absorbing step.
func (t *Table) Terminal() api.StepID {
	return t.steps[len(t.steps)-1].ID
}

// Len returns the catalog length.
func (t *Table) Len() int {
	return len(t.steps)
}

// Steps returns the descriptors in catalog order. The returned slice is a
// copy; mutating it does not affect the table.
func (t *Table) Steps() []api.StepDescriptor {
	return append([]api.StepDescriptor(nil), t.steps...)
}

// Contains reports whether id is a catalog member.
func (t *Table) Contains(id api.StepID) bool {
	_, ok := t.index[id]
	return ok
}

func fixed(next api.StepID) BranchFunc {
	return func(map[string]any) (api.StepID, bool) {
		return next, true
	}
}

func choiceOf(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if c, ok := payload["choice"].(string); ok {
		return c
	}
	return ""
}
