package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codeStep(desc, code string) Step {
	return Step{Description: desc, ToolCalls: []ToolCall{RunCode{Code: code}}}
}

func samplePlan() *Plan {
	p := &Plan{Steps: []Step{
		codeStep("load data", "import pandas as pd\ndf = pd.read_csv('x.csv')"),
		codeStep("compute", "import numpy as np\nx = np.mean(df.a)"),
		{Description: "answer", ToolCalls: []ToolCall{DeclareDone{Answer: "mean is {x}"}}},
	}}
	p.Renumber()
	return p
}

func assertContiguous(t *testing.T, p *Plan) {
	t.Helper()
	for i, s := range p.Steps {
		assert.Equal(t, i+1, s.Number, "step at position %d", i)
	}
}

func TestApplyDecision_InsertSteps(t *testing.T) {
	p := samplePlan()
	failedCell := 4
	p.Steps[1].CellIndex = IntPtr(failedCell)

	install := Step{
		Number:      99,
		Description: "install numpy",
		CellIndex:   IntPtr(7),
		ToolCalls:   []ToolCall{RunCode{Code: "%pip install numpy", CellIndex: IntPtr(7), Operation: OperationUpdate}},
	}
	app, err := ApplyDecision(p, 1, InsertSteps{Steps: []Step{install}}, IntPtr(failedCell))
	require.NoError(t, err)

	got := app.Plan
	require.Len(t, got.Steps, 4)
	assertContiguous(t, got)
	assert.NoError(t, got.Validate())

	inserted := got.Steps[1]
	assert.Equal(t, "install numpy", inserted.Description)
	assert.True(t, inserted.IsNew)
	assert.Nil(t, inserted.CellIndex, "inserted steps always target new cells")
	rc := inserted.ToolCalls[0].(RunCode)
	assert.Nil(t, rc.CellIndex)
	assert.Equal(t, OperationInsert, rc.Operation)

	failed := got.Steps[2]
	assert.Equal(t, "compute", failed.Description)
	require.NotNil(t, failed.CellIndex)
	assert.Equal(t, failedCell, *failed.CellIndex, "failed step keeps its cell until refined or replaced")
	assert.False(t, failed.WasReplanned)

	// the input revision is untouched
	assert.Len(t, p.Steps, 3)
	assert.Equal(t, 2, p.Steps[1].Number)
}

func TestApplyDecision_Refine(t *testing.T) {
	t.Run("keeps known target", func(t *testing.T) {
		p := samplePlan()
		p.Steps[1].CellIndex = IntPtr(3)

		app, err := ApplyDecision(p, 1, Refine{Code: "x = 1"}, IntPtr(8))
		require.NoError(t, err)

		s := app.Plan.Steps[1]
		assert.True(t, s.WasReplanned)
		require.NotNil(t, s.CellIndex)
		assert.Equal(t, 3, *s.CellIndex)
		rc := s.ToolCalls[0].(RunCode)
		assert.Equal(t, "x = 1", rc.Code)
		require.NotNil(t, rc.CellIndex)
		assert.Equal(t, 3, *rc.CellIndex)
		assert.Equal(t, OperationUpdate, rc.Operation)
	})

	t.Run("falls back to failed cell", func(t *testing.T) {
		p := samplePlan()
		app, err := ApplyDecision(p, 1, Refine{Code: "x = 2"}, IntPtr(5))
		require.NoError(t, err)
		s := app.Plan.Steps[1]
		require.NotNil(t, s.CellIndex)
		assert.Equal(t, 5, *s.CellIndex)
	})

	t.Run("step without code gains one", func(t *testing.T) {
		p := &Plan{Steps: []Step{{ToolCalls: []ToolCall{Annotate{Content: "# notes"}}}}}
		p.Renumber()
		app, err := ApplyDecision(p, 0, Refine{Code: "y = 3"}, nil)
		require.NoError(t, err)
		calls := app.Plan.Steps[0].ToolCalls
		require.Len(t, calls, 2)
		assert.Equal(t, "y = 3", calls[0].(RunCode).Code)
		assert.Nil(t, calls[0].(RunCode).CellIndex)
	})

	t.Run("empty code rejected", func(t *testing.T) {
		_, err := ApplyDecision(samplePlan(), 1, Refine{}, nil)
		assert.ErrorIs(t, err, ErrEmptyDecision)
	})
}

func TestApplyDecision_ReplaceStep(t *testing.T) {
	p := samplePlan()
	p.Steps[1].CellIndex = IntPtr(4)

	repl := Step{
		Description: "compute with stdlib",
		CellIndex:   IntPtr(4),
		ToolCalls:   []ToolCall{RunCode{Code: "import statistics\nx = statistics.mean(df.a)", CellIndex: IntPtr(4)}},
	}
	app, err := ApplyDecision(p, 1, ReplaceStep{Step: repl}, IntPtr(4))
	require.NoError(t, err)

	s := app.Plan.Steps[1]
	assert.Equal(t, 2, s.Number)
	assert.True(t, s.IsReplaced)
	assert.Nil(t, s.CellIndex, "replacement never reuses the failed cell")
	assert.Nil(t, s.ToolCalls[0].(RunCode).CellIndex)
	assertContiguous(t, app.Plan)
}

func TestApplyDecision_ReplanRemaining(t *testing.T) {
	t.Run("with declare done", func(t *testing.T) {
		p := samplePlan()
		tail := []Step{
			codeStep("retry compute", "x = sum(df.a) / len(df.a)"),
			{Description: "answer", ToolCalls: []ToolCall{DeclareDone{Answer: "{x}"}}},
		}
		app, err := ApplyDecision(p, 1, ReplanRemaining{Steps: tail}, nil)
		require.NoError(t, err)
		require.Len(t, app.Plan.Steps, 3)
		assertContiguous(t, app.Plan)
		assert.Empty(t, app.Warnings)
		assert.Equal(t, "load data", app.Plan.Steps[0].Description)
		assert.True(t, app.Plan.Steps[1].IsNew)
	})

	t.Run("warns without declare done", func(t *testing.T) {
		p := samplePlan()
		app, err := ApplyDecision(p, 0, ReplanRemaining{Steps: []Step{codeStep("a", "a = 1"), codeStep("b", "b = 2")}}, nil)
		require.NoError(t, err)
		assertContiguous(t, app.Plan)
		require.Len(t, app.Warnings, 1)
		assert.Contains(t, app.Warnings[0], "declare_done")
	})
}

func TestApplyDecision_ContiguousAcrossRepeatedEdits(t *testing.T) {
	p := samplePlan()
	for i := 0; i < 5; i++ {
		app, err := ApplyDecision(p, i%p.Len(), InsertSteps{Steps: []Step{codeStep("fix", "pass"), codeStep("fix2", "pass")}}, nil)
		require.NoError(t, err)
		p = app.Plan
		assertContiguous(t, p)

		app, err = ApplyDecision(p, p.Len()-1, ReplanRemaining{Steps: []Step{codeStep("tail", "pass")}}, nil)
		require.NoError(t, err)
		p = app.Plan
		assertContiguous(t, p)
	}
}

func TestApplyDecision_Errors(t *testing.T) {
	p := samplePlan()

	_, err := ApplyDecision(p, 3, Refine{Code: "x"}, nil)
	assert.ErrorIs(t, err, ErrStepOutOfRange)

	_, err = ApplyDecision(p, -1, Refine{Code: "x"}, nil)
	assert.ErrorIs(t, err, ErrStepOutOfRange)

	_, err = ApplyDecision(p, 0, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownDecision)

	_, err = ApplyDecision(p, 0, InsertSteps{}, nil)
	assert.ErrorIs(t, err, ErrEmptyDecision)

	_, err = ApplyDecision(p, 0, ReplaceStep{}, nil)
	assert.ErrorIs(t, err, ErrEmptyDecision)

	_, err = ApplyDecision(p, 0, ReplanRemaining{}, nil)
	assert.ErrorIs(t, err, ErrEmptyDecision)
}
