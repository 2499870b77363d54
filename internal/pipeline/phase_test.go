package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTask(table string) Task {
	return Task{
		Action: "db_insert",
		Params: map[string]any{"table": table, "fields": map[string]any{"ok": true}},
	}
}

func TestPhasesRunInDependencyOrder(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Phases: []Phase{
				{Name: "publish", DependsOn: []string{"prepare"}, Tasks: []Task{insertTask("published")}},
				{Name: "prepare", Tasks: []Task{insertTask("prepared")}},
				{Name: "report", DependsOn: []string{"publish"}, Tasks: []Task{insertTask("reported")}},
			},
		},
	})
	st := &fakeStorage{}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.StepsExecuted)

	require.Len(t, st.inserts, 3)
	assert.Equal(t, "prepared", st.inserts[0].Table)
	assert.Equal(t, "published", st.inserts[1].Table)
	assert.Equal(t, "reported", st.inserts[2].Table)
}

func TestPhaseUnknownDependency(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Phases: []Phase{
				{Name: "publish", DependsOn: []string{"ghost"}, Tasks: []Task{insertTask("published")}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})
	require.Error(t, res.Err)
	assert.True(t, IsConfigError(res.Err))
	assert.Contains(t, res.Err.Error(), "ghost")
}

func TestPhaseCycle(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Phases: []Phase{
				{Name: "a", DependsOn: []string{"b"}},
				{Name: "b", DependsOn: []string{"a"}},
			},
		},
	})
	r := newTestRunner(src, &fakeStorage{})

	res := r.Run(context.Background(), "p", Options{})
	require.Error(t, res.Err)
	assert.True(t, IsConfigError(res.Err))
	assert.Contains(t, res.Err.Error(), "cycle")
}

func TestPhaseDuplicateName(t *testing.T) {
	_, err := orderPhases([]Phase{{Name: "a"}, {Name: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestPhaseConditionSkip(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Phases: []Phase{
				{Name: "weekend", Condition: "weekday == 'Saturday'", Tasks: []Task{insertTask("weekend")}},
				{Name: "always", Tasks: []Task{insertTask("always")}},
			},
		},
	})
	st := &fakeStorage{}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{})

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.StepsExecuted)
	require.Len(t, st.inserts, 1)
	assert.Equal(t, "always", st.inserts[0].Table)
}

func TestPhaseTaskErrorDoesNotAbortLaterPhases(t *testing.T) {
	src := testSource(map[string]*Definition{
		"p": {
			ID: "p",
			Phases: []Phase{
				{Name: "broken", Tasks: []Task{{Action: "no_such_action"}}},
				{Name: "after", Tasks: []Task{insertTask("after")}},
			},
		},
	})
	st := &fakeStorage{}
	r := newTestRunner(src, st)

	res := r.Run(context.Background(), "p", Options{})

	assert.NoError(t, res.Err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "broken/no_such_action")
	require.Len(t, st.inserts, 1)
	assert.Equal(t, "after", st.inserts[0].Table)
}
