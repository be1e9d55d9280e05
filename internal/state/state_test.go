package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipewright/internal/module"
	"github.com/roach88/pipewright/internal/testutil"
)

func mod(name string, ins []module.Input, outs ...string) module.Module {
	return module.MustFunc(module.Definition{Name: name, Inputs: ins, Outputs: outs},
		func(context.Context, *module.JobContext) (module.Manifest, error) { return nil, nil })
}

func in(item string) module.Input { return module.Input{Item: item} }

func grouped(item, by string) module.Input { return module.Input{Item: item, GroupBy: by} }

// pipeline splits each sample into parts, processes every part, and
// collects the processed parts of each sample.
func pipeline() []module.Module {
	return []module.Module{
		mod("split", []module.Input{in("sample")}, "part"),
		mod("proc", []module.Input{in("part")}, "processed"),
		mod("collect", []module.Input{grouped("processed", "sample")}, "report"),
	}
}

func newTestState(t *testing.T, steps []module.Module, given map[string][]string) *State {
	t.Helper()
	s, err := MakeNew(t.TempDir(), steps, given, WithIDGenerator(testutil.NewSequentialIDs("i")))
	require.NoError(t, err)
	return s
}

func completeJob(t *testing.T, s *State, job *JobInstance, out module.Manifest) []*ItemInstance {
	t.Helper()
	created, err := s.RegisterJobComplete(job.ID, out)
	require.NoError(t, err)
	return created
}

func values(insts []*ItemInstance) []string {
	out := make([]string, len(insts))
	for i, ii := range insts {
		out[i] = ii.Value
	}
	return out
}

func jobIDs(jobs []*JobInstance) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestMakeNew_GivenInstances(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2"}})

	assert.Equal(t, []string{"s1", "s2"}, values(s.Items("sample")))
	assert.Equal(t, []string{"i001", "i002"}, s.Given())
	for _, ii := range s.Items("sample") {
		assert.True(t, ii.Given())
	}
	assert.Equal(t, []string{"sample", "split", "part", "proc", "processed"}, s.GroupPath("processed", "sample"))
}

func TestMakeNew_DuplicateModule(t *testing.T) {
	steps := []module.Module{mod("a", []module.Input{in("x")}, "y"), mod("a", []module.Input{in("y")}, "z")}
	_, err := MakeNew(t.TempDir(), steps, nil)
	require.ErrorIs(t, err, ErrDuplicateModule)
}

func TestMakeNew_InvalidGrouping(t *testing.T) {
	steps := []module.Module{
		mod("a", []module.Input{in("x")}, "y"),
		mod("b", []module.Input{grouped("y", "unrelated")}, "z"),
	}
	_, err := MakeNew(t.TempDir(), steps, nil)
	require.ErrorIs(t, err, ErrInvalidGrouping)
}

func TestMakeNew_MaskingByPlanOrder(t *testing.T) {
	steps := []module.Module{
		mod("first", []module.Input{in("a")}, "x", "y"),
		mod("second", []module.Input{in("a")}, "x", "z"),
		mod("third", []module.Input{in("a")}, "given_too"),
	}
	s := newTestState(t, steps, map[string][]string{"a": {"a1"}, "given_too": {"g"}})

	assert.Empty(t, s.Masked("first"))
	assert.Equal(t, []string{"x"}, s.Masked("second"))
	assert.Equal(t, []string{"given_too"}, s.Masked("third"))

	jobs := s.Update()
	require.Len(t, jobs, 3)
	created := completeJob(t, s, jobs[1], module.Manifest{"x": {"dup"}, "z": {"z1"}})
	assert.Equal(t, []string{"z1"}, values(created), "masked output is discarded")
	assert.Empty(t, s.Items("x"))
}

func TestUpdate_Idempotent(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2"}})

	first := s.Update()
	require.Len(t, first, 2)
	assert.Empty(t, s.Update())
	assert.Len(t, s.Jobs(), 2)

	for _, j := range first {
		assert.Len(t, s.Reservations(j.Inputs["sample"][0].ID), 1)
	}
}

func TestUpdate_CrossesPlainInputs(t *testing.T) {
	steps := []module.Module{mod("pair", []module.Input{in("a"), in("b")}, "c")}
	s := newTestState(t, steps, map[string][]string{"a": {"a1", "a2"}, "b": {"b1", "b2", "b3"}})

	jobs := s.Update()
	assert.Len(t, jobs, 6)
	assert.Empty(t, s.Update())
}

func TestGroupBy_SingletonGroupsExcludeIncompleteChains(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2", "s3"}})

	splits := s.Update()
	require.Len(t, splits, 3)
	for i, j := range splits {
		completeJob(t, s, j, module.Manifest{"part": {fmt.Sprintf("p%d", i+1)}})
	}
	procs := s.Update()
	require.Len(t, procs, 3)
	completeJob(t, s, procs[0], module.Manifest{"processed": {"q1"}})
	completeJob(t, s, procs[1], module.Manifest{"processed": {"q2"}})

	groups := s.groupBy("processed", "sample")
	require.Len(t, groups, 2, "sample with a pending chain is excluded")
	assert.Equal(t, "s1", groups[0].root.Value)
	assert.Equal(t, []string{"q1"}, values(groups[0].members))
	assert.Equal(t, "s2", groups[1].root.Value)
	assert.Equal(t, []string{"q2"}, values(groups[1].members))

	collects := s.Update()
	require.Len(t, collects, 2)
	assert.Empty(t, s.Update())

	completeJob(t, s, procs[2], module.Manifest{"processed": {"q3"}})
	collects = s.Update()
	require.Len(t, collects, 1)
	assert.Equal(t, []string{"q3"}, values(collects[0].Inputs["processed"]))
}

func TestGroupBy_CollectsEveryDescendant(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2"}})

	for i, j := range s.Update() {
		completeJob(t, s, j, module.Manifest{"part": {fmt.Sprintf("p%da", i+1), fmt.Sprintf("p%db", i+1)}})
	}
	procs := s.Update()
	require.Len(t, procs, 4)

	// No group is complete until every part of the sample is processed.
	completeJob(t, s, procs[0], module.Manifest{"processed": {"q1a"}})
	assert.Empty(t, s.Update())

	for _, j := range procs[1:] {
		completeJob(t, s, j, module.Manifest{"processed": {"q" + j.Inputs["part"][0].Value[1:]}})
	}
	collects := s.Update()
	require.Len(t, collects, 2)
	assert.Equal(t, []string{"q1a", "q1b"}, values(collects[0].Inputs["processed"]))
	assert.Equal(t, []string{"q2a", "q2b"}, values(collects[1].Inputs["processed"]))
}

func TestGroupBy_JoinsOnPlainRoot(t *testing.T) {
	steps := []module.Module{
		mod("proc", []module.Input{in("sample")}, "processed"),
		mod("annotate", []module.Input{in("sample"), grouped("processed", "sample")}, "annotated"),
	}
	s := newTestState(t, steps, map[string][]string{"sample": {"s1", "s2"}})

	for i, j := range s.Update() {
		completeJob(t, s, j, module.Manifest{"processed": {fmt.Sprintf("q%d", i+1)}})
	}
	jobs := s.Update()
	require.Len(t, jobs, 2, "one job per sample, never a cross of samples")
	for _, j := range jobs {
		sample := j.Inputs["sample"][0]
		require.Len(t, j.Inputs["processed"], 1)
		assert.Equal(t, sample.ID, j.Inputs["processed"][0].MadeBy.Inputs["sample"][0].ID)
	}
}

func TestRegisterJobComplete(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1"}})
	job := s.Update()[0]

	created := completeJob(t, s, job, module.Manifest{"part": {"p1", "p2"}, "bogus": {"x"}})
	require.Len(t, created, 2)
	for _, ii := range created {
		assert.Same(t, job, ii.MadeBy)
	}
	assert.True(t, job.Complete)
	assert.Empty(t, s.Pending())

	_, err := s.RegisterJobComplete(job.ID, nil)
	require.Error(t, err)
	_, err = s.RegisterJobComplete("ghost", nil)
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestRegisterJobFailed(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2"}})
	jobs := s.Update()

	require.NoError(t, s.RegisterJobFailed(jobs[0].ID, fmt.Errorf("exit status 3")))
	assert.Equal(t, jobIDs(jobs), jobIDs(s.Pending()))
	assert.Equal(t, jobIDs(jobs[1:]), jobIDs(s.Runnable()))
	assert.Equal(t, map[string]string{jobs[0].ID: "exit status 3"}, s.Failed())

	assert.Equal(t, []string{jobs[0].ID}, s.ClearFailed())
	assert.Equal(t, jobIDs(jobs), jobIDs(s.Runnable()))
	require.ErrorIs(t, s.RegisterJobFailed("ghost", nil), ErrUnknownJob)
}

func chainState(t *testing.T) *State {
	steps := []module.Module{
		mod("ab", []module.Input{in("a")}, "b"),
		mod("bc", []module.Input{in("b")}, "c"),
	}
	s := newTestState(t, steps, map[string][]string{"a": {"a1"}})
	completeJob(t, s, s.Update()[0], module.Manifest{"b": {"b1"}})
	completeJob(t, s, s.Update()[0], module.Manifest{"c": {"c1"}})
	require.Empty(t, s.Update())
	return s
}

func TestInvalidate_CascadesDownstream(t *testing.T) {
	s := chainState(t)
	a1 := s.Items("a")[0]

	inv := s.Invalidate([]string{"b"})
	require.Len(t, inv.Jobs, 2)
	assert.Equal(t, "ab", inv.Jobs[0].Module.Name())
	assert.Equal(t, "bc", inv.Jobs[1].Module.Name())
	assert.Equal(t, []string{"b1", "c1"}, values(inv.Items))

	assert.Empty(t, s.Items("b"))
	assert.Empty(t, s.Items("c"))
	assert.Empty(t, s.Jobs())
	assert.Empty(t, s.Reservations(a1.ID))
	assert.Equal(t, []*ItemInstance{a1}, s.Items("a"))

	redo := s.Update()
	require.Len(t, redo, 1, "invalidated combination can be scheduled again")
	assert.Equal(t, "ab", redo[0].Module.Name())
}

func TestInvalidate_KeepsGivenItems(t *testing.T) {
	s := chainState(t)
	given := s.Given()

	inv := s.Invalidate([]string{"a"})
	assert.Len(t, inv.Jobs, 2)
	assert.Equal(t, given, s.Given())
	assert.Equal(t, []string{"a1"}, values(s.Items("a")))
	for _, ii := range inv.Items {
		assert.False(t, ii.Given())
	}
	assert.Len(t, s.Update(), 1)
}

func TestInvalidate_UnknownItemIsNoop(t *testing.T) {
	s := chainState(t)
	assert.True(t, s.Invalidate([]string{"nope"}).Empty())
	assert.Len(t, s.Jobs(), 2)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	steps := pipeline()
	ws := t.TempDir()
	s, err := MakeNew(ws, steps, map[string][]string{"sample": {"s1", "s2"}}, WithIDGenerator(testutil.NewSequentialIDs("i")))
	require.NoError(t, err)

	for i, j := range s.Update() {
		completeJob(t, s, j, module.Manifest{"part": {fmt.Sprintf("p%d", i+1)}})
	}
	procs := s.Update()
	completeJob(t, s, procs[0], module.Manifest{"processed": {"q1"}})
	require.NoError(t, s.RegisterJobFailed(procs[1].ID, fmt.Errorf("boom")))
	s.Update()
	require.NoError(t, s.Save())

	loaded, err := LoadFromDisk(ws, steps, WithIDGenerator(testutil.NewSequentialIDs("i")))
	require.NoError(t, err)

	assert.Equal(t, jobIDs(s.Pending()), jobIDs(loaded.Pending()))
	assert.Equal(t, jobIDs(s.Jobs()), jobIDs(loaded.Jobs()))
	assert.Equal(t, s.Failed(), loaded.Failed())
	assert.Equal(t, s.Given(), loaded.Given())

	for _, name := range s.ItemNames() {
		for _, ii := range s.Items(name) {
			got, ok := loaded.Item(ii.ID)
			require.True(t, ok, ii.ID)
			assert.Equal(t, ii.Value, got.Value)
			assert.Equal(t, ii.Item, got.Item)
			if ii.MadeBy == nil {
				assert.Nil(t, got.MadeBy)
			} else {
				require.NotNil(t, got.MadeBy)
				assert.Equal(t, ii.MadeBy.ID, got.MadeBy.ID)
				assert.Same(t, got.MadeBy, mustJob(t, loaded, ii.MadeBy.ID))
			}
			assert.Equal(t, jobIDs(s.Reservations(ii.ID)), jobIDs(loaded.Reservations(ii.ID)))
		}
	}

	assert.Empty(t, loaded.Update(), "loaded store has nothing new to schedule")
	next := completeJob(t, loaded, mustJob(t, loaded, procs[1].ID), module.Manifest{"processed": {"q2"}})
	require.Len(t, next, 1)
	_, clash := s.Item(next[0].ID)
	assert.False(t, clash, "ids issued after load never collide")
}

func mustJob(t *testing.T, s *State, id string) *JobInstance {
	t.Helper()
	j, ok := s.Job(id)
	require.True(t, ok, id)
	return j
}

func TestSave_Keys(t *testing.T) {
	s := chainState(t)
	require.NoError(t, s.Save())

	data, err := os.ReadFile(Path(s.Workspace()))
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"modules", "module_executions", "completed_modules", "item_instances", "given", "item_instance_reservations", "pending_jobs", "fingerprint"} {
		assert.Contains(t, raw, key)
	}
}

func TestLoad_ModuleMismatch(t *testing.T) {
	s := chainState(t)
	require.NoError(t, s.Save())

	other := []module.Module{
		mod("ab", []module.Input{in("a")}, "b"),
		mod("bc", []module.Input{in("b")}, "c", "d"),
	}
	_, err := LoadFromDisk(s.Workspace(), other)
	require.ErrorIs(t, err, ErrModuleMismatch)
}

func TestLoad_CorruptState(t *testing.T) {
	s := chainState(t)
	require.NoError(t, s.Save())
	path := Path(s.Workspace())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	items := raw["item_instances"].(map[string]any)
	for _, inst := range items["b"].(map[string]any) {
		inst.(map[string]any)["made_by"] = "ghost"
	}
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadFromDisk(s.Workspace(), []module.Module{
		mod("ab", []module.Input{in("a")}, "b"),
		mod("bc", []module.Input{in("b")}, "c"),
	})
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))
}

// descendingIDs issues ids that sort opposite to their issue order.
type descendingIDs struct{ n int }

func (d *descendingIDs) Generate() string {
	d.n--
	return fmt.Sprintf("z%03d", d.n)
}

func TestSaveLoad_KeepsRegistrationOrder(t *testing.T) {
	steps := pipeline()
	ws := t.TempDir()
	s, err := MakeNew(ws, steps, map[string][]string{"sample": {"s1", "s2", "s3"}}, WithIDGenerator(&descendingIDs{n: 1000}))
	require.NoError(t, err)
	require.NoError(t, s.Save())

	loaded, err := LoadFromDisk(ws, steps, WithIDGenerator(&descendingIDs{n: 1000}))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, values(loaded.Items("sample")))

	manifests := func(jobs []*JobInstance) []module.Manifest {
		out := make([]module.Manifest, len(jobs))
		for i, j := range jobs {
			out[i] = j.Manifest()
		}
		return out
	}
	assert.Equal(t, manifests(s.Update()), manifests(loaded.Update()))
}

func TestResumeIfPossible(t *testing.T) {
	steps := pipeline()
	ws := t.TempDir()
	given := map[string][]string{"sample": {"s1"}}

	s, resumed, err := ResumeIfPossible(ws, steps, given)
	require.NoError(t, err)
	assert.False(t, resumed)
	s.Update()
	require.NoError(t, s.Save())

	again, resumed, err := ResumeIfPossible(ws, steps, given)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, jobIDs(s.Pending()), jobIDs(again.Pending()))
}

func TestRelocate(t *testing.T) {
	s := chainState(t)
	require.NoError(t, s.Save())
	ws := s.Workspace()
	for _, j := range s.Jobs() {
		require.NoError(t, os.MkdirAll(filepath.Join(ws, j.Folder()), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(ws, j.Folder(), "out.txt"), []byte("x"), 0o644))
	}

	inv := s.Invalidate([]string{"c"})
	require.Len(t, inv.Jobs, 1)
	dest, err := s.Relocate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "previous_run_001"), dest)
	assert.FileExists(t, filepath.Join(dest, inv.Jobs[0].Folder(), "out.txt"))
	assert.FileExists(t, filepath.Join(dest, FileName))
	assert.NoDirExists(t, filepath.Join(ws, inv.Jobs[0].Folder()))
	assert.False(t, Exists(ws))

	require.NoError(t, s.Save())
	assert.True(t, Exists(ws))

	dest, err = s.Relocate(context.Background(), s.Invalidate([]string{"b"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "previous_run_002"), dest)

	dest, err = s.Relocate(context.Background(), &Invalidation{})
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func TestIDCollisionsAreSkipped(t *testing.T) {
	s, err := MakeNew(t.TempDir(), pipeline(), map[string][]string{"sample": {"s1", "s2", "s3"}},
		WithIDGenerator(testutil.NewRepeatingIDs("a", "a", "b", "c", "d")))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, s.Given())
}

func TestModuleSetFingerprint(t *testing.T) {
	a, err := ModuleSetFingerprint(pipeline())
	require.NoError(t, err)
	b, err := ModuleSetFingerprint(pipeline())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ModuleSetFingerprint(pipeline()[:2])
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestInspect(t *testing.T) {
	s := newTestState(t, pipeline(), map[string][]string{"sample": {"s1", "s2"}})
	for i, j := range s.Update() {
		completeJob(t, s, j, module.Manifest{"part": {fmt.Sprintf("p%d", i+1)}})
	}
	procs := s.Update()
	require.Len(t, procs, 2)
	completeJob(t, s, procs[0], module.Manifest{"processed": {"q1"}})
	require.NoError(t, s.RegisterJobFailed(procs[1].ID, fmt.Errorf("boom")))
	require.NoError(t, s.Save())

	sum, err := Inspect(s.Workspace())
	require.NoError(t, err)

	assert.Equal(t, s.Fingerprint(), sum.Fingerprint)
	assert.Equal(t, []string{"collect", "proc", "split"}, sum.Modules)
	assert.Equal(t, map[string]int{"split": 2, "proc": 2}, sum.Jobs)
	assert.Equal(t, map[string]int{"split": 2, "proc": 1}, sum.Completed)
	assert.Equal(t, []string{procs[1].ID}, sum.Pending)
	assert.Equal(t, map[string]string{procs[1].ID: "boom"}, sum.Failed)
	assert.Equal(t, map[string]int{"sample": 2, "part": 2, "processed": 1}, sum.Items)
	assert.Equal(t, 2, sum.Given)
}

func TestInspect_Missing(t *testing.T) {
	_, err := Inspect(t.TempDir())
	require.Error(t, err)
}
