package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/umputun/modelgen/app/generator"
	"github.com/umputun/modelgen/app/merger"
	"github.com/umputun/modelgen/app/service/mocks"
)

func writeSchema(t *testing.T, root, name, content string) string {
	t.Helper()
	p := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func okRunner() *mocks.RunnerMock {
	return &mocks.RunnerMock{RunFunc: func(_ context.Context, req generator.Request) (generator.Result, error) {
		return generator.Result{Output: req.Output}, nil
	}}
}

func newBuilder(root, out string, runner Runner) *Builder {
	merged := filepath.Join(filepath.Dir(root), "tmp", "merged.schema.yaml")
	return &Builder{
		SchemasDir:  root,
		EntitiesDir: "entities",
		MergedFile:  merged,
		KeepMerged:  true,
		Merger:      &merger.Merger{Root: root, EntitiesDir: "entities"},
		Targets:     []Target{{Name: "python", OutputDir: out, Ext: ".py", MergeEntities: true, Runner: runner}},
	}
}

func readDefs(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test file
	require.NoError(t, err)
	doc := map[string]any{}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	defs, ok := doc["$defs"].(map[string]any)
	require.True(t, ok, "no $defs in %s", string(data))
	return defs
}

func TestBuilder_DoStockScenario(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas", "stock")
	writeSchema(t, root, "entities/order.schema.yaml", "type: object\ntitle: Order\n")
	trade := writeSchema(t, root, "trade.schema.yaml", "type: object\ntitle: Trade\n")
	out := filepath.Join(tmp, "generated-models", "python", "models", "stock")

	runner := okRunner()
	b := newBuilder(root, out, runner)
	rep, err := b.Do(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	defs := readDefs(t, b.MergedFile)
	assert.Equal(t, map[string]any{"order": map[string]any{"type": "object", "title": "Order"}}, defs)

	calls := runner.RunCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, generator.Request{Input: b.MergedFile, Output: filepath.Join(out, "entities.py")}, calls[0].Req)
	assert.Equal(t, generator.Request{Input: trade, Output: filepath.Join(out, "trade.py"), Reuse: true}, calls[1].Req)
	assert.Equal(t, []string{filepath.Join(out, "entities.py"), filepath.Join(out, "trade.py")}, rep.Generated)

	_, err = os.Stat(b.MergedFile)
	assert.NoError(t, err, "merged file left on disk")
}

func TestBuilder_DoNonEntityNotMerged(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	writeSchema(t, root, "entities/company.schema.yaml", "type: object\n")
	writeSchema(t, root, "summary/input.schema.yaml", "type: object\n")
	writeSchema(t, root, "summary/output.schema.yaml", "type: object\n")

	runner := okRunner()
	b := newBuilder(root, filepath.Join(tmp, "out"), runner)
	_, err := b.Do(context.Background())
	require.NoError(t, err)

	defs := readDefs(t, b.MergedFile)
	assert.Len(t, defs, 1)
	assert.Contains(t, defs, "company")
	assert.NotContains(t, defs, "input")
	assert.NotContains(t, defs, "output")

	for _, c := range runner.RunCalls()[1:] {
		assert.False(t, strings.Contains(c.Req.Input, "entities"), "entity generated separately: %s", c.Req.Input)
	}
	assert.Len(t, runner.RunCalls(), 3)
}

func TestBuilder_DoContinuesAfterFailure(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	writeSchema(t, root, "a.schema.yaml", "type: object\n")
	bad := writeSchema(t, root, "b.schema.yaml", "type: object\n")
	writeSchema(t, root, "c.schema.yaml", "type: object\n")
	out := filepath.Join(tmp, "out")

	runner := &mocks.RunnerMock{RunFunc: func(_ context.Context, req generator.Request) (generator.Result, error) {
		if req.Input == bad {
			return generator.Result{}, &generator.ExecError{Input: req.Input, ExitCode: 1, Stderr: "boom"}
		}
		return generator.Result{Output: req.Output}, nil
	}}
	b := newBuilder(root, out, runner)
	rep, err := b.Do(context.Background())
	require.NoError(t, err)

	require.Len(t, runner.RunCalls(), 4, "merged entities + 3 schemas")
	assert.Equal(t, filepath.Join(root, "c.schema.yaml"), runner.RunCalls()[3].Req.Input, "file after failed one processed")
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, bad, rep.Failed[0].Input)
	assert.Equal(t, "python", rep.Failed[0].Target)
	assert.Equal(t, []string{filepath.Join(out, "entities.py"), filepath.Join(out, "a.py"), filepath.Join(out, "c.py")},
		rep.Generated)

	require.Error(t, rep.Err())
	assert.Contains(t, rep.Err().Error(), "1 of 4 models failed")
	assert.Contains(t, rep.Err().Error(), bad)
}

func TestBuilder_DoEmptyEntities(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "entities"), 0o750))

	runner := okRunner()
	b := newBuilder(root, filepath.Join(tmp, "out"), runner)
	rep, err := b.Do(context.Background())
	require.NoError(t, err)

	assert.Empty(t, readDefs(t, b.MergedFile))
	require.Len(t, runner.RunCalls(), 1)
	assert.Equal(t, b.MergedFile, runner.RunCalls()[0].Req.Input)
	assert.Len(t, rep.Generated, 1)
}

func TestBuilder_DoSymlinkedSchemas(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "real")
	writeSchema(t, target, "entities/order.schema.yaml", "type: object\n")
	writeSchema(t, target, "trade.schema.yaml", "type: object\n")
	shared := writeSchema(t, tmp, "shared/quote.schema.yaml", "type: object\n")
	require.NoError(t, os.Symlink(shared, filepath.Join(target, "quote.schema.yaml")))
	root := filepath.Join(tmp, "schemas")
	require.NoError(t, os.Symlink(target, root))
	out := filepath.Join(tmp, "out")

	runner := okRunner()
	b := newBuilder(root, out, runner)
	rep, err := b.Do(context.Background())
	require.NoError(t, err)

	assert.Contains(t, readDefs(t, b.MergedFile), "order")
	calls := runner.RunCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, generator.Request{Input: filepath.Join(root, "quote.schema.yaml"),
		Output: filepath.Join(out, "quote.py"), Reuse: true}, calls[1].Req)
	assert.Equal(t, generator.Request{Input: filepath.Join(root, "trade.schema.yaml"),
		Output: filepath.Join(out, "trade.py"), Reuse: true}, calls[2].Req)
	assert.Len(t, rep.Generated, 3)
}

func TestBuilder_DoMergedInsideSchemas(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	writeSchema(t, root, "entities/order.schema.yaml", "type: object\n")
	trade := writeSchema(t, root, "trade.schema.yaml", "type: object\n")

	runner := okRunner()
	b := newBuilder(root, filepath.Join(tmp, "out"), runner)
	b.MergedFile = filepath.Join(root, "merged.schema.yaml")
	_, err := b.Do(context.Background())
	require.NoError(t, err)
	assert.Empty(t, b.Suffix, "builder not modified")

	calls := runner.RunCalls()
	require.Len(t, calls, 2, "merged schema is not a standalone schema")
	assert.Equal(t, b.MergedFile, calls[0].Req.Input)
	assert.Equal(t, trade, calls[1].Req.Input)
}

func TestBuilder_DoFatalErrors(t *testing.T) {
	t.Run("runner can't start", func(t *testing.T) {
		tmp := t.TempDir()
		root := filepath.Join(tmp, "schemas")
		writeSchema(t, root, "a.schema.yaml", "type: object\n")
		runner := &mocks.RunnerMock{RunFunc: func(context.Context, generator.Request) (generator.Result, error) {
			return generator.Result{}, errors.New("can't start generator")
		}}
		b := newBuilder(root, filepath.Join(tmp, "out"), runner)
		_, err := b.Do(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "can't start generator")
		assert.Len(t, runner.RunCalls(), 1)
	})

	t.Run("bad entity yaml", func(t *testing.T) {
		tmp := t.TempDir()
		root := filepath.Join(tmp, "schemas")
		writeSchema(t, root, "entities/bad.schema.yaml", "a: [\n")
		runner := okRunner()
		b := newBuilder(root, filepath.Join(tmp, "out"), runner)
		_, err := b.Do(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "can't merge entities")
		assert.Empty(t, runner.RunCalls())
	})

	t.Run("entity collision with fail policy", func(t *testing.T) {
		tmp := t.TempDir()
		root := filepath.Join(tmp, "schemas")
		writeSchema(t, root, "entities/a/order.schema.yaml", "type: object\n")
		writeSchema(t, root, "entities/b/order.schema.yaml", "type: object\n")
		b := newBuilder(root, filepath.Join(tmp, "out"), okRunner())
		b.Merger = &merger.Merger{Root: root, EntitiesDir: "entities", OnCollision: merger.CollisionFail}
		_, err := b.Do(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, merger.ErrCollision)
	})

	t.Run("missing schemas dir", func(t *testing.T) {
		tmp := t.TempDir()
		b := newBuilder(filepath.Join(tmp, "no-such-dir"), filepath.Join(tmp, "out"), okRunner())
		_, err := b.Do(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestBuilder_DoCollisionLastWins(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	writeSchema(t, root, "entities/a/order.schema.yaml", "title: first\n")
	writeSchema(t, root, "entities/b/order.schema.yaml", "title: second\n")

	b := newBuilder(root, filepath.Join(tmp, "out"), okRunner())
	_, err := b.Do(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"order": map[string]any{"title": "second"}}, readDefs(t, b.MergedFile))
}

func TestBuilder_DoSeparateEntities(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	company := writeSchema(t, root, "entities/company.schema.yaml", "type: object\n")
	input := writeSchema(t, root, "analysis/input.schema.yaml", "type: object\n")
	out := filepath.Join(tmp, "ts")

	runner := okRunner()
	b := newBuilder(root, out, runner)
	b.Targets[0] = Target{Name: "typescript", OutputDir: out, Ext: ".ts", MergeEntities: false, Runner: runner}
	rep, err := b.Do(context.Background())
	require.NoError(t, err)

	calls := runner.RunCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, generator.Request{Input: company, Output: filepath.Join(out, "entities", "company.ts")}, calls[0].Req)
	assert.Equal(t, generator.Request{Input: input, Output: filepath.Join(out, "analysis", "input.ts"), Reuse: true},
		calls[1].Req)
	assert.Len(t, rep.Generated, 2)

	_, err = os.Stat(b.MergedFile)
	assert.True(t, os.IsNotExist(err), "no merged file without merging targets")
}

func TestBuilder_DoMultipleTargets(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas")
	writeSchema(t, root, "entities/company.schema.yaml", "type: object\n")
	writeSchema(t, root, "trade.schema.yaml", "type: object\n")

	py, ts := okRunner(), okRunner()
	b := newBuilder(root, filepath.Join(tmp, "py"), py)
	b.KeepMerged = false
	b.Targets = append(b.Targets, Target{Name: "typescript", OutputDir: filepath.Join(tmp, "ts"), Ext: ".ts", Runner: ts})

	rep, err := b.Do(context.Background())
	require.NoError(t, err)
	assert.Len(t, py.RunCalls(), 2)
	assert.Len(t, ts.RunCalls(), 2)
	assert.Equal(t, filepath.Join(tmp, "py", "entities.py"), py.RunCalls()[0].Req.Output)
	assert.Equal(t, filepath.Join(tmp, "ts", "entities", "company.ts"), ts.RunCalls()[0].Req.Output)
	assert.Len(t, rep.Generated, 4)

	_, err = os.Stat(b.MergedFile)
	assert.True(t, os.IsNotExist(err), "merged file removed")
}

func TestBuilder_DoWithGenerator(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "schemas", "stock")
	writeSchema(t, root, "entities/order.schema.yaml", "type: object\n")
	writeSchema(t, root, "trade.schema.yaml", "type: object\n")
	writeSchema(t, root, "summary/fail.schema.yaml", "type: object\n")
	writeSchema(t, root, "summary/output.schema.yaml", "type: object\n")
	out := filepath.Join(tmp, "models")

	cmd, err := generator.NewCommandTemplate("sh ../generator/testfiles/fake-codegen.sh --input {{.Input}} " +
		"--output {{.Output}} --input-file-type {{.FileType}}{{if .Reuse}} --reuse-model{{end}}")
	require.NoError(t, err)
	b := newBuilder(root, out, &generator.Generator{Command: cmd, MaxLogLines: 10})

	rep, err := b.Do(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, filepath.Join(root, "summary", "fail.schema.yaml"), rep.Failed[0].Input)
	assert.Len(t, rep.Generated, 3)

	data, err := os.ReadFile(filepath.Join(out, "entities.py")) //nolint:gosec // test file
	require.NoError(t, err)
	assert.Contains(t, string(data), "# generated from "+b.MergedFile)
	assert.Contains(t, string(data), "# reuse no")

	data, err = os.ReadFile(filepath.Join(out, "summary", "output.py")) //nolint:gosec // test file
	require.NoError(t, err)
	assert.Contains(t, string(data), "# reuse yes")
	assert.FileExists(t, filepath.Join(out, "trade.py"))
	assert.NoFileExists(t, filepath.Join(out, "summary", "fail.py"))
}

func TestReport_Err(t *testing.T) {
	assert.NoError(t, Report{Generated: []string{"a.py"}}.Err())
	err := Report{Generated: []string{"a.py"}, Failed: []Failure{{Input: "b.schema.yaml"}, {Input: "c.schema.yaml"}}}.Err()
	require.Error(t, err)
	assert.Equal(t, "2 of 3 models failed: b.schema.yaml, c.schema.yaml", err.Error())
}
