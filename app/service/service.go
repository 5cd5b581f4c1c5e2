// Package service provides top level model builder. Combines schema walker, entity merger
// and generator runner together and runs all targets sequentially.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/modelgen/app/generator"
	"github.com/umputun/modelgen/app/merger"
	"github.com/umputun/modelgen/app/schema"
)

//go:generate moq -out mocks/runner.go -pkg mocks -skip-ensure -fmt goimports . Runner

// Builder is a top-level service generating models for all targets. Entities are processed first,
// merged into one schema or one by one, then each remaining schema file generates its own model.
type Builder struct {
	SchemasDir  string
	EntitiesDir string
	Suffix      string
	MergedFile  string
	KeepMerged  bool
	Merger      EntityCollector
	Targets     []Target
}

// Target is a single generator and the place of its models
type Target struct {
	Name          string
	OutputDir     string
	Ext           string
	MergeEntities bool
	Runner        Runner
}

// Runner interface defines a single generator run, implemented by generator.Generator
type Runner interface {
	Run(ctx context.Context, req generator.Request) (generator.Result, error)
}

// EntityCollector makes merged envelope from entity schemas, implemented by merger.Merger
type EntityCollector interface {
	Collect() (*merger.Envelope, error)
}

// Report lists generated and failed models
type Report struct {
	Generated []string
	Failed    []Failure
}

// Failure describes generator failure for a single schema
type Failure struct {
	Target string
	Input  string
	Output string
	Err    error
}

// Err returns error if any model failed
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	inputs := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		inputs = append(inputs, f.Input)
	}
	return fmt.Errorf("%d of %d models failed: %s", len(r.Failed), len(r.Failed)+len(r.Generated),
		strings.Join(inputs, ", "))
}

// Do runs all targets sequentially. Generator failures are logged and collected in the report,
// the run continues with the next schema. File system and schema parsing errors abort the run.
func (b *Builder) Do(ctx context.Context) (rep Report, err error) {
	st := time.Now()

	if b.needsMerge() {
		if err = b.writeMerged(); err != nil {
			return rep, err
		}
		if !b.KeepMerged {
			defer func() {
				if e := os.Remove(b.MergedFile); e != nil {
					log.Printf("[WARN] can't remove merged schema %s, %v", b.MergedFile, e)
				}
			}()
		}
	}

	for _, t := range b.Targets {
		log.Printf("[INFO] generate %s models in %s", t.Name, t.OutputDir)
		if err = b.entities(ctx, t, &rep); err != nil {
			return rep, err
		}
		if err = b.others(ctx, t, &rep); err != nil {
			return rep, err
		}
	}

	log.Printf("[INFO] completed in %v, generated %d, failed %d", time.Since(st).Round(time.Millisecond),
		len(rep.Generated), len(rep.Failed))
	return rep, nil
}

func (b *Builder) suffix() string {
	if b.Suffix == "" {
		return schema.DefaultSuffix
	}
	return b.Suffix
}

// isMerged checks if path is the merged schema, it is never generated as a standalone schema
func (b *Builder) isMerged(path string) bool {
	if b.MergedFile == "" {
		return false
	}
	merged, err := filepath.Abs(b.MergedFile)
	return err == nil && merged == path
}

func (b *Builder) needsMerge() bool {
	for _, t := range b.Targets {
		if t.MergeEntities {
			return true
		}
	}
	return false
}

// writeMerged collects entities once, the merged file is shared by all merging targets
func (b *Builder) writeMerged() error {
	env, err := b.Merger.Collect()
	if err != nil {
		return fmt.Errorf("can't merge entities: %w", err)
	}
	if err = merger.Write(b.MergedFile, env); err != nil {
		return err
	}
	log.Printf("[INFO] merged %d entities %v into %s", env.Defs.Len(), env.Names(), b.MergedFile)
	return nil
}

// entities generates entity models, from the merged schema as <output>/<entities><ext>
// or from each entity schema separately
func (b *Builder) entities(ctx context.Context, t Target, rep *Report) error {
	if t.MergeEntities {
		out := filepath.Join(t.OutputDir, b.EntitiesDir+t.Ext)
		return b.generate(ctx, t, generator.Request{Input: b.MergedFile, Output: out}, rep)
	}

	dir := filepath.Join(b.SchemasDir, b.EntitiesDir)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	for path, err := range schema.Walk(dir, b.suffix()) {
		if err != nil {
			return err
		}
		if b.isMerged(path) {
			continue
		}
		out, err := schema.OutputPath(b.SchemasDir, t.OutputDir, path, b.suffix(), t.Ext)
		if err != nil {
			return err
		}
		if err = b.generate(ctx, t, generator.Request{Input: path, Output: out}, rep); err != nil {
			return err
		}
	}
	return nil
}

// others generates a model for each schema outside of entities directory
func (b *Builder) others(ctx context.Context, t Target, rep *Report) error {
	for path, err := range schema.Walk(b.SchemasDir, b.suffix(), b.EntitiesDir) {
		if err != nil {
			return err
		}
		if b.isMerged(path) {
			log.Printf("[DEBUG] skip merged schema %s", path)
			continue
		}
		out, err := schema.OutputPath(b.SchemasDir, t.OutputDir, path, b.suffix(), t.Ext)
		if err != nil {
			return err
		}
		if err = b.generate(ctx, t, generator.Request{Input: path, Output: out, Reuse: true}, rep); err != nil {
			return err
		}
	}
	return nil
}

// generate runs generator for a single request. Failed generation is reported and doesn't stop the run
func (b *Builder) generate(ctx context.Context, t Target, req generator.Request, rep *Report) error {
	log.Printf("[INFO] generating %s model: %s", t.Name, req.Output)
	res, err := t.Runner.Run(ctx, req)
	if err == nil {
		log.Printf("[INFO] successfully generated: %s", res.Output)
		if res.Stdout != "" {
			log.Printf("[DEBUG] generator output for %s:\n%s", req.Input, res.Stdout)
		}
		rep.Generated = append(rep.Generated, res.Output)
		return nil
	}

	execErr := &generator.ExecError{}
	if !errors.As(err, &execErr) {
		return fmt.Errorf("can't generate %s model for %s: %w", t.Name, req.Input, err)
	}
	log.Printf("[ERROR] error generating %s model for %s:\n%s", t.Name, req.Input, execErr.Stderr)
	rep.Failed = append(rep.Failed, Failure{Target: t.Name, Input: req.Input, Output: req.Output, Err: err})
	return nil
}
