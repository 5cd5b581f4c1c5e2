// Package config loads generation settings. A config file can define several targets,
// each one runs its own generator over the same schema tree.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/umputun/modelgen/app/generator"
	"github.com/umputun/modelgen/app/merger"
	"github.com/umputun/modelgen/app/schema"
)

// File is the top level configuration
type File struct {
	Schemas     string   `yaml:"schemas" json:"schemas" jsonschema:"description=root directory of schema files"`
	Entities    string   `yaml:"entities,omitempty" json:"entities,omitempty" jsonschema:"description=subdirectory of mergeable entity schemas,default=entities"`
	Suffix      string   `yaml:"suffix,omitempty" json:"suffix,omitempty" jsonschema:"description=schema file name suffix,default=.schema.yaml"`
	MergedFile  string   `yaml:"merged_file,omitempty" json:"merged_file,omitempty" jsonschema:"description=location of the merged entities schema"`
	KeepMerged  *bool    `yaml:"keep_merged,omitempty" json:"keep_merged,omitempty" jsonschema:"description=leave merged schema on disk after the run,default=true"`
	Dialect     string   `yaml:"dialect,omitempty" json:"dialect,omitempty" jsonschema:"description=$schema of the merged document"`
	OnCollision string   `yaml:"on_collision,omitempty" json:"on_collision,omitempty" jsonschema:"enum=overwrite,enum=fail,description=handling of entities with the same name"`
	Targets     []Target `yaml:"targets" json:"targets" jsonschema:"minItems=1,description=generation targets"`
}

// Target defines one generator and where its models go
type Target struct {
	Name          string `yaml:"name" json:"name" jsonschema:"description=target name used in logs"`
	Command       string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"description=generator command template with {{.Input}} {{.Output}} {{.FileType}} and {{.Reuse}}"`
	Output        string `yaml:"output" json:"output" jsonschema:"description=output directory of generated models"`
	Ext           string `yaml:"ext" json:"ext" jsonschema:"description=extension of generated files like .py"`
	FileType      string `yaml:"file_type,omitempty" json:"file_type,omitempty" jsonschema:"description=input format passed to the generator,default=yaml"`
	MergeEntities *bool  `yaml:"merge_entities,omitempty" json:"merge_entities,omitempty" jsonschema:"description=generate entities from a single merged schema,default=true"`
}

// Load reads and validates config file, missing optional fields set to defaults
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config location set by user
	if err != nil {
		return nil, fmt.Errorf("can't read config %s: %w", path, err)
	}
	res := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(res); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't parse config %s: %w", path, err)
	}
	res.SetDefaults()
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return res, nil
}

// SetDefaults fills empty optional fields
func (f *File) SetDefaults() {
	if f.Entities == "" {
		f.Entities = "entities"
	}
	if f.Suffix == "" {
		f.Suffix = schema.DefaultSuffix
	}
	if f.MergedFile == "" {
		f.MergedFile = filepath.Join(os.TempDir(), "modelgen", "merged"+f.Suffix)
	}
	if f.KeepMerged == nil {
		f.KeepMerged = ptr(true)
	}
	if f.Dialect == "" {
		f.Dialect = merger.DefaultDialect
	}
	if f.OnCollision == "" {
		f.OnCollision = merger.CollisionOverwrite
	}
	for i := range f.Targets {
		t := &f.Targets[i]
		if t.Name == "" {
			t.Name = fmt.Sprintf("target-%d", i+1)
		}
		if t.Command == "" {
			t.Command = generator.DefaultCommand
		}
		if t.FileType == "" {
			t.FileType = generator.DefaultFileType
		}
		if t.MergeEntities == nil {
			t.MergeEntities = ptr(true)
		}
	}
}

// Validate checks required fields and command templates
func (f *File) Validate() error {
	if f.Schemas == "" {
		return errors.New("schemas directory is required")
	}
	if len(f.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	if f.OnCollision != merger.CollisionOverwrite && f.OnCollision != merger.CollisionFail {
		return fmt.Errorf("unknown on_collision %q", f.OnCollision)
	}
	if !filepath.IsLocal(f.Entities) || filepath.Clean(f.Entities) == "." {
		return fmt.Errorf("entities must be a subdirectory of schemas, got %q", f.Entities)
	}
	if within(filepath.Join(f.Schemas, f.Entities), f.MergedFile) {
		return fmt.Errorf("merged file %s can't be inside entities directory", f.MergedFile)
	}

	names := map[string]bool{}
	for i, t := range f.Targets {
		if names[t.Name] {
			return fmt.Errorf("target %d: duplicated name %q", i+1, t.Name)
		}
		names[t.Name] = true
		if t.Output == "" {
			return fmt.Errorf("target %q: output is required", t.Name)
		}
		if t.Ext == "" {
			return fmt.Errorf("target %q: ext is required", t.Name)
		}
		if _, err := generator.NewCommandTemplate(t.Command); err != nil {
			return fmt.Errorf("target %q: %w", t.Name, err)
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

// within checks if path is located under dir
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && filepath.IsLocal(rel)
}
