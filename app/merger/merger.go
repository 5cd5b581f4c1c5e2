// Package merger combines entity schemas into a single schema document. Each entity is
// stored under its base file name in the $defs section of the merged envelope.
package merger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/modelgen/app/schema"
)

// DefaultDialect is the $schema identifier of the merged envelope
const DefaultDialect = "https://json-schema.org/draft/2020-12/schema"

// Collision policies for entities sharing the same base name
const (
	CollisionOverwrite = "overwrite"
	CollisionFail      = "fail"
)

// ErrCollision returned by Collect for duplicated entity names if CollisionFail policy is set
var ErrCollision = errors.New("duplicated entity name")

// Merger collects entity schemas located under Root/EntitiesDir
type Merger struct {
	Root        string
	EntitiesDir string
	Suffix      string
	Dialect     string
	OnCollision string
}

// Envelope is the merged schema document
type Envelope struct {
	Schema string
	Defs   *orderedmap.OrderedMap[string, *yaml.Node]
}

// MarshalYAML makes {$schema: dialect, $defs: {name: doc}} keeping the order entities were collected in
func (e *Envelope) MarshalYAML() (any, error) {
	defs := &yaml.Node{Kind: yaml.MappingNode}
	for pair := e.Defs.Oldest(); pair != nil; pair = pair.Next() {
		defs.Content = append(defs.Content, strNode(pair.Key), pair.Value)
	}
	return &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		strNode("$schema"), strNode(e.Schema),
		strNode("$defs"), defs,
	}}, nil
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

// Names returns entity names in the order they were collected
func (e *Envelope) Names() []string {
	res := make([]string, 0, e.Defs.Len())
	for pair := e.Defs.Oldest(); pair != nil; pair = pair.Next() {
		res = append(res, pair.Key)
	}
	return res
}

// Dir returns the directory entities are collected from
func (m *Merger) Dir() string {
	return filepath.Join(m.Root, m.EntitiesDir)
}

// Collect walks the entities directory and parses every schema file. Missing entities directory
// makes an envelope with empty definitions. Entities sharing a base name are either overwritten
// by the last one seen or rejected with ErrCollision, depending on OnCollision.
func (m *Merger) Collect() (*Envelope, error) {
	dialect := m.Dialect
	if dialect == "" {
		dialect = DefaultDialect
	}
	suffix := m.Suffix
	if suffix == "" {
		suffix = schema.DefaultSuffix
	}
	env := &Envelope{Schema: dialect, Defs: orderedmap.New[string, *yaml.Node]()}

	dir := m.Dir()
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[INFO] no entities directory %s, empty definitions", dir)
			return env, nil
		}
		return nil, fmt.Errorf("can't access entities directory %s: %w", dir, err)
	}

	sources := map[string]string{} // entity name -> file it was loaded from
	for path, err := range schema.Walk(dir, suffix) {
		if err != nil {
			return nil, err
		}
		name := schema.BaseName(path, suffix)
		doc, err := load(path)
		if err != nil {
			return nil, err
		}

		if prev, found := sources[name]; found {
			if m.OnCollision == CollisionFail {
				return nil, fmt.Errorf("%w %q in %s and %s", ErrCollision, name, prev, path)
			}
			log.Printf("[WARN] entity %q from %s overwritten by %s", name, prev, path)
		}
		sources[name] = path
		env.Defs.Set(name, doc)
		log.Printf("[DEBUG] entity %q loaded from %s", name, path)
	}
	return env, nil
}

// Write saves envelope as yaml document, makes parent directories if needed
func Write(path string, env *Envelope) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("can't make directory for %s: %w", path, err)
	}
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("can't marshal merged schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("can't write merged schema %s: %w", path, err)
	}
	log.Printf("[DEBUG] merged schema with %d entities written to %s", env.Defs.Len(), path)
	return nil
}

// load parses a single yaml document of the file. An empty file is loaded as null,
// a file with several documents is rejected
func load(path string) (*yaml.Node, error) {
	fh, err := os.Open(path) //nolint:gosec // path comes from the schema walk
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", path, err)
	}
	defer fh.Close()

	dec := yaml.NewDecoder(fh)
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		return nil, fmt.Errorf("can't parse %s: %w", path, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, fmt.Errorf("can't parse %s: %w", path, err)
		}
		return nil, fmt.Errorf("can't parse %s: more than one yaml document", path)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0], nil
	}
	return &doc, nil
}
