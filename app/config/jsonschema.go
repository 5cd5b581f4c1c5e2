package config

import (
	"github.com/invopop/jsonschema"
)

// JSONSchema reflects the config file structure, used for editor validation of config files
func JSONSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	res := r.Reflect(&File{})
	res.Title = "modelgen configuration"
	res.Description = "Generation targets for modelgen"
	return res
}
