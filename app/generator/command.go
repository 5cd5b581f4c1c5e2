package generator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/shlex"
)

// DefaultCommand runs datamodel-codegen, the reuse flag is set for standalone (non-entity) schemas
const DefaultCommand = "datamodel-codegen --input {{.Input}} --output {{.Output}} " +
	"--input-file-type {{.FileType}}{{if .Reuse}} --reuse-model{{end}}"

// CommandTemplate makes generator command lines from a template like DefaultCommand.
// The line is split into arguments before Input and Output are placed, so paths are never
// parsed by the splitter and placeholders work bare or quoted.
type CommandTemplate struct {
	source string
	tmpl   *template.Template
}

// markers rendered in place of paths, replaced in the split arguments
const (
	inputMarker  = "__MODELGEN_INPUT__"
	outputMarker = "__MODELGEN_OUTPUT__"
)

// cmdData used to fill command template
type cmdData struct {
	Input    string
	Output   string
	FileType string
	Reuse    bool
}

// NewCommandTemplate parses command line template
func NewCommandTemplate(command string) (*CommandTemplate, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("empty generator command")
	}
	tmpl, err := template.New("command").Option("missingkey=error").Parse(command)
	if err != nil {
		return nil, fmt.Errorf("can't parse generator command %q: %w", command, err)
	}
	return &CommandTemplate{source: command, tmpl: tmpl}, nil
}

// Args renders the template for a request and splits it into the program and its arguments
func (c *CommandTemplate) Args(req Request, fileType string) ([]string, error) {
	buf := bytes.Buffer{}
	data := cmdData{Input: inputMarker, Output: outputMarker, FileType: fileType, Reuse: req.Reuse}
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("can't render generator command %q: %w", c.source, err)
	}
	args, err := shlex.Split(buf.String())
	if err != nil {
		return nil, fmt.Errorf("can't split generator command %q: %w", buf.String(), err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generator command %q rendered empty", c.source)
	}
	paths := strings.NewReplacer(inputMarker, req.Input, outputMarker, req.Output)
	for i, arg := range args {
		args[i] = paths.Replace(arg)
	}
	return args, nil
}

func (c *CommandTemplate) String() string {
	return c.source
}
