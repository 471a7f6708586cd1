// Package config loads the watch configuration from YAML.
//
// A file is decoded strictly (unknown keys are errors) over Default() and
// then checked against an embedded CUE schema. Command-line flags override
// the loaded values in the CLI.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/deltaview/internal/projection"
)

//go:embed schema.cue
var schemaSource string

// Source kinds.
const (
	SourceGraphQL = "graphql"
	SourceNATS    = "nats"
)

// DefaultURL is the UI server's subscription endpoint on a local install.
const DefaultURL = "ws://localhost:8888/cylc/subscriptions"

// Source selects the delta transport.
type Source struct {
	Kind          string `yaml:"kind" json:"kind"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty" json:"subject_prefix,omitempty"`
	Token         string `yaml:"token,omitempty" json:"token,omitempty"`
}

// Config is the watch configuration.
type Config struct {
	Source      Source                `yaml:"source" json:"source"`
	Workflows   []string              `yaml:"workflows,omitempty" json:"workflows,omitempty"`
	View        string                `yaml:"view,omitempty" json:"view,omitempty"`
	Task        string                `yaml:"task,omitempty" json:"task,omitempty"`
	Flat        bool                  `yaml:"flat,omitempty" json:"flat,omitempty"`
	Filter      projection.TaskFilter `yaml:"filter,omitempty" json:"filter"`
	Sort        string                `yaml:"sort,omitempty" json:"sort,omitempty"`
	Journal     string                `yaml:"journal,omitempty" json:"journal,omitempty"`
	MetricsAddr string                `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	LogFormat   string                `yaml:"log_format,omitempty" json:"log_format,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Source:    Source{Kind: SourceGraphQL, URL: DefaultURL},
		View:      "tree",
		Sort:      "cycle",
		LogFormat: "text",
	}
}

// Error is a configuration problem, located by a dotted field path when
// one is known.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return "config: " + e.Message
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default() and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &Error{Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema and parses its sort list.
func (c Config) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	value := ctx.CompileBytes(doc, cue.Filename("config"))
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}

	if _, err := projection.ParseSort(c.Sort); err != nil {
		return &Error{Field: "sort", Message: err.Error()}
	}
	if c.View == "info" && c.Task == "" {
		return &Error{Field: "task", Message: "the info view needs a task id"}
	}
	return nil
}

// SortBy returns the parsed sort list. Call after Validate.
func (c Config) SortBy() []projection.SortBy {
	sortBy, _ := projection.ParseSort(c.Sort)
	return sortBy
}

// schemaError reports the first CUE error with its field path.
func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &Error{
		Field:   strings.TrimPrefix(strings.Join(first.Path(), "."), "#Config."),
		Message: fmt.Sprintf(format, args...),
	}
}
