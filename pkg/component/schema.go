package component

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/component.schema.json
var schemaSource string

const schemaURL = "https://opentracelab.org/erc/component.schema.json"

// SupportedSchema is the range of schema_version values this loader reads.
const SupportedSchema = "^1"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("component schema load failed: %w", err)
	}
	return c.Compile(schemaURL)
})

var schemaConstraint = sync.OnceValues(func() (*semver.Constraints, error) {
	return semver.NewConstraint(SupportedSchema)
})

// Schema returns the JSON Schema component documents are checked against.
func Schema() string {
	return schemaSource
}

// validateSchema checks a generic YAML/JSON value against the embedded
// schema and returns the leaf problems.
func validateSchema(raw any) ([]Problem, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jsonValue(raw)
	if err != nil {
		return []Problem{{Message: err.Error()}}, nil
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	var out []Problem
	collectLeaves(verr, &out)
	return out, nil
}

func collectLeaves(e *jsonschema.ValidationError, out *[]Problem) {
	if len(e.Causes) == 0 {
		*out = append(*out, Problem{Path: e.InstanceLocation, Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}

// jsonValue converts a value decoded by yaml.v3 into the shape produced by
// encoding/json with UseNumber, which is what the validator walks.
func jsonValue(raw any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkSchemaVersion accepts an empty version as current.
func checkSchemaVersion(v string) error {
	if v == "" {
		return nil
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("schema_version %q is not a semantic version", v)
	}
	c, err := schemaConstraint()
	if err != nil {
		return err
	}
	if !c.Check(version) {
		return fmt.Errorf("schema_version %s is not supported (want %s)", v, SupportedSchema)
	}
	return nil
}
