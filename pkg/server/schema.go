package server

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/request.schema.json
var requestSchemaJSON string

const requestSchemaURL = "request.schema.json"

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// errInvalidJSON marks bodies that are not a single JSON document.
var errInvalidJSON = errors.New("invalid JSON body")

// requestBody holds the fields read from /translate and /detect bodies.
type requestBody struct {
	Q      string
	Source string
	Target string
}

// schemaError reports a body that is valid JSON but has the wrong shape.
type schemaError struct {
	detail string
}

func (e *schemaError) Error() string {
	return e.detail
}

// decodeRequestBody parses and validates a request body. An empty body is
// treated as an empty object.
func decodeRequestBody(raw []byte) (*requestBody, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, err
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, &schemaError{detail: validationDetail(err)}
	}

	fields, _ := value.(map[string]any)
	return &requestBody{
		Q:      stringField(fields, "q"),
		Source: stringField(fields, "source"),
		Target: stringField(fields, "target"),
	}, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource(requestSchemaURL, strings.NewReader(requestSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(requestSchemaURL)
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing content", errInvalidJSON)
	}
	return value, nil
}

// validationDetail reduces a schema failure to its first leaf, e.g.
// "/q: expected string, but got number".
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := ve.InstanceLocation
	if location == "" {
		location = "body"
	}
	return location + ": " + ve.Message
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
