// Package validation checks JSON request bodies against the embedded JSON
// Schema documents before they are decoded into request structs.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaBaseURL = "datapusher://schemas/"
	maxBodyBytes  = 1 << 20
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	AccountCreate     = mustCompile("account_create.json")
	AccountUpdate     = mustCompile("account_update.json")
	DestinationCreate = mustCompile("destination_create.json")
	DestinationUpdate = mustCompile("destination_update.json")
)

// Error is a client-facing validation failure.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func mustCompile(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("validation: read schema %s: %v", name, err))
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("validation: parse schema %s: %v", name, err))
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
		panic(fmt.Sprintf("validation: add schema %s: %v", name, err))
	}
	sch, err := c.Compile(schemaBaseURL + name)
	if err != nil {
		panic(fmt.Sprintf("validation: compile schema %s: %v", name, err))
	}
	return sch
}

// DecodeAndValidate reads a JSON document from body, validates it against
// schema and decodes it into dst. Client mistakes are reported as *Error.
func DecodeAndValidate(body io.Reader, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if !json.Valid(raw) {
		return &Error{Message: "request body is not valid JSON"}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Error{Message: "request body is not valid JSON"}
	}
	if err := schema.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &Error{Message: summarize(verr)}
		}
		return fmt.Errorf("schema validation: %w", err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return &Error{Message: err.Error()}
	}
	return nil
}

// summarize drops the schema location header line and keeps the per-field causes.
func summarize(verr *jsonschema.ValidationError) string {
	lines := strings.Split(verr.Error(), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "; ")
}
