package config

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/varnet/errors"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Schema returns the JSON schema configuration files are validated against
func Schema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// ValidateDocument checks a decoded configuration document against the schema.
// Every violation is reported in one fatal error.
func ValidateDocument(doc map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "Config", "ValidateDocument", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapFatal(err, "Config", "ValidateDocument", "run schema")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.Fatalf(errors.ErrInvalidConfig, "Config", "ValidateDocument", "%s", strings.Join(msgs, "; "))
}
