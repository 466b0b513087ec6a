package questionbank

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var boardSchemaJSON []byte

var boardSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(boardSchemaJSON))
})

// ValidateDocument checks a decoded board file against the bank JSON schema.
func ValidateDocument(doc any) error {
	schema, err := boardSchema()
	if err != nil {
		return fmt.Errorf("compiling bank schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating bank document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("bank document invalid: %s", strings.Join(msgs, "; "))
}
