package mcpgateway

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
)

// warnInvalidToolSchema checks that a tool definition crossing the gateway
// carries a compilable inputSchema. A broken schema is not a translation
// failure, the tool is forwarded as-is, but the operator gets a diagnostic
// before a client trips over it at call time.
func (tc translationContext) warnInvalidToolSchema(tool map[string]any) {
	for _, field := range []string{"inputSchema", "outputSchema"} {
		schema, ok := tool[field]
		if !ok {
			continue
		}
		if err := validateSchemaDocument(schema); err != nil {
			name, _ := tool["name"].(string)
			tc.logger.WithFields(map[string]interface{}{
				"tool":  name,
				"field": field,
				"from":  tc.from.String(),
			}).WithErr(err).Warn("tool schema does not compile as JSON Schema")
		}
	}
}

// validateSchemaDocument compiles a decoded JSON value as a JSON Schema.
func validateSchemaDocument(schema any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	loader := gojsonschema.NewStringLoader(string(raw))
	_, err = gojsonschema.NewSchema(loader)
	return err
}
