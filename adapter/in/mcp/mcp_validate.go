package mcp

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"outlook_mcp_server/pkg/apperr"
)

// ValidateArgs checks the (normalized) arguments against the tool's input
// schema before any service method runs.
func ValidateArgs(schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return apperr.ValidationFailed("invalid input schema: " + err.Error())
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return apperr.ValidationFailed(strings.Join(msgs, "; "))
}
