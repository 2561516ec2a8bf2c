package utils

import "github.com/invopop/jsonschema"

// GenerateSchema reflects a JSON schema for an API payload type, with
// additional properties disallowed so clients catch typos early.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
