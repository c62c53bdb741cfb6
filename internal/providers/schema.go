package providers

import "strings"

// geminiUnsupportedKeywords lists JSON Schema keywords Gemini's function
// declaration parser rejects outright. Anthropic and the OpenAI-compatible
// APIs are tolerant of the full keyword set, so only the Gemini path (both
// the native genai SDK and the OpenAI-compatibility endpoint) needs
// stripping.
var geminiUnsupportedKeywords = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"examples":             true,
	"default":              true,
	"const":                true,
	"exclusiveMinimum":     true,
	"exclusiveMaximum":     true,
}

// CleanSchemaForProvider recursively strips JSON Schema keywords a given
// provider's tool-calling implementation does not accept. Only
// Gemini-family providers are walked; every other provider gets the
// schema back unchanged.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(provider), "gemini") {
		return schema
	}
	return cleanSchemaValue(schema).(map[string]interface{})
}

func cleanSchemaValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			if geminiUnsupportedKeywords[k] {
				continue
			}
			out[k] = cleanSchemaValue(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = cleanSchemaValue(sub)
		}
		return out
	default:
		return v
	}
}

