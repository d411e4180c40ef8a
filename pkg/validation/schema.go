package validation

import "fmt"

// CheckSchema validates data against a minimal JSON-schema subset:
// a top-level "type" of "object", a "required" list, and per-property
// "type" assertions under "properties". Anything beyond that subset is
// ignored.
func CheckSchema(schema, data map[string]any) Report {
	report := Report{IsValid: true}

	if typ, ok := schema["type"].(string); ok && typ != "object" {
		report.fail(fmt.Sprintf("unsupported schema type %q", typ))
		return report
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := data[name]; !present {
				report.fail(fmt.Sprintf("missing required field: %s", name))
			}
		}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return report
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		want, ok := prop["type"].(string)
		if !ok {
			continue
		}
		value, present := data[name]
		if !present || value == nil {
			continue
		}
		if err := checkType(FieldRule{FieldName: name, Type: schemaType(want)}, value); err != nil {
			report.fail(err.Error())
		}
	}
	return report
}

func schemaType(jsonType string) FieldType {
	switch jsonType {
	case "string":
		return TypeString
	case "integer":
		return TypeInteger
	case "number":
		return TypeFloat
	case "boolean":
		return TypeBoolean
	case "object":
		return TypeDict
	case "array":
		return TypeList
	default:
		return ""
	}
}
