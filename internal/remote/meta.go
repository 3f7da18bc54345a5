package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
)

// metaSchema constrains the project meta document before it is decoded.
// The server ships meta as loosely-typed JSON; validating up front turns
// shape drift into one clear error instead of scattered zero values.
const metaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["classes", "tags"],
  "properties": {
    "classes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "id", "shape"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "id": {"type": "integer"},
          "shape": {"type": "string", "minLength": 1},
          "color": {"type": "string", "pattern": "^#[0-9A-Fa-f]{6}$"}
        }
      }
    },
    "tags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "id", "value_type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "id": {"type": "integer"},
          "value_type": {
            "type": "string",
            "enum": ["none", "any_string", "any_number", "oneof_string"]
          },
          "values": {"type": "array", "items": {"type": "string"}},
          "applicable_type": {"type": "string"}
        }
      }
    }
  }
}`

var compileMetaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(metaSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("meta.schema.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("meta.schema.json")
})

// ObjectClass is one entry of the project's class catalog. Only classes
// whose shape is mask_3d can back a segment.
type ObjectClass struct {
	Name  string
	ID    int64
	Shape string
	Color annotation.Color
}

// Meta is the decoded project meta: the class catalog and the tag
// schemas, indexed by name.
type Meta struct {
	classes map[string]ObjectClass
	tags    map[string]annotation.TagSchema
}

// ParseMeta validates the raw meta document against the meta schema and
// decodes it. A document that fails validation is reported as a
// ValidationError carrying the first schema violation.
func ParseMeta(data []byte) (*Meta, error) {
	schema, err := compileMetaSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &annotation.ValidationError{Entity: "project meta", Reason: err.Error()}
	}
	if err := schema.Validate(instance); err != nil {
		return nil, &annotation.ValidationError{Entity: "project meta", Reason: err.Error()}
	}
	return decodeMeta(instance.(map[string]any))
}

func decodeMeta(doc map[string]any) (*Meta, error) {
	meta := &Meta{
		classes: map[string]ObjectClass{},
		tags:    map[string]annotation.TagSchema{},
	}
	for _, raw := range doc["classes"].([]any) {
		entry := raw.(map[string]any)
		class := ObjectClass{
			Name:  entry["title"].(string),
			ID:    metaInt64(entry["id"]),
			Shape: entry["shape"].(string),
		}
		if hex, ok := entry["color"].(string); ok {
			color, err := parseHexColor(hex)
			if err != nil {
				return nil, &annotation.ValidationError{Entity: class.Name, Reason: err.Error()}
			}
			class.Color = color
		}
		if _, dup := meta.classes[class.Name]; dup {
			return nil, &annotation.ConflictError{Entity: class.Name, Reason: "duplicate class name in project meta"}
		}
		meta.classes[class.Name] = class
	}
	for _, raw := range doc["tags"].([]any) {
		entry := raw.(map[string]any)
		schema := annotation.TagSchema{
			Name:      entry["name"].(string),
			ValueType: annotation.TagValueType(entry["value_type"].(string)),
			RemoteID:  metaInt64(entry["id"]),
		}
		if values, ok := entry["values"].([]any); ok {
			for _, value := range values {
				schema.AllowedValues = append(schema.AllowedValues, value.(string))
			}
		}
		applicable, _ := entry["applicable_type"].(string)
		schema.ApplicableToVolumes = applicable == "" || applicable == "all" || applicable == "imagesOnly"
		if _, dup := meta.tags[schema.Name]; dup {
			return nil, &annotation.ConflictError{Entity: schema.Name, Reason: "duplicate tag name in project meta"}
		}
		meta.tags[schema.Name] = schema
	}
	return meta, nil
}

// TagSchema resolves a tag schema by name. Schemas not applicable to
// volumes are withheld even when the project declares them.
func (m *Meta) TagSchema(name string) (annotation.TagSchema, error) {
	schema, ok := m.tags[name]
	if !ok {
		return annotation.TagSchema{}, &annotation.ValidationError{Entity: name, Reason: "tag is not declared in the project meta"}
	}
	if !schema.ApplicableToVolumes {
		return annotation.TagSchema{}, &annotation.ValidationError{Entity: name, Reason: "tag is not applicable to volumes"}
	}
	return schema, nil
}

// ObjectClass resolves a class by name; only mask_3d classes qualify.
func (m *Meta) ObjectClass(name string) (ObjectClass, error) {
	class, ok := m.classes[name]
	if !ok {
		return ObjectClass{}, &annotation.ValidationError{Entity: name, Reason: "class is not declared in the project meta"}
	}
	if class.Shape != "mask_3d" {
		return ObjectClass{}, &annotation.ValidationError{Entity: name, Reason: fmt.Sprintf("class shape %q cannot back a volume mask", class.Shape)}
	}
	return class, nil
}

// MaskClassNames lists the classes that can back segments. Map order,
// so callers sort when they need a stable listing.
func (m *Meta) MaskClassNames() []string {
	names := make([]string, 0, len(m.classes))
	for name, class := range m.classes {
		if class.Shape == "mask_3d" {
			names = append(names, name)
		}
	}
	return names
}

func metaInt64(value any) int64 {
	switch n := value.(type) {
	case json.Number:
		parsed, _ := n.Int64()
		return parsed
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func parseHexColor(hex string) (annotation.Color, error) {
	var color annotation.Color
	if len(hex) != 7 || hex[0] != '#' {
		return color, fmt.Errorf("malformed color %q", hex)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color, fmt.Errorf("malformed color %q", hex)
	}
	color[0], color[1], color[2] = r, g, b
	return color, nil
}
