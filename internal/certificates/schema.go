package certificates

import (
	"fmt"
	"strings"

	"github.com/veridia-labs/certledger-backend/pkg/types"
)

// AchievementSchema is the declared shape of a certificate type's payload:
// a set of required field names plus optional per-field kind constraints.
//
//	{"required": ["gpa"], "fields": {"gpa": "number", "honors": "string"}}
type AchievementSchema struct {
	Required []string
	Fields   map[string]FieldKind
}

// FieldKind constrains the JSON type of a payload field.
type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindNumber FieldKind = "number"
	FieldKindBool   FieldKind = "bool"
	FieldKindObject FieldKind = "object"
	FieldKindList   FieldKind = "list"
)

// Violation is one structured schema failure.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// ParseAchievementSchema reads the stored JSONB schema into its typed form.
// Unknown keys are ignored; a missing or empty schema accepts any payload.
func ParseAchievementSchema(raw types.JSONMap) (AchievementSchema, error) {
	schema := AchievementSchema{Fields: map[string]FieldKind{}}
	if raw == nil {
		return schema, nil
	}

	if required, ok := raw["required"]; ok {
		list, ok := required.([]any)
		if !ok {
			return schema, fmt.Errorf("schema \"required\" must be a list")
		}
		for _, entry := range list {
			name, ok := entry.(string)
			if !ok || strings.TrimSpace(name) == "" {
				return schema, fmt.Errorf("schema \"required\" entries must be non-empty strings")
			}
			schema.Required = append(schema.Required, name)
		}
	}

	if fields, ok := raw["fields"]; ok {
		m, ok := fields.(map[string]any)
		if !ok {
			return schema, fmt.Errorf("schema \"fields\" must be a map")
		}
		for name, kindRaw := range m {
			kind, ok := kindRaw.(string)
			if !ok {
				return schema, fmt.Errorf("schema field %q kind must be a string", name)
			}
			switch FieldKind(kind) {
			case FieldKindString, FieldKindNumber, FieldKindBool, FieldKindObject, FieldKindList:
				schema.Fields[name] = FieldKind(kind)
			default:
				return schema, fmt.Errorf("schema field %q has unknown kind %q", name, kind)
			}
		}
	}

	return schema, nil
}

// Validate checks a payload against the schema and returns every violation,
// not just the first: a caller fixing a bad request should see the full list.
func (s AchievementSchema) Validate(payload types.JSONMap) []Violation {
	var violations []Violation

	for _, field := range s.Required {
		value, present := payload[field]
		if !present || isEmptyValue(value) {
			violations = append(violations, Violation{Field: field, Reason: "required field missing or empty"})
		}
	}

	for field, kind := range s.Fields {
		value, present := payload[field]
		if !present || value == nil {
			continue
		}
		if !matchesKind(value, kind) {
			violations = append(violations, Violation{
				Field:  field,
				Reason: fmt.Sprintf("expected %s", kind),
			})
		}
	}

	return violations
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func matchesKind(value any, kind FieldKind) bool {
	switch kind {
	case FieldKindString:
		_, ok := value.(string)
		return ok
	case FieldKindNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case FieldKindBool:
		_, ok := value.(bool)
		return ok
	case FieldKindObject:
		_, ok := value.(map[string]any)
		return ok
	case FieldKindList:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}
