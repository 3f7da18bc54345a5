// Package annotation holds the in-memory model of a volume's annotation
// objects: segments grouped into segmentations, volume tags, and the
// review-status projection derived from remote entity listings.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// ValidationError reports a rejected entity. The entity's operation is
// skipped; sync of other entities continues.
type ValidationError struct {
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports a duplicate within the entity model, such as
// assigning a (name, value) tag pair the volume already carries.
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TagValueType is the schema-declared shape of a tag's value.
type TagValueType string

const (
	ValueTypeNone   TagValueType = "none"
	ValueTypeString TagValueType = "any_string"
	ValueTypeNumber TagValueType = "any_number"
	ValueTypeOneOf  TagValueType = "oneof_string"
)

// ValueKind is the runtime shape of a concrete tag value. OneOf values
// are plain strings at runtime; the distinction lives in the schema.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindString
	KindNumber
)

// TagValue is a comparable tagged variant. Two values are equal exactly
// when their kinds and payloads match; the presence-only case (KindNone)
// equals itself.
type TagValue struct {
	Kind ValueKind
	Str  string
	Num  float64
}

func NoValue() TagValue              { return TagValue{Kind: KindNone} }
func StringValue(s string) TagValue  { return TagValue{Kind: KindString, Str: s} }
func NumberValue(n float64) TagValue { return TagValue{Kind: KindNumber, Num: n} }

func (v TagValue) IsNone() bool { return v.Kind == KindNone }

func (v TagValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return "none"
	}
}

func (v TagValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	default:
		return []byte("null"), nil
	}
}

func (v *TagValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case nil:
		*v = NoValue()
	case string:
		*v = StringValue(value)
	case float64:
		*v = NumberValue(value)
	default:
		return fmt.Errorf("unsupported tag value %T", raw)
	}
	return nil
}

// Tag is a (name, value) pair on a volume. SchemaType is decoded once
// from the project schema, never parsed back out of presentation text.
type Tag struct {
	Name       string
	SchemaType TagValueType
	Value      TagValue
}

// Pair is the identity of a tag within a volume's tag set. Names may
// repeat; (name, value) pairs may not.
type Pair struct {
	Name  string
	Value TagValue
}

func (t Tag) Pair() Pair { return Pair{Name: t.Name, Value: t.Value} }

// TagSchema is the collaborator-supplied constraint for one tag name.
type TagSchema struct {
	Name          string
	ValueType     TagValueType
	AllowedValues []string
	// ApplicableToVolumes mirrors the project meta applicability flag;
	// schemas scoped to other entity kinds are never offered.
	ApplicableToVolumes bool
	RemoteID            int64
}

// Validate checks a concrete value against the schema.
func (s TagSchema) Validate(value TagValue) error {
	switch s.ValueType {
	case ValueTypeNone:
		if !value.IsNone() {
			return &ValidationError{Entity: s.Name, Reason: "tag takes no value"}
		}
	case ValueTypeString:
		if value.Kind != KindString {
			return &ValidationError{Entity: s.Name, Reason: "tag requires a string value"}
		}
	case ValueTypeNumber:
		if value.Kind != KindNumber {
			return &ValidationError{Entity: s.Name, Reason: "tag requires a numeric value"}
		}
	case ValueTypeOneOf:
		if value.Kind != KindString {
			return &ValidationError{Entity: s.Name, Reason: "tag requires one of the allowed values"}
		}
		for _, allowed := range s.AllowedValues {
			if value.Str == allowed {
				return nil
			}
		}
		return &ValidationError{
			Entity: s.Name,
			Reason: fmt.Sprintf("value %q is not among the allowed values", value.Str),
		}
	default:
		return &ValidationError{Entity: s.Name, Reason: fmt.Sprintf("unknown value type %q", s.ValueType)}
	}
	return nil
}
