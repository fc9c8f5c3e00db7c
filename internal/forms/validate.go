package forms

import (
	"fmt"
	"strings"
)

// SchemaError describes one problem found during schema validation.
type SchemaError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e SchemaError) Error() string {
	return e.Path + ": " + e.Message
}

// Validate checks the shape and internal consistency of a schema: unique
// field keys and IDs, resolvable conditional and section references, strict
// per-type configs, and acyclic calculated-field dependencies.
func Validate(schema Schema) []SchemaError {
	var errs []SchemaError
	add := func(path, format string, args ...any) {
		errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	fieldByID := make(map[string]Field, len(schema.Fields))
	keys := make(map[string]struct{}, len(schema.Fields))
	for i, field := range schema.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		if strings.TrimSpace(field.Key) == "" {
			add(path, "key is required")
		} else if _, dup := keys[field.Key]; dup {
			add(path, "duplicate field key %q", field.Key)
		} else {
			keys[field.Key] = struct{}{}
		}
		if strings.TrimSpace(field.ID) == "" {
			add(path, "id is required")
		} else if _, dup := fieldByID[field.ID]; dup {
			add(path, "duplicate field id %q", field.ID)
		} else {
			fieldByID[field.ID] = field
		}
		if !KnownFieldType(field.Type) {
			add(path, "unknown field type %q", field.Type)
			continue
		}
		if _, err := DecodeConfig(field.Type, field.Config); err != nil {
			add(path+".config", "%v", err)
		}
		for j, conditional := range field.Conditionals {
			if _, ok := keyExists(schema, conditional.If.Field); !ok {
				add(fmt.Sprintf("%s.conditionals[%d]", path, j), "references unknown field key %q", conditional.If.Field)
			}
		}
		if field.Validation != nil {
			if field.Validation.MinLength != nil && field.Validation.MaxLength != nil &&
				*field.Validation.MinLength > *field.Validation.MaxLength {
				add(path+".validation", "minLength exceeds maxLength")
			}
			if field.Validation.Min != nil && field.Validation.Max != nil &&
				*field.Validation.Min > *field.Validation.Max {
				add(path+".validation", "min exceeds max")
			}
		}
	}

	sectionIDs := make(map[string]struct{}, len(schema.Sections))
	for i, section := range schema.Sections {
		path := fmt.Sprintf("sections[%d]", i)
		if strings.TrimSpace(section.ID) == "" {
			add(path, "id is required")
		} else if _, dup := sectionIDs[section.ID]; dup {
			add(path, "duplicate section id %q", section.ID)
		} else {
			sectionIDs[section.ID] = struct{}{}
		}
		for j, fieldID := range section.FieldIDs {
			if _, ok := fieldByID[fieldID]; !ok {
				add(fmt.Sprintf("%s.fieldIds[%d]", path, j), "references unknown field id %q", fieldID)
			}
		}
		if section.Conditional != nil {
			if _, ok := keyExists(schema, section.Conditional.If.Field); !ok {
				add(path+".conditional", "references unknown field key %q", section.Conditional.If.Field)
			}
		}
		if section.Repeater != nil {
			errs = append(errs, validateRepeater(path+".repeater", *section.Repeater, schema, fieldByID)...)
		}
	}

	for i, rule := range schema.ValidationRules {
		path := fmt.Sprintf("validationRules[%d]", i)
		if _, ok := keyExists(schema, rule.Left); !ok {
			add(path, "left operand references unknown field key %q", rule.Left)
		}
		if rule.Severity != SeverityError && rule.Severity != SeverityWarning {
			add(path, "severity must be error or warning, got %q", rule.Severity)
		}
	}

	errs = append(errs, validateCalculated(schema)...)
	return errs
}

func validateRepeater(path string, repeater Repeater, schema Schema, fieldByID map[string]Field) []SchemaError {
	var errs []SchemaError
	add := func(p, format string, args ...any) {
		errs = append(errs, SchemaError{Path: p, Message: fmt.Sprintf(format, args...)})
	}
	if repeater.MinItems < 0 {
		add(path, "minItems must be >= 0")
	}
	if repeater.MaxItems > 0 && repeater.MaxItems < repeater.MinItems {
		add(path, "maxItems is below minItems")
	}
	for i, agg := range repeater.Aggregates {
		errs = append(errs, validateAggregate(fmt.Sprintf("%s.aggregates[%d]", path, i), agg, schema)...)
	}
	for i, nested := range repeater.Nested {
		nestedPath := fmt.Sprintf("%s.nestedRepeaters[%d]", path, i)
		for j, fieldID := range nested.FieldIDs {
			if _, ok := fieldByID[fieldID]; !ok {
				add(fmt.Sprintf("%s.fieldIds[%d]", nestedPath, j), "references unknown field id %q", fieldID)
			}
		}
		if nested.MaxItems > 0 && nested.MaxItems < nested.MinItems {
			add(nestedPath, "maxItems is below minItems")
		}
		for j, agg := range nested.Aggregates {
			errs = append(errs, validateAggregate(fmt.Sprintf("%s.aggregates[%d]", nestedPath, j), agg, schema)...)
		}
	}
	return errs
}

func validateAggregate(path string, agg Aggregate, schema Schema) []SchemaError {
	var errs []SchemaError
	switch agg.Func {
	case AggSum, AggCount, AggAvg, AggMin, AggMax:
	default:
		errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf("unknown aggregate func %q", agg.Func)})
	}
	field, ok := keyExists(schema, agg.SourceField)
	if !ok {
		errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf("source references unknown field key %q", agg.SourceField)})
		return errs
	}
	if agg.Func != AggCount && !numericField(field.Type) {
		errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf("%s requires a numeric source field, %q is %s", agg.Func, agg.SourceField, field.Type)})
	}
	return errs
}

// validateCalculated checks that dependencies resolve to real field or
// calculated keys and that the dependency graph has no cycles.
func validateCalculated(schema Schema) []SchemaError {
	var errs []SchemaError
	calcByKey := make(map[string][]string, len(schema.CalculatedFields))
	for i, calc := range schema.CalculatedFields {
		path := fmt.Sprintf("calculatedFields[%d]", i)
		if strings.TrimSpace(calc.Key) == "" {
			errs = append(errs, SchemaError{Path: path, Message: "key is required"})
			continue
		}
		if _, dup := calcByKey[calc.Key]; dup {
			errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf("duplicate calculated key %q", calc.Key)})
			continue
		}
		if _, collides := keyExists(schema, calc.Key); collides {
			errs = append(errs, SchemaError{Path: path, Message: fmt.Sprintf("calculated key %q collides with a field key", calc.Key)})
		}
		calcByKey[calc.Key] = calc.Dependencies
	}
	for i, calc := range schema.CalculatedFields {
		path := fmt.Sprintf("calculatedFields[%d]", i)
		for j, dep := range calc.Dependencies {
			_, isField := keyExists(schema, dep)
			_, isCalc := calcByKey[dep]
			if !isField && !isCalc {
				errs = append(errs, SchemaError{Path: fmt.Sprintf("%s.dependencies[%d]", path, j), Message: fmt.Sprintf("unknown dependency %q", dep)})
			}
		}
	}

	// Cycle detection over calc→calc edges.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(calcByKey))
	var visit func(key string) bool
	visit = func(key string) bool {
		switch color[key] {
		case grey:
			return true
		case black:
			return false
		}
		color[key] = grey
		for _, dep := range calcByKey[key] {
			if _, isCalc := calcByKey[dep]; isCalc && visit(dep) {
				return true
			}
		}
		color[key] = black
		return false
	}
	for key := range calcByKey {
		if visit(key) {
			errs = append(errs, SchemaError{Path: "calculatedFields", Message: fmt.Sprintf("dependency cycle involving %q", key)})
			break
		}
	}
	return errs
}

func keyExists(schema Schema, key string) (Field, bool) {
	for _, f := range schema.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

func numericField(t FieldType) bool {
	switch t {
	case FieldNumber, FieldCurrency, FieldPercentage, FieldDollarThreshold, FieldRating:
		return true
	default:
		return false
	}
}
