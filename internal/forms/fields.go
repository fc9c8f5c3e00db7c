// Package forms models the compound JSON schema of a disclosure form:
// typed fields, sections with repeaters, cross-field validation rules and
// calculated fields.
package forms

import "encoding/json"

type FieldType string

const (
	FieldText               FieldType = "TEXT"
	FieldTextarea           FieldType = "TEXTAREA"
	FieldNumber             FieldType = "NUMBER"
	FieldCurrency           FieldType = "CURRENCY"
	FieldPercentage         FieldType = "PERCENTAGE"
	FieldDate               FieldType = "DATE"
	FieldRecurringDate      FieldType = "RECURRING_DATE"
	FieldDropdown           FieldType = "DROPDOWN"
	FieldMultiSelect        FieldType = "MULTI_SELECT"
	FieldCheckbox           FieldType = "CHECKBOX"
	FieldRadio              FieldType = "RADIO"
	FieldFileUpload         FieldType = "FILE_UPLOAD"
	FieldSignature          FieldType = "SIGNATURE"
	FieldAttestation        FieldType = "ATTESTATION"
	FieldEntityLookup       FieldType = "ENTITY_LOOKUP"
	FieldRelationshipMapper FieldType = "RELATIONSHIP_MAPPER"
	FieldDollarThreshold    FieldType = "DOLLAR_THRESHOLD"
	FieldRating             FieldType = "RATING"
)

var fieldTypes = map[FieldType]struct{}{
	FieldText: {}, FieldTextarea: {}, FieldNumber: {}, FieldCurrency: {},
	FieldPercentage: {}, FieldDate: {}, FieldRecurringDate: {}, FieldDropdown: {},
	FieldMultiSelect: {}, FieldCheckbox: {}, FieldRadio: {}, FieldFileUpload: {},
	FieldSignature: {}, FieldAttestation: {}, FieldEntityLookup: {},
	FieldRelationshipMapper: {}, FieldDollarThreshold: {}, FieldRating: {},
}

func KnownFieldType(t FieldType) bool {
	_, ok := fieldTypes[t]
	return ok
}

// Field is a single input definition. Config holds the type-specific knobs
// and is decoded strictly against the variant for Type, so a TEXT field can
// never carry a dollar-threshold warning.
type Field struct {
	ID           string          `json:"id"`
	Type         FieldType       `json:"type"`
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Description  string          `json:"description,omitempty"`
	Required     bool            `json:"required"`
	Validation   *Validation     `json:"validation,omitempty"`
	Conditionals []Conditional   `json:"conditionals,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	UIConfig     json.RawMessage `json:"uiConfig,omitempty"`
}

// Validation carries per-field length/range/pattern limits.
type Validation struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// Conditional is an if/then rule keyed by another field's value.
type Conditional struct {
	If   ConditionClause `json:"if"`
	Then ConditionEffect `json:"then"`
}

type ConditionClause struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // equals, notEquals, contains, greaterThan, lessThan, isEmpty, isNotEmpty
	Value    any    `json:"value,omitempty"`
}

type ConditionEffect struct {
	Show     *bool `json:"show,omitempty"`
	Required *bool `json:"required,omitempty"`
}

// Section groups an ordered list of field IDs, optionally repeatable.
type Section struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	FieldIDs    []string     `json:"fieldIds"`
	Repeater    *Repeater    `json:"repeater,omitempty"`
	Conditional *Conditional `json:"conditional,omitempty"`
}

type AggregateFunc string

const (
	AggSum   AggregateFunc = "SUM"
	AggCount AggregateFunc = "COUNT"
	AggAvg   AggregateFunc = "AVG"
	AggMin   AggregateFunc = "MIN"
	AggMax   AggregateFunc = "MAX"
)

// Aggregate computes a rollup over one source field across repeated items.
type Aggregate struct {
	Func        AggregateFunc `json:"func"`
	SourceField string        `json:"sourceField"`
	Label       string        `json:"label,omitempty"`
}

// Repeater repeats a section's fields. Nesting depth is capped at two by
// construction: a NestedRepeater has no further nesting slot.
type Repeater struct {
	MinItems   int              `json:"minItems"`
	MaxItems   int              `json:"maxItems"`
	ItemLabel  string           `json:"itemLabel,omitempty"`
	Aggregates []Aggregate      `json:"aggregates,omitempty"`
	Nested     []NestedRepeater `json:"nestedRepeaters,omitempty"`
}

// NestedRepeater is the leaf level of repetition.
type NestedRepeater struct {
	ID         string      `json:"id"`
	FieldIDs   []string    `json:"fieldIds"`
	MinItems   int         `json:"minItems"`
	MaxItems   int         `json:"maxItems"`
	ItemLabel  string      `json:"itemLabel,omitempty"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationRule is a cross-field rule. error blocks submission; warning
// allows it with acknowledgment.
type ValidationRule struct {
	ID       string   `json:"id,omitempty"`
	Left     string   `json:"left"`
	Operator string   `json:"operator"`
	Right    any      `json:"right"`
	Message  string   `json:"message,omitempty"`
	Severity Severity `json:"severity"`
}

// CalculatedField recomputes Expression whenever a dependency changes. The
// expression is interpreted by the client-side evaluator; the server only
// checks that dependencies resolve and are acyclic.
type CalculatedField struct {
	Key          string   `json:"key"`
	Expression   string   `json:"expression"`
	Dependencies []string `json:"dependencies,omitempty"`
	Format       string   `json:"format,omitempty"`
}

// Schema is the full content of one template version.
type Schema struct {
	Fields           []Field           `json:"fields"`
	Sections         []Section         `json:"sections"`
	ValidationRules  []ValidationRule  `json:"validationRules,omitempty"`
	CalculatedFields []CalculatedField `json:"calculatedFields,omitempty"`
	UISchema         json.RawMessage   `json:"uiSchema,omitempty"`
}

// FieldByKey returns the field with the given storage key, if any.
func (s *Schema) FieldByKey(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}
