package forms

import (
	"fmt"
	"regexp"
	"strings"
)

// AnswerError describes one problem with a submitted answer set.
type AnswerError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (e AnswerError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateAnswers checks a portal submission against the schema. Fields
// hidden by a conditional are exempt from their required flag; a
// conditional may also promote an optional field to required. Cross-field
// rules with warning severity are returned but do not block.
func ValidateAnswers(schema Schema, answers map[string]any) []AnswerError {
	var errs []AnswerError
	add := func(field string, severity Severity, format string, args ...any) {
		errs = append(errs, AnswerError{Field: field, Severity: severity, Message: fmt.Sprintf(format, args...)})
	}

	for _, field := range schema.Fields {
		value, present := answers[field.Key]
		visible, required := effectiveState(field, answers)
		if !visible {
			continue
		}
		if !present || isEmptyValue(value) {
			if required {
				add(field.Key, SeverityError, "value is required")
			}
			continue
		}
		if field.Validation != nil {
			errs = append(errs, checkValidation(field, value)...)
		}
	}

	// Reject answers for keys the schema does not define.
	for key := range answers {
		if _, ok := keyExists(schema, key); !ok {
			add(key, SeverityError, "not a field of this form")
		}
	}

	for _, rule := range schema.ValidationRules {
		left := answers[rule.Left]
		if !evalOperator(rule.Operator, left, resolveOperand(rule.Right, answers)) {
			message := rule.Message
			if message == "" {
				message = fmt.Sprintf("rule %s %s failed", rule.Left, rule.Operator)
			}
			add(rule.Left, rule.Severity, "%s", message)
		}
	}
	return errs
}

// HasBlocking reports whether any error-severity entry is present.
func HasBlocking(errs []AnswerError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

func effectiveState(field Field, answers map[string]any) (visible, required bool) {
	visible = true
	required = field.Required
	for _, conditional := range field.Conditionals {
		matched := evalOperator(conditional.If.Operator, answers[conditional.If.Field], conditional.If.Value)
		if !matched {
			continue
		}
		if conditional.Then.Show != nil {
			visible = *conditional.Then.Show
		}
		if conditional.Then.Required != nil {
			required = *conditional.Then.Required
		}
	}
	return visible, required
}

func checkValidation(field Field, value any) []AnswerError {
	var errs []AnswerError
	v := field.Validation
	if text, ok := value.(string); ok {
		if v.MinLength != nil && len(text) < *v.MinLength {
			errs = append(errs, AnswerError{Field: field.Key, Severity: SeverityError, Message: fmt.Sprintf("must be at least %d characters", *v.MinLength)})
		}
		if v.MaxLength != nil && len(text) > *v.MaxLength {
			errs = append(errs, AnswerError{Field: field.Key, Severity: SeverityError, Message: fmt.Sprintf("must be at most %d characters", *v.MaxLength)})
		}
		if v.Pattern != "" {
			if re, err := regexp.Compile(v.Pattern); err == nil && !re.MatchString(text) {
				errs = append(errs, AnswerError{Field: field.Key, Severity: SeverityError, Message: "does not match the required pattern"})
			}
		}
	}
	if number, ok := toFloat(value); ok {
		if v.Min != nil && number < *v.Min {
			errs = append(errs, AnswerError{Field: field.Key, Severity: SeverityError, Message: fmt.Sprintf("must be >= %v", *v.Min)})
		}
		if v.Max != nil && number > *v.Max {
			errs = append(errs, AnswerError{Field: field.Key, Severity: SeverityError, Message: fmt.Sprintf("must be <= %v", *v.Max)})
		}
	}
	return errs
}

// resolveOperand lets a rule's right side name another field.
func resolveOperand(right any, answers map[string]any) any {
	if ref, ok := right.(string); ok && strings.HasPrefix(ref, "$") {
		return answers[strings.TrimPrefix(ref, "$")]
	}
	return right
}

func evalOperator(operator string, left, right any) bool {
	switch operator {
	case "equals":
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
	case "notEquals":
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	case "greaterThan":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l > r
	case "lessThan":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		return lok && rok && l < r
	case "isEmpty":
		return isEmptyValue(left)
	case "isNotEmpty":
		return !isEmptyValue(left)
	default:
		return false
	}
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

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
