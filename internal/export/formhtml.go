package export

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"attest/api/internal/forms"
)

// AnswersToHTML renders submitted answers against the form schema,
// section by section, in the order the form presents them. Fields with
// no answer are skipped.
func AnswersToHTML(schema forms.Schema, answers map[string]any) string {
	fieldByID := make(map[string]forms.Field, len(schema.Fields))
	for _, f := range schema.Fields {
		fieldByID[f.ID] = f
	}

	var b strings.Builder

	renderField := func(f forms.Field) {
		value, ok := answers[f.Key]
		if !ok || value == nil {
			return
		}
		b.WriteString(`<div class="answer">`)
		b.WriteString(`<div class="label">`)
		b.WriteString(html.EscapeString(f.Label))
		b.WriteString(`</div>`)
		b.WriteString(`<div class="value">`)
		b.WriteString(html.EscapeString(FormatValue(f, value)))
		b.WriteString(`</div>`)
		b.WriteString(`</div>`)
	}

	rendered := make(map[string]bool)
	for _, section := range schema.Sections {
		var fields []forms.Field
		for _, id := range section.FieldIDs {
			if f, ok := fieldByID[id]; ok {
				fields = append(fields, f)
			}
		}
		if !sectionHasAnswers(fields, answers) {
			continue
		}

		b.WriteString(`<div class="section">`)
		b.WriteString(`<h2>`)
		b.WriteString(html.EscapeString(section.Title))
		b.WriteString(`</h2>`)
		for _, f := range fields {
			renderField(f)
			rendered[f.ID] = true
		}
		b.WriteString(`</div>`)
	}

	// Fields outside any section come last, in schema order.
	for _, f := range schema.Fields {
		if !rendered[f.ID] {
			renderField(f)
		}
	}

	return b.String()
}

func sectionHasAnswers(fields []forms.Field, answers map[string]any) bool {
	for _, f := range fields {
		if v, ok := answers[f.Key]; ok && v != nil {
			return true
		}
	}
	return false
}

// FormatValue renders an answer value as display text for the field type.
func FormatValue(field forms.Field, value any) string {
	switch field.Type {
	case forms.FieldCheckbox, forms.FieldAttestation:
		if b, ok := value.(bool); ok {
			if b {
				return "Yes"
			}
			return "No"
		}
	case forms.FieldCurrency, forms.FieldDollarThreshold:
		if f, ok := asFloat(value); ok {
			return "$" + strconv.FormatFloat(f, 'f', 2, 64)
		}
	case forms.FieldPercentage:
		if f, ok := asFloat(value); ok {
			return strconv.FormatFloat(f, 'f', -1, 64) + "%"
		}
	case forms.FieldMultiSelect:
		if items, ok := value.([]any); ok {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			return strings.Join(parts, ", ")
		}
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
