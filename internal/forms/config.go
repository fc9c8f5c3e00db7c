package forms

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Per-type config variants. Each variant carries only the knobs that make
// sense for its field type; DecodeConfig rejects anything else.

type TextConfig struct {
	Placeholder string `json:"placeholder,omitempty"`
	Multiline   bool   `json:"multiline,omitempty"`
	Mask        string `json:"mask,omitempty"`
}

type NumberConfig struct {
	Step      *float64 `json:"step,omitempty"`
	Precision *int     `json:"precision,omitempty"`
	Unit      string   `json:"unit,omitempty"`
}

type CurrencyConfig struct {
	CurrencyCode string   `json:"currencyCode,omitempty"`
	Precision    *int     `json:"precision,omitempty"`
	Step         *float64 `json:"step,omitempty"`
}

type PercentageConfig struct {
	Precision *int `json:"precision,omitempty"`
}

type DateConfig struct {
	MinDate      string `json:"minDate,omitempty"`
	MaxDate      string `json:"maxDate,omitempty"`
	DisallowPast bool   `json:"disallowPast,omitempty"`
}

type RecurringDateConfig struct {
	Frequencies []string `json:"frequencies,omitempty"` // WEEKLY, MONTHLY, QUARTERLY, ANNUALLY
	MaxEntries  *int     `json:"maxEntries,omitempty"`
}

type ChoiceOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type ChoiceConfig struct {
	Options       []ChoiceOption `json:"options"`
	AllowOther    bool           `json:"allowOther,omitempty"`
	MinSelections *int           `json:"minSelections,omitempty"`
	MaxSelections *int           `json:"maxSelections,omitempty"`
}

type FileUploadConfig struct {
	MaxFiles     *int     `json:"maxFiles,omitempty"`
	MaxSizeBytes *int64   `json:"maxSizeBytes,omitempty"`
	MimeTypes    []string `json:"mimeTypes,omitempty"`
}

type SignatureConfig struct {
	RequireTypedName bool `json:"requireTypedName,omitempty"`
}

type AttestationConfig struct {
	Statement      string `json:"statement"`
	RequireRecheck bool   `json:"requireRecheck,omitempty"`
}

type EntityLookupConfig struct {
	EntityKind  string `json:"entityKind"` // vendor, customer, employee, charity
	AllowCreate bool   `json:"allowCreate,omitempty"`
}

type RelationshipMapperConfig struct {
	RelationshipKinds []string `json:"relationshipKinds,omitempty"`
	MaxRelationships  *int     `json:"maxRelationships,omitempty"`
}

type DollarThresholdConfig struct {
	ThresholdWarning *float64 `json:"thresholdWarning,omitempty"`
	ThresholdBlock   *float64 `json:"thresholdBlock,omitempty"`
	CurrencyCode     string   `json:"currencyCode,omitempty"`
}

type RatingConfig struct {
	Scale  int      `json:"scale"`
	Labels []string `json:"labels,omitempty"`
}

// DecodeConfig decodes raw into the variant for the field type, rejecting
// unknown keys so configs cannot leak across types.
func DecodeConfig(fieldType FieldType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	target := configVariant(fieldType)
	if target == nil {
		// Types without knobs (checkbox) accept only an empty object.
		var empty struct{}
		if err := strictDecode(raw, &empty); err != nil {
			return nil, fmt.Errorf("field type %s takes no config: %w", fieldType, err)
		}
		return nil, nil
	}
	if err := strictDecode(raw, target); err != nil {
		return nil, fmt.Errorf("config for field type %s: %w", fieldType, err)
	}
	return target, nil
}

func configVariant(fieldType FieldType) any {
	switch fieldType {
	case FieldText, FieldTextarea:
		return &TextConfig{}
	case FieldNumber:
		return &NumberConfig{}
	case FieldCurrency:
		return &CurrencyConfig{}
	case FieldPercentage:
		return &PercentageConfig{}
	case FieldDate:
		return &DateConfig{}
	case FieldRecurringDate:
		return &RecurringDateConfig{}
	case FieldDropdown, FieldMultiSelect, FieldRadio:
		return &ChoiceConfig{}
	case FieldFileUpload:
		return &FileUploadConfig{}
	case FieldSignature:
		return &SignatureConfig{}
	case FieldAttestation:
		return &AttestationConfig{}
	case FieldEntityLookup:
		return &EntityLookupConfig{}
	case FieldRelationshipMapper:
		return &RelationshipMapperConfig{}
	case FieldDollarThreshold:
		return &DollarThresholdConfig{}
	case FieldRating:
		return &RatingConfig{}
	default:
		return nil
	}
}

func strictDecode(raw json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
