package domain

// FieldType classifies an AcroForm field.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeCheckbox  FieldType = "checkbox"
	FieldTypeRadio     FieldType = "radio"
	FieldTypeSelect    FieldType = "select"
	FieldTypeSignature FieldType = "signature"
	FieldTypeButton    FieldType = "button"
	FieldTypeUnknown   FieldType = "unknown"
)

// FormField describes a single AcroForm field as read from a PDF template.
type FormField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Value    string    `json:"value,omitempty"`
	Options  []string  `json:"options,omitempty"`
	OnState  string    `json:"-"`
	Required bool      `json:"required"`
	ReadOnly bool      `json:"readOnly"`
	MaxLen   int       `json:"maxLen,omitempty"`
	Page     int       `json:"page,omitempty"`
}

// FillMode controls post-fill handling of the document.
type FillMode string

const (
	// FillModeFill keeps fields editable; viewers regenerate appearances.
	FillModeFill FillMode = "fill"
	// FillModeLock additionally sets the read-only flag on every filled field.
	FillModeLock FillMode = "lock"
	// FillModePrint locks fields and burns the watermark under the page content.
	FillModePrint FillMode = "print"
)

// ParseFillMode normalises the wire value, defaulting to fill.
func ParseFillMode(value string) (FillMode, bool) {
	switch FillMode(value) {
	case "":
		return FillModeFill, true
	case FillModeFill, FillModeLock, FillModePrint:
		return FillMode(value), true
	default:
		return FillModeFill, false
	}
}

// Template describes a PDF template discoverable in a Drive folder.
type Template struct {
	FileID      string `json:"fileId"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink,omitempty"`
	ModifiedAt  string `json:"modifiedAt,omitempty"`
	Size        int64  `json:"size,omitempty"`
}
