package pdfform

import "github.com/tegaki-forms/api/internal/domain"

// Field flag bits per the AcroForm dictionary spec.
const (
	flagReadOnly   = 1 << 0
	flagRequired   = 1 << 1
	flagRadio      = 1 << 15
	flagPushbutton = 1 << 16
)

// classifyField maps the /FT name plus /Ff flags to a field type. Btn splits
// into checkbox, radio group, or pushbutton on the flag bits.
func classifyField(ft string, flags int) domain.FieldType {
	switch ft {
	case "Btn":
		if flags&flagPushbutton != 0 {
			return domain.FieldTypeButton
		}
		if flags&flagRadio != 0 {
			return domain.FieldTypeRadio
		}
		return domain.FieldTypeCheckbox
	case "Tx":
		return domain.FieldTypeText
	case "Ch":
		return domain.FieldTypeSelect
	case "Sig":
		return domain.FieldTypeSignature
	default:
		return domain.FieldTypeUnknown
	}
}

// pickOnState returns the first appearance state that is not Off.
func pickOnState(states []string) string {
	for _, state := range states {
		if state != "" && state != "Off" {
			return state
		}
	}
	return ""
}
