// Package fieldmap matches incoming answer keys to PDF form field names and
// renders their values per field type. Matching is deterministic: exact name,
// then canonical form, then the alias table, then the numbered-question
// fallback, with input keys processed in sorted order and each field assigned
// at most once.
package fieldmap

import (
	"sort"
	"strings"

	"github.com/tegaki-forms/api/internal/domain"
)

// Skip reasons surfaced per unresolved input key.
const (
	ReasonNoMatch      = "no matching field"
	ReasonDuplicate    = "field already assigned by another key"
	ReasonBadBool      = "value is not a recognised yes/no"
	ReasonNotInOptions = "value is not among the field options"
	ReasonReadOnly     = "field is read-only"
	ReasonUnsupported  = "field type cannot be filled"
)

// Resolution binds one input key to one field and its rendered value.
type Resolution struct {
	InputKey  string           `json:"inputKey"`
	FieldName string           `json:"fieldName"`
	FieldType domain.FieldType `json:"fieldType"`
	// Value is the rendered value: the text for text fields, the export
	// value for radio/select, the widget on-state name or "Off" for
	// checkboxes.
	Value string `json:"value"`
	// Checked is meaningful for checkbox resolutions only.
	Checked bool `json:"checked,omitempty"`
}

// Skip records an input key that produced no resolution and why.
type Skip struct {
	InputKey string `json:"inputKey"`
	Reason   string `json:"reason"`
}

// Result is the full outcome of resolving one payload against one template.
type Result struct {
	Resolutions []Resolution `json:"resolutions"`
	Skipped     []Skip       `json:"skipped"`
}

// FilledCount returns the number of fields that received a value.
func (r Result) FilledCount() int {
	return len(r.Resolutions)
}

// SkippedKeys lists the unresolved input keys in order.
func (r Result) SkippedKeys() []string {
	keys := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		keys = append(keys, s.InputKey)
	}
	return keys
}

// Resolver indexes a template's fields for repeated lookups.
type Resolver struct {
	fields    []domain.FormField
	byName    map[string]int
	canonical map[string]int
	stemmed   map[string]int
	byAlias   map[int]int
	byNumber  map[string]int
}

// NewResolver builds the lookup indexes. When several fields collapse to the
// same canonical form the first in template order wins, mirroring how viewers
// pick the first field of a duplicated name.
func NewResolver(fields []domain.FormField) *Resolver {
	r := &Resolver{
		fields:    fields,
		byName:    make(map[string]int, len(fields)),
		canonical: make(map[string]int, len(fields)),
		stemmed:   make(map[string]int, len(fields)),
		byAlias:   make(map[int]int),
		byNumber:  make(map[string]int),
	}
	for i, f := range fields {
		if _, ok := r.byName[f.Name]; !ok {
			r.byName[f.Name] = i
		}
		c := Canonical(f.Name)
		s := Stem(f.Name)
		if _, ok := r.canonical[c]; !ok {
			r.canonical[c] = i
		}
		if _, ok := r.stemmed[s]; !ok {
			r.stemmed[s] = i
		}
		if group, ok := aliasGroupFor(c, s); ok {
			if _, taken := r.byAlias[group]; !taken {
				r.byAlias[group] = i
			}
		}
		if n, ok := numberedKey(c); ok {
			if _, taken := r.byNumber[n]; !taken {
				r.byNumber[n] = i
			}
		}
	}
	return r
}

// Resolve matches every input key against the template and renders the
// values. Keys are processed in sorted order so repeated calls with the same
// payload produce the same winners.
func Resolve(fields []domain.FormField, input map[string]string) Result {
	return NewResolver(fields).Resolve(input)
}

// Resolve implements the precedence chain for each key of the payload.
func (r *Resolver) Resolve(input map[string]string) Result {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := Result{}
	assigned := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		value := input[key]

		idx, ok := r.lookup(key)
		if !ok {
			if isListValue(value) {
				members := r.resolveGroup(key, value, assigned)
				if len(members) > 0 {
					result.Resolutions = append(result.Resolutions, members...)
					continue
				}
			}
			result.Skipped = append(result.Skipped, Skip{InputKey: key, Reason: ReasonNoMatch})
			continue
		}

		field := r.fields[idx]
		if _, taken := assigned[field.Name]; taken {
			result.Skipped = append(result.Skipped, Skip{InputKey: key, Reason: ReasonDuplicate})
			continue
		}

		res, skip := renderValue(key, field, value)
		if skip != nil {
			result.Skipped = append(result.Skipped, *skip)
			continue
		}
		assigned[field.Name] = struct{}{}
		result.Resolutions = append(result.Resolutions, res)
	}

	return result
}

// lookup runs the precedence chain: exact, canonical, stem, alias, numbered.
func (r *Resolver) lookup(key string) (int, bool) {
	if idx, ok := r.byName[key]; ok {
		return idx, true
	}

	c := Canonical(key)
	s := Stem(key)
	if idx, ok := r.canonical[c]; ok {
		return idx, true
	}
	if idx, ok := r.canonical[s]; ok {
		return idx, true
	}
	if idx, ok := r.stemmed[c]; ok {
		return idx, true
	}
	if idx, ok := r.stemmed[s]; ok {
		return idx, true
	}

	if group, ok := aliasGroupFor(c, s); ok {
		if idx, ok := r.byAlias[group]; ok {
			return idx, true
		}
	}

	if n, ok := numberedKey(c); ok {
		if idx, ok := r.byNumber[n]; ok {
			return idx, true
		}
	}

	return 0, false
}

// resolveGroup handles the regional multi-select pattern: a list value like
// "tokyo、osaka" against a checkbox family pref_tokyo, pref_osaka checks every
// member whose name suffix matches a listed token.
func (r *Resolver) resolveGroup(key, value string, assigned map[string]struct{}) []Resolution {
	prefix := Canonical(key)
	if prefix == "" {
		return nil
	}

	var members []Resolution
	for _, token := range SplitList(value) {
		suffix := Canonical(token)
		if suffix == "" {
			continue
		}
		for _, field := range r.fields {
			if field.Type != domain.FieldTypeCheckbox {
				continue
			}
			name := Canonical(field.Name)
			if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
				continue
			}
			if _, taken := assigned[field.Name]; taken {
				continue
			}
			assigned[field.Name] = struct{}{}
			members = append(members, Resolution{
				InputKey:  key,
				FieldName: field.Name,
				FieldType: field.Type,
				Value:     checkboxOnState(field),
				Checked:   true,
			})
			break
		}
	}
	return members
}

// renderValue turns the raw string into the representation the field type
// expects.
func renderValue(key string, field domain.FormField, value string) (Resolution, *Skip) {
	if field.ReadOnly {
		return Resolution{}, &Skip{InputKey: key, Reason: ReasonReadOnly}
	}

	res := Resolution{
		InputKey:  key,
		FieldName: field.Name,
		FieldType: field.Type,
	}

	switch field.Type {
	case domain.FieldTypeCheckbox:
		checked, ok := ParseBool(value)
		if !ok {
			return Resolution{}, &Skip{InputKey: key, Reason: ReasonBadBool}
		}
		res.Checked = checked
		if checked {
			res.Value = checkboxOnState(field)
		} else {
			res.Value = "Off"
		}

	case domain.FieldTypeRadio, domain.FieldTypeSelect:
		export, ok := matchOption(field.Options, value)
		if !ok {
			return Resolution{}, &Skip{InputKey: key, Reason: ReasonNotInOptions}
		}
		res.Value = export

	case domain.FieldTypeText, domain.FieldTypeUnknown:
		if field.MaxLen > 0 {
			value = truncateRunes(value, field.MaxLen)
		}
		res.Value = value

	default:
		return Resolution{}, &Skip{InputKey: key, Reason: ReasonUnsupported}
	}

	return res, nil
}

// checkboxOnState prefers the on-state read from the widget's appearance
// dictionary and falls back to the conventional literals.
func checkboxOnState(field domain.FormField) string {
	if field.OnState != "" {
		return field.OnState
	}
	for _, opt := range field.Options {
		if opt != "" && opt != "Off" {
			return opt
		}
	}
	return "Yes"
}

// matchOption finds the export value whose canonical form equals the input.
func matchOption(options []string, value string) (string, bool) {
	if len(options) == 0 {
		return value, value != ""
	}
	c := Canonical(value)
	for _, opt := range options {
		if opt == value || Canonical(opt) == c {
			return opt, true
		}
	}
	return "", false
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
