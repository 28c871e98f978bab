package pdfform

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/tegaki-forms/api/internal/domain"
	"github.com/tegaki-forms/api/internal/fieldmap"
)

// Apply writes the resolved values into the form. When lock is set every
// touched field additionally gets the read-only flag. The viewer is told to
// regenerate appearances via NeedAppearances. Returns the number of fields
// that received a value.
func (d *Document) Apply(resolutions []fieldmap.Resolution, lock bool) (int, error) {
	applied := 0
	for _, res := range resolutions {
		node, ok := d.nodes[res.FieldName]
		if !ok {
			continue
		}

		var err error
		switch res.FieldType {
		case domain.FieldTypeCheckbox:
			err = d.applyCheckbox(node, res)
		case domain.FieldTypeRadio:
			err = d.applyRadio(node, res.Value)
		case domain.FieldTypeSelect:
			err = d.applyText(node, res.Value)
		default:
			err = d.applyText(node, res.Value)
		}
		if err != nil {
			return applied, fmt.Errorf("pdfform: apply %q: %w", res.FieldName, err)
		}

		if lock {
			node.flags |= flagReadOnly
			node.dict["Ff"] = types.Integer(node.flags)
		}
		applied++
	}

	if applied > 0 {
		if err := d.setNeedAppearances(); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// applyText sets /V to an escaped UTF-16 literal so Japanese values survive,
// and drops the stale widget appearance so the viewer rebuilds it.
func (d *Document) applyText(node *fieldNode, value string) error {
	escaped, err := types.EscapedUTF16String(value)
	if err != nil {
		return fmt.Errorf("escape value: %w", err)
	}
	node.dict["V"] = types.StringLiteral(*escaped)
	for _, widget := range node.widgets {
		if node.typ == domain.FieldTypeText {
			delete(widget, "AP")
		}
	}
	return nil
}

// applyCheckbox sets /V and the widget appearance state to the on-state name
// read from the template, never an assumed literal.
func (d *Document) applyCheckbox(node *fieldNode, res fieldmap.Resolution) error {
	state := res.Value
	if !res.Checked {
		state = "Off"
	}
	name := types.Name(state)
	node.dict["V"] = name
	for _, widget := range node.widgets {
		widget["AS"] = name
	}
	return nil
}

// applyRadio sets the group /V and flips each kid widget to the export value
// its appearance dictionary actually knows, everything else to Off.
func (d *Document) applyRadio(node *fieldNode, export string) error {
	node.dict["V"] = types.Name(export)
	for _, widget := range node.widgets {
		state := "Off"
		for _, known := range d.appearanceStates(widget) {
			if known == export {
				state = export
				break
			}
		}
		widget["AS"] = types.Name(state)
	}
	return nil
}

func (d *Document) setNeedAppearances() error {
	acroFormDict, err := d.acroForm()
	if err != nil {
		return err
	}
	acroFormDict["NeedAppearances"] = types.Boolean(true)
	return nil
}
