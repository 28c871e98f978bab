// Package pdfform reads and fills AcroForm fields through pdfcpu's low-level
// context API. Appearance regeneration is delegated to the viewer via
// NeedAppearances rather than rebuilt here.
package pdfform

import (
	"fmt"
	"io"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/tegaki-forms/api/internal/domain"
)

// ErrNoForm indicates the PDF carries no AcroForm dictionary.
var ErrNoForm = errNoForm{}

type errNoForm struct{}

func (errNoForm) Error() string { return "pdfform: document has no form fields" }

// fieldNode is the in-memory handle for one terminal field and its widgets.
type fieldNode struct {
	name    string
	typ     domain.FieldType
	dict    types.Dict
	widgets []types.Dict
	onState string
	options []string
	flags   int
	page    int
}

// Document wraps a parsed PDF context and an index of its form fields.
type Document struct {
	ctx       *model.Context
	nodes     map[string]*fieldNode
	order     []string
	annotPage map[int]int
	pageRefs  map[int]int
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Read parses the PDF and indexes its AcroForm fields.
func Read(rs io.ReadSeeker) (*Document, error) {
	ctx, err := api.ReadContext(rs, newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfform: read context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("pdfform: ensure page count: %w", err)
	}

	doc := &Document{
		ctx:       ctx,
		nodes:     make(map[string]*fieldNode),
		annotPage: make(map[int]int),
		pageRefs:  make(map[int]int),
	}
	doc.indexPages()
	if err := doc.index(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Fields returns the field descriptors in template order.
func (d *Document) Fields() []domain.FormField {
	fields := make([]domain.FormField, 0, len(d.order))
	for _, name := range d.order {
		node := d.nodes[name]
		field := domain.FormField{
			Name:     node.name,
			Type:     node.typ,
			Options:  node.options,
			OnState:  node.onState,
			ReadOnly: node.flags&flagReadOnly != 0,
			Required: node.flags&flagRequired != 0,
		}
		field.Page = node.page
		if maxLenObj, found := node.dict.Find("MaxLen"); found {
			if maxLen, err := d.ctx.DereferenceInteger(maxLenObj); err == nil && maxLen != nil {
				field.MaxLen = int(*maxLen)
			}
		}
		if valueObj, found := node.dict.Find("V"); found {
			field.Value = d.currentValue(valueObj, node.typ)
		}
		fields = append(fields, field)
	}
	return fields
}

// WriteTo serialises the (possibly modified) document.
func (d *Document) WriteTo(w io.Writer) error {
	if err := api.WriteContext(d.ctx, w); err != nil {
		return fmt.Errorf("pdfform: write context: %w", err)
	}
	return nil
}

func (d *Document) acroForm() (types.Dict, error) {
	rootDict, err := d.ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("pdfform: catalog: %w", err)
	}
	acroFormObj, found := rootDict.Find("AcroForm")
	if !found {
		return nil, ErrNoForm
	}
	acroFormDict, err := d.ctx.DereferenceDict(acroFormObj)
	if err != nil {
		return nil, fmt.Errorf("pdfform: dereference AcroForm: %w", err)
	}
	if acroFormDict == nil {
		return nil, ErrNoForm
	}
	return acroFormDict, nil
}

// index walks the AcroForm field tree and records every terminal field.
func (d *Document) index() error {
	acroFormDict, err := d.acroForm()
	if err != nil {
		return err
	}

	fieldsObj, found := acroFormDict.Find("Fields")
	if !found {
		return ErrNoForm
	}
	fieldsArray, err := d.ctx.DereferenceArray(fieldsObj)
	if err != nil {
		return fmt.Errorf("pdfform: dereference Fields: %w", err)
	}

	for _, fieldRef := range fieldsArray {
		if err := d.walkField(fieldRef, "", 0); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) walkField(fieldObj types.Object, parentName string, inheritedFlags int) error {
	fieldDict, err := d.ctx.DereferenceDict(fieldObj)
	if err != nil || fieldDict == nil {
		return nil
	}

	name := parentName
	if nameObj, found := fieldDict.Find("T"); found {
		if t, err := d.ctx.DereferenceStringOrHexLiteral(nameObj, model.V10, nil); err == nil && t != "" {
			if name != "" {
				name = name + "." + t
			} else {
				name = t
			}
		}
	}

	flags := inheritedFlags
	if flagsObj, found := fieldDict.Find("Ff"); found {
		if v, err := d.ctx.DereferenceInteger(flagsObj); err == nil && v != nil {
			flags = int(*v)
		}
	}

	// Kids with their own T are child fields; kids without T are widgets of
	// this field.
	if kidsObj, found := fieldDict.Find("Kids"); found {
		if kidsArray, err := d.ctx.DereferenceArray(kidsObj); err == nil && len(kidsArray) > 0 {
			if d.kidsAreFields(kidsArray) {
				for _, kid := range kidsArray {
					if err := d.walkField(kid, name, flags); err != nil {
						return err
					}
				}
				return nil
			}
		}
	}

	if name == "" {
		return nil
	}
	d.addNode(name, fieldObj, fieldDict, flags)
	return nil
}

// indexPages walks the page tree and records, per annotation indirect ref and
// per page indirect ref, the 1-based page number it belongs to.
func (d *Document) indexPages() {
	rootDict, err := d.ctx.Catalog()
	if err != nil {
		return
	}
	pagesObj, found := rootDict.Find("Pages")
	if !found {
		return
	}
	pageNr := 0
	d.walkPages(pagesObj, &pageNr)
}

func (d *Document) walkPages(obj types.Object, pageNr *int) {
	dict, err := d.ctx.DereferenceDict(obj)
	if err != nil || dict == nil {
		return
	}

	if typ := dict.Type(); typ != nil && *typ == "Pages" {
		kidsObj, found := dict.Find("Kids")
		if !found {
			return
		}
		kids, err := d.ctx.DereferenceArray(kidsObj)
		if err != nil {
			return
		}
		for _, kid := range kids {
			d.walkPages(kid, pageNr)
		}
		return
	}

	*pageNr++
	if ref, ok := obj.(types.IndirectRef); ok {
		d.pageRefs[ref.ObjectNumber.Value()] = *pageNr
	}
	annotsObj, found := dict.Find("Annots")
	if !found {
		return
	}
	annots, err := d.ctx.DereferenceArray(annotsObj)
	if err != nil {
		return
	}
	for _, annot := range annots {
		if ref, ok := annot.(types.IndirectRef); ok {
			d.annotPage[ref.ObjectNumber.Value()] = *pageNr
		}
	}
}

// resolvePage finds the page carrying the field's widget annotation, first via
// the page /Annots index, then via the widget's /P entry. Zero means the page
// could not be determined; the descriptor omits it rather than guessing.
func (d *Document) resolvePage(fieldObj types.Object, fieldDict types.Dict) int {
	if _, found := fieldDict.Find("Rect"); found {
		if ref, ok := fieldObj.(types.IndirectRef); ok {
			if page, ok := d.annotPage[ref.ObjectNumber.Value()]; ok {
				return page
			}
		}
		return d.pageFromP(fieldDict)
	}

	kidsObj, found := fieldDict.Find("Kids")
	if !found {
		return 0
	}
	kids, err := d.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return 0
	}
	for _, kid := range kids {
		if ref, ok := kid.(types.IndirectRef); ok {
			if page, ok := d.annotPage[ref.ObjectNumber.Value()]; ok {
				return page
			}
		}
		if kidDict, err := d.ctx.DereferenceDict(kid); err == nil && kidDict != nil {
			if page := d.pageFromP(kidDict); page != 0 {
				return page
			}
		}
	}
	return 0
}

func (d *Document) pageFromP(widget types.Dict) int {
	pObj, found := widget.Find("P")
	if !found {
		return 0
	}
	if ref, ok := pObj.(types.IndirectRef); ok {
		return d.pageRefs[ref.ObjectNumber.Value()]
	}
	return 0
}

func (d *Document) kidsAreFields(kids types.Array) bool {
	for _, kid := range kids {
		kidDict, err := d.ctx.DereferenceDict(kid)
		if err != nil || kidDict == nil {
			continue
		}
		if _, found := kidDict.Find("T"); found {
			return true
		}
	}
	return false
}

func (d *Document) addNode(name string, fieldObj types.Object, fieldDict types.Dict, flags int) {
	if _, exists := d.nodes[name]; exists {
		return
	}

	node := &fieldNode{
		name:  name,
		dict:  fieldDict,
		flags: flags,
	}
	node.typ = classifyField(d.fieldType(fieldDict), flags)
	node.widgets = d.widgetDicts(fieldDict)
	node.page = d.resolvePage(fieldObj, fieldDict)

	switch node.typ {
	case domain.FieldTypeCheckbox:
		node.onState = d.checkboxOnState(node)
	case domain.FieldTypeRadio:
		node.options = d.radioExportValues(node)
	case domain.FieldTypeSelect:
		node.options = d.choiceOptions(fieldDict)
	}

	d.nodes[name] = node
	d.order = append(d.order, name)
}

// fieldType resolves FT, walking Parent for inherited entries.
func (d *Document) fieldType(fieldDict types.Dict) string {
	ftObj, found := fieldDict.Find("FT")
	if !found {
		if parentObj, found := fieldDict.Find("Parent"); found {
			if parentDict, err := d.ctx.DereferenceDict(parentObj); err == nil && parentDict != nil {
				return d.fieldType(parentDict)
			}
		}
		return ""
	}
	ftName, err := d.ctx.DereferenceName(ftObj, model.V10, nil)
	if err != nil {
		return ""
	}
	return string(ftName)
}

// widgetDicts returns the widget annotations carrying this field's
// appearance: the merged field dict itself when it has a Rect, otherwise the
// Kids entries.
func (d *Document) widgetDicts(fieldDict types.Dict) []types.Dict {
	if _, found := fieldDict.Find("Rect"); found {
		return []types.Dict{fieldDict}
	}
	kidsObj, found := fieldDict.Find("Kids")
	if !found {
		return nil
	}
	kidsArray, err := d.ctx.DereferenceArray(kidsObj)
	if err != nil {
		return nil
	}
	widgets := make([]types.Dict, 0, len(kidsArray))
	for _, kid := range kidsArray {
		if kidDict, err := d.ctx.DereferenceDict(kid); err == nil && kidDict != nil {
			widgets = append(widgets, kidDict)
		}
	}
	return widgets
}

// checkboxOnState reads the non-Off key of the widget's /AP /N dictionary.
func (d *Document) checkboxOnState(node *fieldNode) string {
	for _, widget := range node.widgets {
		if state := pickOnState(d.appearanceStates(widget)); state != "" {
			return state
		}
	}
	return ""
}

// radioExportValues collects the distinct on-states across the group's kids.
func (d *Document) radioExportValues(node *fieldNode) []string {
	seen := make(map[string]struct{})
	var exports []string
	for _, widget := range node.widgets {
		for _, state := range d.appearanceStates(widget) {
			if state == "Off" {
				continue
			}
			if _, dup := seen[state]; dup {
				continue
			}
			seen[state] = struct{}{}
			exports = append(exports, state)
		}
	}
	return exports
}

// appearanceStates lists the state names of a widget's normal appearance.
func (d *Document) appearanceStates(widget types.Dict) []string {
	apObj, found := widget.Find("AP")
	if !found {
		return nil
	}
	apDict, err := d.ctx.DereferenceDict(apObj)
	if err != nil || apDict == nil {
		return nil
	}
	nObj, found := apDict.Find("N")
	if !found {
		return nil
	}
	nDict, err := d.ctx.DereferenceDict(nObj)
	if err != nil || nDict == nil {
		return nil
	}
	states := make([]string, 0, len(nDict))
	for key := range nDict {
		states = append(states, key)
	}
	sort.Strings(states)
	return states
}

// choiceOptions reads /Opt entries, taking the export value of
// [export, display] pairs.
func (d *Document) choiceOptions(fieldDict types.Dict) []string {
	optObj, found := fieldDict.Find("Opt")
	if !found {
		return nil
	}
	optArray, err := d.ctx.DereferenceArray(optObj)
	if err != nil {
		return nil
	}

	options := make([]string, 0, len(optArray))
	for _, opt := range optArray {
		if str, err := d.ctx.DereferenceStringOrHexLiteral(opt, model.V10, nil); err == nil {
			options = append(options, str)
			continue
		}
		if arr, err := d.ctx.DereferenceArray(opt); err == nil && len(arr) >= 1 {
			if export, err := d.ctx.DereferenceStringOrHexLiteral(arr[0], model.V10, nil); err == nil {
				options = append(options, export)
			}
		}
	}
	return options
}

func (d *Document) currentValue(valueObj types.Object, typ domain.FieldType) string {
	switch typ {
	case domain.FieldTypeCheckbox, domain.FieldTypeRadio:
		if name, err := d.ctx.DereferenceName(valueObj, model.V10, nil); err == nil {
			return string(name)
		}
	default:
		if str, err := d.ctx.DereferenceStringOrHexLiteral(valueObj, model.V10, nil); err == nil {
			return str
		}
	}
	return ""
}
